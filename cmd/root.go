// Package cmd holds the dmchat command line.
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"dmchat/config"
	"dmchat/logging"
	"dmchat/storage"
)

var dataDir string

// NewRootCmd builds the dmchat command tree.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "dmchat",
		Short:         "Direct message server with delivery receipts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.CompletionOptions.DisableDefaultCmd = true

	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (default: $"+config.EnvDataDir+" or the OS config dir)")
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newUsersCmd())
	cmd.AddCommand(newInboxCmd())
	cmd.AddCommand(newThreadCmd())
	cmd.AddCommand(newSendCmd())

	return cmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// env is what every subcommand works against.
type env struct {
	cfg     *config.ServerConfig
	cfgPath string
	dataDir string
	store   *storage.Store
	dbPath  string
	log     zerolog.Logger
}

func openEnv(logOut io.Writer) (*env, error) {
	var (
		cfg     *config.ServerConfig
		cfgPath string
		err     error
	)
	if dataDir != "" {
		cfg, cfgPath, err = config.LoadOrCreateIn(dataDir)
	} else {
		cfg, cfgPath, err = config.LoadOrCreate()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, logOut)
	if err != nil {
		return nil, err
	}

	dir := dirOf(cfgPath)
	store, dbPath, err := storage.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	return &env{
		cfg:     cfg,
		cfgPath: cfgPath,
		dataDir: dir,
		store:   store,
		dbPath:  dbPath,
		log:     logger,
	}, nil
}

func (e *env) close() {
	if err := e.store.Close(); err != nil {
		e.log.Error().Err(err).Msg("database close error")
	}
}
