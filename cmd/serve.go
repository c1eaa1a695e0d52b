package cmd

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"dmchat/api"
	"dmchat/attachments"
	"dmchat/chat"
	"dmchat/discovery"
	"dmchat/metrics"
	"dmchat/presence"
)

func newServeCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.close()

			if listen != "" {
				e.cfg.ListenAddress = listen
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, e)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	return cmd
}

func serve(ctx context.Context, e *env) error {
	e.log.Info().
		Str("server_id", e.cfg.ServerID).
		Str("server_name", e.cfg.ServerName).
		Str("config", e.cfgPath).
		Str("database", e.dbPath).
		Msg("starting")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	blobs, err := attachments.NewStore(e.cfg.UploadsDir, e.store)
	if err != nil {
		return err
	}

	sessions := presence.NewSessions()
	online := presence.Union{sessions}

	if e.cfg.DiscoveryEnabled {
		svc, err := startDiscovery(e)
		if err != nil {
			e.log.Warn().Err(err).Msg("discovery startup failed")
		} else {
			defer svc.Stop()
			online = append(online, presence.NewDiscovered(svc.Clients()))
			go logDiscoveryEvents(e, svc.Clients().Events())
		}
	}

	core, err := chat.NewService(chat.Config{
		Store:       e.store,
		Presence:    online,
		Attachments: blobs,
		Logger:      e.log,
		Metrics:     metrics.New(registry),
	})
	if err != nil {
		return err
	}
	if err := core.Healthy(ctx); err != nil {
		return err
	}

	server, err := api.NewServer(api.Options{
		Chat:           core,
		Blobs:          blobs,
		Sessions:       sessions,
		Gatherer:       registry,
		AllowedOrigins: e.cfg.AllowedOrigins,
		Logger:         e.log,
	})
	if err != nil {
		return err
	}

	err = server.ListenAndServe(ctx, e.cfg.ListenAddress)
	e.log.Info().Msg("shutting down")
	return err
}

func startDiscovery(e *env) (*discovery.Service, error) {
	port, err := listenPort(e.cfg.ListenAddress)
	if err != nil {
		return nil, err
	}
	return discovery.Start(discovery.Config{
		ServerID:   e.cfg.ServerID,
		ServerName: e.cfg.ServerName,
		Port:       port,
		Logger:     e.log,
	})
}

func logDiscoveryEvents(e *env, events <-chan discovery.Event) {
	for event := range events {
		switch event.Type {
		case discovery.EventClientUpserted:
			e.log.Info().
				Str("user_id", event.Client.UserID).
				Str("name", event.Client.Name).
				Strs("addresses", event.Client.Addresses).
				Msg("discovery: client available")
		case discovery.EventClientRemoved:
			e.log.Info().Str("user_id", event.Client.UserID).Msg("discovery: client removed")
		default:
			e.log.Debug().Str("event", string(event.Type)).Str("user_id", event.Client.UserID).Msg("discovery event")
		}
	}
}

func listenPort(addr string) (int, error) {
	_, rawPort, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("parse listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(rawPort)
	if err != nil || port <= 0 {
		return 0, fmt.Errorf("listen address %q has no fixed port", addr)
	}
	return port, nil
}

func dirOf(cfgPath string) string {
	return filepath.Dir(cfgPath)
}
