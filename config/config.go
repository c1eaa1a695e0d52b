package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "dmchat"
	// DefaultListenAddress is the HTTP listen address when none is configured.
	DefaultListenAddress = ":8080"
	// DefaultLogLevel is the zerolog level name used when none is configured.
	DefaultLogLevel = "info"
	// DefaultLogFormat is the log output format used when none is configured.
	DefaultLogFormat = "console"
	// configFileName is the persisted configuration file.
	configFileName = "config.json"
	// envFileName is loaded from the working directory and the data dir.
	envFileName = ".env"
)

// Environment variables. They override config.json at load time and are
// never written back.
const (
	EnvDataDir       = "DMCHAT_DATA_DIR"
	EnvListenAddress = "DMCHAT_LISTEN_ADDRESS"
	EnvLogLevel      = "DMCHAT_LOG_LEVEL"
	EnvLogFormat     = "DMCHAT_LOG_FORMAT"
)

// ServerConfig contains persistent server settings.
type ServerConfig struct {
	ServerID         string   `json:"server_id"`
	ServerName       string   `json:"server_name"`
	ListenAddress    string   `json:"listen_address"`
	UploadsDir       string   `json:"uploads_dir"`
	LogLevel         string   `json:"log_level"`
	LogFormat        string   `json:"log_format"`
	AllowedOrigins   []string `json:"allowed_origins"`
	DiscoveryEnabled bool     `json:"discovery_enabled"`
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If DMCHAT_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv(EnvDataDir); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectories creates the app data directory layout if needed.
func EnsureDataDirectories(dataDir string) error {
	dirs := []string{
		dataDir,
		filepath.Join(dataDir, "uploads"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	return nil
}

// LoadEnvFiles loads .env from the working directory and from dataDir.
// Variables already set in the environment win; missing files are ignored.
func LoadEnvFiles(dataDir string) error {
	paths := []string{envFileName}
	if dataDir != "" {
		paths = append(paths, filepath.Join(dataDir, envFileName))
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %q: %w", path, err)
		}
	}
	return nil
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*ServerConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg ServerConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *ServerConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate resolves the data dir, then behaves like LoadOrCreateIn.
func LoadOrCreate() (*ServerConfig, string, error) {
	_ = LoadEnvFiles("")

	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	return LoadOrCreateIn(dataDir)
}

// LoadOrCreateIn ensures directories and config exist under dataDir, then
// returns the config with environment overrides applied and its path.
func LoadOrCreateIn(dataDir string) (*ServerConfig, string, error) {
	if err := EnsureDataDirectories(dataDir); err != nil {
		return nil, "", err
	}
	if err := LoadEnvFiles(dataDir); err != nil {
		return nil, "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultConfig(dataDir)
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}

		applyEnvOverrides(cfg)
		return cfg, cfgPath, nil
	}

	if normalizeDefaults(cfg, dataDir) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	applyEnvOverrides(cfg)
	return cfg, cfgPath, nil
}

func defaultConfig(dataDir string) *ServerConfig {
	return &ServerConfig{
		ServerID:         uuid.NewString(),
		ServerName:       defaultServerName(),
		ListenAddress:    DefaultListenAddress,
		UploadsDir:       dataDir,
		LogLevel:         DefaultLogLevel,
		LogFormat:        DefaultLogFormat,
		AllowedOrigins:   []string{"*"},
		DiscoveryEnabled: true,
	}
}

func defaultServerName() string {
	name := "DM Chat Server"
	if host, err := os.Hostname(); err == nil && host != "" {
		name = host
	}
	return name
}

func normalizeDefaults(cfg *ServerConfig, dataDir string) bool {
	updated := false

	if _, err := uuid.Parse(cfg.ServerID); err != nil {
		cfg.ServerID = uuid.NewString()
		updated = true
	}
	if strings.TrimSpace(cfg.ServerName) == "" {
		cfg.ServerName = defaultServerName()
		updated = true
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = DefaultListenAddress
		updated = true
	}
	if strings.TrimSpace(cfg.UploadsDir) == "" {
		cfg.UploadsDir = dataDir
		updated = true
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = DefaultLogLevel
		updated = true
	}
	if strings.TrimSpace(cfg.LogFormat) == "" {
		cfg.LogFormat = DefaultLogFormat
		updated = true
	}
	if cfg.AllowedOrigins == nil {
		cfg.AllowedOrigins = []string{"*"}
		updated = true
	}

	return updated
}

func applyEnvOverrides(cfg *ServerConfig) {
	if v := strings.TrimSpace(os.Getenv(EnvListenAddress)); v != "" {
		cfg.ListenAddress = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.LogFormat = v
	}
}
