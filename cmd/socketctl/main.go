package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kleeedolinux/socketlink/debug"
	"github.com/kleeedolinux/socketlink/socket"
)

// Config is the CLI configuration stored in ~/.socketlink/config.toml.
// Values left empty fall back to the SOCKET_* environment.
type Config struct {
	Client ConfigClient `toml:"client"`
	Server ConfigServer `toml:"server"`
	Log    ConfigLog    `toml:"log"`
}

type ConfigClient struct {
	URL                  string `toml:"url"`
	UserID               string `toml:"user_id"`
	UserName             string `toml:"user_name"`
	Room                 string `toml:"room"`
	Timeout              string `toml:"timeout"`
	ReconnectionAttempts int    `toml:"reconnection_attempts"`
}

type ConfigServer struct {
	Addr           string `toml:"addr"`
	MaxConnections int    `toml:"max_connections"`
}

type ConfigLog struct {
	Level      string `toml:"level"`
	Production bool   `toml:"production"`
}

func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".socketlink")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads the config file. A missing file yields a zero Config.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a field using dot notation (e.g. "client.url").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. client.url)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "client":
		switch field {
		case "url":
			cfg.Client.URL = value
		case "user_id":
			cfg.Client.UserID = value
		case "user_name":
			cfg.Client.UserName = value
		case "room":
			cfg.Client.Room = value
		case "timeout":
			if _, err := time.ParseDuration(value); err != nil {
				return fmt.Errorf("invalid duration %q: %w", value, err)
			}
			cfg.Client.Timeout = value
		case "reconnection_attempts":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid number %q: %w", value, err)
			}
			cfg.Client.ReconnectionAttempts = n
		default:
			return fmt.Errorf("unknown field %q in section [client]", field)
		}
	case "server":
		switch field {
		case "addr":
			cfg.Server.Addr = value
		case "max_connections":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid number %q: %w", value, err)
			}
			cfg.Server.MaxConnections = n
		default:
			return fmt.Errorf("unknown field %q in section [server]", field)
		}
	case "log":
		switch field {
		case "level":
			cfg.Log.Level = value
		case "production":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("invalid bool %q: %w", value, err)
			}
			cfg.Log.Production = b
		default:
			return fmt.Errorf("unknown field %q in section [log]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: client, server, log)", section)
	}
	return nil
}

// clientConfig layers the config file over the SOCKET_* environment.
func clientConfig(cfg *Config) (*socket.Config, error) {
	sc, err := socket.LoadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Client.URL != "" {
		sc.URL = cfg.Client.URL
	}
	if cfg.Client.Timeout != "" {
		d, err := time.ParseDuration(cfg.Client.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid client.timeout: %w", err)
		}
		sc.Options.Timeout = d
	}
	if cfg.Client.ReconnectionAttempts > 0 {
		sc.Options.ReconnectionAttempts = cfg.Client.ReconnectionAttempts
	}
	return sc, nil
}

func newService(sc *socket.Config) *socket.Service {
	return socket.NewService(sc.URL,
		socket.WithOptions(sc.Options.Partial()),
		socket.WithLogger(logger),
	)
}

var (
	cfgFile  string
	logLevel string
	logger   *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "socketctl",
	Short: "socketlink relay and client",
	Long:  "Run a socketlink relay server, chat through one, or inspect connection status.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		level := logLevel
		if level == "" {
			level = cfg.Log.Level
		}
		if level == "" {
			level = "info"
		}
		if level == "debug" {
			debug.Enable()
		}

		logger, err = debug.New(level, cfg.Log.Production)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.socketlink/config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
