package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tinytelemetry/hpcjob/internal/socketrpc"
)

const (
	defaultRefreshInterval = 5 * time.Second
	// minRefreshInterval bounds a non-zero refresh-interval.
	minRefreshInterval = time.Second
)

// cliConfig holds only viewer-relevant configuration. A zero
// RefreshInterval turns auto refresh off.
type cliConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh-interval"`
	SocketPath      string        `mapstructure:"socket-path"`
}

func (cfg cliConfig) validate() error {
	if cfg.RefreshInterval < 0 {
		return fmt.Errorf("refresh-interval must not be negative, got %s", cfg.RefreshInterval)
	}
	if cfg.RefreshInterval > 0 && cfg.RefreshInterval < minRefreshInterval {
		return fmt.Errorf("refresh-interval must be 0 or at least %s, got %s", minRefreshInterval, cfg.RefreshInterval)
	}
	if cfg.SocketPath == "" {
		return errors.New("socket-path must not be empty")
	}
	return nil
}

func loadCLIConfig(configPath string) (cliConfig, error) {
	var cfg cliConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("HPCJOB")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("refresh-interval", defaultRefreshInterval)
	v.SetDefault("socket-path", socketrpc.DefaultSocketPath())

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "hpcjob", "config.yml"))
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	if strings.HasPrefix(cfg.SocketPath, "~/") {
		cfg.SocketPath = filepath.Join(home, cfg.SocketPath[2:])
	}
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
