package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/tinytelemetry/hpcjob/internal/socketrpc"
)

const (
	defaultBindHost            = "127.0.0.1"
	defaultAPIPort             = 3000
	defaultQueryTimeout        = 30 * time.Second
	defaultMaxConcurrentReads  = 8
	defaultInsertBatchSize     = 16
	defaultInsertFlushInterval = time.Second
	defaultInsertFlushQueue    = 16
	defaultRetentionDays       = 0 // days, 0 = disabled
	defaultSnapshotKeep        = 7
	defaultOTLPTimeout         = 10 * time.Second
	defaultHostNameExt         = ".stampede.tacc.utexas.edu"
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	AcctFile          string `mapstructure:"acct-file"`
	ArchiveDir        string `mapstructure:"archive-dir"`
	ArchiveCompressed bool   `mapstructure:"archive-compressed"`
	HostNameExt       string `mapstructure:"host-name-ext"`
	HostListDir       string `mapstructure:"host-list-dir"`
	StartTime         int64  `mapstructure:"start-time"`
	EndTime           int64  `mapstructure:"end-time"`
	Workers           int    `mapstructure:"workers"`
	Procdump          bool   `mapstructure:"procdump"`

	LogLevel  string `mapstructure:"log-level"`
	LogFile   string `mapstructure:"log-file"`
	LogFormat string `mapstructure:"log-format"`

	DBPath              string        `mapstructure:"db-path"`
	QueryTimeout        time.Duration `mapstructure:"query-timeout"`
	MaxConcurrentReads  int           `mapstructure:"max-concurrent-queries"`
	InsertBatchSize     int           `mapstructure:"insert-batch-size"`
	InsertFlushInterval time.Duration `mapstructure:"insert-flush-interval"`
	InsertFlushQueue    int           `mapstructure:"insert-flush-queue-size"`
	RetentionDays       int           `mapstructure:"retention-days"`
	SnapshotDir         string        `mapstructure:"snapshot-dir"`
	SnapshotKeep        int           `mapstructure:"snapshot-keep"`

	JournalEnabled bool   `mapstructure:"journal-enabled"`
	JournalPath    string `mapstructure:"journal-path"`

	APIEnabled bool   `mapstructure:"api-enabled"`
	APIPort    int    `mapstructure:"api-port"`
	APIAddr    string `mapstructure:"api-addr"`
	SocketPath string `mapstructure:"socket-path"`

	OTLPEnabled  bool          `mapstructure:"otlp-enabled"`
	OTLPEndpoint string        `mapstructure:"otlp-endpoint"`
	OTLPTimeout  time.Duration `mapstructure:"otlp-timeout"`

	Serve      bool   `mapstructure:"serve"`
	ConfigPath string `mapstructure:"-"` // not from config file
}

func loadConfig(configPath string) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}
	dataDir := filepath.Join(home, ".local", "share", "hpcjob")

	v := viper.New()
	v.SetEnvPrefix("HPCJOB")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("acct-file", "")
	v.SetDefault("archive-dir", "/scratch/projects/tacc_stats/archive")
	v.SetDefault("archive-compressed", true)
	v.SetDefault("host-name-ext", defaultHostNameExt)
	v.SetDefault("host-list-dir", "")
	v.SetDefault("start-time", 0)
	v.SetDefault("end-time", 0)
	v.SetDefault("workers", runtime.NumCPU())
	v.SetDefault("procdump", false)
	v.SetDefault("log-level", "info")
	v.SetDefault("log-file", "")
	v.SetDefault("log-format", "text")
	v.SetDefault("db-path", filepath.Join(dataDir, "hpcjob.duckdb"))
	v.SetDefault("query-timeout", defaultQueryTimeout)
	v.SetDefault("max-concurrent-queries", defaultMaxConcurrentReads)
	v.SetDefault("insert-batch-size", defaultInsertBatchSize)
	v.SetDefault("insert-flush-interval", defaultInsertFlushInterval)
	v.SetDefault("insert-flush-queue-size", defaultInsertFlushQueue)
	v.SetDefault("retention-days", defaultRetentionDays)
	v.SetDefault("snapshot-dir", "")
	v.SetDefault("snapshot-keep", defaultSnapshotKeep)
	v.SetDefault("journal-enabled", true)
	v.SetDefault("journal-path", filepath.Join(dataDir, "results.journal"))
	v.SetDefault("api-enabled", false)
	v.SetDefault("api-port", defaultAPIPort)
	v.SetDefault("api-addr", "")
	v.SetDefault("socket-path", socketrpc.DefaultSocketPath())
	v.SetDefault("otlp-enabled", false)
	v.SetDefault("otlp-endpoint", "localhost:4317")
	v.SetDefault("otlp-timeout", defaultOTLPTimeout)
	v.SetDefault("serve", false)

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
	cfg.ConfigPath = v.ConfigFileUsed()
	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		cfg.ConfigPath = ""
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}

	cfg.DBPath = expandHome(home, cfg.DBPath)
	cfg.JournalPath = expandHome(home, cfg.JournalPath)
	cfg.SnapshotDir = expandHome(home, cfg.SnapshotDir)
	cfg.LogFile = expandHome(home, cfg.LogFile)

	if cfg.APIAddr == "" {
		cfg.APIAddr = net.JoinHostPort(defaultBindHost, strconv.Itoa(cfg.APIPort))
	}
	return cfg, nil
}

func (cfg appConfig) validate() error {
	if cfg.APIPort <= 0 || cfg.APIPort > 65535 {
		return fmt.Errorf("invalid api-port: %d", cfg.APIPort)
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("invalid workers: %d", cfg.Workers)
	}
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid log-level: %w", err)
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %q", cfg.LogFormat)
	}
	if cfg.EndTime != 0 && cfg.StartTime > cfg.EndTime {
		return fmt.Errorf("start-time %d is after end-time %d", cfg.StartTime, cfg.EndTime)
	}
	if cfg.AcctFile == "" && !cfg.Serve {
		return errors.New("acct-file is required unless serve is set")
	}
	if cfg.OTLPEnabled && strings.TrimSpace(cfg.OTLPEndpoint) == "" {
		return errors.New("otlp-enabled requires otlp-endpoint")
	}
	return nil
}

func expandHome(home, path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
