package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// configureRuntimeLogger builds the process logger. Output goes to cfg.LogFile
// when set, stderr otherwise. The returned func closes the log file.
func configureRuntimeLogger(cfg appConfig) (*logrus.Logger, func(), error) {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	logger.SetLevel(level)

	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000000",
		})
	}

	if cfg.LogFile == "" {
		return logger, func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	logger.SetOutput(f)
	return logger, func() {
		_ = f.Close()
	}, nil
}
