package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/tinytelemetry/hpcjob/internal/acct"
	"github.com/tinytelemetry/hpcjob/internal/duckdb"
	"github.com/tinytelemetry/hpcjob/internal/httpserver"
	"github.com/tinytelemetry/hpcjob/internal/job"
	"github.com/tinytelemetry/hpcjob/internal/journal"
	"github.com/tinytelemetry/hpcjob/internal/logsource"
	"github.com/tinytelemetry/hpcjob/internal/metrics"
	"github.com/tinytelemetry/hpcjob/internal/model"
	"github.com/tinytelemetry/hpcjob/internal/otlpexport"
	"github.com/tinytelemetry/hpcjob/internal/schema"
	"github.com/tinytelemetry/hpcjob/internal/socketrpc"
)

// runServer opens the store, runs one batch over the accounting file and,
// with serve set, keeps the query surfaces up until SIGINT or SIGTERM.
func runServer(cfg appConfig) error {
	logger, cleanupLogger, err := configureRuntimeLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}
	defer cleanupLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
			return
		}
		logger.Info("shutting down gracefully (press Ctrl+C again to force)")
		cancel()

		deadline := time.NewTimer(30 * time.Second)
		defer deadline.Stop()
		select {
		case <-sigCh:
			logger.Warn("force shutdown")
		case <-deadline.C:
			logger.Warn("shutdown timed out, forcing exit")
		}
		cleanupSocket(cfg.SocketPath)
		os.Exit(1)
	}()

	return run(ctx, cfg, logger, os.Stdout)
}

// run wires every component for cfg and blocks until the batch is done, or
// until ctx is cancelled when cfg.Serve is set.
func run(ctx context.Context, cfg appConfig, logger *logrus.Logger, banner *os.File) error {
	store, err := duckdb.NewStore(cfg.DBPath, cfg.QueryTimeout)
	if err != nil {
		return fmt.Errorf("failed to initialize DuckDB: %w", err)
	}
	defer store.Close()
	store.Logger = logger
	store.SetMaxConcurrentQueries(cfg.MaxConcurrentReads)

	// Open the result journal for crash-safe replay and durable buffering.
	var resultJournal *journal.Journal
	if cfg.JournalEnabled {
		resultJournal, err = journal.Open(cfg.JournalPath)
		if err != nil {
			return fmt.Errorf("failed to open result journal: %w", err)
		}
		if err := replayUncommittedJournal(resultJournal, store, cfg.InsertBatchSize, logger); err != nil {
			_ = resultJournal.Close()
			return fmt.Errorf("failed to replay result journal: %w", err)
		}
	}

	var journalSink duckdb.DurableJournal
	if resultJournal != nil {
		journalSink = resultJournal
	}
	insertBuffer := duckdb.NewInsertBuffer(store, duckdb.InsertBufferConfig{
		BatchSize:      cfg.InsertBatchSize,
		FlushInterval:  cfg.InsertFlushInterval,
		FlushQueueSize: cfg.InsertFlushQueue,
		Journal:        journalSink,
		Logger:         logger,
	})
	defer insertBuffer.Stop()

	retentionCleaner := duckdb.NewRetentionCleaner(store, duckdb.RetentionConfig{
		RetentionDays: cfg.RetentionDays,
	})
	if retentionCleaner != nil {
		defer retentionCleaner.Stop()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.New(reg)

	if cfg.APIEnabled {
		apiServer := httpserver.NewServer(cfg.APIAddr, store, httpserver.Options{Gatherer: reg, Logger: logger})
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
		defer apiServer.Stop()
	}

	sockServer := socketrpc.NewServer(cfg.SocketPath, store, logger)
	if err := sockServer.Start(); err != nil {
		logger.Warnf("failed to start socket server: %v", err)
	} else {
		defer sockServer.Stop()
	}

	var exporter *otlpexport.Exporter
	if cfg.OTLPEnabled {
		exporter, err = otlpexport.New(otlpexport.Config{
			Endpoint: cfg.OTLPEndpoint,
			Timeout:  cfg.OTLPTimeout,
			Logger:   logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		defer exporter.Close()
	}

	if banner != nil {
		printStartupBanner(banner, cfg)
	}

	if cfg.AcctFile != "" {
		recs, err := acct.LoadFile(cfg.AcctFile)
		if err != nil {
			return err
		}
		recs = acct.InWindow(recs, cfg.StartTime, cfg.EndTime)
		logger.Infof("driver: %d jobs to consider from %s", len(recs), cfg.AcctFile)

		d := &driver{
			log:     logger,
			jobOpts: jobOptions(cfg),
			workers: cfg.Workers,
			index:   store,
			sink:    insertBuffer,
			metrics: recorder,
		}
		if exporter != nil {
			d.exporter = exporter
		}
		stats, err := d.run(ctx, recs)
		insertBuffer.Stop()
		logger.Infof("driver: batch done: %d processed, %d failed, %d skipped, %d export errors",
			stats.Processed, stats.Failed, stats.Skipped, stats.ExportErr)
		if err != nil {
			return fmt.Errorf("batch interrupted: %w", err)
		}

		if cfg.SnapshotDir != "" {
			if _, err := store.Snapshot(cfg.SnapshotDir, cfg.SnapshotKeep); err != nil {
				logger.Errorf("snapshot failed: %v", err)
			}
		}
	}

	if cfg.Serve {
		logger.Info("serving queries until interrupted")
		<-ctx.Done()
	}
	return nil
}

func jobOptions(cfg appConfig) job.Options {
	opts := job.Options{
		Source: logsource.ArchiveDir{
			Root:       cfg.ArchiveDir,
			NameExt:    cfg.HostNameExt,
			Compressed: cfg.ArchiveCompressed,
		},
		Cache:    schema.NewCache(),
		Procdump: cfg.Procdump,
	}
	if cfg.HostListDir != "" {
		opts.HostLists = acct.HostListDir{Root: cfg.HostListDir}
	}
	return opts
}

func cleanupSocket(path string) {
	if path != "" {
		os.Remove(path)
	}
}

func replayUncommittedJournal(j *journal.Journal, store *duckdb.Store, batchSize int, logger logrus.FieldLogger) error {
	if j == nil {
		return nil
	}
	if batchSize <= 0 {
		batchSize = defaultInsertBatchSize
	}

	batch := make([]*model.JobResult, 0, batchSize)
	batchMaxSeq := uint64(0)
	replayed := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := store.InsertJobBatch(batch); err != nil {
			return err
		}
		if batchMaxSeq > 0 {
			if err := j.Commit(batchMaxSeq); err != nil {
				return err
			}
		}
		replayed += len(batch)
		batch = make([]*model.JobResult, 0, batchSize)
		batchMaxSeq = 0
		return nil
	}

	if err := j.Replay(func(seq uint64, result *model.JobResult) error {
		copied := *result
		batch = append(batch, &copied)
		if seq > batchMaxSeq {
			batchMaxSeq = seq
		}
		if len(batch) >= batchSize {
			return flush()
		}
		return nil
	}); err != nil {
		return err
	}

	if err := flush(); err != nil {
		return err
	}
	if replayed > 0 {
		logger.Infof("result journal: replayed %d uncommitted jobs", replayed)
	}
	return nil
}

func printStartupBanner(out *os.File, cfg appConfig) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")
	row := func(on bool, label, value string) string {
		if !on {
			return fmt.Sprintf("    %s  %-14s %s", dot, label, dim.Render("disabled"))
		}
		return fmt.Sprintf("    %s  %-14s %s", check, label, cyan.Render(value))
	}

	separator := dim.Render("    ─────────────────────────────────")
	lines := []string{
		"",
		cyan.Bold(true).Render("    hpcjob") + " " + dim.Render("v"+version),
		"",
		separator,
		"",
		bold.Render("    Input"),
		"",
		row(cfg.AcctFile != "", "Accounting", shortenPath(cfg.AcctFile)),
		row(true, "Archive", shortenPath(cfg.ArchiveDir)),
		row(cfg.HostListDir != "", "Host lists", shortenPath(cfg.HostListDir)),
		row(true, "Workers", fmt.Sprint(cfg.Workers)),
		"",
		bold.Render("    Output"),
		"",
		row(true, "Storage", shortenPath(cfg.DBPath)),
		row(cfg.JournalEnabled, "Journal", shortenPath(cfg.JournalPath)),
		row(cfg.SnapshotDir != "", "Snapshots", shortenPath(cfg.SnapshotDir)),
		row(cfg.OTLPEnabled, "OTLP", cfg.OTLPEndpoint),
		"",
		bold.Render("    Query"),
		"",
		row(cfg.APIEnabled, "HTTP API", cfg.APIAddr),
		row(true, "Unix Socket", shortenPath(cfg.SocketPath)),
		"",
		separator,
		"",
	}
	fmt.Fprintln(out, strings.Join(lines, "\n"))
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
