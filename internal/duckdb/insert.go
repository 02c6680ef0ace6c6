package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tinytelemetry/hpcjob/internal/model"
)

// DefaultFlushQueueSize is the number of batches that can be queued for async flushing.
const DefaultFlushQueueSize = 16

// jobTables lists every per-job table, children first.
var jobTables = []string{
	"job_series", "job_times", "job_schemas", "job_hosts",
	"job_overflows", "job_errors", "job_jitter", "job_processes", "jobs",
}

type journaledResult struct {
	seq    uint64
	result *model.JobResult
}

// DurableJournal is the write-ahead log an InsertBuffer appends to before
// queueing a result.
type DurableJournal interface {
	Append(result *model.JobResult) (uint64, error)
	Commit(seq uint64) error
	Close() error
}

// InsertBuffer batches job results and flushes them to DuckDB asynchronously.
// Add() never blocks on DuckDB writes; results are sent to a flush goroutine.
type InsertBuffer struct {
	writer        model.JobWriter
	mu            sync.Mutex
	pending       []journaledResult
	flushChan     chan []journaledResult
	maxBatch      int
	flushInterval time.Duration
	done          chan struct{}
	wg            sync.WaitGroup
	tickWg        sync.WaitGroup
	stopOnce      sync.Once
	journal       DurableJournal
	log           logrus.FieldLogger

	flushed           atomic.Int64
	backpressureCount atomic.Int64
	lastBPLog         atomic.Int64 // unix timestamp of last backpressure log
}

// InsertBufferConfig holds tunable parameters for the insert buffer.
type InsertBufferConfig struct {
	BatchSize      int
	FlushInterval  time.Duration
	FlushQueueSize int
	Journal        DurableJournal
	Logger         logrus.FieldLogger
}

// NewInsertBuffer creates a new insert buffer that flushes to writer.
func NewInsertBuffer(writer model.JobWriter, conf ...InsertBufferConfig) *InsertBuffer {
	batchSize := 16
	flushInterval := time.Second
	flushQueueSize := DefaultFlushQueueSize
	var cfg InsertBufferConfig
	if len(conf) > 0 {
		cfg = conf[0]
		if cfg.BatchSize > 0 {
			batchSize = cfg.BatchSize
		}
		if cfg.FlushInterval > 0 {
			flushInterval = cfg.FlushInterval
		}
		if cfg.FlushQueueSize > 0 {
			flushQueueSize = cfg.FlushQueueSize
		}
	}

	b := &InsertBuffer{
		writer:        writer,
		pending:       make([]journaledResult, 0, batchSize),
		flushChan:     make(chan []journaledResult, flushQueueSize),
		maxBatch:      batchSize,
		flushInterval: flushInterval,
		done:          make(chan struct{}),
		journal:       cfg.Journal,
		log:           cfg.Logger,
	}
	if b.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		b.log = l
	}

	b.wg.Add(1)
	go b.flushWorker()

	b.wg.Add(1)
	b.tickWg.Add(1)
	go b.tickLoop()

	return b
}

// tickLoop periodically drains the pending buffer.
func (b *InsertBuffer) tickLoop() {
	defer b.wg.Done()
	defer b.tickWg.Done()
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.drainPending()
		case <-b.done:
			b.drainPending()
			return
		}
	}
}

// logBackpressure emits a throttled warning (at most once per 10 seconds) when
// the flush channel is full and an inline flush is triggered.
func (b *InsertBuffer) logBackpressure() {
	count := b.backpressureCount.Add(1)
	now := time.Now().Unix()
	last := b.lastBPLog.Load()
	if now-last >= 10 && b.lastBPLog.CompareAndSwap(last, now) {
		b.log.Warnf("duckdb: backpressure, %d inline flushes (flush channel full)", count)
	}
}

// send hands a batch to the flush worker, flushing inline when the queue is full.
func (b *InsertBuffer) send(batch []journaledResult) {
	select {
	case b.flushChan <- batch:
	default:
		b.logBackpressure()
		if err := b.flushBatch(batch); err != nil {
			b.log.Errorf("duckdb: flush error (inline): %v", err)
		}
	}
}

// drainPending moves pending results to the flush channel.
func (b *InsertBuffer) drainPending() {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.pending
	b.pending = make([]journaledResult, 0, b.maxBatch)
	b.mu.Unlock()

	b.send(batch)
}

func (b *InsertBuffer) flushWorker() {
	defer b.wg.Done()
	for batch := range b.flushChan {
		if err := b.flushBatch(batch); err != nil {
			b.log.Errorf("duckdb: flush error: %v", err)
		}
	}
}

// Add journals a result and queues it for batch insertion. It never blocks
// on DuckDB IO.
func (b *InsertBuffer) Add(result *model.JobResult) {
	if result == nil {
		return
	}

	seq := uint64(0)
	if b.journal != nil {
		for {
			var err error
			seq, err = b.journal.Append(result)
			if err == nil {
				break
			}
			b.log.Warnf("duckdb: journal append failed for job %s, retrying: %v", result.ID, err)
			select {
			case <-b.done:
				return
			case <-time.After(200 * time.Millisecond):
			}
		}
	}

	b.mu.Lock()
	b.pending = append(b.pending, journaledResult{seq: seq, result: result})
	var batch []journaledResult
	if len(b.pending) >= b.maxBatch {
		batch = b.pending
		b.pending = make([]journaledResult, 0, b.maxBatch)
	}
	b.mu.Unlock()

	if batch != nil {
		b.send(batch)
	}
}

// Flushed returns the number of results written so far.
func (b *InsertBuffer) Flushed() int64 {
	return b.flushed.Load()
}

// Stop flushes remaining results and waits for all writes to complete.
// Add must not be called after Stop.
func (b *InsertBuffer) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		// tickLoop does the final drain; flushChan may only close after it.
		b.tickWg.Wait()
		close(b.flushChan)
		b.wg.Wait()
		if b.journal != nil {
			if err := b.journal.Close(); err != nil {
				b.log.Errorf("duckdb: journal close error: %v", err)
			}
		}
	})
}

func (b *InsertBuffer) flushBatch(batch []journaledResult) error {
	if len(batch) == 0 {
		return nil
	}

	results := make([]*model.JobResult, 0, len(batch))
	var maxSeq uint64
	for _, item := range batch {
		results = append(results, item.result)
		maxSeq = max(maxSeq, item.seq)
	}

	if err := b.writer.InsertJobBatch(results); err != nil {
		return err
	}
	b.flushed.Add(int64(len(results)))

	if b.journal != nil && maxSeq > 0 {
		if err := b.journal.Commit(maxSeq); err != nil {
			return fmt.Errorf("journal commit seq=%d: %w", maxSeq, err)
		}
	}
	return nil
}

// InsertJobBatch stores a batch of job results in a single transaction. A job
// already in the store is replaced. If the batch fails it is retried job by
// job so one bad result does not lose the others.
func (s *Store) InsertJobBatch(results []*model.JobResult) error {
	if len(results) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.QueryTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.insertBatchTx(ctx, results)
	if err == nil {
		return nil
	}

	var failed int
	for _, r := range results {
		if rerr := s.insertBatchTx(ctx, []*model.JobResult{r}); rerr != nil {
			failed++
			s.Logger.Errorf("duckdb: dropping job %s: %v", r.ID, rerr)
		}
	}
	if failed > 0 {
		s.Logger.Warnf("duckdb: batch partially failed, %d/%d jobs dropped", failed, len(results))
	}
	if failed == len(results) {
		return fmt.Errorf("duckdb: insert batch: %w", err)
	}
	return nil
}

// jobStmts holds the prepared statements of one insert transaction.
type jobStmts struct {
	job, times, schema, host, series, overflow, errs, jitter, procs *sql.Stmt
}

func prepareJobStmts(ctx context.Context, tx *sql.Tx) (*jobStmts, func(), error) {
	var opened []*sql.Stmt
	var firstErr error
	closeAll := func() {
		for _, st := range opened {
			st.Close()
		}
	}
	prep := func(q string) *sql.Stmt {
		if firstErr != nil {
			return nil
		}
		st, err := tx.PrepareContext(ctx, q)
		if err != nil {
			firstErr = fmt.Errorf("prepare: %w", err)
			return nil
		}
		opened = append(opened, st)
		return st
	}
	placeholders := func(n int) string {
		return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
	}

	st := &jobStmts{
		job: prep(`INSERT INTO jobs (id, user_name, account, queue, name, status, start_time, end_time, nodes, cores,
			failed, complete, host_count, sample_count, error_count, overflow_count, processed_at) VALUES (` + placeholders(17) + `)`),
		times:    prep(`INSERT INTO job_times (job_id, idx, ts) VALUES (?, ?, ?)`),
		schema:   prep(`INSERT INTO job_schemas (job_id, type_name, type_desc, idx, field_key, is_event, is_control, width, mult, unit) VALUES (` + placeholders(10) + `)`),
		host:     prep(`INSERT INTO job_hosts (job_id, host, version, marks, complete) VALUES (?, ?, ?, ?, ?)`),
		series:   prep(`INSERT INTO job_series (job_id, host, type_name, device, field_key, idx, value) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		overflow: prep(`INSERT INTO job_overflows (job_id, type_name, device, field_key, host) VALUES (?, ?, ?, ?, ?)`),
		errs:     prep(`INSERT INTO job_errors (job_id, idx, message) VALUES (?, ?, ?)`),
		jitter:   prep(`INSERT INTO job_jitter (job_id, host, type_name, device, rms) VALUES (?, ?, ?, ?, ?)`),
		procs:    prep(`INSERT INTO job_processes (job_id, idx, command) VALUES (?, ?, ?)`),
	}
	if firstErr != nil {
		closeAll()
		return nil, nil, firstErr
	}
	return st, closeAll, nil
}

// insertBatchTx replaces results in a single transaction.
func (s *Store) insertBatchTx(ctx context.Context, results []*model.JobResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	st, closeStmts, err := prepareJobStmts(ctx, tx)
	if err != nil {
		return err
	}
	defer closeStmts()

	for _, r := range results {
		if r == nil || r.ID == "" {
			return fmt.Errorf("job result without id")
		}
		if err := deleteJobTx(ctx, tx, r.ID); err != nil {
			return err
		}
		if err := insertJob(ctx, st, r); err != nil {
			return fmt.Errorf("job %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func deleteJobTx(ctx context.Context, tx *sql.Tx, id string) error {
	for _, table := range jobTables {
		col := "job_id"
		if table == "jobs" {
			col = "id"
		}
		// Table names come from jobTables, not user input.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s = ?", table, col), id); err != nil {
			return fmt.Errorf("delete %s from %s: %w", id, table, err)
		}
	}
	return nil
}

func insertJob(ctx context.Context, st *jobStmts, r *model.JobResult) error {
	a := r.Account
	var overflowCount int64
	for _, o := range r.Overflows {
		overflowCount += int64(len(o.Hosts))
	}
	processedAt := r.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now().UTC()
	}
	if _, err := st.job.ExecContext(ctx,
		r.ID, a.User, a.Account, a.Queue, a.Name, a.Status, a.StartTime, a.EndTime, a.Nodes, a.Cores,
		r.Failed, r.Complete, len(r.Hosts), len(r.Times), int64(len(r.Errors)), overflowCount, processedAt,
	); err != nil {
		return fmt.Errorf("jobs: %w", err)
	}

	for i, t := range r.Times {
		if _, err := st.times.ExecContext(ctx, r.ID, i, t); err != nil {
			return fmt.Errorf("job_times: %w", err)
		}
	}

	fieldKeys := make(map[string][]string, len(r.Schemas))
	for _, sc := range r.Schemas {
		keys := make([]string, len(sc.Fields))
		for i, f := range sc.Fields {
			keys[i] = f.Key
			if _, err := st.schema.ExecContext(ctx,
				r.ID, sc.Type, sc.Desc, i, f.Key, f.Event, f.Control, f.Width, f.Mult, f.Unit,
			); err != nil {
				return fmt.Errorf("job_schemas: %w", err)
			}
		}
		fieldKeys[sc.Type] = keys
	}

	for _, h := range r.Hosts {
		if _, err := st.host.ExecContext(ctx, r.ID, h.Name, h.Version, strings.Join(h.Marks, ","), h.Complete); err != nil {
			return fmt.Errorf("job_hosts: %w", err)
		}
		for _, ds := range h.Series {
			keys, ok := fieldKeys[ds.Type]
			if !ok {
				return fmt.Errorf("series for undeclared type %s", ds.Type)
			}
			for idx, row := range ds.Rows {
				for col, v := range row {
					if col >= len(keys) {
						break
					}
					if _, err := st.series.ExecContext(ctx, r.ID, h.Name, ds.Type, ds.Device, keys[col], idx, v); err != nil {
						return fmt.Errorf("job_series: %w", err)
					}
				}
			}
		}
	}

	for _, o := range r.Overflows {
		for _, host := range o.Hosts {
			if _, err := st.overflow.ExecContext(ctx, r.ID, o.Type, o.Device, o.Key, host); err != nil {
				return fmt.Errorf("job_overflows: %w", err)
			}
		}
	}
	for i, msg := range r.Errors {
		if _, err := st.errs.ExecContext(ctx, r.ID, i, msg); err != nil {
			return fmt.Errorf("job_errors: %w", err)
		}
	}
	for _, j := range r.Jitter {
		if _, err := st.jitter.ExecContext(ctx, r.ID, j.Host, j.Type, j.Device, j.RMS); err != nil {
			return fmt.Errorf("job_jitter: %w", err)
		}
	}
	for i, p := range r.Processes {
		if _, err := st.procs.ExecContext(ctx, r.ID, i, p); err != nil {
			return fmt.Errorf("job_processes: %w", err)
		}
	}
	return nil
}

// DeleteJob removes a job and all its series.
func (s *Store) DeleteJob(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.QueryTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := deleteJobTx(ctx, tx, id); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
