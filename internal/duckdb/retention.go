package duckdb

import (
	"sync"
	"time"
)

// RetentionConfig holds configuration for the retention cleaner.
type RetentionConfig struct {
	// RetentionDays is measured against a job's end time.
	RetentionDays int
	// Interval between sweeps; defaults to one hour.
	Interval time.Duration
}

// RetentionCleaner periodically removes jobs that ended longer ago than the
// retention period.
type RetentionCleaner struct {
	store         *Store
	retentionDays int
	interval      time.Duration
	now           func() time.Time
	done          chan struct{}
	wg            sync.WaitGroup
	stopOnce      sync.Once
}

// NewRetentionCleaner starts a cleaner. It returns nil when retention is
// disabled (RetentionDays <= 0).
func NewRetentionCleaner(store *Store, conf RetentionConfig) *RetentionCleaner {
	if conf.RetentionDays <= 0 {
		return nil
	}
	interval := conf.Interval
	if interval <= 0 {
		interval = time.Hour
	}

	rc := &RetentionCleaner{
		store:         store,
		retentionDays: conf.RetentionDays,
		interval:      interval,
		now:           time.Now,
		done:          make(chan struct{}),
	}

	// Catch up after downtime.
	rc.cleanup()

	rc.wg.Add(1)
	go rc.tickLoop()
	return rc
}

func (rc *RetentionCleaner) tickLoop() {
	defer rc.wg.Done()
	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rc.cleanup()
		case <-rc.done:
			return
		}
	}
}

func (rc *RetentionCleaner) cutoff() int64 {
	return rc.now().Add(-time.Duration(rc.retentionDays) * 24 * time.Hour).Unix()
}

func (rc *RetentionCleaner) cleanup() int64 {
	n, err := rc.store.DeleteJobsEndedBefore(rc.cutoff())
	if err != nil {
		rc.store.Logger.Errorf("duckdb: retention cleanup error: %v", err)
		return 0
	}
	if n > 0 {
		rc.store.Logger.Infof("duckdb: retention cleanup removed %d jobs (ended more than %d days ago)", n, rc.retentionDays)
	}
	return n
}

// Stop signals the cleaner to stop and waits for it to finish.
func (rc *RetentionCleaner) Stop() {
	rc.stopOnce.Do(func() {
		close(rc.done)
		rc.wg.Wait()
	})
}
