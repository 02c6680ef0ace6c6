package main

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/hpcjob/internal/job"
	"github.com/tinytelemetry/hpcjob/internal/metrics"
	"github.com/tinytelemetry/hpcjob/internal/model"
)

// jobIndex reports whether a job has already been stored.
type jobIndex interface {
	JobExists(id string) (bool, error)
}

// resultSink receives every assembled job, failed ones included.
type resultSink interface {
	Add(result *model.JobResult)
}

// resultExporter forwards assembled jobs to an external system.
type resultExporter interface {
	Export(ctx context.Context, result *model.JobResult) error
}

// batchStats counts the outcomes of one batch.
type batchStats struct {
	Processed int64
	Failed    int64
	Skipped   int64
	ExportErr int64
}

// driver assembles accounting records concurrently, one goroutine per job.
type driver struct {
	log      logrus.FieldLogger
	jobOpts  job.Options
	workers  int
	index    jobIndex
	sink     resultSink
	exporter resultExporter
	metrics  *metrics.Recorder

	processed atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
	exportErr atomic.Int64
}

// run processes recs with at most d.workers jobs in flight. Duplicate ids and
// jobs already present in the index are skipped.
func (d *driver) run(ctx context.Context, recs []model.AccountingRecord) (batchStats, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)

	seen := make(map[string]bool, len(recs))
	for _, rec := range recs {
		if gctx.Err() != nil {
			break
		}
		if seen[rec.ID] {
			d.log.Debugf("driver: duplicate accounting record for job %s", rec.ID)
			continue
		}
		seen[rec.ID] = true

		g.Go(func() error {
			d.processOne(gctx, rec)
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	d.metrics.BatchDone(time.Now())
	return batchStats{
		Processed: d.processed.Load(),
		Failed:    d.failed.Load(),
		Skipped:   d.skipped.Load(),
		ExportErr: d.exportErr.Load(),
	}, err
}

func (d *driver) processOne(ctx context.Context, rec model.AccountingRecord) {
	log := d.log.WithField("job", rec.ID)
	if ctx.Err() != nil {
		return
	}

	if d.index != nil {
		exists, err := d.index.JobExists(rec.ID)
		if err != nil {
			log.Warnf("driver: lookup of job %s failed: %v", rec.ID, err)
		} else if exists {
			log.Debugf("driver: job %s already stored", rec.ID)
			d.skipped.Add(1)
			d.metrics.SkipJob()
			return
		}
	}

	d.metrics.JobsInFlight.Inc()
	defer d.metrics.JobsInFlight.Dec()

	start := time.Now()
	opts := d.jobOpts
	opts.Logger = d.log
	j := job.New(rec, opts)
	ok := j.Process()
	res := j.Result()
	took := time.Since(start)
	d.metrics.ObserveJob(res, took)
	d.processed.Add(1)

	if !ok {
		d.failed.Add(1)
		log.Warnf("driver: job %s failed: %s", rec.ID, strings.Join(res.Errors, "; "))
	} else {
		for _, e := range res.Errors {
			log.Debugf("driver: job %s: %s", rec.ID, e)
		}
		if n := len(res.Errors); n > 0 {
			log.Warnf("driver: job %s recorded %d errors", rec.ID, n)
		}
		log.Infof("driver: job %s assembled: %d hosts, %d samples, complete=%t in %s",
			rec.ID, len(res.Hosts), len(res.Times), res.Complete, took.Round(time.Millisecond))
	}

	if d.sink != nil {
		d.sink.Add(res)
	}
	if d.exporter != nil && ok {
		if err := d.exporter.Export(ctx, res); err != nil {
			d.exportErr.Add(1)
			d.metrics.ExportFailed("otlp")
			log.Errorf("driver: export of job %s failed: %v", rec.ID, err)
		}
	}
}
