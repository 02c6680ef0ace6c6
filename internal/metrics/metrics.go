// Package metrics holds the prometheus collectors of the batch driver.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tinytelemetry/hpcjob/internal/model"
)

// Job outcomes used as the "outcome" label.
const (
	OutcomeComplete   = "complete"
	OutcomeIncomplete = "incomplete"
	OutcomeFailed     = "failed"
	OutcomeSkipped    = "skipped"
)

// Recorder groups the collectors. All collectors are registered on the
// registerer passed to New.
type Recorder struct {
	JobsTotal       *prometheus.CounterVec
	JobDuration     prometheus.Histogram
	HostsTotal      prometheus.Counter
	SamplesTotal    prometheus.Counter
	JobErrorsTotal  prometheus.Counter
	OverflowsTotal  *prometheus.CounterVec
	HostJitter      prometheus.Histogram
	JobsInFlight    prometheus.Gauge
	ExportFailures  *prometheus.CounterVec
	LastBatchUnixTS prometheus.Gauge
}

// New creates a Recorder registered on reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		JobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hpcjob_jobs_processed_total",
			Help: "Jobs handled by the batch driver, by outcome.",
		}, []string{"outcome"}),
		JobDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "hpcjob_job_assembly_duration_seconds",
			Help:    "Wall-clock time spent assembling one job.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		HostsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "hpcjob_hosts_gathered_total",
			Help: "Hosts whose raw stats contributed to an assembled job.",
		}),
		SamplesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "hpcjob_job_time_points_total",
			Help: "Canonical time points of assembled jobs.",
		}),
		JobErrorsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "hpcjob_job_errors_total",
			Help: "Errors recorded on assembled jobs.",
		}),
		OverflowsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hpcjob_counter_overflows_total",
			Help: "Unexpected counter rollovers, per type, counted once per host.",
		}, []string{"type"}),
		HostJitter: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "hpcjob_host_jitter_seconds",
			Help:    "RMS distance between a host's samples and the job time base.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		}),
		JobsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "hpcjob_jobs_in_flight",
			Help: "Jobs currently being assembled.",
		}),
		ExportFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hpcjob_export_failures_total",
			Help: "Failed deliveries of job results, by sink.",
		}, []string{"sink"}),
		LastBatchUnixTS: f.NewGauge(prometheus.GaugeOpts{
			Name: "hpcjob_last_batch_timestamp_seconds",
			Help: "Unix time the last batch finished.",
		}),
	}
}

// Outcome classifies a job result.
func Outcome(r *model.JobResult) string {
	switch {
	case r.Failed:
		return OutcomeFailed
	case r.Complete:
		return OutcomeComplete
	default:
		return OutcomeIncomplete
	}
}

// ObserveJob records one assembled job.
func (m *Recorder) ObserveJob(r *model.JobResult, took time.Duration) {
	m.JobsTotal.WithLabelValues(Outcome(r)).Inc()
	m.JobDuration.Observe(took.Seconds())
	m.JobErrorsTotal.Add(float64(len(r.Errors)))
	if r.Failed {
		return
	}
	m.HostsTotal.Add(float64(len(r.Hosts)))
	m.SamplesTotal.Add(float64(len(r.Times)))
	for _, o := range r.Overflows {
		m.OverflowsTotal.WithLabelValues(o.Type).Add(float64(len(o.Hosts)))
	}
	for _, j := range r.Jitter {
		m.HostJitter.Observe(j.RMS)
	}
}

// SkipJob records a job left out of the batch.
func (m *Recorder) SkipJob() {
	m.JobsTotal.WithLabelValues(OutcomeSkipped).Inc()
}

// ExportFailed records a failed delivery to sink.
func (m *Recorder) ExportFailed(sink string) {
	m.ExportFailures.WithLabelValues(sink).Inc()
}

// BatchDone stamps the end of a batch.
func (m *Recorder) BatchDone(at time.Time) {
	m.LastBatchUnixTS.Set(float64(at.Unix()))
}
