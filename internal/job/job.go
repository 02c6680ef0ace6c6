// Package job assembles the per-host raw samples of one batch job into
// time-aligned, rollover-corrected counter matrices.
package job

import (
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/tinytelemetry/hpcjob/internal/hostlog"
	"github.com/tinytelemetry/hpcjob/internal/logsource"
	"github.com/tinytelemetry/hpcjob/internal/model"
	"github.com/tinytelemetry/hpcjob/internal/procdump"
	"github.com/tinytelemetry/hpcjob/internal/schema"
)

// ErrUnknownType is returned by accessors for a counter type the job never saw.
var ErrUnknownType = errors.New("job: unknown counter type")

// jitterLimit is the RMS jitter, in seconds, above which a host/type pair is
// reported.
const jitterLimit = 60

// HostListResolver looks up the hosts of a job whose accounting record does
// not carry them.
type HostListResolver interface {
	HostList(rec model.AccountingRecord) ([]string, error)
}

// Options configures a Job.
type Options struct {
	// Source lists and opens raw stats files. Required.
	Source    logsource.FileSource
	HostLists HostListResolver
	Logger    logrus.FieldLogger
	// Cache shares parsed schemas between jobs.
	Cache *schema.Cache
	// Procdump collects the process inventory from the first host.
	Procdump bool
	// ProcFilter overrides the default system process filter.
	ProcFilter  *procdump.Filter
	Corrections *CorrectionTable
}

type host struct {
	name     string
	parser   *hostlog.Host
	complete bool
	stats    map[string]map[string]*Matrix
}

// Job is one accounting record being assembled. A Job is not safe for
// concurrent use; independent jobs share nothing but the schema cache.
type Job struct {
	ID    string
	Start int64
	End   int64
	Acct  model.AccountingRecord

	opts      Options
	log       logrus.FieldLogger
	reg       *schema.Registry
	inventory *procdump.Inventory

	assigned  int
	hosts     []*host
	byName    map[string]*host
	times     []float64
	overflows *Overflows
	jitter    []model.JitterStat
	errors    []string
	seenErr   map[string]bool
	failed    bool
	processed bool
}

// New prepares a job from its accounting record.
func New(rec model.AccountingRecord, opts Options) *Job {
	logger := opts.Logger
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	if opts.Corrections == nil {
		opts.Corrections = DefaultCorrections()
	}
	j := &Job{
		ID:        rec.ID,
		Start:     rec.StartTime,
		End:       rec.EndTime,
		Acct:      rec,
		opts:      opts,
		log:       logger.WithField("job", rec.ID),
		reg:       schema.NewRegistry(opts.Cache),
		byName:    make(map[string]*host),
		overflows: newOverflows(),
		seenErr:   make(map[string]bool),
	}
	if opts.Procdump {
		j.inventory = procdump.NewInventory(opts.ProcFilter)
	}
	return j
}

// Process gathers, aligns and corrects the job's data. It returns false
// when the job failed; the reasons are in Errors.
func (j *Job) Process() bool {
	if j.processed {
		return !j.failed
	}
	j.processed = true
	if !j.gather() || !j.mungeTimes() {
		j.failed = true
		j.log.Warnf("job: %s failed: %v", j.ID, j.errors)
		return false
	}
	j.processStats()
	return true
}

// addError records msg once, keeping first-seen order.
func (j *Job) addError(msg string) {
	if j.seenErr[msg] {
		return
	}
	j.seenErr[msg] = true
	j.errors = append(j.errors, msg)
}

func (j *Job) errorf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	j.log.Warnf("job: %s: %s", j.ID, msg)
	j.addError(msg)
}

func (j *Job) mungeTimes() bool {
	lists := make([][]float64, 0, len(j.hosts))
	for _, h := range j.hosts {
		times := h.parser.Times()
		h.complete = sampledDensely(j.Start, j.End, len(times))
		lists = append(lists, times)
	}

	tb, ok := chooseTimeBase(lists)
	if !ok {
		j.errorf("no timestamps on the median host")
		return false
	}
	j.times = tb.times
	j.log.Debugf("job: nr times min %d, mid %d, max %d", tb.minLen, len(tb.times), tb.maxLen)
	j.log.Debugf("job: job start to first collect %.0f", j.times[0]-float64(j.Start))
	j.log.Debugf("job: last collect to job end %.0f", float64(j.End)-j.times[len(j.times)-1])
	if tb.minLen != tb.maxLen {
		j.addError(fmt.Sprintf("Number of records differs between hosts (min %d, max %d)", tb.minLen, tb.maxLen))
	}
	return true
}

func (j *Job) processStats() {
	for _, h := range j.hosts {
		h.stats = make(map[string]map[string]*Matrix)
		for _, typeName := range h.parser.Types() {
			s, ok := j.reg.Get(typeName)
			if !ok {
				continue
			}
			devs := make(map[string]*Matrix)
			h.stats[typeName] = devs
			for _, dev := range h.parser.Devices(typeName) {
				devs[dev] = j.processDevStats(h, typeName, s, dev)
			}
		}
		h.parser.Release()
	}
}

func (j *Job) processDevStats(h *host, typeName string, s *schema.Schema, dev string) *Matrix {
	a := align(j.times, h.parser.Samples(typeName, dev), s.Len(), h.parser.RotateTimes())

	j.jitter = append(j.jitter, model.JitterStat{Host: h.name, Type: typeName, Device: dev, RMS: a.jitter})
	if a.jitter > jitterLimit {
		j.addError(fmt.Sprintf("HRJ %s %s", h.name, typeName))
	}

	version := h.parser.Version()
	for _, f := range s.Fields() {
		if !f.Counter() {
			continue
		}
		col := column{
			width:   f.BitWidth(),
			plan:    j.opts.Corrections.Plan(typeName, f.Key, dev, version),
			rotates: a.rotates,
			times:   a.chosen,
		}
		values := a.m.Column(f.Index)
		if col.correct(values) {
			j.log.Debugf("job: host `%s', type `%s', dev `%s': counter `%s' overflow", h.name, typeName, dev, f.Key)
			j.overflows.Add(h.name, typeName, dev, f.Key)
		}
		a.m.setColumn(f.Index, values)
	}

	for _, f := range s.Fields() {
		if f.Mult == 0 {
			continue
		}
		for i := 0; i < a.m.Rows; i++ {
			a.m.Set(i, f.Index, a.m.At(i, f.Index)*f.Mult)
		}
	}
	return a.m
}

// Failed reports whether the job hit a fatal condition.
func (j *Job) Failed() bool { return j.failed }

// Complete reports whether every assigned host logged the job's end
// marker. Jobs without wall time are always complete.
func (j *Job) Complete() bool {
	if j.End-j.Start <= 0 {
		return true
	}
	ended := 0
	for _, h := range j.hosts {
		if h.parser.Marked(hostlog.MarkEnd) {
			ended++
		}
	}
	return j.assigned > 0 && ended == j.assigned
}

// Errors returns the recorded errors in first-seen order.
func (j *Job) Errors() []string { return append([]string(nil), j.errors...) }

// Overflows returns the overflow registry.
func (j *Job) Overflows() *Overflows { return j.overflows }

// Times returns the job time base.
func (j *Job) Times() []float64 { return j.times }

// Jitter returns the alignment jitter of every host/type/device.
func (j *Job) Jitter() []model.JitterStat { return j.jitter }

// Hosts returns the hosts that contributed data, in host list order.
func (j *Job) Hosts() []string {
	out := make([]string, len(j.hosts))
	for i, h := range j.hosts {
		out[i] = h.name
	}
	return out
}

// HostComplete reports whether host sampled densely enough over the job.
func (j *Job) HostComplete(name string) bool {
	h, ok := j.byName[name]
	return ok && h.complete
}

// Schema returns the schema of typeName.
func (j *Job) Schema(typeName string) (*schema.Schema, bool) { return j.reg.Get(typeName) }

// Types returns the counter types declared by the job's hosts, sorted.
func (j *Job) Types() []string { return j.reg.Types() }

// Processes returns the user commands seen on the first host.
func (j *Job) Processes() []string {
	if j.inventory == nil {
		return nil
	}
	return j.inventory.Commands("")
}
