package hostlog

import (
	"bufio"
	"fmt"
	"io"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/tinytelemetry/hpcjob/internal/logsource"
	"github.com/tinytelemetry/hpcjob/internal/procdump"
	"github.com/tinytelemetry/hpcjob/internal/schema"
)

const (
	scannerInitBufSize  = 64 * 1024
	scannerMaxTokenSize = 16 * 1024 * 1024
)

// Window identifies the job a host parser collects samples for.
type Window struct {
	ID    string
	Start int64
	End   int64
}

// Sample is one raw reading of a device.
type Sample struct {
	Time   float64
	Values []uint64
}

// ErrorSink receives job level error messages.
type ErrorSink func(msg string)

// Options configures a Host.
type Options struct {
	// Registry is shared by all hosts of the job.
	Registry *schema.Registry
	Errors   ErrorSink
	Logger   logrus.FieldLogger
	// Inventory receives procdump markers. Nil disables process collection.
	Inventory *procdump.Inventory
}

// Host extracts the samples of one job from one host's raw stats files.
type Host struct {
	Name string

	job       Window
	reg       *schema.Registry
	sink      ErrorSink
	log       logrus.FieldLogger
	inventory *procdump.Inventory

	state     State
	timestamp float64
	times     []float64
	rotates   []float64
	raw       map[string]map[string][]Sample
	marks     map[string]bool
	version   string
	hostname  string

	fileSchemas map[string]*schema.Schema
	mismatch    map[string]bool
	unknown     map[string]bool
	badCount    map[string]int
	badValues   map[string]int
	badTimes    int
	file        string
	line        int
}

// New creates a parser for host name collecting samples for job.
func New(name string, job Window, opts Options) *Host {
	logger := opts.Logger
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	reg := opts.Registry
	if reg == nil {
		reg = schema.NewRegistry(nil)
	}
	return &Host{
		Name:      name,
		job:       job,
		reg:       reg,
		sink:      opts.Errors,
		log:       logger.WithField("host", name),
		inventory: opts.Inventory,
		state:     PendingFirstRecord,
		raw:       make(map[string]map[string][]Sample),
		marks:     make(map[string]bool),
		version:   "Unknown",
		mismatch:  make(map[string]bool),
		unknown:   make(map[string]bool),
		badCount:  make(map[string]int),
		badValues: make(map[string]int),
	}
}

func (h *Host) errorf(format string, args ...any) {
	msg := h.Name + ": " + fmt.Sprintf(format, args...)
	h.log.Warn(msg)
	if h.sink != nil {
		h.sink(msg)
	}
}

func (h *Host) setState(next State, reason string) {
	h.log.Debugf("hostlog: TRANS %s -> %s (%s)", h.state, next, reason)
	h.state = next
}

// Gather reads every file of the host that may overlap the job window and
// reports whether any sample was accepted.
func (h *Host) Gather(src logsource.FileSource) bool {
	cands, err := src.Candidates(h.Name)
	if err != nil {
		h.log.Debugf("hostlog: candidates: %v", err)
	}
	files := logsource.Overlapping(cands, h.job.Start, h.job.End)
	if len(files) == 0 {
		h.errorf("no stats files overlapping job")
		return false
	}

	for _, c := range files {
		if h.state == Done {
			break
		}
		h.log.Debugf("hostlog: path `%s', start %d", c.Path, c.Start)
		rc, err := src.Open(c.Path)
		if err != nil {
			h.errorf("read error for file %s", c.Path)
			continue
		}
		if err := h.ReadFile(c.Path, rc); err != nil {
			h.errorf("file `%s' exception %v on line %d", c.Path, err, h.line)
		}
		_ = rc.Close()
	}
	if !h.HasData() {
		h.errorf("no data accepted for job %s", h.job.ID)
		return false
	}
	return true
}

// ReadFile parses one raw stats file. Schemas declared in the header are
// scoped to the file; a file without any usable schema is skipped.
func (h *Host) ReadFile(name string, r io.Reader) error {
	if h.state == Done {
		return nil
	}
	h.file = name
	h.line = 0
	h.fileSchemas = make(map[string]*schema.Schema)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)

	inHeader := true
	for sc.Scan() {
		h.line++
		line := trimLine(sc.Text())
		if inHeader {
			if isHeaderLine(line) {
				h.parseHeader(line)
				continue
			}
			inHeader = false
			if len(h.fileSchemas) == 0 {
				h.errorf("file `%s' bad header on line %d", h.file, h.line)
				return nil
			}
		}
		h.ParseLine(line)
		if h.state == Done {
			return nil
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if inHeader && len(h.fileSchemas) == 0 {
		h.errorf("file `%s' bad header on line %d", h.file, h.line)
	}
	return nil
}

func isHeaderLine(line string) bool {
	if line == "" {
		return false
	}
	switch line[0] {
	case charSchema, charProperty, charComment:
		return true
	}
	return false
}

func (h *Host) parseHeader(line string) {
	switch line[0] {
	case charSchema:
		h.processSchema(line)
	case charProperty:
		h.processProperty(line)
	}
}

// State returns the current parser state.
func (h *Host) State() State { return h.state }

// Times returns the accepted timestamps in arrival order.
func (h *Host) Times() []float64 { return h.times }

// RotateTimes returns the timestamps at which log rotation was marked.
func (h *Host) RotateTimes() []float64 { return h.rotates }

// Version returns the collector version announced in the file header.
func (h *Host) Version() string { return h.version }

// Hostname returns the hostname property, if the files carried one.
func (h *Host) Hostname() string { return h.hostname }

// Marked reports whether marker name was seen for the job.
func (h *Host) Marked(name string) bool { return h.marks[name] }

// Marks returns the names of the markers seen for the job, sorted.
func (h *Host) Marks() []string {
	out := make([]string, 0, len(h.marks))
	for m := range h.marks {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Mismatched reports whether typeName was disabled by a schema conflict.
func (h *Host) Mismatched(typeName string) bool { return h.mismatch[typeName] }

// HasData reports whether at least one data sample was accepted.
func (h *Host) HasData() bool {
	for _, devs := range h.raw {
		for _, samples := range devs {
			if len(samples) > 0 {
				return true
			}
		}
	}
	return false
}

// Types returns the counter types with samples, sorted.
func (h *Host) Types() []string {
	out := make([]string, 0, len(h.raw))
	for t := range h.raw {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Devices returns the devices of typeName with samples, sorted.
func (h *Host) Devices(typeName string) []string {
	devs := h.raw[typeName]
	out := make([]string, 0, len(devs))
	for d := range devs {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Samples returns the raw samples of one device.
func (h *Host) Samples(typeName, device string) []Sample {
	return h.raw[typeName][device]
}

// SuppressedCountErrors returns how many field count errors were not
// reported after the first one, per type.
func (h *Host) SuppressedCountErrors() map[string]int {
	out := make(map[string]int)
	for t, n := range h.badCount {
		if n > 1 {
			out[t] = n - 1
		}
	}
	return out
}

// Release drops the raw samples once they have been folded into the job.
func (h *Host) Release() {
	h.raw = nil
	h.fileSchemas = nil
}
