package job

import (
	"strings"
)

// Strategy is a rollover correction applied to an event counter.
type Strategy int

const (
	// None leaves the drop uncorrected; it is checked for overflow.
	None Strategy = iota
	// WidthWrap treats the drop as a wraparound of a narrow counter.
	WidthWrap
	// HoldLastOnZero replaces a spurious zero reading with the previous one.
	HoldLastOnZero
	// AssumeResetAtIntervalStart treats the reading as counted from zero
	// since the previous sample.
	AssumeResetAtIntervalStart
	// HoldLastAtFinalSample ignores a drop on the last sample of the job.
	HoldLastAtFinalSample
	// InterpolateAtRotate extrapolates the delta across a log rotation.
	InterpolateAtRotate
)

var strategyNames = [...]string{
	None:                       "None",
	WidthWrap:                  "WidthWrap",
	HoldLastOnZero:             "HoldLastOnZero",
	AssumeResetAtIntervalStart: "AssumeResetAtIntervalStart",
	HoldLastAtFinalSample:      "HoldLastAtFinalSample",
	InterpolateAtRotate:        "InterpolateAtRotate",
}

func (s Strategy) String() string {
	if s < 0 || int(s) >= len(strategyNames) {
		return "Unknown"
	}
	return strategyNames[s]
}

// Rule binds a strategy to the counters it applies to. Type is an exact
// counter type, a prefix ending in "*", or "*" for every type. Empty Key,
// Devices and Version match anything.
type Rule struct {
	Type     string
	Key      string
	Devices  []string
	Version  string
	Strategy Strategy
}

func (r Rule) matches(typeName, key, dev, version string) bool {
	switch {
	case r.Type == "*":
	case strings.HasSuffix(r.Type, "*"):
		if !strings.HasPrefix(typeName, strings.TrimSuffix(r.Type, "*")) {
			return false
		}
	case r.Type != typeName:
		return false
	}
	if r.Key != "" && r.Key != key {
		return false
	}
	if r.Version != "" && r.Version != version {
		return false
	}
	if len(r.Devices) == 0 {
		return true
	}
	for _, d := range r.Devices {
		if d == dev {
			return true
		}
	}
	return false
}

// DefaultRules lists the known counter families in priority order.
var DefaultRules = []Rule{
	{Type: "*", Strategy: WidthWrap},
	{Type: "*", Strategy: HoldLastOnZero},
	// Extended IB counters and iowait are reset at unpredictable times.
	{Type: "ib_ext", Strategy: AssumeResetAtIntervalStart},
	{Type: "ib_sw", Strategy: AssumeResetAtIntervalStart},
	{Type: "cpu", Key: "iowait", Strategy: AssumeResetAtIntervalStart},
	// Accelerator cards reset their network counters when the job ends.
	{Type: "net", Devices: []string{"mic0", "mic1"}, Strategy: HoldLastAtFinalSample},
	{Type: "intel_*", Version: "2.2.1", Strategy: InterpolateAtRotate},
}

// DefaultUnchecked lists the counter types never reported as overflowed.
var DefaultUnchecked = []string{"ib", "ib_ext"}

// CorrectionTable maps counters to their rollover strategies. It is
// immutable and safe to share between jobs.
type CorrectionTable struct {
	rules     []Rule
	unchecked map[string]bool
}

// NewCorrectionTable builds a table from rules, highest priority first.
func NewCorrectionTable(rules []Rule, unchecked []string) *CorrectionTable {
	t := &CorrectionTable{
		rules:     append([]Rule(nil), rules...),
		unchecked: make(map[string]bool, len(unchecked)),
	}
	for _, u := range unchecked {
		t.unchecked[u] = true
	}
	return t
}

// DefaultCorrections returns the table for the stock collector.
func DefaultCorrections() *CorrectionTable {
	return NewCorrectionTable(DefaultRules, DefaultUnchecked)
}

// Plan is the resolved correction behaviour of one counter column.
type Plan struct {
	// Rotate enables interpolation at log rotation points.
	Rotate bool
	// Chain is tried in order when a reading drops below the previous one.
	Chain []Strategy
	// Checked enables overflow reporting for uncorrected drops.
	Checked bool
}

// Plan resolves the strategies for a counter.
func (t *CorrectionTable) Plan(typeName, key, dev, version string) Plan {
	p := Plan{Checked: !t.unchecked[typeName]}
	for _, r := range t.rules {
		if !r.matches(typeName, key, dev, version) {
			continue
		}
		if r.Strategy == InterpolateAtRotate {
			p.Rotate = true
			continue
		}
		p.Chain = append(p.Chain, r.Strategy)
	}
	return p
}

// Resolve picks the strategy for a drop to v at sample i of m.
func (p Plan) Resolve(width int, v uint64, i, m int) Strategy {
	for _, s := range p.Chain {
		switch s {
		case WidthWrap:
			if width < 64 {
				return s
			}
		case HoldLastOnZero:
			if v == 0 {
				return s
			}
		case AssumeResetAtIntervalStart:
			return s
		case HoldLastAtFinalSample:
			if i == m-1 {
				return s
			}
		}
	}
	return None
}

// column is one event counter of an aligned device matrix.
type column struct {
	width int
	plan  Plan
	// rotates holds the row indices sampled right after a log rotation.
	rotates map[int]bool
	// times are the raw sample times chosen for each row.
	times []float64
}

// correct rebases a in place so that every entry is the counter value
// accumulated since the first row, and reports whether an unexplained
// rollover was seen.
func (c column) correct(a []uint64) (overflow bool) {
	m := len(a)
	if m == 0 {
		return false
	}
	p, r := a[0], a[0]
	for i := 0; i < m; i++ {
		v := a[i]
		if c.plan.Rotate && i > 0 && c.rotates[i] {
			r = v - a[i-1]
			if i > 1 {
				r -= c.interpolate(a, i)
			}
		} else if v < p {
			fudged := false
			switch c.plan.Resolve(c.width, v, i, m) {
			case WidthWrap:
				r -= 1 << uint(c.width)
			case HoldLastOnZero:
				v = p
			case AssumeResetAtIntervalStart:
				r = 0 - a[i-1]
				fudged = true
			case HoldLastAtFinalSample:
				v = p
				fudged = true
			}
			if c.plan.Checked && !fudged && halfRange(v, p, c.width) {
				overflow = true
			}
		}
		a[i] = v - r
		p = v
	}
	return overflow
}

// interpolate extends the previous interval's rate over the rotated one.
func (c column) interpolate(a []uint64, i int) uint64 {
	if len(c.times) <= i {
		return 0
	}
	prev := c.times[i-1] - c.times[i-2]
	cur := c.times[i] - c.times[i-1]
	if prev < 1 || cur < 0 {
		return 0
	}
	return (a[i-1] - a[i-2]) * uint64(cur) / uint64(prev)
}

// halfRange reports whether v-p, taken modulo the counter width, is more
// than half of the representable range.
func halfRange(v, p uint64, width int) bool {
	mask := ^uint64(0)
	if width < 64 {
		mask = 1<<uint(width) - 1
	}
	return (v-p)&mask > 1<<uint(width-1)
}
