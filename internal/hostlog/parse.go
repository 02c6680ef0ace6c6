package hostlog

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/tinytelemetry/hpcjob/internal/schema"
)

func trimLine(line string) string { return strings.TrimSpace(line) }

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isLetter(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }

// ParseLine dispatches one trimmed line of a raw stats file.
func (h *Host) ParseLine(line string) {
	if line == "" || h.state == Done {
		return
	}
	switch c := line[0]; {
	case isDigit(c):
		h.processTimestamp(line)
	case isLetter(c):
		h.processData(line)
	case c == charSchema:
		h.processSchema(line)
	case c == charComment:
	case c == charProperty:
		h.processProperty(line)
	case c == charMark || c == charMarkAlt:
		h.processMark(line)
	default:
		h.log.Warnf("hostlog: unrecognised character %q in %s on line %d", c, h.file, h.line)
	}
}

func (h *Host) processTimestamp(line string) {
	recs := strings.Fields(line)
	if len(recs) < 2 {
		h.errorf("syntax error timestamp in file '%s' line %d", h.file, h.line)
		return
	}
	ts, err := strconv.ParseFloat(recs[0], 64)
	if err != nil {
		h.badTimes++
		if h.badTimes == 1 {
			h.errorf("malformed timestamp `%s' in file '%s' line %d", recs[0], h.file, h.line)
		}
		return
	}
	h.timestamp = ts

	switch h.state {
	case PendingFirstRecord:
		if listsJob(recs[1], h.job.ID) {
			h.setState(Active, "job in timestamp list")
		} else if int64(math.Floor(ts)) >= h.job.Start {
			h.setState(Active, "timestamp in job window")
		}
	case Active:
		if int64(math.Floor(ts-foreignGrace)) > h.job.End {
			h.setState(Done, "timestamp out of job window")
		}
	case ActiveIgnore:
		h.setState(Active, "foreign job span closed")
	case LastRecord:
		h.setState(Done, "processed last record")
	}

	if h.state == Active {
		h.times = append(h.times, ts)
	}
}

func listsJob(csv, id string) bool {
	for _, j := range strings.Split(csv, ",") {
		if j == id {
			return true
		}
	}
	return false
}

func (h *Host) processData(line string) {
	if h.state != Active && h.state != LastRecord {
		return
	}

	fields := strings.Fields(line)
	if len(fields) < 3 {
		h.errorf("syntax error on file '%s' line %d", h.file, h.line)
		return
	}
	typeName, dev, rest := fields[0], fields[1], fields[2:]

	if h.mismatch[typeName] {
		return
	}
	s, ok := h.fileSchemas[typeName]
	if !ok {
		if !h.unknown[typeName] {
			h.unknown[typeName] = true
			h.errorf("file `%s', unknown type `%s', discarding line %d", h.file, typeName, h.line)
		}
		return
	}

	if typeName == "proc" {
		dev, rest = mergeProcName(s, dev, rest)
	}

	if len(rest) != s.Len() {
		h.badCount[typeName]++
		if h.badCount[typeName] == 1 {
			h.errorf("file `%s', type `%s', expected %d values, read %d, discarding line %d",
				h.file, typeName, s.Len(), len(rest), h.line)
		}
		return
	}

	vals := make([]uint64, len(rest))
	for i, tok := range rest {
		v, err := strconv.ParseUint(tok, 10, 64)
		if err != nil {
			h.badValues[typeName]++
			if h.badValues[typeName] == 1 {
				h.errorf("file `%s', type `%s', malformed value `%s', discarding line %d",
					h.file, typeName, tok, h.line)
			}
			return
		}
		vals[i] = v
	}

	devs, ok := h.raw[typeName]
	if !ok {
		devs = make(map[string][]Sample)
		h.raw[typeName] = devs
	}
	devs[dev] = append(devs[dev], Sample{Time: h.timestamp, Values: vals})
}

// mergeProcName folds leading tokens back into the process name until the
// remaining tokens match the schema arity. A process name ending in a
// numeric token cannot be told apart from a short value vector.
func mergeProcName(s *schema.Schema, dev string, rest []string) (string, []string) {
	for len(rest) > s.Len() {
		dev = dev + " " + rest[0]
		rest = rest[1:]
	}
	return dev, rest
}

func (h *Host) processSchema(line string) {
	typeName, desc, ok := strings.Cut(line[1:], " ")
	typeName = strings.TrimSpace(typeName)
	if !ok || typeName == "" {
		h.errorf("file `%s', malformed schema on line %d", h.file, h.line)
		return
	}
	if h.mismatch[typeName] {
		return
	}

	s, err := h.reg.Register(typeName, desc)
	if err != nil {
		h.mismatch[typeName] = true
		delete(h.fileSchemas, typeName)
		if errors.Is(err, schema.ErrMismatch) {
			h.errorf("file `%s', type `%s', schema mismatch desc `%s'", h.file, typeName, strings.TrimSpace(desc))
		} else {
			h.errorf("file `%s', type `%s', bad schema: %v", h.file, typeName, err)
		}
		return
	}
	if h.fileSchemas == nil {
		h.fileSchemas = make(map[string]*schema.Schema)
	}
	h.fileSchemas[typeName] = s
}

func (h *Host) processProperty(line string) {
	name, value, _ := strings.Cut(line[1:], " ")
	value = strings.TrimSpace(value)
	switch name {
	case "tacc_stats":
		if v := strings.Fields(value); len(v) > 0 {
			h.version = v[0]
		}
	case "hostname":
		h.hostname = value
	}
}

func (h *Host) processMark(line string) {
	actions := strings.Fields(line[1:])
	if len(actions) == 0 {
		h.errorf("syntax error processmark file `%s' line `%d'", h.file, h.line)
		return
	}

	switch actions[0] {
	case MarkEnd, MarkBegin:
		if len(actions) < 2 {
			h.errorf("syntax error processmark file `%s' line `%d'", h.file, h.line)
			return
		}
		if actions[0] == MarkEnd {
			h.markEnd(actions[1])
		} else {
			h.markBegin(actions[1])
		}
	case MarkRotate:
		if h.state == Active || h.state == ActiveIgnore {
			h.rotates = append(h.rotates, h.timestamp)
		}
	case MarkProcdump:
		// Process dumps stay valid while a foreign job is running.
		if (h.state == Active || h.state == ActiveIgnore) && h.inventory != nil {
			if err := h.inventory.Parse(line); err != nil {
				h.errorf("file `%s', procdump on line %d: %v", h.file, h.line, err)
				return
			}
			h.marks[MarkProcdump] = true
		}
	default:
		h.log.Debugf("hostlog: ignoring marker %q in %s on line %d", actions[0], h.file, h.line)
	}
}

func (h *Host) markEnd(id string) {
	if id == h.job.ID {
		if h.state == Active {
			h.setState(LastRecord, "seen end marker")
			h.marks[MarkEnd] = true
			return
		}
		h.errorf("end marker in %s line %d before job started", h.file, h.line)
		return
	}
	if h.state == Active {
		h.dropLastTime()
		h.setState(ActiveIgnore, "end for another job")
	}
}

func (h *Host) markBegin(id string) {
	h.log.Debugf("hostlog: seen begin at %.0f for %q", h.timestamp, id)
	if id == h.job.ID {
		h.marks[MarkBegin] = true
		if h.state != Active {
			h.setState(Active, "seen begin marker")
			return
		}
		// Counters restart with the job, so earlier readings are useless.
		if len(h.times) > 1 {
			h.log.Debugf("hostlog: begin mid-stream in %s line %d, discarding %d records", h.file, h.line, len(h.times)-1)
			h.raw = make(map[string]map[string][]Sample)
			h.times = []float64{h.timestamp}
			h.rotates = nil
		}
		return
	}
	if h.state == Active || h.state == ActiveIgnore {
		if h.state == Active {
			h.dropLastTime()
		}
		h.setState(ActiveIgnore, "begin for another job")
	}
}

func (h *Host) dropLastTime() {
	if len(h.times) > 0 {
		h.times = h.times[:len(h.times)-1]
	}
}
