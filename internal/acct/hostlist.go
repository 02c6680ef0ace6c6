package acct

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tinytelemetry/hpcjob/internal/model"
)

// ErrNoHostList is returned when no prolog host list exists for a job.
var ErrNoHostList = errors.New("no host list found")

// HostListDir finds the host lists written by the job prolog under
// <Root>/YYYY/MM/DD/hostlist.<id>.
type HostListDir struct {
	Root string
	// Location dates the directories; nil means time.Local.
	Location *time.Location
}

// HostList returns the hosts of rec, looking at the start date, then the
// day before, then the day after.
func (d HostListDir) HostList(rec model.AccountingRecord) ([]string, error) {
	path, ok := d.find(rec)
	if !ok {
		return nil, fmt.Errorf("%w in dir %s", ErrNoHostList, d.Root)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open host list `%s': %w", path, err)
	}
	defer f.Close()

	var hosts []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == model.HostListNone {
			continue
		}
		hosts = append(hosts, strings.Fields(line)...)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("cannot read host list `%s': %w", path, err)
	}
	return hosts, nil
}

func (d HostListDir) find(rec model.AccountingRecord) (string, bool) {
	loc := d.Location
	if loc == nil {
		loc = time.Local
	}
	start := time.Unix(rec.StartTime, 0).In(loc)
	name := "hostlist." + rec.ID
	for _, days := range []int{0, -1, 1} {
		day := start.AddDate(0, 0, days)
		path := filepath.Join(d.Root, day.Format("2006/01/02"), name)
		if st, err := os.Stat(path); err == nil && !st.IsDir() {
			return path, true
		}
	}
	return "", false
}

// ExpandNodeList expands a scheduler node list such as
// "c401-[101-103,105],c402-001" into host names. Range bounds keep the
// zero padding of their lower bound.
func ExpandNodeList(s string) ([]string, error) {
	var out []string
	for _, part := range splitNodeList(s) {
		open := strings.IndexByte(part, '[')
		if open < 0 {
			out = append(out, part)
			continue
		}
		if !strings.HasSuffix(part, "]") {
			return nil, fmt.Errorf("node list %q: missing end bracket", part)
		}
		head := part[:open]
		for _, elt := range strings.Split(part[open+1:len(part)-1], ",") {
			lo, hi, isRange := strings.Cut(elt, "-")
			if !isRange {
				out = append(out, head+elt)
				continue
			}
			a, err := strconv.Atoi(lo)
			if err != nil {
				return nil, fmt.Errorf("node list %q: %w", part, err)
			}
			b, err := strconv.Atoi(hi)
			if err != nil {
				return nil, fmt.Errorf("node list %q: %w", part, err)
			}
			if a > b {
				return nil, fmt.Errorf("node list %q: bad range %s", part, elt)
			}
			for n := a; n <= b; n++ {
				out = append(out, fmt.Sprintf("%s%0*d", head, len(lo), n))
			}
		}
	}
	return out, nil
}

// splitNodeList splits on commas outside brackets.
func splitNodeList(s string) []string {
	var (
		parts []string
		depth int
		start int
	)
	for i, c := range s {
		switch c {
		case '[':
			depth++
		case ']':
			depth--
		case ',':
			if depth == 0 {
				if i > start {
					parts = append(parts, s[start:i])
				}
				start = i + 1
			}
		}
	}
	if start < len(s) {
		parts = append(parts, s[start:])
	}
	return parts
}
