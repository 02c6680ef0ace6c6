package job

import (
	"errors"
	"strings"

	"github.com/tinytelemetry/hpcjob/internal/acct"
	"github.com/tinytelemetry/hpcjob/internal/hostlog"
	"github.com/tinytelemetry/hpcjob/internal/model"
)

// hostList resolves the job's hosts. ok is false when the job cannot
// proceed.
func (j *Job) hostList() ([]string, bool) {
	walltime := j.End - j.Start
	if j.Acct.HostList != nil {
		if len(j.Acct.HostList) == 1 && j.Acct.HostList[0] == model.HostListNone {
			return nil, true
		}
		return j.Acct.HostList, true
	}

	if j.opts.HostLists == nil {
		if walltime > 0 {
			j.errorf("no host list and no host list directory")
		}
		return nil, false
	}
	hosts, err := j.opts.HostLists.HostList(j.Acct)
	if err != nil {
		// Only care about a missing list if the job actually ran.
		if walltime > 0 || !errors.Is(err, acct.ErrNoHostList) {
			j.errorf("%v", err)
		}
		return nil, false
	}
	return hosts, true
}

// gather runs a host parser per assigned host and keeps those that
// produced data.
func (j *Job) gather() bool {
	names, ok := j.hostList()
	if !ok {
		return false
	}
	if len(names) == 0 && j.End-j.Start > 0 {
		j.errorf("empty host list")
		return false
	}
	if j.opts.Source == nil {
		j.errorf("no raw stats source")
		return false
	}
	window := hostlog.Window{ID: j.ID, Start: j.Start, End: j.End}
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		name, _, _ = strings.Cut(name, ".")
		if seen[name] {
			j.log.Debugf("job: host %s listed twice", name)
			continue
		}
		seen[name] = true
		first := len(seen) == 1

		opts := hostlog.Options{
			Registry: j.reg,
			Errors:   j.addError,
			Logger:   j.log,
		}
		if first {
			opts.Inventory = j.inventory
		}
		p := hostlog.New(name, window, opts)
		if !p.Gather(j.opts.Source) {
			continue
		}
		h := &host{name: name, parser: p}
		j.hosts = append(j.hosts, h)
		j.byName[name] = h
	}
	j.assigned = len(seen)

	if len(j.hosts) == 0 {
		j.errorf("no good hosts")
		return false
	}
	return true
}
