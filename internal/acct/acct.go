// Package acct reads batch accounting records and resolves job host lists.
package acct

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/tinytelemetry/hpcjob/internal/model"
)

// jobList is the on-disk layout of an accounting file. JSON files decode
// through the same path since JSON is valid YAML.
type jobList struct {
	Jobs []model.AccountingRecord `yaml:"jobs"`
}

// LoadFile reads the accounting records in path.
func LoadFile(path string) ([]model.AccountingRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("acct: read %s: %w", path, err)
	}
	recs, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("acct: %s: %w", path, err)
	}
	return recs, nil
}

// Decode reads accounting records from r. The document is either a list of
// records or a mapping with a "jobs" list. Compressed node lists are
// expanded into host lists.
func Decode(r io.Reader) ([]model.AccountingRecord, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("acct: read: %w", err)
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("acct: decode: %w", err)
	}
	if len(node.Content) == 0 {
		return nil, nil
	}

	var recs []model.AccountingRecord
	switch root := node.Content[0]; root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&recs); err != nil {
			return nil, fmt.Errorf("acct: decode: %w", err)
		}
	case yaml.MappingNode:
		var l jobList
		if err := root.Decode(&l); err != nil {
			return nil, fmt.Errorf("acct: decode: %w", err)
		}
		recs = l.Jobs
	default:
		return nil, errors.New("acct: decode: expected a list of jobs")
	}

	for i := range recs {
		if err := normalize(&recs[i]); err != nil {
			return nil, err
		}
	}
	return recs, nil
}

func normalize(rec *model.AccountingRecord) error {
	if rec.ID == "" {
		return errors.New("acct: record without id")
	}
	if len(rec.HostList) == 0 && rec.NodeList != "" {
		hosts, err := ExpandNodeList(rec.NodeList)
		if err != nil {
			return fmt.Errorf("acct: job %s: %w", rec.ID, err)
		}
		rec.HostList = hosts
	}
	if rec.Nodes == 0 {
		rec.Nodes = len(rec.HostList)
	}
	return nil
}

// InWindow returns the records that ended in [start, end), ordered by end
// time. A zero bound is open.
func InWindow(recs []model.AccountingRecord, start, end int64) []model.AccountingRecord {
	out := make([]model.AccountingRecord, 0, len(recs))
	for _, r := range recs {
		if start != 0 && r.EndTime < start {
			continue
		}
		if end != 0 && r.EndTime >= end {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EndTime < out[j].EndTime })
	return out
}
