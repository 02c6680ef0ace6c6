package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/tinytelemetry/hpcjob/internal/model"
)

const (
	defaultFileMode = 0644
	defaultDirMode  = 0755
)

type entry struct {
	Seq    uint64          `json:"seq"`
	Result model.JobResult `json:"result"`
}

// Journal is a durable append-only log of assembled jobs awaiting storage.
// It stores one JSON entry per line and tracks commit progress in a sidecar
// file.
type Journal struct {
	mu         sync.Mutex
	path       string
	commitPath string
	file       *os.File
	nextSeq    uint64
	committed  uint64
}

// Open creates or opens a journal at path. On startup it compacts committed
// entries and ignores a partially written trailing line.
func Open(path string) (*Journal, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("journal: path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), defaultDirMode); err != nil {
		return nil, fmt.Errorf("journal: mkdir: %w", err)
	}

	commitPath := path + ".commit"
	committed, err := readCommitted(commitPath)
	if err != nil {
		return nil, err
	}

	maxSeq, err := compactCommitted(path, committed)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, defaultFileMode)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}

	next := max(maxSeq+1, committed+1)
	return &Journal{
		path:       path,
		commitPath: commitPath,
		file:       f,
		nextSeq:    next,
		committed:  committed,
	}, nil
}

// Append persists one job result and returns its sequence number.
func (j *Journal) Append(result *model.JobResult) (uint64, error) {
	if result == nil {
		return 0, errors.New("journal: nil result")
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return 0, errors.New("journal: closed")
	}

	seq := j.nextSeq
	line, err := json.Marshal(entry{Seq: seq, Result: *result})
	if err != nil {
		return 0, fmt.Errorf("journal: marshal entry: %w", err)
	}
	line = append(line, '\n')

	if _, err := j.file.Write(line); err != nil {
		return 0, fmt.Errorf("journal: write entry: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return 0, fmt.Errorf("journal: sync entry: %w", err)
	}
	j.nextSeq++
	return seq, nil
}

// Commit marks all entries up to seq as committed.
func (j *Journal) Commit(seq uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if seq <= j.committed {
		return nil
	}
	if err := writeCommitted(j.commitPath, seq); err != nil {
		return err
	}
	j.committed = seq
	return nil
}

// Committed returns the highest committed sequence number.
func (j *Journal) Committed() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.committed
}

// Replay calls fn for each uncommitted entry in sequence order.
func (j *Journal) Replay(fn func(seq uint64, result *model.JobResult) error) error {
	if fn == nil {
		return errors.New("journal: replay callback is nil")
	}

	j.mu.Lock()
	path := j.path
	committed := j.committed
	j.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("journal: open for replay: %w", err)
	}
	defer f.Close()

	return scanEntries(f, func(e *entry, _ []byte) error {
		if e.Seq <= committed {
			return nil
		}
		return fn(e.Seq, &e.Result)
	})
}

// Close closes the underlying journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

// scanEntries calls fn for every complete entry of r. It stops quietly at a
// torn trailing line or the first malformed entry.
func scanEntries(r io.Reader, fn func(e *entry, line []byte) error) error {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("journal: read: %w", err)
		}
		if len(line) == 0 || line[len(line)-1] != '\n' {
			return nil
		}

		var e entry
		if uerr := json.Unmarshal(line, &e); uerr != nil {
			return nil
		}
		if ferr := fn(&e, line); ferr != nil {
			return ferr
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
	}
}

func readCommitted(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("journal: read commit file: %w", err)
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return 0, nil
	}
	seq, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("journal: parse commit seq: %w", err)
	}
	return seq, nil
}

// writeCommitted replaces the commit file atomically.
func writeCommitted(path string, seq uint64) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, defaultFileMode)
	if err != nil {
		return fmt.Errorf("journal: open commit tmp: %w", err)
	}
	_, werr := f.WriteString(strconv.FormatUint(seq, 10) + "\n")
	if werr == nil {
		werr = f.Sync()
	}
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("journal: write commit tmp: %w", werr)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("journal: rename commit file: %w", err)
	}
	return nil
}

// compactCommitted rewrites path without committed entries and returns the
// highest sequence number seen.
func compactCommitted(path string, committed uint64) (uint64, error) {
	src, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, defaultFileMode)
	if err != nil {
		return 0, fmt.Errorf("journal: open source for compact: %w", err)
	}
	defer src.Close()

	tmpPath := path + ".compact"
	dst, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_RDWR, defaultFileMode)
	if err != nil {
		return 0, fmt.Errorf("journal: open compact tmp: %w", err)
	}
	fail := func(err error) (uint64, error) {
		_ = dst.Close()
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("journal: compact: %w", err)
	}

	var maxSeq uint64
	err = scanEntries(src, func(e *entry, line []byte) error {
		maxSeq = max(maxSeq, e.Seq)
		if e.Seq <= committed {
			return nil
		}
		_, werr := dst.Write(line)
		return werr
	})
	if err != nil {
		return fail(err)
	}
	if err := dst.Sync(); err != nil {
		return fail(err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("journal: compact close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("journal: compact rename: %w", err)
	}
	return maxSeq, nil
}
