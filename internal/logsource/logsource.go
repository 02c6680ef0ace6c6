package logsource

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

const (
	// MaxFileSpan is the longest interval a single raw stats file covers.
	MaxFileSpan = 86400 + 2*3600
	// Pad widens the job window when matching files against it.
	Pad = 1200
)

// ErrNoHostDir is returned when a host has no directory in the archive.
var ErrNoHostDir = errors.New("logsource: host directory not found")

// Candidate is one raw stats file and the start time encoded in its name.
type Candidate struct {
	Path  string
	Start int64
}

// End returns the latest time the file could hold records for.
func (c Candidate) End() int64 { return c.Start + 2*MaxFileSpan }

// FileSource lists and opens the raw stats files of a host.
type FileSource interface {
	Candidates(host string) ([]Candidate, error)
	Open(path string) (io.ReadCloser, error)
}

// ArchiveDir is a FileSource over <Root>/<host><NameExt>/ directories.
// File names are either epoch seconds or YYYYMMDD dates. Compressed
// archives hold "<name>.gz" files; plain archives hold bare "<name>" files.
type ArchiveDir struct {
	Root       string
	NameExt    string
	Compressed bool
}

// Candidates returns every recognizable stats file of host, sorted by start.
func (a ArchiveDir) Candidates(host string) ([]Candidate, error) {
	dir := filepath.Join(a.Root, host+a.NameExt)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoHostDir, dir)
		}
		return nil, fmt.Errorf("logsource: read %s: %w", dir, err)
	}

	var out []Candidate
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		base, ext, _ := strings.Cut(e.Name(), ".")
		if a.Compressed && ext != "gz" {
			continue
		}
		if !a.Compressed && ext != "" {
			continue
		}
		start, ok := ParseStart(base)
		if !ok {
			continue
		}
		out = append(out, Candidate{Path: filepath.Join(dir, e.Name()), Start: start})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

// Open returns a reader over the decompressed file content.
func (a ArchiveDir) Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("logsource: open: %w", err)
	}
	if !a.Compressed {
		return f, nil
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("logsource: gzip %s: %w", path, err)
	}
	return &gzipFile{Reader: zr, file: f}, nil
}

type gzipFile struct {
	*gzip.Reader
	file *os.File
}

func (g *gzipFile) Close() error {
	zerr := g.Reader.Close()
	ferr := g.file.Close()
	if zerr != nil {
		return zerr
	}
	return ferr
}

// ParseStart decodes the start time from a file base name. Eight digit names
// are read as a UTC calendar date, other all-digit names as epoch seconds.
func ParseStart(base string) (int64, bool) {
	if base == "" {
		return 0, false
	}
	for _, c := range base {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	if isDateName(base) {
		t, err := time.Parse("20060102", base)
		if err == nil {
			return t.Unix(), true
		}
	}
	n, err := strconv.ParseInt(base, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func isDateName(base string) bool {
	return len(base) == 8 && base[4] <= '1' && base[6] <= '3'
}

// Overlapping keeps the candidates whose span can intersect the padded job
// window [start-Pad, end+Pad]. Input order is preserved.
func Overlapping(cands []Candidate, start, end int64) []Candidate {
	js, je := start-Pad, end+Pad
	var out []Candidate
	for _, c := range cands {
		if max(js, c.Start) <= min(je, c.End()) {
			out = append(out, c)
		}
	}
	return out
}
