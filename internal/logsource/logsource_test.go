package logsource

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func writeGzip(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	zw := gzip.NewWriter(f)
	if _, err := zw.Write([]byte(content)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestParseStart(t *testing.T) {
	tests := []struct {
		base string
		want int64
		ok   bool
	}{
		{"1400000000", 1400000000, true},
		{"20140513", 1399939200, true},
		{"20141399", 20141399, true}, // month 13 is not a date
		{"abc", 0, false},
		{"", 0, false},
		{"12a4", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseStart(tt.base)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseStart(%q) = %d, %v; want %d, %v", tt.base, got, ok, tt.want, tt.ok)
		}
	}
}

func TestCandidatesCompressed(t *testing.T) {
	root := t.TempDir()
	hostDir := filepath.Join(root, "c401-101.example.org")
	if err := os.MkdirAll(hostDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeGzip(t, filepath.Join(hostDir, "1400100000.gz"), "b\n")
	writeGzip(t, filepath.Join(hostDir, "1400000000.gz"), "a\n")
	if err := os.WriteFile(filepath.Join(hostDir, "1400200000"), []byte("plain"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(hostDir, "notes.gz"), []byte("x"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	src := ArchiveDir{Root: root, NameExt: ".example.org", Compressed: true}
	cands, err := src.Candidates("c401-101")
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if len(cands) != 2 {
		t.Fatalf("got %d candidates, want 2: %+v", len(cands), cands)
	}
	if cands[0].Start != 1400000000 || cands[1].Start != 1400100000 {
		t.Errorf("candidates not sorted by start: %+v", cands)
	}

	rc, err := src.Open(cands[0].Path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "a\n" {
		t.Errorf("content = %q, want %q", data, "a\n")
	}
}

func TestCandidatesPlain(t *testing.T) {
	root := t.TempDir()
	hostDir := filepath.Join(root, "node1")
	if err := os.MkdirAll(hostDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, name := range []string{"20140513", "1400000000.gz"} {
		if err := os.WriteFile(filepath.Join(hostDir, name), []byte("line\n"), 0644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	src := ArchiveDir{Root: root}
	cands, err := src.Candidates("node1")
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	if len(cands) != 1 || cands[0].Start != 1399939200 {
		t.Fatalf("candidates = %+v, want the single date-named file", cands)
	}
	rc, err := src.Open(cands[0].Path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "line\n" {
		t.Errorf("content = %q", data)
	}
}

func TestCandidatesMissingHost(t *testing.T) {
	_, err := ArchiveDir{Root: t.TempDir()}.Candidates("ghost")
	if !errors.Is(err, ErrNoHostDir) {
		t.Fatalf("err = %v, want ErrNoHostDir", err)
	}
}

func TestOverlapping(t *testing.T) {
	day := int64(86400)
	cands := []Candidate{
		{Path: "old", Start: 0},
		{Path: "before", Start: 10 * day},
		{Path: "during", Start: 12 * day},
		{Path: "after", Start: 20 * day},
	}
	start := 12*day + 3600
	end := start + 7200

	got := Overlapping(cands, start, end)
	if len(got) != 2 || got[0].Path != "before" || got[1].Path != "during" {
		t.Errorf("Overlapping = %+v, want [before during]", got)
	}
}
