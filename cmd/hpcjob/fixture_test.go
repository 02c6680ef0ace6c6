package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
)

const fixtureStart = 1400000000

// rawStats renders a collector file for job id sampling every 10s from
// fixtureStart for n intervals.
func rawStats(id string, n int, userStep uint64) string {
	var b strings.Builder
	b.WriteString("$tacc_stats 2.0.9\n")
	b.WriteString("!cpu user,E,U=cs idle,E\n")
	b.WriteString("!mem MemUsed,U=KB\n")
	for i := 0; i <= n; i++ {
		fmt.Fprintf(&b, "%d %s\n", fixtureStart+10*i, id)
		switch i {
		case 0:
			fmt.Fprintf(&b, "%%begin %s\n", id)
		case n:
			fmt.Fprintf(&b, "%%end %s\n", id)
		}
		fmt.Fprintf(&b, "cpu 0 %d %d\n", uint64(i)*userStep, 1000+uint64(i))
		fmt.Fprintf(&b, "mem - %d\n", 100+i)
	}
	return b.String()
}

// writeArchive stores content gzipped under root/<host>/<fixtureStart>.gz.
func writeArchive(t *testing.T, root, host, content string) {
	t.Helper()
	dir := filepath.Join(root, host)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(filepath.Join(dir, fmt.Sprintf("%d.gz", fixtureStart)))
	if err != nil {
		t.Fatal(err)
	}
	zw := gzip.NewWriter(f)
	if _, err := zw.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

// writeAcct writes an accounting file with one good two-host job ("42") and
// one job ("43") whose only host has no archive.
func writeAcct(t *testing.T, dir string) string {
	t.Helper()
	content := fmt.Sprintf(`jobs:
  - id: "42"
    user: alice
    queue: normal
    start_time: %d
    end_time: %d
    node_list: c401-[101-102]
  - id: "43"
    user: bob
    start_time: %d
    end_time: %d
    host_list: [ghost]
`, fixtureStart, fixtureStart+40, fixtureStart, fixtureStart+40)
	path := filepath.Join(dir, "acct.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeFixtureArchive(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeArchive(t, root, "c401-101", rawStats("42", 4, 100))
	writeArchive(t, root, "c401-102", rawStats("42", 4, 50))
	return root
}
