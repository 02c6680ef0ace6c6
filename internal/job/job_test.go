package job

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/tinytelemetry/hpcjob/internal/acct"
	"github.com/tinytelemetry/hpcjob/internal/logsource"
	"github.com/tinytelemetry/hpcjob/internal/model"
	"github.com/tinytelemetry/hpcjob/internal/schema"
)

const t0 = 1400000000

const header = "$tacc_stats 2.0.9\n" +
	"!cpu user,E,U=cs idle,E,W=32\n" +
	"!mem MemUsed,U=KB\n"

// hostAFile samples every 10s and wraps the 32-bit idle counter once.
var hostAFile = header + lines(
	"%d 42", 0,
	"%begin 42", -1,
	"cpu 0 100 4294967000", -1,
	"mem - 5", -1,
	"%d 42", 10,
	"cpu 0 200 4294967200", -1,
	"mem - 6", -1,
	"%d 42", 20,
	"cpu 0 300 100", -1,
	"mem - 7", -1,
	"%d 42", 30,
	"cpu 0 400 300", -1,
	"mem - 8", -1,
	"%d 42", 40,
	"%end 42", -1,
	"cpu 0 500 500", -1,
	"mem - 9", -1,
	"%d -", 50,
)

// hostBFile samples irregularly.
var hostBFile = header + lines(
	"%d 42", 0,
	"%begin 42", -1,
	"cpu 0 1000 10", -1,
	"mem - 1", -1,
	"%d 42", 15,
	"cpu 0 2000 10", -1,
	"mem - 2", -1,
	"%d 42", 35,
	"%end 42", -1,
	"cpu 0 3000 10", -1,
	"mem - 3", -1,
	"%d -", 50,
)

// lines renders (format, offset) pairs; offset -1 means a literal line.
func lines(pairs ...any) string {
	var b strings.Builder
	for i := 0; i < len(pairs); i += 2 {
		format := pairs[i].(string)
		if off := pairs[i+1].(int); off >= 0 {
			fmt.Fprintf(&b, format, t0+off)
		} else {
			b.WriteString(format)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func writeHost(t *testing.T, root, host, content string) {
	t.Helper()
	dir := filepath.Join(root, host)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, fmt.Sprint(t0)), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestJob(t *testing.T, rec model.AccountingRecord, files map[string]string) *Job {
	t.Helper()
	root := t.TempDir()
	for host, content := range files {
		writeHost(t, root, host, content)
	}
	logger, _ := test.NewNullLogger()
	return New(rec, Options{
		Source: logsource.ArchiveDir{Root: root},
		Logger: logger,
		Cache:  schema.NewCache(),
	})
}

func record(hosts ...string) model.AccountingRecord {
	return model.AccountingRecord{ID: "42", StartTime: t0, EndTime: t0 + 40, HostList: hosts}
}

func TestProcessTwoHosts(t *testing.T) {
	j := newTestJob(t, record("hosta.cluster.example", "hostb"), map[string]string{
		"hosta": hostAFile,
		"hostb": hostBFile,
	})
	if !j.Process() {
		t.Fatalf("Process() = false, errors %v", j.Errors())
	}

	want := []float64{t0, t0 + 10, t0 + 20, t0 + 30, t0 + 40}
	if !reflect.DeepEqual(j.Times(), want) {
		t.Fatalf("Times() = %v, want %v", j.Times(), want)
	}
	if got := j.Hosts(); !reflect.DeepEqual(got, []string{"hosta", "hostb"}) {
		t.Fatalf("Hosts() = %v", got)
	}
	if errs := j.Errors(); len(errs) != 1 || errs[0] != "Number of records differs between hosts (min 3, max 5)" {
		t.Fatalf("Errors() = %q", errs)
	}
	if !j.Complete() {
		t.Fatal("Complete() = false, both hosts logged the end marker")
	}
	if j.Overflows().Len() != 0 {
		t.Fatalf("Overflows = %+v, want none", j.Overflows().List())
	}

	stats, err := j.GetStats("cpu", "0", "user")
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if got, want := stats["hostb"], []uint64{0, 1000, 1000, 2000, 2000}; !reflect.DeepEqual(got, want) {
		t.Fatalf("hostb user = %v, want %v", got, want)
	}
	if got, want := stats["hosta"], []uint64{0, 100, 200, 300, 400}; !reflect.DeepEqual(got, want) {
		t.Fatalf("hosta user = %v, want %v", got, want)
	}

	idle, _ := j.GetStats("cpu", "0", "idle")
	if got, want := idle["hosta"], []uint64{0, 200, 396, 596, 796}; !reflect.DeepEqual(got, want) {
		t.Fatalf("hosta idle = %v, want %v", got, want)
	}

	mem, _ := j.GetStats("mem", "-", "MemUsed")
	if got, want := mem["hosta"], []uint64{5120, 6144, 7168, 8192, 9216}; !reflect.DeepEqual(got, want) {
		t.Fatalf("hosta MemUsed = %v, want %v", got, want)
	}
}

func TestAggregateStats(t *testing.T) {
	j := newTestJob(t, record("hosta", "hostb"), map[string]string{
		"hosta": hostAFile,
		"hostb": hostBFile,
	})
	if !j.Process() {
		t.Fatalf("Process() = false, errors %v", j.Errors())
	}

	sum, nrHosts, nrDevs, err := j.AggregateStats("cpu", nil, nil)
	if err != nil {
		t.Fatalf("AggregateStats: %v", err)
	}
	if nrHosts != 2 || nrDevs != 2 {
		t.Fatalf("hosts/devs = %d/%d, want 2/2", nrHosts, nrDevs)
	}
	if got, want := sum.Column(0), []uint64{0, 1100, 1200, 2300, 2400}; !reflect.DeepEqual(got, want) {
		t.Fatalf("user sum = %v, want %v", got, want)
	}

	sum, nrHosts, nrDevs, err = j.AggregateStats("cpu", []string{"hostb", "nosuch"}, []string{"0", "7"})
	if err != nil {
		t.Fatalf("AggregateStats(subset): %v", err)
	}
	if nrHosts != 1 || nrDevs != 1 || sum.At(4, 0) != 2000 {
		t.Fatalf("subset = %v (%d hosts, %d devs)", sum.Column(0), nrHosts, nrDevs)
	}

	if _, _, _, err := j.AggregateStats("gpu", nil, nil); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("AggregateStats(gpu) err = %v, want ErrUnknownType", err)
	}
}

func TestOverflowRegistered(t *testing.T) {
	file := header + lines(
		"%d 42", 0, "cpu 0 1000 1", -1,
		"%d 42", 10, "cpu 0 2000 2", -1,
		"%d 42", 20, "cpu 0 500 3", -1,
	)
	j := newTestJob(t, record("hosta"), map[string]string{"hosta": file})
	if !j.Process() {
		t.Fatalf("Process() = false, errors %v", j.Errors())
	}
	if !j.Overflows().Has("hosta", "cpu", "0", "user") {
		t.Fatalf("overflow not recorded: %+v", j.Overflows().List())
	}
	if j.Overflows().Has("hosta", "cpu", "0", "idle") {
		t.Fatal("idle recorded as overflowed")
	}
	list := j.Overflows().List()
	want := []model.Overflow{{Type: "cpu", Device: "0", Key: "user", Hosts: []string{"hosta"}}}
	if !reflect.DeepEqual(list, want) {
		t.Fatalf("List() = %+v, want %+v", list, want)
	}
	if j.Complete() {
		t.Fatal("Complete() = true without an end marker")
	}
}

func TestProcessFailures(t *testing.T) {
	tests := []struct {
		name    string
		rec     model.AccountingRecord
		opts    Options
		wantErr string
	}{
		{
			name:    "none assigned",
			rec:     record(model.HostListNone),
			wantErr: "empty host list",
		},
		{
			name:    "no good hosts",
			rec:     record("ghost"),
			wantErr: "no good hosts",
		},
		{
			name:    "missing host list",
			rec:     model.AccountingRecord{ID: "42", StartTime: t0, EndTime: t0 + 40},
			opts:    Options{HostLists: acct.HostListDir{Root: "/nonexistent"}},
			wantErr: "no host list found in dir /nonexistent",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.opts
			opts.Source = logsource.ArchiveDir{Root: t.TempDir()}
			j := New(tt.rec, opts)
			if j.Process() {
				t.Fatal("Process() = true, want failure")
			}
			if !j.Failed() {
				t.Fatal("Failed() = false")
			}
			found := false
			for _, e := range j.Errors() {
				if strings.Contains(e, tt.wantErr) {
					found = true
				}
			}
			if !found {
				t.Fatalf("Errors() = %q, want %q", j.Errors(), tt.wantErr)
			}
			if res := j.Result(); !res.Failed || len(res.Hosts) != 0 {
				t.Fatalf("Result() = %+v", res)
			}
		})
	}
}

func TestMissingHostListWithoutWalltimeIsSilent(t *testing.T) {
	rec := model.AccountingRecord{ID: "42", StartTime: t0, EndTime: t0}
	j := New(rec, Options{
		Source:    logsource.ArchiveDir{Root: t.TempDir()},
		HostLists: acct.HostListDir{Root: t.TempDir()},
	})
	if j.Process() {
		t.Fatal("Process() = true, want failure")
	}
	if len(j.Errors()) != 0 {
		t.Fatalf("Errors() = %q, want none", j.Errors())
	}
}

type staticHosts []string

func (s staticHosts) HostList(model.AccountingRecord) ([]string, error) { return s, nil }

func TestHostListResolverAndBadHost(t *testing.T) {
	root := t.TempDir()
	writeHost(t, root, "hosta", hostAFile)
	rec := model.AccountingRecord{ID: "42", StartTime: t0, EndTime: t0 + 40}
	j := New(rec, Options{
		Source:    logsource.ArchiveDir{Root: root},
		HostLists: staticHosts{"hosta", "hostz"},
	})
	if !j.Process() {
		t.Fatalf("Process() = false, errors %v", j.Errors())
	}
	if got := j.Hosts(); !reflect.DeepEqual(got, []string{"hosta"}) {
		t.Fatalf("Hosts() = %v", got)
	}
	if errs := j.Errors(); len(errs) != 1 || errs[0] != "hostz: no stats files overlapping job" {
		t.Fatalf("Errors() = %q", errs)
	}
	if j.Complete() {
		t.Fatal("Complete() = true with a host missing")
	}
}

func TestHostWithoutJobSamplesRecorded(t *testing.T) {
	// Only samples from before the job started.
	early := header + fmt.Sprintf("%d -\ncpu 0 1 1\nmem - 1\n%d -\ncpu 0 2 2\nmem - 2\n", t0-600, t0-300)
	j := newTestJob(t, record("hosta", "hostb"), map[string]string{
		"hosta": hostAFile,
		"hostb": early,
	})
	if !j.Process() {
		t.Fatalf("Process() = false, errors %v", j.Errors())
	}
	if got := j.Hosts(); !reflect.DeepEqual(got, []string{"hosta"}) {
		t.Fatalf("Hosts() = %v, want [hosta]", got)
	}
	if errs := j.Errors(); len(errs) != 1 || errs[0] != "hostb: no data accepted for job 42" {
		t.Fatalf("Errors() = %q", errs)
	}
}

func TestMalformedLinesRecorded(t *testing.T) {
	content := header + lines(
		"%d 42", 0,
		"%begin 42", -1,
		"cpu 0 100 10", -1,
		"cpu 0 x1 2", -1,
		"cpu 0 x2 2", -1,
		"mem - 5", -1,
		"%d.x 42", 5,
		"%d 42", 10,
		"cpu 0 200 20", -1,
		"mem - 6", -1,
		"%d 42", 40,
		"%end 42", -1,
		"cpu 0 300 30", -1,
		"mem - 7", -1,
	)
	j := newTestJob(t, record("hosta"), map[string]string{"hosta": content})
	if !j.Process() {
		t.Fatalf("Process() = false, errors %v", j.Errors())
	}
	var values, stamps int
	for _, e := range j.Errors() {
		if strings.Contains(e, "malformed value") {
			values++
		}
		if strings.Contains(e, "malformed timestamp") {
			stamps++
		}
	}
	if values != 1 || stamps != 1 {
		t.Fatalf("Errors() = %q, want one malformed value and one malformed timestamp", j.Errors())
	}
}

func TestDuplicateHostsCountOnce(t *testing.T) {
	j := newTestJob(t, record("hosta", "hosta.cluster.example"), map[string]string{"hosta": hostAFile})
	if !j.Process() {
		t.Fatalf("Process() = false, errors %v", j.Errors())
	}
	if got := j.Hosts(); !reflect.DeepEqual(got, []string{"hosta"}) {
		t.Fatalf("Hosts() = %v, want [hosta]", got)
	}
	if !j.Complete() {
		t.Fatal("Complete() = false, want true for a host listed twice")
	}

	j = newTestJob(t, record("hosta", "hostz", "hostz.cluster.example"), map[string]string{"hosta": hostAFile})
	if !j.Process() {
		t.Fatalf("Process() = false, errors %v", j.Errors())
	}
	if errs := j.Errors(); len(errs) != 1 || errs[0] != "hostz: no stats files overlapping job" {
		t.Fatalf("Errors() = %q, want hostz reported once", errs)
	}
	if j.Complete() {
		t.Fatal("Complete() = true with hostz missing")
	}
}

func TestResultSnapshot(t *testing.T) {
	j := newTestJob(t, record("hosta", "hostb"), map[string]string{
		"hosta": hostAFile,
		"hostb": hostBFile,
	})
	j.Process()
	res := j.Result()

	if res.Failed || !res.Complete || res.ID != "42" {
		t.Fatalf("Result() = %+v", res)
	}
	if len(res.Schemas) != 2 || res.Schemas[0].Type != "cpu" || res.Schemas[1].Fields[0].Mult != 1024 {
		t.Fatalf("Schemas = %+v", res.Schemas)
	}
	if len(res.Hosts) != 2 || res.Hosts[0].Version != "2.0.9" {
		t.Fatalf("Hosts = %+v", res.Hosts)
	}
	series := res.Hosts[1].Series
	if len(series) != 2 || series[0].Type != "cpu" || len(series[0].Rows) != 5 {
		t.Fatalf("hostb series = %+v", series)
	}
	if got := series[0].Rows[1]; !reflect.DeepEqual(got, []uint64{1000, 0}) {
		t.Fatalf("hostb cpu row 1 = %v", got)
	}
	if len(res.Jitter) != 4 {
		t.Fatalf("len(Jitter) = %d, want 4", len(res.Jitter))
	}
	if !res.Hosts[0].Complete || res.Hosts[1].Complete != true {
		t.Fatalf("host completeness = %v/%v", res.Hosts[0].Complete, res.Hosts[1].Complete)
	}
}

func TestHighJitterReported(t *testing.T) {
	// hostb samples far from the time base of the two dense hosts.
	dense := header + lines(
		"%d 42", 0, "cpu 0 1 1", -1,
		"%d 42", 150, "cpu 0 2 2", -1,
		"%d 42", 300, "cpu 0 3 3", -1,
	)
	sparse := header + lines(
		"%d 42", 0, "cpu 0 1 1", -1,
		"%d 42", 300, "cpu 0 3 3", -1,
	)
	rec := model.AccountingRecord{ID: "42", StartTime: t0, EndTime: t0 + 300, HostList: []string{"a", "b", "c"}}
	j := newTestJob(t, rec, map[string]string{"a": dense, "b": sparse, "c": dense})
	if !j.Process() {
		t.Fatalf("Process() = false, errors %v", j.Errors())
	}
	found := false
	for _, e := range j.Errors() {
		if e == "HRJ b cpu" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Errors() = %q, want HRJ b cpu", j.Errors())
	}
}

func procdumpMarker(t *testing.T, command string) string {
	t.Helper()
	dump := "/proc/4521/status\n64\nName:\t" + command + "\nUid:\t5012\t5012\t5012\t5012\n"
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(dump)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return "%procdump " + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestProcessesFromFirstHost(t *testing.T) {
	withDump := func(command string) string {
		return header + lines("%d 42", 0, "cpu 0 1 1", -1) +
			procdumpMarker(t, command) + "\n" +
			lines("%d 42", 40, "cpu 0 2 2", -1)
	}
	root := t.TempDir()
	writeHost(t, root, "hosta", withDump("namd2"))
	writeHost(t, root, "hostb", withDump("lmp"))

	j := New(record("hosta", "hostb"), Options{
		Source:   logsource.ArchiveDir{Root: root},
		Procdump: true,
	})
	if !j.Process() {
		t.Fatalf("Process() = false, errors %v", j.Errors())
	}
	if got := j.Processes(); !reflect.DeepEqual(got, []string{"namd2"}) {
		t.Fatalf("Processes() = %v, want [namd2]", got)
	}
}
