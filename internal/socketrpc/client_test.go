package socketrpc_test

import (
	"bufio"
	"net"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/tinytelemetry/hpcjob/internal/model"
	"github.com/tinytelemetry/hpcjob/internal/socketrpc"
)

// mockQuerier is a minimal JobQuerier for roundtrip testing.
type mockQuerier struct{}

func (m *mockQuerier) TotalJobCount(opts model.QueryOpts) (int64, error) {
	if opts.Status == model.StatusFailed {
		return 1, nil
	}
	return 42, nil
}
func (m *mockQuerier) ListJobs(opts model.QueryOpts) ([]model.JobSummary, error) {
	return []model.JobSummary{{ID: "1001", User: "alice", Hosts: 2, Samples: 7, Complete: true}}, nil
}
func (m *mockQuerier) JobDetail(id string) (*model.JobDetail, error) {
	if id != "1001" {
		return nil, nil
	}
	return &model.JobDetail{
		JobSummary: model.JobSummary{ID: id, Hosts: 2},
		Times:      []float64{100, 110},
		HostNames:  []string{"c1", "c2"},
		Overflows:  []model.Overflow{{Type: "cpu", Device: "0", Key: "user", Hosts: []string{"c1"}}},
	}, nil
}
func (m *mockQuerier) JobExists(id string) (bool, error) { return id == "1001", nil }
func (m *mockQuerier) SeriesKeys(id string) ([]model.SeriesKey, error) {
	return []model.SeriesKey{{Type: "cpu", Key: "user", Devices: 4}}, nil
}
func (m *mockQuerier) AggregateSeries(id, typeName, key string) ([]model.SeriesPoint, error) {
	return []model.SeriesPoint{{Index: 0, Time: 100, Value: 0}, {Index: 1, Time: 110, Value: 12.5}}, nil
}
func (m *mockQuerier) HostSeries(id, host, typeName, key string) ([]model.SeriesPoint, error) {
	return []model.SeriesPoint{{Index: 1, Time: 110, Value: 3}}, nil
}

func startServer(t *testing.T) string {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "test.sock")
	srv := socketrpc.NewServer(sock, &mockQuerier{}, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(srv.Stop)
	return sock
}

func TestClientServerRoundtrip(t *testing.T) {
	sock := startServer(t)

	client, err := socketrpc.Dial(sock)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	count, err := client.TotalJobCount(model.QueryOpts{})
	if err != nil || count != 42 {
		t.Errorf("TotalJobCount = %d, %v; want 42", count, err)
	}
	if n, _ := client.TotalJobCount(model.QueryOpts{Status: model.StatusFailed}); n != 1 {
		t.Errorf("TotalJobCount(failed) = %d, want 1", n)
	}

	jobs, err := client.ListJobs(model.QueryOpts{Limit: 5})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "1001" || jobs[0].Samples != 7 {
		t.Errorf("ListJobs = %+v", jobs)
	}

	d, err := client.JobDetail("1001")
	if err != nil {
		t.Fatalf("JobDetail: %v", err)
	}
	if d == nil || d.Hosts != 2 || !reflect.DeepEqual(d.HostNames, []string{"c1", "c2"}) || len(d.Overflows) != 1 {
		t.Errorf("JobDetail = %+v", d)
	}

	missing, err := client.JobDetail("nope")
	if err != nil || missing != nil {
		t.Errorf("JobDetail(nope) = %+v, %v; want nil, nil", missing, err)
	}

	if ok, err := client.JobExists("1001"); err != nil || !ok {
		t.Errorf("JobExists = %v, %v", ok, err)
	}

	keys, err := client.SeriesKeys("1001")
	if err != nil || len(keys) != 1 || keys[0].Devices != 4 {
		t.Errorf("SeriesKeys = %+v, %v", keys, err)
	}

	points, err := client.AggregateSeries("1001", "cpu", "user")
	if err != nil || len(points) != 2 || points[1].Value != 12.5 {
		t.Errorf("AggregateSeries = %+v, %v", points, err)
	}

	hp, err := client.HostSeries("1001", "c1", "cpu", "user")
	if err != nil || len(hp) != 1 || hp[0].Value != 3 {
		t.Errorf("HostSeries = %+v, %v", hp, err)
	}
}

func TestServerRejectsSecondListener(t *testing.T) {
	sock := startServer(t)

	other := socketrpc.NewServer(sock, &mockQuerier{}, nil)
	if err := other.Start(); err == nil {
		other.Stop()
		t.Fatal("second server started on a live socket")
	}
}

func TestServerParseError(t *testing.T) {
	sock := startServer(t)

	conn, err := net.Dial("unix", sock)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("{not json\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if want := `"code":-32700`; !strings.Contains(line, want) {
		t.Errorf("response = %s, want %s", line, want)
	}
}
