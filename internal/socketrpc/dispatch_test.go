package socketrpc

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/tinytelemetry/hpcjob/internal/model"
)

// stubQuerier returns fixed values for dispatch unit testing.
type stubQuerier struct {
	lastOpts model.QueryOpts
	lastArgs []string
}

func (q *stubQuerier) TotalJobCount(opts model.QueryOpts) (int64, error) {
	q.lastOpts = opts
	return 100, nil
}
func (q *stubQuerier) ListJobs(opts model.QueryOpts) ([]model.JobSummary, error) {
	q.lastOpts = opts
	return []model.JobSummary{{ID: "1001", User: "alice", Complete: true}}, nil
}
func (q *stubQuerier) JobDetail(id string) (*model.JobDetail, error) {
	q.lastArgs = []string{id}
	if id != "1001" {
		return nil, nil
	}
	return &model.JobDetail{JobSummary: model.JobSummary{ID: id}, Errors: []string{"e"}}, nil
}
func (q *stubQuerier) JobExists(id string) (bool, error) { return id == "1001", nil }
func (q *stubQuerier) SeriesKeys(id string) ([]model.SeriesKey, error) {
	return []model.SeriesKey{{Type: "cpu", Key: "user", Devices: 2}}, nil
}
func (q *stubQuerier) AggregateSeries(id, typeName, key string) ([]model.SeriesPoint, error) {
	q.lastArgs = []string{id, typeName, key}
	return []model.SeriesPoint{{Index: 0, Time: 10, Value: 1}}, nil
}
func (q *stubQuerier) HostSeries(id, host, typeName, key string) ([]model.SeriesPoint, error) {
	q.lastArgs = []string{id, host, typeName, key}
	if host == "" {
		return nil, errors.New("host is required")
	}
	return []model.SeriesPoint{{Index: 0, Time: 10, Value: 2}}, nil
}

func newTestDispatcher() (*Server, *stubQuerier) {
	q := &stubQuerier{}
	return NewServer("", q, nil), q
}

func call(t *testing.T, s *Server, method, params string) Response {
	t.Helper()
	req := Request{JSONRPC: "2.0", ID: 7, Method: method}
	if params != "" {
		req.Params = json.RawMessage(params)
	}
	resp := s.dispatch(req)
	if resp.ID != 7 || resp.JSONRPC != "2.0" {
		t.Fatalf("response envelope = %+v", resp)
	}
	return resp
}

func TestDispatchTotalJobCount(t *testing.T) {
	s, q := newTestDispatcher()

	resp := call(t, s, "TotalJobCount", `{"Opts":{"Status":"failed","User":"bob"}}`)
	if resp.Error != nil {
		t.Fatalf("error = %v", resp.Error)
	}
	if string(resp.Result) != "100" {
		t.Errorf("result = %s, want 100", resp.Result)
	}
	if q.lastOpts.Status != "failed" || q.lastOpts.User != "bob" {
		t.Errorf("opts = %+v", q.lastOpts)
	}

	if resp := call(t, s, "TotalJobCount", ""); resp.Error != nil {
		t.Errorf("empty params rejected: %v", resp.Error)
	}
	if resp := call(t, s, "ListJobs", "null"); resp.Error != nil {
		t.Errorf("null params rejected: %v", resp.Error)
	}
}

func TestDispatchJobDetail(t *testing.T) {
	s, _ := newTestDispatcher()

	resp := call(t, s, "JobDetail", `{"ID":"1001"}`)
	var d model.JobDetail
	if err := json.Unmarshal(resp.Result, &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.ID != "1001" || len(d.Errors) != 1 {
		t.Errorf("detail = %+v", d)
	}

	resp = call(t, s, "JobDetail", `{"ID":"nope"}`)
	if resp.Error != nil || string(resp.Result) != "null" {
		t.Errorf("missing job = %s, %v; want null", resp.Result, resp.Error)
	}
}

func TestDispatchSeries(t *testing.T) {
	s, q := newTestDispatcher()

	call(t, s, "AggregateSeries", `{"ID":"1","Type":"cpu","Key":"user"}`)
	if len(q.lastArgs) != 3 || q.lastArgs[1] != "cpu" || q.lastArgs[2] != "user" {
		t.Errorf("AggregateSeries args = %v", q.lastArgs)
	}

	call(t, s, "HostSeries", `{"ID":"1","Host":"c1","Type":"cpu","Key":"user"}`)
	if len(q.lastArgs) != 4 || q.lastArgs[1] != "c1" {
		t.Errorf("HostSeries args = %v", q.lastArgs)
	}

	resp := call(t, s, "HostSeries", `{"ID":"1","Type":"cpu","Key":"user"}`)
	if resp.Error == nil || resp.Error.Code != codeApplication {
		t.Errorf("store error = %+v, want application error", resp.Error)
	}
}

func TestDispatchErrors(t *testing.T) {
	s, _ := newTestDispatcher()

	tests := []struct {
		method, params string
		code           int
	}{
		{"NoSuchMethod", "", codeMethodNotFound},
		{"JobDetail", "", codeInvalidParams},
		{"JobExists", `{"ID":`, codeInvalidParams},
		{"SeriesKeys", `[1,2]`, codeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			resp := call(t, s, tt.method, tt.params)
			if resp.Error == nil || resp.Error.Code != tt.code {
				t.Errorf("error = %+v, want code %d", resp.Error, tt.code)
			}
		})
	}
}
