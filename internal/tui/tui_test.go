package tui

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tinytelemetry/hpcjob/internal/model"
)

type stubQuerier struct {
	jobs       []model.JobSummary
	detail     *model.JobDetail
	keys       []model.SeriesKey
	points     []model.SeriesPoint
	lastStatus string
	lastHost   string
	listErr    error
}

func (s *stubQuerier) TotalJobCount(opts model.QueryOpts) (int64, error) {
	return int64(len(s.jobs)), nil
}

func (s *stubQuerier) ListJobs(opts model.QueryOpts) ([]model.JobSummary, error) {
	s.lastStatus = opts.Status
	return s.jobs, s.listErr
}

func (s *stubQuerier) JobDetail(id string) (*model.JobDetail, error) {
	if s.detail == nil || s.detail.ID != id {
		return nil, nil
	}
	return s.detail, nil
}

func (s *stubQuerier) JobExists(id string) (bool, error) { return s.detail != nil, nil }

func (s *stubQuerier) SeriesKeys(id string) ([]model.SeriesKey, error) { return s.keys, nil }

func (s *stubQuerier) AggregateSeries(id, typeName, key string) ([]model.SeriesPoint, error) {
	s.lastHost = ""
	return s.points, nil
}

func (s *stubQuerier) HostSeries(id, host, typeName, key string) ([]model.SeriesPoint, error) {
	s.lastHost = host
	return s.points, nil
}

func newStub() *stubQuerier {
	return &stubQuerier{
		jobs: []model.JobSummary{
			{ID: "1002", User: "bob", StartTime: 1400000000, EndTime: 1400003600, Hosts: 2, Complete: true},
			{ID: "1001", User: "alice", StartTime: 1400000000, EndTime: 1400000060, Failed: true, ErrorCount: 1},
		},
		detail: &model.JobDetail{
			JobSummary: model.JobSummary{ID: "1002", User: "bob", Hosts: 2, Complete: true},
			Times:      []float64{0, 10, 20},
			Schemas: []model.SchemaInfo{{Type: "cpu", Fields: []model.SchemaField{
				{Key: "user", Event: true, Unit: "cs"},
				{Key: "idle", Event: true},
			}}},
			HostNames: []string{"c401-101", "c401-102"},
			Errors:    []string{"Number of records differs between hosts (min 2, max 3)"},
		},
		keys: []model.SeriesKey{{Type: "cpu", Key: "user", Devices: 4}, {Type: "cpu", Key: "idle", Devices: 4}},
		points: []model.SeriesPoint{
			{Index: 0, Time: 0, Value: 0},
			{Index: 1, Time: 10, Value: 100},
			{Index: 2, Time: 20, Value: 300},
		},
	}
}

// drive runs cmd and feeds every resulting message back into page, following
// batches. Ticks are dropped.
func drive(t *testing.T, page Page, cmd tea.Cmd) {
	t.Helper()
	queue := []tea.Cmd{cmd}
	for steps := 0; len(queue) > 0; steps++ {
		if steps > 50 {
			t.Fatal("command loop did not settle")
		}
		c := queue[0]
		queue = queue[1:]
		if c == nil {
			continue
		}
		switch msg := c().(type) {
		case tea.BatchMsg:
			queue = append(queue, msg...)
		case jobsTickMsg:
		case nil:
		default:
			next, _ := page.Update(msg)
			queue = append(queue, next)
		}
	}
}

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "right":
		return tea.KeyMsg{Type: tea.KeyRight}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestJobsPageLoadsAndRenders(t *testing.T) {
	q := newStub()
	p := NewJobsPage(q, 0)
	p.Update(tea.WindowSizeMsg{Width: 140, Height: 30})
	drive(t, p, p.Init())

	if len(p.jobs) != 2 || p.total != 2 {
		t.Fatalf("jobs = %d, total = %d, want 2/2", len(p.jobs), p.total)
	}
	view := p.View(140, 30)
	for _, want := range []string{"1002", "alice", "failed", "1h0m0s"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestJobsPageStatusFilterCycles(t *testing.T) {
	q := newStub()
	p := NewJobsPage(q, 0)
	drive(t, p, p.Init())

	for _, want := range []string{model.StatusComplete, model.StatusIncomplete, model.StatusFailed, model.StatusAll} {
		cmd, _ := p.Update(keyMsg("s"))
		drive(t, p, cmd)
		if q.lastStatus != want {
			t.Fatalf("status = %q, want %q", q.lastStatus, want)
		}
	}
}

func TestJobsPageError(t *testing.T) {
	q := newStub()
	q.listErr = errors.New("socket closed")
	p := NewJobsPage(q, 0)
	drive(t, p, p.Init())
	if !strings.Contains(p.View(80, 20), "socket closed") {
		t.Fatal("error not shown")
	}
}

func TestAppNavigatesToJob(t *testing.T) {
	q := newStub()
	jobs := NewJobsPage(q, 0)
	job := NewJobPage(q)
	app := NewApp(jobs, job)
	drive(t, jobs, app.Init())

	_, cmd := app.Update(keyMsg("enter"))
	if app.ActivePage() != JobPageID {
		t.Fatalf("active page = %q, want %q", app.ActivePage(), JobPageID)
	}
	if job.id != "1002" {
		t.Fatalf("job id = %q, want first row 1002", job.id)
	}
	drive(t, job, cmd)

	if job.detail == nil || len(job.series) != 2 {
		t.Fatalf("detail = %+v, series = %v", job.detail, job.series)
	}
	if len(job.points) != 3 {
		t.Fatalf("points = %v, want 3", job.points)
	}
	view := job.View(120, 40)
	for _, want := range []string{"Job 1002", "cpu.user", "all hosts", "Number of records differs"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}

	app.Update(keyMsg("esc"))
	if app.ActivePage() != JobsPageID {
		t.Fatalf("active page after esc = %q", app.ActivePage())
	}
	if app.Depth() != 0 {
		t.Fatalf("Depth() after back = %d, want 0", app.Depth())
	}
}

func TestAppBackWithoutHistoryStays(t *testing.T) {
	q := newStub()
	job := NewJobPage(q)
	job.SetParams("1002")
	app := NewApp(job, NewJobsPage(q, 0))

	if _, cmd := app.Update(keyMsg("esc")); cmd != nil {
		if _, ok := cmd().(tea.QuitMsg); ok {
			t.Fatal("esc quit the app")
		}
	}
	if app.ActivePage() != JobPageID {
		t.Fatalf("active page = %q, want %q", app.ActivePage(), JobPageID)
	}
}

func TestAppForceQuit(t *testing.T) {
	app := NewApp(NewJobsPage(newStub(), 0))
	_, cmd := app.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("ctrl+c returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("ctrl+c did not quit")
	}
}

func TestAppResizesPageOnNavigate(t *testing.T) {
	q := newStub()
	jobs := NewJobsPage(q, 0)
	job := NewJobPage(q)
	app := NewApp(job, jobs)
	app.Update(tea.WindowSizeMsg{Width: 120, Height: 30})

	app.navigate(PageNav{PageID: JobsPageID})
	if jobs.width != 120 || jobs.height != 30 {
		t.Fatalf("jobs page size = %dx%d, want 120x30", jobs.width, jobs.height)
	}
	if app.Depth() != 1 {
		t.Fatalf("Depth() = %d, want 1", app.Depth())
	}
}

func TestJobPageCyclesSeriesAndHosts(t *testing.T) {
	q := newStub()
	p := NewJobPage(q)
	p.SetParams("1002")
	drive(t, p, p.Init())

	cmd, _ := p.Update(keyMsg("right"))
	drive(t, p, cmd)
	if k := p.series[p.sel]; k.Key != "idle" {
		t.Fatalf("selected = %+v, want idle", k)
	}

	cmd, _ = p.Update(keyMsg("tab"))
	drive(t, p, cmd)
	if q.lastHost != "c401-101" {
		t.Fatalf("host = %q, want c401-101", q.lastHost)
	}
	p.Update(keyMsg("tab"))
	cmd, _ = p.Update(keyMsg("tab"))
	drive(t, p, cmd)
	if q.lastHost != "" || p.hostName() != "" {
		t.Fatalf("host = %q, want wrap to all hosts", q.lastHost)
	}
}

func TestJobPageMissingJob(t *testing.T) {
	p := NewJobPage(newStub())
	p.SetParams("404")
	drive(t, p, p.Init())
	if !strings.Contains(p.View(80, 20), "job 404 not found") {
		t.Fatal("missing job not reported")
	}
}

func TestDisplayValues(t *testing.T) {
	points := newStub().points
	if got, want := displayValues(points, true), []float64{10, 20}; !reflect.DeepEqual(got, want) {
		t.Fatalf("rates = %v, want %v", got, want)
	}
	if got, want := displayValues(points, false), []float64{0, 100, 300}; !reflect.DeepEqual(got, want) {
		t.Fatalf("gauge = %v, want %v", got, want)
	}
	if got := displayValues(points[:1], true); len(got) != 0 {
		t.Fatalf("single point rates = %v, want none", got)
	}
}

func TestBucket(t *testing.T) {
	if got, want := bucket([]float64{1, 3, 5, 7, 9, 11}, 3), []float64{2, 6, 10}; !reflect.DeepEqual(got, want) {
		t.Fatalf("bucket = %v, want %v", got, want)
	}
	in := []float64{1, 2}
	if got := bucket(in, 5); !reflect.DeepEqual(got, in) {
		t.Fatalf("short input changed: %v", got)
	}
}

func TestRenderSeriesChart(t *testing.T) {
	out := renderSeriesChart([]float64{1, 2, 3}, 30, 5)
	if strings.Count(out, "\n") < 2 {
		t.Fatalf("chart has too few lines:\n%s", out)
	}
	if !strings.Contains(renderSeriesChart(nil, 30, 5), "no data points") {
		t.Fatal("empty chart placeholder missing")
	}
}
