package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/tinytelemetry/hpcjob/internal/model"
)

type detailLoadedMsg struct {
	id     string
	detail *model.JobDetail
	keys   []model.SeriesKey
	err    error
}

type seriesLoadedMsg struct {
	id, host, typeName, key string
	points                  []model.SeriesPoint
	err                     error
}

// JobPage shows one job: its summary, a chart of one metric summed over
// hosts (or for a single host), and the job's errors and overflows.
type JobPage struct {
	q    model.JobQuerier
	keys KeyMap
	help help.Model

	id      string
	detail  *model.JobDetail
	series  []model.SeriesKey
	sel     int
	host    int // -1 = all hosts
	points  []model.SeriesPoint
	loading bool
	err     error
}

// NewJobPage builds the detail page. The job id arrives via SetParams.
func NewJobPage(q model.JobQuerier) *JobPage {
	return &JobPage{q: q, keys: DefaultKeyMap(), help: help.New(), host: -1}
}

func (p *JobPage) ID() string { return JobPageID }

// SetParams selects the job to show.
func (p *JobPage) SetParams(params interface{}) {
	id, ok := params.(string)
	if !ok {
		return
	}
	p.id = id
	p.detail = nil
	p.series = nil
	p.points = nil
	p.sel = 0
	p.host = -1
	p.err = nil
}

func (p *JobPage) Init() tea.Cmd {
	if p.id == "" {
		return nil
	}
	p.loading = true
	q, id := p.q, p.id
	return func() tea.Msg {
		detail, err := q.JobDetail(id)
		if err != nil {
			return detailLoadedMsg{id: id, err: err}
		}
		if detail == nil {
			return detailLoadedMsg{id: id, err: fmt.Errorf("job %s not found", id)}
		}
		keys, err := q.SeriesKeys(id)
		return detailLoadedMsg{id: id, detail: detail, keys: keys, err: err}
	}
}

func (p *JobPage) loadSeries() tea.Cmd {
	if len(p.series) == 0 {
		return nil
	}
	k := p.series[p.sel]
	q, id := p.q, p.id
	host := p.hostName()
	p.loading = true
	return func() tea.Msg {
		var points []model.SeriesPoint
		var err error
		if host == "" {
			points, err = q.AggregateSeries(id, k.Type, k.Key)
		} else {
			points, err = q.HostSeries(id, host, k.Type, k.Key)
		}
		return seriesLoadedMsg{id: id, host: host, typeName: k.Type, key: k.Key, points: points, err: err}
	}
}

func (p *JobPage) hostName() string {
	if p.detail == nil || p.host < 0 || p.host >= len(p.detail.HostNames) {
		return ""
	}
	return p.detail.HostNames[p.host]
}

func (p *JobPage) Update(msg tea.Msg) (tea.Cmd, *PageNav) {
	switch msg := msg.(type) {
	case detailLoadedMsg:
		if msg.id != p.id {
			return nil, nil
		}
		p.loading = false
		p.err = msg.err
		p.detail = msg.detail
		p.series = msg.keys
		return p.loadSeries(), nil

	case seriesLoadedMsg:
		if len(p.series) == 0 || msg.id != p.id {
			return nil, nil
		}
		k := p.series[p.sel]
		if msg.typeName != k.Type || msg.key != k.Key || msg.host != p.hostName() {
			return nil, nil
		}
		p.loading = false
		p.err = msg.err
		p.points = msg.points
		return nil, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, p.keys.Quit):
			return tea.Quit, nil
		case key.Matches(msg, p.keys.Back):
			return nil, &PageNav{Back: true}
		case key.Matches(msg, p.keys.NextSeries):
			return p.moveSeries(1), nil
		case key.Matches(msg, p.keys.PrevSeries):
			return p.moveSeries(-1), nil
		case key.Matches(msg, p.keys.NextHost):
			return p.moveHost(1), nil
		case key.Matches(msg, p.keys.PrevHost):
			return p.moveHost(-1), nil
		}
	}
	return nil, nil
}

func (p *JobPage) moveSeries(delta int) tea.Cmd {
	n := len(p.series)
	if n == 0 {
		return nil
	}
	p.sel = ((p.sel+delta)%n + n) % n
	p.points = nil
	return p.loadSeries()
}

// moveHost cycles through "all hosts" followed by each host.
func (p *JobPage) moveHost(delta int) tea.Cmd {
	if p.detail == nil || len(p.detail.HostNames) == 0 {
		return nil
	}
	n := len(p.detail.HostNames) + 1
	p.host = ((p.host+1+delta)%n+n)%n - 1
	p.points = nil
	return p.loadSeries()
}

// field returns the schema field behind the selected series.
func (p *JobPage) field() (model.SchemaField, bool) {
	if p.detail == nil || len(p.series) == 0 {
		return model.SchemaField{}, false
	}
	k := p.series[p.sel]
	for _, s := range p.detail.Schemas {
		if s.Type != k.Type {
			continue
		}
		for _, f := range s.Fields {
			if f.Key == k.Key {
				return f, true
			}
		}
	}
	return model.SchemaField{}, false
}

func (p *JobPage) View(width, height int) string {
	if p.err != nil && p.detail == nil {
		return errorStyle.Render("error: "+p.err.Error()) + "\n\n" + p.help.ShortHelpView(p.keys.detailHelp())
	}
	if p.detail == nil {
		return renderLoadingPlaceholder(width, height)
	}
	d := p.detail

	lines := []string{
		titleStyle.Render("Job "+d.ID) + "  " + statusLabel(d.Failed, d.Complete),
		dimStyle.Render(fmt.Sprintf("user %s · %s · %s → %s · %d hosts · %d samples",
			orDash(d.User), orDash(d.Name),
			time.Unix(d.StartTime, 0).Format("2006-01-02 15:04"),
			time.Unix(d.EndTime, 0).Format("15:04"),
			d.Hosts, d.Samples)),
		"",
	}

	chartHeight := max(5, height/2-4)
	if len(p.series) == 0 {
		lines = append(lines, dimStyle.Render("no series stored for this job"))
	} else {
		k := p.series[p.sel]
		f, _ := p.field()
		scope := "all hosts"
		if h := p.hostName(); h != "" {
			scope = h
		}
		lines = append(lines, sectionStyle.Render(fmt.Sprintf("%s.%s", k.Type, k.Key))+
			dimStyle.Render(fmt.Sprintf("  (%d/%d) · %s · %d devices", p.sel+1, len(p.series), scope, k.Devices)))

		values := displayValues(p.points, f.Event)
		if p.loading && p.points == nil {
			lines = append(lines, renderLoadingPlaceholder(width, chartHeight))
		} else {
			lines = append(lines, renderSeriesChart(values, width-2, chartHeight))
			lines = append(lines, dimStyle.Render(chartLegend(values, f.Unit, f.Event)))
		}
	}

	room := max(2, height-len(lines)-chartHeight-4)
	lines = append(lines, "", sectionStyle.Render(fmt.Sprintf("Errors (%d)", len(d.Errors))))
	lines = append(lines, clip(d.Errors, room/2, errorStyle.Render)...)

	overflows := make([]string, 0, len(d.Overflows))
	for _, o := range d.Overflows {
		overflows = append(overflows, fmt.Sprintf("%s %s %s on %s", o.Type, o.Device, o.Key, strings.Join(o.Hosts, ",")))
	}
	lines = append(lines, "", sectionStyle.Render(fmt.Sprintf("Overflows (%d)", len(overflows))))
	lines = append(lines, clip(overflows, room/2, warnStyle.Render)...)

	lines = append(lines, "", p.help.ShortHelpView(p.keys.detailHelp()))
	return strings.Join(lines, "\n")
}

func clip(items []string, n int, render func(...string) string) []string {
	if len(items) == 0 {
		return []string{dimStyle.Render("  none")}
	}
	n = max(1, n)
	out := make([]string, 0, min(n, len(items))+1)
	for i, s := range items {
		if i == n {
			out = append(out, dimStyle.Render(fmt.Sprintf("  … %d more", len(items)-n)))
			break
		}
		out = append(out, render("  "+s))
	}
	return out
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
