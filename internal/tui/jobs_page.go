package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tinytelemetry/hpcjob/internal/model"
)

// Page ids.
const (
	JobsPageID = "jobs"
	JobPageID  = "job"
)

var statusFilters = []string{model.StatusAll, model.StatusComplete, model.StatusIncomplete, model.StatusFailed}

type jobsLoadedMsg struct {
	jobs  []model.JobSummary
	total int64
	err   error
}

type jobsTickMsg struct{ gen int }

// JobsPage lists stored jobs, newest first.
type JobsPage struct {
	q        model.JobQuerier
	keys     KeyMap
	help     help.Model
	table    table.Model
	interval time.Duration

	jobs    []model.JobSummary
	total   int64
	status  int
	loading bool
	err     error
	gen     int
	width   int
	height  int
}

// NewJobsPage builds the job list. interval <= 0 disables auto refresh.
func NewJobsPage(q model.JobQuerier, interval time.Duration) *JobsPage {
	t := table.New(
		table.WithColumns(jobColumns(100)),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.Bold(true).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(ColorGray)
	s.Selected = s.Selected.Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57"))
	t.SetStyles(s)

	return &JobsPage{
		q:        q,
		keys:     DefaultKeyMap(),
		help:     help.New(),
		table:    t,
		interval: interval,
	}
}

func jobColumns(width int) []table.Column {
	fixed := []table.Column{
		{Title: "Job", Width: 12},
		{Title: "User", Width: 10},
		{Title: "Start", Width: 16},
		{Title: "Runtime", Width: 9},
		{Title: "Hosts", Width: 6},
		{Title: "Samples", Width: 8},
		{Title: "Status", Width: 9},
		{Title: "Errors", Width: 7},
		{Title: "Overflows", Width: 9},
	}
	used := 0
	for _, c := range fixed {
		used += c.Width + 2
	}
	name := max(10, width-used-2)
	return append(fixed, table.Column{Title: "Name", Width: name})
}

func (p *JobsPage) ID() string { return JobsPageID }

func (p *JobsPage) Init() tea.Cmd {
	p.gen++
	p.loading = true
	return tea.Batch(p.load(), p.tick())
}

func (p *JobsPage) load() tea.Cmd {
	q := p.q
	opts := model.QueryOpts{Status: statusFilters[p.status]}
	return func() tea.Msg {
		jobs, err := q.ListJobs(opts)
		if err != nil {
			return jobsLoadedMsg{err: err}
		}
		total, err := q.TotalJobCount(opts)
		return jobsLoadedMsg{jobs: jobs, total: total, err: err}
	}
}

func (p *JobsPage) tick() tea.Cmd {
	if p.interval <= 0 {
		return nil
	}
	gen := p.gen
	return tea.Tick(p.interval, func(time.Time) tea.Msg { return jobsTickMsg{gen: gen} })
}

func (p *JobsPage) Update(msg tea.Msg) (tea.Cmd, *PageNav) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		p.width, p.height = msg.Width, msg.Height
		p.table.SetColumns(jobColumns(msg.Width))
		p.table.SetWidth(msg.Width)
		p.table.SetHeight(max(3, msg.Height-5))
		return nil, nil

	case jobsLoadedMsg:
		p.loading = false
		p.err = msg.err
		if msg.err == nil {
			p.jobs = msg.jobs
			p.total = msg.total
			p.table.SetRows(jobRows(msg.jobs))
		}
		return nil, nil

	case jobsTickMsg:
		if msg.gen != p.gen {
			return nil, nil
		}
		return tea.Batch(p.load(), p.tick()), nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, p.keys.Quit):
			return tea.Quit, nil
		case key.Matches(msg, p.keys.Enter):
			row := p.table.SelectedRow()
			if len(row) == 0 {
				return nil, nil
			}
			return nil, &PageNav{PageID: JobPageID, Params: row[0]}
		case key.Matches(msg, p.keys.Refresh):
			p.loading = true
			return p.load(), nil
		case key.Matches(msg, p.keys.Status):
			p.status = (p.status + 1) % len(statusFilters)
			p.table.SetCursor(0)
			p.loading = true
			return p.load(), nil
		}
	}

	var cmd tea.Cmd
	p.table, cmd = p.table.Update(msg)
	return cmd, nil
}

func jobRows(jobs []model.JobSummary) []table.Row {
	rows := make([]table.Row, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, table.Row{
			j.ID,
			j.User,
			time.Unix(j.StartTime, 0).Format("2006-01-02 15:04"),
			formatRuntime(j.EndTime - j.StartTime),
			fmt.Sprint(j.Hosts),
			fmt.Sprint(j.Samples),
			statusText(j.Failed, j.Complete),
			fmt.Sprint(j.ErrorCount),
			fmt.Sprint(j.OverflowCount),
			j.Name,
		})
	}
	return rows
}

func statusText(failed, complete bool) string {
	switch {
	case failed:
		return "failed"
	case complete:
		return "complete"
	default:
		return "partial"
	}
}

func formatRuntime(sec int64) string {
	if sec <= 0 {
		return "0s"
	}
	return (time.Duration(sec) * time.Second).String()
}

func (p *JobsPage) View(width, height int) string {
	filter := statusFilters[p.status]
	if filter == "" {
		filter = "all"
	}
	header := titleStyle.Render("hpcjob") + "  " +
		dimStyle.Render(fmt.Sprintf("%d of %d jobs · status: %s", len(p.jobs), p.total, filter))

	var body string
	switch {
	case p.err != nil:
		body = errorStyle.Render("error: " + p.err.Error())
	case p.loading && len(p.jobs) == 0:
		body = renderLoadingPlaceholder(width, max(3, height-4))
	case len(p.jobs) == 0:
		body = dimStyle.Render("no jobs stored yet")
	default:
		body = p.table.View()
	}

	footer := p.help.ShortHelpView(p.keys.jobsHelp())
	return strings.Join([]string{header, "", body, footer}, "\n")
}
