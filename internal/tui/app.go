package tui

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// App is the top-level Bubble Tea model that routes between pages. It keeps
// the trail of visited pages so a page can ask to go back without knowing
// where it was opened from.
type App struct {
	pages   map[string]Page
	order   []string
	active  string
	history []string
	keys    KeyMap
	width   int
	height  int
}

// NewApp creates an App over pages. The first page is shown at start.
func NewApp(pages ...Page) *App {
	a := &App{
		pages: make(map[string]Page, len(pages)),
		keys:  DefaultKeyMap(),
	}
	for _, p := range pages {
		if _, dup := a.pages[p.ID()]; !dup {
			a.order = append(a.order, p.ID())
		}
		a.pages[p.ID()] = p
	}
	if len(a.order) > 0 {
		a.active = a.order[0]
	}
	return a
}

// ActivePage returns the id of the page on screen.
func (a *App) ActivePage() string { return a.active }

// Depth returns how many pages a Back navigation can return through.
func (a *App) Depth() int { return len(a.history) }

func (a *App) Init() tea.Cmd {
	if p, ok := a.pages[a.active]; ok {
		return p.Init()
	}
	return nil
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width, a.height = msg.Width, msg.Height
	case tea.KeyMsg:
		if key.Matches(msg, a.keys.ForceQuit) {
			return a, tea.Quit
		}
	}

	p, ok := a.pages[a.active]
	if !ok {
		return a, nil
	}
	cmd, nav := p.Update(msg)
	if nav == nil {
		return a, cmd
	}
	return a, tea.Batch(cmd, a.navigate(*nav))
}

// navigate switches pages and returns the new page's Init command. Requests
// for unknown pages, or Back with nothing to return to, are ignored.
func (a *App) navigate(nav PageNav) tea.Cmd {
	var target string
	switch {
	case nav.Back:
		if len(a.history) == 0 {
			return nil
		}
		target = a.history[len(a.history)-1]
		a.history = a.history[:len(a.history)-1]
	default:
		if _, ok := a.pages[nav.PageID]; !ok {
			return nil
		}
		target = nav.PageID
		if target != a.active {
			a.history = append(a.history, a.active)
		}
	}

	next := a.pages[target]
	if pp, ok := next.(ParamPage); ok && nav.Params != nil {
		pp.SetParams(nav.Params)
	}
	a.active = target
	if a.width > 0 {
		// Pages that missed the resize while hidden get the current size.
		next.Update(tea.WindowSizeMsg{Width: a.width, Height: a.height})
	}
	return next.Init()
}

func (a *App) View() string {
	if p, ok := a.pages[a.active]; ok {
		return p.View(a.width, a.height)
	}
	return "No active page"
}
