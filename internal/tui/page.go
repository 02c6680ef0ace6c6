package tui

import tea "github.com/charmbracelet/bubbletea"

// Page represents a top-level screen in the TUI.
type Page interface {
	ID() string
	Init() tea.Cmd
	Update(msg tea.Msg) (tea.Cmd, *PageNav)
	View(width, height int) string
}

// PageNav is returned from Update to request a page switch. Back returns to
// the previously shown page and ignores PageID.
type PageNav struct {
	PageID string
	Params interface{}
	Back   bool
}

// ParamPage is a Page that takes arguments when navigated to.
type ParamPage interface {
	Page
	SetParams(params interface{})
}
