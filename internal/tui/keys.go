package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines all viewer key bindings with built-in help text.
type KeyMap struct {
	Quit      key.Binding
	ForceQuit key.Binding
	Back      key.Binding
	Enter     key.Binding
	Refresh   key.Binding
	Status    key.Binding

	NextSeries key.Binding
	PrevSeries key.Binding
	NextHost   key.Binding
	PrevHost   key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Quit: key.NewBinding(
			key.WithKeys("q"),
			key.WithHelp("q", "quit"),
		),
		ForceQuit: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("ctrl+c", "force quit"),
		),
		Back: key.NewBinding(
			key.WithKeys("esc", "backspace"),
			key.WithHelp("esc", "back"),
		),
		Enter: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "open job"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Status: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "status filter"),
		),
		NextSeries: key.NewBinding(
			key.WithKeys("right", "l"),
			key.WithHelp("→/l", "next metric"),
		),
		PrevSeries: key.NewBinding(
			key.WithKeys("left", "h"),
			key.WithHelp("←/h", "prev metric"),
		),
		NextHost: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "next host"),
		),
		PrevHost: key.NewBinding(
			key.WithKeys("shift+tab"),
			key.WithHelp("shift+tab", "prev host"),
		),
	}
}

func (k KeyMap) jobsHelp() []key.Binding {
	return []key.Binding{k.Enter, k.Status, k.Refresh, k.Quit}
}

func (k KeyMap) detailHelp() []key.Binding {
	return []key.Binding{k.PrevSeries, k.NextSeries, k.NextHost, k.Back, k.Quit}
}
