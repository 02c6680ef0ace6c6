package tui

import "github.com/charmbracelet/lipgloss"

var (
	ColorGray   = lipgloss.Color("240")
	ColorBlue   = lipgloss.Color("39")
	ColorGreen  = lipgloss.Color("42")
	ColorYellow = lipgloss.Color("220")
	ColorOrange = lipgloss.Color("208")
	ColorRed    = lipgloss.Color("196")
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(ColorBlue)
	dimStyle     = lipgloss.NewStyle().Foreground(ColorGray)
	errorStyle   = lipgloss.NewStyle().Foreground(ColorRed)
	warnStyle    = lipgloss.NewStyle().Foreground(ColorOrange)
	sectionStyle = lipgloss.NewStyle().Bold(true)
	barStyle     = lipgloss.NewStyle().Foreground(ColorBlue).Background(ColorBlue)
)

// statusLabel renders a job's outcome.
func statusLabel(failed, complete bool) string {
	switch {
	case failed:
		return errorStyle.Render("failed")
	case complete:
		return lipgloss.NewStyle().Foreground(ColorGreen).Render("complete")
	default:
		return lipgloss.NewStyle().Foreground(ColorYellow).Render("partial")
	}
}
