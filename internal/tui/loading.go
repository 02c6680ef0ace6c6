package tui

import (
	"time"

	"github.com/charmbracelet/lipgloss"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// renderLoadingPlaceholder renders an animated loading indicator.
// The frame is selected based on the current time so it animates on re-render.
func renderLoadingPlaceholder(width, height int) string {
	frame := spinnerFrames[time.Now().UnixMilli()/120%int64(len(spinnerFrames))]
	text := dimStyle.Italic(true).Render(frame + " Loading...")
	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, text)
}
