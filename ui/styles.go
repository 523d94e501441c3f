package ui

import "github.com/charmbracelet/lipgloss"

const ellipsis = "…"

var (
	mintGreen = lipgloss.AdaptiveColor{Light: "#89F0CB", Dark: "#89F0CB"}
	darkGreen = lipgloss.AdaptiveColor{Light: "#1C8760", Dark: "#1C8760"}
	fuchsia   = lipgloss.Color("#EE6FF8")
	red       = lipgloss.AdaptiveColor{Light: "#FF4672", Dark: "#ED567A"}

	faintFg = lipgloss.AdaptiveColor{Light: "#656565", Dark: "#7D7D7D"}

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ECFD65")).
			Background(fuchsia).
			Bold(true).
			Padding(0, 1).
			Render

	voiceStyle = lipgloss.NewStyle().
			Foreground(faintFg).
			Render

	elapsedStyle = lipgloss.NewStyle().
			Foreground(faintFg).
			Render

	logLineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#3A3A3A", Dark: "#BCBCBC"}).
			Render

	successStyle = lipgloss.NewStyle().
			Foreground(mintGreen).
			Background(darkGreen).
			Padding(0, 1).
			Render

	errorStyle = lipgloss.NewStyle().
			Foreground(red).
			Bold(true).
			Render

	helpStyle = lipgloss.NewStyle().
			Foreground(faintFg).
			Render

	spinnerStyle = lipgloss.NewStyle().
			Foreground(fuchsia)
)
