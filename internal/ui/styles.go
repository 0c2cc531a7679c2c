// Package ui renders snapwarden output for terminals.
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/yairfalse/snapwarden/executor"
	"github.com/yairfalse/snapwarden/types"
)

// Box drawing characters
const (
	topLeft     = "╭"
	topRight    = "╮"
	bottomLeft  = "╰"
	bottomRight = "╯"
	horizontal  = "─"
	vertical    = "│"
	leftT       = "├"
	rightT      = "┤"
	topT        = "┬"
	bottomT     = "┴"
	cross       = "┼"
)

// Color palette
const (
	ColorBorder  = "240"
	ColorHeader  = "252"
	ColorID      = "214"
	ColorProject = "81"
	ColorText    = "252"
	ColorSuccess = "82"
	ColorFailed  = "196"
	ColorSkipped = "245"
	ColorPending = "214"
	ColorMuted   = "240"
)

// Shared styles
var (
	BorderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorBorder))
	HeaderStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorHeader))
	IDStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorID))
	ProjectStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorProject))
	TextStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorText))
	SuccessStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorSuccess))
	FailedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorFailed))
	SkippedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorSkipped))
	PendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorPending))
	MutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorMuted))
)

// PadRight pads s to width display cells, truncating with "..." when it
// does not fit.
func PadRight(s string, width int) string {
	sw := runewidth.StringWidth(s)
	if sw > width {
		return runewidth.Truncate(s, width, "...")
	}
	return s + strings.Repeat(" ", width-sw)
}

// StateStyle picks the style and indicator for an instance power state
func StateStyle(state types.PowerState) (string, lipgloss.Style) {
	switch state {
	case types.PowerRunning:
		return "●", SuccessStyle
	case types.PowerPending, types.PowerStopping, types.PowerShuttingDown:
		return "◐", PendingStyle
	case types.PowerTerminated:
		return "✕", FailedStyle
	default:
		return "○", SkippedStyle
	}
}

// OutcomeStyle picks the style for an action, volume or instance outcome
func OutcomeStyle(outcome executor.Outcome) lipgloss.Style {
	switch outcome {
	case executor.OutcomeSuccess:
		return SuccessStyle
	case executor.OutcomeFailed:
		return FailedStyle
	default:
		return SkippedStyle
	}
}

// SnapshotStyle picks the style for a snapshot state
func SnapshotStyle(state types.SnapshotState) lipgloss.Style {
	switch state {
	case types.SnapshotCompleted:
		return SuccessStyle
	case types.SnapshotError:
		return FailedStyle
	default:
		return PendingStyle
	}
}
