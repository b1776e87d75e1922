package ui

import "github.com/charmbracelet/lipgloss"

// Color palette. Single cyan accent over grays keeps the build view readable
// on both dark and light terminals.
const (
	ColorAccent    = "51"  // Primary accent - bright cyan
	ColorAccentDim = "30"  // Dimmed cyan for inactive elements
	ColorWhite     = "255" // Headers, important text
	ColorGray      = "245" // Secondary text, labels
	ColorDarkGray  = "238" // Box borders, separators
	ColorRed       = "196" // Errors
	ColorYellow    = "220" // Warnings
)

// Styles holds all UI styles for TUI rendering.
type Styles struct {
	// Text styles
	Header   lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Dim      lipgloss.Style
	Stage    lipgloss.Style
	Active   lipgloss.Style
	Progress lipgloss.Style

	// Panel/layout styles
	Border    lipgloss.Style
	Panel     lipgloss.Style
	Sparkline lipgloss.Style
	Speed     lipgloss.Style
	Label     lipgloss.Style
}

func fg(color string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color))
}

// DefaultStyles returns styled components for TUI mode.
func DefaultStyles() Styles {
	return Styles{
		Header:   fg(ColorAccent).Bold(true),
		Success:  fg(ColorAccent),
		Warning:  fg(ColorYellow),
		Error:    fg(ColorRed),
		Dim:      fg(ColorDarkGray),
		Stage:    fg(ColorAccentDim),
		Active:   fg(ColorAccent).Bold(true),
		Progress: fg(ColorAccent),

		Border: fg(ColorDarkGray),
		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(ColorDarkGray)).
			Padding(0, 1),
		Sparkline: fg(ColorAccent),
		Speed:     fg(ColorGray),
		Label:     fg(ColorGray),
	}
}

// NoColorStyles returns unstyled components for plain mode.
func NoColorStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{
		Header:    plain,
		Success:   plain,
		Warning:   plain,
		Error:     plain,
		Dim:       plain,
		Stage:     plain,
		Active:    plain,
		Progress:  plain,
		Border:    plain,
		Panel:     plain,
		Sparkline: plain,
		Speed:     plain,
		Label:     plain,
	}
}

// GetStyles returns the appropriate styles based on color preference.
func GetStyles(noColor bool) Styles {
	if noColor {
		return NoColorStyles()
	}
	return DefaultStyles()
}
