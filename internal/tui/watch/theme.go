// Package watch implements the `warelay system watch` dashboard: relay
// health, counters, recent log entries and the live event stream.
package watch

import "github.com/charmbracelet/lipgloss"

// Theme holds every style the dashboard renders with.
type Theme struct {
	// Relay outcome colours, shared by the header, log table and event feed.
	Delivered lipgloss.Style
	Pending   lipgloss.Style
	Failed    lipgloss.Style
	Paused    lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style

	MeterOn       lipgloss.Style
	MeterOff      lipgloss.Style
	TableHeader   lipgloss.Style
	TableSelected lipgloss.Style
}

func fg(c string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(c))
}

// NewDefaultTheme uses WhatsApp green for healthy traffic.
func NewDefaultTheme() Theme {
	const (
		green = "#25D366"
		teal  = "#128C7E"
		amber = "#F4B400"
		red   = "#E5484D"
		grey  = "#8A8A8A"
	)

	return Theme{
		Delivered: fg(green),
		Pending:   fg(amber),
		Failed:    fg(red),
		Paused:    fg(grey),

		Border:    lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color(teal)),
		Title:     fg("#F5F5F5").Bold(true).Padding(0, 1),
		Dim:       fg(grey),
		Highlight: fg(amber).Bold(true),

		MeterOn:  fg(green),
		MeterOff: fg("#3A3A3A"),

		TableHeader: lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color(teal)).
			BorderBottom(true),
		TableSelected: lipgloss.NewStyle().Foreground(lipgloss.Color("#0B141A")).Background(lipgloss.Color(green)),
	}
}
