package watch

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/warelay/internal/state"
)

func newLogTable(theme Theme) table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Time", Width: 8},
			{Title: "Kind", Width: 9},
			{Title: "ST", Width: 3},
			{Title: "Type", Width: 11},
			{Title: "Destination", Width: 28},
			{Title: "HTTP", Width: 4},
			{Title: "Try", Width: 3},
			{Title: "Error", Width: 30},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.Inherit(theme.TableHeader)
	s.Selected = s.Selected.Inherit(theme.TableSelected)
	t.SetStyles(s)
	return t
}

// logRows renders entries newest first.
func logRows(entries []state.LogEntry) []table.Row {
	rows := make([]table.Row, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		rows = append(rows, logRow(entries[i]))
	}
	return rows
}

func logRow(e state.LogEntry) table.Row {
	st := "✓"
	if e.Status == state.StatusError {
		st = "✗"
	}

	msgType := "-"
	if e.MessageType != nil {
		msgType = string(*e.MessageType)
		if e.Media != nil {
			msgType += "*"
		}
	}

	dest := "-"
	if e.DestinationURL != nil {
		dest = shortURL(*e.DestinationURL)
	}

	code := "-"
	if e.HTTPStatusCode != nil {
		code = strconv.Itoa(*e.HTTPStatusCode)
	}

	try := "-"
	if e.AttemptNumber > 0 {
		try = strconv.Itoa(e.AttemptNumber)
	}

	errText := ""
	if e.ErrorMessage != nil {
		errText = *e.ErrorMessage
	}

	return table.Row{
		e.Timestamp.Local().Format("15:04:05"),
		string(e.Kind),
		st,
		msgType,
		dest,
		code,
		try,
		errText,
	}
}

// shortURL drops the scheme so more of the host and path fit.
func shortURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host + u.EscapedPath()
}

func renderLogs(t table.Model, count int, theme Theme, width int) string {
	innerWidth := width - 4

	title := theme.Title.Render(fmt.Sprintf("RECENT LOGS (%d)", count))
	if count == 0 {
		return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left,
			title,
			theme.Dim.Render("  No log entries yet"),
		))
	}
	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left,
		title,
		t.View(),
	))
}
