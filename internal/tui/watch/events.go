package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/warelay/internal/events"
)

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		eventsText,
	)

	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Local().Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch e.Type {
	case events.TypeDeliverySucceeded:
		typeStyle = theme.Delivered
	case events.TypeDeliveryFailed, events.TypeWebhookRejected:
		typeStyle = theme.Failed
	case events.TypeWebhookReceived:
		typeStyle = theme.Highlight
	default:
		typeStyle = theme.Dim
	}

	typeName := typeStyle.Render(fmt.Sprintf("%-20s", e.Type))
	return fmt.Sprintf("%s %s %s", ts, typeName, extractEventDesc(e))
}

func extractEventDesc(e events.Event) string {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	var parts []string

	if mt, ok := data["messageType"].(string); ok && mt != "" {
		parts = append(parts, mt)
	}
	if ev, ok := data["event"].(string); ok && ev != "" {
		parts = append(parts, ev)
	}
	if hasMedia, _ := data["hasMedia"].(bool); hasMedia {
		parts = append(parts, "+media")
	}
	if dest, ok := data["destination"].(string); ok {
		parts = append(parts, shortURL(dest))
	}
	if code, ok := data["statusCode"].(float64); ok && code > 0 {
		parts = append(parts, fmt.Sprintf("HTTP %d", int(code)))
	}
	if attempts, ok := data["attempts"].(float64); ok && attempts > 1 {
		parts = append(parts, fmt.Sprintf("after %d attempts", int(attempts)))
	}
	if msg, ok := data["error"].(string); ok && msg != "" {
		parts = append(parts, msg)
	}
	if reason, ok := data["reason"].(string); ok {
		parts = append(parts, reason)
	}

	if len(parts) == 0 {
		raw := string(e.Data)
		if raw == "{}" {
			return ""
		}
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}

	return strings.Join(parts, " ")
}
