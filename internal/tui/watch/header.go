package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/warelay/internal/state"
)

// HealthState tracks relay health from /healthz polling.
type HealthState struct {
	Status        string
	UptimeSeconds int64
	Enabled       bool
	Destinations  int
	Connected     bool
	LastCheck     time.Time
}

func renderHeader(health HealthState, stats state.Stats, beat heartbeat, meter activityMeter, theme Theme, width int) string {
	innerWidth := width - 4

	statusText := theme.Delivered.Render("RELAYING")
	statusIcon := "✅"
	switch {
	case !health.Connected:
		statusText = theme.Failed.Render("CONNECTING")
		statusIcon = "🔌"
	case health.Status != "ok" && health.Status != "":
		statusText = theme.Failed.Render("DEGRADED")
		statusIcon = "⚠️"
	case !health.Enabled:
		statusText = theme.Paused.Render("PAUSED")
		statusIcon = "⏸"
	case health.Destinations == 0:
		statusText = theme.Pending.Render("NO DESTINATIONS")
		statusIcon = "⚠️"
	}

	uptimeStr := formatDuration(time.Duration(health.UptimeSeconds) * time.Second)

	lastActivity := "never"
	if stats.LastActivityTimestamp != nil {
		lastActivity = fmt.Sprintf("%s ago", time.Since(*stats.LastActivityTimestamp).Round(time.Second))
	}

	tickerStr := theme.Highlight.Render(beat.frame())
	clock := theme.Dim.Render(time.Now().Format("15:04:05"))
	titleText := fmt.Sprintf(" WARELAY WATCH %s", tickerStr)

	titleWidth := lipgloss.Width(titleText)
	clockWidth := lipgloss.Width(clock)
	pad := innerWidth - titleWidth - clockWidth - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	statusLine := fmt.Sprintf(" %s %s  ⏱ %s  Destinations: %d",
		statusIcon, statusText,
		uptimeStr,
		health.Destinations,
	)

	countersLine := fmt.Sprintf(" Received: %s  Sent: %s  Errors: %s",
		theme.Highlight.Render(fmt.Sprint(stats.TotalReceived)),
		theme.Delivered.Render(fmt.Sprint(stats.TotalSent)),
		errorCount(stats.TotalErrors, theme),
	)

	activityLine := fmt.Sprintf(" Last activity: %s %s",
		lastActivity,
		meter.render(theme),
	)

	content := lipgloss.JoinVertical(lipgloss.Left,
		titleLine,
		statusLine,
		countersLine,
		activityLine,
	)

	return theme.Border.Width(innerWidth).Render(content)
}

func errorCount(n int64, theme Theme) string {
	if n == 0 {
		return theme.Dim.Render("0")
	}
	return theme.Failed.Render(fmt.Sprint(n))
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
