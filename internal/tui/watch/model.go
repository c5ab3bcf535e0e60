package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/warelay/internal/events"
	"github.com/mattjoyce/warelay/internal/state"
)

const maxEventLog = 50

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	client *Client

	width  int
	height int

	// State
	health   HealthState
	stats    state.Stats
	logs     []state.LogEntry
	eventLog []events.Event
	lastID   int64

	// Live indicators
	beat  heartbeat
	meter activityMeter

	// UI
	theme    Theme
	logTable table.Model

	hubEvents chan events.Event

	lastError string
}

// New creates a watch model for the relay at apiURL.
func New(apiURL, username, password string) *Model {
	theme := NewDefaultTheme()
	return &Model{
		client:    NewClient(apiURL, username, password),
		eventLog:  make([]events.Event, 0),
		hubEvents: make(chan events.Event, 100),
		beat:      newHeartbeat(),
		theme:     theme,
		logTable:  newLogTable(theme),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.client, 0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		fetchHealth(m.client),
		fetchSnapshot(m.client),
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, tea.Batch(fetchHealth(m.client), fetchSnapshot(m.client))
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.logTable.SetWidth(m.width - 6)

	case tickMsg:
		m.beat.beat()
		m.meter.decay(time.Time(msg))
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)
		m.recordEvent(e)
		m.health.Connected = true
		m.lastError = ""

		cmds := []tea.Cmd{receiveNextEvent(m.hubEvents)}
		// Counters and logs only change on relay activity.
		if e.Type != "" {
			cmds = append(cmds, fetchSnapshot(m.client))
		}
		return m, tea.Batch(cmds...)

	case healthMsg:
		m.health = HealthState(msg)
		m.lastError = ""
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetchHealth(m.client)()
		})

	case snapshotMsg:
		m.stats = msg.stats
		m.logs = msg.logs
		m.logTable.SetRows(logRows(m.logs))
		return m, nil

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, subscribeToEvents(m.client, m.lastID, m.hubEvents)

	case errMsg:
		m.health.Connected = false
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetchHealth(m.client)()
		})
	}

	var cmd tea.Cmd
	m.logTable, cmd = m.logTable.Update(msg)
	return m, cmd
}

// recordEvent prepends e to the event log (newest first).
func (m *Model) recordEvent(e events.Event) {
	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > maxEventLog {
		m.eventLog = m.eventLog[:maxEventLog]
	}
	if e.ID > m.lastID {
		m.lastID = e.ID
	}
	m.meter.record(e, time.Now())
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to relay..."
	}

	header := renderHeader(m.health, m.stats, m.beat, m.meter, m.theme, m.width)
	logs := renderLogs(m.logTable, len(m.logs), m.theme, m.width)
	eventStream := renderEventStream(m.eventLog, m.theme, m.width)

	parts := []string{header, logs, eventStream}
	if m.lastError != "" {
		parts = append(parts, m.theme.Failed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [r] Refresh • [↑/↓] Scroll logs"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
