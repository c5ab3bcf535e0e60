package watch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/warelay/internal/events"
	"github.com/mattjoyce/warelay/internal/state"
)

// recentLogs is how many log entries the dashboard asks for.
const recentLogs = 20

// Client talks to a running relay's admin API.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
	stream   *http.Client
}

func NewClient(baseURL, username, password string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		http:     &http.Client{Timeout: 3 * time.Second},
		stream:   &http.Client{},
	}
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("GET %s: %d %s", path, resp.StatusCode, e.Error)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Health fetches /healthz.
func (c *Client) Health(ctx context.Context) (HealthState, error) {
	var h struct {
		Status        string `json:"status"`
		UptimeSeconds int64  `json:"uptime_seconds"`
		Enabled       bool   `json:"enabled"`
		Destinations  int    `json:"destinations"`
	}
	if err := c.get(ctx, "/healthz", &h); err != nil {
		return HealthState{}, err
	}
	return HealthState{
		Status:        h.Status,
		UptimeSeconds: h.UptimeSeconds,
		Enabled:       h.Enabled,
		Destinations:  h.Destinations,
		Connected:     true,
		LastCheck:     time.Now(),
	}, nil
}

// Stats fetches /api/stats.
func (c *Client) Stats(ctx context.Context) (state.Stats, error) {
	var s state.Stats
	err := c.get(ctx, "/api/stats", &s)
	return s, err
}

// Logs fetches the newest limit entries from /api/logs.
func (c *Client) Logs(ctx context.Context, limit int) ([]state.LogEntry, error) {
	var logs []state.LogEntry
	err := c.get(ctx, "/api/logs?limit="+strconv.Itoa(limit), &logs)
	return logs, err
}

// Stream reads /api/events until the connection drops, sending each event to
// ch. lastID is sent as Last-Event-ID so a reconnect resumes the stream.
func (c *Client) Stream(ctx context.Context, lastID int64, ch chan<- events.Event) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/events", nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "text/event-stream")
	if lastID > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatInt(lastID, 10))
	}

	resp, err := c.stream.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET /api/events: %d", resp.StatusCode)
	}

	var cur events.Event
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if len(cur.Data) > 0 {
				if cur.At.IsZero() {
					cur.At = time.Now()
				}
				ch <- cur
			}
			cur = events.Event{}
		case strings.HasPrefix(line, "id: "):
			if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				cur.ID = id
			}
		case strings.HasPrefix(line, "event: "):
			cur.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			cur.Data = []byte(line[6:])
		}
	}
	return sc.Err()
}

// --- Message types ---

type eventMsg events.Event

type healthMsg HealthState

type snapshotMsg struct {
	stats state.Stats
	logs  []state.LogEntry
}

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

// --- Commands ---

func subscribeToEvents(c *Client, lastID int64, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		_ = c.Stream(context.Background(), lastID, ch)
		return sseDisconnectedMsg{}
	}
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

func fetchHealth(c *Client) tea.Cmd {
	return func() tea.Msg {
		h, err := c.Health(context.Background())
		if err != nil {
			return errMsg(err)
		}
		return healthMsg(h)
	}
}

func fetchSnapshot(c *Client) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		stats, err := c.Stats(ctx)
		if err != nil {
			return errMsg(err)
		}
		logs, err := c.Logs(ctx, recentLogs)
		if err != nil {
			return errMsg(err)
		}
		return snapshotMsg{stats: stats, logs: logs}
	}
}
