package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/warelay/internal/classify"
	"github.com/mattjoyce/warelay/internal/events"
	"github.com/mattjoyce/warelay/internal/state"
)

func requireAuth(t *testing.T, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"Invalid credentials"}`))
			return
		}
		next(w, r)
	}
}

func TestClientHealthStatsLogs(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", requireAuth(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok","uptime_seconds":42,"enabled":true,"destinations":2}`))
	}))
	mux.HandleFunc("/api/stats", requireAuth(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"totalReceived":3,"totalSent":2,"totalErrors":1,"lastActivityTimestamp":null}`))
	}))
	mux.HandleFunc("/api/logs", requireAuth(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`[{"id":"1","kind":"received","status":"success","attemptNumber":0}]`))
	}))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL+"/", "admin", "pw")
	ctx := context.Background()

	h, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42), h.UptimeSeconds)
	assert.Equal(t, 2, h.Destinations)
	assert.True(t, h.Connected)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalReceived)
	assert.Nil(t, stats.LastActivityTimestamp)

	logs, err := c.Logs(ctx, recentLogs)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, state.KindReceived, logs[0].Kind)

	bad := NewClient(srv.URL, "admin", "nope")
	_, err = bad.Stats(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid credentials")
}

func TestClientStream(t *testing.T) {
	srv := httptest.NewServer(requireAuth(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", r.Header.Get("Last-Event-ID"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprintf(w, "id: 8\nevent: %s\ndata: {\"messageType\":\"image\"}\n\n", events.TypeWebhookReceived)
		fmt.Fprintf(w, "id: 9\nevent: %s\ndata: {\"destination\":\"https://a.test\"}\n\n", events.TypeDeliveryFailed)
	}))
	defer srv.Close()

	ch := make(chan events.Event, 4)
	err := NewClient(srv.URL, "admin", "pw").Stream(context.Background(), 7, ch)
	require.NoError(t, err)
	close(ch)

	var got []events.Event
	for ev := range ch {
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.Equal(t, int64(8), got[0].ID)
	assert.Equal(t, events.TypeWebhookReceived, got[0].Type)
	assert.JSONEq(t, `{"messageType":"image"}`, string(got[0].Data))
	assert.Equal(t, int64(9), got[1].ID)
	assert.False(t, got[1].At.IsZero())
}

func TestLogRowsNewestFirst(t *testing.T) {
	img := classify.TypeImage
	code := 502
	dest := "https://hooks.test/in"
	msg := "unexpected status 502"
	entries := []state.LogEntry{
		{Timestamp: time.Now().Add(-time.Minute), Kind: state.KindReceived, Status: state.StatusSuccess,
			MessageType: &img, Media: &classify.MediaDescriptor{Path: "/v/a.jpg"}},
		{Timestamp: time.Now(), Kind: state.KindForwarded, Status: state.StatusError,
			DestinationURL: &dest, HTTPStatusCode: &code, ErrorMessage: &msg, AttemptNumber: 1},
	}

	rows := logRows(entries)
	require.Len(t, rows, 2)

	assert.Equal(t, "forwarded", rows[0][1])
	assert.Equal(t, "✗", rows[0][2])
	assert.Equal(t, "hooks.test/in", rows[0][4])
	assert.Equal(t, "502", rows[0][5])
	assert.Equal(t, "1", rows[0][6])
	assert.Equal(t, msg, rows[0][7])

	assert.Equal(t, "received", rows[1][1])
	assert.Equal(t, "image*", rows[1][3])
	assert.Equal(t, "-", rows[1][4])
}

func TestExtractEventDesc(t *testing.T) {
	mk := func(typ string, data any) events.Event {
		b, err := json.Marshal(data)
		require.NoError(t, err)
		return events.Event{Type: typ, Data: b}
	}

	assert.Equal(t, "image message +media",
		extractEventDesc(mk(events.TypeWebhookReceived, map[string]any{"messageType": "image", "event": "message", "hasMedia": true})))
	assert.Equal(t, "a.test/hook after 3 attempts connection refused",
		extractEventDesc(mk(events.TypeDeliveryFailed, map[string]any{"destination": "https://a.test/hook", "attempts": 3, "error": "connection refused"})))
	assert.Equal(t, "a.test HTTP 200",
		extractEventDesc(mk(events.TypeDeliverySucceeded, map[string]any{"destination": "https://a.test", "attempts": 1, "statusCode": 200})))
	assert.Equal(t, "invalid signature",
		extractEventDesc(mk(events.TypeWebhookRejected, map[string]string{"reason": "invalid signature"})))
	assert.Equal(t, "", extractEventDesc(events.Event{Type: events.TypeLogsCleared, Data: []byte("{}")}))
}

func TestModelTracksEvents(t *testing.T) {
	m := New("http://relay.test", "admin", "pw")

	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	model := next.(Model)
	for i := 1; i <= maxEventLog+5; i++ {
		next, _ = model.Update(eventMsg(events.Event{ID: int64(i), Type: events.TypeWebhookReceived, Data: []byte("{}")}))
		model = next.(Model)
	}

	assert.Len(t, model.eventLog, maxEventLog)
	assert.Equal(t, int64(maxEventLog+5), model.eventLog[0].ID)
	assert.Equal(t, int64(maxEventLog+5), model.lastID)
	assert.True(t, model.health.Connected)

	next, _ = model.Update(sseDisconnectedMsg{})
	model = next.(Model)
	assert.False(t, model.health.Connected)
	assert.NotEmpty(t, model.lastError)
	assert.Contains(t, model.View(), "WARELAY WATCH")
}

func TestActivityMeterDecaysAndFlagsFailures(t *testing.T) {
	now := time.Now()
	var a activityMeter

	a.record(events.Event{Type: events.TypeDeliverySucceeded}, now)
	assert.Equal(t, meterDots, a.lit)
	assert.False(t, a.failed)

	a.record(events.Event{Type: events.TypeDeliveryFailed}, now)
	assert.True(t, a.failed)

	a.decay(now.Add(3 * meterStep))
	assert.Equal(t, meterDots-3, a.lit)
	assert.True(t, a.failed, "failure colour holds while lit")

	a.decay(now.Add(10 * meterStep))
	assert.Equal(t, 0, a.lit)
	assert.False(t, a.failed)

	a.record(events.Event{Type: events.TypeWebhookReceived}, now)
	assert.False(t, a.failed)
}

func TestHeartbeatAlternates(t *testing.T) {
	h := newHeartbeat()
	first := h.frame()
	h.beat()
	assert.NotEqual(t, first, h.frame())
	h.beat()
	assert.Equal(t, first, h.frame())
}
