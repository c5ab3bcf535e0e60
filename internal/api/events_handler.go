package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/warelay/internal/events"
)

const (
	keepAliveInterval = 15 * time.Second
	// clientRetry is the reconnect delay advertised to EventSource clients.
	clientRetry = 3 * time.Second
)

// handleEvents streams relay activity as Server-Sent Events. A client that
// reconnects with Last-Event-ID first receives the retained events it missed.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	// Streams outlive the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	// Subscribe before replaying so nothing published in between is lost.
	live, cancel := s.events.Subscribe()
	defer cancel()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sent := parseLastEventID(r.Header.Get("Last-Event-ID"))
	send := func(ev events.Event) error {
		if ev.ID <= sent {
			return nil
		}
		sent = ev.ID
		return writeSSE(w, ev)
	}

	if _, err := fmt.Fprintf(w, "retry: %d\n\n", clientRetry.Milliseconds()); err != nil {
		return
	}
	for _, ev := range s.events.SnapshotSince(sent) {
		if send(ev) != nil {
			return
		}
	}
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-live:
			if !open {
				return
			}
			err = send(ev)
		case <-keepAlive.C:
			_, err = io.WriteString(w, ": keep-alive\n\n")
		}
		if err != nil {
			return
		}
		flusher.Flush()
	}
}

// parseLastEventID returns 0 for a missing or malformed header.
func parseLastEventID(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// writeSSE writes one frame. Data is single-line JSON, so one data line is
// enough.
func writeSSE(w io.Writer, ev events.Event) error {
	if ev.Type == "" {
		_, err := fmt.Fprintf(w, "id: %d\ndata: %s\n\n", ev.ID, ev.Data)
		return err
	}
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, ev.Data)
	return err
}
