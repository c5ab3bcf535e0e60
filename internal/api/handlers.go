package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/warelay/internal/delivery"
	"github.com/mattjoyce/warelay/internal/events"
	"github.com/mattjoyce/warelay/internal/state"
	"github.com/mattjoyce/warelay/internal/upstream"
)

const (
	defaultLogLimit = 100

	// maxAdminBody caps admin request bodies (config updates, test payloads).
	maxAdminBody = 1 << 20
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}
	if s.store != nil {
		settings := s.store.Settings()
		resp.Enabled = settings.Enabled
		resp.Destinations = len(settings.Destinations)
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.store.Settings())
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var upd state.SettingsUpdate
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAdminBody)).Decode(&upd); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	settings, err := s.store.UpdateSettings(r.Context(), upd)
	if err != nil {
		if errors.Is(err, state.ErrInvalidSettings) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("config update failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to update config")
		return
	}

	s.logger.Info("relay settings updated",
		"enabled", settings.Enabled,
		"destinations", len(settings.Destinations),
		"signed", settings.Secret != "",
	)
	s.events.Publish(events.TypeConfigUpdated, map[string]any{
		"enabled":      settings.Enabled,
		"destinations": len(settings.Destinations),
	})

	s.respondJSON(w, http.StatusOK, ConfigUpdateResponse{Status: "updated", Config: settings})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.store.Stats())
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.parseLimit(w, r)
	if !ok {
		return
	}
	s.respondJSON(w, http.StatusOK, s.store.Logs(limit))
}

func (s *Server) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Clear(r.Context()); err != nil {
		// In-memory state is already cleared; only the write failed.
		s.logger.Error("persist cleared logs failed", "error", err)
	}
	s.events.Publish(events.TypeLogsCleared, nil)
	s.respondJSON(w, http.StatusOK, StatusResponse{Status: "success"})
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.parseLimit(w, r)
	if !ok {
		return
	}
	s.respondJSON(w, http.StatusOK, s.store.MediaLogs(limit))
}

// handleTest sends a payload through the delivery engine. GET always uses
// the synthetic payload; POST uses the body when one is given. The send
// happens even when forwarding is disabled.
func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	settings := s.store.Settings()
	if dest := strings.TrimSpace(r.URL.Query().Get("destination")); dest != "" {
		if !slices.Contains(settings.Destinations, dest) {
			s.writeError(w, http.StatusBadRequest, "destination is not configured")
			return
		}
		settings.Destinations = []string{dest}
	}
	if len(settings.Destinations) == 0 {
		s.writeError(w, http.StatusBadRequest, "no destinations configured")
		return
	}
	settings.Enabled = true

	body, payload, err := s.testBody(w, r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	results := s.forwarder.Forward(context.WithoutCancel(r.Context()), body, settings)
	s.respondJSON(w, http.StatusOK, TestResponse{Status: summarize(results), Payload: payload, Results: results})
}

// summarize reports "success" when every destination accepted the payload,
// "failed" when none did, otherwise "partial".
func summarize(results []delivery.Outcome) string {
	ok := 0
	for _, res := range results {
		if res.Success {
			ok++
		}
	}
	switch ok {
	case len(results):
		return "success"
	case 0:
		return "failed"
	default:
		return "partial"
	}
}

func (s *Server) testBody(w http.ResponseWriter, r *http.Request) ([]byte, any, error) {
	if r.Method == http.MethodPost && r.Body != nil {
		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxAdminBody))
		if err != nil {
			return nil, nil, errors.New("failed to read body")
		}
		if len(strings.TrimSpace(string(raw))) > 0 {
			if !json.Valid(raw) {
				return nil, nil, errors.New("invalid JSON body")
			}
			return raw, json.RawMessage(raw), nil
		}
	}

	var p testPayload
	p.Event = "test"
	p.Timestamp = time.Now().UTC()
	p.Payload.Message = "This is a test webhook from Webhook Manager"
	p.Payload.Source = "webhook-manager"
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, nil, err
	}
	return raw, p, nil
}

func (s *Server) handleMediaDownload(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if strings.TrimSpace(path) == "" {
		s.writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	if s.media == nil {
		s.writeError(w, http.StatusServiceUnavailable, "media upstream not configured")
		return
	}

	media, err := s.media.FetchMedia(r.Context(), path)
	switch {
	case errors.Is(err, upstream.ErrNotConfigured):
		s.writeError(w, http.StatusServiceUnavailable, "media upstream not configured")
		return
	case errors.Is(err, upstream.ErrPathNotAllowed):
		s.writeError(w, http.StatusBadRequest, "media path not allowed")
		return
	case err != nil:
		s.logger.Warn("media download failed", "error", err)
		s.writeError(w, http.StatusBadGateway, "failed to fetch media")
		return
	}
	defer media.Body.Close()

	if media.ContentType != "" {
		w.Header().Set("Content-Type", media.ContentType)
	}
	if media.ContentLength >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(media.ContentLength, 10))
	}
	w.WriteHeader(media.StatusCode)
	if _, err := io.Copy(w, media.Body); err != nil {
		s.logger.Debug("media stream interrupted", "error", err)
	}
}

// parseLimit reads ?limit=, defaulting to 100 and clamping to the log cap.
func (s *Server) parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limit := defaultLogLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return 0, false
		}
		limit = n
	}
	if c := s.store.LogCap(); c > 0 && limit > c {
		limit = c
	}
	return limit, true
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", "error", err)
	}
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}
