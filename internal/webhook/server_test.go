package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/golang/mock/gomock"

	"github.com/mattjoyce/warelay/internal/classify"
	"github.com/mattjoyce/warelay/internal/config"
	"github.com/mattjoyce/warelay/internal/delivery"
	"github.com/mattjoyce/warelay/internal/events"
	"github.com/mattjoyce/warelay/internal/signature"
	"github.com/mattjoyce/warelay/internal/state"
	"github.com/mattjoyce/warelay/internal/storage"
	"github.com/mattjoyce/warelay/internal/webhook/mocks"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T, upd state.SettingsUpdate) *state.Store {
	t.Helper()
	s := state.NewStore(storage.NewFileDocuments(t.TempDir()), state.WithLogger(testLogger()))
	s.Load(context.Background())
	if _, err := s.UpdateSettings(context.Background(), upd); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	return s
}

func strs(v ...string) *[]string { return &v }
func str(v string) *string       { return &v }
func boolp(v bool) *bool         { return &v }

func newRouter(in *Ingress) http.Handler {
	r := chi.NewRouter()
	in.Register(r)
	return r
}

func post(h http.Handler, path string, body []byte, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if header != "" {
		req.Header.Set(signature.Header, header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleWebhook_ForwardsAndResponds(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := newTestStore(t, state.SettingsUpdate{Destinations: strs("https://a.test/hook")})
	fwd := mocks.NewMockForwarder(ctrl)
	hub := events.NewHub(10)
	in := New(Config{}, store, fwd, hub, testLogger())

	body := []byte(`{ "event": "message", "message": { "imageMessage": { "url": "https://mmg.test/x", "mimetype": "image/jpeg" } } }`)
	canonical := []byte(`{"event":"message","message":{"imageMessage":{"url":"https://mmg.test/x","mimetype":"image/jpeg"}}}`)

	fwd.EXPECT().
		Forward(gomock.Any(), canonical, gomock.Any()).
		DoAndReturn(func(ctx context.Context, payload []byte, s state.Settings) []delivery.Outcome {
			if ctx.Err() != nil {
				t.Error("forward context should not be cancelled")
			}
			if len(s.Destinations) != 1 || s.Destinations[0] != "https://a.test/hook" {
				t.Errorf("settings snapshot = %+v", s)
			}
			return []delivery.Outcome{{Destination: s.Destinations[0], Success: true, Attempts: 1, StatusCode: 200}}
		})

	rec := post(newRouter(in), "/webhook", body, "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || !resp.Processed {
		t.Errorf("response = %+v", resp)
	}

	if got := store.Stats().TotalReceived; got != 1 {
		t.Errorf("totalReceived = %d, want 1", got)
	}
	logs := store.Logs(0)
	if len(logs) != 1 {
		t.Fatalf("logs = %d, want 1", len(logs))
	}
	entry := logs[0]
	if entry.Kind != state.KindReceived || entry.Status != state.StatusSuccess {
		t.Errorf("entry = %+v", entry)
	}
	if entry.MessageType == nil || *entry.MessageType != classify.TypeImage {
		t.Errorf("messageType = %v", entry.MessageType)
	}
	if entry.Media == nil || entry.Media.Path != "https://mmg.test/x" {
		t.Errorf("media = %+v", entry.Media)
	}
	if entry.Event == nil || *entry.Event != "message" {
		t.Errorf("event = %v", entry.Event)
	}
	if entry.PayloadHash != signature.Fingerprint(canonical) {
		t.Errorf("payloadHash = %q", entry.PayloadHash)
	}

	snap := hub.SnapshotSince(0)
	if len(snap) != 1 || snap[0].Type != events.TypeWebhookReceived {
		t.Errorf("events = %+v", snap)
	}
}

func TestHandleWebhook_DisabledDoesNotForward(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := newTestStore(t, state.SettingsUpdate{
		Enabled:      boolp(false),
		Destinations: strs("https://a.test/hook"),
	})
	fwd := mocks.NewMockForwarder(ctrl)
	fwd.EXPECT().Forward(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	rec := post(newRouter(New(Config{}, store, fwd, nil, testLogger())), "/webhook", []byte(`{"event":"message"}`), "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"processed":false`) {
		t.Errorf("body = %s", rec.Body.String())
	}
	if got := store.Stats().TotalReceived; got != 1 {
		t.Errorf("totalReceived = %d, want 1", got)
	}
}

func TestHandleWebhook_NoDestinationsDoesNotForward(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := newTestStore(t, state.SettingsUpdate{})
	fwd := mocks.NewMockForwarder(ctrl)
	fwd.EXPECT().Forward(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	rec := post(newRouter(New(Config{}, store, fwd, nil, testLogger())), "/webhook", []byte(`{}`), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"processed":true`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestHandleWebhook_InvalidSignature(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := newTestStore(t, state.SettingsUpdate{
		Secret:       str("s3cr3t"),
		Destinations: strs("https://a.test/hook"),
	})
	fwd := mocks.NewMockForwarder(ctrl)
	fwd.EXPECT().Forward(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
	hub := events.NewHub(10)

	rec := post(newRouter(New(Config{}, store, fwd, hub, testLogger())), "/webhook",
		[]byte(`{"event":"test"}`), "sha256=0000000000000000000000000000000000000000000000000000000000000000")

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "0000") {
		t.Error("response should not echo signature details")
	}
	if stats := store.Stats(); stats != (state.Stats{}) {
		t.Errorf("stats mutated: %+v", stats)
	}
	logs := store.Logs(0)
	if len(logs) != 1 || logs[0].Status != state.StatusError {
		t.Errorf("expected one rejection entry, got %+v", logs)
	}
	if snap := hub.SnapshotSince(0); len(snap) != 1 || snap[0].Type != events.TypeWebhookRejected {
		t.Errorf("events = %+v", snap)
	}
}

func TestHandleWebhook_ValidSignature(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := newTestStore(t, state.SettingsUpdate{
		Secret:       str("s3cr3t"),
		Destinations: strs("https://a.test/hook"),
	})
	fwd := mocks.NewMockForwarder(ctrl)
	fwd.EXPECT().Forward(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	body := []byte(`{"event":"test"}`)
	rec := post(newRouter(New(Config{}, store, fwd, nil, testLogger())), "/webhook", body, signature.SignHeader(body, "s3cr3t"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandleWebhook_MissingSignatureAccepted(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := newTestStore(t, state.SettingsUpdate{
		Secret:       str("s3cr3t"),
		Destinations: strs("https://a.test/hook"),
	})
	fwd := mocks.NewMockForwarder(ctrl)
	fwd.EXPECT().Forward(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	rec := post(newRouter(New(Config{}, store, fwd, nil, testLogger())), "/webhook", []byte(`{"event":"test"}`), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandleWebhook_SignatureIgnoredWithoutSecret(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := newTestStore(t, state.SettingsUpdate{Destinations: strs("https://a.test/hook")})
	fwd := mocks.NewMockForwarder(ctrl)
	fwd.EXPECT().Forward(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	rec := post(newRouter(New(Config{}, store, fwd, nil, testLogger())), "/webhook", []byte(`{}`), "sha256=garbage")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandleWebhook_InvalidJSON(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := newTestStore(t, state.SettingsUpdate{Destinations: strs("https://a.test/hook")})
	fwd := mocks.NewMockForwarder(ctrl)
	fwd.EXPECT().Forward(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	rec := post(newRouter(New(Config{}, store, fwd, nil, testLogger())), "/webhook", []byte(`{"event":`), "")

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error != "Internal server error" {
		t.Errorf("error = %q", resp.Error)
	}

	logs := store.Logs(0)
	if len(logs) != 1 || logs[0].Kind != state.KindReceived || logs[0].Status != state.StatusError {
		t.Fatalf("expected received/error entry, got %+v", logs)
	}
	stats := store.Stats()
	if stats.TotalErrors != 1 {
		t.Errorf("totalErrors = %d, want 1", stats.TotalErrors)
	}
	if stats.TotalReceived != 0 {
		t.Errorf("totalReceived = %d, want 0", stats.TotalReceived)
	}
	if stats.LastActivityTimestamp == nil {
		t.Error("lastActivityTimestamp not set")
	}
}

func TestHandleWebhook_BodyTooLarge(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := newTestStore(t, state.SettingsUpdate{})
	fwd := mocks.NewMockForwarder(ctrl)

	in := New(Config{MaxBodySize: 16}, store, fwd, nil, testLogger())
	rec := post(newRouter(in), "/webhook", []byte(`{"event":"this body is longer than sixteen bytes"}`), "")

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
	if got := store.Stats().TotalReceived; got != 0 {
		t.Errorf("totalReceived = %d, want 0", got)
	}
}

func TestHandleWebhook_WrongMethod(t *testing.T) {
	store := newTestStore(t, state.SettingsUpdate{})
	h := newRouter(New(Config{}, store, nil, nil, testLogger()))

	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestNew_AppliesDefaults(t *testing.T) {
	in := New(Config{}, nil, nil, nil, nil)
	if in.config.Path != DefaultPath {
		t.Errorf("Path = %q, want %q", in.config.Path, DefaultPath)
	}
	if in.config.MaxBodySize != DefaultMaxBodySize {
		t.Errorf("MaxBodySize = %d, want %d", in.config.MaxBodySize, DefaultMaxBodySize)
	}
}

func TestFromGlobalConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Server.WebhookPath = "/hooks/wa"
	cfg.Server.MaxBodySize = "2MB"

	got, err := FromGlobalConfig(cfg)
	if err != nil {
		t.Fatalf("FromGlobalConfig: %v", err)
	}
	if got.Path != "/hooks/wa" || got.MaxBodySize != 2<<20 {
		t.Errorf("got %+v", got)
	}

	cfg.Server.MaxBodySize = "huge"
	if _, err := FromGlobalConfig(cfg); err == nil {
		t.Error("expected error for invalid size")
	}
	if _, err := FromGlobalConfig(nil); err == nil {
		t.Error("expected error for nil config")
	}
}
