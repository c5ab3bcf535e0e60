package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/warelay/internal/classify"
	"github.com/mattjoyce/warelay/internal/events"
	"github.com/mattjoyce/warelay/internal/signature"
	"github.com/mattjoyce/warelay/internal/state"
)

var errNotJSON = errors.New("payload is not valid JSON")

// Ingress accepts inbound webhooks.
type Ingress struct {
	config    Config
	store     Store
	forwarder Forwarder
	events    events.Publisher
	logger    *slog.Logger
}

// New creates an ingress handler.
func New(config Config, store Store, forwarder Forwarder, pub events.Publisher, logger *slog.Logger) *Ingress {
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = DefaultMaxBodySize
	}
	if pub == nil {
		pub = events.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Ingress{
		config:    config,
		store:     store,
		forwarder: forwarder,
		events:    pub,
		logger:    logger,
	}
}

// Path returns the path the ingress is registered on.
func (in *Ingress) Path() string {
	return in.config.Path
}

// Register mounts the ingress route on r.
func (in *Ingress) Register(r chi.Router) {
	r.Post(in.config.Path, in.handleWebhook)
}

// handleWebhook handles incoming webhook POST requests.
func (in *Ingress) handleWebhook(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())

	// Enforce body size limit
	body, err := io.ReadAll(io.LimitReader(r.Body, in.config.MaxBodySize+1))
	if err != nil {
		in.respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if int64(len(body)) > in.config.MaxBodySize {
		in.logger.Warn("webhook body too large", "limit", in.config.MaxBodySize, "request_id", reqID)
		in.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	settings := in.store.Settings()

	if header := r.Header.Get(signature.Header); header != "" && settings.Secret != "" {
		if err := signature.Verify(body, settings.Secret, header); err != nil {
			in.reject(r.Context(), reqID)
			in.respondError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	payload, err := compact(body)
	if err != nil {
		in.logger.Error("webhook payload rejected", "error", err, "request_id", reqID)
		in.store.Record(
			state.StatsDelta{Errors: 1, Touch: true},
			state.LogEntry{
				Kind:         state.KindReceived,
				Status:       state.StatusError,
				ErrorMessage: ptr(err.Error()),
			},
		)
		_ = in.store.Persist(context.WithoutCancel(r.Context()))
		in.respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	msgType, media := classify.Classify(payload)
	hash := signature.Fingerprint(payload)
	event := eventName(payload)

	in.store.Record(
		state.StatsDelta{Received: 1, Touch: true},
		state.LogEntry{
			Kind:        state.KindReceived,
			Status:      state.StatusSuccess,
			MessageType: &msgType,
			Media:       media,
			Event:       event,
			PayloadHash: hash,
		},
	)
	in.events.Publish(events.TypeWebhookReceived, map[string]any{
		"messageType": msgType,
		"event":       event,
		"payloadHash": hash,
		"hasMedia":    media != nil,
	})
	in.logger.Info("webhook received",
		"message_type", msgType,
		"payload_hash", hash,
		"destinations", len(settings.Destinations),
		"request_id", reqID,
	)

	// Forwarding outlives the sender's connection.
	ctx := context.WithoutCancel(r.Context())
	if settings.Enabled && len(settings.Destinations) > 0 {
		in.forwarder.Forward(ctx, payload, settings)
	} else {
		_ = in.store.Persist(ctx)
	}

	in.respondJSON(w, http.StatusOK, Response{Status: "ok", Processed: settings.Enabled})
}

// reject records a signature failure without touching the counters.
func (in *Ingress) reject(ctx context.Context, reqID string) {
	in.logger.Warn("webhook signature verification failed", "request_id", reqID)
	in.store.Record(state.StatsDelta{}, state.LogEntry{
		Kind:         state.KindReceived,
		Status:       state.StatusError,
		ErrorMessage: ptr("invalid signature"),
	})
	_ = in.store.Persist(context.WithoutCancel(ctx))
	in.events.Publish(events.TypeWebhookRejected, map[string]string{"reason": "invalid signature"})
}

// respondJSON sends a JSON response.
func (in *Ingress) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError sends a JSON error response.
func (in *Ingress) respondError(w http.ResponseWriter, status int, message string) {
	in.respondJSON(w, status, ErrorResponse{Error: message})
}

func compact(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, body); err != nil {
		return nil, errNotJSON
	}
	return buf.Bytes(), nil
}

func eventName(payload []byte) *string {
	var env struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(payload, &env); err != nil || env.Event == "" {
		return nil
	}
	return &env.Event
}

func ptr[T any](v T) *T { return &v }
