package webhook

import (
	"context"

	"github.com/mattjoyce/warelay/internal/delivery"
	"github.com/mattjoyce/warelay/internal/state"
)

//go:generate mockgen -destination=mocks/mock_forwarder.go -package=mocks github.com/mattjoyce/warelay/internal/webhook Forwarder

// Forwarder relays an accepted payload to the configured destinations.
type Forwarder interface {
	Forward(ctx context.Context, payload []byte, settings state.Settings) []delivery.Outcome
}

// Store is the state the ingress reads settings from and records into.
type Store interface {
	Settings() state.Settings
	Record(delta state.StatsDelta, entries ...state.LogEntry)
	Persist(ctx context.Context) error
}

// Config holds ingress settings.
type Config struct {
	// Path is the URL path webhooks are posted to (default: /webhook).
	Path string

	// MaxBodySize is the maximum allowed request body size in bytes (default: 1MB).
	MaxBodySize int64
}

// Response is the JSON body returned for an accepted webhook.
type Response struct {
	Status    string `json:"status"`
	Processed bool   `json:"processed"`
}

// ErrorResponse is the JSON response for webhook errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Default values
const (
	DefaultPath        = "/webhook"
	DefaultMaxBodySize = 1048576 // 1 MB
)
