package api

import (
	"time"

	"github.com/mattjoyce/warelay/internal/delivery"
	"github.com/mattjoyce/warelay/internal/state"
)

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse is the bare acknowledgement returned by DELETE /api/logs.
type StatusResponse struct {
	Status string `json:"status"`
}

// ConfigUpdateResponse is returned by POST /api/config.
type ConfigUpdateResponse struct {
	Status string         `json:"status"`
	Config state.Settings `json:"config"`
}

// TestResponse is returned by /api/test.
type TestResponse struct {
	Status  string             `json:"status"`
	Payload any                `json:"payload"`
	Results []delivery.Outcome `json:"results"`
}

// testPayload is the synthetic body sent when /api/test has no body.
type testPayload struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Payload   struct {
		Message string `json:"message"`
		Source  string `json:"source"`
	} `json:"payload"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Enabled       bool   `json:"enabled"`
	Destinations  int    `json:"destinations"`
}
