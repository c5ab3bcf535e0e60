package state

import (
	"time"

	"github.com/mattjoyce/warelay/internal/classify"
)

// Document names for the two persisted documents.
const (
	SettingsDocument = "webhook-config"
	LogsDocument     = "webhook-logs"
)

// Defaults
const (
	DefaultRetryAttempts = 3
	DefaultRetryDelayMs  = 1000
	DefaultLogCap        = 1000
)

// Settings is the relay configuration owned by the Store.
type Settings struct {
	Enabled       bool     `json:"enabled"`
	Destinations  []string `json:"destinations"`
	Secret        string   `json:"secret"`
	RetryAttempts int      `json:"retryAttempts"`
	RetryDelayMs  int      `json:"retryDelayMs"`
	// EventFilter is informational; every received payload is forwarded.
	EventFilter []string `json:"eventFilter"`
}

// DefaultSettings returns the built-in settings used when nothing is persisted.
func DefaultSettings() Settings {
	return Settings{
		Enabled:       true,
		Destinations:  []string{},
		Secret:        "",
		RetryAttempts: DefaultRetryAttempts,
		RetryDelayMs:  DefaultRetryDelayMs,
		EventFilter:   []string{"message", "group.participants", "message.ack"},
	}
}

// RetryDelay returns the fixed inter-attempt delay.
func (s Settings) RetryDelay() time.Duration {
	return time.Duration(s.RetryDelayMs) * time.Millisecond
}

// Clone returns a deep copy so callers can't alias the Store's slices.
func (s Settings) Clone() Settings {
	out := s
	out.Destinations = append([]string{}, s.Destinations...)
	out.EventFilter = append([]string{}, s.EventFilter...)
	return out
}

// SettingsUpdate is a partial settings update. Nil fields are left unchanged.
type SettingsUpdate struct {
	Enabled       *bool     `json:"enabled,omitempty"`
	Destinations  *[]string `json:"destinations,omitempty"`
	Secret        *string   `json:"secret,omitempty"`
	RetryAttempts *int      `json:"retryAttempts,omitempty"`
	RetryDelayMs  *int      `json:"retryDelayMs,omitempty"`
	EventFilter   *[]string `json:"eventFilter,omitempty"`
}

// Kind classifies a log entry.
type Kind string

const (
	KindReceived  Kind = "received"
	KindForwarded Kind = "forwarded"
	KindError     Kind = "error"
)

// Status is the outcome recorded on a log entry.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// LogEntry is one notable relay event.
type LogEntry struct {
	ID             string                    `json:"id"`
	Timestamp      time.Time                 `json:"timestamp"`
	Kind           Kind                      `json:"kind"`
	Status         Status                    `json:"status"`
	DestinationURL *string                   `json:"destinationUrl"`
	HTTPStatusCode *int                      `json:"httpStatusCode"`
	ErrorMessage   *string                   `json:"errorMessage"`
	AttemptNumber  int                       `json:"attemptNumber"`
	MessageType    *classify.MessageType     `json:"messageType"`
	Media          *classify.MediaDescriptor `json:"mediaDescriptor"`
	Event          *string                   `json:"event,omitempty"`
	PayloadHash    string                    `json:"payloadHash,omitempty"`
}

// Stats are the running relay counters.
type Stats struct {
	TotalReceived         int64      `json:"totalReceived"`
	TotalSent             int64      `json:"totalSent"`
	TotalErrors           int64      `json:"totalErrors"`
	LastActivityTimestamp *time.Time `json:"lastActivityTimestamp"`
}

// StatsDelta is applied to Stats together with a log append.
type StatsDelta struct {
	Received int64
	Sent     int64
	Errors   int64
	// Touch sets LastActivityTimestamp to the time of the append.
	Touch bool
}
