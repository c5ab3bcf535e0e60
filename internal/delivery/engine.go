// Package delivery fans a received payload out to every configured
// destination.
//
// Each destination runs its own bounded retry loop concurrently with the
// others. Only transport failures (dial, DNS, timeout, TLS) are retried; any
// HTTP response ends the loop, and a non-2xx status is recorded as a failed
// delivery without further attempts. The outcome of every destination is
// appended to the state store once all destinations have resolved, followed by
// a single persistence cycle.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/retry"

	"github.com/mattjoyce/warelay/internal/events"
	"github.com/mattjoyce/warelay/internal/log"
	"github.com/mattjoyce/warelay/internal/signature"
	"github.com/mattjoyce/warelay/internal/state"
)

const (
	DefaultTimeout       = 10 * time.Second
	DefaultMaxConcurrent = 50

	// maxDrain caps how much of a destination's response body is read so
	// the connection can be reused.
	maxDrain = 64 << 10

	userAgent = "warelay/1.0"
)

// Recorder is the part of the state store the engine writes to.
type Recorder interface {
	Record(delta state.StatsDelta, entries ...state.LogEntry)
	Persist(ctx context.Context) error
}

// Outcome is the final result for one destination.
type Outcome struct {
	Destination string `json:"destination"`
	Success     bool   `json:"success"`
	Attempts    int    `json:"attempts"`
	StatusCode  int    `json:"statusCode,omitempty"`
	Error       string `json:"error,omitempty"`
	DurationMs  int64  `json:"durationMs"`
}

// Options configures an Engine. Zero values select defaults.
type Options struct {
	Timeout       time.Duration
	MaxConcurrent int
	Client        *http.Client
	Events        events.Publisher
	Logger        *slog.Logger
}

// Engine delivers payloads. It is safe for concurrent use.
type Engine struct {
	client *http.Client
	sem    chan struct{}
	store  Recorder
	events events.Publisher
	logger *slog.Logger
	now    func() time.Time
}

// New returns an Engine that records outcomes into store.
func New(store Recorder, opts Options) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	pub := opts.Events
	if pub == nil {
		pub = events.Nop{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithComponent("delivery")
	}

	return &Engine{
		client: client,
		sem:    make(chan struct{}, opts.MaxConcurrent),
		store:  store,
		events: pub,
		logger: logger,
		now:    time.Now,
	}
}

// Forward delivers payload to every destination in settings and returns one
// Outcome per destination, in configuration order. It returns an empty list
// without touching the network when forwarding is disabled or there are no
// destinations.
func (e *Engine) Forward(ctx context.Context, payload []byte, settings state.Settings) []Outcome {
	outcomes := make([]Outcome, len(settings.Destinations))
	if !settings.Enabled || len(settings.Destinations) == 0 {
		return outcomes[:0]
	}

	body := canonical(payload)
	var sig string
	if settings.Secret != "" {
		sig = signature.SignHeader(body, settings.Secret)
	}

	var wg sync.WaitGroup
	for i, dest := range settings.Destinations {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = e.deliver(ctx, dest, body, sig, settings)
		}()
	}
	wg.Wait()

	e.record(ctx, body, outcomes)
	return outcomes
}

// deliver runs the retry loop for one destination. The retry sleep happens
// outside the concurrency semaphore.
func (e *Engine) deliver(ctx context.Context, dest string, body []byte, sig string, settings state.Settings) Outcome {
	logger := e.logger.With("destination", dest)
	start := e.now()
	out := Outcome{Destination: dest}

	attempts := max(settings.RetryAttempts, 1)
	r := retry.New[int](retryConfig(ctx, attempts, settings.RetryDelay(), func(next int, err error) {
		logger.Warn("delivery attempt failed", "attempt", next-1, "max_attempts", attempts, "error", err)
	}))
	code, err := r.Do(ctx, func(ctx context.Context) (int, error) {
		out.Attempts++
		return e.attempt(ctx, dest, body, sig)
	})

	switch {
	case err == nil:
		out.StatusCode = code
		out.Success = code >= 200 && code < 300
		if !out.Success {
			out.Error = fmt.Sprintf("destination responded %d %s", code, http.StatusText(code))
		}
	case ctx.Err() != nil:
		out.Error = fmt.Sprintf("retry aborted: %v", err)
	default:
		out.Error = err.Error()
	}

	out.DurationMs = e.now().Sub(start).Milliseconds()
	if out.Success {
		logger.Info("delivered", "attempts", out.Attempts, "status", out.StatusCode)
	} else {
		logger.Error("delivery failed", "attempts", out.Attempts, "status", out.StatusCode, "error", out.Error)
	}
	return out
}

// retryConfig retries every transport error at a constant delay until ctx is
// done. A zero delay retries immediately; fortify treats a zero InitialDelay
// as its own default.
func retryConfig(ctx context.Context, attempts int, delay time.Duration, onRetry func(int, error)) retry.Config {
	if delay <= 0 {
		delay = time.Nanosecond
	}
	return retry.Config{
		MaxAttempts:   attempts,
		InitialDelay:  delay,
		BackoffPolicy: retry.BackoffConstant,
		IsRetryable:   func(error) bool { return ctx.Err() == nil },
		OnRetry:       onRetry,
	}
}

// attempt issues one POST. A returned error is a transport failure; any HTTP
// response, whatever its status, is returned as a code with a nil error.
func (e *Engine) attempt(ctx context.Context, dest string, body []byte, sig string) (int, error) {
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	defer func() { <-e.sem }()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if sig != "" {
		req.Header.Set(signature.Header, sig)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))

	return resp.StatusCode, nil
}

func (e *Engine) record(ctx context.Context, body []byte, outcomes []Outcome) {
	hash := signature.Fingerprint(body)
	entries := make([]state.LogEntry, 0, len(outcomes))
	var delta state.StatsDelta

	for _, o := range outcomes {
		entry := state.LogEntry{
			Kind:           state.KindForwarded,
			Status:         state.StatusSuccess,
			DestinationURL: ptr(o.Destination),
			AttemptNumber:  o.Attempts,
			PayloadHash:    hash,
		}
		if o.StatusCode != 0 {
			entry.HTTPStatusCode = ptr(o.StatusCode)
		}

		if o.Success {
			delta.Sent++
			e.events.Publish(events.TypeDeliverySucceeded, o)
		} else {
			entry.Status = state.StatusError
			entry.ErrorMessage = ptr(o.Error)
			delta.Errors++
			e.events.Publish(events.TypeDeliveryFailed, o)
		}
		entries = append(entries, entry)
	}
	delta.Touch = true

	e.store.Record(delta, entries...)
	// The store logs persistence failures.
	_ = e.store.Persist(context.WithoutCancel(ctx))
}

// canonical returns the compact JSON encoding of payload, or payload itself
// when it is not valid JSON.
func canonical(payload []byte) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, payload); err != nil {
		return payload
	}
	return buf.Bytes()
}

func ptr[T any](v T) *T { return &v }

