package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/warelay/internal/storage"
)

// ErrInvalidSettings wraps every settings validation failure.
var ErrInvalidSettings = errors.New("invalid settings")

// DocumentStore persists named JSON documents.
type DocumentStore interface {
	Load(ctx context.Context, name string) ([]byte, error)
	Save(ctx context.Context, name string, data []byte) error
}

// Store is the single in-memory owner of relay settings, the log buffer and
// stats. All mutations are serialized by mu; persistence is serialized by
// persistMu so snapshots hit the backend in order.
type Store struct {
	docs   DocumentStore
	logCap int
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	settings Settings
	logs     []LogEntry
	stats    Stats

	persistMu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogCap sets how many log entries survive a persistence cycle.
func WithLogCap(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.logCap = n
		}
	}
}

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore returns a Store with default settings. Call Load to restore
// persisted state.
func NewStore(docs DocumentStore, opts ...Option) *Store {
	s := &Store{
		docs:     docs,
		logCap:   DefaultLogCap,
		logger:   slog.Default(),
		now:      time.Now,
		settings: DefaultSettings(),
		logs:     make([]LogEntry, 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load restores settings and log history. Missing or corrupt documents fall
// back to defaults, and unusable fields of a readable settings document are
// repaired one by one. Load never fails startup.
func (s *Store) Load(ctx context.Context) {
	settings := DefaultSettings()
	raw, err := s.docs.Load(ctx, SettingsDocument)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.logger.Info("no persisted settings, using defaults")
	case err != nil:
		s.logger.Warn("failed to read persisted settings, using defaults", "error", err)
	default:
		decoded, derr := ParseSettings(raw)
		if derr != nil {
			s.logger.Warn("persisted settings are corrupt, using defaults", "error", derr)
		} else {
			settings = s.repair(decoded)
		}
	}

	logs := make([]LogEntry, 0)
	raw, err = s.docs.Load(ctx, LogsDocument)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		s.logger.Warn("failed to read persisted logs, starting empty", "error", err)
	default:
		var decoded []LogEntry
		if derr := json.Unmarshal(raw, &decoded); derr != nil {
			s.logger.Warn("persisted logs are corrupt, starting empty", "error", derr)
		} else if decoded != nil {
			logs = decoded
		}
	}

	s.mu.Lock()
	s.settings = settings
	s.logs = tail(logs, s.logCap)
	s.mu.Unlock()

	s.logger.Info("relay state loaded",
		"enabled", settings.Enabled,
		"destinations", len(settings.Destinations),
		"log_entries", len(logs),
	)
}

// Settings returns a copy of the current settings.
func (s *Store) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.Clone()
}

// UpdateSettings applies upd field by field, validates the result and
// persists it. A persistence failure is logged; the in-memory settings stay
// authoritative.
func (s *Store) UpdateSettings(ctx context.Context, upd SettingsUpdate) (Settings, error) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	next := applyUpdate(s.settings.Clone(), upd)
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return Settings{}, err
	}
	s.settings = next
	s.mu.Unlock()

	if err := s.saveJSON(ctx, SettingsDocument, next); err != nil {
		s.logger.Error("failed to persist settings", "error", err)
	}
	return next.Clone(), nil
}

// Record appends entries and applies delta in one critical section. Missing
// IDs and timestamps are filled in.
func (s *Store) Record(delta StatsDelta, entries ...LogEntry) {
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = now
		}
		s.logs = append(s.logs, e)
	}

	s.stats.TotalReceived += delta.Received
	s.stats.TotalSent += delta.Sent
	s.stats.TotalErrors += delta.Errors
	if delta.Touch {
		ts := now
		s.stats.LastActivityTimestamp = &ts
	}
}

// Persist trims the log buffer to the cap and writes it. The buffer may
// exceed the cap between persistence cycles, never after one.
func (s *Store) Persist(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	s.logs = tail(s.logs, s.logCap)
	snapshot := append([]LogEntry{}, s.logs...)
	s.mu.Unlock()

	if err := s.saveJSON(ctx, LogsDocument, snapshot); err != nil {
		s.logger.Error("failed to persist logs", "error", err)
		return err
	}
	return nil
}

// Logs returns up to limit of the most recent entries, newest last.
// limit <= 0 returns everything buffered.
func (s *Store) Logs(limit int) []LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := tail(s.logs, limit)
	return append([]LogEntry{}, out...)
}

// MediaLogs returns up to limit of the most recent entries that carry a
// media descriptor, newest last.
func (s *Store) MediaLogs(limit int) []LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]LogEntry, 0)
	for _, e := range s.logs {
		if e.Media != nil {
			out = append(out, e)
		}
	}
	return tail(out, limit)
}

// Stats returns a snapshot of the counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.stats
	if out.LastActivityTimestamp != nil {
		ts := *out.LastActivityTimestamp
		out.LastActivityTimestamp = &ts
	}
	return out
}

// Clear empties the log buffer and resets every counter atomically, then
// persists the empty log.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.logs = make([]LogEntry, 0)
	s.stats = Stats{}
	s.mu.Unlock()

	return s.Persist(ctx)
}

// LogCap returns the persisted log length cap.
func (s *Store) LogCap() int {
	return s.logCap
}

func (s *Store) saveJSON(ctx context.Context, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	if err := s.docs.Save(ctx, name, data); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}

func tail(entries []LogEntry, n int) []LogEntry {
	if n <= 0 || len(entries) <= n {
		return entries
	}
	return entries[len(entries)-n:]
}

func applyUpdate(cur Settings, upd SettingsUpdate) Settings {
	if upd.Enabled != nil {
		cur.Enabled = *upd.Enabled
	}
	if upd.Destinations != nil {
		cur.Destinations = normalizeDestinations(*upd.Destinations)
	}
	if upd.Secret != nil {
		cur.Secret = *upd.Secret
	}
	if upd.RetryAttempts != nil {
		cur.RetryAttempts = *upd.RetryAttempts
	}
	if upd.RetryDelayMs != nil {
		cur.RetryDelayMs = *upd.RetryDelayMs
	}
	if upd.EventFilter != nil {
		cur.EventFilter = append([]string{}, (*upd.EventFilter)...)
	}
	return cur
}

func normalizeDestinations(in []string) []string {
	out := make([]string, 0, len(in))
	for _, d := range in {
		if d = strings.TrimSpace(d); d != "" {
			out = append(out, d)
		}
	}
	return out
}

// Validate checks the settings and reports every problem found.
func (s Settings) Validate() error {
	var problems []error

	if s.RetryAttempts < 1 {
		problems = append(problems, fmt.Errorf("retryAttempts must be >= 1, got %d", s.RetryAttempts))
	}
	if s.RetryDelayMs < 0 {
		problems = append(problems, fmt.Errorf("retryDelayMs must be >= 0, got %d", s.RetryDelayMs))
	}

	seen := make(map[string]struct{}, len(s.Destinations))
	for _, d := range s.Destinations {
		if err := checkDestination(d, seen); err != nil {
			problems = append(problems, err)
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidSettings, errors.Join(problems...))
}

// checkDestination reports a destination that is not an absolute http(s) URL
// or was already seen, and marks it seen.
func checkDestination(d string, seen map[string]struct{}) error {
	if _, dup := seen[d]; dup {
		return fmt.Errorf("duplicate destination %q", d)
	}
	seen[d] = struct{}{}

	u, err := url.Parse(d)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("destination %q must be an absolute http(s) URL", d)
	}
	return nil
}

// repair keeps every usable field of persisted settings. Bad destinations are
// dropped individually and out-of-range retry values revert to their
// defaults, each with a warning.
func (s *Store) repair(in Settings) Settings {
	def := DefaultSettings()
	if in.RetryAttempts < 1 {
		s.logger.Warn("persisted retryAttempts out of range, using default", "value", in.RetryAttempts, "default", def.RetryAttempts)
		in.RetryAttempts = def.RetryAttempts
	}
	if in.RetryDelayMs < 0 {
		s.logger.Warn("persisted retryDelayMs out of range, using default", "value", in.RetryDelayMs, "default", def.RetryDelayMs)
		in.RetryDelayMs = def.RetryDelayMs
	}

	kept := make([]string, 0, len(in.Destinations))
	seen := make(map[string]struct{}, len(in.Destinations))
	for _, d := range in.Destinations {
		if err := checkDestination(d, seen); err != nil {
			s.logger.Warn("dropping persisted destination", "destination", d, "error", err)
			continue
		}
		kept = append(kept, d)
	}
	in.Destinations = kept
	return in
}

// persistedSettings accepts both current and legacy key names.
type persistedSettings struct {
	SettingsUpdate

	URLs       *[]string `json:"urls,omitempty"`
	RetryDelay *int      `json:"retryDelay,omitempty"`
	Events     *[]string `json:"events,omitempty"`
}

// ParseSettings decodes a persisted settings document over the defaults,
// migrating legacy keys. The result is not validated.
func ParseSettings(raw []byte) (Settings, error) {
	var p persistedSettings
	if err := json.Unmarshal(raw, &p); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}

	upd := p.SettingsUpdate
	if upd.Destinations == nil {
		upd.Destinations = p.URLs
	}
	if upd.RetryDelayMs == nil {
		upd.RetryDelayMs = p.RetryDelay
	}
	if upd.EventFilter == nil {
		upd.EventFilter = p.Events
	}

	return applyUpdate(DefaultSettings(), upd), nil
}
