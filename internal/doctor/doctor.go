// Package doctor checks a warelay deployment for misconfiguration that the
// loader accepts but that will hurt at runtime.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/mattjoyce/warelay/internal/config"
	"github.com/mattjoyce/warelay/internal/state"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates process config and, when available, the persisted relay
// settings.
type Doctor struct {
	cfg      *config.Config
	settings *state.Settings
}

// New creates a Doctor. settings may be nil when nothing is persisted yet.
func New(cfg *config.Config, settings *state.Settings) *Doctor {
	return &Doctor{cfg: cfg, settings: settings}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateStateDir(r)
	d.validateRelaySettings(r)
	d.warnAdminCredentials(r)
	d.warnCORS(r)
	d.warnWriteTimeout(r)
	d.warnConcurrency(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateStateDir checks the data directory is usable.
func (d *Doctor) validateStateDir(r *Result) {
	dir := d.cfg.State.Dir
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		d.addWarning(r, "state", "state.dir", fmt.Sprintf("%s does not exist yet; it will be created on start", dir))
		return
	case err != nil:
		d.addError(r, "state", "state.dir", err.Error())
		return
	case !info.IsDir():
		d.addError(r, "state", "state.dir", fmt.Sprintf("%s is not a directory", dir))
		return
	}

	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		d.addError(r, "state", "state.dir", fmt.Sprintf("%s is not writable: %v", dir, err))
		return
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
}

// validateRelaySettings checks the persisted destinations and retry policy.
func (d *Doctor) validateRelaySettings(r *Result) {
	if d.settings == nil {
		d.addWarning(r, "relay", "", "no persisted relay settings; defaults apply until the first config update")
		return
	}
	s := d.settings

	if err := s.Validate(); err != nil {
		d.addError(r, "relay", "webhook-config", err.Error())
	}
	if !s.Enabled {
		d.addWarning(r, "relay", "enabled", "forwarding is disabled; received webhooks are logged only")
	}
	if s.Enabled && len(s.Destinations) == 0 {
		d.addWarning(r, "relay", "destinations", "forwarding is enabled but no destinations are configured")
	}
	if s.Secret == "" {
		d.addWarning(r, "relay", "secret", "no secret set; outbound requests are unsigned and inbound signatures are not checked")
	}
	for _, dest := range s.Destinations {
		if strings.HasPrefix(dest, "http://") {
			d.addWarning(r, "relay", "destinations", fmt.Sprintf("%s is plain http", dest))
		}
	}
}

// warnAdminCredentials flags the built-in admin credentials.
func (d *Doctor) warnAdminCredentials(r *Result) {
	def := config.Defaults().Admin
	if d.cfg.Admin.Username == def.Username && d.cfg.Admin.Password == def.Password {
		d.addWarning(r, "admin", "admin.password",
			fmt.Sprintf("default admin credentials in use; set %s and %s", config.EnvAuthUser, config.EnvAuthPass))
		return
	}
	if len(d.cfg.Admin.Password) < 8 {
		d.addWarning(r, "admin", "admin.password", "admin password is shorter than 8 characters")
	}
}

func (d *Doctor) warnCORS(r *Result) {
	if slices.Contains(d.cfg.Admin.CORS.AllowedOrigins, "*") {
		d.addWarning(r, "admin", "admin.cors.allowed_origins", "any origin may call the admin API from a browser")
	}
}

// warnWriteTimeout flags a server write timeout shorter than the worst-case
// forward, since the ingress response waits for forwarding.
func (d *Doctor) warnWriteTimeout(r *Result) {
	if d.settings == nil || d.settings.RetryAttempts < 1 {
		return
	}
	attempts := time.Duration(d.settings.RetryAttempts)
	worst := attempts*d.cfg.Delivery.Timeout + (attempts-1)*d.settings.RetryDelay()
	if worst >= d.cfg.Server.WriteTimeout {
		d.addWarning(r, "server", "server.write_timeout",
			fmt.Sprintf("worst-case forwarding takes %s but write_timeout is %s; slow destinations will cut ingress responses", worst, d.cfg.Server.WriteTimeout))
	}
}

func (d *Doctor) warnConcurrency(r *Result) {
	if d.settings == nil {
		return
	}
	if n := len(d.settings.Destinations); n > d.cfg.Delivery.MaxConcurrent {
		d.addWarning(r, "delivery", "delivery.max_concurrent",
			fmt.Sprintf("%d destinations exceed max_concurrent %d; fan-out will queue", n, d.cfg.Delivery.MaxConcurrent))
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
