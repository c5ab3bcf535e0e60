package webhook

import (
	"fmt"

	"github.com/mattjoyce/warelay/internal/config"
)

// FromGlobalConfig converts the process config's server section to an
// ingress Config.
func FromGlobalConfig(cfg *config.Config) (Config, error) {
	if cfg == nil {
		return Config{}, fmt.Errorf("config is nil")
	}

	maxBodySize, err := config.ParseSize(cfg.Server.MaxBodySize)
	if err != nil {
		return Config{}, fmt.Errorf("invalid max_body_size %q: %w", cfg.Server.MaxBodySize, err)
	}

	return Config{
		Path:        cfg.Server.WebhookPath,
		MaxBodySize: maxBodySize,
	}, nil
}
