package config

import "time"

// Config represents the complete warelay process configuration. Relay
// settings (destinations, secret, retry policy) are not part of it; they live
// in the state store and change at runtime through the admin API.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	State    StateConfig    `yaml:"state"`
	Server   ServerConfig   `yaml:"server"`
	Admin    AdminConfig    `yaml:"admin"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Upstream UpstreamConfig `yaml:"upstream"`

	// SourcePath is the file the config was loaded from, empty for defaults.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// StateConfig defines where relay settings and log history are persisted.
type StateConfig struct {
	Dir     string `yaml:"dir"`
	Backend string `yaml:"backend"` // file | sqlite
	LogCap  int    `yaml:"log_cap"`
}

// Backends
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// ServerConfig defines the HTTP listener shared by ingress and admin routes.
type ServerConfig struct {
	Listen       string        `yaml:"listen"`
	WebhookPath  string        `yaml:"webhook_path"`
	MaxBodySize  string        `yaml:"max_body_size"` // e.g. "1MB", "524288"
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// AdminConfig defines admin API credentials and CORS.
type AdminConfig struct {
	Username string     `yaml:"username"`
	Password string     `yaml:"password"`
	CORS     CORSConfig `yaml:"cors"`
}

// CORSConfig lists origins allowed to call the admin API from a browser.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DeliveryConfig bounds outbound forwarding.
type DeliveryConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	MaxConcurrent int           `yaml:"max_concurrent"`
}

// UpstreamConfig points at the automation backend that hosts media files.
type UpstreamConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Defaults returns a Config with default values.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "warelay",
			LogLevel:  "info",
			LogFormat: "json",
		},
		State: StateConfig{
			Dir:     "./data",
			Backend: BackendFile,
			LogCap:  1000,
		},
		Server: ServerConfig{
			Listen:       "0.0.0.0:3001",
			WebhookPath:  "/webhook",
			MaxBodySize:  "1MB",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 2 * time.Minute,
		},
		Admin: AdminConfig{
			Username: "admin",
			Password: "admin",
			CORS: CORSConfig{
				AllowedOrigins: []string{"*"},
			},
		},
		Delivery: DeliveryConfig{
			Timeout:       10 * time.Second,
			MaxConcurrent: 50,
		},
		Upstream: UpstreamConfig{
			URL:     "http://localhost:8002",
			Timeout: 30 * time.Second,
		},
	}
}
