package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Environment variables consulted by Discover and Load.
const (
	EnvConfig      = "WARELAY_CONFIG"
	EnvDataDir     = "WARELAY_DATA_DIR"
	EnvUpstreamURL = "WARELAY_UPSTREAM_URL"
	EnvAuthUser    = "WEBHOOK_AUTH_USER"
	EnvAuthPass    = "WEBHOOK_AUTH_PASS"
	EnvPort        = "PORT"
)

// DefaultConfigFile is looked up in the working directory when neither
// --config nor $WARELAY_CONFIG is given.
const DefaultConfigFile = "warelay.yaml"

// Discover resolves the config file path. Priority order: the explicit flag
// value, $WARELAY_CONFIG, ./warelay.yaml. An empty result means "run on
// defaults"; an explicitly named file that does not exist is an error.
func Discover(flagPath string) (string, error) {
	if flagPath != "" {
		if _, err := os.Stat(flagPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", flagPath)
		}
		return flagPath, nil
	}
	if p := os.Getenv(EnvConfig); p != "" {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("config file from $%s not found: %s", EnvConfig, p)
		}
		return p, nil
	}
	if _, err := os.Stat(DefaultConfigFile); err == nil {
		return DefaultConfigFile, nil
	}
	return "", nil
}

// Load reads the config at path (or starts from defaults when path is
// empty), applies environment overrides and defaults, and validates.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path %q: %w", path, err)
		}
		cfg, err = loadConfigFile(absPath)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", absPath, err)
		}
		cfg.SourcePath = absPath
	}

	cfg = applyConfigDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

// interpolateEnv replaces ${VAR} with the variable's value. Unset variables
// are left in place so validation can name them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}

	if cfg.State.Dir == "" {
		cfg.State.Dir = defaults.State.Dir
	}
	if cfg.State.Backend == "" {
		cfg.State.Backend = defaults.State.Backend
	}
	if cfg.State.LogCap == 0 {
		cfg.State.LogCap = defaults.State.LogCap
	}

	if cfg.Server.Listen == "" {
		cfg.Server.Listen = defaults.Server.Listen
	}
	if cfg.Server.WebhookPath == "" {
		cfg.Server.WebhookPath = defaults.Server.WebhookPath
	}
	if cfg.Server.MaxBodySize == "" {
		cfg.Server.MaxBodySize = defaults.Server.MaxBodySize
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaults.Server.ReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaults.Server.WriteTimeout
	}

	if cfg.Admin.Username == "" {
		cfg.Admin.Username = defaults.Admin.Username
	}
	if cfg.Admin.Password == "" {
		cfg.Admin.Password = defaults.Admin.Password
	}
	if cfg.Admin.CORS.AllowedOrigins == nil {
		cfg.Admin.CORS.AllowedOrigins = defaults.Admin.CORS.AllowedOrigins
	}

	if cfg.Delivery.Timeout == 0 {
		cfg.Delivery.Timeout = defaults.Delivery.Timeout
	}
	if cfg.Delivery.MaxConcurrent == 0 {
		cfg.Delivery.MaxConcurrent = defaults.Delivery.MaxConcurrent
	}

	if cfg.Upstream.URL == "" {
		cfg.Upstream.URL = defaults.Upstream.URL
	}
	if cfg.Upstream.Timeout == 0 {
		cfg.Upstream.Timeout = defaults.Upstream.Timeout
	}

	return cfg
}

// applyEnvOverrides lets the deployment environment win over the file; the
// relay has historically been configured through these variables alone.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvAuthUser); v != "" {
		cfg.Admin.Username = v
	}
	if v := os.Getenv(EnvAuthPass); v != "" {
		cfg.Admin.Password = v
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		cfg.State.Dir = v
	}
	if v := os.Getenv(EnvUpstreamURL); v != "" {
		cfg.Upstream.URL = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		host := "0.0.0.0"
		if h, _, err := splitHostPort(cfg.Server.Listen); err == nil && h != "" {
			host = h
		}
		cfg.Server.Listen = host + ":" + v
	}
}

func splitHostPort(addr string) (string, string, error) {
	i := strings.LastIndex(addr, ":")
	if i < 0 {
		return "", "", fmt.Errorf("missing port in %q", addr)
	}
	return addr[:i], addr[i+1:], nil
}

// validate reports every configuration problem at once.
func validate(cfg *Config) error {
	var errs []error

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		errs = append(errs, fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel))
	}
	if f := cfg.Service.LogFormat; f != "json" && f != "text" {
		errs = append(errs, fmt.Errorf("service.log_format must be json or text (got %q)", f))
	}

	if b := cfg.State.Backend; b != BackendFile && b != BackendSQLite {
		errs = append(errs, fmt.Errorf("state.backend must be %q or %q (got %q)", BackendFile, BackendSQLite, b))
	}
	if cfg.State.LogCap < 1 {
		errs = append(errs, fmt.Errorf("state.log_cap must be positive"))
	}

	if _, port, err := splitHostPort(cfg.Server.Listen); err != nil {
		errs = append(errs, fmt.Errorf("server.listen: %w", err))
	} else if _, err := strconv.Atoi(port); err != nil {
		errs = append(errs, fmt.Errorf("server.listen: invalid port %q", port))
	}
	if !strings.HasPrefix(cfg.Server.WebhookPath, "/") {
		errs = append(errs, fmt.Errorf("server.webhook_path must start with / (got %q)", cfg.Server.WebhookPath))
	}
	if _, err := ParseSize(cfg.Server.MaxBodySize); err != nil {
		errs = append(errs, fmt.Errorf("server.max_body_size: %w", err))
	}

	for field, v := range map[string]string{
		"admin.username": cfg.Admin.Username,
		"admin.password": cfg.Admin.Password,
		"upstream.url":   cfg.Upstream.URL,
	} {
		if m := envVarPattern.FindStringSubmatch(v); m != nil {
			errs = append(errs, fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1]))
		}
	}

	if cfg.Delivery.Timeout < 0 {
		errs = append(errs, fmt.Errorf("delivery.timeout must not be negative"))
	}
	if cfg.Delivery.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("delivery.max_concurrent must be positive"))
	}

	if u, err := url.Parse(cfg.Upstream.URL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Errorf("upstream.url must be an absolute http(s) URL (got %q)", cfg.Upstream.URL))
	}

	return errors.Join(errs...)
}

// ParseSize parses size strings like "1MB", "512KB" or "1048576" to bytes.
func ParseSize(size string) (int64, error) {
	upper := strings.ToUpper(strings.TrimSpace(size))
	multiplier := int64(1)

	switch {
	case strings.HasSuffix(upper, "KB"):
		multiplier = 1024
		upper = strings.TrimSuffix(upper, "KB")
	case strings.HasSuffix(upper, "MB"):
		multiplier = 1024 * 1024
		upper = strings.TrimSuffix(upper, "MB")
	case strings.HasSuffix(upper, "GB"):
		multiplier = 1024 * 1024 * 1024
		upper = strings.TrimSuffix(upper, "GB")
	}

	value, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value %q", size)
	}
	if value <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}

	result := value * multiplier
	if result/multiplier != value {
		return 0, fmt.Errorf("size too large")
	}
	return result, nil
}

// MaxBodyBytes returns the parsed ingress body limit. Load has already
// validated it.
func (c *Config) MaxBodyBytes() int64 {
	n, err := ParseSize(c.Server.MaxBodySize)
	if err != nil {
		return 1 << 20
	}
	return n
}

// Redacted returns a copy safe to print: the admin password is masked.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Admin.Password != "" {
		out.Admin.Password = "********"
	}
	out.Admin.CORS.AllowedOrigins = append([]string{}, c.Admin.CORS.AllowedOrigins...)
	return &out
}

// YAML renders the config as YAML.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
