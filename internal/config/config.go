// Package config provides YAML configuration loading with validation,
// environment variable substitution and an environment overlay for the
// order relay.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level relay configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Upstream  UpstreamConfig  `yaml:"upstream" json:"upstream"`
	Auth      AuthConfig      `yaml:"auth" json:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors" json:"cors"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Tracing   TracingConfig   `yaml:"tracing" json:"tracing"`
	Admin     AdminConfig     `yaml:"admin" json:"admin"`

	// Warnings holds non-fatal config issues detected during loading.
	Warnings []string `yaml:"-" json:"-"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" json:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	TLS             TLSConfig     `yaml:"tls" json:"tls"`

	// ExposeInternalErrors controls whether raw network/parse error text is
	// returned to callers on 500 responses. Defaults to true.
	ExposeInternalErrors *bool `yaml:"expose_internal_errors" json:"expose_internal_errors"`
}

// InternalErrorsExposed reports whether raw internal error messages are
// returned to callers (defaults to true).
func (s ServerConfig) InternalErrorsExposed() bool {
	if s.ExposeInternalErrors == nil {
		return true
	}
	return *s.ExposeInternalErrors
}

// TLSConfig holds TLS termination settings.
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	CertFile   string `yaml:"cert_file" json:"cert_file"`
	KeyFile    string `yaml:"key_file" json:"key_file"`
	MinVersion string `yaml:"min_version" json:"min_version"` // "1.2" or "1.3"; default: "1.2"
}

// Lookup strategies accepted by upstream.lookup_strategy.
const (
	StrategyByID         = "by_id"
	StrategyByNameFilter = "by_name_filter"
	StrategyAuto         = "auto"
)

// UpstreamConfig describes the order-management API being relayed.
type UpstreamConfig struct {
	BaseURL        string `yaml:"base_url" json:"base_url"`
	APIVersion     string `yaml:"api_version" json:"api_version"`
	AccessToken    string `yaml:"access_token" json:"access_token"`
	TokenHeader    string `yaml:"token_header" json:"token_header"`
	LookupStrategy string `yaml:"lookup_strategy" json:"lookup_strategy"`

	// TimeoutMs bounds each upstream call. 0 means the default (10s);
	// a negative value disables the bound.
	TimeoutMs int `yaml:"timeout_ms" json:"timeout_ms"`
}

// Timeout returns the upstream bound as a time.Duration. Returns 0 when the
// bound is disabled.
func (u UpstreamConfig) Timeout() time.Duration {
	if u.TimeoutMs < 0 {
		return 0
	}
	if u.TimeoutMs == 0 {
		return 10 * time.Second
	}
	return time.Duration(u.TimeoutMs) * time.Millisecond
}

// AuthConfig holds caller authentication settings.
type AuthConfig struct {
	APIKey string    `yaml:"api_key" json:"api_key"`
	Header string    `yaml:"header" json:"header"`
	JWT    JWTConfig `yaml:"jwt" json:"jwt"`
}

// JWTConfig enables HS256 bearer tokens as an alternative credential.
type JWTConfig struct {
	Enabled  bool     `yaml:"enabled" json:"enabled"`
	Secret   string   `yaml:"secret" json:"secret"`
	Issuer   string   `yaml:"issuer" json:"issuer"`
	Audience string   `yaml:"audience" json:"audience"`
	Scopes   []string `yaml:"scopes" json:"scopes"`
}

// Rate limit algorithms.
const (
	AlgorithmFixedWindow = "fixed_window"
	AlgorithmTokenBucket = "token_bucket"
)

// RateLimitConfig holds the process-wide request quota.
type RateLimitConfig struct {
	Algorithm string        `yaml:"algorithm" json:"algorithm"`
	Max       int           `yaml:"max" json:"max"`
	Window    time.Duration `yaml:"window" json:"window"`
	Message   string        `yaml:"message" json:"message"`
}

// CORS modes.
const (
	CORSStrict     = "strict"
	CORSPermissive = "permissive"
)

// CORSConfig holds the origin policy.
type CORSConfig struct {
	Mode           string   `yaml:"mode" json:"mode"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	MaxAge         int      `yaml:"max_age" json:"max_age"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
// Enabled defaults to true; set to false to disable metrics.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// IsEnabled returns whether metrics are enabled (defaults to true).
func (m MetricsConfig) IsEnabled() bool {
	if m.Enabled == nil {
		return true
	}
	return *m.Enabled
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`               // debug, info, warn, error; default: info
	Format     string `yaml:"format" json:"format"`             // json or text; default: json
	Output     string `yaml:"output" json:"output"`             // "stdout", "stderr", or file path; default: "stdout"
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`   // default: 100
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`   // default: 3
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"` // default: 30
}

// TracingConfig toggles OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	ServiceName string `yaml:"service_name" json:"service_name"`
}

// AdminConfig holds admin API settings.
type AdminConfig struct {
	Enabled     bool     `yaml:"enabled" json:"enabled"`           // default: false
	IPAllowlist []string `yaml:"ip_allowlist" json:"ip_allowlist"` // CIDR notation
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns in s with the corresponding
// environment variable value.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		key := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return match
	})
}

// Load reads an optional YAML configuration file, overlays environment
// variables, sets defaults, and validates the result. An empty path skips
// the file and configures the relay from the environment alone.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		data = b
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes, then applies the
// environment overlay. Useful for testing.
func LoadFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if len(data) > 0 {
		expanded := expandEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.Warnings = collectWarnings(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3000
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.TLS.Enabled && cfg.Server.TLS.MinVersion == "" {
		cfg.Server.TLS.MinVersion = "1.2"
	}

	u := &cfg.Upstream
	if u.BaseURL == "" {
		u.BaseURL = "https://astrotalk.store"
	}
	u.BaseURL = strings.TrimRight(u.BaseURL, "/")
	if u.APIVersion == "" {
		u.APIVersion = "2023-04"
	}
	if u.TokenHeader == "" {
		u.TokenHeader = "X-Shopify-Access-Token"
	}
	if u.LookupStrategy == "" {
		u.LookupStrategy = StrategyByID
	}

	if cfg.Auth.Header == "" {
		cfg.Auth.Header = "x-api-key"
	}

	rl := &cfg.RateLimit
	if rl.Algorithm == "" {
		rl.Algorithm = AlgorithmFixedWindow
	}
	if rl.Max == 0 {
		rl.Max = 100
	}
	if rl.Window == 0 {
		rl.Window = 15 * time.Minute
	}
	if rl.Message == "" {
		rl.Message = "Too many requests, please try again later."
	}

	if cfg.CORS.Mode == "" {
		cfg.CORS.Mode = CORSStrict
	}
	// The storefront served from the upstream's own origin is the one
	// browser caller a strict deployment always needs.
	if cfg.CORS.Mode == CORSStrict && len(cfg.CORS.AllowedOrigins) == 0 {
		if bu, err := url.Parse(u.BaseURL); err == nil && bu.Scheme != "" && bu.Host != "" {
			cfg.CORS.AllowedOrigins = []string{bu.Scheme + "://" + bu.Host}
		}
	}
	if cfg.CORS.MaxAge == 0 {
		cfg.CORS.MaxAge = 86400
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 3
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 30
	}

	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "order-relay"
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	if cfg.Server.TLS.Enabled {
		if cfg.Server.TLS.CertFile == "" {
			return fmt.Errorf("server.tls.cert_file is required when TLS is enabled")
		}
		if cfg.Server.TLS.KeyFile == "" {
			return fmt.Errorf("server.tls.key_file is required when TLS is enabled")
		}
		if cfg.Server.TLS.MinVersion != "1.2" && cfg.Server.TLS.MinVersion != "1.3" {
			return fmt.Errorf("server.tls.min_version must be \"1.2\" or \"1.3\", got %q", cfg.Server.TLS.MinVersion)
		}
	}

	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return fmt.Errorf("upstream.base_url: invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("upstream.base_url: scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("upstream.base_url: host is required")
	}
	if cfg.Upstream.AccessToken == "" {
		return fmt.Errorf("upstream.access_token is required")
	}
	switch cfg.Upstream.LookupStrategy {
	case StrategyByID, StrategyByNameFilter, StrategyAuto:
	default:
		return fmt.Errorf("upstream.lookup_strategy must be one of by_id, by_name_filter, auto; got %q", cfg.Upstream.LookupStrategy)
	}

	if cfg.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key is required")
	}
	if cfg.Auth.JWT.Enabled {
		if cfg.Auth.JWT.Secret == "" {
			return fmt.Errorf("auth.jwt.secret is required when jwt is enabled")
		}
		if cfg.Auth.JWT.Issuer == "" {
			return fmt.Errorf("auth.jwt.issuer is required when jwt is enabled")
		}
		if cfg.Auth.JWT.Audience == "" {
			return fmt.Errorf("auth.jwt.audience is required when jwt is enabled")
		}
	}

	switch cfg.RateLimit.Algorithm {
	case AlgorithmFixedWindow, AlgorithmTokenBucket:
	default:
		return fmt.Errorf("rate_limit.algorithm must be fixed_window or token_bucket, got %q", cfg.RateLimit.Algorithm)
	}
	if cfg.RateLimit.Max <= 0 {
		return fmt.Errorf("rate_limit.max must be positive")
	}
	if cfg.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive")
	}

	switch cfg.CORS.Mode {
	case CORSStrict, CORSPermissive:
	default:
		return fmt.Errorf("cors.mode must be strict or permissive, got %q", cfg.CORS.Mode)
	}
	for i, origin := range cfg.CORS.AllowedOrigins {
		if origin == "*" {
			return fmt.Errorf("cors.allowed_origins[%d]: use mode permissive instead of \"*\"", i)
		}
	}

	if !validLogLevels[strings.ToLower(cfg.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" && cfg.Logging.Format != "text" {
		return fmt.Errorf("logging.format must be json or text, got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" && cfg.Logging.Output != "stderr" {
		if cfg.Logging.MaxSizeMB < 1 {
			return fmt.Errorf("logging.max_size_mb must be positive when output is a file path")
		}
	}

	if cfg.Admin.Enabled {
		if len(cfg.Admin.IPAllowlist) == 0 {
			return fmt.Errorf("admin.ip_allowlist is required when admin is enabled")
		}
		for i, cidr := range cfg.Admin.IPAllowlist {
			if _, _, err := net.ParseCIDR(cidr); err != nil {
				return fmt.Errorf("admin.ip_allowlist[%d]: invalid CIDR %q: %w", i, cidr, err)
			}
		}
	}

	return nil
}

func collectWarnings(cfg *Config) []string {
	var warnings []string
	if strings.Contains(cfg.Auth.APIKey, "${") {
		warnings = append(warnings, "auth.api_key contains unresolved environment variable")
	}
	if strings.Contains(cfg.Upstream.AccessToken, "${") {
		warnings = append(warnings, "upstream.access_token contains unresolved environment variable")
	}
	if cfg.Upstream.Timeout() == 0 {
		warnings = append(warnings, "upstream timeout disabled; slow upstream calls will hold requests open")
	}
	if u, err := url.Parse(cfg.Upstream.BaseURL); err == nil && u.Scheme == "http" {
		warnings = append(warnings, "upstream.base_url is not https; the access token will travel in clear text")
	}
	return warnings
}
