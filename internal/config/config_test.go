package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
auth:
  api_key: "test-key"
upstream:
  access_token: "shpat_test"
`

func TestLoadFromBytes_Defaults(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("expected default port 3000, got %d", cfg.Server.Port)
	}
	if cfg.Upstream.BaseURL != "https://astrotalk.store" {
		t.Errorf("expected default base_url, got %q", cfg.Upstream.BaseURL)
	}
	if cfg.Upstream.APIVersion != "2023-04" {
		t.Errorf("expected default api_version 2023-04, got %q", cfg.Upstream.APIVersion)
	}
	if cfg.Upstream.LookupStrategy != StrategyByID {
		t.Errorf("expected default strategy by_id, got %q", cfg.Upstream.LookupStrategy)
	}
	if cfg.Upstream.Timeout() != 10*time.Second {
		t.Errorf("expected default timeout 10s, got %v", cfg.Upstream.Timeout())
	}
	if cfg.Auth.Header != "x-api-key" {
		t.Errorf("expected default header x-api-key, got %q", cfg.Auth.Header)
	}
	if cfg.RateLimit.Max != 100 {
		t.Errorf("expected default max 100, got %d", cfg.RateLimit.Max)
	}
	if cfg.RateLimit.Window != 15*time.Minute {
		t.Errorf("expected default window 15m, got %v", cfg.RateLimit.Window)
	}
	if cfg.RateLimit.Algorithm != AlgorithmFixedWindow {
		t.Errorf("expected default algorithm fixed_window, got %q", cfg.RateLimit.Algorithm)
	}
	if cfg.CORS.Mode != CORSStrict {
		t.Errorf("expected default cors mode strict, got %q", cfg.CORS.Mode)
	}
	if len(cfg.CORS.AllowedOrigins) != 1 || cfg.CORS.AllowedOrigins[0] != "https://astrotalk.store" {
		t.Errorf("expected default allowed origin https://astrotalk.store, got %v", cfg.CORS.AllowedOrigins)
	}
	if !cfg.Server.InternalErrorsExposed() {
		t.Error("expected internal errors exposed by default")
	}
	if !cfg.Metrics.IsEnabled() {
		t.Error("expected metrics enabled by default")
	}
}

func TestLoadFromBytes_FullConfig(t *testing.T) {
	yaml := []byte(`
server:
  port: 9090
  read_timeout: 10s
  write_timeout: 20s
  shutdown_timeout: 5s
  expose_internal_errors: false
upstream:
  base_url: "https://shop.example.com/"
  api_version: "2024-01"
  access_token: "shpat_abc"
  lookup_strategy: by_name_filter
  timeout_ms: 2500
auth:
  api_key: "k"
  header: "X-Relay-Key"
  jwt:
    enabled: true
    secret: "s"
    issuer: "iss"
    audience: "aud"
    scopes: ["orders:read"]
rate_limit:
  algorithm: token_bucket
  max: 20
  window: 1m
cors:
  mode: strict
  allowed_origins: ["https://astrotalk.store", "https://admin.astrotalk.store"]
logging:
  level: debug
  format: text
`)
	cfg, err := LoadFromBytes(yaml)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Server.InternalErrorsExposed() {
		t.Error("expected expose_internal_errors false")
	}
	if cfg.Upstream.BaseURL != "https://shop.example.com" {
		t.Errorf("expected trailing slash trimmed, got %q", cfg.Upstream.BaseURL)
	}
	if cfg.Upstream.Timeout() != 2500*time.Millisecond {
		t.Errorf("expected 2.5s timeout, got %v", cfg.Upstream.Timeout())
	}
	if cfg.Upstream.LookupStrategy != StrategyByNameFilter {
		t.Errorf("expected by_name_filter, got %q", cfg.Upstream.LookupStrategy)
	}
	if cfg.Auth.Header != "X-Relay-Key" {
		t.Errorf("expected header X-Relay-Key, got %q", cfg.Auth.Header)
	}
	if !cfg.Auth.JWT.Enabled || len(cfg.Auth.JWT.Scopes) != 1 {
		t.Errorf("unexpected jwt config: %+v", cfg.Auth.JWT)
	}
	if cfg.RateLimit.Algorithm != AlgorithmTokenBucket || cfg.RateLimit.Max != 20 || cfg.RateLimit.Window != time.Minute {
		t.Errorf("unexpected rate limit config: %+v", cfg.RateLimit)
	}
	if len(cfg.CORS.AllowedOrigins) != 2 {
		t.Errorf("expected 2 allowed origins, got %v", cfg.CORS.AllowedOrigins)
	}
}

func TestLoadFromBytes_EnvVarSubstitution(t *testing.T) {
	t.Setenv("TEST_RELAY_TOKEN", "env-token-value")

	yaml := []byte(`
auth:
  api_key: "k"
upstream:
  access_token: "${TEST_RELAY_TOKEN}"
`)
	cfg, err := LoadFromBytes(yaml)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Upstream.AccessToken != "env-token-value" {
		t.Errorf("expected env var expansion, got %q", cfg.Upstream.AccessToken)
	}
}

func TestLoadFromBytes_EnvOverlay(t *testing.T) {
	t.Setenv("PORT", "4100")
	t.Setenv("API_SECRET_KEY", "from-env")
	t.Setenv("SHOPIFY_ACCESS_TOKEN", "shpat_env")
	t.Setenv("SHOPIFY_STORE_URL", "https://env-shop.example.com")
	t.Setenv("LOOKUP_STRATEGY", "by_name_filter")
	t.Setenv("CORS_MODE", "strict")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("METRICS_ENABLED", "false")

	yaml := []byte(`
auth:
  api_key: "from-file"
upstream:
  access_token: "shpat_file"
cors:
  allowed_origins: ["https://file.example.com"]
`)
	cfg, err := LoadFromBytes(yaml)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("expected port 4100 from env, got %d", cfg.Server.Port)
	}
	if cfg.Auth.APIKey != "from-env" {
		t.Errorf("expected env api key to win, got %q", cfg.Auth.APIKey)
	}
	if cfg.Upstream.AccessToken != "shpat_env" {
		t.Errorf("expected env access token, got %q", cfg.Upstream.AccessToken)
	}
	if cfg.Upstream.BaseURL != "https://env-shop.example.com" {
		t.Errorf("expected env base url, got %q", cfg.Upstream.BaseURL)
	}
	if cfg.Upstream.LookupStrategy != StrategyByNameFilter {
		t.Errorf("expected env strategy, got %q", cfg.Upstream.LookupStrategy)
	}
	want := []string{"https://a.example.com", "https://b.example.com"}
	if len(cfg.CORS.AllowedOrigins) != len(want) {
		t.Fatalf("expected origins %v, got %v", want, cfg.CORS.AllowedOrigins)
	}
	for i := range want {
		if cfg.CORS.AllowedOrigins[i] != want[i] {
			t.Errorf("origin[%d] = %q, want %q", i, cfg.CORS.AllowedOrigins[i], want[i])
		}
	}
	if cfg.RateLimit.Window != 30*time.Second {
		t.Errorf("expected 30s window from env, got %v", cfg.RateLimit.Window)
	}
	if cfg.Metrics.IsEnabled() {
		t.Error("expected metrics disabled from env")
	}
}

func TestLoadFromBytes_StrictOriginDefault(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want []string
	}{
		{
			name: "derived from base_url",
			yaml: minimalYAML + "  base_url: \"https://shop.example.com:8443/\"\n",
			want: []string{"https://shop.example.com:8443"},
		},
		{
			name: "explicit list kept",
			yaml: minimalYAML + "cors:\n  allowed_origins: [\"https://app.example.com\"]\n",
			want: []string{"https://app.example.com"},
		},
		{
			name: "permissive has no list",
			yaml: minimalYAML + "cors:\n  mode: permissive\n",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadFromBytes([]byte(tt.yaml))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got := cfg.CORS.AllowedOrigins
			if len(got) != len(tt.want) {
				t.Fatalf("expected origins %v, got %v", tt.want, got)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("origin[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestLoadFromBytes_EnvOnly(t *testing.T) {
	t.Setenv("API_SECRET_KEY", "k")
	t.Setenv("SHOPIFY_ACCESS_TOKEN", "shpat_env")

	cfg, err := LoadFromBytes(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Auth.APIKey != "k" {
		t.Errorf("expected api key from env, got %q", cfg.Auth.APIKey)
	}
}

func TestLoadFromBytes_InvalidEnvValue(t *testing.T) {
	t.Setenv("PORT", "not-a-number")

	if _, err := LoadFromBytes([]byte(minimalYAML)); err == nil {
		t.Error("expected error for non-numeric PORT")
	}
}

func TestLoadFromBytes_Warnings(t *testing.T) {
	os.Unsetenv("NONEXISTENT_RELAY_SECRET")

	yaml := []byte(`
auth:
  api_key: "${NONEXISTENT_RELAY_SECRET}"
upstream:
  base_url: "http://localhost:4000"
  access_token: "t"
  timeout_ms: -1
`)
	cfg, err := LoadFromBytes(yaml)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantFragments := []string{
		"unresolved environment variable",
		"timeout disabled",
		"not https",
	}
	for _, frag := range wantFragments {
		found := false
		for _, w := range cfg.Warnings {
			if strings.Contains(w, frag) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected warning containing %q, got %v", frag, cfg.Warnings)
		}
	}
}

func TestLoadFromBytes_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "missing api key",
			yaml: `
upstream:
  access_token: "t"
`,
		},
		{
			name: "missing access token",
			yaml: `
auth:
  api_key: "k"
`,
		},
		{
			name: "invalid port",
			yaml: `
server:
  port: 99999
` + minimalYAML,
		},
		{
			name: "upstream with file scheme",
			yaml: `
auth:
  api_key: "k"
upstream:
  base_url: "file:///etc/passwd"
  access_token: "t"
`,
		},
		{
			name: "unknown lookup strategy",
			yaml: `
auth:
  api_key: "k"
upstream:
  access_token: "t"
  lookup_strategy: "by_email"
`,
		},
		{
			name: "unknown cors mode",
			yaml: `
cors:
  mode: "lenient"
` + minimalYAML,
		},
		{
			name: "wildcard in strict allow-list",
			yaml: `
cors:
  allowed_origins: ["*"]
` + minimalYAML,
		},
		{
			name: "negative rate limit max",
			yaml: `
rate_limit:
  max: -5
` + minimalYAML,
		},
		{
			name: "unknown rate limit algorithm",
			yaml: `
rate_limit:
  algorithm: leaky_bucket
` + minimalYAML,
		},
		{
			name: "jwt enabled without secret",
			yaml: `
auth:
  api_key: "k"
  jwt:
    enabled: true
    issuer: "iss"
    audience: "aud"
upstream:
  access_token: "t"
`,
		},
		{
			name: "admin enabled without allowlist",
			yaml: `
admin:
  enabled: true
` + minimalYAML,
		},
		{
			name: "admin allowlist invalid cidr",
			yaml: `
admin:
  enabled: true
  ip_allowlist: ["not-a-cidr"]
` + minimalYAML,
		},
		{
			name: "bad log level",
			yaml: `
logging:
  level: trace
` + minimalYAML,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.yaml))
			if err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Auth.APIKey != "test-key" {
		t.Errorf("expected test-key, got %q", cfg.Auth.APIKey)
	}
}

func TestUpstreamConfig_Timeout(t *testing.T) {
	tests := []struct {
		ms   int
		want time.Duration
	}{
		{0, 10 * time.Second},
		{5000, 5 * time.Second},
		{-1, 0},
	}
	for _, tt := range tests {
		got := UpstreamConfig{TimeoutMs: tt.ms}.Timeout()
		if got != tt.want {
			t.Errorf("Timeout() with %dms = %v, want %v", tt.ms, got, tt.want)
		}
	}
}
