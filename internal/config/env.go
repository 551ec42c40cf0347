package config

import (
	"strings"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// envKeys maps recognised environment variables to config paths. The
// unprefixed names match the variables the relay has always been deployed
// with, so existing .env files keep working.
var envKeys = map[string]string{
	"PORT":                 "server.port",
	"API_SECRET_KEY":       "auth.api_key",
	"SHOPIFY_ACCESS_TOKEN": "upstream.access_token",
	"SHOPIFY_STORE_URL":    "upstream.base_url",
	"SHOPIFY_API_VERSION":  "upstream.api_version",
	"LOOKUP_STRATEGY":      "upstream.lookup_strategy",
	"UPSTREAM_TIMEOUT_MS":  "upstream.timeout_ms",
	"CORS_MODE":            "cors.mode",
	"CORS_ALLOWED_ORIGINS": "cors.allowed_origins",
	"RATE_LIMIT_ALGORITHM": "rate_limit.algorithm",
	"RATE_LIMIT_MAX":       "rate_limit.max",
	"RATE_LIMIT_WINDOW":    "rate_limit.window",
	"LOG_LEVEL":            "logging.level",
	"LOG_FORMAT":           "logging.format",
	"METRICS_ENABLED":      "metrics.enabled",
	"TRACING_ENABLED":      "tracing.enabled",
}

// listKeys are config paths whose env value is a comma-separated list.
var listKeys = map[string]bool{
	"cors.allowed_origins": true,
}

// applyEnv overlays recognised environment variables onto cfg. Values set
// in the environment win over the YAML file.
func applyEnv(cfg *Config) error {
	k := koanf.New(".")
	err := k.Load(env.ProviderWithValue("", ".", func(key, value string) (string, interface{}) {
		path, ok := envKeys[key]
		if !ok || value == "" {
			return "", nil
		}
		if listKeys[path] {
			return path, splitList(value)
		}
		return path, value
	}), nil)
	if err != nil {
		return err
	}
	if len(k.Keys()) == 0 {
		return nil
	}
	// Lists from the environment replace the file's list rather than
	// merging into it element by element.
	if k.Exists("cors.allowed_origins") {
		cfg.CORS.AllowedOrigins = nil
	}
	return k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"})
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
