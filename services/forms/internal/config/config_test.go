package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const baseYAML = `port: "8080"
databaseURL: postgres://leadhero@localhost/leadhero
jwtPrivateKeyPath: /etc/leadhero/jwt.pem
llm:
  apiKey: sk-test
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, baseYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StoreDriver != "postgres" {
		t.Fatalf("expected postgres driver, got %q", cfg.StoreDriver)
	}
	if cfg.LLM.Provider != "openai" {
		t.Fatalf("expected openai provider, got %q", cfg.LLM.Provider)
	}
	if cfg.SessionTTL != "24h" || cfg.RateLimit.Window != "1m" {
		t.Fatalf("unexpected duration defaults: %q %q", cfg.SessionTTL, cfg.RateLimit.Window)
	}
	if !cfg.RateLimitFailOpen() {
		t.Fatalf("expected rate limiter to fail open by default")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://override")
	t.Setenv("LLM_API_KEY", "sk-env")
	t.Setenv("LEADHERO_TEST_IDENTITY_EMAIL", "qa@example.com")
	t.Setenv("LEADHERO_TRUSTED_PROXIES", "10.0.0.0/8, ,127.0.0.1")
	t.Setenv("MINIO_USE_SSL", "true")

	cfg, err := Load(writeConfig(t, baseYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DatabaseURL != "postgres://override" {
		t.Fatalf("expected env database url, got %q", cfg.DatabaseURL)
	}
	if cfg.LLM.APIKey != "sk-env" {
		t.Fatalf("expected env api key, got %q", cfg.LLM.APIKey)
	}
	if cfg.TestIdentityEmail != "qa@example.com" {
		t.Fatalf("expected env test identity, got %q", cfg.TestIdentityEmail)
	}
	if len(cfg.TrustedProxies) != 2 || cfg.TrustedProxies[1] != "127.0.0.1" {
		t.Fatalf("unexpected trusted proxies: %v", cfg.TrustedProxies)
	}
	if !cfg.MinioUseSSL {
		t.Fatalf("expected MINIO_USE_SSL to enable ssl")
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"missing port", strings.Replace(baseYAML, `port: "8080"`, "", 1), "port is required"},
		{"missing database", strings.Replace(baseYAML, "databaseURL: postgres://leadhero@localhost/leadhero", "", 1), "databaseURL is required"},
		{"memory driver needs no database", strings.Replace(baseYAML, "databaseURL: postgres://leadhero@localhost/leadhero", "storeDriver: memory", 1), ""},
		{"unknown driver", baseYAML + "storeDriver: sqlite\n", "unsupported storeDriver"},
		{"ollama needs base url", strings.Replace(baseYAML, "apiKey: sk-test", "provider: ollama", 1), "llm.baseURL is required"},
		{"partial minio", baseYAML + "minioEndpoint: localhost:9000\n", "minioBucket are required"},
		{"rate limit needs redis", baseYAML + "rateLimit:\n  limit: 5\n", "redisAddr is required"},
		{"bad ttl", baseYAML + "sessionTTL: soon\n", "sessionTTL"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			if tc.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected read error")
	}
}

func TestParseDuration(t *testing.T) {
	if d, err := ParseDuration(""); err != nil || d != 0 {
		t.Fatalf("empty duration: %v %v", d, err)
	}
	if _, err := ParseDuration("-1s"); err == nil {
		t.Fatalf("expected negative duration to fail")
	}
}
