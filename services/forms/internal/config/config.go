package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// LLMConfig selects the text and image providers.
type LLMConfig struct {
	Provider   string  `yaml:"provider"` // openai or ollama
	BaseURL    string  `yaml:"baseURL"`
	APIKey     string  `yaml:"apiKey"`
	TextModel  string  `yaml:"textModel"`
	ImageModel string  `yaml:"imageModel"`
	ImageSize  string  `yaml:"imageSize"`
	MaxTokens  int     `yaml:"maxTokens"`
	Temp       float64 `yaml:"temperature"`
	Timeout    string  `yaml:"timeout"`
}

// RateLimitConfig bounds public submissions per client IP.
type RateLimitConfig struct {
	Limit    int    `yaml:"limit"`
	Window   string `yaml:"window"`
	FailOpen *bool  `yaml:"failOpen"`
}

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port              string          `yaml:"port"`
	StoreDriver       string          `yaml:"storeDriver"`
	DatabaseURL       string          `yaml:"databaseURL"`
	LogLevel          string          `yaml:"logLevel"`
	RedisAddr         string          `yaml:"redisAddr"`
	RedisPassword     string          `yaml:"redisPassword"`
	JWTPrivateKeyPath string          `yaml:"jwtPrivateKeyPath"`
	JWTKeyID          string          `yaml:"jwtKeyId"`
	JWTIssuer         string          `yaml:"jwtIssuer"`
	JWTAudience       string          `yaml:"jwtAudience"`
	JWTLeeway         string          `yaml:"jwtLeeway"`
	SessionTTL        string          `yaml:"sessionTTL"`
	LLM               LLMConfig       `yaml:"llm"`
	MinioEndpoint     string          `yaml:"minioEndpoint"`
	MinioAccessKey    string          `yaml:"minioAccessKey"`
	MinioSecretKey    string          `yaml:"minioSecretKey"`
	MinioBucket       string          `yaml:"minioBucket"`
	MinioUseSSL       bool            `yaml:"minioUseSSL"`
	AMQPURL           string          `yaml:"amqpURL"`
	AMQPExchange      string          `yaml:"amqpExchange"`
	EventsStream      string          `yaml:"eventsStream"` // used when amqpURL is empty and redisAddr is set
	TestIdentityEmail string          `yaml:"testIdentityEmail"`
	NewUserMaxLeads   int             `yaml:"newUserMaxLeads"` // 0 = unlimited
	NewUserMaxForms   int             `yaml:"newUserMaxForms"` // 0 = unlimited
	TrustedProxies    []string        `yaml:"trustedProxies"`
	RateLimit         RateLimitConfig `yaml:"rateLimit"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("JWT_PRIVATE_KEY_PATH"); v != "" {
		cfg.JWTPrivateKeyPath = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	if v := os.Getenv("LEADHERO_TEST_IDENTITY_EMAIL"); v != "" {
		cfg.TestIdentityEmail = v
	}
	if v := os.Getenv("LEADHERO_TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitCSV(v)
	}
	if v := os.Getenv("LEADHERO_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.Limit = n
		}
	}
}

func applyDefaults(cfg *FileConfig) {
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = "postgres"
	}
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.SessionTTL == "" {
		cfg.SessionTTL = "24h"
	}
	if cfg.RateLimit.Window == "" {
		cfg.RateLimit.Window = "1m"
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	switch cfg.StoreDriver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
		}
	case "memory":
	default:
		return fmt.Errorf("config: unsupported storeDriver %q (use postgres or memory)", cfg.StoreDriver)
	}
	if cfg.JWTPrivateKeyPath == "" {
		return errors.New("config: jwtPrivateKeyPath is required (set in config.yaml or JWT_PRIVATE_KEY_PATH)")
	}
	switch cfg.LLM.Provider {
	case "openai":
		if cfg.LLM.APIKey == "" {
			return errors.New("config: llm.apiKey is required for provider openai (set in config.yaml or LLM_API_KEY)")
		}
	case "ollama":
		if cfg.LLM.BaseURL == "" {
			return errors.New("config: llm.baseURL is required for provider ollama (set in config.yaml)")
		}
	default:
		return fmt.Errorf("config: unsupported llm.provider %q (use openai or ollama)", cfg.LLM.Provider)
	}
	if cfg.MinioEndpoint != "" && (cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" || cfg.MinioBucket == "") {
		return errors.New("config: minioAccessKey, minioSecretKey and minioBucket are required when minioEndpoint is set")
	}
	if cfg.NewUserMaxLeads < 0 || cfg.NewUserMaxForms < 0 {
		return errors.New("config: newUserMaxLeads and newUserMaxForms must not be negative")
	}
	if cfg.RateLimit.Limit > 0 && cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required when rateLimit.limit is set")
	}
	durations := []struct{ name, value string }{
		{"sessionTTL", cfg.SessionTTL},
		{"jwtLeeway", cfg.JWTLeeway},
		{"llm.timeout", cfg.LLM.Timeout},
		{"rateLimit.window", cfg.RateLimit.Window},
	}
	for _, d := range durations {
		if _, err := ParseDuration(d.value); err != nil {
			return fmt.Errorf("config: %s: %w", d.name, err)
		}
	}
	return nil
}

// ParseDuration parses an optional duration; empty means zero.
func ParseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q must not be negative", v)
	}
	return d, nil
}

// RateLimitFailOpen reports whether public routes stay open when Redis fails.
func (c FileConfig) RateLimitFailOpen() bool {
	if c.RateLimit.FailOpen == nil {
		return true
	}
	return *c.RateLimit.FailOpen
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
