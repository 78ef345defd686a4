package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// PORTFOLIO_TRACKER_LOG_LEVEL or PORTFOLIO_TRACKER_RETRY_MAX_ATTEMPTS.
const EnvPrefix = "PORTFOLIO_TRACKER"

// Secrets are read from the environment only, never from the config file.
type Secrets struct {
	DatabaseURL string
	RedisURL    string
	AMQPURL     string
}

var defaults = map[string]any{
	"log_level":             "info",
	"interval":              "", // run once by default
	"http_port":             8080,
	"run_immediately":       true,
	"timezone":              "UTC",
	"concurrency":           4,
	"backend":               BackendMemory,
	"cache_ttl":             300 * time.Second,
	"stale_ttl":             30 * time.Second,
	"lock_ttl":              2 * time.Minute,
	"sync_timeout":          defaultSyncTimeout,
	"retry.max_attempts":    3,
	"retry.initial_backoff": 500 * time.Millisecond,
	"retry.max_backoff":     10 * time.Second,
	"price.enabled":         true,
	"price.ttl":             60 * time.Second,
	"price.timeout":         10 * time.Second,
	"cors_origins":          []string{},
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// 1. Set defaults
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// 2. Configure config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
	}

	// 3. Environment variables; nested keys use underscores
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Read config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// 5. Unmarshal into struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Comma-separated CORS origins from the environment
	if raw := v.GetString("cors_origins"); raw != "" && strings.Contains(raw, ",") {
		origins := strings.Split(raw, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSOrigins = origins
	}

	// 6. Normalize: convert single rpc_url to rpc_urls array
	if err := cfg.Normalize(); err != nil {
		return nil, fmt.Errorf("config normalization failed: %w", err)
	}

	// 7. Validate with validator
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads the config together with the connection secrets.
// DATABASE_URL is always required, REDIS_URL only with the redis backend.
func LoadWithDefaults(configPath string) (*Config, Secrets, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, Secrets{}, err
	}

	secrets, err := LoadSecrets(cfg.Backend)
	if err != nil {
		return nil, Secrets{}, err
	}
	return cfg, secrets, nil
}

// LoadSecrets reads connection strings from the environment.
func LoadSecrets(backend string) (Secrets, error) {
	v := viper.New()
	_ = v.BindEnv("database_url", "DATABASE_URL")
	_ = v.BindEnv("redis_url", "REDIS_URL")
	_ = v.BindEnv("amqp_url", "AMQP_URL")

	s := Secrets{
		DatabaseURL: v.GetString("database_url"),
		RedisURL:    v.GetString("redis_url"),
		AMQPURL:     v.GetString("amqp_url"),
	}

	if s.DatabaseURL == "" {
		return Secrets{}, fmt.Errorf("DATABASE_URL is required")
	}
	if backend == BackendRedis && s.RedisURL == "" {
		return Secrets{}, fmt.Errorf("REDIS_URL is required when backend is %q", BackendRedis)
	}
	return s, nil
}
