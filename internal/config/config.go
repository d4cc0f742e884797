// Package config provides application configuration.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	FrontendURL     string
	DBPath          string
	LoginSessionTTL time.Duration
	SeedUsers       []SeedUser
	Backend         BackendConfig
	Research        ResearchConfig
	RateLimit       RateLimitConfig
}

// BackendConfig describes how to reach the research backend.
type BackendConfig struct {
	BaseURL        string
	AccessToken    string // default long-lived access token for users without their own
	AuthTimeout    time.Duration
	SubmitTimeout  time.Duration
	ReadTimeout    time.Duration
	ResultCacheTTL time.Duration
}

// ResearchConfig controls the polling loop.
type ResearchConfig struct {
	PollInterval time.Duration
	MaxPolls     int
	// TaskConfig is sent as the "config" object of every submission.
	TaskConfig map[string]any
}

// RateLimitConfig controls per-user chat message throttling.
type RateLimitConfig struct {
	PerMinute int
	Burst     int
}

// SeedUser is a local login created at startup when it does not exist yet.
type SeedUser struct {
	Username    string
	Password    string
	DisplayName string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	seeds, err := parseSeedUsers(getEnv("SEED_USERS", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	taskConfig, err := parseTaskConfig(getEnv("TASK_CONFIG", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		FrontendURL:     getEnv("FRONTEND_URL", ""),
		DBPath:          getEnv("DB_PATH", "./data/askdanta.db"),
		LoginSessionTTL: getEnvDuration("LOGIN_SESSION_TTL", 7*24*time.Hour),
		SeedUsers:       seeds,
		Backend: BackendConfig{
			BaseURL:        strings.TrimRight(getEnv("BACKEND_API_URL", "http://localhost:8000"), "/"),
			AccessToken:    getEnv("DANTA_ACCESS_TOKEN", ""),
			AuthTimeout:    getEnvDuration("AUTH_TIMEOUT", 30*time.Second),
			SubmitTimeout:  getEnvDuration("SUBMIT_TIMEOUT", 300*time.Second),
			ReadTimeout:    getEnvDuration("READ_TIMEOUT", 30*time.Second),
			ResultCacheTTL: getEnvDuration("RESULT_CACHE_TTL", time.Hour),
		},
		Research: ResearchConfig{
			PollInterval: getEnvDuration("POLL_INTERVAL", 5*time.Second),
			MaxPolls:     getEnvInt("MAX_POLL_ATTEMPTS", 120),
			TaskConfig:   taskConfig,
		},
		RateLimit: RateLimitConfig{
			PerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 20),
			Burst:     getEnvInt("RATE_LIMIT_BURST", 5),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("BACKEND_API_URL must be an absolute URL, got %q", c.Backend.BaseURL)
	}
	if c.Backend.AuthTimeout <= 0 || c.Backend.SubmitTimeout <= 0 || c.Backend.ReadTimeout <= 0 {
		return fmt.Errorf("backend timeouts must be > 0")
	}
	if c.Research.PollInterval < 0 {
		return fmt.Errorf("POLL_INTERVAL cannot be negative")
	}
	if c.Research.MaxPolls <= 0 {
		return fmt.Errorf("MAX_POLL_ATTEMPTS must be > 0")
	}
	if c.RateLimit.PerMinute <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE and RATE_LIMIT_BURST must be > 0")
	}
	if c.LoginSessionTTL <= 0 {
		return fmt.Errorf("LOGIN_SESSION_TTL must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// parseSeedUsers parses "name:password[:display name],..." entries.
func parseSeedUsers(raw string) ([]SeedUser, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var users []SeedUser
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("SEED_USERS entry %q must be name:password[:display]", entry)
		}
		u := SeedUser{Username: parts[0], Password: parts[1], DisplayName: parts[0]}
		if len(parts) == 3 && parts[2] != "" {
			u.DisplayName = parts[2]
		}
		users = append(users, u)
	}
	return users, nil
}

// parseTaskConfig parses TASK_CONFIG, a JSON object.
func parseTaskConfig(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var cfg map[string]any
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("TASK_CONFIG must be a JSON object: %w", err)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("5s") or bare seconds ("5").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

// IsContainer reports whether the process runs inside a container.
func IsContainer() bool {
	if getEnvBool("CONTAINER", false) {
		return true
	}
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}
