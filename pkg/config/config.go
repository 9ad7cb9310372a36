// Package config loads service configuration from an optional .env file, an
// optional YAML file named by CONFIG_FILE, and environment variables, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all service configuration.
type Config struct {
	Port        string   `yaml:"port"`
	LogLevel    string   `yaml:"log_level"`
	CORSOrigins []string `yaml:"cors_origins"`

	Reddit    Reddit    `yaml:"reddit"`
	Chat      Chat      `yaml:"chat"`
	RateLimit RateLimit `yaml:"rate_limit"`
	NATS      NATS      `yaml:"nats"`
}

// Reddit configures the upstream client and search orchestration.
type Reddit struct {
	BaseURL         string        `yaml:"base_url"`
	UserAgent       string        `yaml:"user_agent"`
	MaxRequests     int           `yaml:"max_requests"`
	Window          time.Duration `yaml:"window"`
	Margin          time.Duration `yaml:"margin"`
	MaxAttempts     int           `yaml:"max_attempts"`
	MaxCommentDepth int           `yaml:"max_comment_depth"`
	CommentWorkers  int           `yaml:"comment_workers"`
	SearchTimeout   time.Duration `yaml:"search_timeout"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	CacheSize       int           `yaml:"cache_size"`
}

// Chat configures the chat model.
type Chat struct {
	Provider         string        `yaml:"provider"` // "anthropic" or "ollama"
	AnthropicAPIKey  string        `yaml:"-"`        // environment only
	AnthropicModel   string        `yaml:"anthropic_model"`
	AnthropicBaseURL string        `yaml:"anthropic_base_url"`
	OllamaURL        string        `yaml:"ollama_url"`
	OllamaModel      string        `yaml:"ollama_model"`
	MaxTokens        int           `yaml:"max_tokens"`
	Temperature      float64       `yaml:"temperature"`
	Timeout          time.Duration `yaml:"timeout"`
}

// RateLimit configures the inbound per-client limiter.
type RateLimit struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// NATS configures optional publishing of scraped posts.
type NATS struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:        "8080",
		LogLevel:    "info",
		CORSOrigins: []string{"*"},
		Reddit: Reddit{
			BaseURL:         "https://www.reddit.com",
			MaxRequests:     10,
			Window:          time.Minute,
			Margin:          100 * time.Millisecond,
			MaxAttempts:     3,
			MaxCommentDepth: 10,
			CommentWorkers:  1,
			SearchTimeout:   3 * time.Minute,
			CacheTTL:        60 * time.Second,
			CacheSize:       256,
		},
		Chat: Chat{
			Provider:    "anthropic",
			OllamaURL:   "http://localhost:11434",
			OllamaModel: "llama3.1",
			MaxTokens:   2048,
			Temperature: 0.7,
			Timeout:     60 * time.Second,
		},
		RateLimit: RateLimit{RPS: 2, Burst: 10},
		NATS:      NATS{Subject: "reddit.search.posts"},
	}
}

// Load reads .env (if present), then CONFIG_FILE (if set), then applies
// environment overrides.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(c *Config) {
	c.Port = envOr("PORT", c.Port)
	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.CORSOrigins = splitList(v)
	}

	r := &c.Reddit
	r.BaseURL = envOr("REDDIT_BASE_URL", r.BaseURL)
	r.UserAgent = envOr("REDDIT_USER_AGENT", r.UserAgent)
	r.MaxRequests = envInt("REDDIT_MAX_REQUESTS", r.MaxRequests)
	r.Window = envDuration("REDDIT_WINDOW", r.Window)
	r.Margin = envDuration("REDDIT_MARGIN", r.Margin)
	r.MaxAttempts = envInt("REDDIT_MAX_ATTEMPTS", r.MaxAttempts)
	r.MaxCommentDepth = envInt("REDDIT_MAX_COMMENT_DEPTH", r.MaxCommentDepth)
	r.CommentWorkers = envInt("REDDIT_COMMENT_WORKERS", r.CommentWorkers)
	r.SearchTimeout = envDuration("REDDIT_SEARCH_TIMEOUT", r.SearchTimeout)
	r.CacheTTL = envDuration("REDDIT_CACHE_TTL", r.CacheTTL)
	r.CacheSize = envInt("REDDIT_CACHE_SIZE", r.CacheSize)

	ch := &c.Chat
	ch.Provider = envOr("CHAT_PROVIDER", ch.Provider)
	ch.AnthropicAPIKey = envOr("ANTHROPIC_API_KEY", ch.AnthropicAPIKey)
	ch.AnthropicModel = envOr("ANTHROPIC_MODEL", ch.AnthropicModel)
	ch.AnthropicBaseURL = envOr("ANTHROPIC_BASE_URL", ch.AnthropicBaseURL)
	ch.OllamaURL = envOr("OLLAMA_URL", ch.OllamaURL)
	ch.OllamaModel = envOr("OLLAMA_MODEL", ch.OllamaModel)
	ch.MaxTokens = envInt("CHAT_MAX_TOKENS", ch.MaxTokens)
	ch.Temperature = envFloat("CHAT_TEMPERATURE", ch.Temperature)
	ch.Timeout = envDuration("CHAT_TIMEOUT", ch.Timeout)

	c.RateLimit.RPS = envFloat("RATE_LIMIT_RPS", c.RateLimit.RPS)
	c.RateLimit.Burst = envInt("RATE_LIMIT_BURST", c.RateLimit.Burst)

	c.NATS.URL = envOr("NATS_URL", c.NATS.URL)
	c.NATS.Subject = envOr("NATS_SUBJECT", c.NATS.Subject)
}

// Validate rejects settings no component can run with. A missing chat
// credential is not checked here; it fails the chat call that needs it.
func (c Config) Validate() error {
	switch {
	case c.Port == "":
		return errors.New("config: port is empty")
	case c.Reddit.MaxRequests <= 0:
		return fmt.Errorf("config: reddit.max_requests must be positive, got %d", c.Reddit.MaxRequests)
	case c.Reddit.Window <= 0:
		return fmt.Errorf("config: reddit.window must be positive, got %s", c.Reddit.Window)
	case c.Chat.Provider != "anthropic" && c.Chat.Provider != "ollama":
		return fmt.Errorf("config: unknown chat provider %q", c.Chat.Provider)
	}
	return nil
}

// SlogLevel maps LogLevel onto a slog level; unknown values mean info.
func (c Config) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
