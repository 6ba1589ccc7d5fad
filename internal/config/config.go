package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Matching  MatchingConfig
	Embedding EmbeddingConfig
	Database  DatabaseConfig
	Notify    NotifyConfig
	Web       WebConfig
}

type MatchingConfig struct {
	ConfirmMaxDistance  float64 // largest distance treated as a confident match
	PossibleMaxDistance float64 // largest distance surfaced for review
	AmbiguityMargin     float64 // minimum gap to the runner-up for a confirm
	MaxCandidates       int     // review list cap (K)
	IndexBackend        string  // "hnsw" or "linear"
	StateRetries        int     // re-evaluations after a lost transition race
}

type EmbeddingConfig struct {
	URL string // defaults to http://localhost:8000
	Dim int    // defaults to 512
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL; empty runs in-memory only
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type NotifyConfig struct {
	Channels []string // enabled channels, default sms,email

	SMSGatewayURL string
	SMSAPIKey     string
	SMSSender     string

	EmailGatewayURL string
	EmailAPIKey     string
	EmailSender     string

	WhatsAppGatewayURL string
	WhatsAppAPIKey     string

	MaxRetries       int     // delivery attempts per channel (default 3)
	InitialBackoffMs int     // backoff before the second attempt (default 500)
	RatePerSecond    float64 // gateway request rate limit per channel
	Burst            int
}

type WebConfig struct {
	Port int // defaults to 8080
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a positive float.
// Returns the default value if the env var is unset, empty, or invalid.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

// envList reads a comma-separated environment variable.
func envList(key string, defaultVal []string) []string {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

// envDefault reads an environment variable with a fallback.
func envDefault(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func Load() *Config {
	return &Config{
		Matching: MatchingConfig{
			ConfirmMaxDistance:  envFloat("MATCH_CONFIRM_MAX_DISTANCE", 0.15),
			PossibleMaxDistance: envFloat("MATCH_POSSIBLE_MAX_DISTANCE", 0.30),
			AmbiguityMargin:     envFloat("MATCH_AMBIGUITY_MARGIN", 0.05),
			MaxCandidates:       envInt("MATCH_MAX_CANDIDATES", 5),
			IndexBackend:        envDefault("MATCH_INDEX_BACKEND", "hnsw"),
			StateRetries:        envInt("MATCH_STATE_RETRIES", 3),
		},
		Embedding: EmbeddingConfig{
			URL: os.Getenv("EMBEDDING_URL"),
			Dim: envInt("EMBEDDING_DIM", 512),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Notify: NotifyConfig{
			Channels:           envList("NOTIFY_CHANNELS", []string{"sms", "email"}),
			SMSGatewayURL:      os.Getenv("SMS_GATEWAY_URL"),
			SMSAPIKey:          os.Getenv("SMS_API_KEY"),
			SMSSender:          envDefault("SMS_SENDER", "reunite"),
			EmailGatewayURL:    os.Getenv("EMAIL_GATEWAY_URL"),
			EmailAPIKey:        os.Getenv("EMAIL_API_KEY"),
			EmailSender:        envDefault("EMAIL_SENDER", "alerts@reunite.example"),
			WhatsAppGatewayURL: os.Getenv("WHATSAPP_GATEWAY_URL"),
			WhatsAppAPIKey:     os.Getenv("WHATSAPP_API_KEY"),
			MaxRetries:         envInt("NOTIFY_MAX_RETRIES", 3),
			InitialBackoffMs:   envInt("NOTIFY_INITIAL_BACKOFF_MS", 500),
			RatePerSecond:      envFloat("NOTIFY_RATE_PER_SECOND", 5),
			Burst:              envInt("NOTIFY_BURST", 10),
		},
		Web: WebConfig{
			Port: envInt("PORT", 8080),
		},
	}
}
