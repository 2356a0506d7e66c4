// Package config loads gateway settings from the environment with validated
// defaults. Every knob has a default; validation only rejects values that
// would break the server outright.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// Upstream generative service.
	GeminiAPIKey  string
	GeminiBaseURL string
	GeminiModel   string

	// Auth token issuance and verification.
	JWTSecret     string
	TokenLifetime time.Duration

	// Optional account seeded at startup so a fresh deployment can log in.
	BootstrapUser     string
	BootstrapPassword string

	// Memory store.
	DBPath     string
	DBPoolSize int

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => allow all, matching the dev frontend

	// Relay websocket.
	WSMaxMessageBytes    int64
	WSPingInterval       time.Duration
	WSWriteTimeout       time.Duration
	WSReadTimeout        time.Duration
	WSOutboundQueueSize  int
	MemoryContextLimit   int
	UpstreamWriteTimeout time.Duration
	HandshakeTimeout     time.Duration
	CloseTimeout         time.Duration

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration

	MetricsNamespace string
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                 envOr("AMBIENCE_ADDR", ":8000"),
		GeminiAPIKey:         strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiBaseURL:        envOr("AMBIENCE_GEMINI_BASE_URL", ""),
		GeminiModel:          envOr("AMBIENCE_GEMINI_MODEL", ""),
		JWTSecret:            strings.TrimSpace(os.Getenv("AMBIENCE_JWT_SECRET")),
		TokenLifetime:        envDurationOr("AMBIENCE_TOKEN_LIFETIME", 24*time.Hour),
		BootstrapUser:        envOr("AMBIENCE_BOOTSTRAP_USER", ""),
		BootstrapPassword:    os.Getenv("AMBIENCE_BOOTSTRAP_PASSWORD"),
		DBPath:               envOr("AMBIENCE_DB_PATH", "memories.db"),
		DBPoolSize:           envIntOr("AMBIENCE_DB_POOL_SIZE", 4),
		CORSAllowedOrigins:   make(map[string]struct{}),
		WSMaxMessageBytes:    envInt64Or("AMBIENCE_WS_MAX_MESSAGE_BYTES", 1<<20),
		WSPingInterval:       envDurationOr("AMBIENCE_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:       envDurationOr("AMBIENCE_WS_WRITE_TIMEOUT", 5*time.Second),
		WSReadTimeout:        envDurationOr("AMBIENCE_WS_READ_TIMEOUT", 0),
		WSOutboundQueueSize:  envIntOr("AMBIENCE_WS_OUTBOUND_QUEUE", 128),
		MemoryContextLimit:   envIntOr("AMBIENCE_MEMORY_CONTEXT_LIMIT", 50),
		UpstreamWriteTimeout: envDurationOr("AMBIENCE_UPSTREAM_WRITE_TIMEOUT", 5*time.Second),
		HandshakeTimeout:     envDurationOr("AMBIENCE_UPSTREAM_HANDSHAKE_TIMEOUT", 10*time.Second),
		CloseTimeout:         envDurationOr("AMBIENCE_UPSTREAM_CLOSE_TIMEOUT", 2*time.Second),
		ReadHeaderTimeout:    envDurationOr("AMBIENCE_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:  envDurationOr("AMBIENCE_SHUTDOWN_GRACE_PERIOD", 15*time.Second),
		MetricsNamespace:     envOr("AMBIENCE_METRICS_NAMESPACE", "ambience"),
	}

	for _, origin := range splitCSV(os.Getenv("AMBIENCE_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.GeminiAPIKey == "" {
		return Config{}, fmt.Errorf("GEMINI_API_KEY must be set")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("AMBIENCE_JWT_SECRET must be set")
	}
	if cfg.BootstrapUser != "" && cfg.BootstrapPassword == "" {
		return Config{}, fmt.Errorf("AMBIENCE_BOOTSTRAP_PASSWORD must be set when AMBIENCE_BOOTSTRAP_USER is")
	}
	if cfg.TokenLifetime <= 0 {
		return Config{}, fmt.Errorf("AMBIENCE_TOKEN_LIFETIME must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return Config{}, fmt.Errorf("AMBIENCE_DB_PATH must not be empty")
	}
	if cfg.DBPoolSize <= 0 {
		return Config{}, fmt.Errorf("AMBIENCE_DB_POOL_SIZE must be > 0")
	}
	if cfg.WSMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("AMBIENCE_WS_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("AMBIENCE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("AMBIENCE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSReadTimeout < 0 {
		return Config{}, fmt.Errorf("AMBIENCE_WS_READ_TIMEOUT must be >= 0")
	}
	if cfg.WSOutboundQueueSize <= 0 {
		return Config{}, fmt.Errorf("AMBIENCE_WS_OUTBOUND_QUEUE must be > 0")
	}
	if cfg.MemoryContextLimit <= 0 {
		return Config{}, fmt.Errorf("AMBIENCE_MEMORY_CONTEXT_LIMIT must be > 0")
	}
	if cfg.UpstreamWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("AMBIENCE_UPSTREAM_WRITE_TIMEOUT must be > 0")
	}
	if cfg.HandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("AMBIENCE_UPSTREAM_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.CloseTimeout <= 0 {
		return Config{}, fmt.Errorf("AMBIENCE_UPSTREAM_CLOSE_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("AMBIENCE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("AMBIENCE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
