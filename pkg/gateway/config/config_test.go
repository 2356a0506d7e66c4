package config

import (
	"strings"
	"testing"
	"time"
)

var gatewayEnvKeys = []string{
	"AMBIENCE_ADDR",
	"GEMINI_API_KEY",
	"AMBIENCE_GEMINI_BASE_URL",
	"AMBIENCE_GEMINI_MODEL",
	"AMBIENCE_JWT_SECRET",
	"AMBIENCE_TOKEN_LIFETIME",
	"AMBIENCE_BOOTSTRAP_USER",
	"AMBIENCE_BOOTSTRAP_PASSWORD",
	"AMBIENCE_DB_PATH",
	"AMBIENCE_DB_POOL_SIZE",
	"AMBIENCE_CORS_ORIGINS",
	"AMBIENCE_WS_MAX_MESSAGE_BYTES",
	"AMBIENCE_WS_PING_INTERVAL",
	"AMBIENCE_WS_WRITE_TIMEOUT",
	"AMBIENCE_WS_READ_TIMEOUT",
	"AMBIENCE_WS_OUTBOUND_QUEUE",
	"AMBIENCE_MEMORY_CONTEXT_LIMIT",
	"AMBIENCE_UPSTREAM_WRITE_TIMEOUT",
	"AMBIENCE_UPSTREAM_HANDSHAKE_TIMEOUT",
	"AMBIENCE_UPSTREAM_CLOSE_TIMEOUT",
	"AMBIENCE_READ_HEADER_TIMEOUT",
	"AMBIENCE_SHUTDOWN_GRACE_PERIOD",
	"AMBIENCE_METRICS_NAMESPACE",
}

func clearGatewayEnv(t *testing.T) {
	t.Helper()
	for _, key := range gatewayEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("AMBIENCE_JWT_SECRET", "test-secret")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":8000" {
		t.Fatalf("Addr = %q, want :8000", cfg.Addr)
	}
	if cfg.GeminiAPIKey != "test-key" {
		t.Fatalf("GeminiAPIKey = %q", cfg.GeminiAPIKey)
	}
	if cfg.GeminiBaseURL != "" || cfg.GeminiModel != "" {
		t.Fatalf("Gemini overrides = %q/%q, want empty", cfg.GeminiBaseURL, cfg.GeminiModel)
	}
	if cfg.TokenLifetime != 24*time.Hour {
		t.Fatalf("TokenLifetime = %v, want 24h", cfg.TokenLifetime)
	}
	if cfg.DBPath != "memories.db" {
		t.Fatalf("DBPath = %q, want memories.db", cfg.DBPath)
	}
	if cfg.DBPoolSize != 4 {
		t.Fatalf("DBPoolSize = %d, want 4", cfg.DBPoolSize)
	}
	if len(cfg.CORSAllowedOrigins) != 0 {
		t.Fatalf("CORSAllowedOrigins len=%d, want 0", len(cfg.CORSAllowedOrigins))
	}
	if cfg.WSMaxMessageBytes != 1<<20 {
		t.Fatalf("WSMaxMessageBytes = %d, want %d", cfg.WSMaxMessageBytes, int64(1<<20))
	}
	if cfg.WSPingInterval != 20*time.Second {
		t.Fatalf("WSPingInterval = %v, want 20s", cfg.WSPingInterval)
	}
	if cfg.WSWriteTimeout != 5*time.Second {
		t.Fatalf("WSWriteTimeout = %v, want 5s", cfg.WSWriteTimeout)
	}
	if cfg.WSReadTimeout != 0 {
		t.Fatalf("WSReadTimeout = %v, want 0", cfg.WSReadTimeout)
	}
	if cfg.WSOutboundQueueSize != 128 {
		t.Fatalf("WSOutboundQueueSize = %d, want 128", cfg.WSOutboundQueueSize)
	}
	if cfg.MemoryContextLimit != 50 {
		t.Fatalf("MemoryContextLimit = %d, want 50", cfg.MemoryContextLimit)
	}
	if cfg.UpstreamWriteTimeout != 5*time.Second {
		t.Fatalf("UpstreamWriteTimeout = %v, want 5s", cfg.UpstreamWriteTimeout)
	}
	if cfg.HandshakeTimeout != 10*time.Second {
		t.Fatalf("HandshakeTimeout = %v, want 10s", cfg.HandshakeTimeout)
	}
	if cfg.CloseTimeout != 2*time.Second {
		t.Fatalf("CloseTimeout = %v, want 2s", cfg.CloseTimeout)
	}
	if cfg.ReadHeaderTimeout != 10*time.Second {
		t.Fatalf("ReadHeaderTimeout = %v, want 10s", cfg.ReadHeaderTimeout)
	}
	if cfg.ShutdownGracePeriod != 15*time.Second {
		t.Fatalf("ShutdownGracePeriod = %v, want 15s", cfg.ShutdownGracePeriod)
	}
	if cfg.MetricsNamespace != "ambience" {
		t.Fatalf("MetricsNamespace = %q, want ambience", cfg.MetricsNamespace)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("AMBIENCE_JWT_SECRET", "test-secret")
	t.Setenv("AMBIENCE_ADDR", ":9090")
	t.Setenv("AMBIENCE_GEMINI_BASE_URL", "wss://gemini.example")
	t.Setenv("AMBIENCE_GEMINI_MODEL", "gemini-2.5-flash")
	t.Setenv("AMBIENCE_TOKEN_LIFETIME", "90m")
	t.Setenv("AMBIENCE_DB_PATH", "/tmp/mem.db")
	t.Setenv("AMBIENCE_DB_POOL_SIZE", "9")
	t.Setenv("AMBIENCE_WS_MAX_MESSAGE_BYTES", "12345")
	t.Setenv("AMBIENCE_WS_PING_INTERVAL", "9s")
	t.Setenv("AMBIENCE_WS_WRITE_TIMEOUT", "3s")
	t.Setenv("AMBIENCE_WS_READ_TIMEOUT", "4s")
	t.Setenv("AMBIENCE_WS_OUTBOUND_QUEUE", "64")
	t.Setenv("AMBIENCE_MEMORY_CONTEXT_LIMIT", "7")
	t.Setenv("AMBIENCE_UPSTREAM_WRITE_TIMEOUT", "6s")
	t.Setenv("AMBIENCE_UPSTREAM_HANDSHAKE_TIMEOUT", "11s")
	t.Setenv("AMBIENCE_UPSTREAM_CLOSE_TIMEOUT", "1s")
	t.Setenv("AMBIENCE_READ_HEADER_TIMEOUT", "12s")
	t.Setenv("AMBIENCE_SHUTDOWN_GRACE_PERIOD", "31s")
	t.Setenv("AMBIENCE_METRICS_NAMESPACE", "relay")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":9090" {
		t.Fatalf("Addr = %q, want :9090", cfg.Addr)
	}
	if cfg.GeminiBaseURL != "wss://gemini.example" || cfg.GeminiModel != "gemini-2.5-flash" {
		t.Fatalf("Gemini overrides mismatch: %q/%q", cfg.GeminiBaseURL, cfg.GeminiModel)
	}
	if cfg.TokenLifetime != 90*time.Minute {
		t.Fatalf("TokenLifetime = %v, want 90m", cfg.TokenLifetime)
	}
	if cfg.DBPath != "/tmp/mem.db" || cfg.DBPoolSize != 9 {
		t.Fatalf("DB settings mismatch: %q/%d", cfg.DBPath, cfg.DBPoolSize)
	}
	if cfg.WSMaxMessageBytes != 12345 || cfg.WSOutboundQueueSize != 64 {
		t.Fatalf("ws size limits mismatch: %d/%d", cfg.WSMaxMessageBytes, cfg.WSOutboundQueueSize)
	}
	if cfg.WSPingInterval != 9*time.Second || cfg.WSWriteTimeout != 3*time.Second || cfg.WSReadTimeout != 4*time.Second {
		t.Fatalf("ws timeouts mismatch: %v/%v/%v", cfg.WSPingInterval, cfg.WSWriteTimeout, cfg.WSReadTimeout)
	}
	if cfg.MemoryContextLimit != 7 {
		t.Fatalf("MemoryContextLimit = %d, want 7", cfg.MemoryContextLimit)
	}
	if cfg.UpstreamWriteTimeout != 6*time.Second || cfg.HandshakeTimeout != 11*time.Second || cfg.CloseTimeout != time.Second {
		t.Fatalf("upstream timeouts mismatch: %v/%v/%v", cfg.UpstreamWriteTimeout, cfg.HandshakeTimeout, cfg.CloseTimeout)
	}
	if cfg.ReadHeaderTimeout != 12*time.Second || cfg.ShutdownGracePeriod != 31*time.Second {
		t.Fatalf("server timeouts mismatch: %v/%v", cfg.ReadHeaderTimeout, cfg.ShutdownGracePeriod)
	}
	if cfg.MetricsNamespace != "relay" {
		t.Fatalf("MetricsNamespace = %q, want relay", cfg.MetricsNamespace)
	}
}

func TestLoadFromEnv_RequiredSecrets(t *testing.T) {
	cases := []struct {
		name      string
		env       map[string]string
		errSubstr string
	}{
		{
			name:      "missing gemini api key",
			env:       map[string]string{"AMBIENCE_JWT_SECRET": "s"},
			errSubstr: "GEMINI_API_KEY",
		},
		{
			name:      "missing jwt secret",
			env:       map[string]string{"GEMINI_API_KEY": "k"},
			errSubstr: "AMBIENCE_JWT_SECRET",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearGatewayEnv(t)
			for key, value := range tc.env {
				t.Setenv(key, value)
			}
			_, err := LoadFromEnv()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.errSubstr) {
				t.Fatalf("error = %v, expected substring %q", err, tc.errSubstr)
			}
		})
	}
}

func TestLoadFromEnv_ParsesCORSOrigins(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("GEMINI_API_KEY", "k")
	t.Setenv("AMBIENCE_JWT_SECRET", "s")
	t.Setenv("AMBIENCE_CORS_ORIGINS", "https://one.example, https://two.example,,")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("CORSAllowedOrigins len=%d, want 2", len(cfg.CORSAllowedOrigins))
	}
	if _, ok := cfg.CORSAllowedOrigins["https://two.example"]; !ok {
		t.Fatalf("missing https://two.example")
	}
}

func TestLoadFromEnv_MalformedValuesFallBackToDefaults(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("GEMINI_API_KEY", "k")
	t.Setenv("AMBIENCE_JWT_SECRET", "s")
	t.Setenv("AMBIENCE_WS_PING_INTERVAL", "not-a-duration")
	t.Setenv("AMBIENCE_DB_POOL_SIZE", "lots")
	t.Setenv("AMBIENCE_WS_MAX_MESSAGE_BYTES", "big")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.WSPingInterval != 20*time.Second {
		t.Fatalf("WSPingInterval = %v, want default 20s", cfg.WSPingInterval)
	}
	if cfg.DBPoolSize != 4 {
		t.Fatalf("DBPoolSize = %d, want default 4", cfg.DBPoolSize)
	}
	if cfg.WSMaxMessageBytes != 1<<20 {
		t.Fatalf("WSMaxMessageBytes = %d, want default %d", cfg.WSMaxMessageBytes, int64(1<<20))
	}
}

func TestLoadFromEnv_InvalidBounds(t *testing.T) {
	cases := []struct {
		name      string
		env       map[string]string
		errSubstr string
	}{
		{
			name:      "bootstrap user without password",
			env:       map[string]string{"AMBIENCE_BOOTSTRAP_USER": "admin"},
			errSubstr: "AMBIENCE_BOOTSTRAP_PASSWORD",
		},
		{
			name:      "zero token lifetime",
			env:       map[string]string{"AMBIENCE_TOKEN_LIFETIME": "0s"},
			errSubstr: "AMBIENCE_TOKEN_LIFETIME",
		},
		{
			name:      "negative pool size",
			env:       map[string]string{"AMBIENCE_DB_POOL_SIZE": "-1"},
			errSubstr: "AMBIENCE_DB_POOL_SIZE",
		},
		{
			name:      "zero outbound queue",
			env:       map[string]string{"AMBIENCE_WS_OUTBOUND_QUEUE": "-5"},
			errSubstr: "AMBIENCE_WS_OUTBOUND_QUEUE",
		},
		{
			name:      "negative read timeout",
			env:       map[string]string{"AMBIENCE_WS_READ_TIMEOUT": "-1s"},
			errSubstr: "AMBIENCE_WS_READ_TIMEOUT",
		},
		{
			name:      "zero handshake timeout",
			env:       map[string]string{"AMBIENCE_UPSTREAM_HANDSHAKE_TIMEOUT": "0s"},
			errSubstr: "AMBIENCE_UPSTREAM_HANDSHAKE_TIMEOUT",
		},
		{
			name:      "zero shutdown grace period",
			env:       map[string]string{"AMBIENCE_SHUTDOWN_GRACE_PERIOD": "0s"},
			errSubstr: "AMBIENCE_SHUTDOWN_GRACE_PERIOD",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearGatewayEnv(t)
			t.Setenv("GEMINI_API_KEY", "k")
			t.Setenv("AMBIENCE_JWT_SECRET", "s")
			for key, value := range tc.env {
				t.Setenv(key, value)
			}
			_, err := LoadFromEnv()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.errSubstr) {
				t.Fatalf("error = %v, expected substring %q", err, tc.errSubstr)
			}
		})
	}
}
