// Package handlers implements the gateway's HTTP surface: health, token
// issuance, per-user config and memory CRUD, and the relay websocket.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/aj47/awaken-ambience/pkg/gateway/config"
	"github.com/aj47/awaken-ambience/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyHandler reports whether the gateway can accept new relay sessions.
// A draining gateway fails readiness so load balancers stop routing to it.
type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK       bool     `json:"ok"`
		Draining bool     `json:"draining"`
		Issues   []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	if h.Config.GeminiAPIKey == "" {
		issues = append(issues, "gemini api key not configured")
	}
	if h.Config.JWTSecret == "" {
		issues = append(issues, "jwt secret not configured")
	}
	if h.Config.TokenLifetime <= 0 {
		issues = append(issues, "token lifetime must be > 0")
	}
	if h.Config.WSOutboundQueueSize <= 0 {
		issues = append(issues, "ws outbound queue size must be > 0")
	}
	if h.Config.WSMaxMessageBytes <= 0 {
		issues = append(issues, "ws max message bytes must be > 0")
	}
	if h.Config.MemoryContextLimit <= 0 {
		issues = append(issues, "memory context limit must be > 0")
	}
	if h.Config.HandshakeTimeout <= 0 || h.Config.UpstreamWriteTimeout <= 0 {
		issues = append(issues, "upstream timeouts must be > 0")
	}

	draining := h.Lifecycle.IsDraining()
	ok := len(issues) == 0 && !draining

	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{OK: ok, Draining: draining, Issues: issues})
}
