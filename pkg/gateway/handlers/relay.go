package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/aj47/awaken-ambience/pkg/gateway/apierror"
	"github.com/aj47/awaken-ambience/pkg/gateway/auth"
	"github.com/aj47/awaken-ambience/pkg/gateway/config"
	"github.com/aj47/awaken-ambience/pkg/gateway/lifecycle"
	"github.com/aj47/awaken-ambience/pkg/gateway/metrics"
	"github.com/aj47/awaken-ambience/pkg/gateway/mw"
	"github.com/aj47/awaken-ambience/pkg/gateway/relay/protocol"
	"github.com/aj47/awaken-ambience/pkg/gateway/relay/session"
	"github.com/aj47/awaken-ambience/pkg/gateway/relay/sessions"
	"github.com/aj47/awaken-ambience/pkg/gateway/tools"
	"github.com/aj47/awaken-ambience/pkg/gateway/upstream"
	"github.com/aj47/awaken-ambience/pkg/memory"
)

// RelayHandler upgrades /ws/{client_id} to a websocket and runs the relay
// session until either leg terminates.
type RelayHandler struct {
	Config    config.Config
	Verifier  *auth.Verifier
	Store     memory.Store
	Tools     *tools.Dispatcher
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Sessions  *sessions.Registry
	Lifecycle *lifecycle.Lifecycle

	// Dial overrides the upstream dialer; nil uses the Gemini Live client.
	Dial session.Dialer
}

func (h RelayHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Lifecycle.IsDraining() {
		reqID, _ := mw.RequestIDFrom(r.Context())
		apierror.Write(w, &apierror.Error{
			Type: apierror.ErrOverloaded, Code: "draining", Message: "gateway is draining",
		}, reqID)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return h.originAllowed(r) },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Browsers cannot set websocket headers, so the token arrives as a
	// query parameter; the failure mode is a policy violation close.
	token, ok := auth.ParseBearer(r)
	if !ok {
		h.closeWS(conn, "unauthorized", "missing token")
		return
	}
	username, err := h.Verifier.Verify(token)
	if err != nil {
		h.closeWS(conn, "unauthorized", "invalid token")
		return
	}

	sessionID := strings.TrimSpace(r.PathValue("client_id"))
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dial := h.Dial
	if dial == nil {
		dial = h.dialUpstream
	}

	s, err := session.New(session.Dependencies{
		Conn:      conn,
		Logger:    logger,
		Dial:      dial,
		Store:     h.Store,
		Tools:     h.Tools,
		Metrics:   h.Metrics,
		SessionID: sessionID,
		Username:  username,
		Config: session.Config{
			OutboundQueueSize:  h.Config.WSOutboundQueueSize,
			PingInterval:       h.Config.WSPingInterval,
			WriteTimeout:       h.Config.WSWriteTimeout,
			ReadTimeout:        h.Config.WSReadTimeout,
			MaxMessageBytes:    h.Config.WSMaxMessageBytes,
			MemoryContextLimit: h.Config.MemoryContextLimit,
		},
	})
	if err != nil {
		h.closeWS(conn, "internal", "failed to initialize session")
		return
	}

	release, err := h.Sessions.Register(sessionID, sessions.Handle{
		Username: username,
		Cancel:   s.Cancel,
		Warn:     s.SendWarning,
	})
	if err != nil {
		h.closeWS(conn, "session_exists", "a session with this id is already active")
		return
	}
	defer release()

	h.Metrics.SessionStarted()
	start := time.Now()
	status := "completed"
	if err := s.Run(); err != nil {
		status = "error"
		reqID, _ := mw.RequestIDFrom(r.Context())
		logger.Warn("relay session ended with error",
			"session_id", sessionID, "user", username, "request_id", reqID, "error", err)
	}
	h.Metrics.SessionEnded(status, time.Since(start))
}

func (h RelayHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" || len(h.Config.CORSAllowedOrigins) == 0 {
		return true
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}

func (h RelayHandler) dialUpstream(ctx context.Context, settings *upstream.SessionSettings, memoryContext string) (session.UpstreamLeg, error) {
	client := upstream.NewClient(upstream.Config{
		APIKey:           h.Config.GeminiAPIKey,
		Model:            h.Config.GeminiModel,
		BaseURL:          h.Config.GeminiBaseURL,
		Tools:            tools.Declarations(),
		Logger:           h.Logger,
		WriteTimeout:     h.Config.UpstreamWriteTimeout,
		HandshakeTimeout: h.Config.HandshakeTimeout,
		CloseTimeout:     h.Config.CloseTimeout,
	})
	if err := client.Connect(ctx, settings, memoryContext); err != nil {
		return nil, err
	}
	return client, nil
}

func (h RelayHandler) closeWS(conn *websocket.Conn, code, message string) {
	_ = conn.WriteJSON(protocol.ServerError{Type: "error", Code: code, Message: message, Close: true})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), time.Now().Add(2*time.Second))
}
