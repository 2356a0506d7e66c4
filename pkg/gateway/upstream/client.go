// Package upstream owns the connection to the generative streaming service:
// handshake, realtime sends, receive loop, and bounded close. One Client
// represents one connection attempt; reconnection creates a new Client.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultBaseURL is the BidiGenerateContent websocket endpoint.
	DefaultBaseURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1alpha.GenerativeService.BidiGenerateContent"

	// DefaultModel is the live-capable model identifier.
	DefaultModel = "gemini-2.0-flash-exp"

	mimeAudioPCM  = "audio/pcm"
	mimeImageJPEG = "image/jpeg"
)

var (
	// ErrNotOpen is returned by send operations when the connection is not
	// in the Open state. Callers report and continue; it is not fatal.
	ErrNotOpen = errors.New("upstream: connection not open")

	// ErrClosed is returned by Receive once the connection is down.
	ErrClosed = errors.New("upstream: connection closed")
)

// HandshakeError reports a failed connect attempt: missing configuration, a
// dial failure, or a rejected setup message.
type HandshakeError struct {
	Reason string
	Err    error
}

func (e *HandshakeError) Error() string {
	if e.Err == nil {
		return "upstream handshake: " + e.Reason
	}
	return fmt.Sprintf("upstream handshake: %s: %v", e.Reason, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// ProtocolError reports a frame that could not be decoded. The caller logs
// it and keeps receiving.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string { return "upstream protocol: " + e.Err.Error() }

func (e *ProtocolError) Unwrap() error { return e.Err }

// State is the connection lifecycle position. Only Open permits send and
// receive.
type State int32

const (
	Disconnected State = iota
	Connecting
	AwaitingAck
	Open
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case AwaitingAck:
		return "AWAITING_ACK"
	case Open:
		return "OPEN"
	case Closing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

// SessionSettings is the subset of session configuration the handshake
// needs.
type SessionSettings struct {
	Voice        string
	SystemPrompt string
	GoogleSearch bool
}

// Conn is the websocket surface the client uses; satisfied by
// *websocket.Conn and by test fakes.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// DialFunc opens the upstream websocket.
type DialFunc func(ctx context.Context, url string, header http.Header) (Conn, error)

func defaultDial(ctx context.Context, url string, header http.Header) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Config holds the parameters for one upstream connection.
type Config struct {
	APIKey string

	// Model defaults to DefaultModel.
	Model string

	// BaseURL defaults to DefaultBaseURL. The API key is appended as a
	// query parameter.
	BaseURL string

	// Tools are the function declarations advertised in the handshake.
	Tools []FunctionDeclaration

	// Dial defaults to the gorilla dialer.
	Dial DialFunc

	Logger *slog.Logger

	// WriteTimeout bounds every outbound write. Defaults to 5s.
	WriteTimeout time.Duration

	// HandshakeTimeout bounds the wait for the setup acknowledgement.
	// Defaults to 10s.
	HandshakeTimeout time.Duration

	// CloseTimeout bounds the close handshake so a hung remote cannot
	// stall session teardown. Defaults to 2s.
	CloseTimeout time.Duration
}

// Client is a single upstream connection. Safe for concurrent use: sends are
// serialized by a mutex, the receive loop runs on its own goroutine, and
// Close is idempotent.
type Client struct {
	cfg    Config
	logger *slog.Logger

	state atomic.Int32

	writeMu sync.Mutex
	conn    Conn

	recvCh    chan recvResult
	done      chan struct{}
	closeOnce sync.Once
}

type recvResult struct {
	msg ServerMessage
	err error
}

// NewClient prepares a client in the Disconnected state.
func NewClient(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Dial == nil {
		cfg.Dial = defaultDial
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 2 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, logger: logger, recvCh: make(chan recvResult, 32), done: make(chan struct{})}
}

// State returns the current lifecycle position.
func (c *Client) State() State {
	return State(c.state.Load())
}

// IsOpen reports whether send and receive are currently permitted.
func (c *Client) IsOpen() bool {
	return c.State() == Open
}

// Connect dials the upstream endpoint, sends the setup handshake, and blocks
// until the service acknowledges it. Settings must be present; the system
// instruction is the configured prompt followed by the rendered memory
// context.
func (c *Client) Connect(ctx context.Context, settings *SessionSettings, memoryContext string) error {
	if settings == nil {
		return &HandshakeError{Reason: "configuration must be set before connecting"}
	}
	if !c.state.CompareAndSwap(int32(Disconnected), int32(Connecting)) {
		return &HandshakeError{Reason: fmt.Sprintf("connect in state %s", c.State())}
	}

	url := c.cfg.BaseURL + "?key=" + c.cfg.APIKey
	conn, err := c.cfg.Dial(ctx, url, http.Header{"Content-Type": []string{"application/json"}})
	if err != nil {
		c.state.Store(int32(Disconnected))
		return &HandshakeError{Reason: "dial failed", Err: err}
	}
	c.conn = conn

	setup := setupMessage{Setup: Setup{
		Model: "models/" + c.cfg.Model,
		GenerationConfig: GenerationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &SpeechConfig{
				VoiceConfig: VoiceConfig{
					PrebuiltVoiceConfig: PrebuiltVoiceConfig{VoiceName: settings.Voice},
				},
			},
		},
		Tools:             c.setupTools(settings),
		SystemInstruction: systemInstruction(settings.SystemPrompt, memoryContext),
	}}

	if err := c.writeJSON(setup); err != nil {
		c.abortConnect()
		return &HandshakeError{Reason: "sending setup", Err: err}
	}

	c.state.Store(int32(AwaitingAck))
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		c.abortConnect()
		return &HandshakeError{Reason: "awaiting setup ack", Err: err}
	}
	var ack ServerMessage
	if err := json.Unmarshal(data, &ack); err != nil {
		c.abortConnect()
		return &HandshakeError{Reason: "decoding setup ack", Err: err}
	}
	if ack.SetupComplete == nil {
		c.abortConnect()
		return &HandshakeError{Reason: "setup rejected"}
	}

	_ = conn.SetReadDeadline(time.Time{})
	c.state.Store(int32(Open))
	c.logger.Debug("upstream open", "model", c.cfg.Model, "voice", settings.Voice)
	go c.readLoop(conn)
	return nil
}

func (c *Client) abortConnect() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.state.Store(int32(Disconnected))
}

func (c *Client) setupTools(settings *SessionSettings) []Tool {
	var tools []Tool
	if settings.GoogleSearch {
		tools = append(tools, Tool{GoogleSearch: &GoogleSearch{}})
	}
	if len(c.cfg.Tools) > 0 {
		tools = append(tools, Tool{FunctionDeclarations: c.cfg.Tools})
	}
	return tools
}

func systemInstruction(prompt, memoryContext string) *Content {
	text := prompt +
		"\n\nHere are recent memories:\n" + memoryContext +
		"\n\nYou can also use the memory functions store_memory, get_recent_memories, and search_memories."
	return &Content{Parts: []TextPart{{Text: text}}}
}

// readLoop delivers frames until the connection drops or the client closes.
// Every send races against done: the receiver may have stopped calling
// Receive (leg replacement), and a full buffer must not pin this goroutine.
func (c *Client) readLoop(conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.State() == Open {
				c.state.Store(int32(Disconnected))
			}
			select {
			case c.recvCh <- recvResult{err: fmt.Errorf("%w: %v", ErrClosed, err)}:
			case <-c.done:
			}
			return
		}
		var msg ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			select {
			case c.recvCh <- recvResult{err: &ProtocolError{Err: err}}:
			case <-c.done:
				return
			}
			continue
		}
		select {
		case c.recvCh <- recvResult{msg: msg}:
		case <-c.done:
			return
		}
	}
}

// Receive blocks until the next upstream message arrives, the connection
// drops (ErrClosed), or ctx is canceled. A ProtocolError means one frame was
// undecodable; the connection is still live and the caller should keep
// receiving.
func (c *Client) Receive(ctx context.Context) (ServerMessage, error) {
	switch c.State() {
	case Disconnected, Closing:
		return ServerMessage{}, ErrClosed
	}
	select {
	case <-ctx.Done():
		return ServerMessage{}, ctx.Err()
	case <-c.done:
		return ServerMessage{}, ErrClosed
	case res := <-c.recvCh:
		return res.msg, res.err
	}
}

// SendAudio forwards one base64 PCM chunk. ErrNotOpen when the leg is down.
func (c *Client) SendAudio(data string) error {
	return c.sendMedia(data, mimeAudioPCM)
}

// SendImage forwards one base64 JPEG frame. ErrNotOpen when the leg is down.
func (c *Client) SendImage(data string) error {
	return c.sendMedia(data, mimeImageJPEG)
}

func (c *Client) sendMedia(data, mimeType string) error {
	if !c.IsOpen() {
		return ErrNotOpen
	}
	return c.writeJSON(realtimeInputMessage{RealtimeInput: RealtimeInput{
		MediaChunks: []MediaChunk{{Data: data, MimeType: mimeType}},
	}})
}

// SendInterrupt notifies the service that the in-flight generation should
// stop. Best effort: the result reports whether the signal went out. Bounded
// by the write timeout; never blocks indefinitely.
func (c *Client) SendInterrupt(ctx context.Context) bool {
	if !c.IsOpen() {
		return false
	}
	if ctx != nil && ctx.Err() != nil {
		return false
	}
	err := c.writeJSON(realtimeInputMessage{RealtimeInput: RealtimeInput{Interrupt: true}})
	if err != nil {
		c.logger.Warn("interrupt notify failed", "error", err)
		return false
	}
	return true
}

// SendTurn submits a complete user text turn (used for tool narration).
func (c *Client) SendTurn(ctx context.Context, text string) error {
	if !c.IsOpen() {
		return ErrNotOpen
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.writeJSON(clientContentMessage{ClientContent: ClientContent{
		Turns: []Content{{
			Parts: []TextPart{{Text: text}},
			Role:  "user",
		}},
		TurnComplete: true,
	}})
}

// SendToolResponse echoes tool results keyed by call id.
func (c *Client) SendToolResponse(ctx context.Context, responses []FunctionResponse) error {
	if !c.IsOpen() {
		return ErrNotOpen
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.writeJSON(toolResponseMessage{ToolResponse: ToolResponse{FunctionResponses: responses}})
}

func (c *Client) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return ErrNotOpen
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close releases the connection. Idempotent and bounded: the close frame
// carries a deadline so a hung remote cannot stall teardown.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.state.Store(int32(Closing))
		close(c.done)
		c.writeMu.Lock()
		conn := c.conn
		c.writeMu.Unlock()
		if conn != nil {
			deadline := time.Now().Add(c.cfg.CloseTimeout)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			_ = conn.Close()
		}
		c.state.Store(int32(Disconnected))
		c.logger.Debug("upstream closed")
	})
	return nil
}
