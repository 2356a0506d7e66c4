// Package session implements the per-connection relay engine: the client
// pump, the upstream pump, interrupt propagation, and atomic replacement of
// the upstream leg on config updates.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aj47/awaken-ambience/pkg/gateway/metrics"
	"github.com/aj47/awaken-ambience/pkg/gateway/relay/protocol"
	"github.com/aj47/awaken-ambience/pkg/gateway/tools"
	"github.com/aj47/awaken-ambience/pkg/gateway/upstream"
	"github.com/aj47/awaken-ambience/pkg/memory"
)

const outboundPriorityQueueSize = 8

var errBackpressure = errors.New("relay outbound backpressure")

// UpstreamLeg is one live connection to the generative service. The session
// owns at most one leg at a time.
type UpstreamLeg interface {
	IsOpen() bool
	Receive(ctx context.Context) (upstream.ServerMessage, error)
	SendAudio(data string) error
	SendImage(data string) error
	SendInterrupt(ctx context.Context) bool
	SendTurn(ctx context.Context, text string) error
	SendToolResponse(ctx context.Context, responses []upstream.FunctionResponse) error
	Close() error
}

// Dialer opens a new upstream leg: dial, handshake, await the setup ack.
type Dialer func(ctx context.Context, settings *upstream.SessionSettings, memoryContext string) (UpstreamLeg, error)

type Config struct {
	OutboundQueueSize  int
	PingInterval       time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
	MaxMessageBytes    int64
	MemoryContextLimit int
}

type Dependencies struct {
	Conn      *websocket.Conn
	Logger    *slog.Logger
	Dial      Dialer
	Store     memory.Store
	Tools     *tools.Dispatcher
	Metrics   *metrics.Metrics
	SessionID string
	Username  string
	Config    Config
}

type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	wsWriter
}

// Session relays between one client connection and one upstream leg. The run
// loop is the single owner of the leg and pump fields; the interrupted and
// interruptAcked flags are the only state shared with the upstream pump.
type Session struct {
	conn      wsConn
	logger    *slog.Logger
	dial      Dialer
	store     memory.Store
	tools     *tools.Dispatcher
	metrics   *metrics.Metrics
	sessionID string
	username  string
	cfg       Config

	ctx    context.Context
	cancel context.CancelFunc

	outboundPriority chan outboundFrame
	outboundNormal   chan outboundFrame

	interrupted    atomic.Bool
	interruptAcked atomic.Bool

	config    protocol.SessionConfig
	configSet bool

	leg        UpstreamLeg
	pumpCancel context.CancelFunc
	pumpDone   chan error

	closeLegOnce sync.Once
}

type outboundFrame struct {
	isModelAudio bool
	textPayload  []byte
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

func New(deps Dependencies) (*Session, error) {
	if deps.Conn == nil {
		return nil, errors.New("connection is required")
	}
	if deps.Dial == nil {
		return nil, errors.New("upstream dialer is required")
	}
	if deps.Store == nil {
		return nil, errors.New("memory store is required")
	}
	if deps.Tools == nil {
		return nil, errors.New("tool dispatcher is required")
	}
	if strings.TrimSpace(deps.Username) == "" {
		return nil, errors.New("username is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = 128
	}
	if deps.Config.MemoryContextLimit <= 0 {
		deps.Config.MemoryContextLimit = 50
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		conn:             deps.Conn,
		logger:           deps.Logger.With("session_id", deps.SessionID, "user", deps.Username),
		dial:             deps.Dial,
		store:            deps.Store,
		tools:            deps.Tools,
		metrics:          deps.Metrics,
		sessionID:        deps.SessionID,
		username:         deps.Username,
		cfg:              deps.Config,
		ctx:              ctx,
		cancel:           cancel,
		outboundPriority: make(chan outboundFrame, outboundPriorityQueueSize),
		outboundNormal:   make(chan outboundFrame, deps.Config.OutboundQueueSize),
	}, nil
}

// Cancel asks the session to stop. Safe from any goroutine.
func (s *Session) Cancel() {
	s.cancel()
}

// SendWarning pushes an operator notice to the client without closing it.
func (s *Session) SendWarning(code, message string) error {
	return s.sendJSON(protocol.ServerError{Type: "error", Code: code, Message: message})
}

// Run drives the session until either leg terminates. It owns teardown: on
// exit the upstream leg is closed exactly once and both pumps have stopped.
func (s *Session) Run() error {
	defer s.cancel()
	defer s.closeLeg()

	if s.cfg.MaxMessageBytes > 0 {
		s.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	}
	if s.cfg.ReadTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		})
	}

	readCh := make(chan inboundFrame, 64)
	writerErrCh := make(chan error, 1)
	go s.readLoop(readCh)
	go func() {
		w := outboundWriter{
			ws:            s.conn,
			ctx:           s.ctx,
			cfg:           s.cfg,
			priority:      s.outboundPriority,
			normal:        s.outboundNormal,
			isInterrupted: s.interrupted.Load,
		}
		writerErrCh <- w.Run()
		close(writerErrCh)
	}()

	for {
		select {
		case <-s.ctx.Done():
			s.stopPump()
			return nil
		case err := <-writerErrCh:
			s.stopPump()
			return err
		case err := <-s.pumpExit():
			// Upstream pump ended. The client leg stays up; the next
			// audio message triggers the single reconnect attempt.
			s.stopPump()
			s.closeLegForReplacement()
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("upstream pump exited", "error", err)
			}
		case frame, ok := <-readCh:
			if !ok || frame.err != nil {
				s.stopPump()
				return nil
			}
			if frame.messageType != websocket.TextMessage {
				continue
			}
			if err := s.handleClientFrame(frame.data); err != nil {
				s.stopPump()
				return err
			}
		}
	}
}

// pumpExit returns the running pump's exit channel, or nil (blocks forever in
// select) when no pump is live.
func (s *Session) pumpExit() <-chan error {
	if s.pumpDone == nil {
		return nil
	}
	return s.pumpDone
}

// handleClientFrame processes one decoded client message. Decode and handler
// failures are skipped per message; only transport errors end the session.
func (s *Session) handleClientFrame(data []byte) error {
	msg, err := protocol.DecodeClientMessage(data)
	if err != nil {
		s.logger.Debug("skipping malformed client frame", "error", err)
		return nil
	}

	switch m := msg.(type) {
	case protocol.ClientConfig:
		return s.handleConfig(m)
	case protocol.ClientAudio:
		s.handleAudio(m)
	case protocol.ClientImage:
		s.handleImage(m)
	case protocol.ClientInterrupt:
		s.handleInterrupt()
	case protocol.UnknownMessage:
		s.logger.Debug("unknown client message type", "type", m.Type)
	}
	return nil
}

// handleConfig normalizes and persists the configuration, then atomically
// replaces the upstream leg: cancel the pump, await its exit, close the old
// handle, open a new one, start a new pump. The client pump itself survives.
func (s *Session) handleConfig(m protocol.ClientConfig) error {
	cfg := protocol.NormalizeConfig(m.Config)
	s.config = cfg
	s.configSet = true

	if raw, err := json.Marshal(cfg); err == nil {
		if err := s.store.SetUserConfig(s.ctx, s.username, raw); err != nil {
			s.logger.Warn("persisting session config failed", "error", err)
		}
	}

	hadLeg := s.leg != nil
	s.stopPump()
	s.closeLegForReplacement()
	if err := s.openLeg(); err != nil {
		s.metrics.HandshakeFailed()
		s.logger.Error("upstream handshake failed", "error", err)
		_ = s.sendJSONPriority(protocol.ServerError{
			Type: "error", Code: "upstream_unavailable",
			Message: "could not reach the generative service", Close: true,
		})
		return err
	}
	if hadLeg {
		s.metrics.LegReplaced()
	}
	s.logger.Info("upstream leg ready", "voice", cfg.Voice, "search", cfg.GoogleSearch)
	return nil
}

// handleAudio forwards one microphone chunk. New audio clears an interrupt
// (generation resumes); a closed leg gets at most one reconnect attempt, and
// the chunk is dropped, not fatal, if the leg still is not open.
func (s *Session) handleAudio(m protocol.ClientAudio) {
	if s.interrupted.Load() {
		s.interrupted.Store(false)
		s.interruptAcked.Store(false)
	}
	if s.leg == nil || !s.leg.IsOpen() {
		s.logger.Info("upstream leg closed, reconnecting before audio")
		s.metrics.Reconnected()
		s.stopPump()
		s.closeLegForReplacement()
		if err := s.openLeg(); err != nil {
			s.logger.Warn("reconnect failed, dropping audio chunk", "error", err)
			return
		}
	}
	if err := s.leg.SendAudio(m.Data); err != nil {
		s.logger.Debug("audio forward skipped", "error", err)
		return
	}
	s.metrics.FrameRelayed("audio", "in")
}

func (s *Session) handleImage(m protocol.ClientImage) {
	if s.leg == nil || !s.leg.IsOpen() {
		s.logger.Debug("image dropped, upstream leg not open")
		return
	}
	if err := s.leg.SendImage(m.Data); err != nil {
		s.logger.Debug("image forward skipped", "error", err)
		return
	}
	s.metrics.FrameRelayed("image", "in")
}

// handleInterrupt flips the interrupt flag before any network I/O so the
// upstream pump sees it without an intervening message, then best-effort
// notifies the upstream service. The client always gets the acknowledgement
// and a stop_audio instruction, whatever the upstream notification did.
func (s *Session) handleInterrupt() {
	s.interrupted.Store(true)
	s.interruptAcked.Store(false)
	s.metrics.Interrupted()

	ok := false
	if s.leg != nil {
		ok = s.leg.SendInterrupt(s.ctx)
	}
	_ = s.sendJSONPriority(protocol.ServerInterrupt{
		Type: "interrupt", Message: "Generation canceled.", Success: ok,
	})
	_ = s.sendJSONPriority(protocol.ServerStopAudio{Type: "stop_audio"})
}

// openLeg dials a new upstream leg with the current configuration and starts
// its pump. At most one pump runs per session; callers must have stopped the
// previous pump first.
func (s *Session) openLeg() error {
	if !s.configSet {
		return &upstream.HandshakeError{Reason: "configuration must be set before connecting"}
	}

	settings := &upstream.SessionSettings{
		Voice:        s.config.Voice,
		SystemPrompt: s.config.SystemPrompt,
		GoogleSearch: s.config.GoogleSearch,
	}
	leg, err := s.dial(s.ctx, settings, s.renderMemoryContext())
	if err != nil {
		return err
	}
	s.leg = leg
	s.interruptAcked.Store(false)

	pumpCtx, cancel := context.WithCancel(s.ctx)
	s.pumpCancel = cancel
	done := make(chan error, 1)
	s.pumpDone = done
	go func() {
		done <- s.upstreamPump(pumpCtx, leg)
		close(done)
	}()
	return nil
}

// stopPump cancels the upstream pump and awaits its exit.
func (s *Session) stopPump() {
	if s.pumpCancel == nil {
		return
	}
	s.pumpCancel()
	<-s.pumpDone
	s.pumpCancel = nil
	s.pumpDone = nil
}

// closeLegForReplacement closes the current handle so a fresh one can be
// opened. Distinct from closeLeg, which is the once-only teardown path.
func (s *Session) closeLegForReplacement() {
	if s.leg == nil {
		return
	}
	if err := s.leg.Close(); err != nil {
		s.logger.Debug("upstream close", "error", err)
	}
	s.leg = nil
}

func (s *Session) closeLeg() {
	s.closeLegOnce.Do(func() {
		s.closeLegForReplacement()
	})
}

// renderMemoryContext formats recent memories for the handshake's system
// instruction, one "- content" line per memory.
func (s *Session) renderMemoryContext() string {
	records, err := s.store.GetRecentMemories(s.ctx, s.username, s.cfg.MemoryContextLimit)
	if err != nil {
		s.logger.Warn("loading memory context failed", "error", err)
		return ""
	}
	lines := make([]string, 0, len(records))
	for _, r := range records {
		lines = append(lines, "- "+r.Content)
	}
	return strings.Join(lines, "\n")
}

// upstreamPump forwards generated output to the client and dispatches tool
// calls. It exits on upstream closure or cancellation and never closes the
// client connection itself.
func (s *Session) upstreamPump(ctx context.Context, leg UpstreamLeg) error {
	for {
		msg, err := leg.Receive(ctx)
		if err != nil {
			var protoErr *upstream.ProtocolError
			if errors.As(err, &protoErr) {
				s.logger.Debug("skipping undecodable upstream frame", "error", err)
				continue
			}
			if errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			return err
		}

		if msg.ToolCall != nil {
			s.handleToolCall(ctx, leg, msg.ToolCall)
			continue
		}
		if msg.ServerContent != nil {
			if err := s.handleServerContent(ctx, msg.ServerContent); err != nil {
				return err
			}
		}
	}
}

// handleToolCall dispatches each function call in order, narrating the result
// upstream as a user turn before the tool response goes back. Calls are never
// interleaved; the pump blocks until the response is sent.
func (s *Session) handleToolCall(ctx context.Context, leg UpstreamLeg, call *upstream.ToolCall) {
	responses := make([]upstream.FunctionResponse, 0, len(call.FunctionCalls))
	for _, fc := range call.FunctionCalls {
		resp, summary := s.tools.Dispatch(ctx, fc, s.username)
		s.metrics.ToolDispatched(fc.Name)
		if summary != "" {
			if err := leg.SendTurn(ctx, summary); err != nil {
				s.logger.Debug("tool narration skipped", "tool", fc.Name, "error", err)
			}
		}
		responses = append(responses, resp)
	}
	if err := leg.SendToolResponse(ctx, responses); err != nil {
		s.logger.Warn("sending tool response failed", "error", err)
	}
}

func (s *Session) handleServerContent(ctx context.Context, sc *upstream.ServerContent) error {
	if sc.Interrupted {
		// Upstream confirmed the in-flight generation stopped.
		s.interrupted.Store(true)
		s.interruptAcked.Store(true)
		if err := s.sendJSONPriority(protocol.ServerInterruptConfirmed{Type: "interrupt_confirmed"}); err != nil {
			return err
		}
		if err := s.sendJSONPriority(protocol.ServerStopAudio{Type: "stop_audio"}); err != nil {
			return err
		}
	}

	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part.Text != "" {
				s.storeResponseMemory(ctx, part.Text)
			}
			if s.interrupted.Load() {
				s.metrics.PartDropped()
				continue
			}
			if part.InlineData != nil {
				if err := s.sendModelAudio(part.InlineData.Data); err != nil {
					return err
				}
				s.metrics.FrameRelayed("audio", "out")
			}
		}
	}

	if sc.TurnComplete {
		if s.interrupted.Load() {
			// Turn completion after an acknowledged interruption resumes
			// the session instead of reaching the client.
			if s.interruptAcked.Load() {
				s.interrupted.Store(false)
				s.interruptAcked.Store(false)
			}
			return nil
		}
		// Control frame: rides the priority channel so a backlog of queued
		// audio cannot fail the send and take the upstream leg down with it.
		return s.sendJSONPriority(protocol.ServerTurnComplete{Type: "turn_complete", Data: true})
	}
	return nil
}

func (s *Session) storeResponseMemory(ctx context.Context, text string) {
	if _, err := s.store.StoreMemory(ctx, s.username, text, memory.TypeResponse, "", nil); err != nil {
		s.logger.Warn("storing response memory failed", "error", err)
	}
}

func (s *Session) sendModelAudio(data string) error {
	payload, err := json.Marshal(protocol.ServerAudio{Type: "audio", Data: data})
	if err != nil {
		return err
	}
	if err := s.enqueueNormal(outboundFrame{isModelAudio: true, textPayload: payload}); err != nil {
		// Audio is lossy under backpressure; drop the chunk, keep the session.
		s.logger.Debug("dropping audio chunk under backpressure")
		s.metrics.PartDropped()
	}
	return nil
}

func (s *Session) sendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.enqueueNormal(outboundFrame{textPayload: payload})
}

func (s *Session) sendJSONPriority(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.enqueuePriority(outboundFrame{textPayload: payload})
}

func (s *Session) enqueueNormal(frame outboundFrame) error {
	if frame.isModelAudio && s.interrupted.Load() {
		return nil
	}
	select {
	case s.outboundNormal <- frame:
		return nil
	default:
		return errBackpressure
	}
}

func (s *Session) enqueuePriority(frame outboundFrame) error {
	for i := 0; i < 4; i++ {
		select {
		case s.outboundPriority <- frame:
			return nil
		default:
		}
		select {
		case <-s.outboundPriority:
		default:
		}
	}
	select {
	case s.outboundPriority <- frame:
		return nil
	default:
		return errBackpressure
	}
}

func (s *Session) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-s.ctx.Done():
			}
			return
		}
		select {
		case out <- inboundFrame{messageType: messageType, data: data}:
		case <-s.ctx.Done():
			return
		}
	}
}
