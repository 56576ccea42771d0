package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/capitalrow/scribed/internal/observability"
	"github.com/capitalrow/scribed/internal/pipeline"
	"github.com/capitalrow/scribed/internal/ratelimit"
	"github.com/capitalrow/scribed/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin policy is enforced upstream
	},
}

// Gateway terminates client websockets at /ws/transcribe and bridges them
// to the pipeline. It implements pipeline.Emitter: events are routed to
// whichever connection currently owns the session.
type Gateway struct {
	sessions *session.Manager
	pipe     *pipeline.Pipeline
	limiter  *ratelimit.Limiter
	logger   zerolog.Logger

	mu    sync.RWMutex
	conns map[string]*wsConn // keyed by session id
}

// NewGateway creates the websocket gateway. Call Bind after the pipeline
// is constructed to close the emitter cycle.
func NewGateway(sessions *session.Manager, limiter *ratelimit.Limiter, logger zerolog.Logger) *Gateway {
	return &Gateway{
		sessions: sessions,
		limiter:  limiter,
		logger:   logger.With().Str("component", "gateway").Logger(),
		conns:    make(map[string]*wsConn),
	}
}

// Bind attaches the pipeline the gateway feeds chunks into
func (g *Gateway) Bind(p *pipeline.Pipeline) {
	g.pipe = p
}

// clientIdentity resolves the rate-limit identity for a connection from the
// query string or header; the join message can still override it
func clientIdentity(r *http.Request) string {
	if id := r.URL.Query().Get("client_id"); id != "" {
		return id
	}
	return r.Header.Get("X-Client-ID")
}

// HandleTranscribe upgrades the connection and runs its read loop
func (g *Gateway) HandleTranscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := newWSConn(uuid.New().String(), conn, g.logger)
	c.clientID = clientIdentity(r)
	g.logger.Info().Str("connection_id", c.id).Str("remote", r.RemoteAddr).Msg("connection opened")

	go c.writePump()
	g.readLoop(r.Context(), c)
}

func (g *Gateway) readLoop(ctx context.Context, c *wsConn) {
	defer func() {
		g.detach(c)
		c.close()
		g.logger.Info().Str("connection_id", c.id).Str("session_id", c.sessionID).Msg("connection closed")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Warn().Err(err).Str("connection_id", c.id).Msg("unexpected close")
			}
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.enqueue(pipeline.ErrorEvent{Type: "error_event", Kind: "bad_message", Message: "malformed frame"})
			continue
		}

		switch msg.Type {
		case TypeJoinSession:
			if !g.handleJoin(ctx, c, &msg) {
				return
			}
		case TypeAudioChunk:
			g.handleAudio(ctx, c, &msg)
		case TypeEndOfStream:
			g.handleEndOfStream(c)
		default:
			c.enqueue(pipeline.ErrorEvent{Type: "error_event", Kind: "bad_message", Message: "unknown message type"})
		}
	}
}

// handleJoin admits the connection into a session; returns false when the
// connection must be dropped
func (g *Gateway) handleJoin(ctx context.Context, c *wsConn, msg *inboundMessage) bool {
	if msg.SessionID == "" {
		c.enqueue(pipeline.ErrorEvent{Type: "error_event", Kind: "bad_message", Message: "session_id is required"})
		return true
	}

	clientID := msg.ClientID
	if clientID == "" {
		clientID = c.clientID
	}
	if clientID == "" {
		clientID = msg.SessionID
	}

	if err := g.limiter.Allow(ctx, clientID, ratelimit.CategoryStandard); err != nil {
		g.rejectRateLimited(c, err)
		return false
	}

	live, restored, err := g.sessions.Join(ctx, msg.SessionID)
	if err != nil {
		g.logger.Error().Err(err).Str("session_id", msg.SessionID).Msg("join failed")
		c.enqueue(pipeline.ErrorEvent{Type: "error_event", Kind: "session_expired", Message: "could not join session"})
		return false
	}

	result := g.sessions.Register(msg.SessionID, c.id)
	if !result.Admitted {
		g.logger.Warn().
			Str("session_id", msg.SessionID).
			Str("connection_id", c.id).
			Str("reason", result.Reason).
			Msg("connection rejected")
		c.enqueue(pipeline.ErrorEvent{Type: "error_event", Kind: "duplicate_connection", Message: result.Reason})
		return false
	}
	if result.Replaced {
		g.detachSession(msg.SessionID)
	}

	c.sessionID = msg.SessionID
	c.clientID = clientID
	g.attach(c)

	var sequence uint64
	live.WithState(func(st *session.State) { sequence = st.Sequence })
	c.enqueue(sessionJoined{
		Type:      "session_joined",
		SessionID: msg.SessionID,
		Restored:  restored,
		Sequence:  sequence,
	})
	return true
}

func (g *Gateway) handleAudio(ctx context.Context, c *wsConn, msg *inboundMessage) {
	if c.sessionID == "" {
		c.enqueue(pipeline.ErrorEvent{Type: "error_event", Kind: "bad_message", Message: "join a session first"})
		return
	}

	if err := g.limiter.Allow(ctx, c.clientID, ratelimit.CategoryStandard); err != nil {
		g.rejectRateLimited(c, err)
		return
	}

	raw, err := base64.StdEncoding.DecodeString(msg.Audio)
	if err != nil {
		c.enqueue(pipeline.ErrorEvent{Type: "error_event", Kind: pipeline.KindInvalidAudio, Message: "audio payload is not valid base64"})
		return
	}

	chunk := &pipeline.Chunk{
		SessionID:      c.sessionID,
		ChunkID:        observability.NewCorrelationID(),
		ClientID:       c.clientID,
		ClientSequence: msg.Sequence,
		ClientTS:       msg.ClientTS,
		Raw:            raw,
		Mime:           msg.Mime,
		Received:       time.Now(),
	}
	if err := g.pipe.Enqueue(chunk); err != nil {
		c.enqueue(pipeline.ErrorEvent{Type: "error_event", Kind: "session_expired", Message: err.Error()})
	}
}

func (g *Gateway) handleEndOfStream(c *wsConn) {
	if c.sessionID == "" {
		return
	}
	chunk := &pipeline.Chunk{
		SessionID:   c.sessionID,
		ChunkID:     observability.NewCorrelationID(),
		ClientID:    c.clientID,
		EndOfStream: true,
		Received:    time.Now(),
	}
	if err := g.pipe.Enqueue(chunk); err != nil {
		g.logger.Warn().Err(err).Str("session_id", c.sessionID).Msg("end of stream for dead session")
	}
}

func (g *Gateway) rejectRateLimited(c *wsConn, err error) {
	ev := pipeline.ErrorEvent{Type: "error_event", Kind: pipeline.KindRateLimited, Message: err.Error()}
	var limitErr *ratelimit.LimitExceededError
	if errors.As(err, &limitErr) {
		ev.RetryAfterMs = limitErr.RetryAfter.Milliseconds()
	}
	c.enqueue(ev)
}

func (g *Gateway) attach(c *wsConn) {
	g.mu.Lock()
	g.conns[c.sessionID] = c
	g.mu.Unlock()
}

// detach removes the connection from the routing table if it still owns
// its session slot
func (g *Gateway) detach(c *wsConn) {
	if c.sessionID == "" {
		return
	}
	g.mu.Lock()
	if cur, ok := g.conns[c.sessionID]; ok && cur.id == c.id {
		delete(g.conns, c.sessionID)
	}
	g.mu.Unlock()
	g.sessions.Unregister(c.sessionID, c.id)
}

// detachSession force-closes whatever connection owns the session,
// used when a stale connection is replaced
func (g *Gateway) detachSession(sessionID string) {
	g.mu.Lock()
	old, ok := g.conns[sessionID]
	if ok {
		delete(g.conns, sessionID)
	}
	g.mu.Unlock()
	if ok {
		old.close()
	}
}

func (g *Gateway) connFor(sessionID string) *wsConn {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.conns[sessionID]
}

// EmitTranscript implements pipeline.Emitter
func (g *Gateway) EmitTranscript(sessionID string, event pipeline.TranscriptEvent) {
	if c := g.connFor(sessionID); c != nil {
		c.enqueue(event)
	}
}

// EmitAck implements pipeline.Emitter
func (g *Gateway) EmitAck(sessionID string, event pipeline.AckEvent) {
	if c := g.connFor(sessionID); c != nil {
		c.enqueue(event)
	}
}

// EmitError implements pipeline.Emitter
func (g *Gateway) EmitError(sessionID string, event pipeline.ErrorEvent) {
	if c := g.connFor(sessionID); c != nil {
		c.enqueue(event)
	}
}
