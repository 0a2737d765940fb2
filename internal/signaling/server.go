package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pairlink/relay/internal/auth"
	"github.com/pairlink/relay/internal/config"
	"github.com/pairlink/relay/internal/matchmaker"
	"github.com/pairlink/relay/internal/metrics"
	"github.com/pairlink/relay/internal/origin"
	"github.com/pairlink/relay/internal/ratelimit"
)

// Error codes carried in error envelopes.
const (
	codeUnauthorized  = "unauthorized"
	codeBadMessage    = "bad_message"
	codeRateLimited   = "rate_limited"
	codeInvalidState  = "invalid_state"
	codeRoutingError  = "routing_error"
	codeServerFull    = "server_full"
	codeInternalError = "internal_error"
)

// Server upgrades signaling WebSockets, authenticates them, and bridges each
// socket to the matchmaking engine as a registered connection.
type Server struct {
	cfg      config.Config
	log      *slog.Logger
	engine   *matchmaker.Engine
	verifier auth.Verifier
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
	closed  bool
}

func NewServer(cfg config.Config, log *slog.Logger, engine *matchmaker.Engine, verifier auth.Verifier) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		log:      log,
		engine:   engine,
		verifier: verifier,
		clients:  make(map[string]*client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return origin.Allowed(r.Header.Get("Origin"), r.Host, cfg.AllowedOrigins)
		},
	}
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWS)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		s.log.Debug("websocket upgrade rejected", "remote", r.RemoteAddr, "err", err)
		return
	}

	user, err := s.authenticate(r, conn)
	if err != nil {
		s.engine.Metrics().Inc(metrics.AuthFailure)
		s.log.Info("signaling authentication failed", "remote", r.RemoteAddr, "err", err)
		s.refuse(conn, codeUnauthorized, "authentication failed", websocket.ClosePolicyViolation)
		return
	}

	id := uuid.NewString()
	c := newClient(id, user, conn, s.log, s.cfg.SendBufferMessages)

	if !s.addClient(c) {
		s.refuse(conn, codeInternalError, "server shutting down", websocket.CloseGoingAway)
		return
	}

	if err := s.engine.Register(id, c); err != nil {
		s.removeClient(id)
		if errors.Is(err, matchmaker.ErrServerFull) {
			s.refuse(conn, codeServerFull, "connection limit reached", websocket.CloseTryAgainLater)
		} else {
			s.log.Error("connection registration failed", "conn_id", id, "err", err)
			s.refuse(conn, codeInternalError, "registration failed", websocket.CloseInternalServerErr)
		}
		return
	}

	s.log.Info("signaling connection established",
		"conn_id", id, "user_id", user.UserID, "remote", r.RemoteAddr)

	go c.writePump(s.cfg.WSPingInterval)

	if err := c.enqueue(SignalMessage{
		Type:         MessageTypeReady,
		ConnectionID: id,
		ICEServers:   s.cfg.ICEServers,
	}); err != nil {
		s.log.Warn("ready frame dropped", "conn_id", id, "err", err)
	}

	s.readPump(c)

	s.engine.Unregister(id)
	s.removeClient(id)
	c.close()
	s.log.Info("signaling connection closed", "conn_id", id)
}

// authenticate resolves the client's credential: the token query parameter if
// present, otherwise (jwt mode only) the first frame, which must be an auth
// message arriving within the auth timeout.
func (s *Server) authenticate(r *http.Request, conn *websocket.Conn) (auth.UserRecord, error) {
	credential := r.URL.Query().Get("token")
	if credential == "" && s.cfg.AuthMode == auth.ModeJWT {
		conn.SetReadLimit(s.cfg.MaxMessageBytes)
		if err := conn.SetReadDeadline(time.Now().Add(s.cfg.AuthTimeout)); err != nil {
			return auth.UserRecord{}, err
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return auth.UserRecord{}, fmt.Errorf("read auth message: %w", err)
		}
		msg, err := ParseSignalMessage(data)
		if err != nil {
			return auth.UserRecord{}, fmt.Errorf("parse auth message: %w", err)
		}
		if msg.Type != MessageTypeAuth {
			return auth.UserRecord{}, fmt.Errorf("expected auth message, got %q: %w", msg.Type, auth.ErrMissingCredentials)
		}
		credential = msg.Token
	}
	return s.verifier.Authenticate(credential)
}

// refuse sends a terminal error envelope and close frame on a socket that has
// no writePump yet, then closes it.
func (s *Server) refuse(conn *websocket.Conn, code, message string, closeCode int) {
	if data, err := json.Marshal(SignalMessage{Type: MessageTypeError, Code: code, Message: message}); err == nil {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		_ = conn.WriteMessage(websocket.TextMessage, data)
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, code))
	conn.Close()
}

func (s *Server) readPump(c *client) {
	c.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	if err := c.conn.SetReadDeadline(time.Now().Add(s.cfg.WSIdleTimeout)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(s.cfg.WSIdleTimeout))
	})

	limiter := ratelimit.NewTokenBucket(nil,
		int64(s.cfg.MaxMessagesPerSecond), int64(s.cfg.MaxMessagesPerSecond))

	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				s.engine.Metrics().Inc(metrics.MessageTooLarge)
				s.log.Warn("oversized frame, closing connection", "conn_id", c.id)
			} else if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("read error", "conn_id", c.id, "err", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(s.cfg.WSIdleTimeout))

		if !limiter.Allow(1) {
			s.engine.Metrics().Inc(metrics.RateLimited)
			c.sendError(codeRateLimited, "message rate limit exceeded")
			continue
		}

		msg, err := ParseSignalMessage(data)
		if err != nil {
			s.log.Debug("malformed frame", "conn_id", c.id, "err", err)
			c.sendError(codeBadMessage, "malformed signaling message")
			continue
		}

		s.dispatch(c, msg)
	}
}

func (s *Server) dispatch(c *client, msg SignalMessage) {
	switch msg.Type {
	case MessageTypeAuth:
		c.sendError(codeInvalidState, "already authenticated")
	case MessageTypeSearch:
		if err := s.engine.RequestPairing(c.id); err != nil {
			s.replyEngineError(c, "search", err)
		}
	case MessageTypeCancel:
		if err := s.engine.CancelSearch(c.id); err != nil {
			s.replyEngineError(c, "cancel", err)
		}
	case MessageTypeLeave:
		if err := s.engine.EndSession(c.id); err != nil {
			s.replyEngineError(c, "leave", err)
		}
	case MessageTypeOffer:
		s.relay(c, matchmaker.SignalOffer, msg.Target, msg.SDP)
	case MessageTypeAnswer:
		s.relay(c, matchmaker.SignalAnswer, msg.Target, msg.SDP)
	case MessageTypeCandidate:
		s.relay(c, matchmaker.SignalCandidate, msg.Target, msg.Candidate)
	}
}

func (s *Server) relay(c *client, kind matchmaker.SignalKind, target string, payload json.RawMessage) {
	if err := s.engine.Relay(c.id, kind, target, payload); err != nil {
		s.replyEngineError(c, string(kind), err)
	}
}

// replyEngineError maps an engine error to an error envelope for the sender.
// State and routing errors are non-fatal; the socket stays open.
func (s *Server) replyEngineError(c *client, op string, err error) {
	switch {
	case errors.Is(err, matchmaker.ErrInvalidState):
		c.sendError(codeInvalidState, fmt.Sprintf("%s not allowed in current state", op))
	case errors.Is(err, matchmaker.ErrNotPaired):
		c.sendError(codeRoutingError, fmt.Sprintf("%s has no active session", op))
	case errors.Is(err, matchmaker.ErrTargetMismatch):
		c.sendError(codeRoutingError, fmt.Sprintf("%s target is not the current partner", op))
	case errors.Is(err, matchmaker.ErrUnknownConnection):
		// The engine has already dropped us (send buffer overflow cascade).
		c.close()
	default:
		s.log.Error("engine operation failed", "conn_id", c.id, "op", op, "err", err)
		c.sendError(codeInternalError, "internal error")
	}
}

func (s *Server) addClient(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[c.id] = c
	return true
}

func (s *Server) removeClient(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, id)
}

// ClientCount reports live signaling connections.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close stops accepting new connections and closes every live client. Each
// client's read pump unwinds through the usual unregister path.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}
