// Package ws exposes the relay's WebSocket endpoint: one session per
// connection, an explicit registry of live sessions, and pass-throughs to
// the relay service for the ingestion side.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/mkrivosheev/passrelay/internal/crypto"
	"github.com/mkrivosheev/passrelay/internal/limiter"
	"github.com/mkrivosheev/passrelay/internal/service"
)

// Config carries the protocol settings of the endpoint.
type Config struct {
	// Path is the WebSocket endpoint path; every other path answers 403.
	Path string
	// Secret enables shared-secret registration when non-nil.
	Secret *crypto.Secret
	// MinVersion is the lowest accepted client protocol version.
	MinVersion int
	// RegisterWindow force-closes sessions that never register. Default 30s.
	RegisterWindow time.Duration
	// RetryInterval paces the dispatch retry while a serve request is armed
	// and no code is available. Default 500ms.
	RetryInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Path == "" {
		c.Path = "/ws"
	}
	if c.RegisterWindow <= 0 {
		c.RegisterWindow = 30 * time.Second
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 500 * time.Millisecond
	}
	return c
}

// Server owns the set of live sessions and the HTTP endpoint they arrive on.
type Server struct {
	cfg Config
	svc *service.Relay
	lim limiter.Limiter
	log *zap.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]*session
}

// NewServer constructs the WebSocket server.
func NewServer(cfg Config, svc *service.Relay, lim limiter.Limiter, log *zap.Logger) *Server {
	return &Server{
		cfg:      cfg.withDefaults(),
		svc:      svc,
		lim:      lim,
		log:      log,
		sessions: map[uuid.UUID]*session{},
	}
}

// Handler returns the HTTP handler serving the WebSocket endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleWS)
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "Forbidden", http.StatusForbidden)
	})
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("websocket accept failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	s.log.Info("accept websocket", zap.String("remote", r.RemoteAddr))

	sess, err := newSession(conn, r.RemoteAddr, s.cfg, s.svc, s.lim, s.log)
	if err != nil {
		s.log.Error("create session", zap.Error(err))
		_ = conn.Close(websocket.StatusInternalError, "session setup failed")
		return
	}
	s.add(sess)
	defer s.remove(sess.id)

	sess.run(r.Context())
	s.log.Info("websocket connection closed", zap.String("remote", r.RemoteAddr))
}

// Shutdown notifies every live session that the server is going away, then
// waits for them to unwind.
func (s *Server) Shutdown(ctx context.Context) {
	s.mu.Lock()
	live := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		live = append(live, sess)
	}
	s.mu.Unlock()

	for _, sess := range live {
		sess.goAway()
	}

	// sessions remove themselves as their handlers return
	for {
		s.mu.Lock()
		n := len(s.sessions)
		s.mu.Unlock()
		if n == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// PutCode stores an inbound code on behalf of the ingestion collaborator.
func (s *Server) PutCode(ctx context.Context, code string) (string, error) {
	return s.svc.PutCode(ctx, code)
}

// MarkCode flags a stored code on behalf of the ingestion collaborator.
func (s *Server) MarkCode(ctx context.Context, code string, fullyRedeemed, other bool) error {
	return s.svc.MarkCode(ctx, code, fullyRedeemed, other)
}

func (s *Server) add(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.id] = sess
}

func (s *Server) remove(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}
