package ws

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/mkrivosheev/passrelay/internal/crypto"
	"github.com/mkrivosheev/passrelay/internal/errs"
	"github.com/mkrivosheev/passrelay/internal/limiter"
	"github.com/mkrivosheev/passrelay/internal/protocol"
	"github.com/mkrivosheev/passrelay/internal/service"
)

// session is the per-connection protocol state: identity bound by register,
// the last served code, and the dispatch goroutine serving codes on demand.
type session struct {
	id     uuid.UUID
	conn   *websocket.Conn
	remote string
	cfg    Config
	svc    *service.Relay
	lim    limiter.Limiter
	log    *zap.Logger

	mu        sync.Mutex
	clientID  string // hashed identifier, empty until registered
	lastCode  string
	hasServed bool

	wake         chan struct{}
	registered   chan struct{}
	registerOnce sync.Once
	cancel       context.CancelFunc // guarded by mu; set once run starts
}

func newSession(conn *websocket.Conn, remote string, cfg Config, svc *service.Relay, lim limiter.Limiter, log *zap.Logger) (*session, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	return &session{
		id:         id,
		conn:       conn,
		remote:     remote,
		cfg:        cfg,
		svc:        svc,
		lim:        lim,
		log:        log.With(zap.String("session", id.String()), zap.String("remote", remote)),
		wake:       make(chan struct{}, 1),
		registered: make(chan struct{}),
	}, nil
}

// run drives the session until the connection drops or is closed. The read
// loop, the dispatch goroutine, and the registration deadline all share one
// cancellable context.
func (s *session) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	go s.dispatchLoop(ctx)
	go s.registerDeadline(ctx)

	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == -1 && ctx.Err() == nil {
				s.log.Warn("connection error", zap.Error(err))
			}
			return
		}
		if typ != websocket.MessageText {
			s.send(ctx, protocol.Response{Status: protocol.StatusForbidden, Body: "Forbidden"})
			continue
		}
		if s.handle(ctx, string(data)) {
			return
		}
	}
}

// handle processes one inbound frame; a true result tears the session down.
func (s *session) handle(ctx context.Context, msg string) (done bool) {
	switch {
	case msg == protocol.CmdClose:
		_ = s.conn.Close(websocket.StatusNormalClosure, "bye")
		return true

	case strings.HasPrefix(msg, protocol.CmdRegister):
		return s.handleRegister(ctx, msg)

	case msg == protocol.CmdContinue:
		if !s.isRegistered() {
			s.send(ctx, protocol.Response{Status: protocol.StatusClientError, Sub: protocol.SubRegisterRequired, Body: "register required"})
			return false
		}
		s.arm()

	case msg == protocol.CmdFR:
		s.markLast(ctx, true, false)

	case msg == protocol.CmdMarkOther:
		s.markLast(ctx, false, true)

	case msg == protocol.CmdPing:
		s.send(ctx, protocol.Response{Status: protocol.StatusPing, Body: "pong"})

	case msg == protocol.CmdFetch:
		s.handleFetch(ctx)

	case msg == protocol.CmdDelete:
		s.handleDelete(ctx)

	default:
		s.send(ctx, protocol.Response{Status: protocol.StatusForbidden, Body: "Forbidden"})
	}
	return false
}

func (s *session) handleRegister(ctx context.Context, msg string) (done bool) {
	req, err := protocol.ParseRegister(msg)
	switch {
	case errors.Is(err, protocol.ErrMissingVersionTag):
		s.send(ctx, protocol.Response{Status: protocol.StatusClientError, Sub: protocol.SubMissingVersionTag, Body: "Version tag required"})
		return false
	case err != nil:
		s.send(ctx, protocol.Response{Status: protocol.StatusClientError, Sub: protocol.SubMalformedRegister, Body: "Bad register request"})
		return false
	}

	if req.Version < s.cfg.MinVersion {
		s.send(ctx, protocol.Response{Status: protocol.StatusClientError, Sub: protocol.SubUpgradeRequired, Body: "Client upgrade required"})
		_ = s.conn.Close(websocket.StatusPolicyViolation, "client upgrade required")
		return true
	}

	if s.cfg.Secret != nil {
		if req.Password == "" {
			s.send(ctx, protocol.Response{Status: protocol.StatusClientError, Sub: protocol.SubPasswordRequired, Body: "Password required"})
			return false
		}
		if err := s.checkSecret(ctx, req.Password); err != nil {
			// lockout is indistinguishable from a bad password on the wire
			s.send(ctx, protocol.Response{Status: protocol.StatusClientError, Sub: protocol.SubPasswordIncorrect, Body: "Password incorrect"})
			return false
		}
	}

	s.bind(crypto.HashIdentifier(req.ClientID))
	s.arm()
	s.log.Info("session registered", zap.Int("version", req.Version), zap.String("tag", req.Tag))
	return false
}

// checkSecret enforces the shared secret, counting failures against the
// peer's lockout window. A locked-out peer fails with errs.ErrRateLimited
// without the secret ever being compared.
func (s *session) checkSecret(ctx context.Context, password string) error {
	ipHash := limiter.HashIP(hostOnly(s.remote))

	allowed, retry, err := s.lim.Allow(ctx, ipHash)
	if err != nil {
		s.log.Error("limiter allow", zap.Error(err))
	} else if !allowed {
		s.log.Warn("register locked out", zap.Duration("retry_after", retry))
		return errs.ErrRateLimited
	}

	if !s.cfg.Secret.Verify(password) {
		if _, _, err := s.lim.Failure(ctx, ipHash); err != nil {
			s.log.Error("limiter failure", zap.Error(err))
		}
		return errs.ErrUnauthorized
	}
	if err := s.lim.Success(ctx, ipHash); err != nil {
		s.log.Error("limiter success", zap.Error(err))
	}
	return nil
}

func (s *session) markLast(ctx context.Context, fullyRedeemed, other bool) {
	s.mu.Lock()
	served, code := s.hasServed, s.lastCode
	s.mu.Unlock()

	if !served {
		s.send(ctx, protocol.Response{Status: protocol.StatusClientError, Sub: protocol.SubNothingServed, Body: "Code not sent yet"})
		return
	}
	if err := s.svc.MarkCode(ctx, code, fullyRedeemed, other); err != nil {
		s.send(ctx, protocol.Response{Status: protocol.StatusClientError, Body: "mark failed"})
	}
}

func (s *session) handleFetch(ctx context.Context) {
	head, err := s.svc.FetchHead()
	if errors.Is(err, errs.ErrNoCode) {
		s.sendLegacy(ctx, protocol.LegacyResponse{Status: protocol.StatusNoContent})
		return
	}
	s.sendLegacy(ctx, protocol.LegacyResponse{Status: protocol.StatusDelivered, Body: head})
}

func (s *session) handleDelete(ctx context.Context) {
	_, err := s.svc.PopHead(ctx)
	switch {
	case errors.Is(err, errs.ErrNotFetched):
		s.sendLegacy(ctx, protocol.LegacyResponse{Status: protocol.StatusClientError, Body: "fetch first"})
	case errors.Is(err, errs.ErrNoCode):
		s.sendLegacy(ctx, protocol.LegacyResponse{Status: protocol.StatusNoContent})
	case err != nil:
		s.log.Error("pop head", zap.Error(err))
		s.sendLegacy(ctx, protocol.LegacyResponse{Status: protocol.StatusClientError, Body: "delete failed"})
	default:
		s.sendLegacy(ctx, protocol.LegacyResponse{Status: protocol.StatusDelivered, Body: "ok"})
	}
}

// dispatchLoop serves the next code whenever a request is armed. The wake
// channel gives low latency on register/continue; the ticker retries while
// a request stays armed because no code was available yet.
func (s *session) dispatchLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RetryInterval)
	defer ticker.Stop()

	armed := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
			armed = true
		case <-ticker.C:
		}
		if !armed {
			continue
		}

		code, err := s.svc.RequestNext(ctx, s.identity())
		switch {
		case errors.Is(err, errs.ErrNoCode):
			continue // stays armed; served as soon as a code arrives
		case err != nil:
			if ctx.Err() == nil {
				s.log.Error("request next code", zap.Error(err))
			}
			continue
		}

		s.mu.Lock()
		s.lastCode = code
		s.hasServed = true
		s.mu.Unlock()

		s.send(ctx, protocol.Response{Status: protocol.StatusDelivered, Body: code})
		armed = false
	}
}

// registerDeadline force-closes sessions that never complete registration.
func (s *session) registerDeadline(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-s.registered:
	case <-time.After(s.cfg.RegisterWindow):
		s.send(ctx, protocol.Response{Status: protocol.StatusClientError, Sub: protocol.SubRegisterTimeout, Body: "Register timeout"})
		_ = s.conn.Close(websocket.StatusPolicyViolation, "register timeout")
		s.stop()
	}
}

// goAway closes the connection with the shutdown notification. Safe to call
// from the shutdown path while run is still starting up.
func (s *session) goAway() {
	_ = s.conn.Close(websocket.StatusGoingAway, "Server shutdown")
	s.stop()
}

func (s *session) stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// arm requests one code delivery; a pending request is not stacked.
func (s *session) arm() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *session) bind(hashedID string) {
	s.mu.Lock()
	s.clientID = hashedID
	s.mu.Unlock()
	s.registerOnce.Do(func() { close(s.registered) })
}

func (s *session) isRegistered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientID != ""
}

func (s *session) identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientID
}

func (s *session) send(ctx context.Context, resp protocol.Response) {
	if err := wsjson.Write(ctx, s.conn, resp); err != nil && ctx.Err() == nil {
		s.log.Warn("send response", zap.Error(err))
	}
}

func (s *session) sendLegacy(ctx context.Context, resp protocol.LegacyResponse) {
	if err := wsjson.Write(ctx, s.conn, resp); err != nil && ctx.Err() == nil {
		s.log.Warn("send legacy response", zap.Error(err))
	}
}

// hostOnly strips the port so limiter keys survive reconnects.
func hostOnly(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
