// Package wsclient implements the WebSocket delivery transport: one
// provider connection per auth user, with keepalive supervision and
// reconnect handling.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/subpulse/internal/eventsub"
	"github.com/pscheid92/subpulse/internal/metrics"
)

const (
	DefaultURL                 = "wss://eventsub.wss.twitch.tv/ws"
	DefaultKeepaliveMultiplier = 1.2

	defaultReconnectAttempts = 5
	defaultReconnectBackoff  = 1 * time.Second
	handshakeTimeout         = 10 * time.Second
)

// Registry is the subset of the subscription registry the websocket
// transport drives.
type Registry interface {
	Dispatch(n eventsub.Notification)
	HandleRevocation(providerID, reason string)
	FlushPending(ctx context.Context, userID string)
	SuspendUser(userID string)
	SocketConnected(userID string)
	SocketDisconnected(userID string, err error)
	ActiveCount(userID string) int
}

// Config carries the websocket transport settings.
type Config struct {
	// URL is the provider's websocket endpoint; empty means DefaultURL.
	// Overridable so test harnesses can point at a local server.
	URL string
	// KeepaliveMultiplier scales the session's advertised keepalive timeout
	// into the local watchdog deadline; zero means 1.2.
	KeepaliveMultiplier float64
	// ReconnectAttempts bounds consecutive failed redials before giving up.
	ReconnectAttempts int
	// ReconnectBackoff is the initial redial delay; it doubles per attempt.
	ReconnectBackoff time.Duration
}

// Client manages one websocket session per auth user. It implements
// eventsub.Transport: a user is ready once their session completed the
// welcome handshake and a session ID exists.
type Client struct {
	cfg      Config
	registry Registry
	clock    clockwork.Clock
	dialer   *websocket.Dialer

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

// NewClient creates the websocket transport. Sessions are dialed lazily on
// the first readiness probe for a user.
func NewClient(cfg Config, registry Registry, clock clockwork.Clock) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.KeepaliveMultiplier <= 0 {
		cfg.KeepaliveMultiplier = DefaultKeepaliveMultiplier
	}
	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = defaultReconnectAttempts
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = defaultReconnectBackoff
	}

	return &Client{
		cfg:      cfg,
		registry: registry,
		clock:    clock,
		dialer:   &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		sessions: make(map[string]*session),
	}
}

// Ready implements eventsub.Transport. Probing a user without a session
// starts one; the registry queues the subscription and registers it from
// FlushPending once the welcome frame arrives. Racing probes for the same
// user resolve to a single connection.
func (c *Client) Ready(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	s, ok := c.sessions[userID]
	if !ok {
		s = newSession(c, userID)
		c.sessions[userID] = s
		metrics.SocketSessionsCurrent.Inc()
		go s.connect(c.cfg.URL, false)
		return false
	}
	return s.ID() != ""
}

// Parameters implements eventsub.Transport. It fails when no session ID
// exists yet: registrations must not reach the provider before the
// handshake completes.
func (c *Client) Parameters(_ context.Context, userID string) (eventsub.TransportParams, error) {
	c.mu.Lock()
	s := c.sessions[userID]
	c.mu.Unlock()

	if s == nil {
		return eventsub.TransportParams{}, fmt.Errorf("no websocket session for user %q", userID)
	}
	sessionID := s.ID()
	if sessionID == "" {
		return eventsub.TransportParams{}, fmt.Errorf("websocket session for user %q not welcomed yet", userID)
	}
	return eventsub.TransportParams{Method: "websocket", SessionID: sessionID}, nil
}

// Close tears down every session. Used on shutdown.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	sessions := make([]*session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.sessions = make(map[string]*session)
	metrics.SocketSessionsCurrent.Sub(float64(len(sessions)))
	c.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}

func (c *Client) dropSession(s *session) {
	c.mu.Lock()
	if c.sessions[s.userID] == s {
		delete(c.sessions, s.userID)
		metrics.SocketSessionsCurrent.Dec()
	}
	c.mu.Unlock()
}

// loopResult says why a read loop ended.
type loopResult int

const (
	resultClosed     loopResult = iota // session closed on purpose
	resultReplaced                     // connection swapped out during reconnect overlap
	resultLost                         // live connection dropped
	resultPreWelcome                   // connection died before its welcome frame
)

// session is one user's websocket connection plus its keepalive watchdog.
// During a provider-directed reconnect two connections exist briefly; conn
// always points at the one whose session is authoritative.
type session struct {
	client *Client
	userID string

	mu        sync.Mutex
	conn      *websocket.Conn
	sessionID string
	deadline  time.Duration
	timer     clockwork.Timer
	closed    bool
}

func newSession(c *Client, userID string) *session {
	return &session{client: c, userID: userID}
}

func (s *session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// connect dials a URL and services it. carriedOver marks a dial to a
// reconnect URL: the provider migrates the session's subscriptions, so no
// re-registration happens on welcome.
func (s *session) connect(url string, carriedOver bool) {
	conn, _, err := s.client.dialer.Dial(url, nil)
	if err != nil {
		if carriedOver {
			// The draining connection is still live; stay on it until the
			// provider closes it and the normal loss path takes over.
			slog.Warn("Failed to dial reconnect URL, staying on old connection",
				"user_id", s.userID, "error", err)
			return
		}
		if s.isClosed() {
			return
		}
		s.runReconnect(fmt.Errorf("failed to dial %s: %w", url, err))
		return
	}

	switch s.readLoop(conn, carriedOver) {
	case resultClosed, resultReplaced:
		return
	case resultLost:
		s.client.registry.SuspendUser(s.userID)
		s.runReconnect(fmt.Errorf("connection to %s lost", url))
	case resultPreWelcome:
		if carriedOver {
			slog.Warn("Reconnect URL closed before welcome, staying on old connection",
				"user_id", s.userID)
			return
		}
		s.runReconnect(fmt.Errorf("connection to %s closed before welcome", url))
	}
}

// runReconnect redials with doubling backoff. The attempt counter resets
// whenever a session gets welcomed again; consecutive failures beyond the
// limit give the user up and fire SocketDisconnected.
func (s *session) runReconnect(cause error) {
	backoff := s.client.cfg.ReconnectBackoff
	attempts := 0

	for {
		if s.isClosed() {
			return
		}
		attempts++
		if attempts > s.client.cfg.ReconnectAttempts {
			break
		}

		s.client.clock.Sleep(backoff)
		backoff *= 2
		if s.isClosed() {
			return
		}

		metrics.SocketReconnectAttemptsTotal.Inc()
		conn, _, err := s.client.dialer.Dial(s.client.cfg.URL, nil)
		if err != nil {
			cause = err
			slog.Warn("Reconnect attempt failed", "user_id", s.userID, "attempt", attempts, "error", err)
			continue
		}

		switch s.readLoop(conn, false) {
		case resultClosed, resultReplaced:
			return
		case resultLost:
			// Was live again: start the attempt budget over.
			s.client.registry.SuspendUser(s.userID)
			cause = errors.New("reconnected session lost")
			attempts = 0
			backoff = s.client.cfg.ReconnectBackoff
		case resultPreWelcome:
			cause = errors.New("reconnected session closed before welcome")
		}
	}

	slog.Error("Reconnect attempts exhausted, giving up on websocket session",
		"user_id", s.userID, "error", cause)
	metrics.SocketSessionsLostTotal.Inc()
	s.client.dropSession(s)
	s.close()
	s.client.registry.SocketDisconnected(s.userID, cause)
}

// readLoop services one connection until it dies or is replaced.
func (s *session) readLoop(conn *websocket.Conn, carriedOver bool) loopResult {
	welcomed := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			current := s.conn == conn
			if current {
				s.conn = nil
				if s.timer != nil {
					s.timer.Stop()
				}
			}
			s.mu.Unlock()

			switch {
			case closed:
				return resultClosed
			case current:
				slog.Warn("WebSocket connection lost", "user_id", s.userID, "error", err)
				return resultLost
			case welcomed:
				return resultReplaced
			default:
				return resultPreWelcome
			}
		}

		frame, err := eventsub.DecodeFrame(data)
		if err != nil {
			var unknown *eventsub.UnknownFrameError
			if errors.As(err, &unknown) {
				slog.Warn("Ignoring websocket frame of unknown type",
					"user_id", s.userID, "message_type", unknown.MessageType)
			} else {
				slog.Warn("Failed to decode websocket frame", "user_id", s.userID, "error", err)
			}
			s.touch(conn)
			continue
		}

		switch f := frame.(type) {
		case eventsub.WelcomeFrame:
			welcomed = true
			s.adoptConn(conn, f.Session, carriedOver)
		case eventsub.KeepaliveFrame:
			s.touch(conn)
		case eventsub.ReconnectFrame:
			slog.Info("Provider requested reconnect", "user_id", s.userID, "url", f.Session.ReconnectURL)
			go s.connect(f.Session.ReconnectURL, true)
			s.touch(conn)
		case eventsub.NotificationFrame:
			s.touch(conn)
			s.client.registry.Dispatch(eventsub.Notification{
				SubscriptionID: f.Subscription.ID,
				Event:          f.Event,
			})
		case eventsub.RevocationFrame:
			s.touch(conn)
			s.client.registry.HandleRevocation(f.Subscription.ID, f.Subscription.Status)
		}
	}
}

// adoptConn installs a welcomed connection as the session's authoritative
// one and arms the keepalive watchdog from the advertised timeout.
func (s *session) adoptConn(conn *websocket.Conn, info eventsub.SessionInfo, carriedOver bool) {
	keepalive := time.Duration(info.KeepaliveTimeoutSeconds) * time.Second
	if keepalive <= 0 {
		keepalive = 10 * time.Second
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	old := s.conn
	s.conn = conn
	s.sessionID = info.ID
	s.deadline = time.Duration(float64(keepalive) * s.client.cfg.KeepaliveMultiplier)
	if s.timer == nil {
		s.timer = s.client.clock.AfterFunc(s.deadline, s.keepaliveExpired)
	} else {
		s.timer.Reset(s.deadline)
	}
	s.mu.Unlock()

	if old != nil && old != conn {
		// Reconnect overlap ends here: the drained connection is released
		// only after the replacement is welcomed, so no notification gap.
		old.Close()
	}

	slog.Info("WebSocket session established",
		"user_id", s.userID, "session_id", info.ID, "carried_over", carriedOver)

	if carriedOver {
		// Subscriptions migrate with the session; re-registering would
		// duplicate them.
		return
	}

	reg := s.client.registry
	reg.SocketConnected(s.userID)
	reg.FlushPending(context.Background(), s.userID)

	if reg.ActiveCount(s.userID) == 0 {
		slog.Info("No subscriptions after welcome, closing idle session", "user_id", s.userID)
		s.client.dropSession(s)
		s.close()
	}
}

// touch re-arms the watchdog. Any inbound frame proves liveness, not just
// keepalives.
func (s *session) touch(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn && s.timer != nil {
		s.timer.Reset(s.deadline)
	}
	s.mu.Unlock()
}

func (s *session) keepaliveExpired() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	slog.Warn("Keepalive deadline expired, dropping connection", "user_id", s.userID)
	metrics.SocketKeepaliveExpiriesTotal.Inc()
	// Closing unblocks the read loop, which suspends and redials.
	conn.Close()
}
