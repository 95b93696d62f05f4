package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/dimspell/tavern/internal/app/logger/logging"
	"github.com/dimspell/tavern/internal/events"
	"github.com/dimspell/tavern/internal/metrics"
	"github.com/dimspell/tavern/internal/model"
	"github.com/dimspell/tavern/internal/wire"
	"github.com/google/uuid"
)

var (
	ErrUnknownConnection    = errors.New("unknown connection")
	ErrConnectionLimit      = errors.New("too many connections for this user")
	ErrAlreadyAuthenticated = errors.New("connection is authenticated as another user")

	// ErrClosed may be returned by a Transport read after the transport was
	// closed locally.
	ErrClosed = errors.New("transport closed")
)

// Disconnect reasons reported on ConnectionClosed events.
const (
	ReasonClosed    = "closed"
	ReasonHeartbeat = "heartbeat"
	ReasonShutdown  = "shutdown"
	ReasonError     = "error"
)

type Config struct {
	MaxConnectionsPerUser int
	HeartbeatTimeout      time.Duration
	SweepInterval         time.Duration
	SendQueueSize         int
	WriteTimeout          time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxConnectionsPerUser: 3,
		HeartbeatTimeout:      60 * time.Second,
		SweepInterval:         15 * time.Second,
		SendQueueSize:         64,
		WriteTimeout:          5 * time.Second,
	}
}

type Option func(*Manager)

func WithConfig(cfg Config) Option {
	return func(m *Manager) { m.cfg = cfg }
}

func WithBus(bus *events.Bus) Option {
	return func(m *Manager) { m.bus = bus }
}

// WithClock replaces time.Now, used to drive heartbeat expiry in tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager tracks every live connection, the user it is authenticated as and
// the session it is bound to.
type Manager struct {
	cfg Config
	bus *events.Bus
	now func() time.Time

	mu    sync.RWMutex
	conns map[string]*connection

	writers sync.WaitGroup
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		cfg:   DefaultConfig(),
		now:   time.Now,
		conns: make(map[string]*connection),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cfg.SendQueueSize <= 0 {
		m.cfg.SendQueueSize = DefaultConfig().SendQueueSize
	}
	if m.cfg.WriteTimeout <= 0 {
		m.cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	return m
}

// Register starts tracking a freshly accepted transport and returns the id
// assigned to it.
func (m *Manager) Register(t Transport, codec *wire.Codec, remoteAddr string) string {
	if codec == nil {
		codec = wire.JSON
	}
	now := m.now()
	conn := &connection{
		id:            uuid.NewString(),
		transport:     t,
		codec:         codec,
		remoteAddr:    remoteAddr,
		connectedAt:   now,
		lastHeartbeat: now,
		outbox:        make(chan []byte, m.cfg.SendQueueSize),
	}

	m.mu.Lock()
	m.conns[conn.id] = conn
	m.mu.Unlock()

	m.writers.Add(1)
	go func() {
		defer m.writers.Done()
		conn.writeLoop(m.cfg.WriteTimeout)
	}()

	slog.Debug("Connection registered", logging.ConnID(conn.id), slog.String("remoteAddr", remoteAddr))
	events.Publish(m.bus, events.ConnectionOpened{ConnID: conn.id, RemoteAddr: remoteAddr})
	return conn.id
}

// Authenticate binds the connection to the user. Repeating it for the same
// user is a no-op.
func (m *Manager) Authenticate(id string, user model.User) error {
	m.mu.Lock()
	conn, ok := m.conns[id]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownConnection
	}
	if conn.user != nil {
		same := conn.user.ID == user.ID
		m.mu.Unlock()
		if same {
			return nil
		}
		return ErrAlreadyAuthenticated
	}

	if limit := m.cfg.MaxConnectionsPerUser; limit > 0 {
		count := 0
		for _, other := range m.conns {
			if other.user != nil && other.user.ID == user.ID {
				count++
			}
		}
		if count >= limit {
			m.mu.Unlock()
			slog.Warn("Connection limit reached",
				logging.ConnID(id), logging.UserID(user.ID), slog.Int("limit", limit))
			events.Publish(m.bus, events.ConnectionRejected{ConnID: id, UserID: user.ID})
			return fmt.Errorf("%w (limit %d)", ErrConnectionLimit, limit)
		}
	}

	u := user
	conn.user = &u
	conn.lastHeartbeat = m.now()
	m.mu.Unlock()

	slog.Info("Connection authenticated", logging.ConnID(id), logging.UserID(user.ID))
	events.Publish(m.bus, events.ConnectionAuthenticated{ConnID: id, UserID: user.ID})
	return nil
}

// Send encodes the message with the connection codec and queues it. Failures
// are logged and counted but never returned, so one broken client cannot
// interrupt a broadcast.
func (m *Manager) Send(id string, msg wire.Message) bool {
	m.mu.RLock()
	conn, ok := m.conns[id]
	m.mu.RUnlock()
	if !ok {
		slog.Warn("Cannot send to an unknown connection", logging.ConnID(id), logging.MessageType(string(msg.Type)))
		metrics.FailedMessageSends.WithLabelValues("unknown_connection").Inc()
		return false
	}

	data, err := conn.codec.Encode(msg)
	if err != nil {
		slog.Error("Could not encode a message", logging.ConnID(id), logging.MessageType(string(msg.Type)), logging.Error(err))
		metrics.FailedMessageSends.WithLabelValues("encode").Inc()
		return false
	}
	return conn.enqueue(data)
}

// JoinSession binds the connection to the session. Binding again to the same
// session does nothing.
func (m *Manager) JoinSession(id, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[id]
	if !ok {
		slog.Warn("Cannot bind an unknown connection", logging.ConnID(id), logging.SessionID(sessionID))
		return ErrUnknownConnection
	}
	conn.sessionID = sessionID
	return nil
}

// LeaveSession unbinds the connection. It returns the session the connection
// was bound to, if any.
func (m *Manager) LeaveSession(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[id]
	if !ok {
		slog.Warn("Cannot unbind an unknown connection", logging.ConnID(id))
		return ""
	}
	prev := conn.sessionID
	conn.sessionID = ""
	return prev
}

func (m *Manager) UpdateHeartbeat(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[id]
	if !ok {
		slog.Warn("Heartbeat for an unknown connection", logging.ConnID(id))
		return
	}
	conn.lastHeartbeat = m.now()
}

func (m *Manager) Get(id string) (Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conn, ok := m.conns[id]
	if !ok {
		return Info{}, false
	}
	return conn.info(), true
}

// UserConnections lists the authenticated connections of the user.
func (m *Manager) UserConnections(userID string) []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Info
	for _, conn := range m.conns {
		if conn.user != nil && conn.user.ID == userID {
			out = append(out, conn.info())
		}
	}
	return out
}

// BoundTo lists the ids of connections bound to the session.
func (m *Manager) BoundTo(sessionID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, conn := range m.conns {
		if conn.sessionID == sessionID && sessionID != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// UserBoundTo reports whether any connection of the user is bound to the
// session.
func (m *Manager) UserBoundTo(userID, sessionID string) bool {
	return len(m.UserBound(userID, sessionID)) > 0
}

// UserBound lists the ids of the user's connections bound to the session.
func (m *Manager) UserBound(userID, sessionID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, conn := range m.conns {
		if conn.user != nil && conn.user.ID == userID && conn.sessionID == sessionID && sessionID != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// Disconnect forgets the connection and closes its transport once the queued
// frames are flushed. Unknown ids are logged and ignored.
func (m *Manager) Disconnect(id, reason string) {
	if !m.disconnect(id, reason, nil) {
		slog.Warn("Disconnect of an unknown connection", logging.ConnID(id), slog.String("reason", reason))
	}
}

// disconnectIfStale disconnects the connection only if it is still past the
// heartbeat timeout at now. A frame that arrived after the sweep collected the
// id keeps the connection alive.
func (m *Manager) disconnectIfStale(id string, now time.Time) bool {
	return m.disconnect(id, ReasonHeartbeat, func(conn *connection) bool {
		return now.Sub(conn.lastHeartbeat) > m.cfg.HeartbeatTimeout
	})
}

// disconnect removes the connection if cond, checked under the lock, allows
// it. A nil cond always allows. Unknown ids are ignored silently, since the
// read loop and the sweeper may both try to remove the same connection.
func (m *Manager) disconnect(id, reason string, cond func(*connection) bool) bool {
	m.mu.Lock()
	conn, ok := m.conns[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	if cond != nil && !cond(conn) {
		m.mu.Unlock()
		return false
	}
	delete(m.conns, id)
	info := conn.info()
	m.mu.Unlock()

	switch reason {
	case ReasonHeartbeat:
		conn.shutdown(websocket.StatusPolicyViolation, "heartbeat timeout", false)
	case ReasonShutdown:
		conn.shutdown(websocket.StatusGoingAway, "server shutting down", true)
	default:
		conn.shutdown(websocket.StatusNormalClosure, "", true)
	}

	slog.Info("Connection closed",
		logging.ConnID(id),
		logging.UserID(info.User.ID),
		logging.SessionID(info.SessionID),
		slog.String("reason", reason),
	)
	events.Publish(m.bus, events.ConnectionClosed{
		ConnID:    id,
		UserID:    info.User.ID,
		SessionID: info.SessionID,
		Reason:    reason,
		Duration:  m.now().Sub(info.ConnectedAt),
	})
	return true
}

// Listen reads frames from the connection and passes them, in arrival order,
// to handle. It returns when the client goes away or ctx is cancelled, and
// the connection is disconnected on the way out.
func (m *Manager) Listen(ctx context.Context, id string, handle func(ctx context.Context, id string, data []byte)) error {
	m.mu.RLock()
	conn, ok := m.conns[id]
	m.mu.RUnlock()
	if !ok {
		return ErrUnknownConnection
	}

	reason := ReasonClosed
	defer func() { m.disconnect(id, reason, nil) }()

	for {
		_, data, err := conn.transport.Read(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				reason = ReasonShutdown
				return nil
			case websocket.CloseStatus(err) == websocket.StatusNormalClosure,
				websocket.CloseStatus(err) == websocket.StatusGoingAway:
				return nil
			case errors.Is(err, ErrClosed), !m.registered(id):
				return nil
			default:
				reason = ReasonError
				slog.Debug("Read from websocket failed", logging.ConnID(id), logging.Error(err))
				return err
			}
		}
		handle(ctx, id, data)
	}
}

func (m *Manager) registered(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.conns[id]
	return ok
}

// Close disconnects every connection and waits for their writers to finish.
func (m *Manager) Close() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.disconnect(id, ReasonShutdown, nil)
	}
	m.writers.Wait()
}
