// Package handler implements the per-message business rules on top of the
// connection and session managers.
package handler

import (
	"context"
	"sync"
	"time"

	"github.com/dimspell/tavern/internal/connection"
	"github.com/dimspell/tavern/internal/dice"
	"github.com/dimspell/tavern/internal/directory"
	"github.com/dimspell/tavern/internal/router"
	"github.com/dimspell/tavern/internal/rules"
	"github.com/dimspell/tavern/internal/session"
	"github.com/dimspell/tavern/internal/wire"
)

// TokenVerifier resolves a credential token into the user id it was issued
// for.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// DefaultReconnectGrace is how long a dropped player keeps their seat unless
// configured otherwise.
const DefaultReconnectGrace = 60 * time.Second

type Option func(*Handlers)

func WithRules(v rules.Validator) Option {
	return func(h *Handlers) { h.rules = v }
}

func WithRoller(r *dice.Roller) Option {
	return func(h *Handlers) { h.roller = r }
}

// WithReconnectGrace sets how long a dropped player keeps their seat.
func WithReconnectGrace(d time.Duration) Option {
	return func(h *Handlers) { h.reconnectGrace = d }
}

type Handlers struct {
	conns    *connection.Manager
	sessions *session.Manager
	tokens   TokenVerifier
	users    directory.Directory
	rules    rules.Validator
	roller   *dice.Roller

	reconnectGrace time.Duration

	graceMu sync.Mutex
	grace   map[seat]*time.Timer

	// afterJoin runs between joining a session and binding the connection.
	afterJoin func()
}

type seat struct {
	userID    string
	sessionID string
}

func New(conns *connection.Manager, sessions *session.Manager, tokens TokenVerifier, users directory.Directory, opts ...Option) *Handlers {
	h := &Handlers{
		conns:          conns,
		sessions:       sessions,
		tokens:         tokens,
		users:          users,
		rules:          rules.Permissive{},
		roller:         dice.NewRoller(),
		reconnectGrace: DefaultReconnectGrace,
		grace:          make(map[seat]*time.Timer),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register binds every client message type to its handler.
func (h *Handlers) Register(r *router.Router) {
	r.Handle(wire.Ping, h.Ping)
	r.Handle(wire.Authenticate, h.Authenticate)

	r.Handle(wire.CreateSession, h.CreateSession)
	r.Handle(wire.JoinSession, h.JoinSession)
	r.Handle(wire.LeaveSession, h.LeaveSession)
	r.Handle(wire.EndSession, h.EndSession)
	r.Handle(wire.PlayerReady, h.PlayerReady)
	r.Handle(wire.GameStart, h.GameStart)

	r.Handle(wire.ChatMessage, h.ChatMessage)
	r.Handle(wire.Whisper, h.Whisper)

	r.Handle(wire.TurnEnd, h.TurnEnd)
	r.Handle(wire.ActionRequest, h.ActionRequest)
	r.Handle(wire.DiceRoll, h.DiceRoll)
	r.Handle(wire.MoveToken, h.MoveToken)
}

func (h *Handlers) Ping(_ context.Context, req router.Request) error {
	h.conns.Send(req.Conn.ID, req.Reply(&wire.PongPayload{ServerTime: time.Now().UnixMilli()}))
	return nil
}

// membership resolves the session the connection is bound to and the
// caller's player record in it.
func (h *Handlers) membership(req router.Request) (session.Session, session.Player, error) {
	if req.Conn.SessionID == "" {
		return session.Session{}, session.Player{}, router.SessionFail(wire.CodeNotInSession, "join a session first")
	}
	s, ok := h.sessions.Get(req.Conn.SessionID)
	if !ok {
		h.conns.LeaveSession(req.Conn.ID)
		return session.Session{}, session.Player{}, router.SessionFail(wire.CodeSessionNotFound, "the session no longer exists")
	}
	p, ok := s.Player(req.Conn.User.ID)
	if !ok {
		h.conns.LeaveSession(req.Conn.ID)
		return session.Session{}, session.Player{}, router.SessionFail(wire.CodeNotAMember, "you are no longer a member of this session")
	}
	return s, p, nil
}

func sessionError(err error) error {
	return router.SessionFail(session.Code(err), err.Error())
}

func systemMessage(level wire.Level, message string) wire.Message {
	return wire.New(&wire.SystemMessagePayload{Level: level, Message: message})
}
