package session

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dimspell/tavern/internal/app/logger/logging"
	"github.com/dimspell/tavern/internal/events"
	"github.com/dimspell/tavern/internal/metrics"
	"github.com/dimspell/tavern/internal/wire"
	"github.com/google/uuid"
)

const (
	MinMaxPlayers = 2
	MaxMaxPlayers = 12
	MaxNameLength = 100
)

// Connections is the part of the connection manager the sessions fan out
// through.
type Connections interface {
	Send(id string, msg wire.Message) bool
	BoundTo(sessionID string) []string
	UserBound(userID, sessionID string) []string
	UserBoundTo(userID, sessionID string) bool
	LeaveSession(id string) string
}

type Config struct {
	MinPlayers        int
	DefaultMaxPlayers int
}

func DefaultConfig() Config {
	return Config{
		MinPlayers:        2,
		DefaultMaxPlayers: 6,
	}
}

type Option func(*Manager)

func WithConfig(cfg Config) Option {
	return func(m *Manager) { m.cfg = cfg }
}

func WithStore(store Store) Option {
	return func(m *Manager) { m.store = store }
}

func WithBus(bus *events.Bus) Option {
	return func(m *Manager) { m.bus = bus }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithInviteCodes replaces the invite code generator.
func WithInviteCodes(gen func() (string, error)) Option {
	return func(m *Manager) { m.newInviteCode = gen }
}

// Member describes the user taking part in a create or join.
type Member struct {
	UserID        string
	DisplayName   string
	CharacterID   string
	CharacterName string
}

type CreateOptions struct {
	Name       string
	CampaignID string
	MaxPlayers int
	IsPrivate  bool
}

// Manager owns the session registry. Every mutation runs under a single
// mutex, so join, leave, ready and start are atomic with respect to each
// other.
type Manager struct {
	cfg           Config
	conns         Connections
	store         Store
	bus           *events.Bus
	now           func() time.Time
	newInviteCode func() (string, error)

	mu  sync.Mutex
	seq uint64
}

func NewManager(conns Connections, opts ...Option) *Manager {
	m := &Manager{
		cfg:           DefaultConfig(),
		conns:         conns,
		now:           time.Now,
		newInviteCode: NewInviteCode,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.store == nil {
		m.store = NewMemoryStore()
	}
	return m
}

func (m *Manager) nextSeq() uint64 {
	m.seq++
	return m.seq
}

// snapshot copies the session and fills in the connection state of its
// players.
func (m *Manager) snapshot(s *Session) Session {
	c := s.clone()
	for i := range c.Players {
		c.Players[i].IsConnected = m.conns.UserBoundTo(c.Players[i].UserID, c.ID)
	}
	return c
}

// Create allocates a lobby session with the host as its first player and
// dungeon master.
func (m *Manager) Create(host Member, opts CreateOptions) (Session, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = fmt.Sprintf("%s's table", host.DisplayName)
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return Session{}, fmt.Errorf("%w: name is longer than %d characters", ErrInvalidOptions, MaxNameLength)
	}
	maxPlayers := opts.MaxPlayers
	if maxPlayers == 0 {
		maxPlayers = m.cfg.DefaultMaxPlayers
	}
	if maxPlayers < MinMaxPlayers || maxPlayers > MaxMaxPlayers {
		return Session{}, fmt.Errorf("%w: max players must be between %d and %d", ErrInvalidOptions, MinMaxPlayers, MaxMaxPlayers)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	code, err := m.uniqueInviteCode()
	if err != nil {
		return Session{}, err
	}

	now := m.now()
	s := &Session{
		ID:         uuid.NewString(),
		InviteCode: code,
		Name:       name,
		CampaignID: opts.CampaignID,
		HostUserID: host.UserID,
		Status:     StatusLobby,
		MaxPlayers: maxPlayers,
		IsPrivate:  opts.IsPrivate,
		Players: []Player{{
			UserID:        host.UserID,
			DisplayName:   host.DisplayName,
			CharacterID:   host.CharacterID,
			CharacterName: host.CharacterName,
			IsDM:          true,
			JoinedAt:      now,
			seq:           m.nextSeq(),
		}},
		CreatedAt: now,
	}
	m.store.Put(s)

	slog.Info("Session created", logging.SessionID(s.ID), logging.UserID(host.UserID), slog.String("inviteCode", code))
	events.Publish(m.bus, events.SessionCreated{SessionID: s.ID, HostID: host.UserID})
	return m.snapshot(s), nil
}

func (m *Manager) uniqueInviteCode() (string, error) {
	for i := 0; i < inviteAttempts; i++ {
		code, err := m.newInviteCode()
		if err != nil {
			return "", err
		}
		if _, taken := m.store.ByInviteCode(code); !taken {
			return strings.ToUpper(code), nil
		}
	}
	return "", ErrInviteExhausted
}

func (m *Manager) lookup(identifier string) (*Session, bool) {
	if s, ok := m.store.Get(identifier); ok {
		return s, true
	}
	return m.store.ByInviteCode(identifier)
}

// Join adds the user to the session found by id or invite code. A user who
// is already a member resumes their record, which is also how players come
// back to an active session. The returned flag reports such a rejoin.
func (m *Manager) Join(identifier string, member Member) (Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.lookup(strings.TrimSpace(identifier))
	if !ok {
		return Session{}, false, ErrSessionNotFound
	}
	if s.Status == StatusEnded {
		return Session{}, false, ErrSessionEnded
	}

	if i := s.indexOf(member.UserID); i >= 0 {
		p := &s.Players[i]
		if member.DisplayName != "" {
			p.DisplayName = member.DisplayName
		}
		if s.Status == StatusLobby && member.CharacterID != "" {
			p.CharacterID = member.CharacterID
			p.CharacterName = member.CharacterName
		}
		slog.Info("Player rejoined the session", logging.SessionID(s.ID), logging.UserID(member.UserID))
		events.Publish(m.bus, events.PlayerJoined{SessionID: s.ID, UserID: member.UserID, Rejoin: true})
		return m.snapshot(s), true, nil
	}

	if s.Status == StatusActive {
		return Session{}, false, ErrSessionInProgress
	}
	if len(s.Players) >= s.MaxPlayers {
		return Session{}, false, fmt.Errorf("%w: %d of %d seats taken", ErrSessionFull, len(s.Players), s.MaxPlayers)
	}

	s.Players = append(s.Players, Player{
		UserID:        member.UserID,
		DisplayName:   member.DisplayName,
		CharacterID:   member.CharacterID,
		CharacterName: member.CharacterName,
		JoinedAt:      m.now(),
		seq:           m.nextSeq(),
	})

	slog.Info("Player joined the session", logging.SessionID(s.ID), logging.UserID(member.UserID))
	events.Publish(m.bus, events.PlayerJoined{SessionID: s.ID, UserID: member.UserID})
	return m.snapshot(s), false, nil
}

// Leave removes the player. A leaving host hands the role to the earliest
// joined remaining player, and an emptied session ends and is evicted. The
// returned snapshot is taken after the removal.
func (m *Manager) Leave(sessionID, userID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.store.Get(sessionID)
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	i := s.indexOf(userID)
	if i < 0 {
		return Session{}, ErrNotAMember
	}

	leaving := s.Players[i]
	s.Players = slices.Delete(s.Players, i, i+1)
	m.removeFromTurnOrder(s, userID)

	slog.Info("Player left the session", logging.SessionID(s.ID), logging.UserID(userID))
	events.Publish(m.bus, events.PlayerLeft{SessionID: s.ID, UserID: userID})

	if len(s.Players) == 0 {
		m.evict(s, "empty")
		return m.snapshot(s), nil
	}

	if s.HostUserID == userID {
		next := nextHost(s.Players)
		s.HostUserID = next.UserID
		if leaving.IsDM && s.Status == StatusLobby {
			s.Players[s.indexOf(next.UserID)].IsDM = true
			s.Players[s.indexOf(next.UserID)].IsReady = false
		}
		slog.Info("Host migrated", logging.SessionID(s.ID), logging.UserID(next.UserID))
		events.Publish(m.bus, events.HostChanged{SessionID: s.ID, NewHostID: next.UserID})
	}
	return m.snapshot(s), nil
}

// nextHost picks the player who joined earliest, breaking timestamp ties by
// join sequence.
func nextHost(players []Player) Player {
	return slices.MinFunc(players, func(a, b Player) int {
		if c := a.JoinedAt.Compare(b.JoinedAt); c != 0 {
			return c
		}
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
}

func (m *Manager) removeFromTurnOrder(s *Session, userID string) {
	i := slices.Index(s.TurnOrder, userID)
	if i < 0 {
		return
	}
	s.TurnOrder = slices.Delete(s.TurnOrder, i, i+1)
	switch {
	case len(s.TurnOrder) == 0:
		s.TurnIndex = 0
	case i < s.TurnIndex:
		s.TurnIndex--
	case s.TurnIndex >= len(s.TurnOrder):
		s.TurnIndex = 0
		s.Round++
	}
}

func (m *Manager) evict(s *Session, reason string) {
	s.Status = StatusEnded
	m.store.Delete(s.ID)

	lifetime := m.now().Sub(s.CreatedAt)
	slog.Info("Session ended", logging.SessionID(s.ID), slog.String("reason", reason), slog.Duration("lifetime", lifetime))
	events.Publish(m.bus, events.SessionEnded{SessionID: s.ID, Reason: reason, Lifetime: lifetime})
}

// SetPlayerReady toggles readiness and, when given, attaches the chosen
// character. Readiness can only change in the lobby.
func (m *Manager) SetPlayerReady(sessionID, userID string, ready bool, characterID, characterName string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.store.Get(sessionID)
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	i := s.indexOf(userID)
	if i < 0 {
		return Session{}, ErrNotAMember
	}
	if s.Status != StatusLobby {
		return Session{}, fmt.Errorf("%w: readiness can only change in the lobby", ErrWrongState)
	}

	p := &s.Players[i]
	p.IsReady = ready
	if characterID != "" {
		p.CharacterID = characterID
		p.CharacterName = characterName
	}
	return m.snapshot(s), nil
}

// Start moves the session from lobby to active and broadcasts GAME_START to
// its members. Only the host may start, and only once enough players are
// present and every player except the dungeon master is ready.
func (m *Manager) Start(sessionID, requesterID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.store.Get(sessionID)
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	if s.HostUserID != requesterID {
		return Session{}, ErrNotHost
	}
	if s.Status != StatusLobby {
		return Session{}, fmt.Errorf("%w: session is %s", ErrWrongState, s.Status)
	}
	if len(s.Players) < m.cfg.MinPlayers {
		return Session{}, fmt.Errorf("%w: need at least %d, have %d", ErrNotEnoughPlayers, m.cfg.MinPlayers, len(s.Players))
	}

	var waiting []string
	for _, p := range s.Players {
		if !p.IsDM && !p.IsReady {
			waiting = append(waiting, p.DisplayName)
		}
	}
	if len(waiting) > 0 {
		return Session{}, fmt.Errorf("%w: waiting for %s", ErrPlayersNotReady, strings.Join(waiting, ", "))
	}

	now := m.now()
	s.Status = StatusActive
	s.StartedAt = now
	s.TurnOrder = s.TurnOrder[:0]
	for _, p := range s.Players {
		if !p.IsDM {
			s.TurnOrder = append(s.TurnOrder, p.UserID)
		}
	}
	s.TurnIndex = 0
	s.Round = 1

	snap := m.snapshot(s)
	slog.Info("Session started", logging.SessionID(s.ID), slog.Int("players", len(s.Players)))
	events.Publish(m.bus, events.SessionStarted{SessionID: s.ID, Players: len(s.Players)})

	m.Broadcast(s.ID, wire.New(&wire.GameStartedPayload{
		Session:   snap.Info(),
		StartedAt: now.UnixMilli(),
	}))
	return snap, nil
}

// End closes the session on the host's request. Members receive
// SESSION_ENDED and their connections are unbound.
func (m *Manager) End(sessionID, requesterID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.store.Get(sessionID)
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	if s.HostUserID != requesterID {
		return Session{}, ErrNotHost
	}

	m.Broadcast(s.ID, wire.New(&wire.SessionEndedPayload{SessionID: s.ID, Reason: "ended by host"}))
	for _, id := range m.conns.BoundTo(s.ID) {
		m.conns.LeaveSession(id)
	}
	m.evict(s, "host")
	return s.clone(), nil
}

// EndTurn passes the turn to the next player. The current turn holder and
// the host may end a turn.
func (m *Manager) EndTurn(sessionID, userID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.store.Get(sessionID)
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	if !s.IsMember(userID) {
		return Session{}, ErrNotAMember
	}
	if s.Status != StatusActive || len(s.TurnOrder) == 0 {
		return Session{}, fmt.Errorf("%w: no turn is running", ErrWrongState)
	}
	if s.CurrentTurn() != userID && s.HostUserID != userID {
		return Session{}, ErrNotYourTurn
	}

	s.TurnIndex++
	if s.TurnIndex >= len(s.TurnOrder) {
		s.TurnIndex = 0
		s.Round++
	}
	return m.snapshot(s), nil
}

func (m *Manager) Get(sessionID string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.store.Get(sessionID)
	if !ok {
		return Session{}, false
	}
	return m.snapshot(s), true
}

// Find resolves a session id or invite code.
func (m *Manager) Find(identifier string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.lookup(identifier)
	if !ok {
		return Session{}, false
	}
	return m.snapshot(s), true
}

func (m *Manager) Count() int { return m.store.Len() }

// Broadcast sends the message to every connection bound to the session at
// the time of the call and returns how many sends were queued. A failing
// connection does not affect the others.
func (m *Manager) Broadcast(sessionID string, msg wire.Message) int {
	ids := m.conns.BoundTo(sessionID)
	delivered := 0
	for _, id := range ids {
		if m.conns.Send(id, msg) {
			delivered++
		}
	}
	metrics.MessagesBroadcasted.Inc()
	slog.Debug("Broadcast",
		logging.SessionID(sessionID),
		logging.MessageType(string(msg.Type)),
		slog.Int("recipients", len(ids)),
		slog.Int("delivered", delivered),
	)
	return delivered
}

// SendToUser delivers the message to the user's connections bound to the
// session.
func (m *Manager) SendToUser(sessionID, userID string, msg wire.Message) int {
	delivered := 0
	for _, id := range m.conns.UserBound(userID, sessionID) {
		if m.conns.Send(id, msg) {
			delivered++
		}
	}
	return delivered
}

// BroadcastPlayerList sends the current membership snapshot to the session.
func (m *Manager) BroadcastPlayerList(sessionID string) {
	s, ok := m.Get(sessionID)
	if !ok {
		return
	}
	m.Broadcast(sessionID, wire.New(s.PlayerList()))
}
