package session_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dimspell/tavern/internal/connection"
	"github.com/dimspell/tavern/internal/connection/conntest"
	"github.com/dimspell/tavern/internal/model"
	"github.com/dimspell/tavern/internal/session"
	"github.com/dimspell/tavern/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type client struct {
	id        string
	transport *conntest.Transport
	user      model.User
}

type fixture struct {
	conns    *connection.Manager
	sessions *session.Manager
}

func newFixture(t *testing.T, opts ...session.Option) *fixture {
	t.Helper()
	conns := connection.NewManager()
	t.Cleanup(conns.Close)
	return &fixture{
		conns:    conns,
		sessions: session.NewManager(conns, opts...),
	}
}

func (f *fixture) connect(t *testing.T, userID, name string) *client {
	t.Helper()
	tr := conntest.NewTransport()
	c := &client{
		id:        f.conns.Register(tr, wire.JSON, ""),
		transport: tr,
		user:      model.User{ID: userID, Username: name, DisplayName: name},
	}
	require.NoError(t, f.conns.Authenticate(c.id, c.user))
	return c
}

func (c *client) member() session.Member {
	return session.Member{UserID: c.user.ID, DisplayName: c.user.DisplayName}
}

func (f *fixture) collect(t *testing.T, c *client) []wire.Message {
	t.Helper()
	return conntest.Collect(t, f.conns, c.id, c.transport)
}

func fixedCodes(codes ...string) session.Option {
	var mu sync.Mutex
	return session.WithInviteCodes(func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(codes) == 0 {
			return "", errors.New("out of codes")
		}
		code := codes[0]
		if len(codes) > 1 {
			codes = codes[1:]
		}
		return code, nil
	})
}

func TestManager_Create(t *testing.T) {
	f := newFixture(t)
	host := f.connect(t, "u1", "Alice")

	s, err := f.sessions.Create(host.member(), session.CreateOptions{MaxPlayers: 4})
	require.NoError(t, err)

	assert.Equal(t, session.StatusLobby, s.Status)
	assert.Equal(t, "Alice's table", s.Name)
	assert.Equal(t, "u1", s.HostUserID)
	assert.Len(t, s.InviteCode, 6)
	require.Len(t, s.Players, 1)
	assert.True(t, s.Players[0].IsDM)

	byCode, ok := f.sessions.Find(s.InviteCode)
	require.True(t, ok)
	assert.Equal(t, s.ID, byCode.ID)
}

func TestManager_CreateOptions(t *testing.T) {
	f := newFixture(t)
	host := session.Member{UserID: "u1", DisplayName: "Alice"}

	s, err := f.sessions.Create(host, session.CreateOptions{})
	require.NoError(t, err)
	assert.Equal(t, session.DefaultConfig().DefaultMaxPlayers, s.MaxPlayers)

	for _, opts := range []session.CreateOptions{
		{MaxPlayers: 1},
		{MaxPlayers: 13},
		{Name: string(make([]rune, 101))},
	} {
		_, err := f.sessions.Create(host, opts)
		require.ErrorIs(t, err, session.ErrInvalidOptions)
	}
}

func TestManager_InviteCodeCollision(t *testing.T) {
	f := newFixture(t, fixedCodes("AAAAAA", "AAAAAA", "BBBBBB"))
	host := session.Member{UserID: "u1", DisplayName: "Alice"}

	first, err := f.sessions.Create(host, session.CreateOptions{})
	require.NoError(t, err)
	second, err := f.sessions.Create(host, session.CreateOptions{})
	require.NoError(t, err)

	assert.Equal(t, "AAAAAA", first.InviteCode)
	assert.Equal(t, "BBBBBB", second.InviteCode)

	// Codes are matched case-insensitively.
	found, ok := f.sessions.Find("bbbbbb")
	require.True(t, ok)
	assert.Equal(t, second.ID, found.ID)
}

func TestManager_JoinFull(t *testing.T) {
	f := newFixture(t)
	s, err := f.sessions.Create(session.Member{UserID: "u1", DisplayName: "A"}, session.CreateOptions{MaxPlayers: 2})
	require.NoError(t, err)

	_, _, err = f.sessions.Join(s.InviteCode, session.Member{UserID: "u2", DisplayName: "B"})
	require.NoError(t, err)

	_, _, err = f.sessions.Join(s.ID, session.Member{UserID: "u3", DisplayName: "C"})
	require.ErrorIs(t, err, session.ErrSessionFull)
	assert.Equal(t, wire.CodeSessionFull, session.Code(err))

	after, ok := f.sessions.Get(s.ID)
	require.True(t, ok)
	assert.Len(t, after.Players, 2)
}

func TestManager_JoinErrors(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.sessions.Join("NOPE00", session.Member{UserID: "u9"})
	require.ErrorIs(t, err, session.ErrSessionNotFound)

	s, err := f.sessions.Create(session.Member{UserID: "u1", DisplayName: "A"}, session.CreateOptions{})
	require.NoError(t, err)
	_, _, err = f.sessions.Join(s.ID, session.Member{UserID: "u2", DisplayName: "B"})
	require.NoError(t, err)
	_, err = f.sessions.SetPlayerReady(s.ID, "u2", true, "", "")
	require.NoError(t, err)
	_, err = f.sessions.Start(s.ID, "u1")
	require.NoError(t, err)

	_, _, err = f.sessions.Join(s.ID, session.Member{UserID: "u3", DisplayName: "C"})
	require.ErrorIs(t, err, session.ErrSessionInProgress)

	// A member may come back to an active session.
	resumed, rejoin, err := f.sessions.Join(s.InviteCode, session.Member{UserID: "u2", DisplayName: "B"})
	require.NoError(t, err)
	assert.True(t, rejoin)
	assert.Len(t, resumed.Players, 2)
	p, _ := resumed.Player("u2")
	assert.True(t, p.IsReady)
}

func TestManager_JoinTwiceKeepsOneRecord(t *testing.T) {
	f := newFixture(t)
	s, err := f.sessions.Create(session.Member{UserID: "u1", DisplayName: "A"}, session.CreateOptions{})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, _, err = f.sessions.Join(s.ID, session.Member{UserID: "u2", DisplayName: "B"})
		require.NoError(t, err)
	}
	after, _ := f.sessions.Get(s.ID)
	assert.Len(t, after.Players, 2)
}

func TestManager_Broadcast(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "u1", "A")
	b := f.connect(t, "u2", "B")
	other := f.connect(t, "u3", "C")
	idle := f.connect(t, "u4", "D")

	s, err := f.sessions.Create(a.member(), session.CreateOptions{})
	require.NoError(t, err)
	_, _, err = f.sessions.Join(s.ID, b.member())
	require.NoError(t, err)
	elsewhere, err := f.sessions.Create(other.member(), session.CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, f.conns.JoinSession(a.id, s.ID))
	require.NoError(t, f.conns.JoinSession(b.id, s.ID))
	require.NoError(t, f.conns.JoinSession(other.id, elsewhere.ID))

	n := f.sessions.Broadcast(s.ID, wire.New(&wire.SystemMessagePayload{Level: wire.LevelInfo, Message: "hi"}))
	assert.Equal(t, 2, n)

	for _, c := range []*client{a, b} {
		assert.Equal(t, []wire.Type{wire.SystemMessage}, conntest.Types(f.collect(t, c)))
	}
	for _, c := range []*client{other, idle} {
		assert.Empty(t, f.collect(t, c))
	}
}

func TestManager_BroadcastSurvivesBrokenConnection(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "u1", "A")
	b := f.connect(t, "u2", "B")
	b.transport.FailWrites(errors.New("reset by peer"))

	s, err := f.sessions.Create(a.member(), session.CreateOptions{})
	require.NoError(t, err)
	_, _, err = f.sessions.Join(s.ID, b.member())
	require.NoError(t, err)
	require.NoError(t, f.conns.JoinSession(b.id, s.ID))
	require.NoError(t, f.conns.JoinSession(a.id, s.ID))

	f.sessions.Broadcast(s.ID, wire.New(&wire.SystemMessagePayload{Message: "still here"}))
	assert.Equal(t, []wire.Type{wire.SystemMessage}, conntest.Types(f.collect(t, a)))
}

func TestManager_StartGuards(t *testing.T) {
	f := newFixture(t)
	s, err := f.sessions.Create(session.Member{UserID: "u1", DisplayName: "A"}, session.CreateOptions{})
	require.NoError(t, err)

	_, err = f.sessions.Start(s.ID, "u1")
	require.ErrorIs(t, err, session.ErrNotEnoughPlayers)

	_, _, err = f.sessions.Join(s.ID, session.Member{UserID: "u2", DisplayName: "Bob"})
	require.NoError(t, err)
	_, _, err = f.sessions.Join(s.ID, session.Member{UserID: "u3", DisplayName: "Cat"})
	require.NoError(t, err)

	_, err = f.sessions.Start(s.ID, "u2")
	require.ErrorIs(t, err, session.ErrNotHost)

	_, err = f.sessions.SetPlayerReady(s.ID, "u2", true, "c2", "Thorin")
	require.NoError(t, err)

	_, err = f.sessions.Start(s.ID, "u1")
	require.ErrorIs(t, err, session.ErrPlayersNotReady)
	assert.Contains(t, err.Error(), "Cat")
	assert.NotContains(t, err.Error(), "Bob")

	_, err = f.sessions.SetPlayerReady(s.ID, "u3", true, "", "")
	require.NoError(t, err)

	started, err := f.sessions.Start(s.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusActive, started.Status)
	assert.Equal(t, []string{"u2", "u3"}, started.TurnOrder)
	assert.Equal(t, "u2", started.CurrentTurn())
	assert.Equal(t, 1, started.Round)

	_, err = f.sessions.Start(s.ID, "u1")
	require.ErrorIs(t, err, session.ErrWrongState)

	_, err = f.sessions.SetPlayerReady(s.ID, "u2", false, "", "")
	require.ErrorIs(t, err, session.ErrWrongState)
}

func TestManager_HostMigration(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	f := newFixture(t, session.WithClock(func() time.Time { return now }))

	s, err := f.sessions.Create(session.Member{UserID: "host", DisplayName: "H"}, session.CreateOptions{})
	require.NoError(t, err)

	// Same join timestamp: the join order breaks the tie.
	_, _, err = f.sessions.Join(s.ID, session.Member{UserID: "second", DisplayName: "S"})
	require.NoError(t, err)
	_, _, err = f.sessions.Join(s.ID, session.Member{UserID: "third", DisplayName: "T"})
	require.NoError(t, err)

	after, err := f.sessions.Leave(s.ID, "host")
	require.NoError(t, err)
	assert.Equal(t, "second", after.HostUserID)
	assert.Equal(t, session.StatusLobby, after.Status)
	p, _ := after.Player("second")
	assert.True(t, p.IsDM)

	_, err = f.sessions.Leave(s.ID, "host")
	require.ErrorIs(t, err, session.ErrNotAMember)
}

func TestManager_HostMigrationEarliestJoin(t *testing.T) {
	var mu sync.Mutex
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
	f := newFixture(t, session.WithClock(clock))

	s, err := f.sessions.Create(session.Member{UserID: "host", DisplayName: "H"}, session.CreateOptions{})
	require.NoError(t, err)
	for _, id := range []string{"p1", "p2", "p3"} {
		_, _, err = f.sessions.Join(s.ID, session.Member{UserID: id, DisplayName: id})
		require.NoError(t, err)
	}
	_, err = f.sessions.Leave(s.ID, "p1")
	require.NoError(t, err)

	after, err := f.sessions.Leave(s.ID, "host")
	require.NoError(t, err)
	assert.Equal(t, "p2", after.HostUserID)
}

func TestManager_LastPlayerEndsSession(t *testing.T) {
	f := newFixture(t)
	s, err := f.sessions.Create(session.Member{UserID: "u1", DisplayName: "A"}, session.CreateOptions{})
	require.NoError(t, err)

	after, err := f.sessions.Leave(s.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusEnded, after.Status)

	_, ok := f.sessions.Get(s.ID)
	assert.False(t, ok)
	_, ok = f.sessions.Find(s.InviteCode)
	assert.False(t, ok)
	assert.Equal(t, 0, f.sessions.Count())
}

func TestManager_EndTurn(t *testing.T) {
	f := newFixture(t)
	s, err := f.sessions.Create(session.Member{UserID: "dm", DisplayName: "DM"}, session.CreateOptions{})
	require.NoError(t, err)
	for _, id := range []string{"p1", "p2"} {
		_, _, err = f.sessions.Join(s.ID, session.Member{UserID: id, DisplayName: id})
		require.NoError(t, err)
		_, err = f.sessions.SetPlayerReady(s.ID, id, true, "", "")
		require.NoError(t, err)
	}

	_, err = f.sessions.EndTurn(s.ID, "p1")
	require.ErrorIs(t, err, session.ErrWrongState)

	_, err = f.sessions.Start(s.ID, "dm")
	require.NoError(t, err)

	_, err = f.sessions.EndTurn(s.ID, "p2")
	require.ErrorIs(t, err, session.ErrNotYourTurn)

	next, err := f.sessions.EndTurn(s.ID, "p1")
	require.NoError(t, err)
	assert.Equal(t, "p2", next.CurrentTurn())
	assert.Equal(t, 1, next.Round)

	// The host may always pass the turn on.
	next, err = f.sessions.EndTurn(s.ID, "dm")
	require.NoError(t, err)
	assert.Equal(t, "p1", next.CurrentTurn())
	assert.Equal(t, 2, next.Round)

	// Removing the current holder hands the turn to the next player.
	after, err := f.sessions.Leave(s.ID, "p1")
	require.NoError(t, err)
	assert.Equal(t, "p2", after.CurrentTurn())
}

func TestManager_End(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "u1", "A")
	b := f.connect(t, "u2", "B")

	s, err := f.sessions.Create(a.member(), session.CreateOptions{})
	require.NoError(t, err)
	_, _, err = f.sessions.Join(s.ID, b.member())
	require.NoError(t, err)
	require.NoError(t, f.conns.JoinSession(a.id, s.ID))
	require.NoError(t, f.conns.JoinSession(b.id, s.ID))

	_, err = f.sessions.End(s.ID, "u2")
	require.ErrorIs(t, err, session.ErrNotHost)

	_, err = f.sessions.End(s.ID, "u1")
	require.NoError(t, err)

	for _, c := range []*client{a, b} {
		msgs := f.collect(t, c)
		assert.Equal(t, []wire.Type{wire.SessionEnded}, conntest.Types(msgs))
		info, _ := f.conns.Get(c.id)
		assert.Empty(t, info.SessionID)
	}
	_, ok := f.sessions.Get(s.ID)
	assert.False(t, ok)
}

func TestManager_IsConnectedIsDerived(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "u1", "A")

	s, err := f.sessions.Create(a.member(), session.CreateOptions{})
	require.NoError(t, err)
	p, _ := s.Player("u1")
	assert.False(t, p.IsConnected)

	require.NoError(t, f.conns.JoinSession(a.id, s.ID))
	s, _ = f.sessions.Get(s.ID)
	p, _ = s.Player("u1")
	assert.True(t, p.IsConnected)
}

func TestManager_ConcurrentJoinsNeverOverfill(t *testing.T) {
	f := newFixture(t)
	s, err := f.sessions.Create(session.Member{UserID: "host", DisplayName: "H"}, session.CreateOptions{MaxPlayers: 5})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, _ = f.sessions.Join(s.ID, session.Member{UserID: string(rune('a' + i)), DisplayName: "x"})
		}(i)
	}
	wg.Wait()

	after, _ := f.sessions.Get(s.ID)
	assert.Len(t, after.Players, 5)
}
