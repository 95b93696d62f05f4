package console

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/dimspell/tavern/internal/app/logger"
	"github.com/dimspell/tavern/internal/auth"
	"github.com/dimspell/tavern/internal/client"
	"github.com/dimspell/tavern/internal/connection"
	"github.com/dimspell/tavern/internal/database"
	"github.com/dimspell/tavern/internal/directory"
	"github.com/dimspell/tavern/internal/events"
	"github.com/dimspell/tavern/internal/handler"
	"github.com/dimspell/tavern/internal/model"
	"github.com/dimspell/tavern/internal/router"
	"github.com/dimspell/tavern/internal/session"
	"github.com/dimspell/tavern/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	logger.Discard()
	goleak.VerifyTestMain(m)
}

type stack struct {
	console *Console
	users   *directory.SQLite
	server  *httptest.Server
}

func newStack(t *testing.T, opts ...Option) *stack {
	t.Helper()

	auth.HashCost = 4
	t.Cleanup(func() { auth.HashCost = 12 })

	db, err := database.NewMemory()
	require.NoError(t, err)

	bus := events.NewBus()
	conns := connection.NewManager(connection.WithBus(bus))
	sessions := session.NewManager(conns, session.WithBus(bus))
	users := directory.NewSQLite(db)
	tokens := auth.NewTokens("console-test", time.Hour)

	handlers := handler.New(conns, sessions, tokens, users)
	r := router.New(conns)
	handlers.Register(r)

	c := NewConsole(db, users, tokens, conns, r, opts...)
	ts := httptest.NewServer(c.HttpRouter())

	t.Cleanup(func() {
		conns.Close()
		ts.Close()
		handlers.Close()
		_ = bus.Close()
		_ = db.Close()
	})

	return &stack{console: c, users: users, server: ts}
}

func (s *stack) get(t *testing.T, path string) (int, []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.server.URL+path, nil)
	require.NoError(t, err)
	res, err := s.server.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, body
}

func (s *stack) token(t *testing.T, username, password string) (int, tokenResponse) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()

	body, err := json.Marshal(tokenRequest{Username: username, Password: password})
	require.NoError(t, err)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.server.URL+tokenPath, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	res, err := s.server.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	var out tokenResponse
	if res.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	}
	return res.StatusCode, out
}

type wsClient struct {
	*client.Client
	t *testing.T
}

func (s *stack) dial(t *testing.T, subprotocol string) *wsClient {
	t.Helper()
	c, err := client.Dial(t.Context(), s.server.URL+websocketPath, subprotocol)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.CloseNow() })
	return &wsClient{Client: c, t: t}
}

func (c *wsClient) send(p wire.Payload) {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(c.t.Context(), time.Second)
	defer cancel()
	require.NoError(c.t, c.Send(ctx, p))
}

func (c *wsClient) read() wire.Message {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(c.t.Context(), 2*time.Second)
	defer cancel()

	msg, err := c.Receive(ctx)
	require.NoError(c.t, err)
	return msg
}

func TestConsole_Health(t *testing.T) {
	s := newStack(t)

	status, body := s.get(t, "/_health")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"OK","connections":0}`, string(body))

	status, _ = s.get(t, "/_metrics")
	assert.Equal(t, http.StatusOK, status)
}

func TestConsole_HealthFailsWithoutDatabase(t *testing.T) {
	s := newStack(t)
	require.NoError(t, s.console.DB.Close())

	status, body := s.get(t, "/_health")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Contains(t, string(body), `"component":"database"`)
}

func TestConsole_WellKnown(t *testing.T) {
	s := newStack(t,
		WithVersion("2.13.7"),
		WithConsoleAddr("127.0.0.1:2137", "https://tavern.example.com"),
	)

	status, body := s.get(t, "/.well-known/tavern.json")
	require.Equal(t, http.StatusOK, status)

	var wellKnown model.WellKnown
	require.NoError(t, json.Unmarshal(body, &wellKnown))

	assert.Equal(t, "127.0.0.1:2137", s.console.Config.ConsoleBindAddr)
	assert.Equal(t, "2.13.7", wellKnown.Version)
	assert.Equal(t, "https://tavern.example.com", wellKnown.Addr)
	assert.Equal(t, "/ws", wellKnown.WebsocketPath)
	assert.Equal(t, wire.Subprotocols, wellKnown.Subprotocols)
	assert.Equal(t, "/auth/token", wellKnown.TokenPath)
}

func TestConsole_Options(t *testing.T) {
	assert.Panics(t, func() {
		NewConsole(nil, nil, nil, nil, nil, WithConsoleAddr("no-port", ""))
	})
	assert.Panics(t, func() {
		NewConsole(nil, nil, nil, nil, nil, WithCORSAllowedOrigins(nil))
	})
}

func TestConsole_IssueToken(t *testing.T) {
	s := newStack(t)
	alice, err := s.users.Register(t.Context(), "alice", "Alice", "hunter2")
	require.NoError(t, err)

	status, res := s.token(t, "alice", "hunter2")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, alice.ID, res.UserID)
	assert.Equal(t, "Alice", res.DisplayName)

	userID, err := s.console.Tokens.Verify(res.Token)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, userID)

	status, _ = s.token(t, "alice", "wrong")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = s.token(t, "nobody", "hunter2")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestConsole_WebSocket(t *testing.T) {
	for _, subprotocol := range wire.Subprotocols {
		t.Run(subprotocol, func(t *testing.T) {
			s := newStack(t)
			_, err := s.users.Register(t.Context(), "alice", "Alice", "hunter2")
			require.NoError(t, err)
			_, login := s.token(t, "alice", "hunter2")

			c := s.dial(t, subprotocol)
			assert.Equal(t, subprotocol, c.Subprotocol())

			c.send(&wire.ChatMessageRequest{Content: "too early"})
			msg := c.read()
			require.Equal(t, wire.Error, msg.Type)
			assert.Equal(t, wire.CodeAuthRequired, msg.Payload.(*wire.ErrorPayload).Code)

			ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
			defer cancel()
			authed, err := c.Authenticate(ctx, login.Token)
			require.NoError(t, err)
			assert.Equal(t, login.UserID, authed.UserID)
			assert.Equal(t, "Alice", authed.DisplayName)

			c.send(&wire.CreateSessionRequest{Name: "Dragon's Lair"})
			msg = c.read()
			require.Equal(t, wire.SessionCreated, msg.Type)
			created := msg.Payload.(*wire.SessionCreatedPayload)
			assert.Len(t, created.Session.InviteCode, 6)
			assert.Equal(t, wire.PlayerList, c.read().Type)

			require.Eventually(t, func() bool {
				_, body := s.get(t, "/_health")
				return strings.Contains(string(body), `"connections":1`)
			}, time.Second, 10*time.Millisecond)

			require.NoError(t, c.Close())
			require.Eventually(t, func() bool {
				return s.console.Connections.Count() == 0
			}, 2*time.Second, 10*time.Millisecond)
		})
	}
}

func TestConsole_WebSocketsAreNotThrottled(t *testing.T) {
	s := newStack(t)

	const sockets = 120
	for i := range sockets {
		c, err := client.Dial(t.Context(), s.server.URL+websocketPath, wire.SubprotocolJSON)
		require.NoError(t, err, "dial #%d", i+1)
		t.Cleanup(func() { _ = c.CloseNow() })
	}

	require.Eventually(t, func() bool {
		return s.console.Connections.Count() == sockets
	}, 2*time.Second, 10*time.Millisecond)

	status, _ := s.get(t, "/_health")
	assert.Equal(t, http.StatusOK, status)
}

func TestConsole_WebSocketMalformedFrame(t *testing.T) {
	s := newStack(t)
	c := s.dial(t, wire.SubprotocolJSON)

	ctx, cancel := context.WithTimeout(t.Context(), time.Second)
	defer cancel()
	require.NoError(t, c.WriteRaw(ctx, []byte("{not json")))

	msg := c.read()
	require.Equal(t, wire.Error, msg.Type)
	assert.Equal(t, wire.CodeProtocolError, msg.Payload.(*wire.ErrorPayload).Code)

	// The connection survives a protocol error.
	_, err := c.Ping(ctx)
	require.NoError(t, err)

	_, err = c.Authenticate(ctx, "not-a-token")
	var serverErr *client.ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, wire.AuthError, serverErr.Kind)
	assert.Equal(t, wire.CodeInvalidToken, serverErr.Code)
}

func TestConsole_Graceful(t *testing.T) {
	s := newStack(t)
	c := s.dial(t, wire.SubprotocolJSON)

	ctx, cancel := context.WithCancel(t.Context())
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.console.Graceful(ctx,
			func(ctx context.Context) error {
				close(started)
				<-ctx.Done()
				return http.ErrServerClosed
			},
			func(ctx context.Context) error {
				s.console.Connections.Close()
				return nil
			},
		)
	}()

	<-started
	cancel()
	require.NoError(t, <-done)

	readCtx, readCancel := context.WithTimeout(t.Context(), time.Second)
	defer readCancel()
	_, err := c.Receive(readCtx)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err), fmt.Sprint(err))
}
