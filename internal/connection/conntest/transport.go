// Package conntest provides an in-memory Transport for tests of code built on
// the connection manager.
package conntest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/dimspell/tavern/internal/connection"
	"github.com/dimspell/tavern/internal/wire"
	"github.com/stretchr/testify/require"
)

// Transport records written frames and replays frames pushed with Push.
type Transport struct {
	inbox  chan []byte
	closed chan struct{}
	once   sync.Once

	mu        sync.Mutex
	frames    [][]byte
	writeErr  error
	closeCode websocket.StatusCode
	writeHook func()
}

func NewTransport() *Transport {
	return &Transport{
		inbox:  make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (t *Transport) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	case <-t.closed:
		return 0, nil, connection.ErrClosed
	case data := <-t.inbox:
		return websocket.MessageText, data, nil
	}
}

func (t *Transport) Write(ctx context.Context, _ websocket.MessageType, p []byte) error {
	t.mu.Lock()
	err := t.writeErr
	hook := t.writeHook
	if err == nil {
		t.frames = append(t.frames, append([]byte(nil), p...))
	}
	t.mu.Unlock()

	if hook != nil {
		hook()
	}
	return err
}

func (t *Transport) Close(code websocket.StatusCode, _ string) error {
	t.mu.Lock()
	t.closeCode = code
	t.mu.Unlock()
	t.once.Do(func() { close(t.closed) })
	return nil
}

func (t *Transport) CloseNow() error {
	return t.Close(websocket.StatusAbnormalClosure, "")
}

// Push queues a frame to be returned by Read.
func (t *Transport) Push(data []byte) { t.inbox <- data }

// FailWrites makes every following Write return err.
func (t *Transport) FailWrites(err error) {
	t.mu.Lock()
	t.writeErr = err
	t.mu.Unlock()
}

// BlockWrites makes Write wait on release, simulating a slow client.
func (t *Transport) BlockWrites(release <-chan struct{}) {
	t.mu.Lock()
	t.writeHook = func() { <-release }
	t.mu.Unlock()
}

func (t *Transport) Closed() <-chan struct{} { return t.closed }

func (t *Transport) CloseCode() websocket.StatusCode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCode
}

// Frames returns the raw frames written so far.
func (t *Transport) Frames() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.frames...)
}

// Messages decodes the frames written so far.
func (t *Transport) Messages(tb testing.TB) []wire.Message {
	tb.Helper()
	var out []wire.Message
	for _, data := range t.Frames() {
		msg, err := wire.JSON.DecodeServer(data)
		require.NoError(tb, err)
		out = append(out, msg)
	}
	return out
}

// Reset forgets the recorded frames.
func (t *Transport) Reset() {
	t.mu.Lock()
	t.frames = nil
	t.mu.Unlock()
}

func (t *Transport) drop(n int) {
	t.mu.Lock()
	t.frames = t.frames[n:]
	t.mu.Unlock()
}

// Collect waits until every frame queued for the connection so far has been
// written, then returns the decoded messages and forgets them. It works by
// queueing a marker PONG behind them.
func Collect(tb testing.TB, m *connection.Manager, id string, t *Transport) []wire.Message {
	tb.Helper()

	marker := time.Now().UnixNano()
	require.True(tb, m.Send(id, wire.New(&wire.PongPayload{ServerTime: marker})))

	var out []wire.Message
	require.Eventually(tb, func() bool {
		msgs := t.Messages(tb)
		for i, msg := range msgs {
			if p, ok := msg.Payload.(*wire.PongPayload); ok && p.ServerTime == marker {
				out = msgs[:i]
				t.drop(i + 1)
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	return out
}

// Types lists the types of the messages.
func Types(msgs []wire.Message) []wire.Type {
	out := make([]wire.Type, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Type)
	}
	return out
}

// Find returns the payload of the first message of type T.
func Find[T wire.Payload](msgs []wire.Message) (T, bool) {
	for _, m := range msgs {
		if p, ok := m.Payload.(T); ok {
			return p, true
		}
	}
	var zero T
	return zero, false
}
