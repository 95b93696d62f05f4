package connection

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/dimspell/tavern/internal/app/logger/logging"
	"github.com/dimspell/tavern/internal/metrics"
	"github.com/dimspell/tavern/internal/model"
	"github.com/dimspell/tavern/internal/wire"
)

var _ Transport = (*websocket.Conn)(nil)

// Transport is the message-oriented link to a single client.
type Transport interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
	CloseNow() error
}

// Info is a point-in-time copy of a connection's state.
type Info struct {
	ID            string
	RemoteAddr    string
	User          model.User
	Authenticated bool
	SessionID     string
	Codec         *wire.Codec
	ConnectedAt   time.Time
	LastHeartbeat time.Time
}

// connection is owned by the Manager. Fields below the blank line are
// guarded by Manager.mu.
type connection struct {
	id          string
	transport   Transport
	codec       *wire.Codec
	remoteAddr  string
	connectedAt time.Time
	outbox      chan []byte

	user          *model.User
	sessionID     string
	lastHeartbeat time.Time

	sendMu  sync.Mutex
	closed  bool
	discard atomic.Bool
	code    websocket.StatusCode
	reason  string
}

func (c *connection) info() Info {
	i := Info{
		ID:            c.id,
		RemoteAddr:    c.remoteAddr,
		SessionID:     c.sessionID,
		Codec:         c.codec,
		ConnectedAt:   c.connectedAt,
		LastHeartbeat: c.lastHeartbeat,
	}
	if c.user != nil {
		i.User = *c.user
		i.Authenticated = true
	}
	return i
}

// enqueue hands the frame to the writer without blocking. A full queue drops
// the frame.
func (c *connection) enqueue(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		metrics.FailedMessageSends.WithLabelValues("closed").Inc()
		return false
	}
	select {
	case c.outbox <- data:
		return true
	default:
		slog.Warn("Send queue is full, dropping frame", logging.ConnID(c.id))
		metrics.FailedMessageSends.WithLabelValues("queue_full").Inc()
		return false
	}
}

// shutdown stops accepting frames. Queued frames are still written unless
// flush is false, then the transport is closed by the writer.
func (c *connection) shutdown(code websocket.StatusCode, reason string, flush bool) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.code = code
	c.reason = reason
	c.discard.Store(!flush)
	close(c.outbox)
}

func (c *connection) writeLoop(timeout time.Duration) {
	for data := range c.outbox {
		if c.discard.Load() {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := c.transport.Write(ctx, c.codec.Frame, data)
		cancel()

		if err != nil {
			slog.Warn("Could not send a WS message", logging.ConnID(c.id), logging.Error(err))
			metrics.FailedMessageSends.WithLabelValues("write_error").Inc()
			continue
		}
		metrics.MessagesSent.Inc()
	}

	var err error
	if c.discard.Load() {
		err = c.transport.CloseNow()
	} else {
		err = c.transport.Close(c.code, c.reason)
	}
	if err != nil {
		slog.Debug("Could not close the connection", logging.ConnID(c.id), logging.Error(err))
	}
}
