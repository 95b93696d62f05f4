// Package client speaks the websocket protocol from the player's side. It is
// used by the healthcheck command and by end-to-end tests.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"time"

	"github.com/coder/websocket"
	"github.com/dimspell/tavern/internal/wire"
)

// ServerError is an ERROR, AUTH_ERROR or SESSION_ERROR frame received in
// reply to a request.
type ServerError struct {
	Kind    wire.Type
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Kind, e.Code, e.Message)
}

type Client struct {
	conn  *websocket.Conn
	codec *wire.Codec
}

// Dial connects to the websocket endpoint. The codec follows the subprotocol
// the server agreed to.
func Dial(ctx context.Context, wsURL string, subprotocol string) (*Client, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	slog.Debug("Connecting to the server", "url", u.String(), "subprotocol", subprotocol)

	// Give 5 seconds to establish WebSocket connection.
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(dialCtx, u.String(), &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
	})
	if err != nil {
		return nil, err
	}
	ws.SetReadLimit(wire.MaxFrameSize)

	return &Client{conn: ws, codec: wire.CodecFor(ws.Subprotocol())}, nil
}

// Subprotocol returns the subprotocol the server agreed to.
func (c *Client) Subprotocol() string { return c.conn.Subprotocol() }

// Write sends a frame as is, so callers can set a correlation id.
func (c *Client) Write(ctx context.Context, msg wire.Message) error {
	data, err := c.codec.Encode(msg)
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, c.codec.Frame, data)
}

// WriteRaw sends bytes without encoding them.
func (c *Client) WriteRaw(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, c.codec.Frame, data)
}

func (c *Client) Send(ctx context.Context, p wire.Payload) error {
	return c.Write(ctx, wire.New(p))
}

// Receive blocks until the next frame arrives.
func (c *Client) Receive(ctx context.Context) (wire.Message, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return wire.Message{}, err
	}
	return c.codec.DecodeServer(data)
}

// Expect reads frames until one of the wanted type arrives. Error frames are
// returned as *ServerError.
func (c *Client) Expect(ctx context.Context, want wire.Type) (wire.Message, error) {
	for {
		msg, err := c.Receive(ctx)
		if err != nil {
			return wire.Message{}, err
		}
		if msg.Type == want {
			return msg, nil
		}
		if p, ok := msg.Payload.(*wire.ErrorPayload); ok {
			return wire.Message{}, &ServerError{Kind: msg.Type, Code: p.Code, Message: p.Message}
		}
	}
}

func (c *Client) Authenticate(ctx context.Context, token string) (*wire.AuthenticatedPayload, error) {
	if err := c.Send(ctx, &wire.AuthenticateRequest{Token: token}); err != nil {
		return nil, err
	}
	msg, err := c.Expect(ctx, wire.Authenticated)
	if err != nil {
		return nil, err
	}
	return msg.Payload.(*wire.AuthenticatedPayload), nil
}

// Ping measures the round trip to the server.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := c.Send(ctx, &wire.PingRequest{}); err != nil {
		return 0, err
	}
	if _, err := c.Expect(ctx, wire.Pong); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// Close says goodbye to the server. A connection the server already closed
// is not an error.
func (c *Client) Close() error {
	err := c.conn.Close(websocket.StatusNormalClosure, "")
	if err == nil || errors.Is(err, net.ErrClosed) || websocket.CloseStatus(err) != -1 {
		return nil
	}
	return err
}

// CloseNow drops the connection without the closing handshake.
func (c *Client) CloseNow() error { return c.conn.CloseNow() }
