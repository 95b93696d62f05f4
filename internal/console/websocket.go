package console

import (
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/dimspell/tavern/internal/app/logger/logging"
	"github.com/dimspell/tavern/internal/wire"
)

// HandleWebSocket upgrades the request and serves the connection until the
// client goes away. Authentication happens in-band with AUTHENTICATE.
func (c *Console) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: wire.Subprotocols,
	})
	if err != nil {
		slog.Error("Could not accept the connection",
			logging.Error(err),
			"origin", r.Header.Get("Origin"),
			"remoteAddr", r.RemoteAddr)
		return
	}
	defer conn.CloseNow()

	conn.SetReadLimit(wire.MaxFrameSize)

	codec := wire.CodecFor(conn.Subprotocol())
	id := c.Connections.Register(conn, codec, r.RemoteAddr)

	if err := c.Connections.Listen(r.Context(), id, c.Router.HandleFrame); err != nil {
		slog.Warn("Connection dropped", logging.ConnID(id), logging.Error(err))
	}
}
