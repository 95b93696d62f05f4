package handler

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dimspell/tavern/internal/app/logger/logging"
	"github.com/dimspell/tavern/internal/events"
	"github.com/dimspell/tavern/internal/wire"
)

// Subscribe starts reacting to closed connections. The returned function
// detaches the subscription.
func (h *Handlers) Subscribe(bus *events.Bus) func() {
	return events.Subscribe(bus, h.ConnectionClosed)
}

// ConnectionClosed keeps the player's seat for the reconnect grace period
// once their last connection bound to the session is gone.
func (h *Handlers) ConnectionClosed(ev events.ConnectionClosed) {
	if ev.SessionID == "" || ev.UserID == "" {
		return
	}
	if h.conns.UserBoundTo(ev.UserID, ev.SessionID) {
		return
	}
	s, ok := h.sessions.Get(ev.SessionID)
	if !ok {
		return
	}
	player, ok := s.Player(ev.UserID)
	if !ok {
		return
	}

	h.sessions.BroadcastPlayerList(s.ID)
	h.sessions.Broadcast(s.ID, systemMessage(wire.LevelWarning, fmt.Sprintf("%s lost connection", player.DisplayName)))

	if h.reconnectGrace <= 0 {
		h.expireGrace(ev.UserID, ev.SessionID)
		return
	}

	key := seat{userID: ev.UserID, sessionID: ev.SessionID}
	h.graceMu.Lock()
	if t, ok := h.grace[key]; ok {
		t.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(h.reconnectGrace, func() {
		h.graceMu.Lock()
		current := h.grace[key] == timer
		if current {
			delete(h.grace, key)
		}
		h.graceMu.Unlock()

		if current {
			h.expireGrace(key.userID, key.sessionID)
		}
	})
	h.grace[key] = timer
	h.graceMu.Unlock()

	slog.Info("Player disconnected, holding the seat",
		logging.UserID(ev.UserID),
		logging.SessionID(ev.SessionID),
		slog.Duration("grace", h.reconnectGrace),
	)
}

func (h *Handlers) expireGrace(userID, sessionID string) {
	if h.conns.UserBoundTo(userID, sessionID) {
		return
	}
	slog.Info("Reconnect grace expired", logging.UserID(userID), logging.SessionID(sessionID))
	h.leave(sessionID, userID)
}

func (h *Handlers) cancelGrace(userID, sessionID string) {
	key := seat{userID: userID, sessionID: sessionID}

	h.graceMu.Lock()
	defer h.graceMu.Unlock()
	if t, ok := h.grace[key]; ok {
		t.Stop()
		delete(h.grace, key)
	}
}

// Close stops every pending grace timer.
func (h *Handlers) Close() {
	h.graceMu.Lock()
	defer h.graceMu.Unlock()
	for key, t := range h.grace {
		t.Stop()
		delete(h.grace, key)
	}
}

// Pending reports how many seats are being held for disconnected players.
func (h *Handlers) Pending() int {
	h.graceMu.Lock()
	defer h.graceMu.Unlock()
	return len(h.grace)
}
