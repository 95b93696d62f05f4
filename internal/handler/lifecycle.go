package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dimspell/tavern/internal/app/logger/logging"
	"github.com/dimspell/tavern/internal/connection"
	"github.com/dimspell/tavern/internal/events"
	"github.com/dimspell/tavern/internal/router"
	"github.com/dimspell/tavern/internal/session"
	"github.com/dimspell/tavern/internal/wire"
)

func (h *Handlers) CreateSession(_ context.Context, req router.Request) error {
	p := req.Message.Payload.(*wire.CreateSessionRequest)

	s, err := h.sessions.Create(session.Member{
		UserID:        req.Conn.User.ID,
		DisplayName:   req.Conn.User.Name(),
		CharacterID:   p.CharacterID,
		CharacterName: p.CharacterName,
	}, session.CreateOptions{
		Name:       p.Name,
		CampaignID: p.CampaignID,
		MaxPlayers: p.MaxPlayers,
		IsPrivate:  p.IsPrivate,
	})
	if err != nil {
		return sessionError(err)
	}

	h.detach(req.Conn)
	if err := h.bind(req.Conn.ID, s.ID); err != nil {
		return err
	}

	s, _ = h.sessions.Get(s.ID)
	h.conns.Send(req.Conn.ID, req.Reply(&wire.SessionCreatedPayload{Session: s.Info()}))
	h.sessions.BroadcastPlayerList(s.ID)
	return nil
}

func (h *Handlers) JoinSession(_ context.Context, req router.Request) error {
	p := req.Message.Payload.(*wire.JoinSessionRequest)
	user := req.Conn.User

	// A held seat must not expire while its player is coming back to it.
	if found, ok := h.sessions.Find(p.Identifier()); ok && found.IsMember(user.ID) {
		h.cancelGrace(user.ID, found.ID)
	}

	s, rejoin, err := h.sessions.Join(p.Identifier(), session.Member{
		UserID:        user.ID,
		DisplayName:   user.Name(),
		CharacterID:   p.CharacterID,
		CharacterName: p.CharacterName,
	})
	if err != nil {
		return sessionError(err)
	}
	if h.afterJoin != nil {
		h.afterJoin()
	}

	present := h.conns.UserBoundTo(user.ID, s.ID)
	if req.Conn.SessionID != s.ID {
		h.detach(req.Conn)
	}
	if err := h.bind(req.Conn.ID, s.ID); err != nil {
		return err
	}

	current, ok := h.sessions.Get(s.ID)
	if !ok || !current.IsMember(user.ID) {
		h.conns.LeaveSession(req.Conn.ID)
		if !ok {
			return router.SessionFail(wire.CodeSessionNotFound, "the session closed while you were joining")
		}
		return router.SessionFail(wire.CodeNotAMember, "your seat was released, join again")
	}
	if !h.conns.UserBoundTo(user.ID, s.ID) {
		// The connection went away before it was bound.
		h.ConnectionClosed(events.ConnectionClosed{UserID: user.ID, SessionID: s.ID})
		return nil
	}

	h.conns.Send(req.Conn.ID, req.Reply(&wire.SessionJoinedPayload{Session: current.Info()}))
	h.sessions.BroadcastPlayerList(s.ID)
	if rejoin && !present {
		h.sessions.Broadcast(s.ID, systemMessage(wire.LevelInfo, fmt.Sprintf("%s is back", user.Name())))
	}
	return nil
}

func (h *Handlers) LeaveSession(_ context.Context, req router.Request) error {
	if req.Conn.SessionID == "" {
		return router.SessionFail(wire.CodeNotInSession, "you are not in a session")
	}
	sessionID := req.Conn.SessionID
	userID := req.Conn.User.ID

	// Leaving is per user, so every connection of the user goes with it.
	for _, id := range h.conns.UserBound(userID, sessionID) {
		h.conns.LeaveSession(id)
		h.conns.Send(id, wire.Reply(req.Message, &wire.SessionLeftPayload{SessionID: sessionID}))
	}
	h.cancelGrace(userID, sessionID)
	h.leave(sessionID, userID)
	return nil
}

func (h *Handlers) EndSession(_ context.Context, req router.Request) error {
	s, _, err := h.membership(req)
	if err != nil {
		return err
	}
	if _, err := h.sessions.End(s.ID, req.Conn.User.ID); err != nil {
		return sessionError(err)
	}
	for _, p := range s.Players {
		h.cancelGrace(p.UserID, s.ID)
	}
	return nil
}

func (h *Handlers) PlayerReady(_ context.Context, req router.Request) error {
	p := req.Message.Payload.(*wire.PlayerReadyRequest)
	s, _, err := h.membership(req)
	if err != nil {
		return err
	}
	if _, err := h.sessions.SetPlayerReady(s.ID, req.Conn.User.ID, p.Ready, p.CharacterID, p.CharacterName); err != nil {
		return sessionError(err)
	}
	h.sessions.BroadcastPlayerList(s.ID)
	return nil
}

func (h *Handlers) GameStart(_ context.Context, req router.Request) error {
	s, _, err := h.membership(req)
	if err != nil {
		return err
	}
	if _, err := h.sessions.Start(s.ID, req.Conn.User.ID); err != nil {
		return sessionError(err)
	}
	return nil
}

func (h *Handlers) bind(connID, sessionID string) error {
	if err := h.conns.JoinSession(connID, sessionID); err != nil {
		if errors.Is(err, connection.ErrUnknownConnection) {
			slog.Debug("Connection went away before binding", logging.ConnID(connID), logging.SessionID(sessionID))
			return nil
		}
		return err
	}
	return nil
}

// detach unbinds the connection from its current session. The user leaves
// that session when no other connection of theirs remains in it.
func (h *Handlers) detach(conn connection.Info) {
	prev := h.conns.LeaveSession(conn.ID)
	if prev == "" || h.conns.UserBoundTo(conn.User.ID, prev) {
		return
	}
	h.cancelGrace(conn.User.ID, prev)
	h.leave(prev, conn.User.ID)
}

// leave removes the player and tells the remaining members.
func (h *Handlers) leave(sessionID, userID string) {
	before, ok := h.sessions.Get(sessionID)
	if !ok {
		return
	}
	leaving, _ := before.Player(userID)

	after, err := h.sessions.Leave(sessionID, userID)
	if err != nil {
		slog.Debug("Could not leave the session", logging.SessionID(sessionID), logging.UserID(userID), logging.Error(err))
		return
	}
	if after.Status == session.StatusEnded {
		return
	}

	h.sessions.BroadcastPlayerList(sessionID)
	h.sessions.Broadcast(sessionID, systemMessage(wire.LevelInfo, fmt.Sprintf("%s left the table", leaving.DisplayName)))
	if after.HostUserID != before.HostUserID {
		host, _ := after.Player(after.HostUserID)
		h.sessions.Broadcast(sessionID, systemMessage(wire.LevelInfo, fmt.Sprintf("%s is now the host", host.DisplayName)))
	}
}
