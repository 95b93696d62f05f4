package handler

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dimspell/tavern/internal/app/logger/logging"
	"github.com/dimspell/tavern/internal/connection"
	"github.com/dimspell/tavern/internal/directory"
	"github.com/dimspell/tavern/internal/metrics"
	"github.com/dimspell/tavern/internal/router"
	"github.com/dimspell/tavern/internal/wire"
)

func (h *Handlers) Authenticate(ctx context.Context, req router.Request) error {
	p := req.Message.Payload.(*wire.AuthenticateRequest)

	userID, err := h.tokens.Verify(p.Token)
	if err != nil {
		slog.Info("Rejected token", logging.ConnID(req.Conn.ID), logging.Error(err))
		metrics.AuthFailures.WithLabelValues("invalid_token").Inc()
		return router.AuthFail(wire.CodeInvalidToken, "the token is invalid or has expired")
	}

	user, err := h.users.Lookup(ctx, userID)
	if errors.Is(err, directory.ErrUnknownUser) {
		metrics.AuthFailures.WithLabelValues("unknown_user").Inc()
		return router.AuthFail(wire.CodeUnknownUser, "the user does not exist")
	}
	if err != nil {
		return err
	}

	switch err := h.conns.Authenticate(req.Conn.ID, user); {
	case errors.Is(err, connection.ErrConnectionLimit):
		return router.AuthFail(wire.CodeConnectionLimit, "too many open connections for this user")
	case errors.Is(err, connection.ErrAlreadyAuthenticated):
		metrics.AuthFailures.WithLabelValues("already_authenticated").Inc()
		return router.AuthFail(wire.CodeAlreadyAuthed, "the connection is authenticated as another user")
	case err != nil:
		return err
	}

	h.conns.Send(req.Conn.ID, req.Reply(&wire.AuthenticatedPayload{
		ConnectionID: req.Conn.ID,
		UserID:       user.ID,
		Username:     user.Username,
		DisplayName:  user.Name(),
	}))
	return nil
}
