package handler

import (
	"context"

	"github.com/dimspell/tavern/internal/dice"
	"github.com/dimspell/tavern/internal/router"
	"github.com/dimspell/tavern/internal/rules"
	"github.com/dimspell/tavern/internal/session"
	"github.com/dimspell/tavern/internal/wire"
)

func (h *Handlers) TurnEnd(_ context.Context, req router.Request) error {
	s, _, err := h.membership(req)
	if err != nil {
		return err
	}
	after, err := h.sessions.EndTurn(s.ID, req.Conn.User.ID)
	if err != nil {
		return sessionError(err)
	}

	h.sessions.Broadcast(s.ID, wire.New(&wire.TurnEndedPayload{
		SessionID:  s.ID,
		EndedBy:    req.Conn.User.ID,
		NextUserID: after.CurrentTurn(),
		Round:      after.Round,
	}))
	return nil
}

func (h *Handlers) ActionRequest(_ context.Context, req router.Request) error {
	p := req.Message.Payload.(*wire.ActionRequestPayload)
	s, err := h.activeSession(req)
	if err != nil {
		return err
	}

	action := rules.Action{UserID: req.Conn.User.ID, Action: p.Action, TargetID: p.TargetID}
	if err := h.rules.ValidateAction(s, action); err != nil {
		return router.Fail(wire.CodeRulesViolation, err.Error())
	}

	h.sessions.Broadcast(s.ID, wire.New(&wire.ActionAnnouncedPayload{
		SessionID: s.ID,
		UserID:    req.Conn.User.ID,
		Action:    p.Action,
		TargetID:  p.TargetID,
	}))
	return nil
}

func (h *Handlers) MoveToken(_ context.Context, req router.Request) error {
	p := req.Message.Payload.(*wire.MoveTokenRequest)
	s, err := h.activeSession(req)
	if err != nil {
		return err
	}

	move := rules.Move{UserID: req.Conn.User.ID, TokenID: p.TokenID, To: rules.Position{X: p.X, Y: p.Y}}
	if err := h.rules.ValidateMove(s, move); err != nil {
		return router.Fail(wire.CodeRulesViolation, err.Error())
	}

	h.sessions.Broadcast(s.ID, wire.New(&wire.TokenMovedPayload{
		SessionID: s.ID,
		UserID:    req.Conn.User.ID,
		TokenID:   p.TokenID,
		X:         p.X,
		Y:         p.Y,
	}))
	return nil
}

// DiceRoll is allowed in the lobby too, so players can roll for
// initiative or character creation.
func (h *Handlers) DiceRoll(_ context.Context, req router.Request) error {
	p := req.Message.Payload.(*wire.DiceRollRequest)
	s, player, err := h.membership(req)
	if err != nil {
		return err
	}

	notation, err := dice.Parse(p.Expression)
	if err != nil {
		return router.Fail(wire.CodeInvalidDice, err.Error())
	}
	res := h.roller.Roll(notation)

	h.sessions.Broadcast(s.ID, wire.New(&wire.DiceRolledPayload{
		SessionID:   s.ID,
		UserID:      player.UserID,
		DisplayName: player.DisplayName,
		Expression:  notation.String(),
		Rolls:       res.Rolls,
		Modifier:    notation.Modifier,
		Total:       res.Total,
		Reason:      p.Reason,
	}))
	return nil
}

func (h *Handlers) activeSession(req router.Request) (session.Session, error) {
	s, _, err := h.membership(req)
	if err != nil {
		return session.Session{}, err
	}
	if s.Status != session.StatusActive {
		return session.Session{}, router.SessionFail(wire.CodeWrongState, "the game has not started yet")
	}
	return s, nil
}
