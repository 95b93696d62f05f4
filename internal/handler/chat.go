package handler

import (
	"context"
	"fmt"

	"github.com/dimspell/tavern/internal/router"
	"github.com/dimspell/tavern/internal/session"
	"github.com/dimspell/tavern/internal/wire"
)

func (h *Handlers) ChatMessage(_ context.Context, req router.Request) error {
	p := req.Message.Payload.(*wire.ChatMessageRequest)
	s, player, err := h.membership(req)
	if err != nil {
		return err
	}

	h.sessions.Broadcast(s.ID, wire.New(&wire.ChatBroadcastPayload{
		SessionID:     s.ID,
		UserID:        player.UserID,
		DisplayName:   chatName(player, p.InCharacter),
		CharacterName: player.CharacterName,
		InCharacter:   p.InCharacter,
		Content:       p.Content,
	}))
	return nil
}

// chatName shows the character first when speaking in character, and
// in parentheses otherwise.
func chatName(p session.Player, inCharacter bool) string {
	switch {
	case p.CharacterName == "":
		return p.DisplayName
	case inCharacter:
		return p.CharacterName
	default:
		return fmt.Sprintf("%s (%s)", p.DisplayName, p.CharacterName)
	}
}

func (h *Handlers) Whisper(_ context.Context, req router.Request) error {
	p := req.Message.Payload.(*wire.WhisperRequest)
	s, sender, err := h.membership(req)
	if err != nil {
		return err
	}

	if p.TargetUserID == sender.UserID {
		return router.Fail(wire.CodeInvalidPayload, "you cannot whisper to yourself")
	}
	if !s.IsMember(p.TargetUserID) {
		return router.Fail(wire.CodeNotAMember, "the target is not in this session")
	}

	msg := &wire.WhisperReceivedPayload{
		SessionID:       s.ID,
		FromUserID:      sender.UserID,
		FromDisplayName: sender.DisplayName,
		ToUserID:        p.TargetUserID,
		Content:         p.Content,
	}
	if h.sessions.SendToUser(s.ID, p.TargetUserID, wire.New(msg)) == 0 {
		return router.Fail(wire.CodeTargetOffline, "the target is not connected")
	}

	echo := *msg
	echo.Echo = true
	h.conns.Send(req.Conn.ID, req.Reply(&echo))
	return nil
}
