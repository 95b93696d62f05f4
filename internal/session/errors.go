package session

import (
	"errors"

	"github.com/dimspell/tavern/internal/wire"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionFull       = errors.New("session is full")
	ErrSessionInProgress = errors.New("session has already started")
	ErrSessionEnded      = errors.New("session has ended")
	ErrNotHost           = errors.New("only the host can do that")
	ErrWrongState        = errors.New("not allowed in the current session state")
	ErrNotEnoughPlayers  = errors.New("not enough players")
	ErrPlayersNotReady   = errors.New("players not ready")
	ErrNotAMember        = errors.New("not a member of the session")
	ErrNotYourTurn       = errors.New("it is not your turn")
	ErrInvalidOptions    = errors.New("invalid session options")
	ErrInviteExhausted   = errors.New("could not allocate a unique invite code")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrSessionNotFound, wire.CodeSessionNotFound},
	{ErrSessionFull, wire.CodeSessionFull},
	{ErrSessionInProgress, wire.CodeSessionInProgress},
	{ErrSessionEnded, wire.CodeSessionEnded},
	{ErrNotHost, wire.CodeNotHost},
	{ErrWrongState, wire.CodeWrongState},
	{ErrNotEnoughPlayers, wire.CodeNotEnoughPlayers},
	{ErrPlayersNotReady, wire.CodePlayersNotReady},
	{ErrNotAMember, wire.CodeNotAMember},
	{ErrNotYourTurn, wire.CodeNotYourTurn},
	{ErrInvalidOptions, wire.CodeInvalidOptions},
}

// Code maps a session error onto its wire error code. Errors not raised by
// this package map to HANDLER_ERROR.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return wire.CodeHandlerError
}
