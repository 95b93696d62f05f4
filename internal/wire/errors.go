package wire

import "errors"

// Error codes carried by ERROR, AUTH_ERROR and SESSION_ERROR frames.
const (
	CodeProtocolError   = "PROTOCOL_ERROR"
	CodeUnknownType     = "UNKNOWN_TYPE"
	CodeInvalidPayload  = "INVALID_PAYLOAD"
	CodeHandlerError    = "HANDLER_ERROR"
	CodeAuthRequired    = "AUTH_REQUIRED"
	CodeInvalidToken    = "INVALID_TOKEN"
	CodeUnknownUser     = "UNKNOWN_USER"
	CodeConnectionLimit = "CONNECTION_LIMIT"
	CodeAlreadyAuthed   = "ALREADY_AUTHENTICATED"

	CodeSessionNotFound   = "SESSION_NOT_FOUND"
	CodeSessionFull       = "SESSION_FULL"
	CodeSessionInProgress = "SESSION_IN_PROGRESS"
	CodeSessionEnded      = "SESSION_ENDED"
	CodeNotInSession      = "NOT_IN_SESSION"
	CodeNotHost           = "NOT_HOST"
	CodeWrongState        = "WRONG_STATE"
	CodeNotEnoughPlayers  = "NOT_ENOUGH_PLAYERS"
	CodePlayersNotReady   = "PLAYERS_NOT_READY"
	CodeNotAMember        = "NOT_A_MEMBER"
	CodeNotYourTurn       = "NOT_YOUR_TURN"
	CodeInvalidOptions    = "INVALID_OPTIONS"

	CodeEmptyMessage   = "EMPTY_MESSAGE"
	CodeMessageTooLong = "MESSAGE_TOO_LONG"
	CodeTargetOffline  = "TARGET_OFFLINE"
	CodeRulesViolation = "RULES_VIOLATION"
	CodeInvalidDice    = "INVALID_DICE"
)

var (
	// ErrMalformedFrame is returned when a frame cannot be decoded at all.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrUnknownType is returned for frame types a client may not send.
	ErrUnknownType = errors.New("unknown message type")
)

// ValidationError reports a payload that decoded but failed its checks.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }
