package router

import "github.com/dimspell/tavern/internal/wire"

// ReplyError is returned by handlers to answer the request with an error
// frame carrying a specific code. Any other error is reported to the client
// as a generic handler error.
type ReplyError struct {
	Payload *wire.ErrorPayload
}

func (e *ReplyError) Error() string {
	return e.Payload.Code + ": " + e.Payload.Message
}

// Fail answers with an ERROR frame.
func Fail(code, message string) error {
	return &ReplyError{Payload: &wire.ErrorPayload{Code: code, Message: message}}
}

// AuthFail answers with an AUTH_ERROR frame.
func AuthFail(code, message string) error {
	return &ReplyError{Payload: wire.NewAuthError(code, message)}
}

// SessionFail answers with a SESSION_ERROR frame.
func SessionFail(code, message string) error {
	return &ReplyError{Payload: wire.NewSessionError(code, message)}
}
