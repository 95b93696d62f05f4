package logging

import (
	"log/slog"
)

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.String("error", err.Error())
}

func ConnID(id string) slog.Attr {
	return slog.String("connId", id)
}

func SessionID(id string) slog.Attr {
	return slog.String("sessionId", id)
}

func UserID(id string) slog.Attr {
	return slog.String("userId", id)
}

func MessageType(t string) slog.Attr {
	return slog.String("messageType", t)
}
