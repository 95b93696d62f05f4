// Package router turns raw client frames into typed requests and dispatches
// them to the registered handlers.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/dimspell/tavern/internal/app/logger/logging"
	"github.com/dimspell/tavern/internal/connection"
	"github.com/dimspell/tavern/internal/metrics"
	"github.com/dimspell/tavern/internal/wire"
)

// Request is a decoded frame together with the state of the connection it
// arrived on.
type Request struct {
	Conn    connection.Info
	Message wire.Message
}

// Reply answers the request, echoing its correlation id.
func (r Request) Reply(p wire.Payload) wire.Message {
	return wire.Reply(r.Message, p)
}

type HandlerFunc func(ctx context.Context, req Request) error

// Connections is the part of the connection manager the router needs.
type Connections interface {
	Get(id string) (connection.Info, bool)
	UpdateHeartbeat(id string)
	Send(id string, msg wire.Message) bool
}

type Router struct {
	conns    Connections
	handlers map[wire.Type]HandlerFunc
}

func New(conns Connections) *Router {
	return &Router{
		conns:    conns,
		handlers: make(map[wire.Type]HandlerFunc),
	}
}

// Handle registers the handler of a client message type. Registering a type
// twice replaces the previous handler.
func (r *Router) Handle(t wire.Type, h HandlerFunc) {
	if !wire.IsInbound(t) {
		panic(fmt.Sprintf("router: %s is not a client message type", t))
	}
	r.handlers[t] = h
}

// HandleFrame processes a single inbound frame. It never returns an error:
// every failure is reported to the client and the connection stays open.
func (r *Router) HandleFrame(ctx context.Context, connID string, data []byte) {
	info, ok := r.conns.Get(connID)
	if !ok {
		slog.Debug("Frame from an unknown connection", logging.ConnID(connID))
		return
	}
	r.conns.UpdateHeartbeat(connID)

	codec := info.Codec
	if codec == nil {
		codec = wire.JSON
	}

	header, raw, err := codec.DecodeHeader(data)
	if err != nil {
		slog.Warn("Could not decode the frame", logging.ConnID(connID), logging.Error(err))
		r.reject(connID, wire.Message{}, wire.CodeProtocolError, "malformed frame")
		return
	}
	metrics.MessagesReceived.WithLabelValues(metricLabel(header.Type)).Inc()
	req := wire.Message{Type: header.Type, CorrelationID: header.CorrelationID}

	if !info.Authenticated && !wire.AllowedBeforeAuth(header.Type) {
		metrics.InvalidFrames.WithLabelValues(wire.CodeAuthRequired).Inc()
		r.conns.Send(connID, wire.Reply(req, &wire.ErrorPayload{
			Code:    wire.CodeAuthRequired,
			Message: "authenticate first",
		}))
		return
	}

	msg, err := codec.DecodePayload(header, raw)
	if err != nil {
		var verr *wire.ValidationError
		switch {
		case errors.Is(err, wire.ErrUnknownType):
			r.reject(connID, req, wire.CodeUnknownType, fmt.Sprintf("unknown message type %q", header.Type))
		case errors.As(err, &verr):
			r.reject(connID, req, verr.Code, verr.Message)
		default:
			r.reject(connID, req, wire.CodeInvalidPayload, err.Error())
		}
		return
	}

	h, ok := r.handlers[msg.Type]
	if !ok {
		r.reject(connID, req, wire.CodeUnknownType, fmt.Sprintf("unsupported message type %q", msg.Type))
		return
	}

	r.dispatch(ctx, h, Request{Conn: info, Message: msg})
}

func (r *Router) dispatch(ctx context.Context, h HandlerFunc, req Request) {
	start := time.Now()
	t := req.Message.Type

	defer func() {
		metrics.MessageProcessingLatency.WithLabelValues(t.String()).Observe(time.Since(start).Seconds())

		if p := recover(); p != nil {
			slog.Error("Handler panicked",
				logging.ConnID(req.Conn.ID),
				logging.MessageType(t.String()),
				slog.Any("panic", p),
				slog.String("stack", string(debug.Stack())),
			)
			r.handlerError(req)
		}
	}()

	err := h(ctx, req)
	if err == nil {
		return
	}

	var reply *ReplyError
	if errors.As(err, &reply) {
		slog.Debug("Request rejected",
			logging.ConnID(req.Conn.ID),
			logging.MessageType(t.String()),
			slog.String("code", reply.Payload.Code),
		)
		r.conns.Send(req.Conn.ID, req.Reply(reply.Payload))
		return
	}

	slog.Error("Handler failed",
		logging.ConnID(req.Conn.ID),
		logging.MessageType(t.String()),
		logging.Error(err),
	)
	r.handlerError(req)
}

func (r *Router) handlerError(req Request) {
	metrics.HandlerErrors.WithLabelValues(req.Message.Type.String()).Inc()
	r.conns.Send(req.Conn.ID, req.Reply(&wire.ErrorPayload{
		Code:    wire.CodeHandlerError,
		Message: "the request could not be processed",
	}))
}

func (r *Router) reject(connID string, req wire.Message, code, message string) {
	metrics.InvalidFrames.WithLabelValues(code).Inc()
	r.conns.Send(connID, wire.Reply(req, &wire.ErrorPayload{Code: code, Message: message}))
}

// metricLabel keeps arbitrary client-chosen types out of the label set.
func metricLabel(t wire.Type) string {
	if wire.IsInbound(t) {
		return t.String()
	}
	return "unknown"
}
