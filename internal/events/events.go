// Package events carries connection and session lifecycle notifications
// between the managers and their observers (metrics, disconnect grace).
package events

import (
	"time"

	"github.com/kelindar/event"
)

const (
	TypeConnectionOpened uint32 = iota + 1
	TypeConnectionAuthenticated
	TypeConnectionRejected
	TypeConnectionClosed
	TypeSessionCreated
	TypeSessionStarted
	TypeSessionEnded
	TypePlayerJoined
	TypePlayerLeft
	TypeHostChanged
)

// Bus is an in-process dispatcher. Handlers subscribed to it run on their
// own goroutine, so publishing never blocks the caller.
type Bus struct {
	d *event.Dispatcher
}

func NewBus() *Bus {
	return &Bus{d: event.NewDispatcher()}
}

func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	return b.d.Close()
}

// Publish is a no-op on a nil bus, so managers can be built without one.
func Publish[T event.Event](b *Bus, ev T) {
	if b == nil {
		return
	}
	event.Publish(b.d, ev)
}

// Subscribe registers a handler and returns the function removing it.
func Subscribe[T event.Event](b *Bus, handler func(T)) func() {
	if b == nil {
		return func() {}
	}
	cancel := event.Subscribe(b.d, handler)
	return func() { cancel() }
}

type ConnectionOpened struct {
	ConnID     string
	RemoteAddr string
}

func (ConnectionOpened) Type() uint32 { return TypeConnectionOpened }

type ConnectionAuthenticated struct {
	ConnID string
	UserID string
}

func (ConnectionAuthenticated) Type() uint32 { return TypeConnectionAuthenticated }

// ConnectionRejected is published when the per-user connection cap refuses
// an authentication.
type ConnectionRejected struct {
	ConnID string
	UserID string
}

func (ConnectionRejected) Type() uint32 { return TypeConnectionRejected }

type ConnectionClosed struct {
	ConnID    string
	UserID    string
	SessionID string
	Reason    string
	Duration  time.Duration
}

func (ConnectionClosed) Type() uint32 { return TypeConnectionClosed }

type SessionCreated struct {
	SessionID string
	HostID    string
}

func (SessionCreated) Type() uint32 { return TypeSessionCreated }

type SessionStarted struct {
	SessionID string
	Players   int
}

func (SessionStarted) Type() uint32 { return TypeSessionStarted }

type SessionEnded struct {
	SessionID string
	Reason    string
	Lifetime  time.Duration
}

func (SessionEnded) Type() uint32 { return TypeSessionEnded }

type PlayerJoined struct {
	SessionID string
	UserID    string
	Rejoin    bool
}

func (PlayerJoined) Type() uint32 { return TypePlayerJoined }

type PlayerLeft struct {
	SessionID string
	UserID    string
}

func (PlayerLeft) Type() uint32 { return TypePlayerLeft }

type HostChanged struct {
	SessionID string
	NewHostID string
}

func (HostChanged) Type() uint32 { return TypeHostChanged }
