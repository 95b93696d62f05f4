// Package rules holds the game-rules collaborator consulted before gameplay
// messages are broadcast.
package rules

import (
	"errors"
	"fmt"

	"github.com/dimspell/tavern/internal/session"
)

// ErrViolation is wrapped by every rejection of a validator.
var ErrViolation = errors.New("rules violation")

// Position is a cell of the tabletop grid.
type Position struct {
	X int
	Y int
}

type Move struct {
	UserID  string
	TokenID string
	To      Position
}

type Action struct {
	UserID   string
	Action   string
	TargetID string
}

// Validator decides whether a gameplay request is legal in the session.
type Validator interface {
	ValidateMove(s session.Session, move Move) error
	ValidateAction(s session.Session, action Action) error
}

// Permissive accepts everything that can exist on the grid.
type Permissive struct{}

var _ Validator = Permissive{}

func (Permissive) ValidateMove(_ session.Session, move Move) error {
	if move.To.X < 0 || move.To.Y < 0 {
		return fmt.Errorf("%w: position (%d, %d) is off the grid", ErrViolation, move.To.X, move.To.Y)
	}
	return nil
}

func (Permissive) ValidateAction(session.Session, Action) error { return nil }
