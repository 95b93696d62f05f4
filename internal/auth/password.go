package auth

import (
	"log/slog"

	"github.com/dimspell/tavern/internal/app/logger/logging"
	"golang.org/x/crypto/bcrypt"
)

// HashCost is the bcrypt cost used for new passwords.
var HashCost = 12

type Password []byte

// NewPassword hashes a plain text password.
func NewPassword(text string) (Password, error) {
	pwd, err := bcrypt.GenerateFromPassword([]byte(text), HashCost)
	if err != nil {
		slog.Warn("Could not hash password", logging.Error(err))
	}
	return pwd, err
}

func (p Password) String() string {
	return string(p)
}

// CheckPassword reports whether the password matches the hash.
func CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
