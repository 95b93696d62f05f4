package session

import (
	"crypto/rand"
	"math/big"
)

const (
	inviteAlphabet   = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	inviteCodeLength = 6
	inviteAttempts   = 16
)

// NewInviteCode returns a random code that avoids the easily confused 0/O
// and 1/I characters.
func NewInviteCode() (string, error) {
	size := big.NewInt(int64(len(inviteAlphabet)))
	code := make([]byte, inviteCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		code[i] = inviteAlphabet[n.Int64()]
	}
	return string(code), nil
}
