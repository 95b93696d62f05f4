// Package auth issues and verifies the credentials clients present on
// AUTHENTICATE.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dimspell/tavern/internal/model"
	"github.com/golang-jwt/jwt/v5"
)

const issuer = "tavern"

var (
	ErrAuthDisabled = errors.New("token signing is not configured")
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Tokens signs and verifies HS256 tokens whose subject is the user id.
type Tokens struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

func NewTokens(secret string, expiry time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), expiry: expiry, now: time.Now}
}

type Claims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// Issue signs a token for the user. A non-positive expiry issues a token
// that never expires.
func (t *Tokens) Issue(user model.User) (string, error) {
	if t == nil || len(t.secret) == 0 {
		return "", ErrAuthDisabled
	}
	if strings.TrimSpace(user.ID) == "" {
		return "", errors.New("user id required")
	}

	now := t.now()
	claims := Claims{
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   issuer,
			Subject:  user.ID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if t.expiry > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(t.expiry))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Verify checks the signature and expiry and returns the user id the token
// was issued for.
func (t *Tokens) Verify(token string) (string, error) {
	if t == nil || len(t.secret) == 0 {
		return "", ErrAuthDisabled
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(t.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
