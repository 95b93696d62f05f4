package auth

import (
	"testing"
	"time"

	"github.com/dimspell/tavern/internal/model"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokens(t *testing.T) {
	tokens := NewTokens("s3cret", time.Hour)

	token, err := tokens.Issue(model.User{ID: "u1", Username: "alice"})
	require.NoError(t, err)

	userID, err := tokens.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)

	_, err = NewTokens("other", time.Hour).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = tokens.Verify("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokens_Expired(t *testing.T) {
	tokens := NewTokens("s3cret", time.Minute)
	tokens.now = func() time.Time { return time.Now().Add(-time.Hour) }

	token, err := tokens.Issue(model.User{ID: "u1"})
	require.NoError(t, err)

	tokens.now = time.Now
	_, err = tokens.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokens_RejectsOtherAlgorithms(t *testing.T) {
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "u1", Issuer: issuer})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewTokens("s3cret", time.Hour).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokens_Disabled(t *testing.T) {
	_, err := NewTokens("", time.Hour).Issue(model.User{ID: "u1"})
	assert.ErrorIs(t, err, ErrAuthDisabled)

	var nilTokens *Tokens
	_, err = nilTokens.Verify("x")
	assert.ErrorIs(t, err, ErrAuthDisabled)
}

func TestPassword(t *testing.T) {
	HashCost = 4
	t.Cleanup(func() { HashCost = 12 })

	pwd, err := NewPassword("hunter2")
	require.NoError(t, err)
	assert.True(t, CheckPassword("hunter2", pwd.String()))
	assert.False(t, CheckPassword("hunter3", pwd.String()))
}
