package console

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dimspell/tavern/internal/app/logger/logging"
	"github.com/dimspell/tavern/internal/auth"
	"github.com/dimspell/tavern/internal/directory"
	"github.com/dimspell/tavern/internal/metrics"
)

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token       string `json:"token"`
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

// IssueToken exchanges a username and password for the token presented on
// AUTHENTICATE.
func (c *Console) IssueToken(w http.ResponseWriter, r *http.Request) {
	if c.Users == nil || c.Tokens == nil {
		renderError(w, r, http.StatusNotImplemented, "logging in is not enabled on this server")
		return
	}

	var req tokenRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		renderError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := c.Users.Authenticate(r.Context(), req.Username, req.Password)
	if errors.Is(err, directory.ErrInvalidCredentials) {
		metrics.AuthFailures.WithLabelValues("invalid_credentials").Inc()
		renderError(w, r, http.StatusUnauthorized, err.Error())
		return
	}
	if err != nil {
		slog.Error("Could not check the credentials", logging.Error(err))
		renderError(w, r, http.StatusInternalServerError, "could not check the credentials")
		return
	}

	token, err := c.Tokens.Issue(user)
	if errors.Is(err, auth.ErrAuthDisabled) {
		renderError(w, r, http.StatusNotImplemented, err.Error())
		return
	}
	if err != nil {
		slog.Error("Could not issue a token", logging.UserID(user.ID), logging.Error(err))
		renderError(w, r, http.StatusInternalServerError, "could not issue a token")
		return
	}

	renderJSON(w, r, tokenResponse{
		Token:       token,
		UserID:      user.ID,
		Username:    user.Username,
		DisplayName: user.Name(),
	})
}
