package client

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPHealthChecker(t *testing.T) {
	var unhealthy atomic.Bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if unhealthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer ts.Close()

	checker := NewHTTPHealthChecker(ts.URL)
	assert.NoError(t, checker.Check(t.Context()))

	unhealthy.Store(true)
	assert.ErrorContains(t, checker.Check(t.Context()), "503")
}

func TestServerError(t *testing.T) {
	err := &ServerError{Kind: "AUTH_ERROR", Code: "INVALID_TOKEN", Message: "expired"}
	assert.Equal(t, "AUTH_ERROR INVALID_TOKEN: expired", err.Error())
}
