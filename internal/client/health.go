package client

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single health request.
const DefaultTimeout = 3 * time.Second

type HTTPHealthChecker struct {
	Client *http.Client
	URL    string
}

func NewHTTPHealthChecker(addr string) *HTTPHealthChecker {
	return &HTTPHealthChecker{
		Client: &http.Client{Timeout: DefaultTimeout},
		URL:    addr,
	}
}

func (h *HTTPHealthChecker) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return err
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s (%d)", resp.Status, resp.StatusCode)
	}
	return nil
}
