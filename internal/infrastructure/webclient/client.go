package webclient

import (
	"net/http"
	"time"
)

// NewDefault returns an HTTP client with a bounded timeout; zero means 30s.
func NewDefault(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
