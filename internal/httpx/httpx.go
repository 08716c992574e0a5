// Package httpx holds the two HTTP clients the pipeline needs: a
// command-class client used by the dispatcher (several-second timeout)
// and a poll-class client used by the timeline poller and registry
// refresh (short timeout, no serialization gate). Adapted from the
// teacher's internal/httputil — same DrainBody/timeout-constant shape,
// split into two named constructors instead of one because the spec
// requires the two classes to never share a client.
package httpx

import (
	"io"
	"net/http"
	"time"
)

const (
	DefaultCommandTimeout = 5 * time.Second
	DefaultPollTimeout    = 1 * time.Second
	MaxResponseBody       = 10 << 20
)

// NewCommandClient builds the HTTP client used for setStreams calls.
func NewCommandClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &http.Client{Timeout: timeout}
}

// NewPollClient builds the HTTP client used for session-list and
// timeline polls. Deliberately separate from the command client so a
// slow poll can never starve a pending command, and vice versa.
func NewPollClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	return &http.Client{Timeout: timeout}
}

// DrainBody consumes and closes a response body so the underlying
// connection can be reused for keep-alive.
func DrainBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}
