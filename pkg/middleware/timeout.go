package middleware

import (
	"net/http"
	"time"
)

// Timeout bounds each request's handling time. The handler sees a context
// that is cancelled at the deadline; if it has not written anything by then
// the client gets 503 with a JSON error body.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, timeout, `{"error":"request timeout"}`)
	}
}
