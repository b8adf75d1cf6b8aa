package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimit limits requests per client IP to requestsPerMinute using a sliding window.
// A non-positive limit disables rate limiting.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	return httprate.LimitByIP(requestsPerMinute, time.Minute)
}
