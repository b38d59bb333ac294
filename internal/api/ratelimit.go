package api

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// newLimiter builds the process-wide token bucket. A non-positive burst
// falls back to one second's worth of requests.
func newLimiter(perSecond float64, burst int) *rate.Limiter {
	if burst <= 0 {
		burst = int(math.Max(1, math.Ceil(perSecond)))
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// rateLimitMiddleware rejects requests with 429 once the bucket is empty.
// There is no per-owner accounting: callers are not authenticated.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(s.limiter.Burst()))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(math.Max(0, s.limiter.Tokens()))))

		if !s.limiter.Allow() {
			s.metrics.IncRateLimitHit()
			w.Header().Set("Retry-After", retryAfter(s.limiter))
			s.writeError(w, r, CodeResourceExhausted, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func retryAfter(l *rate.Limiter) string {
	if l.Limit() <= 0 {
		return "1"
	}
	wait := time.Duration(float64(time.Second) / float64(l.Limit()))
	return fmt.Sprintf("%d", int(math.Max(1, math.Ceil(wait.Seconds()))))
}
