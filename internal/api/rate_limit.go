package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixelpuzzle/internal/ratelimit"
)

type RateLimiter interface {
	AllowN(ctx context.Context, subject string, cost int) (ratelimit.Decision, error)
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cost := requestCost(r)
		if cost == 0 {
			next.ServeHTTP(w, r)
			return
		}

		subject := strings.TrimSpace(r.Header.Get(s.rateLimitUserIDHeader))
		if subject == "" {
			subject = "anonymous"
		}

		decision, err := s.rateLimiter.AllowN(r.Context(), subject, cost)
		if err != nil {
			s.logger.Printf("rate limiter check failed for subject=%s err=%v", subject, err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		if decision.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		retryAfter := int(decision.RetryAfter.Round(time.Second).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		s.metrics.rateLimitRejected.WithLabelValues(routeLabel(r.URL.Path)).Inc()
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error": "rate limit exceeded",
		})
	})
}

// requestCost prices a request in bucket tokens. Reads are free, except for
// opening a share link, which creates a session.
func requestCost(r *http.Request) int {
	if r.Method == http.MethodGet && r.URL.Path == "/v1/puzzles/open" {
		return 20
	}
	if r.Method == http.MethodGet || r.Method == http.MethodHead || !strings.HasPrefix(r.URL.Path, "/v1/") {
		return 0
	}
	switch routeLabel(r.URL.Path) {
	case "/v1/puzzles/{id}/pointer", "/v1/puzzles/{id}/click":
		return 1
	case "/v1/puzzles/{id}/mode", "/v1/puzzles/{id}":
		return 2
	case "/v1/puzzles/{id}/reset", "/v1/puzzles/{id}/config", "/v1/uploads":
		return 10
	case "/v1/puzzles", "/v1/puzzles/{id}/captures":
		return 20
	default:
		return 5
	}
}
