package middleware

import (
	"log"
	"net"
	"net/http"
	"strconv"

	"github.com/aquaflow/sensorhub/internal/config"
	"github.com/aquaflow/sensorhub/internal/ratelimit"
)

// SubmitLimiter bounds how fast any single source may push readings.
// The limit config is read per request from the config store so a
// reloaded file takes effect without restart. Redis trouble fails
// open: a throttling outage must not take ingestion down with it.
type SubmitLimiter struct {
	limiter *ratelimit.Limiter
	cfg     *config.Store
}

func NewSubmitLimiter(limiter *ratelimit.Limiter, cfg *config.Store) *SubmitLimiter {
	return &SubmitLimiter{limiter: limiter, cfg: cfg}
}

func (m *SubmitLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rl := m.cfg.Current().RateLimit
		if !rl.Enabled || m.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		source, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			source = r.RemoteAddr
		}
		key := "rl:submit:" + m.limiter.HashSource(source)

		decision, err := m.limiter.Check(r.Context(), key, rl.SubmitLimit())
		if err != nil {
			log.Printf("RateLimit check failed: %v (allowing request)", err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

		if !decision.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfter))
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}
