package api

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// limiterPool hands out one token bucket per user.
type limiterPool struct {
	mu    sync.Mutex
	m     map[uuid.UUID]*rate.Limiter
	limit rate.Limit
	burst int
}

func newLimiterPool(perMinute, burst int) *limiterPool {
	if perMinute <= 0 {
		perMinute = 30
	}
	if burst <= 0 {
		burst = 5
	}
	return &limiterPool{
		m:     make(map[uuid.UUID]*rate.Limiter),
		limit: rate.Limit(float64(perMinute) / 60),
		burst: burst,
	}
}

func (p *limiterPool) get(key uuid.UUID) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.m[key]; ok {
		return l
	}
	l := rate.NewLimiter(p.limit, p.burst)
	p.m[key] = l
	return l
}

func (p *limiterPool) Allow(key uuid.UUID) bool {
	return p.get(key).Allow()
}

// rateLimited throttles message posting per authenticated user.
func (a *API) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.limiter.Allow(caller(r).UserID) {
			writeJSON(w, http.StatusTooManyRequests, errorResponse{"too many messages, slow down"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
