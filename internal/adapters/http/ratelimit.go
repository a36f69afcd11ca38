package httpadapter

import (
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// maxLimiters caps the number of per-key buckets tracked at once.
	maxLimiters = 10000
	// limiterIdle is how long an unused bucket survives a cleanup.
	limiterIdle = 10 * time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a token bucket per caller wallet, falling back to the
// remote address for anonymous requests. When the table is full of active
// callers, unseen keys share a single overflow bucket instead of displacing
// existing ones.
type RateLimiter struct {
	limiters map[string]*limiterEntry
	overflow *rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	capacity int
	idle     time.Duration
	clock    clockwork.Clock
	log      *zap.Logger
}

func NewRateLimiter(rps float64, burst int, log *zap.Logger) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		overflow: rate.NewLimiter(rate.Limit(rps), burst),
		rate:     rate.Limit(rps),
		burst:    burst,
		capacity: maxLimiters,
		idle:     limiterIdle,
		clock:    clockwork.NewRealClock(),
		log:      log,
	}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.clock.Now()
	if e, ok := rl.limiters[key]; ok {
		e.lastSeen = now
		return e.limiter
	}
	if len(rl.limiters) >= rl.capacity {
		rl.cleanupLocked(now)
		if len(rl.limiters) >= rl.capacity {
			return rl.overflow
		}
	}
	e := &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst), lastSeen: now}
	rl.limiters[key] = e
	return e.limiter
}

// Cleanup drops buckets that have been idle longer than the idle window.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.cleanupLocked(rl.clock.Now())
}

func (rl *RateLimiter) cleanupLocked(now time.Time) {
	for key, e := range rl.limiters {
		if now.Sub(e.lastSeen) > rl.idle {
			delete(rl.limiters, key)
		}
	}
}

func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(CallerHeader)
		if key == "" {
			key = r.RemoteAddr
		}
		if !rl.limiter(key).Allow() {
			rl.log.Warn("rate limit exceeded", zap.String("key", key), zap.String("path", r.URL.Path))
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded", Code: "RateLimited"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
