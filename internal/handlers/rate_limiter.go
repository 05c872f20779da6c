package handlers

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/YunomiXavia/beQuanTri/internal/platform/httpx"
)

const limiterIdleTTL = 10 * time.Minute

// clientRateLimiter throttles guest traffic per client key with a token bucket.
type clientRateLimiter struct {
	limit rate.Limit
	burst int
	clock func() time.Time

	mu      sync.Mutex
	clients map[string]*limiterEntry
	swept   time.Time
}

type limiterEntry struct {
	limiter *rate.Limiter
	seen    time.Time
}

// newClientRateLimiter allows requests per window per key. It returns nil when disabled.
func newClientRateLimiter(requests int, window time.Duration, clock func() time.Time) *clientRateLimiter {
	if requests <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &clientRateLimiter{
		limit:   rate.Every(window / time.Duration(requests)),
		burst:   requests,
		clock:   clock,
		clients: make(map[string]*limiterEntry),
	}
}

// reserve reports whether the key may proceed and, if not, how long to wait.
func (l *clientRateLimiter) reserve(key string) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.clients[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = entry
	}
	entry.seen = now
	l.pruneIdleLocked(now)

	if entry.limiter.AllowN(now, 1) {
		return true, 0
	}
	r := entry.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	return false, delay
}

func (l *clientRateLimiter) pruneIdleLocked(now time.Time) {
	if now.Sub(l.swept) < limiterIdleTTL {
		return
	}
	l.swept = now
	for key, entry := range l.clients {
		if now.Sub(entry.seen) > limiterIdleTTL {
			delete(l.clients, key)
		}
	}
}

// RateLimitByClient throttles requests per caller: authenticated users by UID, guests by client
// IP. A zero limit disables throttling.
func RateLimitByClient(requests int, window time.Duration) func(http.Handler) http.Handler {
	limiter := newClientRateLimiter(requests, window, nil)
	if limiter == nil {
		return passthrough
	}
	return limiter.middleware
}

func (l *clientRateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := callerFromRequest(r)
		key := "ip:" + caller.IP
		if caller.Authenticated() {
			key = "user:" + caller.UserID
		}
		ok, delay := l.reserve(key)
		if !ok {
			seconds := int(math.Ceil(delay.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", fmt.Sprintf("too many requests, retry in %ds", seconds), http.StatusTooManyRequests))
			return
		}
		next.ServeHTTP(w, r)
	})
}
