package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cynthiaiii4/TSCBot/internal/logging"
)

// Per-client defaults for the webhook and API routes.
const (
	defaultRateLimit = 10
	defaultRateBurst = 20
)

const (
	// visitorIdleTTL is how long an idle client keeps its bucket.
	visitorIdleTTL = 5 * time.Minute
	sweepInterval  = time.Minute
)

type visitor struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// rateLimiter applies a token bucket per client address.
type rateLimiter struct {
	limit      rate.Limit
	burst      int
	trustProxy bool
	log        *slog.Logger

	mu       sync.Mutex
	visitors map[string]*visitor
}

// newRateLimiter starts a limiter and its sweeper; the returned func stops
// the sweeper. trustProxy keys clients by the first X-Forwarded-For hop,
// which is what a webhook behind a tunnel or reverse proxy needs.
func newRateLimiter(rps float64, burst int, trustProxy bool, log *slog.Logger) (*rateLimiter, func()) {
	rl := &rateLimiter{
		limit:      rate.Limit(rps),
		burst:      burst,
		trustProxy: trustProxy,
		log:        log,
		visitors:   make(map[string]*visitor),
	}

	done := make(chan struct{})
	var once sync.Once
	go func() {
		t := time.NewTicker(sweepInterval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case now := <-t.C:
				rl.sweep(now)
			}
		}
	}()
	return rl, func() { once.Do(func() { close(done) }) }
}

// allow takes a token for key. When none is available it reports how long
// the client should wait.
func (rl *rateLimiter) allow(key string, now time.Time) (bool, time.Duration) {
	rl.mu.Lock()
	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{bucket: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = now
	rl.mu.Unlock()

	if v.bucket.AllowN(now, 1) {
		return true, 0
	}
	if rl.limit <= 0 {
		return false, time.Second
	}
	return false, time.Duration(float64(time.Second) / float64(rl.limit))
}

func (rl *rateLimiter) sweep(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, v := range rl.visitors {
		if now.Sub(v.lastSeen) > visitorIdleTTL {
			delete(rl.visitors, key)
		}
	}
}

func (rl *rateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.visitors)
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r, rl.trustProxy)
		ok, wait := rl.allow(ip, time.Now())
		if !ok {
			logging.FromContext(r.Context()).Warn("rate limit exceeded",
				slog.String("ip", ip),
				slog.String("path", r.URL.Path),
			)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
			writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// retryAfterSeconds rounds up to whole seconds, at least 1, capped at an hour.
func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	return min(max(s, 1), 3600)
}

// clientIP keys a request by its remote host. X-Forwarded-For is read only
// when trustProxy is set.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
