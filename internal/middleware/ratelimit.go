package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/studyhub/internal/metrics"
)

const (
	rateLimitWindow  = time.Minute
	rateLimitMaxIP   = 200
	rateLimitMaxUser = 100
)

type rateLimiter struct {
	mu     sync.Mutex
	times  map[string][]time.Time
	max    int
	window time.Duration
}

func newRateLimiter(max int, window time.Duration) *rateLimiter {
	return &rateLimiter{times: make(map[string][]time.Time), max: max, window: window}
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := now.Add(-r.window)
	slice := r.times[key]
	i := 0
	for _, t := range slice {
		if t.After(cutoff) {
			slice[i] = t
			i++
		}
	}
	slice = slice[:i]
	if len(slice) >= r.max {
		r.times[key] = slice
		return false
	}
	r.times[key] = append(slice, now)
	return true
}

// sweep удаляет ключи без запросов в текущем окне.
func (r *rateLimiter) sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := now.Add(-r.window)
	for k, ts := range r.times {
		if len(ts) == 0 || !ts[len(ts)-1].After(cutoff) {
			delete(r.times, k)
		}
	}
}

// RateLimiter ограничивает запросы по IP и по пользователю (скользящее окно в памяти процесса).
type RateLimiter struct {
	byIP   *rateLimiter
	byUser *rateLimiter
}

func NewRateLimiter(maxPerIP, maxPerUser int, window time.Duration) *RateLimiter {
	if maxPerIP <= 0 {
		maxPerIP = rateLimitMaxIP
	}
	if maxPerUser <= 0 {
		maxPerUser = rateLimitMaxUser
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{byIP: newRateLimiter(maxPerIP, window), byUser: newRateLimiter(maxPerUser, window)}
}

func clientIP(r *http.Request) string {
	if x := r.Header.Get("X-Real-Ip"); x != "" {
		return x
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// Handler возвращает 429 при превышении лимита. Ставится после PrincipalAuth, чтобы учитывать пользователя.
func (l *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		if !l.byIP.allow(clientIP(r), now) {
			metrics.RateLimitHits.WithLabelValues("ip").Inc()
			writeJSONError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
		if userID := GetUserID(r.Context()); userID != "" {
			if !l.byUser.allow("u:"+userID, now) {
				metrics.RateLimitHits.WithLabelValues("user").Inc()
				writeJSONError(w, http.StatusTooManyRequests, "Too many requests")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Sweep периодически чистит устаревшие ключи до отмены done.
func (l *RateLimiter) Sweep(done <-chan struct{}) {
	t := time.NewTicker(l.byIP.window)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case now := <-t.C:
			l.byIP.sweep(now)
			l.byUser.sweep(now)
		}
	}
}
