package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rajasatyajit/stripemirror/internal/auth"
	"github.com/rajasatyajit/stripemirror/internal/logger"
)

// RateChecker counts one request for key on route and reports whether it fits in rpm.
// ratelimit.Manager implements it against Redis.
type RateChecker interface {
	CheckRate(ctx context.Context, key, route string, rpm int) (allowed bool, resetSec int, err error)
}

// RateLimit limits requests per API key, or per client IP for anonymous requests, to
// rpm per minute and route. With a nil checker the window is kept in process. A Redis
// failure lets the request through.
func RateLimit(rc RateChecker, rpm int) func(http.Handler) http.Handler {
	if rc == nil {
		rc = newLocalWindow()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rpm <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			key := clientKey(r)
			allowed, reset, err := rc.CheckRate(r.Context(), key, r.Method+":"+r.URL.Path, rpm)
			if err != nil {
				logger.WithContext(r.Context()).Warn("Rate limit check failed", "key", key, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rpm))
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(reset))
				write429(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if p := auth.GetPrincipal(r.Context()); p != nil && p.APIKeyID != "" {
		return "key:" + p.APIKeyID
	}
	clientIP := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		clientIP = host
	}
	return "ip:" + clientIP
}

// localWindow is a sliding one-minute window kept in memory.
type localWindow struct {
	mu      sync.Mutex
	clients map[string][]time.Time
	now     func() time.Time
}

func newLocalWindow() *localWindow {
	return &localWindow{clients: make(map[string][]time.Time), now: time.Now}
}

func (l *localWindow) CheckRate(ctx context.Context, key, route string, rpm int) (bool, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	k := key + "|" + route
	var valid []time.Time
	for _, ts := range l.clients[k] {
		if now.Sub(ts) < time.Minute {
			valid = append(valid, ts)
		}
	}
	if len(valid) >= rpm {
		l.clients[k] = valid
		reset := int(time.Minute.Seconds() - now.Sub(valid[0]).Seconds())
		if reset < 1 {
			reset = 1
		}
		return false, reset, nil
	}
	l.clients[k] = append(valid, now)
	return true, 0, nil
}

func write429(w http.ResponseWriter) {
	http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
}
