package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rajasatyajit/stripemirror/internal/auth"
	apperrors "github.com/rajasatyajit/stripemirror/internal/errors"
	"github.com/rajasatyajit/stripemirror/internal/logger"
	"github.com/rajasatyajit/stripemirror/internal/metrics"
)

// Logging provides structured logging for HTTP requests
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ctx := logger.ContextWith(r.Context(), "request_id", middleware.GetReqID(r.Context()))
		r = r.WithContext(ctx)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			duration := time.Since(start)

			logger.WithContext(ctx).Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", duration.Milliseconds(),
				"bytes", ww.BytesWritten(),
				"remote_addr", r.RemoteAddr,
				"user_agent", r.UserAgent(),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// Metrics records HTTP metrics
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			duration := time.Since(start)
			metrics.RecordHTTPRequest(
				r.Method,
				r.URL.Path,
				ww.Status(),
				duration,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// Security sets response hardening headers. The service only returns JSON and
// redirects, so nothing may be framed or loaded.
func Security(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// KeyVerifier resolves a raw API key to its principal.
type KeyVerifier interface {
	Verify(ctx context.Context, rawKey string) (*auth.Principal, error)
}

// APIKeyAuth requires Authorization: Bearer <api_key> and attaches the key's principal.
// A request carrying the admin secret in X-Admin-Secret gets an admin principal
// instead.
func APIKeyAuth(v KeyVerifier, adminSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if adminSecret != "" && secretMatches(r.Header.Get("X-Admin-Secret"), adminSecret) {
				ctx := auth.WithPrincipal(r.Context(), &auth.Principal{APIKeyID: "admin", Admin: true})
				ctx = logger.ContextWith(ctx, "key_id", "admin")
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			raw := r.Header.Get("Authorization")
			if raw == "" {
				http.Error(w, "Missing API key", http.StatusUnauthorized)
				return
			}
			var key string
			if strings.HasPrefix(strings.ToLower(raw), "bearer ") {
				key = strings.TrimSpace(raw[len("Bearer "):])
			} else {
				// Allow raw key in header for flexibility
				key = strings.TrimSpace(raw)
			}
			if key == "" {
				http.Error(w, "Invalid API key", http.StatusUnauthorized)
				return
			}

			principal, err := v.Verify(r.Context(), key)
			if err != nil || principal == nil {
				if err != nil && !errors.Is(err, apperrors.ErrUnauthorized) {
					logger.WithContext(r.Context()).Error("API key lookup failed", "error", err)
				}
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := auth.WithPrincipal(r.Context(), principal)
			ctx = logger.ContextWith(ctx, "entity_id", principal.EntityID, "key_id", principal.APIKeyID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminSecret protects admin routes via a simple shared secret
func AdminSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, "admin not configured", http.StatusForbidden)
				return
			}
			if !secretMatches(r.Header.Get("X-Admin-Secret"), secret) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func secretMatches(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// CORS answers browser preflights for the action routes. Only listed origins are
// echoed back; "*" allows any.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			h := w.Header()
			h.Add("Vary", "Origin")
			if origin != "" && originAllowed(allowedOrigins, origin) {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				h.Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(allowed []string, origin string) bool {
	for _, o := range allowed {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
