// Package server provides the dcpguard HTTP API: detection, anonymization,
// benchmarks and asynchronous jobs.
package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/dativo-io/dcpguard/internal/requestctx"
)

// CallerIDForKey returns the caller id recorded for an API key. The key
// itself never reaches logs or job metadata.
func CallerIDForKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return "key:" + hex.EncodeToString(sum[:4])
}

// AuthMiddleware validates X-API-Key or Authorization: Bearer <key> against
// apiKeys and stores the caller id in the context. With no keys configured
// authentication is disabled and callers are identified by client address.
func AuthMiddleware(apiKeys []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(apiKeys) == 0 {
				r = r.WithContext(requestctx.SetCallerID(r.Context(), "ip:"+clientHost(r)))
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get("X-API-Key")
			if key == "" {
				if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
					key = strings.TrimPrefix(auth, "Bearer ")
				}
			}
			if key == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Missing API key")
				return
			}
			matched := false
			for _, k := range apiKeys {
				if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
					matched = true
				}
			}
			if !matched {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid API key")
				return
			}
			r = r.WithContext(requestctx.SetCallerID(r.Context(), CallerIDForKey(key)))
			next.ServeHTTP(w, r)
		})
	}
}

func clientHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimitMiddleware returns 429 with Retry-After when the caller exceeds
// its budget. A nil limiter disables limiting.
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	if rl == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl.Allow(requestctx.CallerID(r.Context())) {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "request rate limit exceeded")
		})
	}
}

// RequestIDHeader echoes the chi request id on every response so callers
// can correlate logs. It must run after middleware.RequestID.
func RequestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set(middleware.RequestIDHeader, id)
		}
		next.ServeHTTP(w, r)
	})
}

// CORSMiddleware sets CORS headers. allowedOrigins can be ["*"] for any.
func CORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := false
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
			break
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if origin != "" {
				for _, o := range allowedOrigins {
					if o == origin {
						w.Header().Set("Access-Control-Allow-Origin", origin)
						break
					}
				}
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-API-Key, X-Request-Id")
			w.Header().Set("Access-Control-Expose-Headers", "X-Request-Id")
			w.Header().Set("Access-Control-Max-Age", "300")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeError writes a {"error": code, "message": msg} JSON response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
