package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"parley/internal/metrics"
	"parley/pkg/types"
)

type ctxKey int

const (
	sessionKey ctxKey = iota
	tokenKey
)

func sessionFrom(ctx context.Context) types.UserSession {
	s, _ := ctx.Value(sessionKey).(types.UserSession)
	return s
}

func tokenFrom(ctx context.Context) string {
	t, _ := ctx.Value(tokenKey).(string)
	return t
}

// sessionToken reads the bearer token or the X-Session-Token header.
func sessionToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.Header.Get("X-Session-Token")
}

// authenticate resolves the token, which also refreshes the session's idle
// clock, and stores the session in the request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		session, err := s.Sessions.Resolve(token)
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), sessionKey, session)
		ctx = context.WithValue(ctx, tokenKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// require rejects sessions whose role does not satisfy perm.
func (s *Server) require(perm types.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !s.Sessions.RolesOf(tokenFrom(r.Context())).Has(perm) {
				sendError(w, "requires "+string(perm), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) rateLimitByUser(next http.Handler) http.Handler {
	return limitBy(s.Limiter, func(r *http.Request) string { return sessionFrom(r.Context()).UserID }, next)
}

func (s *Server) rateLimitByAddr(next http.Handler) http.Handler {
	return limitBy(s.LoginLimiter, func(r *http.Request) string { return r.RemoteAddr }, next)
}

func limitBy(rl *RateLimiter, key func(*http.Request) string, next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(key(r)) {
			metrics.RateLimited.Inc()
			w.Header().Set("Retry-After", "60")
			sendError(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// metricsMiddleware records latency by route pattern, not raw path, to keep
// label cardinality bounded.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}

// CORSOptions configures cross-origin access. Empty or zero fields take the
// permissive defaults of DefaultCORSOptions.
type CORSOptions struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         int
}

func DefaultCORSOptions() CORSOptions {
	return CORSOptions{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Session-Token"},
		MaxAge:         86400,
	}
}

func corsMiddleware(opts CORSOptions) func(http.Handler) http.Handler {
	def := DefaultCORSOptions()
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = def.AllowedOrigins
	}
	if len(opts.AllowedMethods) == 0 {
		opts.AllowedMethods = def.AllowedMethods
	}
	if len(opts.AllowedHeaders) == 0 {
		opts.AllowedHeaders = def.AllowedHeaders
	}
	if opts.MaxAge == 0 {
		opts.MaxAge = def.MaxAge
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: opts.AllowedMethods,
		AllowedHeaders: opts.AllowedHeaders,
		MaxAge:         opts.MaxAge,
	})
}
