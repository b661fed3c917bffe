package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/tutu-network/anoncredits/internal/domain"
	"github.com/tutu-network/anoncredits/internal/infra/observability"
)

// ─── Identity ───────────────────────────────────────────────────────────────

type anonIDKey struct{}

// AnonIDFrom returns the anonymous id resolved for the request.
func AnonIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(anonIDKey{}).(string)
	return id
}

// identityMiddleware resolves the caller's anonymous id (minting one when
// absent), bootstraps it on first sight and echoes it back as header and
// cookie so the id becomes first-party.
func (s *Server) identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		candidate, _ := s.resolver.Resolve(r)
		anonID, created, err := s.identities.ResolveOrCreate(r.Context(), candidate)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		if created {
			s.log.Debug("new identity", "anon_id", anonID, "request_id", middleware.GetReqID(r.Context()))
		}

		w.Header().Set(s.resolver.Header, anonID)
		http.SetCookie(w, s.identityCookie(anonID))
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), anonIDKey{}, anonID)))
	})
}

// identityCookie is cross-site (SameSite=None) only when it can be Secure;
// browsers reject None without Secure, so insecure deployments fall back to
// Lax.
func (s *Server) identityCookie(anonID string) *http.Cookie {
	sameSite := http.SameSiteLaxMode
	if s.cfg.CookieSecure {
		sameSite = http.SameSiteNoneMode
	}
	return &http.Cookie{
		Name:     s.resolver.Cookie,
		Value:    anonID,
		Path:     "/",
		Domain:   s.cfg.CookieDomain,
		MaxAge:   int(s.cfg.CookieMaxAge / time.Second),
		Secure:   s.cfg.CookieSecure,
		SameSite: sameSite,
	}
}

// ─── CORS ───────────────────────────────────────────────────────────────────

// corsMiddleware echoes allowed origins and answers every preflight.
// Disallowed origins get no Access-Control-* headers.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	allowHeaders := "Content-Type, " + s.resolver.Header
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		h := w.Header()
		h.Add("Vary", "Origin")
		if origin != "" && s.cors.Allowed(origin) {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", allowHeaders)
			h.Set("Access-Control-Expose-Headers", s.resolver.Header)
			h.Set("Access-Control-Max-Age", "600")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ─── Rate Limiting ──────────────────────────────────────────────────────────

const (
	limiterCap = 10000
	limiterTTL = 10 * time.Minute
)

// clientLimiter keeps one token bucket per client key.
type clientLimiter struct {
	mu       sync.Mutex
	limiters map[string]*clientBucket
	rate     rate.Limit
	burst    int
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(rps float64, burst int) *clientLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &clientLimiter{
		limiters: make(map[string]*clientBucket),
		rate:     rate.Limit(rps),
		burst:    burst,
	}
}

func (cl *clientLimiter) allow(key string, now time.Time) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	b, ok := cl.limiters[key]
	if !ok {
		if len(cl.limiters) >= limiterCap {
			cl.evictLocked(now)
		}
		b = &clientBucket{limiter: rate.NewLimiter(cl.rate, cl.burst)}
		cl.limiters[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// evictLocked drops idle buckets, or all of them if none are idle.
func (cl *clientLimiter) evictLocked(now time.Time) {
	for key, b := range cl.limiters {
		if now.Sub(b.lastSeen) > limiterTTL {
			delete(cl.limiters, key)
		}
	}
	if len(cl.limiters) >= limiterCap {
		cl.limiters = make(map[string]*clientBucket)
	}
}

// rateLimitMiddleware charges the client address on every request and, when
// a well-formed anonymous id is presented, that id as well. Rotating ids
// therefore never buys a fresh bucket.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		key := "addr:" + clientAddr(r)
		allowed := s.limiter.allow(key, now)
		if id, ok := s.resolver.Resolve(r); allowed && ok && domain.ValidAnonID(id) {
			key = "id:" + id
			allowed = s.limiter.allow(key, now)
		}
		if !allowed {
			observability.HTTPRateLimited.Inc()
			s.log.Warn("rate limit exceeded", "key", key, "path", r.URL.Path, "method", r.Method)
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientAddr(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// ─── Observability ──────────────────────────────────────────────────────────

// requestLogger logs one line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// metricsMiddleware records request counts and latency by route pattern.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		observability.HTTPLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
