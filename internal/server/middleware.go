// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"crypto/subtle"
	"fmt"
	"log"
	"math"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ============================================================================
// Authentication
// ============================================================================

// AuthConfig contains authentication options.
type AuthConfig struct {
	// BearerToken, when set, must be presented in the Authorization header.
	BearerToken string

	// AllowedIPs lists addresses or CIDR ranges allowed access. Empty allows all.
	AllowedIPs []string

	parsedOnce sync.Once
	nets       []*net.IPNet
}

// Enabled reports whether any check is configured.
func (c *AuthConfig) Enabled() bool {
	return c != nil && (c.BearerToken != "" || len(c.AllowedIPs) > 0)
}

func (c *AuthConfig) parse() {
	c.parsedOnce.Do(func() {
		for _, entry := range c.AllowedIPs {
			entry = strings.TrimSpace(entry)
			if !strings.Contains(entry, "/") {
				if ip := net.ParseIP(entry); ip != nil {
					bits := 32
					if ip.To4() == nil {
						bits = 128
					}
					entry = fmt.Sprintf("%s/%d", entry, bits)
				}
			}
			if _, ipNet, err := net.ParseCIDR(entry); err == nil {
				c.nets = append(c.nets, ipNet)
			} else {
				log.Printf("AUTH_CONFIG | invalid allowlist entry=%q", entry)
			}
		}
	})
}

func (c *AuthConfig) ipAllowed(ipStr string) bool {
	if len(c.AllowedIPs) == 0 {
		return true
	}
	c.parse()
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range c.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ValidateBearerToken compares tokens in constant time.
func ValidateBearerToken(token, expected string) bool {
	if token == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}

// AuthMiddleware rejects clients outside the allowlist with 403 and
// requests without the bearer token with 401. /health stays open.
func AuthMiddleware(cfg *AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			clientIP := GetClientIP(r)
			if !cfg.ipAllowed(clientIP) {
				log.Printf("AUTH_DENIED | reason=ip_not_allowed ip=%s path=%s", clientIP, r.URL.Path)
				writeError(w, http.StatusForbidden, "forbidden", "client address not allowed")
				return
			}

			if cfg.BearerToken != "" {
				token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
				if !found || !ValidateBearerToken(strings.TrimSpace(token), cfg.BearerToken) {
					log.Printf("AUTH_DENIED | reason=bad_token ip=%s path=%s", clientIP, r.URL.Path)
					w.Header().Set("WWW-Authenticate", `Bearer realm="rootgate"`)
					writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ============================================================================
// Per-client rate limiting
// ============================================================================

// clientIdleTTL is how long an idle client's bucket is kept.
const clientIdleTTL = 10 * time.Minute

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ClientLimiter keeps one token bucket per client address.
type ClientLimiter struct {
	limit rate.Limit
	burst int

	mu        sync.Mutex
	clients   map[string]*clientBucket
	lastSweep time.Time
}

// NewClientLimiter allows perSecond requests per client with the given burst.
func NewClientLimiter(perSecond float64, burst int) *ClientLimiter {
	if burst < 1 {
		burst = 1
	}
	return &ClientLimiter{
		limit:     rate.Limit(perSecond),
		burst:     burst,
		clients:   make(map[string]*clientBucket),
		lastSweep: time.Now(),
	}
}

// Allow takes a token from the client's bucket.
func (cl *ClientLimiter) Allow(client string) bool {
	now := time.Now()

	cl.mu.Lock()
	if now.Sub(cl.lastSweep) > clientIdleTTL {
		for id, b := range cl.clients {
			if now.Sub(b.lastSeen) > clientIdleTTL {
				delete(cl.clients, id)
			}
		}
		cl.lastSweep = now
	}
	b, ok := cl.clients[client]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(cl.limit, cl.burst)}
		cl.clients[client] = b
	}
	b.lastSeen = now
	cl.mu.Unlock()

	return b.limiter.AllowN(now, 1)
}

// Clients returns the number of tracked clients.
func (cl *ClientLimiter) Clients() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.clients)
}

// retryAfterSeconds is the time for one token to refill.
func (cl *ClientLimiter) retryAfterSeconds() int {
	if cl.limit <= 0 {
		return 1
	}
	return int(math.Max(1, math.Ceil(1/float64(cl.limit))))
}

// RateLimitMiddleware returns 429 with Retry-After once a client's bucket
// is empty. A nil limiter disables limiting.
func RateLimitMiddleware(limiter *ClientLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := GetClientIP(r)
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%g", float64(limiter.limit)))
			w.Header().Set("X-RateLimit-Burst", fmt.Sprintf("%d", limiter.burst))

			if !limiter.Allow(clientIP) {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", limiter.retryAfterSeconds()))
				log.Printf("CLIENT_RATE_LIMITED | ip=%s path=%s", clientIP, r.URL.Path)
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ============================================================================
// Logging, headers, recovery
// ============================================================================

// statusWriter captures the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs one line per request.
//
// Log format: "HTTP_REQUEST | method=POST path=/v1/route status=200 duration=0.012s ip=10.0.0.1"
func LoggingMiddleware(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)
			logger.Printf("HTTP_REQUEST | method=%s path=%s status=%d duration=%.3fs ip=%s",
				r.Method, r.URL.Path, wrapped.status, time.Since(start).Seconds(), GetClientIP(r))
		})
	}
}

// SecurityHeadersMiddleware sets conservative headers for a JSON API.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Content-Security-Policy", "default-src 'none'")
			h.Set("Cache-Control", "no-store")
			h.Set("Referrer-Policy", "no-referrer")
			next.ServeHTTP(w, r)
		})
	}
}

// RecoveryMiddleware turns a handler panic into a 500 and logs the stack.
func RecoveryMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Printf("PANIC_RECOVERED | method=%s path=%s error=%v\n%s",
						r.Method, r.URL.Path, err, debug.Stack())
					writeError(w, http.StatusInternalServerError, "internal", "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Chain composes middleware; the first one listed runs outermost.
func Chain(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// ============================================================================
// Client address
// ============================================================================

// trustedProxies may set X-Forwarded-For and X-Real-IP.
var trustedProxies = func() []*net.IPNet {
	var nets []*net.IPNet
	for _, cidr := range []string{"127.0.0.1/32", "::1/128", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "fc00::/7"} {
		_, n, _ := net.ParseCIDR(cidr)
		nets = append(nets, n)
	}
	return nets
}()

func isTrustedProxy(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range trustedProxies {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// GetClientIP returns the client address. Forwarding headers are honoured
// only when the connection comes from a trusted proxy, and only when they
// hold a valid IP.
func GetClientIP(r *http.Request) string {
	connIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		connIP = r.RemoteAddr
	}
	if !isTrustedProxy(connIP) {
		return connIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
		return xri
	}
	return connIP
}
