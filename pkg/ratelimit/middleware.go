package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"
)

// ClientIP returns the address of the caller. When trustProxy is set the
// X-Real-Ip and X-Forwarded-For headers win over RemoteAddr.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip := strings.TrimSpace(r.Header.Get("X-Real-Ip")); ip != "" && net.ParseIP(ip) != nil {
			return ip
		}
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
				return ip
			}
		}
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// Middleware limits requests per client IP. A nil limiter passes everything
// through. onLimited, when not nil, is called for each rejected request.
func Middleware(l *Limiter, trustProxy bool, onLimited func(*http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := l.Allow(ClientIP(r, trustProxy))
			reset := strconv.FormatInt(int64(d.RetryAfter.Seconds()), 10)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			w.Header().Set("X-RateLimit-Reset", reset)
			if d.Allowed {
				next.ServeHTTP(w, r)
				return
			}
			if onLimited != nil {
				onLimited(r)
			}
			w.Header().Set("Retry-After", reset)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"Too many requests. Please slow down."}`))
		})
	}
}
