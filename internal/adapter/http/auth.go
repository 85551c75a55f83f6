package http

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/bnema/sketchmotion/internal/adapter/http/ratelimit"
	"github.com/bnema/sketchmotion/internal/infrastructure/logger"
	"github.com/bnema/sketchmotion/internal/infrastructure/metrics"
	"github.com/bnema/sketchmotion/internal/service"
)

type Authenticator interface {
	Verify(token string) error
}

// AuthMiddleware requires a valid bearer token. Clients that keep failing are
// locked out by the limiter before their token is even checked.
func AuthMiddleware(auth Authenticator, limiter *ratelimit.AuthFailureLimiter, behindProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientIP(r, behindProxy)

			if limiter != nil {
				if blocked, remaining := limiter.Blocked(client); blocked {
					w.Header().Set("Retry-After", strconv.Itoa(int(remaining.Seconds())+1))
					WriteError(w, http.StatusTooManyRequests, "too many failed attempts", "RATE_LIMITED")
					return
				}
			}

			token := service.BearerToken(r.Header.Get("Authorization"))
			if token == "" {
				token = r.URL.Query().Get("access_token")
			}
			if err := auth.Verify(token); err != nil {
				metrics.AuthFailuresTotal.Inc()
				if limiter != nil {
					if blocked, _ := limiter.RecordFailure(client); blocked {
						logger.Warn.Printf("client %s blocked after repeated auth failures", logger.SanitizeForLog(client))
					}
				}
				WriteError(w, http.StatusUnauthorized, err.Error(), "UNAUTHORIZED")
				return
			}
			if limiter != nil {
				limiter.Reset(client)
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request, behindProxy bool) string {
	if behindProxy {
		if ip := r.Header.Get("X-Real-IP"); ip != "" {
			return ip
		}
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
