package middleware

import (
	"net/http"
	"time"

	"github.com/BradenHooton/clinicauth/internal/auth"
	pkghttp "github.com/BradenHooton/clinicauth/pkg/http"
	"github.com/go-chi/httprate"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
	Proxies           *pkghttp.ProxyTrust
}

// DefaultAuthRateLimit returns the limit applied to unauthenticated auth routes
func DefaultAuthRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 20,
	}
}

func (c RateLimitConfig) requests() int {
	if c.RequestsPerMinute <= 0 {
		return DefaultAuthRateLimit().RequestsPerMinute
	}
	return c.RequestsPerMinute
}

func limitExceeded(w http.ResponseWriter, r *http.Request) {
	pkghttp.WriteTooManyRequests(w, "Rate limit exceeded")
}

// RateLimitByIP creates a middleware that rate limits requests by client IP.
// Forwarded headers are honoured only from trusted proxies.
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.requests(),
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return clientIP(r, config.Proxies), nil
		}),
		httprate.WithLimitHandler(limitExceeded),
	)
}

// RateLimitByAccount limits authenticated routes per account. Must run after
// auth.AuthMiddleware; requests without claims fall back to the client IP.
func RateLimitByAccount(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.requests(),
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if claims := auth.GetClaimsFromContext(r); claims != nil {
				return "account:" + claims.AccountID, nil
			}
			return "ip:" + clientIP(r, config.Proxies), nil
		}),
		httprate.WithLimitHandler(limitExceeded),
	)
}
