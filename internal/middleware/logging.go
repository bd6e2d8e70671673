package middleware

import (
	"log/slog"
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/clinicauth/pkg/http"
	pkglogger "github.com/BradenHooton/clinicauth/pkg/logger"
	"github.com/go-chi/chi/v5/middleware"
)

// RequestMeta resolves the client IP once and stores it with the user agent on
// the request context. Audit records, the request log and the per-client rate
// limits all read it from there.
func RequestMeta(trust *pkghttp.ProxyTrust) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := pkglogger.WithRequestMeta(r.Context(), pkglogger.RequestMeta{
				IPAddress: trust.ClientIP(r),
				UserAgent: r.UserAgent(),
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// clientIP prefers the address RequestMeta resolved for this request
func clientIP(r *http.Request, trust *pkghttp.ProxyTrust) string {
	if ip := pkglogger.RequestMetaFrom(r.Context()).IPAddress; ip != "" {
		return ip
	}
	return trust.ClientIP(r)
}

// SecureLogger returns a middleware for logging HTTP requests with sensitive data redaction
func SecureLogger(logger *slog.Logger, trust *pkghttp.ProxyTrust) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(wrapped, r)

			// Reset and verification tokens travel in query strings
			path := r.URL.Path
			if r.URL.RawQuery != "" {
				path += "?" + pkglogger.RedactQuery(r.URL.RawQuery)
			}

			status := wrapped.Status()
			if status == 0 {
				status = http.StatusOK
			}

			level := slog.LevelInfo
			if status >= http.StatusInternalServerError {
				level = slog.LevelError
			}

			logger.LogAttrs(r.Context(), level, "http_request",
				slog.String("method", r.Method),
				slog.String("path", path),
				slog.Int("status", status),
				slog.Int64("bytes", int64(wrapped.BytesWritten())),
				slog.String("duration", time.Since(start).String()),
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.String("client_ip", clientIP(r, trust)),
			)
		})
	}
}
