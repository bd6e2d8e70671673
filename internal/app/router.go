package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/clinicauth/internal/handlers"
	middlewareCustom "github.com/BradenHooton/clinicauth/internal/middleware"
	"github.com/BradenHooton/clinicauth/internal/routes"
	pkghttp "github.com/BradenHooton/clinicauth/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const requestTimeout = 60 * time.Second

// Router builds the HTTP handler with the full middleware chain
func (a *App) Router() http.Handler {
	cfg := a.Config
	proxies, err := pkghttp.ParseProxyTrust(cfg.Server.TrustedProxies)
	if err != nil {
		// Load rejects bad entries; a nil trust reads only the peer address
		a.Logger.Error("ignoring trusted proxies", slog.Any("error", err))
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.RequestMeta(proxies))
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.NewCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(a.Logger, proxies))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(requestTimeout))

	routes.RegisterRoutes(router, routes.Dependencies{
		AuthHandler:   handlers.NewAuthHandler(a.Auth, a.Logger),
		AdminHandler:  handlers.NewAdminHandler(a.Admin, a.Logger),
		HealthHandler: handlers.NewHealthHandler(a.DB),
		TokenManager:  a.Tokens,
		Accounts:      a.Accounts,
		RateLimit: middlewareCustom.RateLimitConfig{
			RequestsPerMinute: cfg.Server.AuthRateLimit,
			Proxies:           proxies,
		},
	})
	return router
}
