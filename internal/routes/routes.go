package routes

import (
	"github.com/BradenHooton/clinicauth/internal/auth"
	"github.com/BradenHooton/clinicauth/internal/handlers"
	"github.com/BradenHooton/clinicauth/internal/middleware"
	"github.com/BradenHooton/clinicauth/internal/models"
	"github.com/go-chi/chi/v5"
)

// Dependencies are the pieces the route table is assembled from
type Dependencies struct {
	AuthHandler   *handlers.AuthHandler
	AdminHandler  *handlers.AdminHandler
	HealthHandler *handlers.HealthHandler
	TokenManager  *auth.TokenManager
	Accounts      auth.AccountRepository
	RateLimit     middleware.RateLimitConfig
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, deps Dependencies) {
	router.Get("/health", deps.HealthHandler.Health)

	// Public routes - IP rate limited, no authentication
	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(deps.RateLimit))

		r.Post("/auth/register", deps.AuthHandler.Register)
		r.Post("/auth/verify-email", deps.AuthHandler.VerifyEmail)
		r.Post("/auth/resend-verification", deps.AuthHandler.ResendVerification)
		r.Post("/auth/login", deps.AuthHandler.Login)
		r.Post("/auth/2fa/verify", deps.AuthHandler.VerifyTwoFactor)
		r.Post("/auth/2fa/email-code", deps.AuthHandler.RequestEmailCode)
		r.Post("/auth/forgot-password", deps.AuthHandler.ForgotPassword)
		r.Post("/auth/reset-password", deps.AuthHandler.ResetPassword)
	})

	// Protected routes - session required
	router.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddleware(deps.TokenManager))
		r.Use(middleware.RateLimitByAccount(deps.RateLimit))

		r.Get("/auth/me", deps.AuthHandler.Me)
		r.Post("/auth/change-password", deps.AuthHandler.ChangePassword)
		r.Post("/auth/logout-all", deps.AuthHandler.LogoutAll)

		r.Post("/auth/2fa/enable", deps.AuthHandler.EnableTwoFactor)
		r.Post("/auth/2fa/confirm", deps.AuthHandler.ConfirmTwoFactor)
		r.Post("/auth/2fa/disable", deps.AuthHandler.DisableTwoFactor)
		r.Post("/auth/2fa/backup-codes", deps.AuthHandler.RegenerateBackupCodes)

		// Admin-only routes
		r.Route("/admin/accounts", func(r chi.Router) {
			r.Use(auth.RequireRole(deps.Accounts, models.RoleAdmin))

			r.Post("/", deps.AdminHandler.CreateStaffAccount)
			r.Get("/pending", deps.AdminHandler.ListPending)
			r.Post("/{id}/approve", deps.AdminHandler.Approve)
			r.Post("/{id}/reject", deps.AdminHandler.Reject)
			r.Post("/{id}/unlock", deps.AdminHandler.Unlock)
		})
	})
}
