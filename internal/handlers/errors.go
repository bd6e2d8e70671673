package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/clinicauth/internal/limiters"
	"github.com/BradenHooton/clinicauth/internal/models"
	pkghttp "github.com/BradenHooton/clinicauth/pkg/http"
)

func writeValidationError(w http.ResponseWriter, message string) {
	pkghttp.WriteError(w, http.StatusBadRequest, string(models.KindValidation), message)
}

// authErrorStatus maps each error kind to its HTTP status
var authErrorStatus = map[models.ErrorKind]int{
	models.KindValidation:         http.StatusBadRequest,
	models.KindDuplicate:          http.StatusConflict,
	models.KindInvalidCredentials: http.StatusUnauthorized,
	models.KindAccountState:       http.StatusForbidden,
	models.KindLocked:             http.StatusLocked,
	models.KindToken:              http.StatusBadRequest,
	models.KindReuse:              http.StatusUnprocessableEntity,
	models.KindTwoFactor:          http.StatusUnauthorized,
}

// writeServiceError renders a service error in the stable error shape.
// Anything that is not an AuthError is logged and reported as a 500.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var authErr *models.AuthError
	switch {
	case errors.As(err, &authErr):
		writeAuthError(w, authErr)
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Account not found")
	default:
		logger.Error("request failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

func writeAuthError(w http.ResponseWriter, authErr *models.AuthError) {
	if authErr.Kind == models.KindLocked && authErr.LockedUntil != nil {
		pkghttp.WriteLocked(w, authErr.Message, *authErr.LockedUntil, time.Now())
		return
	}
	if errors.Is(authErr, limiters.ErrTwoFactorRateLimited) {
		pkghttp.WriteTooManyRequests(w, authErr.Message)
		return
	}

	status, ok := authErrorStatus[authErr.Kind]
	if !ok {
		status = http.StatusBadRequest
	}
	pkghttp.WriteErrorResponse(w, status, pkghttp.ErrorResponse{
		Error:             string(authErr.Kind),
		Message:           authErr.Message,
		Status:            string(authErr.Status),
		AttemptsRemaining: authErr.AttemptsRemaining,
	})
}
