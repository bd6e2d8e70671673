package handlers

import (
	"net/http"

	pkghttp "github.com/BradenHooton/clinicauth/pkg/http"
)

// VerifyTwoFactor handles POST /auth/2fa/verify, the second step of a login
func (h *AuthHandler) VerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req TwoFactorVerifyRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	accountID, err := h.service.AccountIDFromChallenge(r.Context(), req.ChallengeToken)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	session, err := h.service.VerifyLogin2FA(r.Context(), accountID, req.Code)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, newSessionResponse(session))
}

// RequestEmailCode handles POST /auth/2fa/email-code
func (h *AuthHandler) RequestEmailCode(w http.ResponseWriter, r *http.Request) {
	var req ChallengeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	accountID, err := h.service.AccountIDFromChallenge(r.Context(), req.ChallengeToken)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	if err := h.service.RequestEmailCode(r.Context(), accountID); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, MessageResponse{Message: "A sign-in code has been sent to the account email address."})
}

// EnableTwoFactor handles POST /auth/2fa/enable. Backup codes are shown only in this response.
func (h *AuthHandler) EnableTwoFactor(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	enrollment, err := h.service.EnableTwoFactor(r.Context(), claims.AccountID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, TwoFactorEnrollmentResponse{
		Provisioning: enrollment.Provisioning,
		BackupCodes:  enrollment.BackupCodes,
	})
}

// ConfirmTwoFactor handles POST /auth/2fa/confirm
func (h *AuthHandler) ConfirmTwoFactor(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	var req CodeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.service.ConfirmTwoFactor(r.Context(), claims.AccountID, req.Code); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Two-factor authentication enabled."})
}

// DisableTwoFactor handles POST /auth/2fa/disable
func (h *AuthHandler) DisableTwoFactor(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	var req PasswordRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.service.DisableTwoFactor(r.Context(), claims.AccountID, req.Password); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Two-factor authentication disabled."})
}

// RegenerateBackupCodes handles POST /auth/2fa/backup-codes
func (h *AuthHandler) RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	codes, err := h.service.RegenerateBackupCodes(r.Context(), claims.AccountID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, BackupCodesResponse{BackupCodes: codes})
}
