package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/BradenHooton/clinicauth/internal/models"
	"github.com/BradenHooton/clinicauth/internal/services"
	pkghttp "github.com/BradenHooton/clinicauth/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// AdminServiceInterface defines the administrative account operations
type AdminServiceInterface interface {
	Approve(ctx context.Context, actorID, accountID string) (*models.Account, error)
	Reject(ctx context.Context, actorID, accountID string) (*models.Account, error)
	Unlock(ctx context.Context, actorID, accountID string) (*models.Account, error)
	CreateStaffAccount(ctx context.Context, actorID string, input services.StaffAccountInput) (*models.Account, error)
	ListPending(ctx context.Context, limit int) ([]*models.Account, error)
}

// AdminHandler handles administrator account requests
type AdminHandler struct {
	service AdminServiceInterface
	logger  *slog.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(service AdminServiceInterface, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{service: service, logger: logger}
}

type transitionFunc func(ctx context.Context, actorID, accountID string) (*models.Account, error)

func (h *AdminHandler) transition(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	accountID := chi.URLParam(r, "id")
	if _, err := uuid.Parse(accountID); err != nil {
		writeValidationError(w, "id must be a valid account id")
		return
	}

	acc, err := fn(r.Context(), claims.AccountID, accountID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, newAccountResponse(acc))
}

// Approve handles POST /admin/accounts/{id}/approve
func (h *AdminHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Approve)
}

// Reject handles POST /admin/accounts/{id}/reject
func (h *AdminHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Reject)
}

// Unlock handles POST /admin/accounts/{id}/unlock
func (h *AdminHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Unlock)
}

// CreateStaffAccount handles POST /admin/accounts
func (h *AdminHandler) CreateStaffAccount(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	var req CreateStaffRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	acc, err := h.service.CreateStaffAccount(r.Context(), claims.AccountID, services.StaffAccountInput{
		Handle: req.Handle,
		Name:   req.Name,
		Email:  req.Email,
		Role:   req.Role,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, newAccountResponse(acc))
}

// ListPending handles GET /admin/accounts/pending
// Accepts optional query param ?limit=N (1-100, default 100).
func (h *AdminHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	accounts, err := h.service.ListPending(r.Context(), limit)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	resp := AccountListResponse{Accounts: make([]*AccountResponse, 0, len(accounts)), Count: len(accounts)}
	for _, acc := range accounts {
		resp.Accounts = append(resp.Accounts, newAccountResponse(acc))
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}
