package handlers

import (
	"context"
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/clinicauth/pkg/http"
)

// Pinger is the database view the health check needs
type Pinger interface {
	HealthCheck(ctx context.Context) error
	PoolStats() (total, idle int32)
}

// HealthHandler serves GET /health
type HealthHandler struct {
	db      Pinger
	timeout time.Duration
}

func NewHealthHandler(db Pinger) *HealthHandler {
	return &HealthHandler{db: db, timeout: 2 * time.Second}
}

type HealthResponse struct {
	Status     string `json:"status"`
	Database   string `json:"database"`
	TotalConns int32  `json:"total_conns"`
	IdleConns  int32  `json:"idle_conns"`
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	total, idle := h.db.PoolStats()
	resp := HealthResponse{Status: "healthy", Database: "up", TotalConns: total, IdleConns: idle}
	status := http.StatusOK
	if err := h.db.HealthCheck(ctx); err != nil {
		resp.Status, resp.Database = "unhealthy", "down"
		status = http.StatusServiceUnavailable
	}
	pkghttp.WriteJSON(w, status, resp)
}
