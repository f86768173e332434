package handler

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/orchestraguard-console/internal/domain"
)

const healthTimeout = 2 * time.Second

// DatabaseChecker: одиночная проверка доступности базы.
type DatabaseChecker interface {
	HealthCheck(ctx context.Context) error
}

// LiveStatus: состояние live-подписки агрегатора.
type LiveStatus interface {
	ConnectionState() domain.ConnectionState
}

type HealthHandler struct {
	db     DatabaseChecker
	live   LiveStatus
	logger *zap.Logger
}

func NewHealthHandler(db DatabaseChecker, live LiveStatus, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{db: db, live: live, logger: logger.Named("health")}
}

type databaseHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type healthResponse struct {
	Status    string                 `json:"status"`
	Service   string                 `json:"service"`
	Timestamp time.Time              `json:"timestamp"`
	Database  databaseHealth         `json:"database"`
	Live      domain.ConnectionState `json:"live"`
}

// Check: healthy, если база отвечает. Без базы degraded и 503.
// Потерянный live-поток только виден в ответе, на статус не влияет.
// GET /health
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{
		Status:    "healthy",
		Service:   "orchestraguard-console",
		Timestamp: time.Now().UTC(),
		Database:  databaseHealth{Status: "healthy"},
		Live:      h.live.ConnectionState(),
	}
	code := http.StatusOK

	if err := h.db.HealthCheck(ctx); err != nil {
		h.logger.Warn("database health check failed", zap.Error(err))
		resp.Status = "degraded"
		resp.Database = databaseHealth{Status: "unhealthy", Error: err.Error()}
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}
