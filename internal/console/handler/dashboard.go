package handler

import (
	"context"
	"net/http"

	"github.com/xela07ax/orchestraguard-console/internal/console/service"
	"github.com/xela07ax/orchestraguard-console/internal/domain"
)

// DashboardService Описываем, что нам нужно от агрегатора
type DashboardService interface {
	Snapshot() service.State
	GetDecisionStats() domain.DecisionStats
	Metrics() domain.MetricsSnapshot
	RefreshMetrics(ctx context.Context) error
}

type DashboardHandler struct {
	service DashboardService
}

func NewDashboardHandler(s DashboardService) *DashboardHandler {
	return &DashboardHandler{service: s}
}

type dashboardResponse struct {
	AuditLogs       []domain.AuditLogEntry `json:"audit_logs"`
	Metrics         domain.MetricsSnapshot `json:"metrics"`
	DecisionStats   domain.DecisionStats   `json:"decision_stats"`
	RecentBlocks    []domain.AuditLogEntry `json:"recent_blocks"`
	Policies        []domain.Policy        `json:"policies"`
	ConnectionState domain.ConnectionState `json:"connection_state"`
	IsLoading       bool                   `json:"is_loading"`
	LastError       string                 `json:"last_error,omitempty"`
}

// Get отдает полный снимок состояния для первой отрисовки дашборда.
// Производные поля считаются по тому же снимку, что и audit_logs.
// GET /v1/dashboard
func (h *DashboardHandler) Get(w http.ResponseWriter, r *http.Request) {
	st := h.service.Snapshot()

	resp := dashboardResponse{
		AuditLogs:       st.AuditLogs,
		Metrics:         st.Metrics,
		DecisionStats:   domain.ComputeDecisionStats(st.AuditLogs),
		RecentBlocks:    domain.RecentBlocks(st.AuditLogs, intParam(r, "blocks", service.DefaultRecentBlock)),
		Policies:        st.Policies,
		ConnectionState: st.ConnectionState,
		IsLoading:       st.IsLoading,
	}
	if st.LastError != nil {
		resp.LastError = st.LastError.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetStats: доли решений по буферу.
// GET /v1/dashboard/stats
func (h *DashboardHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.GetDecisionStats())
}

// GetMetrics: накопительные метрики.
// GET /v1/dashboard/metrics
func (h *DashboardHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Metrics())
}

// RefreshMetrics: ручное обновление метрик, отвечает свежим снимком.
// POST /v1/dashboard/metrics/refresh
func (h *DashboardHandler) RefreshMetrics(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RefreshMetrics(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.service.Metrics())
}
