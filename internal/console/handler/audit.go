package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/orchestraguard-console/internal/domain"
)

// AuditService: буфер аудита и live-поток агрегатора.
type AuditService interface {
	AuditLogs() []domain.AuditLogEntry
	RefreshAuditLogs(ctx context.Context, limit int) error
	GetRecentBlocks(n int) []domain.AuditLogEntry
	ConnectionState() domain.ConnectionState
	Listen() (<-chan domain.AuditLogEntry, func())
}

// LiveSubscriber: владелец live-подписки, которого можно попросить переподписаться.
type LiveSubscriber interface {
	Subscribe() (domain.ConnectionState, error)
}

type AuditHandler struct {
	service        AuditService
	live           LiveSubscriber
	defaultLimit   int
	originPatterns []string
	logger         *zap.Logger
}

func NewAuditHandler(s AuditService, defaultLimit int, logger *zap.Logger) *AuditHandler {
	if defaultLimit <= 0 {
		defaultLimit = 100
	}
	return &AuditHandler{
		service:      s,
		defaultLimit: defaultLimit,
		logger:       logger.Named("audit-handler"),
	}
}

// WithOriginPatterns разрешает websocket с указанных Origin (по умолчанию только свой хост).
func (h *AuditHandler) WithOriginPatterns(patterns ...string) *AuditHandler {
	h.originPatterns = patterns
	return h
}

// WithLiveSubscriber включает ручную переподписку POST /v1/audit/live/subscribe.
func (h *AuditHandler) WithLiveSubscriber(l LiveSubscriber) *AuditHandler {
	h.live = l
	return h
}

// GetLogs отдает текущий буфер, новые первыми.
// GET /v1/audit?limit=...
func (h *AuditHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	logs := h.service.AuditLogs()
	if limit := intParam(r, "limit", len(logs)); limit < len(logs) {
		logs = logs[:limit]
	}
	writeJSON(w, http.StatusOK, logs)
}

// Refresh перечитывает буфер с бэкенда.
// POST /v1/audit/refresh?limit=...
func (h *AuditHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RefreshAuditLogs(r.Context(), intParam(r, "limit", h.defaultLimit)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.service.AuditLogs())
}

// GetBlocks: последние блокировки.
// GET /v1/audit/blocks?n=...
func (h *AuditHandler) GetBlocks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.GetRecentBlocks(intParam(r, "n", 0)))
}

type connectionResponse struct {
	ConnectionState domain.ConnectionState `json:"connection_state"`
}

// Resubscribe заново подписывает консоль на live-поток после обрыва.
// POST /v1/audit/live/subscribe
func (h *AuditHandler) Resubscribe(w http.ResponseWriter, r *http.Request) {
	if h.live == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "live feed is not configured"})
		return
	}

	state, err := h.live.Subscribe()
	if err != nil {
		h.logger.Warn("manual live resubscribe failed", zap.Error(err))
		writeError(w, err)
		return
	}
	h.logger.Info("live feed resubscribed by request", zap.String("request_id", middleware.GetReqID(r.Context())))
	writeJSON(w, http.StatusOK, connectionResponse{ConnectionState: state})
}

type liveHello struct {
	Type            string                 `json:"type"`
	ConnectionState domain.ConnectionState `json:"connection_state"`
}

type liveEvent struct {
	Type  string               `json:"type"`
	Entry domain.AuditLogEntry `json:"entry"`
}

// Live стримит новые записи аудита по websocket.
// GET /v1/audit/live
func (h *AuditHandler) Live(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, stop := h.service.Listen()
	defer stop()

	_ = wsjson.Write(ctx, conn, liveHello{Type: "ready", ConnectionState: h.service.ConnectionState()})

	// Клиент ничего не шлет, читаем только чтобы заметить закрытие
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				readErr <- err
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-readErr:
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case e, ok := <-events:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "closed")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, liveEvent{Type: "audit_log", Entry: e})
			cancelWrite()
			if err != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
				return
			}
		}
	}
}
