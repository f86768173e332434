package service

/*
Файл aggregator.go — клиентское состояние дашборда OrchestraGuard.

Агрегатор держит ограниченный буфер последних записей аудита, накопительные
метрики решений, кэш активных политик и live-подписку. Состояние меняют три
независимых источника:
- полная перезагрузка с бэкенда (RefreshAuditLogs, RefreshMetrics, RefreshPolicies);
- события live-потока, по одному, в порядке получения;
- таймер метрик (RunMetricsPoller).

Все поля под одним мьютексом, сетевые вызовы идут без блокировки. Параллельные
запросы не сливаются и не отменяются: побеждает ответ, пришедший последним.
*/

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xela07ax/orchestraguard-console/internal/domain"
	"github.com/xela07ax/orchestraguard-console/internal/policy"
	"github.com/xela07ax/orchestraguard-console/internal/realtime"
)

const (
	DefaultBufferSize  = 100
	DefaultRecentBlock = 10
)

// AuditStore описывает требования агрегатора к хранилищу (audit_logs, policies).
type AuditStore interface {
	FetchAuditLogs(ctx context.Context, limit int) ([]domain.AuditLogEntry, error)
	CountAuditLogs(ctx context.Context, decision domain.Decision) (int64, error)
	FetchActivePolicies(ctx context.Context) ([]domain.Policy, error)
	CountActivePolicies(ctx context.Context) (int64, error)
	InsertPolicy(ctx context.Context, name string, rules domain.RuleDocument) (*domain.Policy, error)
	UpdatePolicy(ctx context.Context, id string, upd domain.PolicyUpdate) error
}

// AnalysisAPI: внешний сервис метрик, анализа политик и перехвата.
type AnalysisAPI interface {
	FetchMetrics(ctx context.Context) (domain.MetricsSnapshot, error)
	AnalyzePolicy(ctx context.Context, req domain.AnalyzeRequest) (*domain.AnalyzeResponse, error)
	Intercept(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)
}

// PolicyNotifier рассылает сигнал об изменении политик.
type PolicyNotifier interface {
	NotifyPolicyUpdate(ctx context.Context) error
}

// State: согласованная копия состояния агрегатора.
type State struct {
	AuditLogs       []domain.AuditLogEntry
	Metrics         domain.MetricsSnapshot
	Policies        []domain.Policy
	ConnectionState domain.ConnectionState
	IsLoading       bool
	LastError       error
}

type Option func(*Aggregator)

// WithBufferSize задает емкость буфера аудита. Непозитивные значения игнорируются.
func WithBufferSize(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.buffer = newAuditBuffer(n)
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(a *Aggregator) { a.telemetry = m }
}

func WithNotifier(n PolicyNotifier) Option {
	return func(a *Aggregator) { a.notifier = n }
}

type Aggregator struct {
	store     AuditStore
	api       AnalysisAPI
	feed      realtime.Feed
	notifier  PolicyNotifier
	telemetry *Metrics
	logger    *zap.Logger

	mu        sync.Mutex
	buffer    *auditBuffer
	metrics   domain.MetricsSnapshot
	policies  *policy.MemoCache
	connState domain.ConnectionState
	loading   bool
	lastErr   error

	// subMu упорядочивает SubscribeToLive и отписки между собой
	subMu sync.Mutex

	sub       *subscription
	listeners map[uint64]chan domain.AuditLogEntry
	nextID    uint64
}

func NewAggregator(store AuditStore, api AnalysisAPI, feed realtime.Feed, logger *zap.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:     store,
		api:       api,
		feed:      feed,
		logger:    logger.Named("aggregator"),
		buffer:    newAuditBuffer(DefaultBufferSize),
		policies:  policy.NewMemoCache(logger),
		connState: domain.ConnDisconnected,
		listeners: make(map[uint64]chan domain.AuditLogEntry),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.telemetry == nil {
		a.telemetry = NewMetrics(nil)
	}
	return a
}

// Snapshot отдает копию всего состояния, снятую под одной блокировкой.
func (a *Aggregator) Snapshot() State {
	a.mu.Lock()
	defer a.mu.Unlock()

	return State{
		AuditLogs:       a.buffer.snapshot(),
		Metrics:         a.metrics,
		Policies:        a.policies.List(),
		ConnectionState: a.connState,
		IsLoading:       a.loading,
		LastError:       a.lastErr,
	}
}

func (a *Aggregator) Metrics() domain.MetricsSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.metrics
}

func (a *Aggregator) AuditLogs() []domain.AuditLogEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buffer.snapshot()
}

func (a *Aggregator) ConnectionState() domain.ConnectionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connState
}

func (a *Aggregator) LastError() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

// GetRecentBlocks: первые n записей BLOCK из буфера. n <= 0 означает 10.
func (a *Aggregator) GetRecentBlocks(n int) []domain.AuditLogEntry {
	if n <= 0 {
		n = DefaultRecentBlock
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buffer.blocks(n)
}

// GetDecisionStats: доли решений по текущему буферу.
func (a *Aggregator) GetDecisionStats() domain.DecisionStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return domain.ComputeDecisionStats(a.buffer.entries)
}

// RefreshAuditLogs заменяет буфер целиком последними limit записями.
// При ошибке буфер остается прежним.
func (a *Aggregator) RefreshAuditLogs(ctx context.Context, limit int) error {
	a.begin()
	entries, err := a.store.FetchAuditLogs(ctx, limit)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.loading = false
	if err != nil {
		return a.failLocked("refresh_audit_logs", err)
	}

	a.buffer.replace(entries)
	a.telemetry.AuditBufferFill.Set(float64(a.buffer.size()))
	return nil
}

// RefreshMetrics берет готовый снимок с API, а если API недоступен,
// собирает его из COUNT-запросов к хранилищу.
func (a *Aggregator) RefreshMetrics(ctx context.Context) error {
	a.begin()

	m, err := a.api.FetchMetrics(ctx)
	if err != nil {
		a.logger.Warn("metrics endpoint unavailable, falling back to counts", zap.Error(err))
		a.telemetry.FetchFailures.WithLabelValues("fetch_metrics").Inc()
		a.telemetry.MetricsFallback.Inc()
		m, err = a.metricsFromCounts(ctx)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.loading = false
	if err != nil {
		return a.failLocked("refresh_metrics", err)
	}

	a.metrics = m
	return nil
}

// metricsFromCounts: пять независимых COUNT-запросов параллельно.
func (a *Aggregator) metricsFromCounts(ctx context.Context) (domain.MetricsSnapshot, error) {
	var total, allow, block, flag, active int64

	g, gctx := errgroup.WithContext(ctx)
	count := func(dst *int64, d domain.Decision) {
		g.Go(func() error {
			n, err := a.store.CountAuditLogs(gctx, d)
			*dst = n
			return err
		})
	}
	count(&total, "")
	count(&allow, domain.DecisionAllow)
	count(&block, domain.DecisionBlock)
	count(&flag, domain.DecisionFlag)
	g.Go(func() error {
		n, err := a.store.CountActivePolicies(gctx)
		active = n
		return err
	})

	if err := g.Wait(); err != nil {
		return domain.MetricsSnapshot{}, err
	}
	return domain.MetricsFromCounts(total, allow, block, flag, active), nil
}

// begin отмечает начало запроса: флаг загрузки и сброс прошлой ошибки.
func (a *Aggregator) begin() {
	a.mu.Lock()
	a.loading = true
	a.lastErr = nil
	a.mu.Unlock()
}

// failLocked фиксирует ошибку в lastError и возвращает ее же. Вызывается под a.mu.
// ParseError и FetchError сохраняются как есть, остальное оборачивается в FetchError.
func (a *Aggregator) failLocked(op string, err error) error {
	var (
		pe *domain.ParseError
		fe *domain.FetchError
	)
	if !errors.As(err, &pe) && !errors.As(err, &fe) {
		err = &domain.FetchError{Op: op, Err: err}
	}

	a.lastErr = err
	a.telemetry.FetchFailures.WithLabelValues(op).Inc()
	a.logger.Error("operation failed", zap.String("op", op), zap.Error(err))
	return err
}
