package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/xela07ax/orchestraguard-console/internal/domain"
)

// Metrics: телеметрия агрегатора для Prometheus.
type Metrics struct {
	// Traffic: события live-потока по решению
	LiveEvents *prometheus.CounterVec

	// Errors: сбои обращений к бэкенду по операции
	FetchFailures *prometheus.CounterVec

	// Сколько раз метрики пришлось собирать из COUNT-запросов
	MetricsFallback prometheus.Counter

	// Saturation: заполненность буфера аудита
	AuditBufferFill prometheus.Gauge

	// Состояние подписки: 0 - DISCONNECTED, 1 - CONNECTING, 2 - CONNECTED
	ConnectionState prometheus.Gauge

	// Live-слушатели, которые не успели вычитать событие
	ListenerDrops prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		LiveEvents: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "console_live_events_total",
			Help: "Audit log inserts received over the live subscription.",
		}, []string{"decision"}),

		FetchFailures: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "console_fetch_failures_total",
			Help: "Failed backend requests by operation.",
		}, []string{"op"}),

		MetricsFallback: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "console_metrics_fallback_total",
			Help: "Metrics refreshes served from raw count queries.",
		}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "console_audit_buffer_entries",
			Help: "Current number of entries in the audit buffer.",
		}),

		ConnectionState: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "console_live_connection_state",
			Help: "Live subscription state (0=disconnected, 1=connecting, 2=connected).",
		}),

		ListenerDrops: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "console_live_listener_drops_total",
			Help: "Live entries dropped for slow listeners.",
		}),
	}
}

func connStateValue(s domain.ConnectionState) float64 {
	switch s {
	case domain.ConnConnecting:
		return 1
	case domain.ConnConnected:
		return 2
	default:
		return 0
	}
}
