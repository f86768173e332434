package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xela07ax/orchestraguard-console/internal/console/handler"
	"github.com/xela07ax/orchestraguard-console/internal/domain"
	"github.com/xela07ax/orchestraguard-console/internal/infra/auth"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger

	// Проверка токенов (RS256). nil — мутирующие роуты открыты
	authValidator auth.TokenValidator

	// Обработчики
	healthHandler *handler.HealthHandler    // /health
	dashHandler   *handler.DashboardHandler // /v1/dashboard
	auditHandler  *handler.AuditHandler     // /v1/audit
	policyHandler *handler.PolicyHandler    // /v1/policies, /v1/intercept
}

// NewConsoleServer собирает роутер дашборда со всеми обработчиками
func NewConsoleServer(
	logger *zap.Logger,
	validator auth.TokenValidator,
	healthH *handler.HealthHandler,
	dashH *handler.DashboardHandler,
	auditH *handler.AuditHandler,
	policyH *handler.PolicyHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:        chi.NewRouter(),
		logger:        logger.Named("console-api"),
		authValidator: validator,
		healthHandler: healthH,
		dashHandler:   dashH,
		auditHandler:  auditH,
		policyHandler: policyH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	// --- 2. ЧТЕНИЕ СОСТОЯНИЯ ---
	r.Group(func(r chi.Router) {
		r.Get("/health", s.healthHandler.Check)

		r.Route("/v1/dashboard", func(r chi.Router) {
			r.Get("/", s.dashHandler.Get)
			r.Get("/stats", s.dashHandler.GetStats)
			r.Get("/metrics", s.dashHandler.GetMetrics)
			r.Post("/metrics/refresh", s.dashHandler.RefreshMetrics)
		})

		r.Route("/v1/audit", func(r chi.Router) {
			r.Get("/", s.auditHandler.GetLogs)
			r.Post("/refresh", s.auditHandler.Refresh)
			r.Get("/blocks", s.auditHandler.GetBlocks)
			r.Get("/live", s.auditHandler.Live) // websocket
			s.protected(r).Post("/live/subscribe", s.auditHandler.Resubscribe)
		})

		r.Get("/v1/policies", s.policyHandler.List)
		r.Get("/v1/policies/match", s.policyHandler.Match)
	})

	// --- 3. МУТАЦИИ (RS256 токен со scope policy.write, если ключ настроен) ---
	r.Group(func(r chi.Router) {
		r = s.protected(r)

		r.Post("/v1/policies", s.policyHandler.Create)
		r.Put("/v1/policies/{id}", s.policyHandler.Update)
		r.Post("/v1/policies/analyze", s.policyHandler.Analyze)
		r.Post("/v1/intercept", s.policyHandler.Intercept)
	})
}

// protected навешивает проверку токена со scope policy.write, если ключ настроен.
func (s *ConsoleServer) protected(r chi.Router) chi.Router {
	if s.authValidator == nil {
		return r
	}
	return r.With(auth.NewMiddleware(s.authValidator, domain.ScopePolicyWrite, s.logger))
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestLogger: access log через zap вместо middleware.Logger.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			logger.Info("request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("took", time.Since(start)))
		})
	}
}

// NewMetricsHandler: отдельный листенер для Prometheus.
func NewMetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}
