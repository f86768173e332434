package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/orchestraguard-console/internal/connectors"
	"github.com/xela07ax/orchestraguard-console/internal/console/handler"
	"github.com/xela07ax/orchestraguard-console/internal/console/server"
	"github.com/xela07ax/orchestraguard-console/internal/console/service"
	"github.com/xela07ax/orchestraguard-console/internal/infra"
	"github.com/xela07ax/orchestraguard-console/internal/infra/auth"
	"github.com/xela07ax/orchestraguard-console/internal/realtime"
	"github.com/xela07ax/orchestraguard-console/internal/repository/postgres"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// Контекст для управления жизненным циклом фоновых горутин
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Инфраструктура и ресурсы
	store, err := postgres.Connect(appCtx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("database init failed", zap.Error(err))
	}
	defer store.Close()

	pingCtx, pingCancel := context.WithTimeout(appCtx, 15*time.Second)
	if err := store.Ping(pingCtx); err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	pingCancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	var feed realtime.Feed
	switch cfg.Live.Driver {
	case "postgres":
		feed = realtime.NewPGFeed(store.Pool(), cfg.Live.Channel, logger)
	default:
		feed = realtime.NewRedisFeed(rdb, cfg.Live.Channel, logger)
	}

	// Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// 2. Агрегатор состояния дашборда
	api := connectors.NewAPIClient(cfg.API, logger)
	agg := service.NewAggregator(store, api, feed, logger,
		service.WithBufferSize(cfg.Dashboard.AuditBufferSize),
		service.WithMetrics(service.NewMetrics(reg)),
		service.WithNotifier(realtime.NewRedisNotifier(rdb)),
	)

	// Первичная загрузка. Ошибки уже в lastError, стартуем с тем, что есть
	if err := agg.RefreshAuditLogs(appCtx, cfg.Dashboard.InitialAuditLimit); err != nil {
		logger.Warn("initial audit log load failed", zap.Error(err))
	}
	if err := agg.RefreshPolicies(appCtx); err != nil {
		logger.Warn("initial policy load failed", zap.Error(err))
	}
	if err := agg.RefreshMetrics(appCtx); err != nil {
		logger.Warn("initial metrics load failed", zap.Error(err))
	}

	// Подпиской владеет live: первичная здесь, повторные через POST /v1/audit/live/subscribe
	live := service.NewLiveOwner(appCtx, agg)
	if _, err := live.Subscribe(); err != nil {
		logger.Error("live feed unavailable, dashboard runs on polling only", zap.Error(err))
	}
	defer live.Close()

	go agg.RunMetricsPoller(appCtx, cfg.Dashboard.MetricsRefreshInterval)

	// 3. HTTP
	var validator auth.TokenValidator
	if len(cfg.Auth.PublicKey) > 0 {
		v, err := auth.NewRSAValidatorFromPEM(cfg.Auth.PublicKey)
		if err != nil {
			logger.Fatal("invalid auth public key", zap.Error(err))
		}
		validator = v
	} else {
		logger.Warn("auth public key not configured, mutating routes are open")
	}

	consoleSrv := server.NewConsoleServer(logger, validator,
		handler.NewHealthHandler(store, agg, logger),
		handler.NewDashboardHandler(agg),
		handler.NewAuditHandler(agg, cfg.Dashboard.InitialAuditLimit, logger).WithLiveSubscriber(live),
		handler.NewPolicyHandler(agg),
	)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      consoleSrv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	metricsSrv := &http.Server{
		Addr:    cfg.Metrics.Addr,
		Handler: server.NewMetricsHandler(reg),
	}

	// Экспортируем метрики для Prometheus
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", zap.Error(err))
		}
	}()

	// 4. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("console API started", zap.String("addr", srv.Addr), zap.String("live_driver", cfg.Live.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop // Ждем сигнал
	logger.Info("console stopping...")

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	_ = metricsSrv.Shutdown(shutdownCtx)

	live.Close()
	cancel()
	logger.Info("console exited properly")
}
