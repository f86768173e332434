package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/orchestraguard-console/internal/infra"
	"go.uber.org/zap"
)

// DB: подмножество pgxpool.Pool, которое нужно хранилищу. В тестах подменяется фейком.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// Store: доступ консоли к таблицам audit_logs и policies.
// Аналог REST-over-Postgres клиента Supabase, только напрямую через pgx.
type Store struct {
	db     DB
	pool   *pgxpool.Pool // nil, если Store собран поверх фейка
	logger *zap.Logger

	pingAttempts uint
	pingDelay    time.Duration
}

// NewStore оборачивает готовое соединение.
func NewStore(db DB, logger *zap.Logger) *Store {
	s := &Store{
		db:           db,
		logger:       logger.Named("pg-store"),
		pingAttempts: 3,
		pingDelay:    time.Second,
	}
	if pool, ok := db.(*pgxpool.Pool); ok {
		s.pool = pool
	}
	return s
}

// Connect создает пул по конфигу. Доступность базы проверяется отдельно через Ping.
func Connect(ctx context.Context, cfg infra.DatabaseConfig, logger *zap.Logger) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: invalid database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pcfg.MinConns = cfg.MinConns
	}
	pcfg.MaxConnLifetime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to create pool: %w", err)
	}
	return NewStore(pool, logger), nil
}

// Pool отдает пул для LISTEN/NOTIFY подписки. Может быть nil.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Ping проверяет доступность базы при старте: 3 попытки с линейно растущей паузой.
// Рабочие запросы (refresh*) не ретраятся — повтор всегда за вызывающим.
func (s *Store) Ping(ctx context.Context) error {
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(s.pingAttempts),
		retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
			return time.Duration(n+1) * s.pingDelay
		}),
	)

	attempt := 0
	return r.Do(func() error {
		attempt++
		err := s.db.Ping(ctx)
		if err != nil {
			s.logger.Warn("database ping failed", zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	})
}

// HealthCheck: одиночный ping для /health, без повторов.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
