package realtime

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xela07ax/orchestraguard-console/internal/domain"
	"github.com/xela07ax/orchestraguard-console/internal/infra"
)

// PGFeed: live-поток через LISTEN/NOTIFY. Триггер на audit_logs делает
// pg_notify(channel, row_to_json(NEW)::text). Подписка держит отдельное соединение пула.
type PGFeed struct {
	pool    *pgxpool.Pool
	channel string
	logger  *zap.Logger
}

func NewPGFeed(pool *pgxpool.Pool, channel string, logger *zap.Logger) *PGFeed {
	if channel == "" {
		channel = infra.PgChanAuditInsert
	}
	return &PGFeed{
		pool:    pool,
		channel: channel,
		logger:  logger.Named("pg-feed"),
	}
}

func (f *PGFeed) Subscribe(ctx context.Context) (Stream, error) {
	conn, err := f.pool.Acquire(ctx)
	if err != nil {
		return nil, &domain.SubscriptionError{Channel: f.channel, Err: err}
	}

	// Ack: успешный LISTEN
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{f.channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, &domain.SubscriptionError{Channel: f.channel, Err: err}
	}

	listenCtx, cancel := context.WithCancel(ctx)
	s := newStream(func() error {
		cancel()
		return nil
	})

	s.run(func() {
		defer f.releaseConn(conn)
		for {
			n, err := conn.Conn().WaitForNotification(listenCtx)
			if err != nil {
				if listenCtx.Err() == nil {
					f.logger.Warn("listen connection lost", zap.String("chan", f.channel), zap.Error(err))
				}
				return
			}

			entry, err := DecodeAuditEntry([]byte(n.Payload))
			if err != nil {
				f.logger.Error("invalid audit payload", zap.String("chan", f.channel), zap.Error(err))
				continue
			}
			if !s.emit(listenCtx, entry) {
				return
			}
		}
	})

	f.logger.Info("listening", zap.String("chan", f.channel))
	return s, nil
}

// releaseConn возвращает соединение в пул. Если отмена WaitForNotification
// порвала соединение, пул сам его выбросит.
func (f *PGFeed) releaseConn(conn *pgxpool.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if !conn.Conn().IsClosed() {
		if _, err := conn.Exec(ctx, "UNLISTEN *"); err != nil {
			f.logger.Debug("unlisten failed", zap.Error(err))
		}
	}
	conn.Release()
}
