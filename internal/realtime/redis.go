package realtime

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/orchestraguard-console/internal/domain"
	"github.com/xela07ax/orchestraguard-console/internal/infra"
)

// RedisFeed: live-поток через Redis Pub/Sub. Бэкенд публикует в канал
// полную строку audit_logs в JSON после каждой вставки.
type RedisFeed struct {
	rdb     *redis.Client
	channel string
	logger  *zap.Logger
}

func NewRedisFeed(rdb *redis.Client, channel string, logger *zap.Logger) *RedisFeed {
	if channel == "" {
		channel = infra.RedisChanAuditInsert
	}
	return &RedisFeed{
		rdb:     rdb,
		channel: channel,
		logger:  logger.Named("redis-feed"),
	}
}

func (f *RedisFeed) Subscribe(ctx context.Context) (Stream, error) {
	pubsub := f.rdb.Subscribe(ctx, f.channel)

	// Проверка успешности подписки: Receive дожидается подтверждения SUBSCRIBE
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, &domain.SubscriptionError{Channel: f.channel, Err: err}
	}

	s := newStream(pubsub.Close)
	ch := pubsub.Channel()

	s.run(func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case msg, ok := <-ch:
				if !ok {
					f.logger.Warn("pubsub channel closed", zap.String("chan", f.channel))
					return
				}

				entry, err := DecodeAuditEntry([]byte(msg.Payload))
				if err != nil {
					f.logger.Error("invalid audit payload", zap.String("chan", f.channel), zap.Error(err))
					continue
				}
				if !s.emit(ctx, entry) {
					return
				}
			}
		}
	})

	f.logger.Info("subscribed", zap.String("chan", f.channel))
	return s, nil
}

// RedisNotifier публикует сигнал обновления политик для агентов и других консолей.
type RedisNotifier struct {
	rdb     *redis.Client
	channel string
}

func NewRedisNotifier(rdb *redis.Client) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, channel: infra.RedisChanPolicyUpdate}
}

func (n *RedisNotifier) NotifyPolicyUpdate(ctx context.Context) error {
	return n.rdb.Publish(ctx, n.channel, "refresh").Err()
}
