package service

import (
	"context"
	"sync"

	"github.com/xela07ax/orchestraguard-console/internal/domain"
)

// LiveOwner держит live-подписку процесса: первичную из main и ручные
// переподписки через API. Хранит функцию отписки последней подписки.
type LiveOwner struct {
	agg *Aggregator
	ctx context.Context

	mu          sync.Mutex
	unsubscribe func()
}

// NewLiveOwner: ctx живет столько же, сколько процесс, а не HTTP-запрос.
func NewLiveOwner(ctx context.Context, agg *Aggregator) *LiveOwner {
	return &LiveOwner{agg: agg, ctx: ctx, unsubscribe: func() {}}
}

// Subscribe (пере)подписывается и возвращает итоговое состояние соединения.
func (o *LiveOwner) Subscribe() (domain.ConnectionState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	unsubscribe, err := o.agg.SubscribeToLive(o.ctx)
	o.unsubscribe = unsubscribe
	return o.agg.ConnectionState(), err
}

// Close закрывает последнюю выданную подписку.
func (o *LiveOwner) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.unsubscribe()
	o.unsubscribe = func() {}
}
