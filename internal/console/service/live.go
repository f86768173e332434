package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/xela07ax/orchestraguard-console/internal/domain"
	"github.com/xela07ax/orchestraguard-console/internal/realtime"
)

// Емкость канала live-слушателя. Кто не успевает, теряет события.
const listenerBuffer = 64

type subscription struct {
	stream realtime.Stream
	cancel context.CancelFunc
	done   chan struct{}
}

// SubscribeToLive подписывается на вставки в audit_logs и возвращает функцию отписки.
//
// CONNECTING -> CONNECTED после ack источника. Отказ в ack переводит в DISCONNECTED
// и в lastError не попадает. Обрыв потока тоже DISCONNECTED, переподключения нет.
// Повторный вызов сначала закрывает текущую подписку. Вызовы выполняются по одному.
// Функция отписки закрывает только ту подписку, для которой выдана.
func (a *Aggregator) SubscribeToLive(ctx context.Context) (func(), error) {
	a.subMu.Lock()
	defer a.subMu.Unlock()

	a.mu.Lock()
	prev := a.sub
	a.mu.Unlock()
	if prev != nil {
		a.closeSub(prev)
	}
	a.setConnState(domain.ConnConnecting)

	subCtx, cancel := context.WithCancel(ctx)
	stream, err := a.feed.Subscribe(subCtx)
	if err != nil {
		cancel()
		a.setConnState(domain.ConnDisconnected)
		a.logger.Error("live subscription not acknowledged", zap.Error(err))

		var se *domain.SubscriptionError
		if !errors.As(err, &se) {
			err = &domain.SubscriptionError{Err: err}
		}
		return func() {}, err
	}

	sub := &subscription{stream: stream, cancel: cancel, done: make(chan struct{})}

	a.mu.Lock()
	a.sub = sub
	a.setConnStateLocked(domain.ConnConnected)
	a.mu.Unlock()
	a.logger.Info("live subscription established")

	go a.consume(sub)

	return func() {
		a.subMu.Lock()
		defer a.subMu.Unlock()
		a.closeSub(sub)
	}, nil
}

// consume: единственный читатель потока: события применяются по одному, по порядку.
func (a *Aggregator) consume(sub *subscription) {
	defer close(sub.done)

	for e := range sub.stream.Events() {
		a.applyLiveEntry(e)
	}

	a.mu.Lock()
	current := a.sub == sub
	if current {
		a.sub = nil
		a.setConnStateLocked(domain.ConnDisconnected)
	}
	a.mu.Unlock()

	// Поток закрылся сам, источник отвалился
	if current {
		_ = sub.stream.Close()
		sub.cancel()
		a.logger.Warn("live stream dropped, resubscribe required")
	}
}

// closeSub закрывает sub и ждет остановки читателя. Состояние меняется,
// только если sub все еще текущая подписка. Вызывается под subMu.
func (a *Aggregator) closeSub(sub *subscription) {
	a.mu.Lock()
	current := a.sub == sub
	if current {
		a.sub = nil
		a.setConnStateLocked(domain.ConnDisconnected)
	}
	a.mu.Unlock()

	sub.cancel()
	if err := sub.stream.Close(); err != nil {
		a.logger.Warn("closing live stream", zap.Error(err))
	}
	<-sub.done

	if current {
		a.logger.Info("live subscription closed")
	}
}

// Subscribed: есть ли активная подписка.
func (a *Aggregator) Subscribed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sub != nil
}

// Listen регистрирует live-слушателя. Канал закрывается функцией отмены.
func (a *Aggregator) Listen() (<-chan domain.AuditLogEntry, func()) {
	ch := make(chan domain.AuditLogEntry, listenerBuffer)

	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = ch
	a.mu.Unlock()

	cancel := func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if _, ok := a.listeners[id]; ok {
			delete(a.listeners, id)
			close(ch)
		}
	}
	return ch, cancel
}

func (a *Aggregator) setConnState(s domain.ConnectionState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.setConnStateLocked(s)
}

func (a *Aggregator) setConnStateLocked(s domain.ConnectionState) {
	a.connState = s
	a.telemetry.ConnectionState.Set(connStateValue(s))
}
