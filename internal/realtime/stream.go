package realtime

import (
	"context"
	"sync"

	"github.com/xela07ax/orchestraguard-console/internal/domain"
)

// Stream: подтвержденная подписка на вставки в audit_logs.
// Канал Events закрывается, когда источник отвалился, контекст подписки отменен
// или вызван Close. Переподключения нет: нужен новый Subscribe.
type Stream interface {
	Events() <-chan domain.AuditLogEntry
	Close() error
}

// Feed создает Stream. Subscribe возвращает управление только после ack от источника,
// отказ оборачивается в *domain.SubscriptionError.
type Feed interface {
	Subscribe(ctx context.Context) (Stream, error)
}

// stream: общая часть Redis и Postgres реализаций: pump-горутина пишет в events,
// Close останавливает ее и освобождает ресурс источника.
type stream struct {
	events  chan domain.AuditLogEntry
	done    chan struct{}
	release func() error

	once sync.Once
	wg   sync.WaitGroup
	err  error
}

func newStream(release func() error) *stream {
	return &stream{
		events:  make(chan domain.AuditLogEntry),
		done:    make(chan struct{}),
		release: release,
	}
}

func (s *stream) Events() <-chan domain.AuditLogEntry {
	return s.events
}

func (s *stream) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.err = s.release()
	})
	s.wg.Wait()
	return s.err
}

// run запускает pump. Канал events закрывается, когда pump вернулся.
func (s *stream) run(pump func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.events)
		pump()
	}()
}

// emit блокируется до чтения события потребителем; false — поток закрывают.
func (s *stream) emit(ctx context.Context, e domain.AuditLogEntry) bool {
	select {
	case s.events <- e:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}
