package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/orchestraguard-console/internal/domain"
)

func waitState(t *testing.T, a *Aggregator, want domain.ConnectionState) {
	t.Helper()
	assert.Eventually(t, func() bool { return a.ConnectionState() == want }, time.Second, 2*time.Millisecond)
}

// push отдает событие в поток и ждет, пока агрегатор его применит.
func push(t *testing.T, a *Aggregator, s *fakeStream, e domain.AuditLogEntry) {
	t.Helper()
	before := a.Metrics().TotalDecisions
	select {
	case s.events <- e:
	case <-time.After(time.Second):
		t.Fatal("aggregator is not reading the stream")
	}
	require.Eventually(t, func() bool { return a.Metrics().TotalDecisions == before+1 }, time.Second, time.Millisecond)
}

func TestSubscribeToLive_AppliesEventsInOrder(t *testing.T) {
	feed := &fakeFeed{}
	a := newTestAggregator(nil, nil, feed)

	unsubscribe, err := a.SubscribeToLive(context.Background())
	require.NoError(t, err)
	defer unsubscribe()
	assert.Equal(t, domain.ConnConnected, a.ConnectionState())

	s := feed.last()
	push(t, a, s, entry("1", domain.DecisionAllow))
	push(t, a, s, entry("2", domain.DecisionBlock))
	push(t, a, s, entry("3", domain.DecisionAllow))

	m := a.Metrics()
	assert.Equal(t, int64(3), m.TotalDecisions)
	assert.InDelta(t, 1.0, m.AllowRate, 1e-9)
	assert.InDelta(t, 0.5, m.BlockRate, 1e-9)
	assert.InDelta(t, 0.0, m.FlagRate, 1e-9)

	logs := a.AuditLogs()
	require.Len(t, logs, 3)
	assert.Equal(t, []string{"3", "2", "1"}, []string{logs[0].ID, logs[1].ID, logs[2].ID})
}

func TestSubscribeToLive_CapDropsOldest(t *testing.T) {
	feed := &fakeFeed{}
	a := newTestAggregator(nil, nil, feed, WithBufferSize(3))

	unsubscribe, err := a.SubscribeToLive(context.Background())
	require.NoError(t, err)
	defer unsubscribe()

	s := feed.last()
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		push(t, a, s, entry(id, domain.DecisionFlag))
	}

	logs := a.AuditLogs()
	require.Len(t, logs, 3)
	assert.Equal(t, "5", logs[0].ID)
	assert.Equal(t, "3", logs[2].ID)
	assert.Equal(t, int64(5), a.Metrics().TotalDecisions)
}

func TestSubscribeToLive_AckFailure(t *testing.T) {
	feed := &fakeFeed{err: &domain.SubscriptionError{Channel: "audit", Err: errors.New("refused")}}
	a := newTestAggregator(nil, nil, feed)

	unsubscribe, err := a.SubscribeToLive(context.Background())
	var se *domain.SubscriptionError
	require.ErrorAs(t, err, &se)
	assert.NotPanics(t, unsubscribe)

	st := a.Snapshot()
	assert.Equal(t, domain.ConnDisconnected, st.ConnectionState)
	assert.NoError(t, st.LastError, "ack failure is surfaced only as connection state")
	assert.False(t, a.Subscribed())
}

func TestSubscribeToLive_Unsubscribe(t *testing.T) {
	feed := &fakeFeed{}
	a := newTestAggregator(nil, nil, feed)

	unsubscribe, err := a.SubscribeToLive(context.Background())
	require.NoError(t, err)
	require.True(t, a.Subscribed())

	unsubscribe()

	assert.False(t, a.Subscribed())
	assert.Equal(t, domain.ConnDisconnected, a.ConnectionState())
	assert.True(t, feed.last().closed.Load())
	assert.NotPanics(t, unsubscribe, "second call is a no-op")
}

func TestSubscribeToLive_StreamDropNoReconnect(t *testing.T) {
	feed := &fakeFeed{}
	a := newTestAggregator(nil, nil, feed)

	_, err := a.SubscribeToLive(context.Background())
	require.NoError(t, err)

	feed.last().drop()

	waitState(t, a, domain.ConnDisconnected)
	assert.False(t, a.Subscribed())
	assert.Len(t, feed.streams, 1, "no automatic resubscribe")
}

func TestSubscribeToLive_ResubscribeClosesPrevious(t *testing.T) {
	feed := &fakeFeed{}
	a := newTestAggregator(nil, nil, feed)

	_, err := a.SubscribeToLive(context.Background())
	require.NoError(t, err)
	first := feed.last()

	unsubscribe, err := a.SubscribeToLive(context.Background())
	require.NoError(t, err)
	defer unsubscribe()

	assert.True(t, first.closed.Load())
	assert.NotSame(t, first, feed.last())
	assert.Equal(t, domain.ConnConnected, a.ConnectionState())

	push(t, a, feed.last(), entry("x", domain.DecisionBlock))
	assert.Equal(t, "x", a.GetRecentBlocks(1)[0].ID)
}

func TestSubscribeToLive_StaleHandleKeepsCurrent(t *testing.T) {
	feed := &fakeFeed{}
	a := newTestAggregator(nil, nil, feed)

	first, err := a.SubscribeToLive(context.Background())
	require.NoError(t, err)
	second, err := a.SubscribeToLive(context.Background())
	require.NoError(t, err)
	defer second()

	// Владелец первой подписки убирает за собой уже после переподписки
	first()

	assert.Equal(t, domain.ConnConnected, a.ConnectionState())
	assert.True(t, a.Subscribed())
	current := feed.last()
	assert.False(t, current.closed.Load())

	push(t, a, current, entry("after", domain.DecisionAllow))
	assert.Equal(t, "after", a.AuditLogs()[0].ID)

	second()
	assert.Equal(t, domain.ConnDisconnected, a.ConnectionState())
	assert.True(t, current.closed.Load())
}

func TestSubscribeToLive_ConcurrentCallsKeepOneStream(t *testing.T) {
	feed := &fakeFeed{entered: make(chan struct{}, 2), release: make(chan struct{})}
	a := newTestAggregator(nil, nil, feed)

	var (
		wg      sync.WaitGroup
		handles [2]func()
	)
	for i := range handles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := a.SubscribeToLive(context.Background())
			assert.NoError(t, err)
			handles[i] = h
		}()
	}

	<-feed.entered
	close(feed.release)
	wg.Wait()
	defer func() {
		for _, h := range handles {
			h()
		}
	}()

	require.Len(t, feed.streams, 2)
	open := feed.open()
	require.Len(t, open, 1, "previous stream must be closed")
	assert.Equal(t, domain.ConnConnected, a.ConnectionState())

	push(t, a, open[0], entry("1", domain.DecisionBlock))
	assert.Equal(t, int64(1), a.Metrics().TotalDecisions)
}

func TestListen_FanOut(t *testing.T) {
	feed := &fakeFeed{}
	a := newTestAggregator(nil, nil, feed)

	fast, cancelFast := a.Listen()
	defer cancelFast()
	slow, cancelSlow := a.Listen()

	unsubscribe, err := a.SubscribeToLive(context.Background())
	require.NoError(t, err)
	defer unsubscribe()

	s := feed.last()
	for i := 0; i < listenerBuffer+5; i++ {
		push(t, a, s, entry("e", domain.DecisionAllow))
		if i < 3 {
			got := <-fast
			assert.Equal(t, "e", got.ID)
		}
	}

	// Медленный слушатель получил только то, что влезло в его буфер
	assert.Len(t, slow, listenerBuffer)

	cancelSlow()
	cancelSlow()
	for range slow {
	}
}
