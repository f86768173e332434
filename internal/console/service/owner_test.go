package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/orchestraguard-console/internal/domain"
)

func TestLiveOwner_ResubscribeAfterDrop(t *testing.T) {
	feed := &fakeFeed{}
	a := newTestAggregator(nil, nil, feed)
	owner := NewLiveOwner(context.Background(), a)

	state, err := owner.Subscribe()
	require.NoError(t, err)
	assert.Equal(t, domain.ConnConnected, state)

	feed.last().drop()
	waitState(t, a, domain.ConnDisconnected)

	state, err = owner.Subscribe()
	require.NoError(t, err)
	assert.Equal(t, domain.ConnConnected, state)
	assert.Len(t, feed.streams, 2)

	owner.Close()
	assert.Equal(t, domain.ConnDisconnected, a.ConnectionState())
	assert.Empty(t, feed.open())
	assert.NotPanics(t, owner.Close)
}

func TestLiveOwner_FailedSubscribe(t *testing.T) {
	feed := &fakeFeed{}
	a := newTestAggregator(nil, nil, feed)
	owner := NewLiveOwner(context.Background(), a)

	_, err := owner.Subscribe()
	require.NoError(t, err)

	feed.mu.Lock()
	feed.err = errors.New("redis down")
	feed.mu.Unlock()

	state, err := owner.Subscribe()
	var se *domain.SubscriptionError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, domain.ConnDisconnected, state)
	assert.Empty(t, feed.open(), "previous subscription is closed before the new attempt")
	assert.NoError(t, a.LastError())

	owner.Close()
}
