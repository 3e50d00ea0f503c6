package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	counts map[string]int64
	err    error
}

func (m *memStore) Incr(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if m.err != nil {
		return 0, 0, m.err
	}
	if m.counts == nil {
		m.counts = make(map[string]int64)
	}
	m.counts[key]++
	return m.counts[key], window, nil
}

func TestLimiterAllowsUpToLimit(t *testing.T) {
	l := NewLimiter(&memStore{}, 2, time.Minute)
	ctx := context.Background()

	d, err := l.Allow(ctx, "proj")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)

	d, err = l.Allow(ctx, "proj")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)

	d, err = l.Allow(ctx, "proj")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 2, d.Limit)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, time.Minute, d.Reset)

	d, err = l.Allow(ctx, "other")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLimiterDisabled(t *testing.T) {
	store := &memStore{err: errors.New("unreachable")}
	d, err := NewLimiter(store, 0, time.Minute).Allow(context.Background(), "proj")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLimiterStoreError(t *testing.T) {
	_, err := NewLimiter(&memStore{err: errors.New("redis down")}, 5, time.Minute).Allow(context.Background(), "proj")
	assert.Error(t, err)
}

func TestRetryHint(t *testing.T) {
	assert.Equal(t, "1 minute", RetryHint(0))
	assert.Equal(t, "1 minute", RetryHint(30*time.Second))
	assert.Equal(t, "2 minutes", RetryHint(61*time.Second))
	assert.Equal(t, "1 hour", RetryHint(time.Hour))
	assert.Equal(t, "3 hours", RetryHint(2*time.Hour+time.Minute))
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Limit: 60, RetryAfter: 90 * time.Second}
	assert.Equal(t, "Rate limit of 60 requests exceeded. Please try again in 2 minutes.", err.Error())
}
