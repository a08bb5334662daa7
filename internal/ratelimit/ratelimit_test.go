package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gabrielauvo/autonomo/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeCounter struct {
	n   int
	err error
}

func (c *fakeCounter) CountFailedOperations(ctx context.Context, userID string, window time.Duration) (int, error) {
	return c.n, c.err
}

func TestAllow_BurstThenLimited(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, Burst: 3}, nil, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Allow(ctx, "u1"))
	}
	assert.ErrorIs(t, l.Allow(ctx, "u1"), domain.ErrRateLimited)
}

func TestAllow_BucketsArePerUser(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, Burst: 1}, nil, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, l.Allow(ctx, "u1"))
	assert.ErrorIs(t, l.Allow(ctx, "u1"), domain.ErrRateLimited)
	assert.NoError(t, l.Allow(ctx, "u2"), "another tenant has its own bucket")
}

func TestAllow_FailureGateTrips(t *testing.T) {
	counter := &fakeCounter{n: 50}
	l := NewLimiter(Config{RequestsPerMinute: 1000, Burst: 1000, MaxFailuresPerHour: 50}, counter, zap.NewNop())

	assert.ErrorIs(t, l.Allow(context.Background(), "u1"), domain.ErrRateLimited)

	counter.n = 49
	assert.NoError(t, l.Allow(context.Background(), "u1"))
}

func TestAllow_FailOpenWhenCounterUnavailable(t *testing.T) {
	counter := &fakeCounter{err: errors.New("audit store down")}
	l := NewLimiter(Config{RequestsPerMinute: 1000, Burst: 1000, MaxFailuresPerHour: 50}, counter, zap.NewNop())

	assert.NoError(t, l.Allow(context.Background(), "u1"))
}

func TestAllow_DisabledGatesPassEverything(t *testing.T) {
	l := NewLimiter(Config{}, nil, zap.NewNop())
	for i := 0; i < 10; i++ {
		assert.NoError(t, l.Allow(context.Background(), "u1"))
	}
}
