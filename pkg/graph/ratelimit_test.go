package graph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_BurstIsImmediate(t *testing.T) {
	rl := NewRateLimiter(1, 3)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, rl.Wait(ctx))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestRateLimiter_BlocksWhenExhausted(t *testing.T) {
	rl := NewRateLimiter(50, 1)
	ctx := context.Background()

	require.NoError(t, rl.Wait(ctx))

	start := time.Now()
	require.NoError(t, rl.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestRateLimiter_HonorsContextCancellation(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	require.NoError(t, rl.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := rl.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
