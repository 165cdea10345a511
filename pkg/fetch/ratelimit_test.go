package fetch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDelay(t *testing.T) {
	t.Run("first request is not delayed", func(t *testing.T) {
		rl := NewRateLimiter(100*time.Millisecond, testLogger())
		start := time.Now()
		require.NoError(t, rl.ApplyDelay(context.Background(), "fresh-host.com", 5*time.Second))
		assert.Less(t, time.Since(start), 10*time.Millisecond)
	})

	t.Run("waits roughly the configured delay", func(t *testing.T) {
		rl := NewRateLimiter(100*time.Millisecond, testLogger())
		rl.UpdateLastRequestTime("example.com")

		start := time.Now()
		require.NoError(t, rl.ApplyDelay(context.Background(), "example.com", 0))
		elapsed := time.Since(start)

		assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
		assert.Less(t, elapsed, 300*time.Millisecond)
	})

	t.Run("cancelled context returns early", func(t *testing.T) {
		rl := NewRateLimiter(0, testLogger())
		rl.UpdateLastRequestTime("example.com")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		start := time.Now()
		err := rl.ApplyDelay(ctx, "example.com", 5*time.Second)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Less(t, time.Since(start), 100*time.Millisecond)
	})
}
