package crosscheck

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(100, 1, 1)

	assert.True(t, rl.Allow("a.example.org"))
	assert.False(t, rl.Allow("a.example.org"))
	assert.True(t, rl.Allow("b.example.org"))
}

func TestRateLimiter_WaitCancelled(t *testing.T) {
	rl := NewRateLimiter(100, 0.001, 1)
	require.NoError(t, rl.Wait(context.Background(), "a.example.org"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, rl.Wait(ctx, "a.example.org"))
}

func TestRateLimiter_SharedPerServer(t *testing.T) {
	rl := NewRateLimiter(10, 5, 0)
	assert.Same(t, rl.limiterFor("x"), rl.limiterFor("x"))
	assert.Equal(t, 1, rl.burstSize)
}
