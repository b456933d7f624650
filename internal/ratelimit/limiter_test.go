package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiter_RejectsBeyondLimit(t *testing.T) {
	limiter := NewMemoryLimiter(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "user-a")
		require.NoError(t, err)
		assert.True(t, allowed, "request %d within the limit must pass", i+1)
	}

	allowed, err := limiter.Allow(ctx, "user-a")
	require.NoError(t, err)
	assert.False(t, allowed, "request N+1 inside the window must be rejected")

	// Another key is unaffected.
	allowed, err = limiter.Allow(ctx, "user-b")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestMemoryLimiter_WindowSlides(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	limiter := NewMemoryLimiter(2, time.Minute).WithClock(func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, err := limiter.Allow(ctx, "user-a")
		require.NoError(t, err)
		require.True(t, allowed)
	}

	allowed, err := limiter.Allow(ctx, "user-a")
	require.NoError(t, err)
	assert.False(t, allowed)

	// Advance past the window; the old entries expire.
	now = now.Add(61 * time.Second)
	allowed, err = limiter.Allow(ctx, "user-a")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestWindowMember_UniqueWithinSameMillisecond(t *testing.T) {
	now := time.Now().UnixMilli()

	seen := map[string]struct{}{}
	for i := 0; i < 100; i++ {
		member := windowMember(now)
		assert.True(t, strings.HasPrefix(member, fmt.Sprintf("%d-", now)))
		seen[member] = struct{}{}
	}
	assert.Len(t, seen, 100, "same-millisecond requests must not collapse into one member")
}
