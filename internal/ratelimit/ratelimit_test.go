package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/supportdesk/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWriteLimiterDisabled(t *testing.T) {
	limiter, err := NewWriteLimiter(config.Config{})
	require.NoError(t, err)
	assert.Nil(t, limiter)
	assert.False(t, limiter.Enabled())

	res, err := limiter.AllowMessage(context.Background(), "1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	release, ok, err := limiter.TryLockTicketWrite(context.Background(), "1", "2")
	require.NoError(t, err)
	assert.True(t, ok)
	release(context.Background())
}

func TestNewWriteLimiterValidatesConfig(t *testing.T) {
	_, err := NewWriteLimiter(config.Config{RateLimit: config.RateLimitConfig{Enabled: true}})
	assert.Error(t, err)

	_, err = NewWriteLimiter(config.Config{RateLimit: config.RateLimitConfig{
		Enabled:   true,
		RedisAddr: "localhost:6379",
	}})
	assert.Error(t, err)

	limiter, err := NewWriteLimiter(config.Config{RateLimit: config.RateLimitConfig{
		Enabled:        true,
		RedisAddr:      "localhost:6379",
		MessageRate:    1,
		MessageBurst:   5,
		WorkEntryRate:  1,
		WorkEntryBurst: 5,
	}})
	require.NoError(t, err)
	assert.True(t, limiter.Enabled())
	assert.Equal(t, 5*time.Second, limiter.lockTTL)
}

func TestBucketHelpers(t *testing.T) {
	assert.Equal(t, 20*time.Second, defaultBucketTTL(1, 10))
	assert.Equal(t, time.Second, defaultBucketTTL(0, 10))

	assert.Equal(t, 0.25, castToFloat("0.25"))
	assert.EqualValues(t, 1, castToInt(int64(1)))

	assert.Zero(t, retryAfter(true, 0, 1))
	assert.Equal(t, 500*time.Millisecond, retryAfter(false, 0.5, 1))
}
