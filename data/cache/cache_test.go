package cache

import (
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySetGet(t *testing.T) {
	c := New()

	c.Set("leaderboard:0xabc", []byte("1"), 0)
	v, ok := c.Get("leaderboard:0xabc")
	require.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	_, ok = c.Get("leaderboard:0xdef")
	assert.False(t, ok)
}

func TestMemoryTTLExpiry(t *testing.T) {
	c := New()

	c.Set("k", []byte("v"), 10*time.Millisecond)
	_, ok := c.Get("k")
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok, "expired entry should be gone")
}

func TestMemoryDelete(t *testing.T) {
	c := New()

	c.Set("k", []byte("v"), 0)
	c.Delete("k")
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestMemoryCopiesValue(t *testing.T) {
	c := New()

	val := []byte("original")
	c.Set("k", val, 0)
	val[0] = 'X'

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("original"), got, "cache must not alias the caller's slice")
}

func TestRedisCacheGet(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewRedis(client)

	mock.ExpectGet("leaderboard:0xabc").SetVal("1")
	v, ok := c.Get("leaderboard:0xabc")
	require.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	mock.ExpectGet("missing").RedisNil()
	_, ok = c.Get("missing")
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCacheSet(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewRedis(client)

	mock.ExpectSet("k", []byte("v"), time.Minute).SetVal("OK")
	c.Set("k", []byte("v"), time.Minute)

	require.NoError(t, mock.ExpectationsWereMet())
}
