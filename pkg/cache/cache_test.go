package cache

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type state struct {
	Name  string    `json:"name"`
	Count int       `json:"count"`
	At    time.Time `json:"at"`
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	in := state{Name: "BTCUSDT|15m|binance", Count: 3, At: time.Unix(1700000000, 0).UTC()}
	require.NoError(t, mc.Set(ctx, "job", in, 0))

	var out state
	require.NoError(t, mc.Get(ctx, "job", &out))
	assert.Equal(t, in, out)

	var s string
	require.NoError(t, mc.Set(ctx, "plain", "value", 0))
	require.NoError(t, mc.Get(ctx, "plain", &s))
	assert.Equal(t, "value", s)

	assert.ErrorIs(t, mc.Get(ctx, "absent", &out), ErrCacheMiss)
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "k", "v", 10*time.Millisecond))
	var v string
	require.NoError(t, mc.Get(ctx, "k", &v))

	time.Sleep(20 * time.Millisecond)
	assert.ErrorIs(t, mc.Get(ctx, "k", &v), ErrCacheMiss)
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(WithMemoryMaxSize(2))
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "a", "1", 0))
	time.Sleep(time.Millisecond)
	require.NoError(t, mc.Set(ctx, "b", "2", 0))
	time.Sleep(time.Millisecond)

	var v string
	require.NoError(t, mc.Get(ctx, "a", &v))
	time.Sleep(time.Millisecond)
	require.NoError(t, mc.Set(ctx, "c", "3", 0))

	assert.Equal(t, 2, mc.Len())
	assert.ErrorIs(t, mc.Get(ctx, "b", &v), ErrCacheMiss)
	assert.NoError(t, mc.Get(ctx, "a", &v))
}

func TestRedisCacheSetGet(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	rc := NewRedisCacheFromClient(db, "sp")

	payload := []byte(`{"name":"ETHUSDT","count":1,"at":"0001-01-01T00:00:00Z"}`)
	mock.ExpectSet("sp:job", payload, time.Hour).SetVal("OK")
	mock.ExpectGet("sp:job").SetVal(string(payload))
	mock.ExpectGet("sp:missing").RedisNil()

	require.NoError(t, rc.Set(ctx, "job", state{Name: "ETHUSDT", Count: 1}, time.Hour))

	var out state
	require.NoError(t, rc.Get(ctx, "job", &out))
	assert.Equal(t, "ETHUSDT", out.Name)

	assert.ErrorIs(t, rc.Get(ctx, "missing", &out), ErrCacheMiss)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLayeredCacheFillsMemory(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	lc := NewLayeredCache(NewRedisCacheFromClient(db, "sp"))
	defer lc.memCache.Close()

	mock.ExpectGet("sp:k").SetVal(`"v"`)

	var v string
	require.NoError(t, lc.Get(ctx, "k", &v))
	assert.Equal(t, `"v"`, v)

	// served from L1, no second Redis call expected
	require.NoError(t, lc.Get(ctx, "k", &v))
	assert.NoError(t, mock.ExpectationsWereMet())
}
