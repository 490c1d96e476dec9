package ratelimit

import (
    "context"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestAllowRespectsBurst(t *testing.T) {
    l := New(Limit{RPS: 0.001, Burst: 2})
    assert.True(t, l.Allow("a"))
    assert.True(t, l.Allow("a"))
    assert.False(t, l.Allow("a"))
    // keys are independent
    assert.True(t, l.Allow("b"))
}

func TestConfigureOverridesFallback(t *testing.T) {
    l := New(Limit{RPS: 0.001, Burst: 1})
    l.Configure("binance", Limit{RPS: 0, Burst: 1})
    for i := 0; i < 10; i++ {
        require.True(t, l.Allow("binance"))
    }
}

func TestWaitHonoursContext(t *testing.T) {
    l := New(Limit{RPS: 0.001, Burst: 1})
    require.NoError(t, l.Wait(context.Background(), "k"))

    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
    defer cancel()
    assert.Error(t, l.Wait(ctx, "k"))
}
