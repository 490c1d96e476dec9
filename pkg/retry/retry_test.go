package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hintErr struct{ d time.Duration }

func (e hintErr) Error() string             { return "throttled" }
func (e hintErr) RetryAfter() time.Duration { return e.d }

func fastPolicy(retries int) Policy {
	return Policy{MaxRetries: retries, Initial: time.Millisecond, Max: 4 * time.Millisecond, Multiplier: 2}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsAfterBudget(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(2), func(context.Context) error {
		calls++
		return errors.New("transient")
	})
	require.EqualError(t, err, "transient")
	assert.Equal(t, 3, calls)
}

func TestDoPermanentIsNotRetried(t *testing.T) {
	calls := 0
	base := errors.New("bad request")
	err := Do(context.Background(), fastPolicy(5), func(context.Context) error {
		calls++
		return Permanent(base)
	})
	assert.Same(t, base, err)
	assert.Equal(t, 1, calls)
}

func TestDoHonoursHint(t *testing.T) {
	var waits []time.Duration
	calls := 0
	err := Do(context.Background(), fastPolicy(1), func(context.Context) error {
		calls++
		if calls == 1 {
			return hintErr{d: 20 * time.Millisecond}
		}
		return nil
	}, WithNotify(func(_ int, _ error, wait time.Duration) { waits = append(waits, wait) }))
	require.NoError(t, err)
	require.Len(t, waits, 1)
	assert.Equal(t, 20*time.Millisecond, waits[0])
}

func TestDoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Policy{MaxRetries: 10, Initial: time.Hour}, func(context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestNewBackOffIsMonotonicUntilCap(t *testing.T) {
	b := NewBackOff(Policy{Initial: time.Second, Max: 8 * time.Second, Multiplier: 2})
	var got []time.Duration
	for i := 0; i < 6; i++ {
		got = append(got, b.NextBackOff())
	}
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second, 8 * time.Second}, got)
}
