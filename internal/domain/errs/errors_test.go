package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/multierr"
)

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("fetch: %w", New(KindDataUnavailable, "binance", nil))
	assert.Equal(t, KindDataUnavailable, KindOf(wrapped))
	assert.True(t, errors.Is(wrapped, ErrDataUnavailable))
	assert.False(t, errors.Is(wrapped, ErrProvider))

	assert.Equal(t, KindTimeout, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindCancelled, KindOf(fmt.Errorf("run: %w", context.Canceled)))
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestRetryAfterFollowsWrapping(t *testing.T) {
	err := fmt.Errorf("analyze: %w", RateLimited("binance", 60*time.Second, errors.New("429")))
	hint, ok := RetryAfter(err)
	assert.True(t, ok)
	assert.Equal(t, 60*time.Second, hint)
	assert.True(t, IsRateLimited(err))

	_, ok = RetryAfter(errors.New("plain"))
	assert.False(t, ok)
}

func TestRetryAfterSearchesCombinedErrors(t *testing.T) {
	var combined error
	combined = multierr.Append(combined, fmt.Errorf("discord: %w",
		&Error{Kind: KindDeliveryFailed, Op: "discord", RetryAfter: 2 * time.Second}))
	combined = multierr.Append(combined, fmt.Errorf("slack: %w",
		&Error{Kind: KindDeliveryFailed, Op: "slack", RetryAfter: 30 * time.Second}))
	err := New(KindDeliveryFailed, "delivery", combined)

	hint, ok := RetryAfter(fmt.Errorf("deliver: %w", err))
	assert.True(t, ok)
	assert.Equal(t, 30*time.Second, hint)
}
