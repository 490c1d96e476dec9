package delivery

import (
    "context"
    "encoding/json"
    "time"

    "SignalPulse/internal/domain/errs"
    xhttp "SignalPulse/pkg/http"
    "SignalPulse/pkg/retry"
)

// classifyHTTP maps a sink HTTP failure: 429 carries a retry-after hint, 5xx,
// timeouts and transport errors stay retryable, other statuses are permanent.
func classifyHTTP(ctx context.Context, op string, err error) error {
    if err == nil {
        return nil
    }
    if ctx.Err() != nil {
        return errs.New(errs.KindDeliveryFailed, op, err)
    }
    se, ok := xhttp.AsStatusError(err)
    if !ok {
        return errs.New(errs.KindDeliveryFailed, op, err)
    }
    switch {
    case se.Throttled():
        hint := se.RetryAfter()
        if hint <= 0 {
            hint = bodyRetryAfter(se.Body)
        }
        return &errs.Error{Kind: errs.KindDeliveryFailed, Op: op, RetryAfter: hint, Err: err}
    case se.Transient():
        return errs.New(errs.KindDeliveryFailed, op, err)
    default:
        return retry.Permanent(errs.New(errs.KindDeliveryFailed, op, err))
    }
}

// bodyRetryAfter reads Discord's {"retry_after": 1.5} and Telegram's
// {"parameters": {"retry_after": 3}} bodies, both in seconds.
func bodyRetryAfter(body string) time.Duration {
    var v struct {
        RetryAfter float64 `json:"retry_after"`
        Parameters struct {
            RetryAfter float64 `json:"retry_after"`
        } `json:"parameters"`
    }
    if json.Unmarshal([]byte(body), &v) != nil {
        return 0
    }
    secs := v.RetryAfter
    if v.Parameters.RetryAfter > secs {
        secs = v.Parameters.RetryAfter
    }
    return time.Duration(secs * float64(time.Second))
}
