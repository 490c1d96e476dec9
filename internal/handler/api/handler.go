package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"SignalPulse/internal/domain/errs"
	"SignalPulse/internal/domain/models"
	"SignalPulse/internal/service/health"
	"SignalPulse/internal/service/ratelimit"
	"SignalPulse/internal/usecase"
	xhttp "SignalPulse/pkg/http"
	xlogger "SignalPulse/pkg/logger"

	"github.com/labstack/echo/v4"
)

// Scheduler is the part of usecase.Scheduler the HTTP surface drives.
type Scheduler interface {
	RunOnce(ctx context.Context, symbol, interval string, opts usecase.RunOptions) (*models.RunOnceResult, error)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Running() bool
	Jobs() []string
	Status(historyLimit int) health.Snapshot
}

// Health answers liveness and readiness.
type Health interface {
	Ready() bool
	Status() string
	Uptime() time.Duration
}

// Enqueuer hands webhook triggers to the work queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, msgType string, payload interface{}) (string, error)
}

// Config holds service identity and the webhook and trigger settings.
type Config struct {
	Name          string
	Version       string
	AllowWebhook  bool
	WebhookSecret string
	TriggerLimit  ratelimit.Limit
}

const triggerKey = "trigger"

// SignalsHandler serves health, status, control and trigger endpoints.
type SignalsHandler struct {
	logger    *xlogger.Logger
	scheduler Scheduler
	health    Health
	queue     Enqueuer
	limiter   *ratelimit.Limiter
	cfg       Config
	now       func() time.Time
}

// NewSignalsHandler wires the handler. queue may be nil, in which case webhook
// triggers run synchronously.
func NewSignalsHandler(logger *xlogger.Logger, scheduler Scheduler, hr Health, queue Enqueuer, cfg Config) *SignalsHandler {
	lim := ratelimit.New(ratelimit.Limit{})
	lim.Configure(triggerKey, cfg.TriggerLimit)
	return &SignalsHandler{
		logger:    logger,
		scheduler: scheduler,
		health:    hr,
		queue:     queue,
		limiter:   lim,
		cfg:       cfg,
		now:       time.Now,
	}
}

func (h *SignalsHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/", h.Info)
	e.GET("/healthz", h.Healthz)
	e.GET("/readyz", h.Readyz)
	e.GET("/status", h.Status)

	e.POST("/signal/once", h.RunOnce)
	e.POST("/schedule/start", h.StartSchedule)
	e.POST("/schedule/stop", h.StopSchedule)
	if h.cfg.AllowWebhook {
		e.POST("/webhook/tradingview", h.Webhook)
	}
}

// toAppError maps the error taxonomy onto HTTP statuses.
func toAppError(err error) *xhttp.AppError {
	var appErr *xhttp.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	kind := errs.KindOf(err)
	var out *xhttp.AppError
	switch {
	case kind == errs.KindConfig:
		out = xhttp.BadRequestError(err.Error())
	case errs.IsRateLimited(err):
		out = xhttp.TooManyRequestsError("upstream rate limited")
		if hint, ok := errs.RetryAfter(err); ok {
			out.WithParam("retry_after_s", hint.Seconds())
		}
	case kind == errs.KindTimeout || kind == errs.KindClassifierTimeout:
		out = xhttp.GatewayTimeoutError("pipeline timed out")
	case kind == errs.KindCancelled:
		out = xhttp.ServiceUnavailableError("run cancelled")
	default:
		out = xhttp.BadGatewayError("pipeline failed")
	}
	out.WithParam("kind", string(kind))
	return out.WithError(err)
}

func (h *SignalsHandler) fail(c echo.Context, err error) error {
	appErr := toAppError(err)
	if appErr.Status == http.StatusTooManyRequests {
		if hint, ok := errs.RetryAfter(err); ok {
			c.Response().Header().Set("Retry-After", strconv.Itoa(int(hint.Round(time.Second).Seconds())))
		}
	}
	if appErr.Status >= http.StatusInternalServerError {
		h.logger.Warn("request failed", xlogger.String("path", c.Path()), xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, appErr)
}

func (h *SignalsHandler) allowTrigger(c echo.Context) error {
	if h.limiter.Allow(triggerKey) {
		return nil
	}
	h.logger.Warn("trigger rate limited", xlogger.String("remote", c.RealIP()))
	return xhttp.TooManyRequestsError(fmt.Sprintf("at most %.2g triggers per second", h.cfg.TriggerLimit.RPS))
}
