package api

import (
	"crypto/subtle"

	"SignalPulse/internal/domain/models"
	"SignalPulse/internal/usecase"
	xhttp "SignalPulse/pkg/http"
	xlogger "SignalPulse/pkg/logger"

	"github.com/labstack/echo/v4"
)

// RunOnce runs the pipeline for one pair and returns the signal.
func (h *SignalsHandler) RunOnce(c echo.Context) error {
	if err := h.allowTrigger(c); err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	req := &models.RunOnceRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.scheduler.RunOnce(c.Request().Context(), req.Symbol, req.Interval, usecase.RunOptions{
		Provider:    req.Provider,
		ContextLink: req.TradingViewLink,
		Trigger:     models.TriggerManual,
		SkipDeliver: req.DryRun,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return xhttp.SuccessResponse(c, res)
}

// Webhook accepts TradingView alerts. With a queue the run is enqueued and
// 202 returned; without one it runs inline.
func (h *SignalsHandler) Webhook(c echo.Context) error {
	req := &models.WebhookRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if h.cfg.WebhookSecret != "" {
		got := req.Secret
		if hdr := c.Request().Header.Get("X-Webhook-Secret"); hdr != "" {
			got = hdr
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.cfg.WebhookSecret)) != 1 {
			h.logger.Warn("webhook rejected", xlogger.String("remote", c.RealIP()))
			return xhttp.AppErrorResponse(c, xhttp.UnauthorizedError("invalid webhook secret"))
		}
	}
	if err := h.allowTrigger(c); err != nil {
		return xhttp.AppErrorResponse(c, err)
	}

	if h.queue != nil {
		id, err := h.queue.Enqueue(c.Request().Context(), usecase.TriggerJobType, models.TriggerPayload{
			Symbol:   req.Symbol,
			Interval: req.Interval,
			Provider: req.Provider,
			Link:     req.Link,
			Source:   models.TriggerWebhook,
		})
		if err != nil {
			h.logger.Error("enqueue trigger failed", xlogger.Error(err))
			return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("trigger queue unavailable").WithError(err))
		}
		return xhttp.AcceptedResponse(c, map[string]string{"id": id, "symbol": req.Symbol, "interval": req.Interval})
	}

	res, err := h.scheduler.RunOnce(c.Request().Context(), req.Symbol, req.Interval, usecase.RunOptions{
		Provider:    req.Provider,
		ContextLink: req.Link,
		Trigger:     models.TriggerWebhook,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return xhttp.SuccessResponse(c, res)
}
