package api

import (
	"net/http"
	"time"

	"SignalPulse/internal/domain/models"
	xhttp "SignalPulse/pkg/http"

	"github.com/labstack/echo/v4"
)

// Info describes the service and its routes.
func (h *SignalsHandler) Info(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"name":    h.cfg.Name,
		"version": h.cfg.Version,
		"status":  h.health.Status(),
		"jobs":    h.scheduler.Jobs(),
		"endpoints": []string{
			"GET /healthz", "GET /readyz", "GET /status", "GET /metrics",
			"POST /signal/once", "POST /schedule/start", "POST /schedule/stop", "POST /webhook/tradingview",
		},
	})
}

// Healthz is liveness: the process is up.
func (h *SignalsHandler) Healthz(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"status":    "ok",
		"timestamp": h.now().UTC(),
		"version":   h.cfg.Version,
		"uptime":    h.health.Uptime().Round(time.Second).String(),
	})
}

// Readyz answers 200 once a run has succeeded or while the startup grace
// lasts, 503 otherwise.
func (h *SignalsHandler) Readyz(c echo.Context) error {
	snap := h.scheduler.Status(0)
	if !h.health.Ready() {
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, snap)
	}
	return xhttp.SuccessResponse(c, snap)
}

func (h *SignalsHandler) Status(c echo.Context) error {
	req := &models.StatusRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	return xhttp.SuccessResponse(c, h.scheduler.Status(req.Limit))
}

func (h *SignalsHandler) StartSchedule(c echo.Context) error {
	if err := h.scheduler.Start(c.Request().Context()); err != nil {
		return h.fail(c, err)
	}
	return xhttp.SuccessResponse(c, map[string]bool{"running": h.scheduler.Running()})
}

func (h *SignalsHandler) StopSchedule(c echo.Context) error {
	if err := h.scheduler.Stop(c.Request().Context()); err != nil {
		return h.fail(c, err)
	}
	return xhttp.SuccessResponse(c, map[string]bool{"running": h.scheduler.Running()})
}
