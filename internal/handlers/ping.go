package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/waflowhq/waflow/internal/healthcheck"
)

type PingHandler struct {
	health *healthcheck.Service
	logger *slog.Logger
}

func NewPingHandler(log *slog.Logger, health *healthcheck.Service) *PingHandler {
	return &PingHandler{
		health: health,
		logger: log.With(slog.String("handler", "ping")),
	}
}

func (h *PingHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.GET("/health", h.Health)
	e.HEAD("/health", h.HealthHead)
}

func (h *PingHandler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Health godoc
// @Summary Dependency health
// @Description Probes postgres and redis
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health [get]
func (h *PingHandler) Health(c echo.Context) error {
	status := http.StatusOK
	body := map[string]any{"status": "ok"}
	if h.health != nil {
		results, healthy := h.health.Run(c.Request().Context())
		body["checks"] = results
		if !healthy {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	return c.JSON(status, body)
}

func (h *PingHandler) HealthHead(c echo.Context) error {
	if h.health != nil {
		if _, healthy := h.health.Run(c.Request().Context()); !healthy {
			return c.NoContent(http.StatusServiceUnavailable)
		}
	}
	return c.NoContent(http.StatusOK)
}
