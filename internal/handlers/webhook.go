package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/waflowhq/waflow/internal/webhook"
	"github.com/waflowhq/waflow/internal/whatsapp"
)

// maxWebhookBody bounds the delivery body read into memory.
const maxWebhookBody = 4 << 20

type webhookIngestor interface {
	VerifySubscription(ctx context.Context, mode, token, challenge string) (string, error)
	Ingest(ctx context.Context, body []byte, signature string) error
}

// WebhookHandler exposes the channel callback endpoints. These routes are
// unauthenticated: the GET handshake proves the verify token and the POST
// body proves the HMAC signature.
type WebhookHandler struct {
	ingestor webhookIngestor
	logger   *slog.Logger
}

func NewWebhookHandler(log *slog.Logger, ingestor *webhook.Ingestor) *WebhookHandler {
	return newWebhookHandler(log, ingestor)
}

func newWebhookHandler(log *slog.Logger, ingestor webhookIngestor) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{
		ingestor: ingestor,
		logger:   log.With(slog.String("handler", "webhook")),
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.GET("/webhook/whatsapp", h.Verify)
	e.POST("/webhook/whatsapp", h.Receive)
}

// Verify godoc
// @Summary Webhook subscription handshake
// @Description Echoes hub.challenge when the verify token matches a registered channel account
// @Tags webhook
// @Param hub.mode query string true "Must be subscribe"
// @Param hub.verify_token query string true "Account verify token"
// @Param hub.challenge query string true "Challenge to echo"
// @Success 200 {string} string
// @Failure 403 {object} ErrorResponse
// @Router /webhook/whatsapp [get]
func (h *WebhookHandler) Verify(c echo.Context) error {
	challenge, err := h.ingestor.VerifySubscription(
		c.Request().Context(),
		c.QueryParam(whatsapp.VerifyModeParam),
		c.QueryParam(whatsapp.VerifyTokenParam),
		c.QueryParam(whatsapp.VerifyChallengeParam),
	)
	if err != nil {
		if errors.Is(err, webhook.ErrVerifyDenied) {
			return errorJSON(c, http.StatusForbidden, CodeInvalidRequest, "verification denied")
		}
		h.logger.Error("verification failed", slog.Any("error", err))
		return errorJSON(c, http.StatusInternalServerError, CodeInternal, "verification failed")
	}
	return c.String(http.StatusOK, challenge)
}

// Receive godoc
// @Summary Webhook delivery
// @Description Ingests inbound messages and delivery statuses
// @Tags webhook
// @Success 200 {string} string
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /webhook/whatsapp [post]
func (h *WebhookHandler) Receive(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, CodeInvalidRequest, "unreadable body")
	}

	err = h.ingestor.Ingest(c.Request().Context(), body, c.Request().Header.Get(whatsapp.SignatureHeader))
	switch {
	case err == nil:
	case errors.Is(err, webhook.ErrBadSignature), errors.Is(err, webhook.ErrUnknownAccount):
		h.logger.Warn("webhook delivery rejected", slog.Any("error", err))
		return errorJSON(c, http.StatusForbidden, CodeInvalidRequest, "delivery rejected")
	default:
		// The provider retries on non-2xx; malformed bodies and processing
		// faults are logged and acked rather than triggering a redelivery
		// storm over a delivery that will never parse.
		h.logger.Error("webhook processing failed", slog.Any("error", err))
	}
	return c.String(http.StatusOK, "EVENT_RECEIVED")
}
