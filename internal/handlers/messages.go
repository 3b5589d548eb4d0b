package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/waflowhq/waflow/internal/account"
	"github.com/waflowhq/waflow/internal/auth"
	"github.com/waflowhq/waflow/internal/outbound"
)

type messageSender interface {
	Send(ctx context.Context, req outbound.SendRequest) (outbound.SendResponse, error)
}

// MessagesHandler exposes the outbound send endpoint.
type MessagesHandler struct {
	gateway messageSender
	logger  *slog.Logger
}

func NewMessagesHandler(log *slog.Logger, gateway *outbound.Gateway) *MessagesHandler {
	return newMessagesHandler(log, gateway)
}

func newMessagesHandler(log *slog.Logger, gateway messageSender) *MessagesHandler {
	if log == nil {
		log = slog.Default()
	}
	return &MessagesHandler{
		gateway: gateway,
		logger:  log.With(slog.String("handler", "messages")),
	}
}

func (h *MessagesHandler) Register(e *echo.Echo) {
	e.POST("/api/messages/send", h.Send)
}

// Send godoc
// @Summary Send an outbound message
// @Description Sends a message through the tenant's channel account, subject to account state and the customer-service window
// @Tags messages
// @Accept json
// @Produce json
// @Param request body outbound.SendRequest true "Message to send"
// @Success 200 {object} outbound.SendResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /api/messages/send [post]
func (h *MessagesHandler) Send(c echo.Context) error {
	tenantID, err := auth.TenantIDFromContext(c)
	if err != nil {
		return err
	}

	var req outbound.SendRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, CodeInvalidRequest, "invalid request body")
	}
	req.TenantID = tenantID
	if err := c.Validate(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, CodeInvalidRequest, err.Error())
	}

	resp, err := h.gateway.Send(c.Request().Context(), req)
	if err != nil {
		return h.sendError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *MessagesHandler) sendError(c echo.Context, err error) error {
	var provErr *outbound.ProviderError
	switch {
	case errors.Is(err, outbound.ErrOutsideWindow):
		return errorJSON(c, http.StatusUnprocessableEntity, CodeOutsideWindow,
			"customer-service window has closed; use a template message")
	case errors.Is(err, outbound.ErrTemplateRequired):
		return errorJSON(c, http.StatusUnprocessableEntity, CodeTemplateRequired,
			"contact has not written in; only template messages may start the conversation")
	case errors.Is(err, outbound.ErrAccountInactive):
		return errorJSON(c, http.StatusConflict, CodeAccountInactive, "channel account is not active")
	case errors.Is(err, account.ErrNotFound):
		return errorJSON(c, http.StatusNotFound, CodeAccountNotFound, "channel account not found")
	case errors.As(err, &provErr):
		return c.JSON(http.StatusBadGateway, ErrorResponse{
			Code:         CodeProviderError,
			Message:      provErr.Message,
			ProviderCode: provErr.Code,
		})
	default:
		h.logger.Error("send failed", slog.Any("error", err))
		return errorJSON(c, http.StatusInternalServerError, CodeInternal, "send failed")
	}
}
