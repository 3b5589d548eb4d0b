package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/waflowhq/waflow/internal/account"
	"github.com/waflowhq/waflow/internal/auth"
)

type accountRegistry interface {
	Connect(ctx context.Context, req account.ConnectRequest) (account.ChannelAccount, error)
	Disconnect(ctx context.Context, tenantID, id string) (account.ChannelAccount, error)
	GetByID(ctx context.Context, tenantID, id string) (account.ChannelAccount, error)
}

// AccountsHandler manages channel account linking for a tenant.
type AccountsHandler struct {
	registry accountRegistry
	logger   *slog.Logger
}

func NewAccountsHandler(log *slog.Logger, registry *account.Registry) *AccountsHandler {
	return newAccountsHandler(log, registry)
}

func newAccountsHandler(log *slog.Logger, registry accountRegistry) *AccountsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AccountsHandler{
		registry: registry,
		logger:   log.With(slog.String("handler", "accounts")),
	}
}

func (h *AccountsHandler) Register(e *echo.Echo) {
	e.POST("/api/accounts/connect", h.Connect)
	e.POST("/api/accounts/:id/disconnect", h.Disconnect)
	e.GET("/api/accounts/:id", h.Get)
}

// Connect godoc
// @Summary Link a channel account
// @Description Registers a WhatsApp phone number for the authenticated tenant
// @Tags accounts
// @Accept json
// @Produce json
// @Param request body account.ConnectRequest true "Account credentials"
// @Success 201 {object} account.ChannelAccount
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/accounts/connect [post]
func (h *AccountsHandler) Connect(c echo.Context) error {
	tenantID, err := auth.TenantIDFromContext(c)
	if err != nil {
		return err
	}

	var req account.ConnectRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, CodeInvalidRequest, "invalid request body")
	}
	req.TenantID = tenantID
	if err := c.Validate(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, CodeInvalidRequest, err.Error())
	}

	acct, err := h.registry.Connect(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, account.ErrAlreadyConnected) {
			return errorJSON(c, http.StatusConflict, CodeAlreadyConnected, "phone number already connected")
		}
		h.logger.Error("connect failed", slog.Any("error", err))
		return errorJSON(c, http.StatusInternalServerError, CodeInternal, "connect failed")
	}
	return c.JSON(http.StatusCreated, acct)
}

// Disconnect godoc
// @Summary Disconnect a channel account
// @Description Deactivates the account; history and delivery statuses are retained
// @Tags accounts
// @Produce json
// @Param id path string true "Channel account ID"
// @Success 200 {object} account.ChannelAccount
// @Failure 404 {object} ErrorResponse
// @Router /api/accounts/{id}/disconnect [post]
func (h *AccountsHandler) Disconnect(c echo.Context) error {
	tenantID, err := auth.TenantIDFromContext(c)
	if err != nil {
		return err
	}

	acct, err := h.registry.Disconnect(c.Request().Context(), tenantID, c.Param("id"))
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return errorJSON(c, http.StatusNotFound, CodeAccountNotFound, "channel account not found")
		}
		h.logger.Error("disconnect failed", slog.Any("error", err))
		return errorJSON(c, http.StatusInternalServerError, CodeInternal, "disconnect failed")
	}
	return c.JSON(http.StatusOK, acct)
}

// Get godoc
// @Summary Fetch a channel account
// @Tags accounts
// @Produce json
// @Param id path string true "Channel account ID"
// @Success 200 {object} account.ChannelAccount
// @Failure 404 {object} ErrorResponse
// @Router /api/accounts/{id} [get]
func (h *AccountsHandler) Get(c echo.Context) error {
	tenantID, err := auth.TenantIDFromContext(c)
	if err != nil {
		return err
	}

	acct, err := h.registry.GetByID(c.Request().Context(), tenantID, c.Param("id"))
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return errorJSON(c, http.StatusNotFound, CodeAccountNotFound, "channel account not found")
		}
		h.logger.Error("account lookup failed", slog.Any("error", err))
		return errorJSON(c, http.StatusInternalServerError, CodeInternal, "lookup failed")
	}
	return c.JSON(http.StatusOK, acct)
}
