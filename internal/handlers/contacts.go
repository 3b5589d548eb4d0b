package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/waflowhq/waflow/internal/auth"
	"github.com/waflowhq/waflow/internal/contact"
)

type contactTagger interface {
	Tag(ctx context.Context, tenantID, contactID, tag string) (contact.Contact, error)
	Untag(ctx context.Context, tenantID, contactID, tag string) (contact.Contact, error)
}

// ContactsHandler manages tenant-facing contact metadata. Contacts themselves
// are created by inbound resolution, not through this API.
type ContactsHandler struct {
	store  contactTagger
	logger *slog.Logger
}

func NewContactsHandler(log *slog.Logger, store *contact.Store) *ContactsHandler {
	return newContactsHandler(log, store)
}

func newContactsHandler(log *slog.Logger, store contactTagger) *ContactsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ContactsHandler{
		store:  store,
		logger: log.With(slog.String("handler", "contacts")),
	}
}

func (h *ContactsHandler) Register(e *echo.Echo) {
	e.POST("/api/contacts/:id/tags", h.Tag)
	e.DELETE("/api/contacts/:id/tags/:tag", h.Untag)
}

// TagRequest is the body for adding a tag to a contact.
type TagRequest struct {
	Tag string `json:"tag" validate:"required,max=64"`
}

// Tag godoc
// @Summary Tag a contact
// @Description Adds a tag to the contact; tagging twice is a no-op
// @Tags contacts
// @Accept json
// @Produce json
// @Param id path string true "Contact ID"
// @Param request body TagRequest true "Tag to add"
// @Success 200 {object} contact.Contact
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/contacts/{id}/tags [post]
func (h *ContactsHandler) Tag(c echo.Context) error {
	tenantID, err := auth.TenantIDFromContext(c)
	if err != nil {
		return err
	}

	var req TagRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, CodeInvalidRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, CodeInvalidRequest, err.Error())
	}

	updated, err := h.store.Tag(c.Request().Context(), tenantID, c.Param("id"), req.Tag)
	if err != nil {
		return h.tagError(c, err)
	}
	return c.JSON(http.StatusOK, updated)
}

// Untag godoc
// @Summary Remove a tag from a contact
// @Description Removing an absent tag is a no-op
// @Tags contacts
// @Produce json
// @Param id path string true "Contact ID"
// @Param tag path string true "Tag to remove"
// @Success 200 {object} contact.Contact
// @Failure 404 {object} ErrorResponse
// @Router /api/contacts/{id}/tags/{tag} [delete]
func (h *ContactsHandler) Untag(c echo.Context) error {
	tenantID, err := auth.TenantIDFromContext(c)
	if err != nil {
		return err
	}

	tag := c.Param("tag")
	if tag == "" {
		return errorJSON(c, http.StatusBadRequest, CodeInvalidRequest, "missing tag")
	}

	updated, err := h.store.Untag(c.Request().Context(), tenantID, c.Param("id"), tag)
	if err != nil {
		return h.tagError(c, err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *ContactsHandler) tagError(c echo.Context, err error) error {
	if errors.Is(err, contact.ErrNotFound) {
		return errorJSON(c, http.StatusNotFound, CodeContactNotFound, "contact not found")
	}
	h.logger.Error("tag update failed", slog.Any("error", err))
	return errorJSON(c, http.StatusInternalServerError, CodeInternal, "tag update failed")
}
