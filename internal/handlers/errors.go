package handlers

import (
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// Error codes returned to API callers. Clients branch on these, not on the
// message text.
const (
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeAccountNotFound  = "ACCOUNT_NOT_FOUND"
	CodeContactNotFound  = "CONTACT_NOT_FOUND"
	CodeAccountInactive  = "ACCOUNT_INACTIVE"
	CodeAlreadyConnected = "ALREADY_CONNECTED"
	CodeOutsideWindow    = "OUTSIDE_WINDOW"
	CodeTemplateRequired = "TEMPLATE_REQUIRED"
	CodeProviderError    = "PROVIDER_ERROR"
	CodeInternal         = "INTERNAL"
)

// ErrorResponse is the JSON error body for all API endpoints.
type ErrorResponse struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	ProviderCode int    `json:"provider_code,omitempty"`
}

func errorJSON(c echo.Context, status int, code, message string) error {
	return c.JSON(status, ErrorResponse{Code: code, Message: message})
}

// RequestValidator adapts go-playground/validator to echo's Validator
// interface. Install with e.Validator = NewRequestValidator().
type RequestValidator struct {
	validate *validator.Validate
}

func NewRequestValidator() *RequestValidator {
	return &RequestValidator{validate: validator.New()}
}

func (v *RequestValidator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}
