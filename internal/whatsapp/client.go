// Package whatsapp speaks the WhatsApp Cloud API: the outbound message
// endpoint and the webhook wire format, including callback signature
// verification.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/waflowhq/waflow/internal/config"
)

// APIError is the provider's own rejection, passed through untouched so the
// caller can diagnose against the provider's documentation.
type APIError struct {
	Code    int    `json:"code"`
	Subcode int    `json:"error_subcode,omitempty"`
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
	TraceID string `json:"fbtrace_id,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whatsapp api error %d: %s", e.Code, e.Message)
}

// SendResult is the provider's acceptance of an outbound message.
type SendResult struct {
	MessageID string
}

// Client calls the Cloud API message endpoint with a bounded timeout.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiVersion string
	logger     *slog.Logger
}

func NewClient(log *slog.Logger, cfg config.WhatsAppConfig) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.SendTimeout()},
		baseURL:    cfg.BaseURL,
		apiVersion: cfg.APIVersion,
		logger:     log.With(slog.String("service", "whatsapp_client")),
	}
}

// SendMessage posts a message payload on behalf of a channel account. A
// provider rejection comes back as *APIError; transport failures (including
// timeouts) as plain errors.
func (c *Client) SendMessage(ctx context.Context, accessToken, phoneNumberID string, payload MessagePayload) (SendResult, error) {
	payload.MessagingProduct = "whatsapp"
	body, err := json.Marshal(payload)
	if err != nil {
		return SendResult{}, fmt.Errorf("marshal send payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/%s/messages", c.baseURL, c.apiVersion, phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return SendResult{}, fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return SendResult{}, fmt.Errorf("call channel api: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return SendResult{}, fmt.Errorf("read channel api response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var failure struct {
			Error *APIError `json:"error"`
		}
		if err := json.Unmarshal(raw, &failure); err == nil && failure.Error != nil {
			return SendResult{}, failure.Error
		}
		return SendResult{}, &APIError{Code: resp.StatusCode, Message: string(raw)}
	}

	var success sendResponse
	if err := json.Unmarshal(raw, &success); err != nil {
		return SendResult{}, fmt.Errorf("decode channel api response: %w", err)
	}
	if len(success.Messages) == 0 || success.Messages[0].ID == "" {
		return SendResult{}, fmt.Errorf("channel api response missing message id")
	}
	return SendResult{MessageID: success.Messages[0].ID}, nil
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// MessagePayload is the Cloud API outbound message body. Exactly one of the
// typed sections is set, matching Type.
type MessagePayload struct {
	MessagingProduct string           `json:"messaging_product"`
	To               string           `json:"to"`
	Type             string           `json:"type"`
	Text             *TextPayload     `json:"text,omitempty"`
	Template         *TemplatePayload `json:"template,omitempty"`
	Image            *MediaPayload    `json:"image,omitempty"`
	Document         *MediaPayload    `json:"document,omitempty"`
	Audio            *MediaPayload    `json:"audio,omitempty"`
	Video            *MediaPayload    `json:"video,omitempty"`
}

type TextPayload struct {
	Body string `json:"body"`
}

type TemplatePayload struct {
	Name       string              `json:"name"`
	Language   TemplateLanguage    `json:"language"`
	Components []TemplateComponent `json:"components,omitempty"`
}

type TemplateLanguage struct {
	Code string `json:"code"`
}

type TemplateComponent struct {
	Type       string              `json:"type"`
	Parameters []TemplateParameter `json:"parameters,omitempty"`
}

type TemplateParameter struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type MediaPayload struct {
	Link    string `json:"link,omitempty"`
	ID      string `json:"id,omitempty"`
	Caption string `json:"caption,omitempty"`
}
