// Package outbound sends business-initiated messages through the channel
// API, enforcing account state and the customer-service window before any
// provider call is made.
package outbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/waflowhq/waflow/internal/account"
	"github.com/waflowhq/waflow/internal/contact"
	"github.com/waflowhq/waflow/internal/ledger"
	"github.com/waflowhq/waflow/internal/session"
	"github.com/waflowhq/waflow/internal/whatsapp"
)

// ErrAccountInactive is returned when the channel account is not active.
var ErrAccountInactive = errors.New("channel account is not active")

// ErrOutsideWindow is returned when a freeform message is attempted after
// the customer-service window has closed. The caller should retry with a
// template.
var ErrOutsideWindow = errors.New("customer-service window has closed")

// ErrTemplateRequired is returned when the contact has never written in, so
// no window has ever been open. Only template messages can start the
// conversation.
var ErrTemplateRequired = errors.New("template message required to start conversation")

// ProviderError wraps a channel API failure, provider rejections and
// transport faults alike. No ledger row exists for the attempt.
type ProviderError struct {
	Code    int
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
	}
	return "provider error: " + e.Message
}

func (e *ProviderError) Unwrap() error { return e.Err }

// SendRequest describes one outbound message. Exactly one content section
// applies, selected by Type.
type SendRequest struct {
	TenantID         string `json:"-"`
	ChannelAccountID string `json:"channel_account_id" validate:"required,uuid4"`
	To               string `json:"to" validate:"required"`
	Type             string `json:"type" validate:"required,oneof=text template image document audio video"`

	Text     string                    `json:"text,omitempty"`
	Template *whatsapp.TemplatePayload `json:"template,omitempty"`

	MediaLink string `json:"media_link,omitempty"`
	Caption   string `json:"caption,omitempty"`
}

// SendResponse reports the accepted message.
type SendResponse struct {
	MessageID         string        `json:"message_id"`
	ProviderMessageID string        `json:"provider_message_id"`
	ConversationID    string        `json:"conversation_id"`
	Status            ledger.Status `json:"status"`
}

type accountSource interface {
	GetByID(ctx context.Context, tenantID, id string) (account.ChannelAccount, error)
}

type contactResolver interface {
	Resolve(ctx context.Context, tenantID, channelAccountID, waID, displayName string) (contact.Resolution, error)
}

type windowPolicy interface {
	Evaluate(ctx context.Context, conversationID string, now time.Time) (session.Decision, error)
}

type messageAppender interface {
	Append(ctx context.Context, in ledger.AppendInput) (ledger.Message, error)
	GetByProviderMessageID(ctx context.Context, providerMessageID string) (ledger.Message, error)
}

type messageSender interface {
	SendMessage(ctx context.Context, accessToken, phoneNumberID string, payload whatsapp.MessagePayload) (whatsapp.SendResult, error)
}

// Gateway is the single path for outbound messages.
type Gateway struct {
	accounts accountSource
	resolver contactResolver
	policy   windowPolicy
	messages messageAppender
	sender   messageSender
	logger   *slog.Logger
	now      func() time.Time
}

func NewGateway(log *slog.Logger, accounts *account.Registry, resolver *contact.Resolver, policy *session.Policy, messages *ledger.Store, sender *whatsapp.Client) *Gateway {
	return newGateway(log, accounts, resolver, policy, messages, sender)
}

func newGateway(log *slog.Logger, accounts accountSource, resolver contactResolver, policy windowPolicy, messages messageAppender, sender messageSender) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		accounts: accounts,
		resolver: resolver,
		policy:   policy,
		messages: messages,
		sender:   sender,
		logger:   log.With(slog.String("service", "outbound")),
		now:      time.Now,
	}
}

// Send validates the request against account state and the window policy,
// calls the provider, and records the accepted message in the ledger. The
// ledger row is written only after the provider accepts: a rejected or
// timed-out attempt leaves no trace beyond the returned error.
func (g *Gateway) Send(ctx context.Context, req SendRequest) (SendResponse, error) {
	acct, err := g.accounts.GetByID(ctx, req.TenantID, req.ChannelAccountID)
	if err != nil {
		return SendResponse{}, fmt.Errorf("load channel account: %w", err)
	}
	if !acct.IsActive() {
		return SendResponse{}, ErrAccountInactive
	}

	resolution, err := g.resolver.Resolve(ctx, req.TenantID, acct.ID, req.To, "")
	if err != nil {
		return SendResponse{}, fmt.Errorf("resolve contact: %w", err)
	}

	msgType := ledger.ParseType(req.Type)
	if msgType != ledger.TypeTemplate {
		decision, err := g.policy.Evaluate(ctx, resolution.ConversationID, g.now())
		if err != nil {
			return SendResponse{}, fmt.Errorf("evaluate session window: %w", err)
		}
		if !decision.Allowed {
			if decision.LastInboundAt.IsZero() {
				return SendResponse{}, ErrTemplateRequired
			}
			return SendResponse{}, ErrOutsideWindow
		}
	}

	payload, err := buildPayload(req, msgType)
	if err != nil {
		return SendResponse{}, err
	}

	result, err := g.sender.SendMessage(ctx, acct.AccessToken, acct.PhoneNumberID, payload)
	if err != nil {
		var apiErr *whatsapp.APIError
		if errors.As(err, &apiErr) {
			g.logger.Warn("provider rejected message",
				slog.String("channel_account_id", acct.ID),
				slog.Int("provider_code", apiErr.Code))
			return SendResponse{}, &ProviderError{Code: apiErr.Code, Message: apiErr.Message, Err: err}
		}
		g.logger.Warn("provider call failed",
			slog.String("channel_account_id", acct.ID),
			slog.String("error", err.Error()))
		return SendResponse{}, &ProviderError{Message: err.Error(), Err: err}
	}

	content, err := json.Marshal(payload)
	if err != nil {
		return SendResponse{}, fmt.Errorf("marshal message content: %w", err)
	}

	msg, err := g.messages.Append(ctx, ledger.AppendInput{
		TenantID:          req.TenantID,
		ConversationID:    resolution.ConversationID,
		ProviderMessageID: result.MessageID,
		Direction:         ledger.DirectionOutbound,
		Type:              msgType,
		Content:           content,
		Status:            ledger.StatusSent,
	})
	if err != nil {
		if !errors.Is(err, ledger.ErrDuplicateMessage) {
			return SendResponse{}, fmt.Errorf("record outbound message: %w", err)
		}
		// The provider returned a message id we already hold a row for;
		// answer with the existing row instead of an empty id.
		msg, err = g.messages.GetByProviderMessageID(ctx, result.MessageID)
		if err != nil {
			return SendResponse{}, fmt.Errorf("fetch duplicate outbound message: %w", err)
		}
	}

	return SendResponse{
		MessageID:         msg.ID,
		ProviderMessageID: result.MessageID,
		ConversationID:    resolution.ConversationID,
		Status:            msg.Status,
	}, nil
}

func buildPayload(req SendRequest, msgType ledger.Type) (whatsapp.MessagePayload, error) {
	payload := whatsapp.MessagePayload{
		To:   req.To,
		Type: string(msgType),
	}
	switch msgType {
	case ledger.TypeText:
		if req.Text == "" {
			return whatsapp.MessagePayload{}, errors.New("text message requires a body")
		}
		payload.Text = &whatsapp.TextPayload{Body: req.Text}
	case ledger.TypeTemplate:
		if req.Template == nil {
			return whatsapp.MessagePayload{}, errors.New("template message requires a template section")
		}
		payload.Template = req.Template
	case ledger.TypeImage, ledger.TypeDocument, ledger.TypeAudio, ledger.TypeVideo:
		if req.MediaLink == "" {
			return whatsapp.MessagePayload{}, fmt.Errorf("%s message requires a media link", msgType)
		}
		media := &whatsapp.MediaPayload{Link: req.MediaLink, Caption: req.Caption}
		switch msgType {
		case ledger.TypeImage:
			payload.Image = media
		case ledger.TypeDocument:
			payload.Document = media
		case ledger.TypeAudio:
			payload.Audio = media
		case ledger.TypeVideo:
			payload.Video = media
		}
	default:
		return whatsapp.MessagePayload{}, fmt.Errorf("unsupported outbound message type %q", req.Type)
	}
	return payload, nil
}
