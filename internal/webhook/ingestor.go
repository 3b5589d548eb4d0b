package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/waflowhq/waflow/internal/account"
	"github.com/waflowhq/waflow/internal/contact"
	"github.com/waflowhq/waflow/internal/dispatch"
	"github.com/waflowhq/waflow/internal/ledger"
	"github.com/waflowhq/waflow/internal/whatsapp"
)

// ErrMalformedPayload is returned when the delivery body is not a webhook
// envelope.
var ErrMalformedPayload = errors.New("malformed webhook payload")

// ErrUnknownAccount is returned when no registered channel account matches
// the delivery.
var ErrUnknownAccount = errors.New("no channel account for delivery")

// ErrBadSignature is returned when the delivery signature does not match
// the account's app secret.
var ErrBadSignature = errors.New("webhook signature mismatch")

// ErrVerifyDenied is returned when a verification handshake carries an
// unknown mode or token.
var ErrVerifyDenied = errors.New("webhook verification denied")

type accountSource interface {
	GetByPhoneNumberID(ctx context.Context, phoneNumberID string) (account.ChannelAccount, error)
	GetByVerifyToken(ctx context.Context, verifyToken string) (account.ChannelAccount, error)
}

type contactResolver interface {
	Resolve(ctx context.Context, tenantID, channelAccountID, waID, displayName string) (contact.Resolution, error)
}

type messageStore interface {
	Append(ctx context.Context, in ledger.AppendInput) (ledger.Message, error)
	RecordWebhookEvent(ctx context.Context, phoneNumberID string, payload []byte) error
}

type statusReconciler interface {
	ReconcileStatuses(ctx context.Context, events []ledger.StatusEvent)
}

type deduper interface {
	MarkSeen(ctx context.Context, providerMessageID string) (bool, error)
	Forget(ctx context.Context, providerMessageID string) error
}

type eventQueue interface {
	Enqueue(event dispatch.Event)
}

// Ingestor turns raw webhook deliveries into ledger rows and automation
// events. Processing is per-unit: one bad message or status never blocks
// its siblings, and the delivery is acked regardless.
type Ingestor struct {
	accounts   accountSource
	resolver   contactResolver
	messages   messageStore
	reconciler statusReconciler
	dedupe     deduper
	queue      eventQueue
	logger     *slog.Logger
	now        func() time.Time
}

func NewIngestor(log *slog.Logger, accounts *account.Registry, resolver *contact.Resolver, messages *ledger.Store, reconciler *ledger.Reconciler, dedupe *Deduper, queue *dispatch.Dispatcher) *Ingestor {
	return newIngestor(log, accounts, resolver, messages, reconciler, dedupe, queue)
}

func newIngestor(log *slog.Logger, accounts accountSource, resolver contactResolver, messages messageStore, reconciler statusReconciler, dedupe deduper, queue eventQueue) *Ingestor {
	if log == nil {
		log = slog.Default()
	}
	return &Ingestor{
		accounts:   accounts,
		resolver:   resolver,
		messages:   messages,
		reconciler: reconciler,
		dedupe:     dedupe,
		queue:      queue,
		logger:     log.With(slog.String("service", "webhook_ingestor")),
		now:        time.Now,
	}
}

// VerifySubscription answers the provider's GET handshake. The token must
// belong to a registered account that is not disconnected.
func (i *Ingestor) VerifySubscription(ctx context.Context, mode, token, challenge string) (string, error) {
	if mode != whatsapp.VerifyModeSubscribe || token == "" {
		return "", ErrVerifyDenied
	}
	acct, err := i.accounts.GetByVerifyToken(ctx, token)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return "", ErrVerifyDenied
		}
		return "", fmt.Errorf("verify token lookup: %w", err)
	}
	i.logger.Info("webhook subscription verified",
		slog.String("channel_account_id", acct.ID),
		slog.String("tenant_id", acct.TenantID))
	return challenge, nil
}

// Ingest authenticates and processes one webhook delivery body.
//
// The signature is checked against the app secret of the account owning the
// delivery's phone number id; a delivery that cannot be attributed or
// authenticated is rejected before anything is recorded. Past that point
// the delivery is always accepted.
func (i *Ingestor) Ingest(ctx context.Context, body []byte, signature string) error {
	var payload whatsapp.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	phoneNumberID := firstPhoneNumberID(payload)
	if phoneNumberID == "" {
		return ErrUnknownAccount
	}
	acct, err := i.accounts.GetByPhoneNumberID(ctx, phoneNumberID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return ErrUnknownAccount
		}
		return fmt.Errorf("account lookup: %w", err)
	}
	if !whatsapp.VerifySignature(acct.AppSecret, body, signature) {
		return ErrBadSignature
	}

	if err := i.messages.RecordWebhookEvent(ctx, phoneNumberID, body); err != nil {
		i.logger.Error("webhook audit record failed", slog.Any("error", err))
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			i.processChange(ctx, acct, change.Value)
		}
	}
	return nil
}

func (i *Ingestor) processChange(ctx context.Context, acct account.ChannelAccount, value whatsapp.Value) {
	if value.Metadata.PhoneNumberID != "" && value.Metadata.PhoneNumberID != acct.PhoneNumberID {
		other, err := i.accounts.GetByPhoneNumberID(ctx, value.Metadata.PhoneNumberID)
		if err != nil {
			i.logger.Warn("change for unregistered number skipped",
				slog.String("phone_number_id", value.Metadata.PhoneNumberID))
			return
		}
		acct = other
	}

	if len(value.Statuses) > 0 {
		i.reconciler.ReconcileStatuses(ctx, statusEvents(value.Statuses))
	}

	if len(value.Messages) == 0 {
		return
	}
	if !acct.IsActive() {
		// Status updates above still apply: messages sent before a
		// disconnect keep their lifecycle. New inbound traffic does not.
		i.logger.Info("inbound messages for inactive account dropped",
			slog.String("channel_account_id", acct.ID),
			slog.Int("count", len(value.Messages)))
		return
	}
	for _, msg := range value.Messages {
		if err := i.ingestMessage(ctx, acct, value, msg); err != nil {
			i.logger.Error("inbound message skipped",
				slog.String("provider_message_id", msg.ID),
				slog.Any("error", err))
		}
	}
}

func (i *Ingestor) ingestMessage(ctx context.Context, acct account.ChannelAccount, value whatsapp.Value, msg whatsapp.WebhookMessage) error {
	if msg.ID == "" || msg.From == "" {
		return errors.New("message unit missing id or sender")
	}

	claimed := false
	first, err := i.dedupe.MarkSeen(ctx, msg.ID)
	if err != nil {
		// Fail open: the ledger's unique key still blocks the replay.
		i.logger.Warn("dedupe unavailable, relying on ledger constraint",
			slog.Any("error", err))
	} else if !first {
		i.logger.Debug("duplicate delivery dropped",
			slog.String("provider_message_id", msg.ID))
		return nil
	} else {
		claimed = true
	}

	resolution, err := i.resolver.Resolve(ctx, acct.TenantID, acct.ID, msg.From, value.ContactName(msg.From))
	if err != nil {
		i.releaseClaim(ctx, claimed, msg.ID)
		return fmt.Errorf("resolve contact: %w", err)
	}

	providerTS := whatsapp.ParseTimestamp(msg.Timestamp)
	stored, err := i.messages.Append(ctx, ledger.AppendInput{
		TenantID:          acct.TenantID,
		ConversationID:    resolution.ConversationID,
		ProviderMessageID: msg.ID,
		Direction:         ledger.DirectionInbound,
		Type:              ledger.ParseType(msg.Type),
		Content:           msg.Content(),
		Status:            ledger.StatusDelivered,
		ProviderTS:        providerTS,
	})
	if errors.Is(err, ledger.ErrDuplicateMessage) {
		i.logger.Debug("replayed message already in ledger",
			slog.String("provider_message_id", msg.ID))
		return nil
	}
	if err != nil {
		i.releaseClaim(ctx, claimed, msg.ID)
		return fmt.Errorf("append inbound message: %w", err)
	}

	eventTS := providerTS
	if eventTS.IsZero() {
		eventTS = i.now().UTC()
	}
	i.queue.Enqueue(dispatch.Event{
		MessageID:        stored.ID,
		FromExternalID:   msg.From,
		Type:             string(stored.Type),
		Content:          stored.Content,
		Timestamp:        eventTS.Format(time.RFC3339),
		TenantID:         acct.TenantID,
		ChannelAccountID: acct.ID,
	})
	return nil
}

// releaseClaim hands the dedupe slot back after a transient failure so the
// provider's redelivery is not dropped with no ledger row ever written.
func (i *Ingestor) releaseClaim(ctx context.Context, claimed bool, providerMessageID string) {
	if !claimed {
		return
	}
	if err := i.dedupe.Forget(ctx, providerMessageID); err != nil {
		i.logger.Warn("dedupe release failed",
			slog.String("provider_message_id", providerMessageID),
			slog.Any("error", err))
	}
}

func statusEvents(statuses []whatsapp.WebhookStatus) []ledger.StatusEvent {
	events := make([]ledger.StatusEvent, 0, len(statuses))
	for _, s := range statuses {
		events = append(events, ledger.StatusEvent{
			ProviderMessageID: s.ID,
			Status:            ledger.Status(s.Status),
			Timestamp:         whatsapp.ParseTimestamp(s.Timestamp),
		})
	}
	return events
}

func firstPhoneNumberID(payload whatsapp.WebhookPayload) string {
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if id := change.Value.Metadata.PhoneNumberID; id != "" {
				return id
			}
		}
	}
	return ""
}
