package contact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

type resolverStore interface {
	GetContact(ctx context.Context, tenantID, waID string) (Contact, error)
	CreateContact(ctx context.Context, tenantID, waID, displayName string) (Contact, error)
	GetConversation(ctx context.Context, tenantID, contactID, channelAccountID string) (Conversation, error)
	CreateConversation(ctx context.Context, tenantID, contactID, channelAccountID string) (Conversation, error)
}

// Resolver maps a (tenant, channel account, external contact id) triple to a
// contact and its open conversation, creating either on first sight.
//
// Resolution is create-or-fetch rather than lock-then-create: a unique-key
// conflict from a concurrent creator is resolved by re-fetching the winner's
// row, so identical concurrent calls converge on the same rows across
// processes without an explicit lock.
type Resolver struct {
	store  resolverStore
	logger *slog.Logger
}

func NewResolver(log *slog.Logger, store *Store) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		store:  store,
		logger: log.With(slog.String("service", "contact_resolver")),
	}
}

// newResolverForStore is used by tests to swap in a fake store.
func newResolverForStore(log *slog.Logger, store resolverStore) *Resolver {
	r := NewResolver(log, nil)
	r.store = store
	return r
}

// Resolve returns the contact and conversation ids for the sender,
// creating both rows when absent. The tenant id must already be resolved
// from the owning channel account; it is never inferred here.
func (r *Resolver) Resolve(ctx context.Context, tenantID, channelAccountID, waID, displayName string) (Resolution, error) {
	contact, err := r.resolveContact(ctx, tenantID, waID, displayName)
	if err != nil {
		return Resolution{}, err
	}
	conv, err := r.resolveConversation(ctx, tenantID, contact.ID, channelAccountID)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{ContactID: contact.ID, ConversationID: conv.ID}, nil
}

func (r *Resolver) resolveContact(ctx context.Context, tenantID, waID, displayName string) (Contact, error) {
	contact, err := r.store.GetContact(ctx, tenantID, waID)
	if err == nil {
		return contact, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Contact{}, fmt.Errorf("lookup contact: %w", err)
	}

	contact, err = r.store.CreateContact(ctx, tenantID, waID, displayName)
	if err == nil {
		r.logger.Info("contact created",
			slog.String("tenant_id", tenantID), slog.String("wa_id", waID))
		return contact, nil
	}
	if !errors.Is(err, ErrConflict) {
		return Contact{}, fmt.Errorf("create contact: %w", err)
	}

	// Lost the creation race; the winner's row is authoritative.
	contact, err = r.store.GetContact(ctx, tenantID, waID)
	if err != nil {
		return Contact{}, fmt.Errorf("fetch contact after conflict: %w", err)
	}
	return contact, nil
}

func (r *Resolver) resolveConversation(ctx context.Context, tenantID, contactID, channelAccountID string) (Conversation, error) {
	conv, err := r.store.GetConversation(ctx, tenantID, contactID, channelAccountID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Conversation{}, fmt.Errorf("lookup conversation: %w", err)
	}

	conv, err = r.store.CreateConversation(ctx, tenantID, contactID, channelAccountID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, ErrConflict) {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}

	conv, err = r.store.GetConversation(ctx, tenantID, contactID, channelAccountID)
	if err != nil {
		return Conversation{}, fmt.Errorf("fetch conversation after conflict: %w", err)
	}
	return conv, nil
}
