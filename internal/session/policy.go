// Package session implements the customer-initiated session window rule:
// free-form outbound messages are only allowed while the contact's last
// inbound message is less than 24 hours old.
package session

import (
	"context"
	"fmt"
	"time"
)

// Window is the length of the customer-initiated session.
const Window = 24 * time.Hour

type inboundSource interface {
	LastInboundAt(ctx context.Context, conversationID string) (time.Time, error)
}

// Policy evaluates the session window. It is a pure read over the ledger:
// the window slides continuously, so the answer is computed at send time and
// never cached.
type Policy struct {
	source inboundSource
}

func NewPolicy(source inboundSource) *Policy {
	return &Policy{source: source}
}

// Decision carries the window verdict plus the inbound watermark it was
// computed from, so callers can tell "window expired" apart from "contact
// has never written".
type Decision struct {
	Allowed       bool
	LastInboundAt time.Time
}

// CanSendFreeform reports whether a non-template outbound message is
// currently permitted for the conversation.
func (p *Policy) CanSendFreeform(ctx context.Context, conversationID string, now time.Time) (bool, error) {
	decision, err := p.Evaluate(ctx, conversationID, now)
	if err != nil {
		return false, err
	}
	return decision.Allowed, nil
}

// Evaluate computes the window decision for the conversation at now.
func (p *Policy) Evaluate(ctx context.Context, conversationID string, now time.Time) (Decision, error) {
	lastInbound, err := p.source.LastInboundAt(ctx, conversationID)
	if err != nil {
		return Decision{}, fmt.Errorf("last inbound lookup: %w", err)
	}
	if lastInbound.IsZero() {
		return Decision{}, nil
	}
	return Decision{
		Allowed:       !lastInbound.Before(now.Add(-Window)),
		LastInboundAt: lastInbound,
	}, nil
}
