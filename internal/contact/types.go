// Package contact resolves inbound senders and outbound recipients to
// tenant-scoped contacts and their open conversations.
package contact

import "time"

// Contact is an external party on the channel, scoped to one tenant.
// Contacts are created on first inbound message or explicit import and are
// never auto-deleted.
type Contact struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	WaID        string    `json:"wa_id"`
	DisplayName string    `json:"display_name,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// Conversation is the canonical open thread for a
// (tenant, contact, channel account) triple.
type Conversation struct {
	ID               string    `json:"id"`
	TenantID         string    `json:"tenant_id"`
	ContactID        string    `json:"contact_id"`
	ChannelAccountID string    `json:"channel_account_id"`
	LastMessageAt    time.Time `json:"last_message_at,omitempty"`
	LastInboundAt    time.Time `json:"last_inbound_at,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Resolution is the outcome of resolving a sender to its contact and
// conversation rows.
type Resolution struct {
	ContactID      string
	ConversationID string
}
