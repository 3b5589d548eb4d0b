// Package ledger is the append-only message store. Rows are keyed by the
// provider-issued message id and are immutable after insert except for the
// delivery status lifecycle, which only ever moves forward.
package ledger

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrDuplicateMessage is returned by Append when the provider message id is
// already present. Callers treat it as a successful no-op.
var ErrDuplicateMessage = errors.New("duplicate provider message id")

// ErrNotFound is returned when no ledger row matches a provider message id.
var ErrNotFound = errors.New("message not found")

// Direction marks who originated the message.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Type classifies the message content.
type Type string

const (
	TypeText        Type = "text"
	TypeTemplate    Type = "template"
	TypeImage       Type = "image"
	TypeDocument    Type = "document"
	TypeAudio       Type = "audio"
	TypeVideo       Type = "video"
	TypeLocation    Type = "location"
	TypeContactCard Type = "contacts"
	TypeUnknown     Type = "unknown"
)

// ParseType maps a provider message type onto the ledger taxonomy.
func ParseType(raw string) Type {
	switch Type(raw) {
	case TypeText, TypeTemplate, TypeImage, TypeDocument, TypeAudio, TypeVideo, TypeLocation, TypeContactCard:
		return Type(raw)
	default:
		return TypeUnknown
	}
}

// Status is the delivery lifecycle state of a message.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

var statusRank = map[Status]int{
	StatusQueued:    1,
	StatusSent:      2,
	StatusDelivered: 3,
	StatusRead:      4,
}

// KnownStatus reports whether raw is a status the ledger tracks.
func KnownStatus(raw string) bool {
	switch Status(raw) {
	case StatusQueued, StatusSent, StatusDelivered, StatusRead, StatusFailed:
		return true
	}
	return false
}

// NextStatus decides whether incoming may replace existing.
//
// Ordering is queued < sent < delivered < read; a lower or equal incoming
// status is dropped so out-of-order callbacks never regress the row. FAILED
// is terminal once applied and wins from any state except READ, which is a
// terminal success.
func NextStatus(existing, incoming Status) (Status, bool) {
	if existing == incoming || existing == StatusFailed {
		return existing, false
	}
	if incoming == StatusFailed {
		if existing == StatusRead {
			return existing, false
		}
		return StatusFailed, true
	}
	if statusRank[incoming] > statusRank[existing] {
		return incoming, true
	}
	return existing, false
}

// Message is one ledger entry.
type Message struct {
	ID                string          `json:"id"`
	TenantID          string          `json:"tenant_id"`
	ConversationID    string          `json:"conversation_id"`
	ProviderMessageID string          `json:"provider_message_id"`
	Direction         Direction       `json:"direction"`
	Type              Type            `json:"type"`
	Content           json.RawMessage `json:"content"`
	Status            Status          `json:"status"`
	ProviderTS        time.Time       `json:"provider_ts,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	SentAt            time.Time       `json:"sent_at,omitempty"`
	DeliveredAt       time.Time       `json:"delivered_at,omitempty"`
	ReadAt            time.Time       `json:"read_at,omitempty"`
	FailedAt          time.Time       `json:"failed_at,omitempty"`
}

// AppendInput is the input for inserting a ledger entry.
type AppendInput struct {
	TenantID          string
	ConversationID    string
	ProviderMessageID string
	Direction         Direction
	Type              Type
	Content           json.RawMessage
	Status            Status
	ProviderTS        time.Time
}

// StatusEvent is one provider delivery-status callback unit.
type StatusEvent struct {
	ProviderMessageID string
	Status            Status
	Timestamp         time.Time
}
