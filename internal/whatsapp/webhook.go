package whatsapp

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Webhook verification query parameters and expected mode value.
const (
	VerifyModeParam      = "hub.mode"
	VerifyTokenParam     = "hub.verify_token"
	VerifyChallengeParam = "hub.challenge"
	VerifyModeSubscribe  = "subscribe"
)

// WebhookPayload is the Cloud API delivery envelope:
// entry → changes → value → {messages[], statuses[]}.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

type Value struct {
	MessagingProduct string           `json:"messaging_product"`
	Metadata         Metadata         `json:"metadata"`
	Contacts         []WebhookContact `json:"contacts,omitempty"`
	Messages         []WebhookMessage `json:"messages,omitempty"`
	Statuses         []WebhookStatus  `json:"statuses,omitempty"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type WebhookContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// WebhookMessage is one inbound message unit. The typed sections are kept as
// raw JSON: the ledger stores them verbatim and the automation engine gets
// them untouched.
type WebhookMessage struct {
	ID        string          `json:"id"`
	From      string          `json:"from"`
	Timestamp string          `json:"timestamp"`
	Type      string          `json:"type"`
	Text      *TextPayload    `json:"text,omitempty"`
	Image     json.RawMessage `json:"image,omitempty"`
	Document  json.RawMessage `json:"document,omitempty"`
	Audio     json.RawMessage `json:"audio,omitempty"`
	Video     json.RawMessage `json:"video,omitempty"`
	Location  json.RawMessage `json:"location,omitempty"`
	Contacts  json.RawMessage `json:"contacts,omitempty"`
}

// Content returns the type-specific section of the message as raw JSON.
func (m WebhookMessage) Content() json.RawMessage {
	switch m.Type {
	case "text":
		if m.Text != nil {
			raw, _ := json.Marshal(m.Text)
			return raw
		}
	case "image":
		return m.Image
	case "document":
		return m.Document
	case "audio":
		return m.Audio
	case "video":
		return m.Video
	case "location":
		return m.Location
	case "contacts":
		return m.Contacts
	}
	return nil
}

type WebhookStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}

// ContactName resolves the display name the provider attached for a wa_id.
func (v Value) ContactName(waID string) string {
	for _, contact := range v.Contacts {
		if contact.WaID == waID {
			return strings.TrimSpace(contact.Profile.Name)
		}
	}
	return ""
}

// ParseTimestamp converts the provider's unix-seconds string. A missing or
// malformed value yields the zero time; callers fall back to receipt time.
func ParseTimestamp(raw string) time.Time {
	seconds, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || seconds <= 0 {
		return time.Time{}
	}
	return time.Unix(seconds, 0).UTC()
}
