// Package account manages tenant-owned WhatsApp channel accounts: the
// mapping from a provider phone number id to the tenant that owns it and
// the credentials used to call and verify the channel API.
package account

import "time"

// Status is the lifecycle state of a channel account.
type Status string

const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// ChannelAccount is a tenant's registered number on the messaging channel.
// Accounts are deactivated on disconnect, never deleted.
type ChannelAccount struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	PhoneNumberID string    `json:"phone_number_id"`
	AccessToken   string    `json:"-"`
	VerifyToken   string    `json:"-"`
	AppSecret     string    `json:"-"`
	DisplayNumber string    `json:"display_number,omitempty"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// IsActive reports whether the account may send and receive.
func (a ChannelAccount) IsActive() bool {
	return a.Status == StatusActive
}

// ConnectRequest is the input for linking a new channel account.
type ConnectRequest struct {
	TenantID      string `json:"tenant_id" validate:"required,uuid4"`
	PhoneNumberID string `json:"phone_number_id" validate:"required"`
	AccessToken   string `json:"access_token" validate:"required"`
	VerifyToken   string `json:"verify_token" validate:"required"`
	AppSecret     string `json:"app_secret" validate:"required"`
	DisplayNumber string `json:"display_number,omitempty"`
}
