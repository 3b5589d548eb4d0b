package session

import (
	"context"
	"testing"
	"time"
)

type fixedInbound struct {
	last time.Time
}

func (f fixedInbound) LastInboundAt(ctx context.Context, conversationID string) (time.Time, error) {
	return f.last, nil
}

func TestCanSendFreeform(t *testing.T) {
	t.Parallel()

	inboundAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{name: "just inside the window", now: inboundAt.Add(23*time.Hour + 59*time.Minute), want: true},
		{name: "minutes after inbound", now: inboundAt.Add(5 * time.Minute), want: true},
		{name: "just outside the window", now: inboundAt.Add(24*time.Hour + time.Minute), want: false},
		{name: "a day late", now: inboundAt.Add(48 * time.Hour), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			policy := NewPolicy(fixedInbound{last: inboundAt})
			got, err := policy.CanSendFreeform(context.Background(), "conv-1", tt.now)
			if err != nil {
				t.Fatalf("policy failed: %v", err)
			}
			if got != tt.want {
				t.Fatalf("CanSendFreeform at %s = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestCanSendFreeformNeverHeardFromContact(t *testing.T) {
	t.Parallel()

	policy := NewPolicy(fixedInbound{})
	got, err := policy.CanSendFreeform(context.Background(), "conv-1", time.Now())
	if err != nil {
		t.Fatalf("policy failed: %v", err)
	}
	if got {
		t.Fatalf("expected freeform to be blocked before any inbound message")
	}
}
