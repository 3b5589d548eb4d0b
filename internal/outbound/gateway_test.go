package outbound

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/waflowhq/waflow/internal/account"
	"github.com/waflowhq/waflow/internal/contact"
	"github.com/waflowhq/waflow/internal/ledger"
	"github.com/waflowhq/waflow/internal/session"
	"github.com/waflowhq/waflow/internal/whatsapp"
)

type fakeAccounts struct {
	account account.ChannelAccount
	err     error
}

func (f *fakeAccounts) GetByID(_ context.Context, tenantID, id string) (account.ChannelAccount, error) {
	if f.err != nil {
		return account.ChannelAccount{}, f.err
	}
	return f.account, nil
}

type fakeResolver struct {
	resolution contact.Resolution
}

func (f *fakeResolver) Resolve(_ context.Context, tenantID, channelAccountID, waID, displayName string) (contact.Resolution, error) {
	return f.resolution, nil
}

type fakePolicy struct {
	decision session.Decision
	calls    int
}

func (f *fakePolicy) Evaluate(_ context.Context, conversationID string, now time.Time) (session.Decision, error) {
	f.calls++
	return f.decision, nil
}

type fakeAppender struct {
	appended  []ledger.AppendInput
	appendErr error
	existing  ledger.Message
}

func (f *fakeAppender) Append(_ context.Context, in ledger.AppendInput) (ledger.Message, error) {
	f.appended = append(f.appended, in)
	if f.appendErr != nil {
		return ledger.Message{}, f.appendErr
	}
	return ledger.Message{ID: "msg-1", ProviderMessageID: in.ProviderMessageID, Status: in.Status}, nil
}

func (f *fakeAppender) GetByProviderMessageID(_ context.Context, providerMessageID string) (ledger.Message, error) {
	if f.existing.ID == "" {
		return ledger.Message{}, ledger.ErrNotFound
	}
	return f.existing, nil
}

type fakeSender struct {
	result whatsapp.SendResult
	err    error
	calls  int
}

func (f *fakeSender) SendMessage(_ context.Context, accessToken, phoneNumberID string, payload whatsapp.MessagePayload) (whatsapp.SendResult, error) {
	f.calls++
	if f.err != nil {
		return whatsapp.SendResult{}, f.err
	}
	return f.result, nil
}

func activeAccount() account.ChannelAccount {
	return account.ChannelAccount{
		ID:            "ca-1",
		TenantID:      "tenant-1",
		PhoneNumberID: "555001",
		AccessToken:   "token",
		Status:        account.StatusActive,
	}
}

func newTestGateway(accounts *fakeAccounts, policy *fakePolicy, appender *fakeAppender, sender *fakeSender) *Gateway {
	resolver := &fakeResolver{resolution: contact.Resolution{ContactID: "c-1", ConversationID: "conv-1"}}
	return newGateway(nil, accounts, resolver, policy, appender, sender)
}

func TestSendTextRecordsLedgerRow(t *testing.T) {
	t.Parallel()

	appender := &fakeAppender{}
	sender := &fakeSender{result: whatsapp.SendResult{MessageID: "wamid.123"}}
	policy := &fakePolicy{decision: session.Decision{Allowed: true, LastInboundAt: time.Now()}}
	gw := newTestGateway(&fakeAccounts{account: activeAccount()}, policy, appender, sender)

	resp, err := gw.Send(context.Background(), SendRequest{
		TenantID:         "tenant-1",
		ChannelAccountID: "ca-1",
		To:               "15550002",
		Type:             "text",
		Text:             "hello",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.ProviderMessageID != "wamid.123" {
		t.Fatalf("provider message id = %q, want wamid.123", resp.ProviderMessageID)
	}
	if resp.Status != ledger.StatusSent {
		t.Fatalf("status = %q, want %q", resp.Status, ledger.StatusSent)
	}
	if len(appender.appended) != 1 {
		t.Fatalf("appended %d rows, want 1", len(appender.appended))
	}
	row := appender.appended[0]
	if row.Direction != ledger.DirectionOutbound || row.Status != ledger.StatusSent {
		t.Fatalf("row = %+v, want outbound/sent", row)
	}
	if row.ProviderMessageID != "wamid.123" {
		t.Fatalf("row keyed by %q, want wamid.123", row.ProviderMessageID)
	}
}

func TestSendInactiveAccountNeverCallsProvider(t *testing.T) {
	t.Parallel()

	acct := activeAccount()
	acct.Status = account.StatusInactive
	sender := &fakeSender{}
	appender := &fakeAppender{}
	gw := newTestGateway(&fakeAccounts{account: acct}, &fakePolicy{}, appender, sender)

	_, err := gw.Send(context.Background(), SendRequest{
		TenantID:         "tenant-1",
		ChannelAccountID: "ca-1",
		To:               "15550002",
		Type:             "text",
		Text:             "hello",
	})
	if !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("err = %v, want ErrAccountInactive", err)
	}
	if sender.calls != 0 {
		t.Fatalf("provider called %d times, want 0", sender.calls)
	}
	if len(appender.appended) != 0 {
		t.Fatalf("ledger written on rejected send")
	}
}

func TestSendFreeformOutsideWindow(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	policy := &fakePolicy{decision: session.Decision{Allowed: false, LastInboundAt: time.Now().Add(-30 * time.Hour)}}
	gw := newTestGateway(&fakeAccounts{account: activeAccount()}, policy, &fakeAppender{}, sender)

	_, err := gw.Send(context.Background(), SendRequest{
		TenantID:         "tenant-1",
		ChannelAccountID: "ca-1",
		To:               "15550002",
		Type:             "text",
		Text:             "hello",
	})
	if !errors.Is(err, ErrOutsideWindow) {
		t.Fatalf("err = %v, want ErrOutsideWindow", err)
	}
	if sender.calls != 0 {
		t.Fatalf("provider called despite closed window")
	}
}

func TestSendToSilentContactRequiresTemplate(t *testing.T) {
	t.Parallel()

	policy := &fakePolicy{decision: session.Decision{}}
	gw := newTestGateway(&fakeAccounts{account: activeAccount()}, policy, &fakeAppender{}, &fakeSender{})

	_, err := gw.Send(context.Background(), SendRequest{
		TenantID:         "tenant-1",
		ChannelAccountID: "ca-1",
		To:               "15550002",
		Type:             "text",
		Text:             "hello",
	})
	if !errors.Is(err, ErrTemplateRequired) {
		t.Fatalf("err = %v, want ErrTemplateRequired", err)
	}
}

func TestSendTemplateBypassesWindowPolicy(t *testing.T) {
	t.Parallel()

	appender := &fakeAppender{}
	sender := &fakeSender{result: whatsapp.SendResult{MessageID: "wamid.tpl"}}
	policy := &fakePolicy{decision: session.Decision{Allowed: false}}
	gw := newTestGateway(&fakeAccounts{account: activeAccount()}, policy, appender, sender)

	resp, err := gw.Send(context.Background(), SendRequest{
		TenantID:         "tenant-1",
		ChannelAccountID: "ca-1",
		To:               "15550002",
		Type:             "template",
		Template: &whatsapp.TemplatePayload{
			Name:     "order_update",
			Language: whatsapp.TemplateLanguage{Code: "en"},
		},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if policy.calls != 0 {
		t.Fatalf("window policy consulted %d times for a template, want 0", policy.calls)
	}
	if resp.ProviderMessageID != "wamid.tpl" {
		t.Fatalf("provider message id = %q", resp.ProviderMessageID)
	}
}

func TestSendProviderRejectionLeavesNoLedgerRow(t *testing.T) {
	t.Parallel()

	appender := &fakeAppender{}
	sender := &fakeSender{err: &whatsapp.APIError{Code: 131026, Message: "Message undeliverable"}}
	policy := &fakePolicy{decision: session.Decision{Allowed: true, LastInboundAt: time.Now()}}
	gw := newTestGateway(&fakeAccounts{account: activeAccount()}, policy, appender, sender)

	_, err := gw.Send(context.Background(), SendRequest{
		TenantID:         "tenant-1",
		ChannelAccountID: "ca-1",
		To:               "15550002",
		Type:             "text",
		Text:             "hello",
	})
	var provErr *ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("err = %v, want *ProviderError", err)
	}
	if provErr.Code != 131026 {
		t.Fatalf("provider code = %d, want 131026", provErr.Code)
	}
	if len(appender.appended) != 0 {
		t.Fatalf("ledger written for a rejected send")
	}
}

func TestSendTransportFailureLeavesNoLedgerRow(t *testing.T) {
	t.Parallel()

	appender := &fakeAppender{}
	sender := &fakeSender{err: errors.New("call channel api: context deadline exceeded")}
	policy := &fakePolicy{decision: session.Decision{Allowed: true, LastInboundAt: time.Now()}}
	gw := newTestGateway(&fakeAccounts{account: activeAccount()}, policy, appender, sender)

	_, err := gw.Send(context.Background(), SendRequest{
		TenantID:         "tenant-1",
		ChannelAccountID: "ca-1",
		To:               "15550002",
		Type:             "text",
		Text:             "hello",
	})
	var provErr *ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("err = %v, want *ProviderError", err)
	}
	if provErr.Code != 0 {
		t.Fatalf("transport failure carried provider code %d", provErr.Code)
	}
	if len(appender.appended) != 0 {
		t.Fatalf("ledger written for a failed send")
	}
}

func TestSendDuplicateProviderIDAnswersWithExistingRow(t *testing.T) {
	t.Parallel()

	appender := &fakeAppender{
		appendErr: ledger.ErrDuplicateMessage,
		existing: ledger.Message{
			ID:                "msg-prior",
			ProviderMessageID: "wamid.dup",
			Status:            ledger.StatusDelivered,
		},
	}
	sender := &fakeSender{result: whatsapp.SendResult{MessageID: "wamid.dup"}}
	policy := &fakePolicy{decision: session.Decision{Allowed: true, LastInboundAt: time.Now()}}
	gw := newTestGateway(&fakeAccounts{account: activeAccount()}, policy, appender, sender)

	resp, err := gw.Send(context.Background(), SendRequest{
		TenantID:         "tenant-1",
		ChannelAccountID: "ca-1",
		To:               "15550002",
		Type:             "text",
		Text:             "hello",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.MessageID != "msg-prior" {
		t.Fatalf("message id = %q, want the existing row's id", resp.MessageID)
	}
	if resp.Status != ledger.StatusDelivered {
		t.Fatalf("status = %q, want the existing row's status", resp.Status)
	}
}

func TestSendMissingContentRejected(t *testing.T) {
	t.Parallel()

	gw := newTestGateway(&fakeAccounts{account: activeAccount()},
		&fakePolicy{decision: session.Decision{Allowed: true, LastInboundAt: time.Now()}},
		&fakeAppender{}, &fakeSender{})

	_, err := gw.Send(context.Background(), SendRequest{
		TenantID:         "tenant-1",
		ChannelAccountID: "ca-1",
		To:               "15550002",
		Type:             "image",
	})
	if err == nil {
		t.Fatal("expected error for image without media link")
	}
}
