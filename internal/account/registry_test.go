package account

import (
	"context"
	"testing"
)

type fakeAccountSource struct {
	byPhoneNumberID map[string]ChannelAccount
	lookups         int
}

func (f *fakeAccountSource) Create(ctx context.Context, req ConnectRequest, status Status) (ChannelAccount, error) {
	acct := ChannelAccount{
		ID:            "acct-1",
		TenantID:      req.TenantID,
		PhoneNumberID: req.PhoneNumberID,
		Status:        status,
	}
	f.byPhoneNumberID[req.PhoneNumberID] = acct
	return acct, nil
}

func (f *fakeAccountSource) GetByPhoneNumberID(ctx context.Context, phoneNumberID string) (ChannelAccount, error) {
	f.lookups++
	acct, ok := f.byPhoneNumberID[phoneNumberID]
	if !ok {
		return ChannelAccount{}, ErrNotFound
	}
	return acct, nil
}

func (f *fakeAccountSource) GetByVerifyToken(ctx context.Context, verifyToken string) (ChannelAccount, error) {
	for _, acct := range f.byPhoneNumberID {
		if acct.VerifyToken == verifyToken {
			return acct, nil
		}
	}
	return ChannelAccount{}, ErrNotFound
}

func (f *fakeAccountSource) GetByID(ctx context.Context, tenantID, id string) (ChannelAccount, error) {
	for _, acct := range f.byPhoneNumberID {
		if acct.ID == id && acct.TenantID == tenantID {
			return acct, nil
		}
	}
	return ChannelAccount{}, ErrNotFound
}

func (f *fakeAccountSource) UpdateStatus(ctx context.Context, tenantID, id string, status Status) (ChannelAccount, error) {
	for key, acct := range f.byPhoneNumberID {
		if acct.ID == id && acct.TenantID == tenantID {
			acct.Status = status
			f.byPhoneNumberID[key] = acct
			return acct, nil
		}
	}
	return ChannelAccount{}, ErrNotFound
}

func TestRegistryCachesPhoneNumberLookups(t *testing.T) {
	t.Parallel()

	source := &fakeAccountSource{byPhoneNumberID: map[string]ChannelAccount{
		"1555": {ID: "acct-1", TenantID: "tenant-1", PhoneNumberID: "1555", Status: StatusActive},
	}}
	registry := newRegistryForSource(nil, source)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		acct, err := registry.GetByPhoneNumberID(ctx, "1555")
		if err != nil {
			t.Fatalf("lookup failed: %v", err)
		}
		if acct.ID != "acct-1" {
			t.Fatalf("unexpected account: %+v", acct)
		}
	}
	if source.lookups != 1 {
		t.Fatalf("expected 1 store lookup, got %d", source.lookups)
	}
}

func TestRegistryDisconnectInvalidatesCache(t *testing.T) {
	t.Parallel()

	source := &fakeAccountSource{byPhoneNumberID: map[string]ChannelAccount{
		"1555": {ID: "acct-1", TenantID: "tenant-1", PhoneNumberID: "1555", Status: StatusActive},
	}}
	registry := newRegistryForSource(nil, source)

	ctx := context.Background()
	if _, err := registry.GetByPhoneNumberID(ctx, "1555"); err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if _, err := registry.Disconnect(ctx, "tenant-1", "acct-1"); err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}
	acct, err := registry.GetByPhoneNumberID(ctx, "1555")
	if err != nil {
		t.Fatalf("lookup after disconnect failed: %v", err)
	}
	if acct.Status != StatusInactive {
		t.Fatalf("expected inactive status after disconnect, got %s", acct.Status)
	}
	if source.lookups != 2 {
		t.Fatalf("expected cache miss after invalidation, lookups = %d", source.lookups)
	}
}

func TestRegistryMissReturnsNotFound(t *testing.T) {
	t.Parallel()

	registry := newRegistryForSource(nil, &fakeAccountSource{byPhoneNumberID: map[string]ChannelAccount{}})
	if _, err := registry.GetByPhoneNumberID(context.Background(), "404"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
