package account

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// invalidationChannel carries phone number ids whose cache entries must be
// dropped, so replicas converge after connect/disconnect.
const invalidationChannel = "waflow:accounts:invalidate"

const cacheTTL = time.Minute

type accountSource interface {
	Create(ctx context.Context, req ConnectRequest, status Status) (ChannelAccount, error)
	GetByPhoneNumberID(ctx context.Context, phoneNumberID string) (ChannelAccount, error)
	GetByVerifyToken(ctx context.Context, verifyToken string) (ChannelAccount, error)
	GetByID(ctx context.Context, tenantID, id string) (ChannelAccount, error)
	UpdateStatus(ctx context.Context, tenantID, id string, status Status) (ChannelAccount, error)
}

type cacheEntry struct {
	account ChannelAccount
	expires time.Time
}

// Registry resolves channel accounts with a short-lived in-process cache on
// the hot webhook lookup path. Writes invalidate locally and broadcast over
// redis so other replicas drop their entries too.
type Registry struct {
	store  accountSource
	rdb    *redis.Client
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

func NewRegistry(log *slog.Logger, store *Store, rdb *redis.Client) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		store:  store,
		rdb:    rdb,
		logger: log.With(slog.String("service", "account_registry")),
		cache:  map[string]cacheEntry{},
	}
}

// newRegistryForSource is used by tests to swap in a fake store.
func newRegistryForSource(log *slog.Logger, store accountSource) *Registry {
	r := NewRegistry(log, nil, nil)
	r.store = store
	return r
}

// GetByPhoneNumberID resolves the account owning a provider number id.
func (r *Registry) GetByPhoneNumberID(ctx context.Context, phoneNumberID string) (ChannelAccount, error) {
	r.mu.RLock()
	entry, ok := r.cache[phoneNumberID]
	r.mu.RUnlock()
	if ok && time.Now().Before(entry.expires) {
		return entry.account, nil
	}

	acct, err := r.store.GetByPhoneNumberID(ctx, phoneNumberID)
	if err != nil {
		return ChannelAccount{}, err
	}
	r.mu.Lock()
	r.cache[phoneNumberID] = cacheEntry{account: acct, expires: time.Now().Add(cacheTTL)}
	r.mu.Unlock()
	return acct, nil
}

// GetByVerifyToken finds the account for a webhook verification request.
// Not cached: verification happens once per webhook subscription.
func (r *Registry) GetByVerifyToken(ctx context.Context, verifyToken string) (ChannelAccount, error) {
	return r.store.GetByVerifyToken(ctx, verifyToken)
}

// GetByID resolves an account by primary key within a tenant.
func (r *Registry) GetByID(ctx context.Context, tenantID, id string) (ChannelAccount, error) {
	return r.store.GetByID(ctx, tenantID, id)
}

// Connect links a new channel account as active.
func (r *Registry) Connect(ctx context.Context, req ConnectRequest) (ChannelAccount, error) {
	acct, err := r.store.Create(ctx, req, StatusActive)
	if err != nil {
		return ChannelAccount{}, err
	}
	r.invalidate(ctx, acct.PhoneNumberID)
	return acct, nil
}

// Disconnect deactivates an account. The row is kept for audit.
func (r *Registry) Disconnect(ctx context.Context, tenantID, id string) (ChannelAccount, error) {
	acct, err := r.store.UpdateStatus(ctx, tenantID, id, StatusInactive)
	if err != nil {
		return ChannelAccount{}, err
	}
	r.invalidate(ctx, acct.PhoneNumberID)
	return acct, nil
}

func (r *Registry) invalidate(ctx context.Context, phoneNumberID string) {
	r.mu.Lock()
	delete(r.cache, phoneNumberID)
	r.mu.Unlock()
	if r.rdb == nil {
		return
	}
	if err := r.rdb.Publish(ctx, invalidationChannel, phoneNumberID).Err(); err != nil {
		r.logger.Warn("publish cache invalidation failed",
			slog.String("phone_number_id", phoneNumberID), slog.Any("error", err))
	}
}

// StartInvalidationListener subscribes to the invalidation channel and drops
// cache entries published by other replicas. It returns once subscribed and
// keeps consuming until ctx is cancelled.
func (r *Registry) StartInvalidationListener(ctx context.Context) {
	if r.rdb == nil {
		return
	}
	sub := r.rdb.Subscribe(ctx, invalidationChannel)
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				r.mu.Lock()
				delete(r.cache, msg.Payload)
				r.mu.Unlock()
			}
		}
	}()
}
