package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

type statusAdvancer interface {
	AdvanceStatus(ctx context.Context, providerMessageID string, status Status, at time.Time) error
}

// Reconciler consumes provider delivery-status callbacks and advances ledger
// rows. It never propagates an error to the webhook caller: an unresolved
// provider message id may belong to a number synced elsewhere or predate
// retention, so it is logged and skipped.
type Reconciler struct {
	store  statusAdvancer
	logger *slog.Logger
}

func NewReconciler(log *slog.Logger, store *Store) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{
		store:  store,
		logger: log.With(slog.String("service", "status_reconciler")),
	}
}

// newReconcilerForStore is used by tests to swap in a fake store.
func newReconcilerForStore(log *slog.Logger, store statusAdvancer) *Reconciler {
	r := NewReconciler(log, nil)
	r.store = store
	return r
}

// ReconcileStatuses applies each event independently; a failing unit never
// aborts its siblings.
func (r *Reconciler) ReconcileStatuses(ctx context.Context, events []StatusEvent) {
	for _, event := range events {
		if event.ProviderMessageID == "" {
			continue
		}
		if !KnownStatus(string(event.Status)) {
			r.logger.Warn("unknown delivery status skipped",
				slog.String("provider_message_id", event.ProviderMessageID),
				slog.String("status", string(event.Status)))
			continue
		}
		err := r.store.AdvanceStatus(ctx, event.ProviderMessageID, event.Status, event.Timestamp)
		switch {
		case err == nil:
		case errors.Is(err, ErrNotFound):
			r.logger.Info("status for unknown message skipped",
				slog.String("provider_message_id", event.ProviderMessageID),
				slog.String("status", string(event.Status)))
		default:
			r.logger.Error("advance status failed",
				slog.String("provider_message_id", event.ProviderMessageID),
				slog.String("status", string(event.Status)),
				slog.Any("error", err))
		}
	}
}
