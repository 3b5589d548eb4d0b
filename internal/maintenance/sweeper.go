// Package maintenance runs background housekeeping jobs.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/waflowhq/waflow/internal/ledger"
)

// sweepSchedule runs the retention sweep hourly.
const sweepSchedule = "@hourly"

type eventPurger interface {
	PurgeWebhookEvents(ctx context.Context, olderThan time.Time) (int64, error)
}

// Sweeper purges webhook audit rows once they age past the dedupe
// retention window. Rows younger than that may still be needed to explain
// a dropped replay.
type Sweeper struct {
	store     eventPurger
	retention time.Duration
	cron      *cron.Cron
	logger    *slog.Logger
	now       func() time.Time
}

func NewSweeper(log *slog.Logger, store *ledger.Store, retention time.Duration) *Sweeper {
	return newSweeperForStore(log, store, retention)
}

func newSweeperForStore(log *slog.Logger, store eventPurger, retention time.Duration) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		store:     store,
		retention: retention,
		cron:      cron.New(),
		logger:    log.With(slog.String("service", "maintenance")),
		now:       time.Now,
	}
}

func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(sweepSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		s.Sweep(ctx)
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

func (s *Sweeper) Stop() {
	s.cron.Stop()
}

// Sweep runs one purge pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := s.now().Add(-s.retention)
	removed, err := s.store.PurgeWebhookEvents(ctx, cutoff)
	if err != nil {
		s.logger.Error("webhook event purge failed", slog.Any("error", err))
		return
	}
	if removed > 0 {
		s.logger.Info("webhook events purged",
			slog.Int64("removed", removed),
			slog.Time("cutoff", cutoff))
	}
}
