package activity

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/secure-share-hub/internal/clock"
	"github.com/secure-share-hub/internal/models"
)

// Retention prunes events older than maxAge on a cron schedule.
type Retention struct {
	repo   models.ActivityRepository
	clock  clock.Clock
	maxAge time.Duration
	logger logrus.FieldLogger
	cron   *cron.Cron
}

func NewRetention(repo models.ActivityRepository, clk clock.Clock, days int, logger logrus.FieldLogger) *Retention {
	if clk == nil {
		clk = clock.System{}
	}
	return &Retention{
		repo:   repo,
		clock:  clk,
		maxAge: time.Duration(days) * 24 * time.Hour,
		logger: logger,
		cron:   cron.New(),
	}
}

func (r *Retention) Prune(ctx context.Context) (int64, error) {
	cutoff := r.clock.Now().Add(-r.maxAge)
	n, err := r.repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune activities: %w", err)
	}
	r.logger.WithFields(logrus.Fields{
		"pruned": n,
		"cutoff": cutoff.Format(time.RFC3339),
	}).Info("activity retention run")
	return n, nil
}

// Start schedules Prune with a standard five-field cron spec.
func (r *Retention) Start(spec string) error {
	_, err := r.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := r.Prune(ctx); err != nil {
			r.logger.WithError(err).Error("activity retention failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule retention %q: %w", spec, err)
	}
	r.cron.Start()
	return nil
}

// Stop halts the schedule; the returned context is done once a running
// prune has finished.
func (r *Retention) Stop() context.Context {
	return r.cron.Stop()
}
