// Package janitor runs the periodic maintenance work of the gateway. Its one
// job today is purging expired session rows; abandoned login round trips
// otherwise accumulate forever.
package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/gatekey-io/gatekey/internal/session"
)

// DefaultInterval is how often the purge runs.
const DefaultInterval = 15 * time.Minute

// purgeTimeout bounds a single purge run.
const purgeTimeout = 30 * time.Second

// Janitor wraps gocron and owns the purge schedule.
// The zero value is not usable — create instances with New.
type Janitor struct {
	cron     gocron.Scheduler
	store    *session.Store
	interval time.Duration
	logger   *zap.Logger
}

// New creates a Janitor purging through the given session store every
// interval. A non-positive interval selects DefaultInterval.
func New(store *session.Store, interval time.Duration, logger *zap.Logger) (*Janitor, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("janitor: creating scheduler: %w", err)
	}

	return &Janitor{
		cron:     s,
		store:    store,
		interval: interval,
		logger:   logger.Named("janitor"),
	}, nil
}

// Start schedules the purge job and starts the underlying scheduler. The job
// runs in singleton mode: a purge still running when the next tick fires is
// not doubled up.
func (j *Janitor) Start() error {
	_, err := j.cron.NewJob(
		gocron.DurationJob(j.interval),
		gocron.NewTask(j.purge),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("janitor: scheduling purge: %w", err)
	}

	j.cron.Start()
	j.logger.Info("janitor started", zap.Duration("interval", j.interval))
	return nil
}

// Stop gracefully shuts down the underlying scheduler, waiting for a running
// purge to complete before returning.
func (j *Janitor) Stop() error {
	if err := j.cron.Shutdown(); err != nil {
		return fmt.Errorf("janitor: shutdown: %w", err)
	}
	j.logger.Info("janitor stopped")
	return nil
}

// purge is the tick function.
func (j *Janitor) purge() {
	ctx, cancel := context.WithTimeout(context.Background(), purgeTimeout)
	defer cancel()

	purged, err := j.store.PurgeExpired(ctx)
	if err != nil {
		j.logger.Error("session purge failed", zap.Error(err))
		return
	}
	if purged > 0 {
		j.logger.Info("purged expired session entries", zap.Int64("entries", purged))
	}
}
