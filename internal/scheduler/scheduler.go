// Package scheduler runs the background jobs a long-lived client
// process wants beyond an explicit sync: periodic stale global-version
// cleanup and periodic re-detection of an environment's metadata
// version.
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/mafzaal/d365fo-client-go/infrastructure/logging"
)

// DefaultRetentionCron runs at the top of every hour; stale
// global versions accumulate slowly, so sub-hour sweeps buy nothing.
const DefaultRetentionCron = "0 * * * *"

// Scheduler wraps a cron.Cron with job registration helpers scoped to
// the retention and re-sync jobs this client needs.
type Scheduler struct {
	cron *cron.Cron
	log  *logging.Logger
}

func New(log *logging.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		log:  log,
	}
}

// AddRetentionSweep registers sweep to run on cronExpr, logging the
// number of global versions it removed or the error it returned.
func (s *Scheduler) AddRetentionSweep(ctx context.Context, cronExpr string, sweep func(context.Context) (int, error)) error {
	if cronExpr == "" {
		cronExpr = DefaultRetentionCron
	}
	_, err := s.cron.AddFunc(cronExpr, func() {
		removed, err := sweep(ctx)
		if err != nil {
			s.log.WithError(err).Warn("retention sweep failed")
			return
		}
		s.log.WithFields(map[string]interface{}{"removed": removed}).Info("retention sweep complete")
	})
	if err != nil {
		return fmt.Errorf("schedule retention sweep %q: %w", cronExpr, err)
	}
	return nil
}

// AddResync registers resync to run every interval using cron's
// "@every" spec, which accepts any value time.ParseDuration accepts.
func (s *Scheduler) AddResync(ctx context.Context, every string, resync func(context.Context) error) error {
	_, err := s.cron.AddFunc("@every "+every, func() {
		if err := resync(ctx); err != nil {
			s.log.WithError(err).Warn("scheduled re-sync failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule resync @every %s: %w", every, err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop requests a graceful shutdown and blocks until any running job
// finishes or ctx is cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
