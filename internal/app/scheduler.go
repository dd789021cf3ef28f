package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Scheduler fires the reconcile cycle on a fixed interval. It shares
// the ReconcileService's single cycle slot with the manual trigger, so
// a tick arriving mid-cycle is skipped, never run concurrently.
type Scheduler struct {
	svc      *ReconcileService
	interval time.Duration
}

func NewScheduler(svc *ReconcileService, interval time.Duration) *Scheduler {
	return &Scheduler{svc: svc, interval: interval}
}

// Run blocks until ctx is canceled. The first cycle starts immediately.
func (s *Scheduler) Run(ctx context.Context) {
	log.Info().Dur("interval", s.interval).Msg("scheduler started")

	s.tick(ctx)

	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler stopped")
			return
		case <-t.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, ok := s.svc.TryRun(ctx); !ok {
		log.Warn().Msg("cycle already in progress, tick skipped")
	}
}
