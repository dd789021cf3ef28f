package app

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"replybot/internal/adapters/observability"
	"replybot/internal/domain"
)

// ReconcileService runs the fetch → generate → post → record → report
// cycle. At most one cycle is in flight at a time; the semaphore is the
// Idle/Running flag shared by the scheduler and the manual trigger.
type ReconcileService struct {
	src      domain.ReviewSource
	gen      domain.ReplyGenerator
	poster   domain.ReplyPoster
	store    domain.ReplyStore
	cache    domain.SeenCache
	notifier domain.Notifier

	sem *semaphore.Weighted
	now func() time.Time
}

func NewReconcileService(
	src domain.ReviewSource,
	gen domain.ReplyGenerator,
	poster domain.ReplyPoster,
	store domain.ReplyStore,
	cache domain.SeenCache,
	notifier domain.Notifier,
) *ReconcileService {
	return &ReconcileService{
		src:      src,
		gen:      gen,
		poster:   poster,
		store:    store,
		cache:    cache,
		notifier: notifier,
		sem:      semaphore.NewWeighted(1),
		now:      time.Now,
	}
}

// TryRun runs one cycle unless another is already in progress, in which
// case it returns false without blocking.
func (s *ReconcileService) TryRun(ctx context.Context) (domain.CycleReport, bool) {
	if !s.sem.TryAcquire(1) {
		observability.ObserveCycleBusy()
		return domain.CycleReport{}, false
	}
	defer s.sem.Release(1)
	return s.run(ctx), true
}

// TryStart is the asynchronous variant for the manual HTTP trigger: it
// claims the cycle slot before returning, then runs in the background.
func (s *ReconcileService) TryStart(ctx context.Context) bool {
	if !s.sem.TryAcquire(1) {
		observability.ObserveCycleBusy()
		return false
	}
	go func() {
		defer s.sem.Release(1)
		s.run(ctx)
	}()
	return true
}

func (s *ReconcileService) run(ctx context.Context) domain.CycleReport {
	rep := domain.CycleReport{StartedAt: s.now()}

	reviews, err := s.src.ListReviews(ctx)
	if err != nil {
		// Cycle-level failure: no retry here, the next scheduled tick is
		// the retry.
		rep.Aborted = true
		rep.AbortErr = err.Error()
		log.Error().Err(err).Msg("review fetch failed, cycle aborted")
		s.finish(ctx, &rep)
		return rep
	}
	rep.Fetched = len(reviews)

	for _, rv := range reviews {
		s.processReview(ctx, rv, &rep)
	}

	s.finish(ctx, &rep)
	return rep
}

// processReview handles one review in isolation: its failure lands in
// the report and never aborts the rest of the cycle.
func (s *ReconcileService) processReview(ctx context.Context, rv domain.Review, rep *domain.CycleReport) {
	handled, err := s.isHandled(ctx, rv.ID)
	if err != nil {
		rep.Failed++
		rep.Failures = append(rep.Failures, domain.CycleFailure{
			ReviewID: rv.ID, Stage: "track", Reason: err.Error(),
		})
		log.Error().Str("review", rv.ID).Err(err).Msg("seen lookup failed")
		return
	}
	if handled {
		return // already replied or permanently skipped
	}

	// The upstream is the source of truth on duplicates: a reply that is
	// already there (posted before a crash, or by a human) is adopted
	// into the local log instead of posted again.
	if rv.HasReply {
		if err := s.record(ctx, rv.ID, rv.ExistingReply, domain.OutcomeSucceeded, "", rep); err == nil {
			rep.Adopted++
			observability.ObserveReply("adopted")
			log.Info().Str("review", rv.ID).Msg("adopted existing upstream reply")
		}
		return
	}

	text, err := s.gen.Generate(ctx, rv)
	if err != nil {
		// No ReplyRecord for generation failures: the review stays
		// unseen and is re-attempted next cycle.
		rep.Failed++
		rep.Failures = append(rep.Failures, domain.CycleFailure{
			ReviewID: rv.ID, Stage: "generate", Reason: err.Error(),
		})
		observability.ObserveReply("failed")
		log.Warn().Str("review", rv.ID).Err(err).Msg("reply generation failed")
		return
	}

	if err := s.poster.PostReply(ctx, rv.ID, text); err != nil {
		var rej *domain.PostRejectedError
		if errors.As(err, &rej) && rej.Permanent {
			// Retrying would never succeed; close the review out.
			if rerr := s.record(ctx, rv.ID, text, domain.OutcomeSkipped, rej.Reason, rep); rerr == nil {
				rep.Skipped++
			}
			observability.ObserveReply("skipped")
			log.Warn().Str("review", rv.ID).Str("reason", rej.Reason).Msg("reply permanently rejected")
		} else {
			_ = s.record(ctx, rv.ID, text, domain.OutcomeFailed, err.Error(), rep)
			rep.Failed++
			observability.ObserveReply("failed")
			log.Warn().Str("review", rv.ID).Err(err).Msg("reply post failed")
		}
		rep.Failures = append(rep.Failures, domain.CycleFailure{
			ReviewID: rv.ID, Stage: "post", Reason: err.Error(),
		})
		return
	}

	if err := s.record(ctx, rv.ID, text, domain.OutcomeSucceeded, "", rep); err != nil {
		// The reply did post; next cycle the upstream reply state covers
		// us, so count it as replied and surface the record failure.
		log.Error().Str("review", rv.ID).Err(err).Msg("reply posted but not recorded")
	}
	rep.Replied++
	observability.ObserveReply("succeeded")
	log.Info().Str("review", rv.ID).Int("stars", rv.Rating).Msg("reply posted")
}

// isHandled consults the cache first, then the store (cache-aside). A
// cache error is only logged; the store answer wins.
func (s *ReconcileService) isHandled(ctx context.Context, reviewID string) (bool, error) {
	if s.cache != nil {
		if hit, err := s.cache.Handled(ctx, reviewID); err == nil && hit {
			return true, nil
		} else if err != nil {
			log.Debug().Str("review", reviewID).Err(err).Msg("seen cache lookup failed")
		}
	}
	handled, err := s.store.IsHandled(ctx, reviewID)
	if err != nil {
		return false, err
	}
	if handled && s.cache != nil {
		_ = s.cache.MarkHandled(ctx, reviewID)
	}
	return handled, nil
}

// record appends to the durable log; terminal outcomes also warm the
// cache. Record errors for terminal outcomes reach the report so no
// failure path is silent.
func (s *ReconcileService) record(ctx context.Context, reviewID, text string, outcome domain.Outcome, reason string, rep *domain.CycleReport) error {
	err := s.store.Record(ctx, domain.ReplyRecord{
		ReviewID:   reviewID,
		ReplyText:  text,
		Outcome:    outcome,
		FailReason: reason,
	})
	if err != nil {
		rep.Failures = append(rep.Failures, domain.CycleFailure{
			ReviewID: reviewID, Stage: "record", Reason: err.Error(),
		})
		return err
	}
	if outcome.Terminal() && s.cache != nil {
		_ = s.cache.MarkHandled(ctx, reviewID)
	}
	return nil
}

// finish closes the report, persists it for audit and hands it to the
// notifier. Neither step may fail the cycle.
func (s *ReconcileService) finish(ctx context.Context, rep *domain.CycleReport) {
	rep.FinishedAt = s.now()

	result := "clean"
	switch {
	case rep.Aborted:
		result = "aborted"
	case !rep.Clean():
		result = "dirty"
	}
	observability.ObserveCycle(result, rep.FinishedAt.Sub(rep.StartedAt))

	if err := s.store.RecordCycle(ctx, *rep); err != nil {
		log.Error().Err(err).Msg("cycle audit write failed")
	}
	if err := s.notifier.Notify(ctx, *rep); err != nil {
		log.Error().Err(err).Msg("cycle report delivery failed")
	}

	log.Info().
		Int("fetched", rep.Fetched).
		Int("replied", rep.Replied).
		Int("adopted", rep.Adopted).
		Int("failed", rep.Failed).
		Int("skipped", rep.Skipped).
		Bool("aborted", rep.Aborted).
		Msg("cycle finished")
}
