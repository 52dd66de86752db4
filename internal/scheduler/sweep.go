package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/Maddoux/Canadian-Helper/internal/domain"
	"github.com/Maddoux/Canadian-Helper/internal/metrics"
	"github.com/Maddoux/Canadian-Helper/internal/platform/correlation"
	"github.com/Maddoux/Canadian-Helper/internal/platform/retry"
)

// Run starts the periodic expiry sweep. It blocks until ctx is cancelled.
// Permanent and indefinite sanctions never appear in the sweep's due list;
// they only leave via ForceLift.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one expiry pass: every bounded sanction past its expiry is
// moved to expiring and the platform-side lift is attempted. Failures leave
// the sanction in expiring state for the next pass; an expiry is never
// silently dropped.
func (s *Scheduler) Sweep(ctx context.Context) {
	sweepCtx := correlation.WithID(ctx, correlation.NewID())
	start := s.clock.Now()

	due, err := s.store.ListDue(sweepCtx, start.UTC())
	if err != nil {
		slog.ErrorContext(sweepCtx, "Sweep: failed to list due sanctions", "error", err)
		return
	}

	for i := range due {
		s.liftDue(sweepCtx, &due[i], start.UTC())
	}

	metrics.SweepDuration.Observe(s.clock.Since(start).Seconds())
	if len(due) > 0 {
		slog.InfoContext(sweepCtx, "Sweep: processed due sanctions", "count", len(due))
	}
}

func (s *Scheduler) liftDue(ctx context.Context, sanction *domain.Sanction, now time.Time) {
	if sanction.Status == domain.StatusActive {
		// The transition re-checks the expiry against the live row: the due
		// list is a snapshot, and the sanction may have been extended by a
		// RecordInfraction since it was taken.
		ok, err := s.store.MarkExpiring(ctx, sanction.UserID, sanction.Kind, now)
		if err != nil {
			slog.ErrorContext(ctx, "Sweep: failed to mark sanction expiring",
				"user_id", sanction.UserID, "kind", sanction.Kind, "error", err)
			return
		}
		if !ok {
			// ForceLift won the race or the sanction is no longer due.
			metrics.SweepLiftsProcessed.WithLabelValues("skipped").Inc()
			return
		}
	}

	if err := s.liftOnPlatform(ctx, sanction.UserID, sanction.Kind); err != nil {
		attempts, recErr := s.store.RecordLiftFailure(ctx, sanction.UserID, sanction.Kind)
		if recErr != nil {
			slog.ErrorContext(ctx, "Sweep: failed to record lift failure",
				"user_id", sanction.UserID, "kind", sanction.Kind, "error", recErr)
			return
		}

		metrics.SweepLiftsProcessed.WithLabelValues("failed").Inc()
		if attempts >= s.opts.MaxLiftAttempts {
			metrics.ActionRequiredAlerts.Inc()
			slog.ErrorContext(ctx, "Sweep: lift retries exhausted, manual intervention required",
				"user_id", sanction.UserID,
				"kind", sanction.Kind,
				"attempts", attempts,
				"action_required", true,
				"error", err)
		} else {
			slog.WarnContext(ctx, "Sweep: lift failed, will retry next sweep",
				"user_id", sanction.UserID, "kind", sanction.Kind, "attempts", attempts, "error", err)
		}
		return
	}

	lifted, err := s.store.MarkLiftedIfExpiring(ctx, sanction.UserID, sanction.Kind)
	if err != nil {
		slog.ErrorContext(ctx, "Sweep: failed to mark sanction lifted",
			"user_id", sanction.UserID, "kind", sanction.Kind, "error", err)
		return
	}
	if !lifted {
		// ForceLift completed, or an extension reset the sanction to active,
		// while we were talking to the platform.
		metrics.SweepLiftsProcessed.WithLabelValues("skipped").Inc()
		return
	}

	metrics.SweepLiftsProcessed.WithLabelValues("lifted").Inc()
	metrics.SanctionsLifted.WithLabelValues(string(sanction.Kind), "expiry").Inc()
	metrics.ActiveSanctions.WithLabelValues(string(sanction.Kind)).Dec()
	slog.InfoContext(ctx, "Sanction expired and lifted", "user_id", sanction.UserID, "kind", sanction.Kind)

	if s.events != nil {
		if err := s.events.PublishSanctionLifted(ctx, sanction.UserID, sanction.Kind, "expiry"); err != nil {
			slog.WarnContext(ctx, "Failed to publish sanction lifted event",
				"user_id", sanction.UserID, "kind", sanction.Kind, "error", err)
		}
	}
}

// liftOnPlatform calls the enforcer's Lift with a per-call timeout and the
// configured retry policy.
func (s *Scheduler) liftOnPlatform(ctx context.Context, userID string, kind domain.SanctionKind) error {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.EnforcerTimeout)
	defer cancel()

	return retry.DoVoid(callCtx, s.opts.RetryPolicy, classifyEnforcerError, func() error {
		return s.enforcer.Lift(callCtx, userID, kind)
	})
}
