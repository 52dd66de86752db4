// Package scheduler tracks active time-bounded sanctions and drives their
// automatic lifting. A single periodic sweep handles expiry for all users so
// resource use stays bounded under many simultaneous sanctions.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Maddoux/Canadian-Helper/internal/domain"
	"github.com/Maddoux/Canadian-Helper/internal/metrics"
	"github.com/Maddoux/Canadian-Helper/internal/platform/retry"
)

const (
	defaultSweepInterval   = time.Minute
	defaultEnforcerTimeout = 10 * time.Second
	defaultMaxLiftAttempts = 20
)

// Options tune the sweep loop and enforcement retries.
type Options struct {
	// SweepInterval is how often the expiry sweep runs. Defaults to 1m.
	SweepInterval time.Duration
	// EnforcerTimeout bounds each enforcer call. Defaults to 10s.
	EnforcerTimeout time.Duration
	// MaxLiftAttempts is the number of failed lift attempts (across sweeps)
	// after which an action-required alert is raised. The sanction stays in
	// expiring state and keeps being retried; the alert is for operators.
	MaxLiftAttempts int
	// RetryPolicy governs in-call enforcement retries.
	RetryPolicy retry.Policy
}

func (o *Options) fill() {
	if o.SweepInterval <= 0 {
		o.SweepInterval = defaultSweepInterval
	}
	if o.EnforcerTimeout <= 0 {
		o.EnforcerTimeout = defaultEnforcerTimeout
	}
	if o.MaxLiftAttempts <= 0 {
		o.MaxLiftAttempts = defaultMaxLiftAttempts
	}
	if o.RetryPolicy.MaxAttempts <= 0 {
		o.RetryPolicy = retry.Policy{
			MaxAttempts:      3,
			InitialBackoff:   500 * time.Millisecond,
			RateLimitBackoff: 5 * time.Second,
		}
	}
}

// Scheduler applies sanctions, merges repeat offenses, and lifts expired
// sanctions through the external enforcer.
type Scheduler struct {
	store    domain.SanctionStore
	enforcer domain.Enforcer
	events   domain.EventPublisher
	clock    clockwork.Clock
	opts     Options
}

// New creates a scheduler. events may be nil when no pub/sub fanout is
// configured.
func New(store domain.SanctionStore, enforcer domain.Enforcer, events domain.EventPublisher, clock clockwork.Clock, opts Options) *Scheduler {
	opts.fill()
	return &Scheduler{
		store:    store,
		enforcer: enforcer,
		events:   events,
		clock:    clock,
		opts:     opts,
	}
}

// Apply applies the computed punishment to the user, merging with an existing
// active sanction of the same kind. The returned sanction is the effective
// one; extended reports whether an existing sanction was merged rather than a
// new one created.
//
// Merge rule: the new expiry is max(current remaining, newly computed
// duration) measured from now, so re-escalation always wins when it yields a
// longer total. Unbounded beats bounded in both directions.
func (s *Scheduler) Apply(ctx context.Context, userID string, spec domain.PunishmentSpec, sourceInfractionID int64) (*domain.Sanction, bool, error) {
	now := s.clock.Now().UTC()

	existing, err := s.store.Get(ctx, userID, spec.Kind)
	if err != nil && !errors.Is(err, domain.ErrSanctionNotFound) {
		return nil, false, fmt.Errorf("failed to load existing sanction: %w", err)
	}

	sanction := &domain.Sanction{
		UserID:             userID,
		Kind:               spec.Kind,
		Status:             domain.StatusActive,
		StartAt:            now,
		Duration:           spec.Duration,
		Unbounded:          spec.Unbounded,
		SourceInfractionID: sourceInfractionID,
	}

	extended := false
	if existing != nil && existing.Status != domain.StatusLifted {
		extended = true
		if existing.Unbounded && !spec.Unbounded {
			// An unbounded sanction is never shortened by a bounded one.
			sanction.Unbounded = true
			sanction.Duration = 0
			sanction.SourceInfractionID = existing.SourceInfractionID
		} else if !existing.Unbounded && !spec.Unbounded {
			if remaining := existing.Remaining(now); remaining > sanction.Duration {
				sanction.Duration = remaining
			}
		}
	}

	if err := s.store.Upsert(ctx, sanction); err != nil {
		return nil, false, fmt.Errorf("failed to persist sanction: %w", err)
	}

	outcome := "new"
	if extended {
		outcome = "extended"
	}
	metrics.SanctionsApplied.WithLabelValues(string(sanction.Kind), outcome).Inc()
	if !extended {
		metrics.ActiveSanctions.WithLabelValues(string(sanction.Kind)).Inc()
	}

	// Platform enforcement is asynchronous: the durable record above is the
	// source of truth, and a failing platform call must not undo it.
	go s.enforceApply(sanction)

	if s.events != nil {
		if err := s.events.PublishSanctionApplied(ctx, sanction); err != nil {
			slog.Warn("Failed to publish sanction applied event", "user_id", userID, "kind", sanction.Kind, "error", err)
		}
	}

	return sanction, extended, nil
}

// enforceApply pushes the restriction to the platform with retries.
func (s *Scheduler) enforceApply(sanction *domain.Sanction) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.EnforcerTimeout)
	defer cancel()

	var until *time.Time
	if expiry, ok := sanction.ExpiresAt(); ok {
		until = &expiry
	}

	err := retry.DoVoid(ctx, s.opts.RetryPolicy, classifyEnforcerError, func() error {
		if sanction.Kind.IsBan() {
			return s.enforcer.Ban(ctx, sanction.UserID, until)
		}
		return s.enforcer.Mute(ctx, sanction.UserID, until)
	})
	if err != nil {
		metrics.ActionRequiredAlerts.Inc()
		slog.Error("Failed to enforce sanction, manual intervention required",
			"user_id", sanction.UserID,
			"kind", sanction.Kind,
			"action_required", true,
			"error", err)
	}
}

// ForceLift lifts a sanction ahead of (or instead of) its automatic expiry,
// e.g. after a successful appeal. It returns the previous sanction, or
// domain.ErrSanctionNotFound when no liftable sanction exists. Safe to call
// concurrently with a pending automatic expiry: the status transition is a
// conditional write, so whichever side completes first wins and the other
// becomes a no-op.
func (s *Scheduler) ForceLift(ctx context.Context, userID string, kind domain.SanctionKind) (*domain.Sanction, error) {
	prev, err := s.store.Get(ctx, userID, kind)
	if err != nil {
		return nil, err
	}
	if prev.Status == domain.StatusLifted {
		return nil, fmt.Errorf("%w: user %s kind %s already lifted", domain.ErrSanctionNotFound, userID, kind)
	}

	claimed, err := s.store.MarkLifted(ctx, userID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to mark sanction lifted: %w", err)
	}
	if !claimed {
		// Lost the race against the sweep or a concurrent ForceLift.
		return nil, fmt.Errorf("%w: user %s kind %s already lifted", domain.ErrSanctionNotFound, userID, kind)
	}

	metrics.SanctionsLifted.WithLabelValues(string(kind), "manual").Inc()
	metrics.ActiveSanctions.WithLabelValues(string(kind)).Dec()

	if err := s.liftOnPlatform(ctx, userID, kind); err != nil {
		// The lift intent is durable; the platform call is retried here and
		// alerting covers the rest. The moderator still sees success.
		metrics.ActionRequiredAlerts.Inc()
		slog.Error("Failed to lift sanction on platform, manual intervention required",
			"user_id", userID, "kind", kind, "action_required", true, "error", err)
	}

	if s.events != nil {
		if err := s.events.PublishSanctionLifted(ctx, userID, kind, "manual"); err != nil {
			slog.Warn("Failed to publish sanction lifted event", "user_id", userID, "kind", kind, "error", err)
		}
	}

	return prev, nil
}

// ActiveSanctions returns a snapshot of all non-lifted sanctions for staff
// review and post-restart reconciliation.
func (s *Scheduler) ActiveSanctions(ctx context.Context) ([]domain.Sanction, error) {
	return s.store.ListActive(ctx)
}

// Recover reconciles sanction state after a restart. Bounded sanctions whose
// remaining duration is already ≤ 0 move to expiring and are lifted by an
// immediate sweep pass, so the lift side effect still executes exactly once.
// Remaining durations resume where they left off; they never restart.
func (s *Scheduler) Recover(ctx context.Context) error {
	active, err := s.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active sanctions: %w", err)
	}

	counts := make(map[domain.SanctionKind]int)
	overdue := 0
	now := s.clock.Now().UTC()
	for i := range active {
		sanction := &active[i]
		counts[sanction.Kind]++
		if sanction.Unbounded || sanction.Status != domain.StatusActive {
			continue
		}
		if sanction.Remaining(now) <= 0 {
			if _, err := s.store.MarkExpiring(ctx, sanction.UserID, sanction.Kind, now); err != nil {
				return fmt.Errorf("failed to mark overdue sanction expiring: %w", err)
			}
			overdue++
		}
	}

	for kind, n := range counts {
		metrics.ActiveSanctions.WithLabelValues(string(kind)).Set(float64(n))
	}

	slog.Info("Sanction state recovered", "active", len(active), "overdue", overdue)

	if overdue > 0 {
		s.Sweep(ctx)
	}
	return nil
}

func classifyEnforcerError(err error) retry.Action {
	if errors.Is(err, context.Canceled) {
		return retry.Stop
	}
	return retry.Retry
}
