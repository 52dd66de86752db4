// Package engine orchestrates the punishment flow: record the infraction,
// compute the escalated punishment, apply it through the scheduler. It is the
// only package that references multiple domain components.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/Maddoux/Canadian-Helper/internal/catalog"
	"github.com/Maddoux/Canadian-Helper/internal/domain"
	"github.com/Maddoux/Canadian-Helper/internal/escalation"
	"github.com/Maddoux/Canadian-Helper/internal/metrics"
	"github.com/Maddoux/Canadian-Helper/internal/scheduler"
)

const maxNoteLength = 1000

// Engine is the punishment orchestrator. Operations touching the same user
// are serialized against each other; independent users run in parallel.
type Engine struct {
	catalog     *catalog.Catalog
	infractions domain.InfractionStore
	scheduler   *scheduler.Scheduler
	clock       clockwork.Clock
	locks       userLocks
}

// New creates the punishment engine.
func New(cat *catalog.Catalog, infractions domain.InfractionStore, sched *scheduler.Scheduler, clock clockwork.Clock) *Engine {
	return &Engine{
		catalog:     cat,
		infractions: infractions,
		scheduler:   sched,
		clock:       clock,
	}
}

// RecordRequest describes one moderation event.
type RecordRequest struct {
	UserID  string
	RuleID  string
	Tier    string
	ActorID string
	Note    string
}

// RecordResult is the composite outcome of recording an infraction.
type RecordResult struct {
	InfractionID int64
	PriorCount   int
	Sanction     *domain.Sanction
	Extended     bool
}

// RecordInfraction validates the moderation event, appends the infraction,
// computes the escalated punishment from the prior count (excluding the row
// just appended), and applies it. The whole operation is atomic with respect
// to any other RecordInfraction, ForceLift, or Retract for the same user.
func (e *Engine) RecordInfraction(ctx context.Context, req RecordRequest) (*RecordResult, error) {
	entry, tier, err := e.validate(req)
	if err != nil {
		return nil, err
	}

	mu := e.locks.lock(req.UserID)
	defer mu.Unlock()

	// Count before appending: the new infraction is the (priorCount+1)-th
	// offense and must not escalate itself.
	priorCount, err := e.infractions.CountByRule(ctx, req.UserID, req.RuleID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	}

	infractionID, err := e.infractions.Append(ctx, &domain.Infraction{
		UserID:    req.UserID,
		RuleID:    req.RuleID,
		Tier:      req.Tier,
		ActorID:   req.ActorID,
		Note:      req.Note,
		CreatedAt: e.clock.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	}
	metrics.InfractionsRecorded.WithLabelValues(req.RuleID).Inc()

	spec, err := escalation.Compute(entry, tier.Name, priorCount)
	if err != nil {
		// The tier was validated above; reaching this is a programming error.
		return nil, fmt.Errorf("failed to compute punishment: %w", err)
	}

	sanction, extended, err := e.scheduler.Apply(ctx, req.UserID, spec, infractionID)
	if err != nil {
		// The infraction is durable; surface the sanction failure but do not
		// roll the record back.
		return nil, fmt.Errorf("infraction %d recorded but sanction failed: %w", infractionID, err)
	}

	slog.InfoContext(ctx, "Infraction recorded",
		"user_id", req.UserID,
		"rule_id", req.RuleID,
		"tier", req.Tier,
		"actor_id", req.ActorID,
		"infraction_id", infractionID,
		"prior_count", priorCount,
		"kind", sanction.Kind,
		"duration", sanction.Duration,
		"unbounded", sanction.Unbounded,
		"extended", extended)

	return &RecordResult{
		InfractionID: infractionID,
		PriorCount:   priorCount,
		Sanction:     sanction,
		Extended:     extended,
	}, nil
}

// ForceLift removes a user's sanction ahead of its expiry, e.g. after an
// appeal. Returns the lifted sanction or domain.ErrSanctionNotFound.
func (e *Engine) ForceLift(ctx context.Context, userID string, kind domain.SanctionKind) (*domain.Sanction, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: invalid sanction kind %q", domain.ErrInvalidRequest, kind)
	}

	mu := e.locks.lock(userID)
	defer mu.Unlock()

	return e.scheduler.ForceLift(ctx, userID, kind)
}

// Retract flags an infraction as retracted so it no longer counts toward
// escalation. The record itself is kept for audit.
func (e *Engine) Retract(ctx context.Context, userID string, infractionID int64) error {
	mu := e.locks.lock(userID)
	defer mu.Unlock()

	if err := e.infractions.Retract(ctx, infractionID); err != nil {
		if errors.Is(err, domain.ErrInfractionNotFound) {
			return err
		}
		return fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	}

	metrics.InfractionsRetracted.Inc()
	slog.InfoContext(ctx, "Infraction retracted", "user_id", userID, "infraction_id", infractionID)
	return nil
}

// History returns the user's full infraction history, oldest first.
func (e *Engine) History(ctx context.Context, userID string) ([]domain.Infraction, error) {
	return e.infractions.History(ctx, userID)
}

// ActiveSanctions returns a snapshot of all non-lifted sanctions.
func (e *Engine) ActiveSanctions(ctx context.Context) ([]domain.Sanction, error) {
	return e.scheduler.ActiveSanctions(ctx)
}

func (e *Engine) validate(req RecordRequest) (*catalog.RuleEntry, catalog.Tier, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, catalog.Tier{}, fmt.Errorf("%w: user id cannot be empty", domain.ErrInvalidRequest)
	}
	if strings.TrimSpace(req.ActorID) == "" {
		return nil, catalog.Tier{}, fmt.Errorf("%w: actor id cannot be empty", domain.ErrInvalidRequest)
	}
	if len(req.Note) > maxNoteLength {
		return nil, catalog.Tier{}, fmt.Errorf("%w: note exceeds %d characters", domain.ErrInvalidRequest, maxNoteLength)
	}

	entry, err := e.catalog.Lookup(req.RuleID)
	if err != nil {
		return nil, catalog.Tier{}, err
	}

	tier, ok := entry.Tier(req.Tier)
	if !ok {
		return nil, catalog.Tier{}, fmt.Errorf("%w: rule %q has no tier %q", domain.ErrUnknownTier, req.RuleID, req.Tier)
	}

	return entry, tier, nil
}
