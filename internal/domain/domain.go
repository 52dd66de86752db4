package domain

import (
	"context"
	"time"
)

// --- Model types ---

// SanctionKind classifies the platform-level restriction a sanction imposes.
type SanctionKind string

const (
	KindMute     SanctionKind = "mute"
	KindTempBan  SanctionKind = "tempban"
	KindPermBan  SanctionKind = "permban"
	KindIndefBan SanctionKind = "indefban"
)

// IsBan reports whether the kind maps to the platform's ban primitive
// rather than its mute primitive.
func (k SanctionKind) IsBan() bool {
	return k == KindTempBan || k == KindPermBan || k == KindIndefBan
}

// Valid reports whether k is one of the defined sanction kinds.
func (k SanctionKind) Valid() bool {
	switch k {
	case KindMute, KindTempBan, KindPermBan, KindIndefBan:
		return true
	}
	return false
}

// SanctionStatus is the lifecycle state of a sanction.
type SanctionStatus string

const (
	// StatusActive means the restriction is in force on the platform.
	StatusActive SanctionStatus = "active"
	// StatusExpiring means the expiry time has passed but the platform-side
	// lift has not been confirmed yet.
	StatusExpiring SanctionStatus = "expiring"
	// StatusLifted means the restriction has been removed.
	StatusLifted SanctionStatus = "lifted"
)

// Infraction is one recorded rule violation against a user. Records are
// append-only; a retraction flags the row instead of deleting it so the
// audit trail stays intact.
type Infraction struct {
	ID        int64     `db:"id"`
	UserID    string    `db:"user_id"`
	RuleID    string    `db:"rule_id"`
	Tier      string    `db:"tier"`
	ActorID   string    `db:"actor_id"`
	Note      string    `db:"note"`
	Retracted bool      `db:"retracted"`
	CreatedAt time.Time `db:"created_at"`
}

// Sanction is an enforced restriction with an optional expiry. At most one
// row exists per (UserID, Kind); repeat offenses extend or replace it.
type Sanction struct {
	UserID             string         `db:"user_id"`
	Kind               SanctionKind   `db:"kind"`
	Status             SanctionStatus `db:"status"`
	StartAt            time.Time      `db:"start_at"`
	Duration           time.Duration  `db:"duration"`
	Unbounded          bool           `db:"unbounded"`
	SourceInfractionID int64          `db:"source_infraction_id"`
	LiftAttempts       int            `db:"lift_attempts"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

// ExpiresAt returns the expiry time of a bounded sanction.
// The second return is false for unbounded sanctions.
func (s *Sanction) ExpiresAt() (time.Time, bool) {
	if s.Unbounded {
		return time.Time{}, false
	}
	return s.StartAt.Add(s.Duration), true
}

// Remaining returns how much of a bounded sanction is left at now.
// Negative values mean the sanction is overdue for lifting.
func (s *Sanction) Remaining(now time.Time) time.Duration {
	expiry, ok := s.ExpiresAt()
	if !ok {
		return 0
	}
	return expiry.Sub(now)
}

// PunishmentSpec is the outcome of an escalation computation: what kind of
// sanction to apply and for how long. Unbounded specs carry no duration.
type PunishmentSpec struct {
	Kind      SanctionKind
	Duration  time.Duration
	Unbounded bool
}

// --- Component contracts ---

// InfractionStore is the durable append-only log of infractions.
// Append never rejects on business-logic grounds.
type InfractionStore interface {
	Append(ctx context.Context, inf *Infraction) (int64, error)
	CountByRule(ctx context.Context, userID, ruleID string) (int, error)
	History(ctx context.Context, userID string) ([]Infraction, error)
	Retract(ctx context.Context, id int64) error
}

// SanctionStore persists sanction rows keyed by (userID, kind). Status
// transitions are conditional writes: they return false when the row was
// not in the expected prior state, which makes lifts idempotent even with
// a concurrent sweep. MarkExpiring additionally re-checks that the row is
// past its expiry at now, so a sanction extended after a due-list snapshot
// was taken cannot be transitioned from the stale snapshot.
// MarkLiftedIfExpiring only lifts rows already claimed by MarkExpiring;
// MarkLifted lifts from any non-lifted state and is for manual lifts.
type SanctionStore interface {
	Get(ctx context.Context, userID string, kind SanctionKind) (*Sanction, error)
	Upsert(ctx context.Context, s *Sanction) error
	ListActive(ctx context.Context) ([]Sanction, error)
	ListDue(ctx context.Context, now time.Time) ([]Sanction, error)
	MarkExpiring(ctx context.Context, userID string, kind SanctionKind, now time.Time) (bool, error)
	MarkLifted(ctx context.Context, userID string, kind SanctionKind) (bool, error)
	MarkLiftedIfExpiring(ctx context.Context, userID string, kind SanctionKind) (bool, error)
	RecordLiftFailure(ctx context.Context, userID string, kind SanctionKind) (int, error)
}

// Enforcer applies and removes restrictions on the chat platform. It is
// implemented by the platform-integration layer; until == nil means the
// restriction has no expiry.
type Enforcer interface {
	Mute(ctx context.Context, userID string, until *time.Time) error
	Ban(ctx context.Context, userID string, until *time.Time) error
	Lift(ctx context.Context, userID string, kind SanctionKind) error
}

// EventPublisher broadcasts sanction lifecycle events to other instances
// and staff tooling. Publishing is best-effort; failures never abort the
// operation that triggered the event.
type EventPublisher interface {
	PublishSanctionApplied(ctx context.Context, s *Sanction) error
	PublishSanctionLifted(ctx context.Context, userID string, kind SanctionKind, reason string) error
}
