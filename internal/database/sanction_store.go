package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Maddoux/Canadian-Helper/internal/domain"
)

// sanctionColumns must match the Scan order in scanSanction.
const sanctionColumns = `user_id, kind, status, start_at, duration_seconds, source_infraction_id, lift_attempts, updated_at`

// SanctionStore implements domain.SanctionStore backed by PostgreSQL. All
// status transitions are conditional single-statement updates, so concurrent
// lifts (sweep vs. manual) resolve without explicit row locking.
type SanctionStore struct {
	pool *pgxpool.Pool
}

// NewSanctionStore creates a SanctionStore from the shared pool.
func NewSanctionStore(pool *pgxpool.Pool) *SanctionStore {
	return &SanctionStore{pool: pool}
}

func scanSanction(row pgx.Row) (*domain.Sanction, error) {
	var s domain.Sanction
	var durationSeconds *int64
	err := row.Scan(&s.UserID, &s.Kind, &s.Status, &s.StartAt, &durationSeconds, &s.SourceInfractionID, &s.LiftAttempts, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if durationSeconds == nil {
		s.Unbounded = true
	} else {
		s.Duration = time.Duration(*durationSeconds) * time.Second
	}
	return &s, nil
}

func (s *SanctionStore) Get(ctx context.Context, userID string, kind domain.SanctionKind) (*domain.Sanction, error) {
	sanction, err := scanSanction(s.pool.QueryRow(ctx, `
		SELECT `+sanctionColumns+` FROM sanctions
		WHERE user_id = $1 AND kind = $2`,
		userID, kind,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s kind %s", domain.ErrSanctionNotFound, userID, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sanction: %w", err)
	}
	return sanction, nil
}

func (s *SanctionStore) Upsert(ctx context.Context, sanction *domain.Sanction) error {
	var durationSeconds *int64
	if !sanction.Unbounded {
		secs := int64(sanction.Duration / time.Second)
		durationSeconds = &secs
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO sanctions (user_id, kind, status, start_at, duration_seconds, source_infraction_id, lift_attempts, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, NOW())
		ON CONFLICT (user_id, kind) DO UPDATE SET
			status = EXCLUDED.status,
			start_at = EXCLUDED.start_at,
			duration_seconds = EXCLUDED.duration_seconds,
			source_infraction_id = EXCLUDED.source_infraction_id,
			lift_attempts = 0,
			updated_at = NOW()`,
		sanction.UserID, sanction.Kind, sanction.Status, sanction.StartAt, durationSeconds, sanction.SourceInfractionID,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert sanction: %w", err)
	}
	return nil
}

func (s *SanctionStore) ListActive(ctx context.Context) ([]domain.Sanction, error) {
	return s.list(ctx, `
		SELECT `+sanctionColumns+` FROM sanctions
		WHERE status <> 'lifted'
		ORDER BY user_id, kind`)
}

func (s *SanctionStore) ListDue(ctx context.Context, now time.Time) ([]domain.Sanction, error) {
	return s.list(ctx, `
		SELECT `+sanctionColumns+` FROM sanctions
		WHERE status <> 'lifted'
		  AND duration_seconds IS NOT NULL
		  AND start_at + make_interval(secs => duration_seconds) <= $1
		ORDER BY user_id, kind`, now)
}

func (s *SanctionStore) list(ctx context.Context, query string, args ...any) ([]domain.Sanction, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sanctions: %w", err)
	}
	defer rows.Close()

	var out []domain.Sanction
	for rows.Next() {
		sanction, err := scanSanction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sanction: %w", err)
		}
		out = append(out, *sanction)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sanctions: %w", err)
	}
	return out, nil
}

// MarkExpiring re-checks the expiry inside the update. The sweep works from
// a ListDue snapshot that may be stale by the time each row is processed; a
// sanction extended in between no longer satisfies the expiry predicate and
// the transition fails instead of lifting the fresh sanction.
func (s *SanctionStore) MarkExpiring(ctx context.Context, userID string, kind domain.SanctionKind, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sanctions SET status = 'expiring', updated_at = NOW()
		WHERE user_id = $1 AND kind = $2 AND status = 'active'
		  AND duration_seconds IS NOT NULL
		  AND start_at + make_interval(secs => duration_seconds) <= $3`,
		userID, kind, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark sanction expiring: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *SanctionStore) MarkLifted(ctx context.Context, userID string, kind domain.SanctionKind) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sanctions SET status = 'lifted', updated_at = NOW()
		WHERE user_id = $1 AND kind = $2 AND status <> 'lifted'`,
		userID, kind,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark sanction lifted: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkLiftedIfExpiring only lifts a row the sweep already claimed via
// MarkExpiring. An Upsert in between resets the status to active and the
// lift becomes a no-op.
func (s *SanctionStore) MarkLiftedIfExpiring(ctx context.Context, userID string, kind domain.SanctionKind) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sanctions SET status = 'lifted', updated_at = NOW()
		WHERE user_id = $1 AND kind = $2 AND status = 'expiring'`,
		userID, kind,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark sanction lifted: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *SanctionStore) RecordLiftFailure(ctx context.Context, userID string, kind domain.SanctionKind) (int, error) {
	var attempts int
	err := s.pool.QueryRow(ctx, `
		UPDATE sanctions SET lift_attempts = lift_attempts + 1, updated_at = NOW()
		WHERE user_id = $1 AND kind = $2
		RETURNING lift_attempts`,
		userID, kind,
	).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: user %s kind %s", domain.ErrSanctionNotFound, userID, kind)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to record lift failure: %w", err)
	}
	return attempts, nil
}
