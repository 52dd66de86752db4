package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Maddoux/Canadian-Helper/internal/domain"
)

// InfractionStore implements domain.InfractionStore backed by PostgreSQL.
type InfractionStore struct {
	pool *pgxpool.Pool
}

// NewInfractionStore creates an InfractionStore from the shared pool.
func NewInfractionStore(pool *pgxpool.Pool) *InfractionStore {
	return &InfractionStore{pool: pool}
}

func (s *InfractionStore) Append(ctx context.Context, inf *domain.Infraction) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO infractions (user_id, rule_id, tier, actor_id, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		inf.UserID, inf.RuleID, inf.Tier, inf.ActorID, inf.Note, inf.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to append infraction: %w", err)
	}
	return id, nil
}

func (s *InfractionStore) CountByRule(ctx context.Context, userID, ruleID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM infractions
		WHERE user_id = $1 AND rule_id = $2 AND NOT retracted`,
		userID, ruleID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count infractions: %w", err)
	}
	return count, nil
}

func (s *InfractionStore) History(ctx context.Context, userID string) ([]domain.Infraction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, rule_id, tier, actor_id, note, retracted, created_at
		FROM infractions
		WHERE user_id = $1
		ORDER BY id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []domain.Infraction
	for rows.Next() {
		var inf domain.Infraction
		if err := rows.Scan(&inf.ID, &inf.UserID, &inf.RuleID, &inf.Tier, &inf.ActorID, &inf.Note, &inf.Retracted, &inf.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan infraction: %w", err)
		}
		out = append(out, inf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return out, nil
}

func (s *InfractionStore) Retract(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE infractions SET retracted = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to retract infraction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", domain.ErrInfractionNotFound, id)
	}
	return nil
}
