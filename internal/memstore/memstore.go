// Package memstore provides in-memory implementations of the infraction and
// sanction stores for single-instance development mode and tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Maddoux/Canadian-Helper/internal/domain"
)

type sanctionKey struct {
	UserID string
	Kind   domain.SanctionKind
}

// InfractionStore is an in-memory domain.InfractionStore.
type InfractionStore struct {
	clock clockwork.Clock

	mu     sync.RWMutex
	nextID int64
	byID   map[int64]*domain.Infraction
	byUser map[string][]int64
}

// NewInfractionStore creates an empty in-memory infraction store.
func NewInfractionStore(clock clockwork.Clock) *InfractionStore {
	return &InfractionStore{
		clock:  clock,
		nextID: 1,
		byID:   make(map[int64]*domain.Infraction),
		byUser: make(map[string][]int64),
	}
}

func (s *InfractionStore) Append(_ context.Context, inf *domain.Infraction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *inf
	stored.ID = s.nextID
	s.nextID++
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.clock.Now().UTC()
	}

	s.byID[stored.ID] = &stored
	s.byUser[stored.UserID] = append(s.byUser[stored.UserID], stored.ID)
	return stored.ID, nil
}

func (s *InfractionStore) CountByRule(_ context.Context, userID, ruleID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, id := range s.byUser[userID] {
		inf := s.byID[id]
		if inf.RuleID == ruleID && !inf.Retracted {
			count++
		}
	}
	return count, nil
}

func (s *InfractionStore) History(_ context.Context, userID string) ([]domain.Infraction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byUser[userID]
	out := make([]domain.Infraction, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.byID[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InfractionStore) Retract(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inf, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: id %d", domain.ErrInfractionNotFound, id)
	}
	inf.Retracted = true
	return nil
}

// SanctionStore is an in-memory domain.SanctionStore.
type SanctionStore struct {
	clock clockwork.Clock

	mu        sync.RWMutex
	sanctions map[sanctionKey]*domain.Sanction
}

// NewSanctionStore creates an empty in-memory sanction store.
func NewSanctionStore(clock clockwork.Clock) *SanctionStore {
	return &SanctionStore{
		clock:     clock,
		sanctions: make(map[sanctionKey]*domain.Sanction),
	}
}

func (s *SanctionStore) Get(_ context.Context, userID string, kind domain.SanctionKind) (*domain.Sanction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sanction, ok := s.sanctions[sanctionKey{userID, kind}]
	if !ok {
		return nil, fmt.Errorf("%w: user %s kind %s", domain.ErrSanctionNotFound, userID, kind)
	}
	copied := *sanction
	return &copied, nil
}

func (s *SanctionStore) Upsert(_ context.Context, sanction *domain.Sanction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *sanction
	copied.UpdatedAt = s.clock.Now().UTC()
	s.sanctions[sanctionKey{sanction.UserID, sanction.Kind}] = &copied
	return nil
}

func (s *SanctionStore) ListActive(_ context.Context) ([]domain.Sanction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Sanction
	for _, sanction := range s.sanctions {
		if sanction.Status != domain.StatusLifted {
			out = append(out, *sanction)
		}
	}
	sortSanctions(out)
	return out, nil
}

func (s *SanctionStore) ListDue(_ context.Context, now time.Time) ([]domain.Sanction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Sanction
	for _, sanction := range s.sanctions {
		if sanction.Status == domain.StatusLifted || sanction.Unbounded {
			continue
		}
		if expiry, ok := sanction.ExpiresAt(); ok && !expiry.After(now) {
			out = append(out, *sanction)
		}
	}
	sortSanctions(out)
	return out, nil
}

func (s *SanctionStore) MarkExpiring(_ context.Context, userID string, kind domain.SanctionKind, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sanction, ok := s.sanctions[sanctionKey{userID, kind}]
	if !ok || sanction.Status != domain.StatusActive {
		return false, nil
	}
	// Re-check the expiry against the live row, not the caller's snapshot.
	expiry, bounded := sanction.ExpiresAt()
	if !bounded || expiry.After(now) {
		return false, nil
	}
	sanction.Status = domain.StatusExpiring
	sanction.UpdatedAt = s.clock.Now().UTC()
	return true, nil
}

func (s *SanctionStore) MarkLifted(_ context.Context, userID string, kind domain.SanctionKind) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sanction, ok := s.sanctions[sanctionKey{userID, kind}]
	if !ok || sanction.Status == domain.StatusLifted {
		return false, nil
	}
	sanction.Status = domain.StatusLifted
	sanction.UpdatedAt = s.clock.Now().UTC()
	return true, nil
}

func (s *SanctionStore) MarkLiftedIfExpiring(_ context.Context, userID string, kind domain.SanctionKind) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sanction, ok := s.sanctions[sanctionKey{userID, kind}]
	if !ok || sanction.Status != domain.StatusExpiring {
		return false, nil
	}
	sanction.Status = domain.StatusLifted
	sanction.UpdatedAt = s.clock.Now().UTC()
	return true, nil
}

func (s *SanctionStore) RecordLiftFailure(_ context.Context, userID string, kind domain.SanctionKind) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sanction, ok := s.sanctions[sanctionKey{userID, kind}]
	if !ok {
		return 0, fmt.Errorf("%w: user %s kind %s", domain.ErrSanctionNotFound, userID, kind)
	}
	sanction.LiftAttempts++
	sanction.UpdatedAt = s.clock.Now().UTC()
	return sanction.LiftAttempts, nil
}

func sortSanctions(out []domain.Sanction) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Kind < out[j].Kind
	})
}
