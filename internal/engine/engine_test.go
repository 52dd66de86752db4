package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Maddoux/Canadian-Helper/internal/catalog"
	"github.com/Maddoux/Canadian-Helper/internal/domain"
	"github.com/Maddoux/Canadian-Helper/internal/memstore"
	"github.com/Maddoux/Canadian-Helper/internal/platform/retry"
	"github.com/Maddoux/Canadian-Helper/internal/scheduler"
)

const testCatalog = `
rules:
  - id: spam
    title: Repeated unsolicited messages
    tiers:
      - name: first
        kind: mute
        base: 30m
        increment: 1h
      - name: severe
        kind: tempban
        base: 48h
        increment: permanent
        escalation: replace
  - id: evasion
    title: Ban evasion
    tiers:
      - name: first
        kind: indefban
        base: indefinite
`

type nopEnforcer struct{}

func (nopEnforcer) Mute(context.Context, string, *time.Time) error { return nil }

func (nopEnforcer) Ban(context.Context, string, *time.Time) error { return nil }

func (nopEnforcer) Lift(context.Context, string, domain.SanctionKind) error { return nil }

func newTestEngine(t *testing.T) (*Engine, *memstore.InfractionStore, *memstore.SanctionStore, *clockwork.FakeClock) {
	t.Helper()

	cat, err := catalog.Load([]byte(testCatalog))
	require.NoError(t, err)

	clock := clockwork.NewFakeClock()
	infractions := memstore.NewInfractionStore(clock)
	sanctions := memstore.NewSanctionStore(clock)
	sched := scheduler.New(sanctions, nopEnforcer{}, nil, clock, scheduler.Options{
		RetryPolicy: retry.Policy{MaxAttempts: 1, InitialBackoff: time.Millisecond},
	})
	return New(cat, infractions, sched, clock), infractions, sanctions, clock
}

func TestRecordInfraction_FirstOffense(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)

	result, err := eng.RecordInfraction(context.Background(), RecordRequest{
		UserID:  "user-1",
		RuleID:  "spam",
		Tier:    "first",
		ActorID: "mod-1",
		Note:    "caught by automod",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.PriorCount)
	assert.False(t, result.Extended)
	assert.Equal(t, domain.KindMute, result.Sanction.Kind)
	assert.Equal(t, 30*time.Minute, result.Sanction.Duration)
}

func TestRecordInfraction_EscalatesOnRepeat(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	req := RecordRequest{UserID: "user-1", RuleID: "spam", Tier: "first", ActorID: "mod-1"}

	first, err := eng.RecordInfraction(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, first.Sanction.Duration)

	// Second offense: base 30m + 1 prior x 1h increment
	second, err := eng.RecordInfraction(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, second.PriorCount)
	assert.True(t, second.Extended)
	assert.Equal(t, 90*time.Minute, second.Sanction.Duration)
}

func TestRecordInfraction_ReplaceModeGoesUnbounded(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	req := RecordRequest{UserID: "user-1", RuleID: "spam", Tier: "severe", ActorID: "mod-1"}

	first, err := eng.RecordInfraction(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour, first.Sanction.Duration)
	assert.False(t, first.Sanction.Unbounded)

	second, err := eng.RecordInfraction(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Sanction.Unbounded)
}

func TestRecordInfraction_RetractedExcludedFromEscalation(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	req := RecordRequest{UserID: "user-1", RuleID: "spam", Tier: "first", ActorID: "mod-1"}

	first, err := eng.RecordInfraction(ctx, req)
	require.NoError(t, err)

	require.NoError(t, eng.Retract(ctx, "user-1", first.InfractionID))

	// With the first offense retracted this counts as a first offense again
	second, err := eng.RecordInfraction(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 0, second.PriorCount)
	assert.Equal(t, 30*time.Minute, second.Sanction.Duration)
}

func TestRecordInfraction_ValidationErrors(t *testing.T) {
	eng, infractions, _, _ := newTestEngine(t)
	ctx := context.Background()

	longNote := make([]byte, 1001)
	for i := range longNote {
		longNote[i] = 'x'
	}

	tests := []struct {
		name string
		req  RecordRequest
	}{
		{"empty user", RecordRequest{RuleID: "spam", Tier: "first", ActorID: "mod-1"}},
		{"empty actor", RecordRequest{UserID: "user-1", RuleID: "spam", Tier: "first"}},
		{"unknown rule", RecordRequest{UserID: "user-1", RuleID: "nope", Tier: "first", ActorID: "mod-1"}},
		{"unknown tier", RecordRequest{UserID: "user-1", RuleID: "spam", Tier: "nope", ActorID: "mod-1"}},
		{"note too long", RecordRequest{UserID: "user-1", RuleID: "spam", Tier: "first", ActorID: "mod-1", Note: string(longNote)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eng.RecordInfraction(ctx, tt.req)
			assert.Error(t, err)
		})
	}

	// Rejected requests leave no trace
	history, err := infractions.History(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestRecordInfraction_UnknownRuleSentinel(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)

	_, err := eng.RecordInfraction(context.Background(), RecordRequest{
		UserID: "user-1", RuleID: "nope", Tier: "first", ActorID: "mod-1",
	})
	assert.ErrorIs(t, err, domain.ErrUnknownRule)

	_, err = eng.RecordInfraction(context.Background(), RecordRequest{
		UserID: "user-1", RuleID: "spam", Tier: "nope", ActorID: "mod-1",
	})
	assert.ErrorIs(t, err, domain.ErrUnknownTier)
}

func TestRecordInfraction_ConcurrentSameUser(t *testing.T) {
	eng, infractions, sanctions, _ := newTestEngine(t)
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := eng.RecordInfraction(ctx, RecordRequest{
				UserID: "user-1", RuleID: "spam", Tier: "first", ActorID: "mod-1",
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// All records land and the final sanction reflects the full escalation:
	// the last one processed saw n-1 priors, so 30m + (n-1) x 1h.
	history, err := infractions.History(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, history, n)

	sanction, err := sanctions.Get(ctx, "user-1", domain.KindMute)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute+(n-1)*time.Hour, sanction.Duration)
}

func TestForceLift_InvalidKind(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)

	_, err := eng.ForceLift(context.Background(), "user-1", domain.SanctionKind("nonsense"))
	assert.Error(t, err)
}

func TestForceLift_RoundTrip(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.RecordInfraction(ctx, RecordRequest{
		UserID: "user-1", RuleID: "evasion", Tier: "first", ActorID: "mod-1",
	})
	require.NoError(t, err)

	active, err := eng.ActiveSanctions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.True(t, active[0].Unbounded)

	prev, err := eng.ForceLift(ctx, "user-1", domain.KindIndefBan)
	require.NoError(t, err)
	assert.True(t, prev.Unbounded)

	active, err = eng.ActiveSanctions(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestRetract_UnknownInfraction(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)

	err := eng.Retract(context.Background(), "user-1", 999)
	assert.ErrorIs(t, err, domain.ErrInfractionNotFound)
}

func TestHistory_ReturnsAllIncludingRetracted(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	first, err := eng.RecordInfraction(ctx, RecordRequest{
		UserID: "user-1", RuleID: "spam", Tier: "first", ActorID: "mod-1",
	})
	require.NoError(t, err)
	_, err = eng.RecordInfraction(ctx, RecordRequest{
		UserID: "user-1", RuleID: "spam", Tier: "first", ActorID: "mod-2",
	})
	require.NoError(t, err)

	require.NoError(t, eng.Retract(ctx, "user-1", first.InfractionID))

	history, err := eng.History(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].Retracted)
	assert.False(t, history[1].Retracted)
}
