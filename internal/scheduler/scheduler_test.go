package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Maddoux/Canadian-Helper/internal/domain"
	"github.com/Maddoux/Canadian-Helper/internal/memstore"
	"github.com/Maddoux/Canadian-Helper/internal/platform/retry"
)

type enforcerCall struct {
	userID string
	kind   domain.SanctionKind
	until  *time.Time
}

type fakeEnforcer struct {
	mu        sync.Mutex
	muteCalls []enforcerCall
	banCalls  []enforcerCall
	liftCalls []enforcerCall
	liftErr   error
	muteErr   error
}

func (f *fakeEnforcer) Mute(_ context.Context, userID string, until *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muteCalls = append(f.muteCalls, enforcerCall{userID: userID, until: until})
	return f.muteErr
}

func (f *fakeEnforcer) Ban(_ context.Context, userID string, until *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.banCalls = append(f.banCalls, enforcerCall{userID: userID, until: until})
	return nil
}

func (f *fakeEnforcer) Lift(_ context.Context, userID string, kind domain.SanctionKind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.liftCalls = append(f.liftCalls, enforcerCall{userID: userID, kind: kind})
	return f.liftErr
}

func (f *fakeEnforcer) setLiftErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.liftErr = err
}

func (f *fakeEnforcer) muteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.muteCalls)
}

func (f *fakeEnforcer) banCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.banCalls)
}

func (f *fakeEnforcer) liftCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.liftCalls)
}

func (f *fakeEnforcer) lastMute() enforcerCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.muteCalls[len(f.muteCalls)-1]
}

type publishedEvent struct {
	userID string
	kind   domain.SanctionKind
	reason string
}

type fakePublisher struct {
	mu      sync.Mutex
	applied []domain.Sanction
	lifted  []publishedEvent
}

func (f *fakePublisher) PublishSanctionApplied(_ context.Context, s *domain.Sanction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, *s)
	return nil
}

func (f *fakePublisher) PublishSanctionLifted(_ context.Context, userID string, kind domain.SanctionKind, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lifted = append(f.lifted, publishedEvent{userID: userID, kind: kind, reason: reason})
	return nil
}

func (f *fakePublisher) liftedEvents() []publishedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishedEvent(nil), f.lifted...)
}

func testOptions() Options {
	return Options{
		SweepInterval:   time.Minute,
		EnforcerTimeout: time.Second,
		MaxLiftAttempts: 3,
		RetryPolicy: retry.Policy{
			MaxAttempts:    1,
			InitialBackoff: time.Millisecond,
		},
	}
}

func newTestScheduler(t *testing.T) (*Scheduler, *memstore.SanctionStore, *fakeEnforcer, *fakePublisher, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	store := memstore.NewSanctionStore(clock)
	enforcer := &fakeEnforcer{}
	publisher := &fakePublisher{}
	return New(store, enforcer, publisher, clock, testOptions()), store, enforcer, publisher, clock
}

func TestApply_NewSanction(t *testing.T) {
	sched, store, enforcer, publisher, clock := newTestScheduler(t)
	ctx := context.Background()

	sanction, extended, err := sched.Apply(ctx, "user-1", domain.PunishmentSpec{
		Kind:     domain.KindMute,
		Duration: 30 * time.Minute,
	}, 42)
	require.NoError(t, err)
	assert.False(t, extended)
	assert.Equal(t, domain.StatusActive, sanction.Status)
	assert.Equal(t, 30*time.Minute, sanction.Duration)
	assert.Equal(t, int64(42), sanction.SourceInfractionID)

	stored, err := store.Get(ctx, "user-1", domain.KindMute)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, stored.Duration)

	require.Eventually(t, func() bool { return enforcer.muteCount() == 1 }, time.Second, 5*time.Millisecond)
	call := enforcer.lastMute()
	assert.Equal(t, "user-1", call.userID)
	require.NotNil(t, call.until)
	assert.Equal(t, clock.Now().UTC().Add(30*time.Minute), *call.until)

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	require.Len(t, publisher.applied, 1)
	assert.Equal(t, "user-1", publisher.applied[0].UserID)
}

func TestApply_BanKindUsesBanPrimitive(t *testing.T) {
	sched, _, enforcer, _, _ := newTestScheduler(t)

	_, _, err := sched.Apply(context.Background(), "user-1", domain.PunishmentSpec{
		Kind:     domain.KindTempBan,
		Duration: 48 * time.Hour,
	}, 1)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return enforcer.banCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, enforcer.muteCount())
}

func TestApply_UnboundedSanctionHasNoUntil(t *testing.T) {
	sched, _, enforcer, _, _ := newTestScheduler(t)

	sanction, _, err := sched.Apply(context.Background(), "user-1", domain.PunishmentSpec{
		Kind:      domain.KindIndefBan,
		Unbounded: true,
	}, 1)
	require.NoError(t, err)
	assert.True(t, sanction.Unbounded)

	require.Eventually(t, func() bool { return enforcer.banCount() == 1 }, time.Second, 5*time.Millisecond)
	enforcer.mu.Lock()
	defer enforcer.mu.Unlock()
	assert.Nil(t, enforcer.banCalls[0].until)
}

func TestApply_MergeKeepsLongerRemaining(t *testing.T) {
	sched, _, _, _, clock := newTestScheduler(t)
	ctx := context.Background()

	_, _, err := sched.Apply(ctx, "user-1", domain.PunishmentSpec{
		Kind:     domain.KindMute,
		Duration: 2 * time.Hour,
	}, 1)
	require.NoError(t, err)

	// 30m in, 90m remain. A shorter new punishment must not cut it down.
	clock.Advance(30 * time.Minute)
	sanction, extended, err := sched.Apply(ctx, "user-1", domain.PunishmentSpec{
		Kind:     domain.KindMute,
		Duration: 30 * time.Minute,
	}, 2)
	require.NoError(t, err)
	assert.True(t, extended)
	assert.Equal(t, 90*time.Minute, sanction.Duration)
	assert.Equal(t, clock.Now().UTC(), sanction.StartAt)

	// A longer new punishment replaces the remaining time.
	sanction, extended, err = sched.Apply(ctx, "user-1", domain.PunishmentSpec{
		Kind:     domain.KindMute,
		Duration: 3 * time.Hour,
	}, 3)
	require.NoError(t, err)
	assert.True(t, extended)
	assert.Equal(t, 3*time.Hour, sanction.Duration)
}

func TestApply_UnboundedNeverShortened(t *testing.T) {
	sched, _, _, _, _ := newTestScheduler(t)
	ctx := context.Background()

	_, _, err := sched.Apply(ctx, "user-1", domain.PunishmentSpec{
		Kind:      domain.KindTempBan,
		Unbounded: true,
	}, 1)
	require.NoError(t, err)

	sanction, extended, err := sched.Apply(ctx, "user-1", domain.PunishmentSpec{
		Kind:     domain.KindTempBan,
		Duration: time.Hour,
	}, 2)
	require.NoError(t, err)
	assert.True(t, extended)
	assert.True(t, sanction.Unbounded)
	assert.Equal(t, int64(1), sanction.SourceInfractionID)
}

func TestApply_UnboundedOverridesBounded(t *testing.T) {
	sched, _, _, _, _ := newTestScheduler(t)
	ctx := context.Background()

	_, _, err := sched.Apply(ctx, "user-1", domain.PunishmentSpec{
		Kind:     domain.KindTempBan,
		Duration: time.Hour,
	}, 1)
	require.NoError(t, err)

	sanction, extended, err := sched.Apply(ctx, "user-1", domain.PunishmentSpec{
		Kind:      domain.KindTempBan,
		Unbounded: true,
	}, 2)
	require.NoError(t, err)
	assert.True(t, extended)
	assert.True(t, sanction.Unbounded)
	assert.Equal(t, int64(2), sanction.SourceInfractionID)
}

func TestApply_DifferentKindsCoexist(t *testing.T) {
	sched, store, _, _, _ := newTestScheduler(t)
	ctx := context.Background()

	_, extended, err := sched.Apply(ctx, "user-1", domain.PunishmentSpec{Kind: domain.KindMute, Duration: time.Hour}, 1)
	require.NoError(t, err)
	assert.False(t, extended)

	_, extended, err = sched.Apply(ctx, "user-1", domain.PunishmentSpec{Kind: domain.KindTempBan, Duration: time.Hour}, 2)
	require.NoError(t, err)
	assert.False(t, extended)

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestSweep_LiftsDueSanctions(t *testing.T) {
	sched, store, enforcer, publisher, clock := newTestScheduler(t)
	ctx := context.Background()

	_, _, err := sched.Apply(ctx, "user-1", domain.PunishmentSpec{
		Kind:     domain.KindMute,
		Duration: 10 * time.Minute,
	}, 1)
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	sched.Sweep(ctx)
	assert.Zero(t, enforcer.liftCount())

	clock.Advance(5 * time.Minute)
	sched.Sweep(ctx)
	assert.Equal(t, 1, enforcer.liftCount())

	lifted, err := store.Get(ctx, "user-1", domain.KindMute)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusLifted, lifted.Status)

	events := publisher.liftedEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "expiry", events[0].reason)

	// Lifted sanctions are not processed again
	sched.Sweep(ctx)
	assert.Equal(t, 1, enforcer.liftCount())
}

func TestSweep_FailureLeavesSanctionExpiring(t *testing.T) {
	sched, store, enforcer, _, clock := newTestScheduler(t)
	ctx := context.Background()

	_, _, err := sched.Apply(ctx, "user-1", domain.PunishmentSpec{
		Kind:     domain.KindMute,
		Duration: time.Minute,
	}, 1)
	require.NoError(t, err)

	enforcer.setLiftErr(errors.New("platform down"))
	clock.Advance(time.Minute)
	sched.Sweep(ctx)

	stuck, err := store.Get(ctx, "user-1", domain.KindMute)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpiring, stuck.Status)
	assert.Equal(t, 1, stuck.LiftAttempts)

	// Next sweep retries and succeeds
	enforcer.setLiftErr(nil)
	sched.Sweep(ctx)

	lifted, err := store.Get(ctx, "user-1", domain.KindMute)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusLifted, lifted.Status)
}

func TestSweep_SkipsFreshlyExtendedSanction(t *testing.T) {
	sched, store, enforcer, _, clock := newTestScheduler(t)
	ctx := context.Background()

	_, _, err := sched.Apply(ctx, "user-1", domain.PunishmentSpec{
		Kind:     domain.KindMute,
		Duration: 10 * time.Minute,
	}, 1)
	require.NoError(t, err)

	clock.Advance(11 * time.Minute)

	// Snapshot the due list, then extend the sanction before the sweep gets
	// to the entry. The stale entry must not lift the fresh sanction.
	due, err := store.ListDue(ctx, clock.Now().UTC())
	require.NoError(t, err)
	require.Len(t, due, 1)

	_, extended, err := sched.Apply(ctx, "user-1", domain.PunishmentSpec{
		Kind:     domain.KindMute,
		Duration: 30 * time.Minute,
	}, 2)
	require.NoError(t, err)
	require.True(t, extended)

	sched.liftDue(ctx, &due[0], clock.Now().UTC())

	got, err := store.Get(ctx, "user-1", domain.KindMute)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, got.Status)
	assert.Equal(t, 30*time.Minute, got.Duration)
	assert.Zero(t, enforcer.liftCount())

	// Once the extension runs out the sweep lifts as usual.
	clock.Advance(30 * time.Minute)
	sched.Sweep(ctx)
	assert.Equal(t, 1, enforcer.liftCount())
}

func TestSweep_SkipsSanctionExtendedDuringLift(t *testing.T) {
	sched, store, enforcer, _, clock := newTestScheduler(t)
	ctx := context.Background()

	now := clock.Now().UTC()
	require.NoError(t, store.Upsert(ctx, &domain.Sanction{
		UserID: "user-1", Kind: domain.KindMute, Status: domain.StatusExpiring,
		StartAt: now.Add(-time.Hour), Duration: 10 * time.Minute, SourceInfractionID: 1,
	}))

	due, err := store.ListDue(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)

	// An extension lands after the sweep claimed the row: the upsert resets
	// the status to active and the pending lift must become a no-op.
	_, _, err = sched.Apply(ctx, "user-1", domain.PunishmentSpec{
		Kind:     domain.KindMute,
		Duration: time.Hour,
	}, 2)
	require.NoError(t, err)

	sched.liftDue(ctx, &due[0], now)

	// The platform lift was already in flight; the record keeps the fresh
	// sanction and Apply's own enforcement re-imposes the restriction.
	assert.Equal(t, 1, enforcer.liftCount())

	got, err := store.Get(ctx, "user-1", domain.KindMute)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, got.Status)
	assert.Equal(t, time.Hour, got.Duration)
}

func TestForceLift_LiftsActiveSanction(t *testing.T) {
	sched, store, enforcer, publisher, _ := newTestScheduler(t)
	ctx := context.Background()

	_, _, err := sched.Apply(ctx, "user-1", domain.PunishmentSpec{
		Kind:     domain.KindMute,
		Duration: time.Hour,
	}, 1)
	require.NoError(t, err)

	prev, err := sched.ForceLift(ctx, "user-1", domain.KindMute)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, prev.Duration)
	assert.Equal(t, 1, enforcer.liftCount())

	lifted, err := store.Get(ctx, "user-1", domain.KindMute)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusLifted, lifted.Status)

	events := publisher.liftedEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "manual", events[0].reason)
}

func TestForceLift_AlreadyLifted(t *testing.T) {
	sched, _, enforcer, _, _ := newTestScheduler(t)
	ctx := context.Background()

	_, _, err := sched.Apply(ctx, "user-1", domain.PunishmentSpec{
		Kind:     domain.KindMute,
		Duration: time.Hour,
	}, 1)
	require.NoError(t, err)

	_, err = sched.ForceLift(ctx, "user-1", domain.KindMute)
	require.NoError(t, err)

	_, err = sched.ForceLift(ctx, "user-1", domain.KindMute)
	assert.ErrorIs(t, err, domain.ErrSanctionNotFound)
	assert.Equal(t, 1, enforcer.liftCount())
}

func TestForceLift_NotFound(t *testing.T) {
	sched, _, _, _, _ := newTestScheduler(t)

	_, err := sched.ForceLift(context.Background(), "nobody", domain.KindMute)
	assert.ErrorIs(t, err, domain.ErrSanctionNotFound)
}

func TestForceLift_BeatsSweep(t *testing.T) {
	sched, store, enforcer, _, clock := newTestScheduler(t)
	ctx := context.Background()

	_, _, err := sched.Apply(ctx, "user-1", domain.PunishmentSpec{
		Kind:     domain.KindMute,
		Duration: time.Minute,
	}, 1)
	require.NoError(t, err)

	clock.Advance(time.Minute)

	// Manual lift wins; the following sweep must treat it as a no-op.
	_, err = sched.ForceLift(ctx, "user-1", domain.KindMute)
	require.NoError(t, err)

	sched.Sweep(ctx)
	assert.Equal(t, 1, enforcer.liftCount())

	lifted, err := store.Get(ctx, "user-1", domain.KindMute)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusLifted, lifted.Status)
}

func TestRecover_LiftsOverdueExactlyOnce(t *testing.T) {
	sched, store, enforcer, _, clock := newTestScheduler(t)
	ctx := context.Background()

	now := clock.Now().UTC()
	require.NoError(t, store.Upsert(ctx, &domain.Sanction{
		UserID: "overdue", Kind: domain.KindMute, Status: domain.StatusActive,
		StartAt: now.Add(-2 * time.Hour), Duration: time.Hour, SourceInfractionID: 1,
	}))
	require.NoError(t, store.Upsert(ctx, &domain.Sanction{
		UserID: "running", Kind: domain.KindMute, Status: domain.StatusActive,
		StartAt: now.Add(-10 * time.Minute), Duration: time.Hour, SourceInfractionID: 2,
	}))
	require.NoError(t, store.Upsert(ctx, &domain.Sanction{
		UserID: "forever", Kind: domain.KindIndefBan, Status: domain.StatusActive,
		StartAt: now.Add(-24 * time.Hour), Unbounded: true, SourceInfractionID: 3,
	}))

	require.NoError(t, sched.Recover(ctx))
	assert.Equal(t, 1, enforcer.liftCount())

	overdue, err := store.Get(ctx, "overdue", domain.KindMute)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusLifted, overdue.Status)

	running, err := store.Get(ctx, "running", domain.KindMute)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, running.Status)

	forever, err := store.Get(ctx, "forever", domain.KindIndefBan)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, forever.Status)

	// Recovery is idempotent
	require.NoError(t, sched.Recover(ctx))
	assert.Equal(t, 1, enforcer.liftCount())
}

func TestRecover_RemainingDurationResumes(t *testing.T) {
	sched, store, enforcer, _, clock := newTestScheduler(t)
	ctx := context.Background()

	now := clock.Now().UTC()
	require.NoError(t, store.Upsert(ctx, &domain.Sanction{
		UserID: "user-1", Kind: domain.KindMute, Status: domain.StatusActive,
		StartAt: now.Add(-40 * time.Minute), Duration: time.Hour, SourceInfractionID: 1,
	}))

	require.NoError(t, sched.Recover(ctx))
	assert.Zero(t, enforcer.liftCount())

	// 20 minutes were left at recovery; the sanction expires on schedule.
	clock.Advance(20 * time.Minute)
	sched.Sweep(ctx)
	assert.Equal(t, 1, enforcer.liftCount())
}

func TestRun_SweepsOnTick(t *testing.T) {
	sched, store, enforcer, _, clock := newTestScheduler(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := clock.Now().UTC()
	require.NoError(t, store.Upsert(ctx, &domain.Sanction{
		UserID: "user-1", Kind: domain.KindMute, Status: domain.StatusActive,
		StartAt: now, Duration: 30 * time.Second, SourceInfractionID: 1,
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		sched.Run(ctx)
	}()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Minute)

	require.Eventually(t, func() bool { return enforcer.liftCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on context cancel")
	}
}
