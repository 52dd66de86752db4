package escalation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Maddoux/Canadian-Helper/internal/catalog"
	"github.com/Maddoux/Canadian-Helper/internal/domain"
)

func spamRule() *catalog.RuleEntry {
	return &catalog.RuleEntry{
		ID: "spam",
		Tiers: []catalog.Tier{
			{
				Name:       "minor",
				Kind:       domain.KindMute,
				Base:       catalog.Span{Duration: 30 * time.Minute},
				Increment:  catalog.Span{Duration: time.Hour},
				Escalation: catalog.ModeAdditive,
			},
		},
	}
}

func severeRule() *catalog.RuleEntry {
	return &catalog.RuleEntry{
		ID: "cat1-severe",
		Tiers: []catalog.Tier{
			{
				Name: "permanent",
				Kind: domain.KindPermBan,
				Base: catalog.Span{Unbounded: true},
			},
		},
	}
}

func evasionRule() *catalog.RuleEntry {
	return &catalog.RuleEntry{
		ID: "evasion",
		Tiers: []catalog.Tier{
			{
				Name:       "repeat",
				Kind:       domain.KindTempBan,
				Base:       catalog.Span{Duration: 48 * time.Hour},
				Increment:  catalog.Span{Unbounded: true},
				Escalation: catalog.ModeReplace,
			},
		},
	}
}

func TestCompute_FirstOffenseIsBaseDuration(t *testing.T) {
	spec, err := Compute(spamRule(), "minor", 0)
	require.NoError(t, err)
	assert.Equal(t, domain.KindMute, spec.Kind)
	assert.Equal(t, 30*time.Minute, spec.Duration)
	assert.False(t, spec.Unbounded)
}

func TestCompute_SecondOffenseAddsIncrement(t *testing.T) {
	// spam: base 30min, +1h per prior offense. Second infraction
	// (priorCount=1) escalates to 90min.
	spec, err := Compute(spamRule(), "minor", 1)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, spec.Duration)
}

func TestCompute_MonotonicInPriorCount(t *testing.T) {
	var prev time.Duration
	for n := 0; n < 10; n++ {
		spec, err := Compute(spamRule(), "minor", n)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, spec.Duration, prev, "priorCount=%d", n)
		prev = spec.Duration
	}
}

func TestCompute_UnboundedTierIgnoresPriorCount(t *testing.T) {
	for _, n := range []int{0, 1, 5, 100} {
		spec, err := Compute(severeRule(), "permanent", n)
		require.NoError(t, err)
		assert.True(t, spec.Unbounded, "priorCount=%d", n)
		assert.Equal(t, domain.KindPermBan, spec.Kind)
		assert.Zero(t, spec.Duration)
	}
}

func TestCompute_ReplaceModeFirstOffense(t *testing.T) {
	spec, err := Compute(evasionRule(), "repeat", 0)
	require.NoError(t, err)
	assert.False(t, spec.Unbounded)
	assert.Equal(t, 48*time.Hour, spec.Duration)
}

func TestCompute_ReplaceModeRepeatGoesIndefinite(t *testing.T) {
	spec, err := Compute(evasionRule(), "repeat", 1)
	require.NoError(t, err)
	assert.True(t, spec.Unbounded)
	assert.Equal(t, domain.KindTempBan, spec.Kind)
}

func TestCompute_ReplaceModeBoundedContinuation(t *testing.T) {
	entry := &catalog.RuleEntry{
		ID: "trolling",
		Tiers: []catalog.Tier{
			{
				Name:       "major",
				Kind:       domain.KindTempBan,
				Base:       catalog.Span{Duration: 24 * time.Hour},
				Increment:  catalog.Span{Duration: 7 * 24 * time.Hour},
				Escalation: catalog.ModeReplace,
			},
		},
	}

	first, err := Compute(entry, "major", 0)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, first.Duration)

	// Repeat offenses all land on the continuation value, they do not stack.
	for _, n := range []int{1, 2, 7} {
		spec, err := Compute(entry, "major", n)
		require.NoError(t, err)
		assert.Equal(t, 7*24*time.Hour, spec.Duration, "priorCount=%d", n)
	}
}

func TestCompute_UnknownTier(t *testing.T) {
	_, err := Compute(spamRule(), "nonexistent", 0)
	assert.ErrorIs(t, err, domain.ErrUnknownTier)
}

func TestCompute_NegativePriorCount(t *testing.T) {
	_, err := Compute(spamRule(), "minor", -1)
	assert.Error(t, err)
}
