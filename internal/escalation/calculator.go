// Package escalation maps a rule tier and a prior-offense count to a
// concrete punishment. Compute is a pure function; persistence and
// enforcement live elsewhere so punishment math stays reproducible from the
// infraction log alone.
package escalation

import (
	"fmt"
	"time"

	"github.com/Maddoux/Canadian-Helper/internal/catalog"
	"github.com/Maddoux/Canadian-Helper/internal/domain"
)

// Compute derives the punishment for the priorCount-th repeat offense under
// the given rule tier. priorCount is the number of prior non-retracted
// infractions under the same rule, so 0 means a first offense.
func Compute(entry *catalog.RuleEntry, tierName string, priorCount int) (domain.PunishmentSpec, error) {
	tier, ok := entry.Tier(tierName)
	if !ok {
		return domain.PunishmentSpec{}, fmt.Errorf("%w: rule %q has no tier %q", domain.ErrUnknownTier, entry.ID, tierName)
	}
	if priorCount < 0 {
		return domain.PunishmentSpec{}, fmt.Errorf("negative prior count %d", priorCount)
	}

	// Unbounded tiers never escalate: permanent is permanent.
	if tier.Base.Unbounded {
		return domain.PunishmentSpec{Kind: tier.Kind, Unbounded: true}, nil
	}

	spec := domain.PunishmentSpec{Kind: tier.Kind, Duration: tier.Base.Duration}
	if priorCount == 0 {
		return spec, nil
	}

	switch tier.Escalation {
	case catalog.ModeReplace:
		// A repeat offense switches to the continuation punishment.
		if tier.Increment.Unbounded {
			return domain.PunishmentSpec{Kind: tier.Kind, Unbounded: true}, nil
		}
		if tier.Increment.Duration > spec.Duration {
			spec.Duration = tier.Increment.Duration
		}
	default:
		spec.Duration = tier.Base.Duration + time.Duration(priorCount)*tier.Increment.Duration
	}
	return spec, nil
}
