package enforcer

import (
	"context"
	"log/slog"
	"time"

	"github.com/Maddoux/Canadian-Helper/internal/domain"
)

// Noop logs enforcement calls instead of performing them. Used in development
// mode when no platform-integration endpoint is configured.
type Noop struct{}

var _ domain.Enforcer = Noop{}

func (Noop) Mute(_ context.Context, userID string, until *time.Time) error {
	slog.Info("Enforcer (noop): mute", "user_id", userID, "until", formatUntil(until))
	return nil
}

func (Noop) Ban(_ context.Context, userID string, until *time.Time) error {
	slog.Info("Enforcer (noop): ban", "user_id", userID, "until", formatUntil(until))
	return nil
}

func (Noop) Lift(_ context.Context, userID string, kind domain.SanctionKind) error {
	slog.Info("Enforcer (noop): lift", "user_id", userID, "kind", kind)
	return nil
}

func formatUntil(until *time.Time) string {
	if until == nil {
		return "never"
	}
	return until.UTC().Format(time.RFC3339)
}
