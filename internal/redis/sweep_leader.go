package redis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Maddoux/Canadian-Helper/internal/metrics"
)

// Sweeper is the long-running loop the leader drives. Implemented by the
// sanction scheduler.
type Sweeper interface {
	Run(ctx context.Context)
}

// SweepLeader gates the expiry sweep behind leader election so only one
// instance lifts sanctions at a time. Followers keep trying to take over,
// which covers leader crashes without operator action.
type SweepLeader struct {
	election *LeaderElection
	sweeper  Sweeper
	interval time.Duration
}

// NewSweepLeader creates the leadership loop. interval is how often
// followers retry the election and the leader renews its lease; it should be
// well under the election TTL.
func NewSweepLeader(election *LeaderElection, sweeper Sweeper, interval time.Duration) *SweepLeader {
	return &SweepLeader{
		election: election,
		sweeper:  sweeper,
		interval: interval,
	}
}

// Run blocks until ctx is cancelled. While this instance holds the lease the
// sweep loop runs; losing the lease stops it until leadership is reacquired.
func (s *SweepLeader) Run(ctx context.Context) {
	var leaderCtx context.Context
	var stopSweep context.CancelFunc
	leading := false

	defer func() {
		if leading {
			stopSweep()
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.election.ReleaseLease(releaseCtx); err != nil {
				slog.Warn("Failed to release sweep leadership", "error", err)
			}
			metrics.LeaderStatus.Set(0)
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if !leading {
			acquired, err := s.election.TryBecomeLeader(ctx)
			if err != nil {
				slog.Warn("Sweep leader election failed", "error", err)
			} else if acquired {
				leading = true
				leaderCtx, stopSweep = context.WithCancel(ctx)
				go s.sweeper.Run(leaderCtx)
				metrics.LeaderStatus.Set(1)
				slog.Info("Acquired sweep leadership")
			}
		} else {
			if err := s.election.RenewLease(ctx); err != nil {
				if errors.Is(err, ErrNotLeader) {
					slog.Warn("Lost sweep leadership")
				} else {
					slog.Warn("Failed to renew sweep lease, stepping down", "error", err)
				}
				stopSweep()
				leading = false
				metrics.LeaderStatus.Set(0)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
