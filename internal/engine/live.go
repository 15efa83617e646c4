package engine

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/quantrun/tradecore/internal/persistence"
)

// LiveRunner ticks the engine on the wall clock at the base bar cadence
// and persists breaker snapshots on a cron schedule. Daily-loss halts
// resume on their own once the next trading day starts.
type LiveRunner struct {
	engine    *Engine
	clock     Clock
	snapshots *persistence.Snapshots
	cron      *cron.Cron
}

// NewLiveRunner creates a runner. snapshots may be nil when no redis is
// configured.
func NewLiveRunner(e *Engine, snapshots *persistence.Snapshots) *LiveRunner {
	return &LiveRunner{
		engine:    e,
		clock:     WallClock{},
		snapshots: snapshots,
		cron:      cron.New(),
	}
}

// Run steps the engine until the context is cancelled. Cancellation is
// cooperative: it is checked between timesteps, never mid-step.
func (r *LiveRunner) Run(ctx context.Context) error {
	if r.snapshots != nil {
		if snap, ok, err := r.snapshots.LoadBreaker(ctx); err != nil {
			log.Warn().Err(err).Msg("breaker snapshot load failed, starting closed")
		} else if ok {
			r.engine.p.State.RestoreBreaker(snap)
			log.Info().Str("status", snap.Status.String()).Msg("breaker state restored")
		}

		r.cron.AddFunc("*/5 * * * *", func() {
			c, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := r.snapshots.SaveBreaker(c, r.engine.p.State.BreakerSnapshot()); err != nil {
				log.Warn().Err(err).Msg("breaker snapshot save failed")
			}
		})
	}
	r.cron.Start()
	defer r.cron.Stop()

	cadence := r.engine.base.Duration()
	ticker := time.NewTicker(cadence)
	defer ticker.Stop()

	log.Info().Str("cadence", cadence.String()).Msg("live runner started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("live runner stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := r.engine.Step(ctx, r.clock.Now()); err != nil {
				log.Error().Err(err).Msg("step failed")
			}
		}
	}
}
