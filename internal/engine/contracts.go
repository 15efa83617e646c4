// Package engine drives the per-timestep decision loop: refresh market
// context, manage open positions, evaluate strategies, allocate risk and
// emit lifecycle events.
package engine

import (
	"time"

	"github.com/quantrun/tradecore/internal/domain"
	"github.com/quantrun/tradecore/internal/feed"
)

// Strategy is the external signal-generator contract. Evaluate is pulled
// once per symbol per timestep and may return nil when there is no
// candidate. The core treats every strategy uniformly and never branches
// on concrete type.
type Strategy interface {
	Name() string
	Evaluate(symbol string, history feed.History) (*domain.Signal, error)
}

// Clock abstracts time so the same loop drives backtests (logical clock)
// and live trading (wall clock).
type Clock interface {
	Now() time.Time
}

// WallClock reads the system clock.
type WallClock struct{}

func (WallClock) Now() time.Time { return time.Now().UTC() }

// LogicalClock is advanced explicitly by a replay driver.
type LogicalClock struct {
	t time.Time
}

func (c *LogicalClock) Now() time.Time     { return c.t }
func (c *LogicalClock) Set(t time.Time)    { c.t = t }
func (c *LogicalClock) Advance(d time.Duration) { c.t = c.t.Add(d) }
