package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantrun/tradecore/internal/feed"
)

// BacktestResult summarizes one replay.
type BacktestResult struct {
	Steps        int       `json:"steps"`
	Trades       int       `json:"trades"`
	Wins         int       `json:"wins"`
	TotalR       float64   `json:"total_r"`
	TotalPnlPct  float64   `json:"total_pnl_pct"`
	MaxDrawdownR float64   `json:"max_drawdown_r"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
}

// Backtest replays a CSV feed through the engine on a logical clock. The
// loop checks the context between timesteps; an in-flight step is never
// interrupted.
func Backtest(ctx context.Context, e *Engine, f *feed.CSVFeed) (*BacktestResult, error) {
	res := &BacktestResult{}
	clock := &LogicalClock{}

	for f.Next() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		now := f.Now()
		clock.Set(now)
		if res.Start.IsZero() {
			res.Start = now
		}
		res.End = now
		if err := e.Step(ctx, clock.Now()); err != nil {
			return res, fmt.Errorf("step at %s: %w", now, err)
		}
		res.Steps++
	}

	// Liquidate whatever is still open at the last seen price, in fill
	// order so replays stay deterministic.
	ids := make([]string, len(e.order))
	copy(ids, e.order)
	for _, id := range ids {
		pos, ok := e.open[id]
		if !ok {
			continue
		}
		bars := f.Bars(pos.Symbol, e.base, 1)
		if len(bars) == 0 {
			continue
		}
		c := e.p.Manager.CloseAt(pos, bars[0].Close, "end_of_data", res.End)
		e.emitChange(ctx, pos, c, res.End)
		e.settle(ctx, id, pos, res.End)
	}

	var equityR, peakR float64
	for _, pos := range e.closed {
		res.Trades++
		if pos.RealizedR >= 0 {
			res.Wins++
		}
		res.TotalR += pos.RealizedR
		res.TotalPnlPct += pos.RealizedR * pos.RiskPct
		equityR += pos.RealizedR
		if equityR > peakR {
			peakR = equityR
		}
		if dd := peakR - equityR; dd > res.MaxDrawdownR {
			res.MaxDrawdownR = dd
		}
	}

	log.Info().
		Int("steps", res.Steps).
		Int("trades", res.Trades).
		Int("wins", res.Wins).
		Float64("total_r", res.TotalR).
		Float64("total_pnl_pct", res.TotalPnlPct).
		Msg("backtest complete")
	return res, nil
}
