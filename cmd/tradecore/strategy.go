package main

import (
	"time"

	"github.com/quantrun/tradecore/internal/domain"
	"github.com/quantrun/tradecore/internal/feed"
	"github.com/quantrun/tradecore/internal/structure"
	"github.com/quantrun/tradecore/internal/timeframe"
)

// trendPullbackStrategy is a reference implementation of the strategy
// contract: long when the fast EMA is above the slow EMA and price has
// pulled back to the fast EMA. Real deployments register their own
// strategies; the core never depends on this one.
type trendPullbackStrategy struct {
	base     domain.Timeframe
	fast     int
	slow     int
	lastFire map[string]time.Time
}

func newTrendPullbackStrategy(base domain.Timeframe) *trendPullbackStrategy {
	return &trendPullbackStrategy{
		base:     base,
		fast:     9,
		slow:     21,
		lastFire: make(map[string]time.Time),
	}
}

func (s *trendPullbackStrategy) Name() string { return "trend_pullback" }

func (s *trendPullbackStrategy) Evaluate(symbol string, history feed.History) (*domain.Signal, error) {
	bars := history.Bars(symbol, s.base, 100)
	if len(bars) < s.slow+5 {
		return nil, nil
	}
	cl := make([]float64, len(bars))
	for i, b := range bars {
		cl[i] = b.Close
	}
	fast := timeframe.EMA(cl, s.fast)
	slow := timeframe.EMA(cl, s.slow)

	last := bars[len(bars)-1]
	f, sl := fast[len(fast)-1], slow[len(slow)-1]
	if f <= sl {
		return nil, nil
	}
	// Pullback: the bar traded through the fast EMA but closed above it.
	if last.Low > f || last.Close < f {
		return nil, nil
	}
	// One signal per symbol per bar window.
	if fired, ok := s.lastFire[symbol]; ok && !last.Start.After(fired) {
		return nil, nil
	}
	s.lastFire[symbol] = last.Start

	atr := structure.ATR(bars, 14)
	confidence := 0.6
	if sl > 0 && (f-sl)/sl > 0.005 {
		confidence = 0.75
	}
	return &domain.Signal{
		Symbol:     symbol,
		Side:       domain.SideLong,
		Entry:      last.Close,
		Confidence: confidence,
		Strategy:   s.Name(),
		Time:       last.Start,
		Proposal: domain.Proposal{
			Stop:   last.Close - 1.5*atr,
			Target: last.Close + 3*atr,
		},
		Meta: map[string]any{},
	}, nil
}
