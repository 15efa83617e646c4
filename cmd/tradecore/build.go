package main

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/quantrun/tradecore/internal/config"
	"github.com/quantrun/tradecore/internal/engine"
	"github.com/quantrun/tradecore/internal/events"
	"github.com/quantrun/tradecore/internal/feed"
	"github.com/quantrun/tradecore/internal/lifecycle"
	"github.com/quantrun/tradecore/internal/metrics"
	"github.com/quantrun/tradecore/internal/microstructure"
	"github.com/quantrun/tradecore/internal/notify"
	"github.com/quantrun/tradecore/internal/persistence"
	"github.com/quantrun/tradecore/internal/quality"
	"github.com/quantrun/tradecore/internal/risk"
	"github.com/quantrun/tradecore/internal/structure"
	"github.com/quantrun/tradecore/internal/timeframe"
)

// buildEngine wires the decision core from configuration. The returned
// closer releases sink resources.
func buildEngine(cfg config.Config, history feed.History, strategies []engine.Strategy) (*engine.Engine, *risk.PortfolioState, *metrics.Metrics, func(), error) {
	state := risk.NewPortfolioState(nil)
	mets := metrics.New()

	var sinks events.MultiSink
	sinks = append(sinks, events.NewLogSink())
	var closers []func()
	if cfg.Sinks.DatabaseDSN != "" {
		store, err := persistence.NewSQLStore(cfg.Sinks.DatabaseDSN)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("event store: %w", err)
		}
		sinks = append(sinks, store)
		closers = append(closers, func() { store.Close() })
	}

	var notifier engine.Notifier
	if cfg.Sinks.TelegramToken != "" {
		tg, err := notify.NewTelegram(cfg.Sinks.TelegramToken, cfg.Sinks.TelegramChat)
		if err != nil {
			log.Warn().Err(err).Msg("telegram disabled")
		} else {
			notifier = tg
		}
	}

	eng, err := engine.New(engine.Params{
		Config:     cfg.Engine,
		History:    history,
		Strategies: strategies,
		Extractor:  structure.NewExtractor(cfg.Structure),
		Analyzer:   microstructure.NewAnalyzer(cfg.Microstructure),
		Builder:    timeframe.NewBuilder(cfg.Timeframes),
		Scorer:     quality.NewScorer(cfg.Quality),
		Allocator:  risk.NewAllocator(cfg.Risk),
		Manager:    lifecycle.NewManager(cfg.Lifecycle),
		State:      state,
		Sink:       sinks,
		Metrics:    mets,
		Notifier:   notifier,
	})
	if err != nil {
		return nil, nil, nil, nil, err
	}

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	return eng, state, mets, closeAll, nil
}
