package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/quantrun/tradecore/internal/domain"
	"github.com/quantrun/tradecore/internal/events"
	"github.com/quantrun/tradecore/internal/feed"
	"github.com/quantrun/tradecore/internal/lifecycle"
	"github.com/quantrun/tradecore/internal/metrics"
	"github.com/quantrun/tradecore/internal/microstructure"
	"github.com/quantrun/tradecore/internal/quality"
	"github.com/quantrun/tradecore/internal/risk"
	"github.com/quantrun/tradecore/internal/structure"
	"github.com/quantrun/tradecore/internal/timeframe"
)

// Notifier receives circuit-breaker transitions out of band of the event
// sink (chat alerts). Implementations must not block the step loop.
type Notifier interface {
	BreakerOpened(reason string, statistic float64, resumeAt time.Time)
	BreakerClosed(reason string)
}

// Config holds the orchestration parameters.
type Config struct {
	BaseTimeframe string  `yaml:"base_timeframe"`
	Lookback      int     `yaml:"lookback"`       // base bars fed to each refresh
	Equity        float64 `yaml:"equity"`         // account equity for sizing
	ATRPeriod     int     `yaml:"atr_period"`
	VolumeAvgBars int     `yaml:"volume_avg_bars"`
}

// DefaultConfig returns the production loop parameters.
func DefaultConfig() Config {
	return Config{
		BaseTimeframe: "5m",
		Lookback:      500,
		Equity:        100_000,
		ATRPeriod:     14,
		VolumeAvgBars: 20,
	}
}

// Params wires the engine's collaborators.
type Params struct {
	Config     Config
	History    feed.History
	Strategies []Strategy
	Extractor  *structure.Extractor
	Analyzer   *microstructure.Analyzer
	Builder    *timeframe.Builder
	Scorer     *quality.Scorer
	Allocator  *risk.Allocator
	Manager    *lifecycle.Manager
	State      *risk.PortfolioState
	Sink       events.Sink
	Metrics    *metrics.Metrics
	Notifier   Notifier
}

// Engine is the per-timestep driver. One timestep is fully processed
// before the next begins; all risk decisions serialize through the
// single allocator and portfolio state. Open positions are processed in
// fill order so identical runs replay identically.
type Engine struct {
	cfg    Config
	base   domain.Timeframe
	p      Params
	open   map[string]*lifecycle.Position
	order  []string // open position ids, oldest fill first
	closed []*lifecycle.Position
	seen   map[string]time.Time // last bar start fed to the analyzer
}

// New creates an engine. The base timeframe must parse.
func New(p Params) (*Engine, error) {
	if p.Config.Lookback <= 0 {
		p.Config = DefaultConfig()
	}
	base, err := domain.ParseTimeframe(p.Config.BaseTimeframe)
	if err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	return &Engine{
		cfg:  p.Config,
		base: base,
		p:    p,
		open: make(map[string]*lifecycle.Position),
		seen: make(map[string]time.Time),
	}, nil
}

// OpenPositions returns the currently open positions.
func (e *Engine) OpenPositions() []*lifecycle.Position {
	out := make([]*lifecycle.Position, 0, len(e.open))
	for _, p := range e.open {
		out = append(out, p)
	}
	return out
}

// ClosedPositions returns every archived position.
func (e *Engine) ClosedPositions() []*lifecycle.Position {
	return e.closed
}

// Step processes one timestep: refresh context, manage open positions,
// evaluate strategies, allocate risk, emit events. No component suspends
// mid-step; cancellation applies between steps.
func (e *Engine) Step(ctx context.Context, now time.Time) error {
	for _, symbol := range e.p.History.Symbols() {
		bars := e.p.History.Bars(symbol, e.base, e.cfg.Lookback)
		if len(bars) == 0 {
			continue
		}
		e.p.Builder.Update(symbol, bars)
		e.feedAnalyzer(symbol, bars)

		levels := e.p.Extractor.Refresh(bars)
		atr := structure.ATR(bars, e.cfg.ATRPeriod)
		last := bars[len(bars)-1]

		e.managePositions(ctx, symbol, last, levels, now)
		e.evaluateStrategies(ctx, symbol, bars, levels, atr, now)
	}
	e.updateGauges()
	return nil
}

// feedAnalyzer pushes bars the analyzer has not seen yet, preserving its
// O(1)-per-sample accounting.
func (e *Engine) feedAnalyzer(symbol string, bars []domain.Bar) {
	since := e.seen[symbol]
	for _, b := range bars {
		if !b.Start.After(since) {
			continue
		}
		e.p.Analyzer.Update(b)
		since = b.Start
	}
	e.seen[symbol] = since
}

func (e *Engine) managePositions(ctx context.Context, symbol string, bar domain.Bar, levels []structure.Level, now time.Time) {
	ids := make([]string, len(e.order))
	copy(ids, e.order)
	for _, id := range ids {
		pos, ok := e.open[id]
		if !ok || pos.Symbol != symbol {
			continue
		}
		changes, err := e.p.Manager.Update(pos, bar, levels, now)
		if err != nil {
			log.Error().Err(err).Str("position", id).Msg("lifecycle update failed")
		}
		for _, c := range changes {
			e.emitChange(ctx, pos, c, now)
			if c.Kind == lifecycle.ChangeClosed {
				e.settle(ctx, id, pos, now)
			}
		}
	}
}

// settle archives a closed position and feeds its outcome back into the
// allocator statistics.
func (e *Engine) settle(ctx context.Context, id string, pos *lifecycle.Position, now time.Time) {
	e.p.State.ReleaseExposure(id)
	delete(e.open, id)
	for i, oid := range e.order {
		if oid == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	e.closed = append(e.closed, pos)

	outcome := risk.Outcome{
		Symbol:   pos.Symbol,
		Strategy: pos.Strategy,
		R:        pos.RealizedR,
		PnlPct:   pos.RealizedR * pos.RiskPct,
		ClosedAt: now,
	}
	if tr := e.p.Allocator.RecordOutcome(e.p.State, outcome); tr != nil {
		e.emitBreaker(ctx, tr, pos.Symbol, now)
	}
}

func (e *Engine) evaluateStrategies(ctx context.Context, symbol string, bars []domain.Bar, levels []structure.Level, atr float64, now time.Time) {
	for _, strat := range e.p.Strategies {
		sig, err := strat.Evaluate(symbol, e.p.History)
		if err != nil {
			log.Warn().Err(err).Str("strategy", strat.Name()).Str("symbol", symbol).Msg("strategy evaluation failed")
			continue
		}
		if sig == nil {
			continue
		}
		e.p.Metrics.SignalsEvaluated.WithLabelValues(strat.Name()).Inc()

		if err := sig.Validate(); err != nil {
			ev := events.New(now, events.Rejection, symbol)
			ev.Strategy = strat.Name()
			ev.Reason = "invalid_signal: " + err.Error()
			e.emit(ctx, ev)
			e.p.Metrics.Rejections.WithLabelValues("invalid_signal").Inc()
			continue
		}

		e.decide(ctx, sig, bars, levels, atr, now)
	}
}

func (e *Engine) decide(ctx context.Context, sig *domain.Signal, bars []domain.Bar, levels []structure.Level, atr float64, now time.Time) {
	var snap *microstructure.Snapshot
	if s, ok := e.p.Analyzer.Snapshot(sig.Symbol); ok {
		snap = &s
	}

	assessment := e.p.Scorer.Score(quality.Inputs{
		Signal:           sig,
		Confluence:       e.p.Builder.Confluence(sig.Symbol, sig.Side),
		RegimeFit:        e.regimeFit(sig),
		VolumeRatio:      e.volumeRatio(bars),
		TechnicalFactors: e.technicalFactors(sig, snap),
		Micro:            snap,
		Levels:           levels,
		ATR:              atr,
	})

	decision, closedTr, err := e.p.Allocator.Decide(sig, assessment, e.p.State, snap, e.p.Builder.Regime(sig.Symbol), now)
	if closedTr != nil {
		e.emitBreaker(ctx, closedTr, sig.Symbol, now)
	}
	if err != nil {
		log.Error().Err(err).Str("symbol", sig.Symbol).Msg("risk decision invariant violation")
		return
	}

	if !decision.Approved {
		kind := events.Rejection
		if decision.Code == risk.ReasonQualityLow {
			kind = events.QualityLow
		}
		ev := events.New(now, kind, sig.Symbol)
		ev.Strategy = sig.Strategy
		ev.Quality = assessment.Score
		ev.Breakdown = assessment.Parts
		ev.Reason = decision.Code + ": " + decision.Reason
		e.emit(ctx, ev)
		e.p.Metrics.Rejections.WithLabelValues(decision.Code).Inc()
		return
	}

	riskAmount := e.cfg.Equity * decision.RiskPct / 100
	pos, err := e.p.Manager.Open(uuid.NewString(), sig, decision.RiskPct, riskAmount, levels, atr, now)
	if err != nil {
		ev := events.New(now, events.Rejection, sig.Symbol)
		ev.Strategy = sig.Strategy
		ev.Quality = assessment.Score
		ev.Reason = "unfillable: " + err.Error()
		e.emit(ctx, ev)
		e.p.Metrics.Rejections.WithLabelValues("unfillable").Inc()
		return
	}

	e.open[pos.ID] = pos
	e.order = append(e.order, pos.ID)
	e.p.State.AddExposure(pos.ID, risk.Exposure{
		Symbol:   pos.Symbol,
		Strategy: pos.Strategy,
		Side:     pos.Side,
		RiskPct:  pos.RiskPct,
	})
	e.p.Metrics.Approvals.Inc()

	ev := events.New(now, events.Entry, pos.Symbol)
	ev.Strategy = pos.Strategy
	ev.Quality = assessment.Score
	ev.Breakdown = assessment.Parts
	ev.RiskPct = pos.RiskPct
	ev.Price = pos.Entry
	ev.Stop = pos.Stop
	ev.Target = pos.Target
	e.emit(ctx, ev)
}

// regimeFit maps the coarsest-timeframe trend against the signal side.
func (e *Engine) regimeFit(sig *domain.Signal) float64 {
	hier := e.p.Builder.Hierarchy()
	if len(hier) == 0 {
		return quality.Unavailable
	}
	return trendFit(e.p.Builder.Trend(sig.Symbol, hier[0]), sig.Side)
}

func trendFit(t timeframe.Trend, side domain.Side) float64 {
	aligned, weak := timeframe.TrendUp, timeframe.TrendUpWeak
	if side == domain.SideShort {
		aligned, weak = timeframe.TrendDown, timeframe.TrendDownWeak
	}
	switch t {
	case aligned:
		return 1.0
	case weak:
		return 0.75
	case timeframe.TrendNeutral:
		return 0.5
	default:
		return 0
	}
}

// volumeRatio compares the latest bar's volume against the recent
// average.
func (e *Engine) volumeRatio(bars []domain.Bar) float64 {
	n := e.cfg.VolumeAvgBars
	if len(bars) < n+1 || n <= 0 {
		return quality.Unavailable
	}
	var sum float64
	for _, b := range bars[len(bars)-n-1 : len(bars)-1] {
		sum += b.Volume
	}
	avg := sum / float64(n)
	if avg <= 0 {
		return quality.Unavailable
	}
	return bars[len(bars)-1].Volume / avg
}

// technicalFactors counts simple agreeing factors: base-timeframe trend,
// mid-timeframe trend and flow alignment.
func (e *Engine) technicalFactors(sig *domain.Signal, snap *microstructure.Snapshot) int {
	hier := e.p.Builder.Hierarchy()
	if len(hier) == 0 {
		return -1
	}
	count := 0
	if trendFit(e.p.Builder.Trend(sig.Symbol, hier[len(hier)-1]), sig.Side) >= 0.75 {
		count++
	}
	if len(hier) > 2 && trendFit(e.p.Builder.Trend(sig.Symbol, hier[len(hier)/2]), sig.Side) >= 0.75 {
		count++
	}
	if snap != nil && snap.FlowImbalance*sig.Side.Sign() > 0 {
		count++
	}
	return count
}

func (e *Engine) emitChange(ctx context.Context, pos *lifecycle.Position, c lifecycle.Change, now time.Time) {
	var kind events.Kind
	switch c.Kind {
	case lifecycle.ChangeBreakevenSet:
		kind = events.BreakevenMove
	case lifecycle.ChangeStopTrailed:
		kind = events.StopAdjusted
	case lifecycle.ChangePartialExit:
		kind = events.Partial
	case lifecycle.ChangeClosed:
		kind = events.Exit
	default:
		return
	}
	ev := events.New(now, kind, pos.Symbol)
	ev.Strategy = pos.Strategy
	ev.Price = c.Price
	ev.Stop = pos.Stop
	ev.Target = pos.Target
	ev.R = c.R
	ev.RiskPct = pos.RiskPct
	ev.Reason = c.Reason
	e.emit(ctx, ev)
}

func (e *Engine) emitBreaker(ctx context.Context, tr *risk.Transition, symbol string, now time.Time) {
	kind := events.BreakerClose
	if tr.Opened {
		kind = events.BreakerOpen
		e.p.Metrics.BreakerOpens.Inc()
		if e.p.Notifier != nil {
			e.p.Notifier.BreakerOpened(tr.Reason, tr.Statistic, tr.ResumeAt)
		}
	} else if e.p.Notifier != nil {
		e.p.Notifier.BreakerClosed(tr.Reason)
	}
	ev := events.New(now, kind, symbol)
	ev.Reason = tr.Reason
	ev.R = tr.Statistic
	e.emit(ctx, ev)
}

func (e *Engine) emit(ctx context.Context, ev events.Event) {
	if err := e.p.Sink.Emit(ctx, ev); err != nil {
		log.Warn().Err(err).Str("event", string(ev.Kind)).Msg("event sink emit failed")
	}
}

func (e *Engine) updateGauges() {
	e.p.Metrics.OpenRiskPct.Set(e.p.State.TotalOpenRisk())
	e.p.Metrics.OpenPositions.Set(float64(len(e.open)))
	if e.p.State.BreakerSnapshot().Status == risk.BreakerOpen {
		e.p.Metrics.BreakerState.Set(1)
	} else {
		e.p.Metrics.BreakerState.Set(0)
	}
}
