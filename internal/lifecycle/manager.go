package lifecycle

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantrun/tradecore/internal/domain"
	"github.com/quantrun/tradecore/internal/structure"
)

// ChangeKind identifies a lifecycle transition produced by Update.
type ChangeKind int

const (
	ChangeBreakevenSet ChangeKind = iota
	ChangeStopTrailed
	ChangePartialExit
	ChangeClosed
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeBreakevenSet:
		return "breakeven_set"
	case ChangeStopTrailed:
		return "stop_trailed"
	case ChangePartialExit:
		return "partial_exit"
	case ChangeClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Change describes one transition for event emission.
type Change struct {
	Kind     ChangeKind `json:"kind"`
	Price    float64    `json:"price"`
	Fraction float64    `json:"fraction,omitempty"`
	R        float64    `json:"r"`
	Reason   string     `json:"reason,omitempty"`
}

// PartialLevel pairs an R threshold with the fraction of remaining size
// to close when it is reached. One partial fires per threshold.
type PartialLevel struct {
	R        float64 `yaml:"r"`
	Fraction float64 `yaml:"fraction"`
}

// Config holds the lifecycle R thresholds and structural search bounds.
type Config struct {
	BreakevenR float64        `yaml:"breakeven_r"`
	TrailR     float64        `yaml:"trail_r"`
	Partials   []PartialLevel `yaml:"partials"`

	// StructureSearchATR bounds the level search window around entry,
	// in ATR units. Beyond it the volatility fallback applies.
	StructureSearchATR float64 `yaml:"structure_search_atr"`
	FallbackStopATR    float64 `yaml:"fallback_stop_atr"`
	FallbackTargetATR  float64 `yaml:"fallback_target_atr"`
}

// DefaultConfig returns the production lifecycle thresholds: breakeven
// at 1.5R, trailing from 2.0R, half off at 2.5R.
func DefaultConfig() Config {
	return Config{
		BreakevenR:         1.5,
		TrailR:             2.0,
		Partials:           []PartialLevel{{R: 2.5, Fraction: 0.5}},
		StructureSearchATR: 5.0,
		FallbackStopATR:    1.5,
		FallbackTargetATR:  3.0,
	}
}

// Manager drives position lifecycles. It is the exclusive mutator of
// positions it opens.
type Manager struct {
	cfg Config
}

// NewManager creates a lifecycle manager.
func NewManager(cfg Config) *Manager {
	if cfg.BreakevenR <= 0 {
		cfg = DefaultConfig()
	}
	return &Manager{cfg: cfg}
}

var stopKinds = []structure.LevelKind{structure.SwingLow, structure.SwingHigh, structure.OrderBlock, structure.LiquidityZone}
var targetKinds = []structure.LevelKind{structure.SwingLow, structure.SwingHigh, structure.LiquidityZone, structure.FairValueGap}

// Open creates a position for an approved, filled signal. Stop and
// target come from the nearest qualifying unbroken structural level
// within the search window; the volatility-relative fallback applies
// when none qualifies. Size is derived from riskAmount (the account
// currency at risk) and the resulting stop distance.
func (m *Manager) Open(id string, sig *domain.Signal, riskPct, riskAmount float64,
	levels []structure.Level, atr float64, now time.Time) (*Position, error) {

	if atr <= 0 {
		return nil, fmt.Errorf("open %s: non-positive atr", sig.Symbol)
	}
	window := m.cfg.StructureSearchATR * atr
	entry := sig.Entry

	var stop, target float64
	if sig.Side == domain.SideLong {
		if l, ok := structure.NearestBelow(levels, entry, window, stopKinds...); ok {
			stop = l.Low
		} else {
			stop = entry - m.cfg.FallbackStopATR*atr
		}
		if l, ok := structure.NearestAbove(levels, entry, window, targetKinds...); ok {
			target = l.Price
		} else {
			target = entry + m.cfg.FallbackTargetATR*atr
		}
	} else {
		if l, ok := structure.NearestAbove(levels, entry, window, stopKinds...); ok {
			stop = l.High
		} else {
			stop = entry + m.cfg.FallbackStopATR*atr
		}
		if l, ok := structure.NearestBelow(levels, entry, window, targetKinds...); ok {
			target = l.Price
		} else {
			target = entry - m.cfg.FallbackTargetATR*atr
		}
	}

	risk := (entry - stop) * sig.Side.Sign()
	if risk <= 0 {
		return nil, fmt.Errorf("open %s: stop %.4f not protective of entry %.4f", sig.Symbol, stop, entry)
	}
	size := riskAmount / risk

	p := &Position{
		ID:          id,
		Symbol:      sig.Symbol,
		Side:        sig.Side,
		Strategy:    sig.Strategy,
		Entry:       entry,
		Stop:        stop,
		Target:      target,
		Size:        size,
		InitialSize: size,
		InitialRisk: risk,
		RiskPct:     riskPct,
		Stage:       StageOpen,
		OpenedAt:    now,
	}
	log.Debug().
		Str("symbol", p.Symbol).
		Str("side", p.Side.String()).
		Float64("entry", entry).
		Float64("stop", stop).
		Float64("target", target).
		Msg("position opened")
	return p, nil
}

// Update advances the position against one bar. Structural moves use the
// supplied levels; an empty level set holds the previous stop and target
// unchanged rather than reverting to a worse level.
func (m *Manager) Update(p *Position, bar domain.Bar, levels []structure.Level, now time.Time) ([]Change, error) {
	if p.Stage == StageClosed {
		return nil, nil
	}

	m.trackExcursion(p, bar)

	// Stop fill takes precedence over target in the same bar.
	if hit, price := m.stopHit(p, bar); hit {
		return []Change{m.close(p, price, "stop", now)}, nil
	}
	if hit, price := m.targetHit(p, bar); hit {
		return []Change{m.close(p, price, "target", now)}, nil
	}

	r := p.RMultiple(bar.Close)
	var changes []Change

	if r >= m.cfg.BreakevenR && p.Stage == StageOpen {
		c, err := m.moveToBreakeven(p, bar, levels, r)
		if err != nil {
			return changes, err
		}
		if c != nil {
			changes = append(changes, *c)
		}
	}

	if r >= m.cfg.TrailR && p.RiskEliminated() && p.Stage != StageOpen {
		c, err := m.trail(p, bar, levels, r)
		if err != nil {
			return changes, err
		}
		if c != nil {
			changes = append(changes, *c)
		}
	}

	for _, pl := range m.cfg.Partials {
		if r >= pl.R && !p.partialTakenAt(pl.R) && p.Size > 0 {
			changes = append(changes, m.takePartial(p, bar.Close, pl, now))
		}
	}

	return changes, nil
}

// CloseAt force-closes the position at the given price (manual exits and
// end-of-backtest liquidation).
func (m *Manager) CloseAt(p *Position, price float64, reason string, now time.Time) Change {
	return m.close(p, price, reason, now)
}

func (m *Manager) trackExcursion(p *Position, bar domain.Bar) {
	var fav, adv float64
	if p.Side == domain.SideLong {
		fav, adv = p.RMultiple(bar.High), -p.RMultiple(bar.Low)
	} else {
		fav, adv = p.RMultiple(bar.Low), -p.RMultiple(bar.High)
	}
	if fav > p.MaxFavorable {
		p.MaxFavorable = fav
	}
	if adv > p.MaxAdverse {
		p.MaxAdverse = adv
	}
}

func (m *Manager) stopHit(p *Position, bar domain.Bar) (bool, float64) {
	if p.Side == domain.SideLong {
		if bar.Low <= p.Stop {
			return true, p.Stop
		}
	} else if bar.High >= p.Stop {
		return true, p.Stop
	}
	return false, 0
}

func (m *Manager) targetHit(p *Position, bar domain.Bar) (bool, float64) {
	if p.Target <= 0 {
		return false, 0
	}
	if p.Side == domain.SideLong {
		if bar.High >= p.Target {
			return true, p.Target
		}
	} else if bar.Low <= p.Target {
		return true, p.Target
	}
	return false, 0
}

// moveToBreakeven lifts the stop to the nearest structural level at or
// beyond entry, never worse than entry itself.
func (m *Manager) moveToBreakeven(p *Position, bar domain.Bar, levels []structure.Level, r float64) (*Change, error) {
	newStop := p.Entry
	if p.Side == domain.SideLong {
		if l, ok := structure.NearestBelow(levels, bar.Close, bar.Close-p.Entry, stopKinds...); ok && l.Low > p.Entry {
			newStop = l.Low
		}
	} else {
		if l, ok := structure.NearestAbove(levels, bar.Close, p.Entry-bar.Close, stopKinds...); ok && l.High < p.Entry {
			newStop = l.High
		}
	}
	if err := m.setStop(p, newStop); err != nil {
		return nil, err
	}
	p.Stage = StageBreakevenSet
	return &Change{Kind: ChangeBreakevenSet, Price: newStop, R: r}, nil
}

// trail advances the stop to the most favorable qualifying level between
// the current stop and price. A candidate is accepted only when strictly
// more favorable than the current stop.
func (m *Manager) trail(p *Position, bar domain.Bar, levels []structure.Level, r float64) (*Change, error) {
	var newStop float64
	ok := false
	if p.Side == domain.SideLong {
		var l structure.Level
		if l, ok = structure.NearestBelow(levels, bar.Close, bar.Close-p.Stop, stopKinds...); ok {
			newStop = l.Low
		}
		ok = ok && newStop > p.Stop
	} else {
		var l structure.Level
		if l, ok = structure.NearestAbove(levels, bar.Close, p.Stop-bar.Close, stopKinds...); ok {
			newStop = l.High
		}
		ok = ok && newStop < p.Stop
	}
	if !ok {
		return nil, nil
	}
	if err := m.setStop(p, newStop); err != nil {
		return nil, err
	}
	p.Stage = StageTrailing
	return &Change{Kind: ChangeStopTrailed, Price: newStop, R: r}, nil
}

// setStop enforces stop monotonicity: once set, a long stop only moves
// up and a short stop only moves down. A regression attempt is a
// programming-contract violation and fails loudly.
func (m *Manager) setStop(p *Position, stop float64) error {
	if (p.Side == domain.SideLong && stop < p.Stop) ||
		(p.Side == domain.SideShort && stop > p.Stop) {
		log.Error().
			Str("symbol", p.Symbol).
			Float64("current_stop", p.Stop).
			Float64("new_stop", stop).
			Msg("refusing to move stop against the position")
		return fmt.Errorf("stop %.4f regresses from %.4f for %s %s: %w",
			stop, p.Stop, p.Side, p.Symbol, domain.ErrInvariant)
	}
	p.Stop = stop
	return nil
}

func (m *Manager) takePartial(p *Position, price float64, pl PartialLevel, now time.Time) Change {
	sizeClosed := p.Size * pl.Fraction
	p.RealizedR += sizeClosed / p.InitialSize * p.RMultiple(price)
	p.Size -= sizeClosed
	p.Partials = append(p.Partials, PartialExit{Time: now, Price: price, Fraction: pl.Fraction, R: pl.R})
	p.Stage = StagePartiallyClosed
	return Change{Kind: ChangePartialExit, Price: price, Fraction: pl.Fraction, R: pl.R}
}

func (m *Manager) close(p *Position, price float64, reason string, now time.Time) Change {
	r := p.RMultiple(price)
	p.RealizedR += p.Size / p.InitialSize * r
	p.Size = 0
	p.Stage = StageClosed
	p.ClosedAt = now
	p.ExitPrice = price
	p.ExitReason = reason
	return Change{Kind: ChangeClosed, Price: price, R: r, Reason: reason}
}
