package structure

import "time"

// LevelKind classifies a structural price level.
type LevelKind int

const (
	SwingHigh LevelKind = iota
	SwingLow
	OrderBlock
	FairValueGap
	LiquidityZone
)

func (k LevelKind) String() string {
	switch k {
	case SwingHigh:
		return "swing_high"
	case SwingLow:
		return "swing_low"
	case OrderBlock:
		return "order_block"
	case FairValueGap:
		return "fair_value_gap"
	case LiquidityZone:
		return "liquidity_zone"
	default:
		return "unknown"
	}
}

// Level is a price level derived from observed price action. Zone kinds
// (order blocks, gaps, liquidity ranges) carry distinct Low/High bounds;
// swing pivots collapse to a single price. Price is the level's reference
// price: the pivot extreme, or the zone midpoint.
type Level struct {
	Kind        LevelKind `json:"kind"`
	Price       float64   `json:"price"`
	Low         float64   `json:"low"`
	High        float64   `json:"high"`
	Strength    float64   `json:"strength"` // [0,1]
	BarIndex    int       `json:"bar_index"`
	CreatedAt   time.Time `json:"created_at"`
	Invalidated bool      `json:"invalidated"`
}

// Protective reports whether the level can shelter a stop on the given
// protective side of price: below price for longs, above for shorts.
func (l Level) Protective(price float64, below bool) bool {
	if l.Invalidated {
		return false
	}
	if below {
		return l.Price < price
	}
	return l.Price > price
}

// NearestBelow returns the valid level of one of the given kinds with the
// highest price strictly below price, within the [price-window, price)
// band. Returns false when none qualifies.
func NearestBelow(levels []Level, price, window float64, kinds ...LevelKind) (Level, bool) {
	var best Level
	found := false
	for _, l := range levels {
		if l.Invalidated || !matchKind(l.Kind, kinds) {
			continue
		}
		if l.Price >= price || l.Price < price-window {
			continue
		}
		if !found || l.Price > best.Price {
			best = l
			found = true
		}
	}
	return best, found
}

// NearestAbove is the mirror of NearestBelow for levels strictly above
// price within (price, price+window].
func NearestAbove(levels []Level, price, window float64, kinds ...LevelKind) (Level, bool) {
	var best Level
	found := false
	for _, l := range levels {
		if l.Invalidated || !matchKind(l.Kind, kinds) {
			continue
		}
		if l.Price <= price || l.Price > price+window {
			continue
		}
		if !found || l.Price < best.Price {
			best = l
			found = true
		}
	}
	return best, found
}

func matchKind(k LevelKind, kinds []LevelKind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, want := range kinds {
		if k == want {
			return true
		}
	}
	return false
}
