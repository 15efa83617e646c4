package domain

import (
	"fmt"
	"time"
)

// Side represents trade direction.
type Side int

const (
	SideLong Side = iota
	SideShort
)

func (s Side) String() string {
	switch s {
	case SideLong:
		return "long"
	case SideShort:
		return "short"
	default:
		return "unknown"
	}
}

// Sign returns +1 for long, -1 for short. Used to express favorable
// price movement as a positive quantity regardless of direction.
func (s Side) Sign() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// Opposite returns the reverse direction.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Timeframe identifies a bar aggregation interval.
type Timeframe int

const (
	TF1m Timeframe = iota
	TF5m
	TF15m
	TF1h
	TF4h
	TF1d
)

func (tf Timeframe) String() string {
	switch tf {
	case TF1m:
		return "1m"
	case TF5m:
		return "5m"
	case TF15m:
		return "15m"
	case TF1h:
		return "1h"
	case TF4h:
		return "4h"
	case TF1d:
		return "1d"
	default:
		return "unknown"
	}
}

// Duration returns the wall-clock span of one bar at this timeframe.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case TF1m:
		return time.Minute
	case TF5m:
		return 5 * time.Minute
	case TF15m:
		return 15 * time.Minute
	case TF1h:
		return time.Hour
	case TF4h:
		return 4 * time.Hour
	case TF1d:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// Truncate aligns t down to the calendar boundary of the timeframe in UTC.
// Aggregation windows are anchored to the clock, never to the first sample
// seen, so resampling the same series always yields the same boundaries.
func (tf Timeframe) Truncate(t time.Time) time.Time {
	t = t.UTC()
	if tf == TF1d {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	return t.Truncate(tf.Duration())
}

// ParseTimeframe parses a timeframe label such as "5m" or "1h".
func ParseTimeframe(s string) (Timeframe, error) {
	for _, tf := range []Timeframe{TF1m, TF5m, TF15m, TF1h, TF4h, TF1d} {
		if tf.String() == s {
			return tf, nil
		}
	}
	return TF1m, fmt.Errorf("unknown timeframe %q", s)
}

// Bar is one OHLCV sample for a symbol at a timeframe. Bars are immutable
// once produced; series own them in chronological order.
type Bar struct {
	Symbol    string         `json:"symbol"`
	Timeframe Timeframe      `json:"timeframe"`
	Start     time.Time      `json:"start"`
	Open      float64        `json:"open"`
	High      float64        `json:"high"`
	Low       float64        `json:"low"`
	Close     float64        `json:"close"`
	Volume    float64        `json:"volume"`
}

// Mid returns the bar midpoint, the reference price for classifying
// volume as buy- or sell-initiated when tick data is unavailable.
func (b Bar) Mid() float64 {
	return (b.High + b.Low) / 2
}

// Range returns high minus low.
func (b Bar) Range() float64 {
	return b.High - b.Low
}

// Bullish reports whether the bar closed above its open.
func (b Bar) Bullish() bool {
	return b.Close > b.Open
}

// Body returns the low and high bound of the candle body.
func (b Bar) Body() (float64, float64) {
	if b.Open <= b.Close {
		return b.Open, b.Close
	}
	return b.Close, b.Open
}
