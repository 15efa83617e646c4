package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/quantrun/tradecore/internal/domain"
	"github.com/quantrun/tradecore/internal/timeframe"
)

// LiveConfig holds the websocket feed parameters.
type LiveConfig struct {
	URL        string   `yaml:"url"`
	Symbols    []string `yaml:"symbols"`
	RatePerSec float64  `yaml:"rate_per_sec"`
	Burst      int      `yaml:"burst"`
	MaxBars    int      `yaml:"max_bars"` // retained per symbol
}

// DefaultLiveConfig returns conservative connection defaults.
func DefaultLiveConfig() LiveConfig {
	return LiveConfig{
		RatePerSec: 5,
		Burst:      10,
		MaxBars:    5000,
	}
}

// wireBar is the upstream bar message shape.
type wireBar struct {
	Symbol string  `json:"symbol"`
	Time   int64   `json:"time"` // unix seconds, bar start
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// LiveFeed subscribes to an upstream bar stream and serves the cached
// series through the History interface. Reconnects are rate limited and
// run through a circuit breaker; while the breaker is open the cached
// series keeps serving, so a flapping upstream degrades to "no new data"
// instead of failing the step loop.
type LiveFeed struct {
	cfg     LiveConfig
	base    domain.Timeframe
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker

	mu     sync.RWMutex
	series map[string][]domain.Bar
}

// NewLiveFeed creates a live feed for the base timeframe.
func NewLiveFeed(cfg LiveConfig, base domain.Timeframe) *LiveFeed {
	if cfg.RatePerSec <= 0 {
		cfg = DefaultLiveConfig()
	}
	settings := gobreaker.Settings{
		Name:    "live-feed",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &LiveFeed{
		cfg:     cfg,
		base:    base,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker(settings),
		series:  make(map[string][]domain.Bar),
	}
}

// Run connects and consumes the stream until the context is cancelled.
func (f *LiveFeed) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := f.limiter.Wait(ctx); err != nil {
			return err
		}
		_, err := f.breaker.Execute(func() (any, error) {
			return nil, f.consume(ctx)
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Msg("live feed disconnected, will retry")
		}
	}
}

func (f *LiveFeed) consume(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.cfg.URL, err)
	}
	defer conn.Close()

	sub := map[string]any{"op": "subscribe", "bars": f.cfg.Symbols}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	log.Info().Str("url", f.cfg.URL).Strs("symbols", f.cfg.Symbols).Msg("live feed connected")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		var wb wireBar
		if err := json.Unmarshal(data, &wb); err != nil || wb.Symbol == "" {
			continue // ignore heartbeats and unknown frames
		}
		f.append(domain.Bar{
			Symbol:    wb.Symbol,
			Timeframe: f.base,
			Start:     time.Unix(wb.Time, 0).UTC(),
			Open:      wb.Open,
			High:      wb.High,
			Low:       wb.Low,
			Close:     wb.Close,
			Volume:    wb.Volume,
		})
	}
}

func (f *LiveFeed) append(bar domain.Bar) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.series[bar.Symbol]
	// Replace an in-progress bar for the same window, else append.
	if n := len(s); n > 0 && s[n-1].Start.Equal(bar.Start) {
		s[n-1] = bar
	} else {
		s = append(s, bar)
	}
	if f.cfg.MaxBars > 0 && len(s) > f.cfg.MaxBars {
		s = s[len(s)-f.cfg.MaxBars:]
	}
	f.series[bar.Symbol] = s
}

// Bars serves cached history, resampled when a coarser timeframe is
// requested.
func (f *LiveFeed) Bars(symbol string, tf domain.Timeframe, n int) []domain.Bar {
	f.mu.RLock()
	src := f.series[symbol]
	bars := make([]domain.Bar, len(src))
	copy(bars, src)
	f.mu.RUnlock()

	if tf != f.base {
		bars = timeframe.Resample(bars, tf)
	}
	if n > 0 && len(bars) > n {
		bars = bars[len(bars)-n:]
	}
	return bars
}

// Symbols lists the configured subscription set.
func (f *LiveFeed) Symbols() []string {
	out := make([]string, len(f.cfg.Symbols))
	copy(out, f.cfg.Symbols)
	sort.Strings(out)
	return out
}
