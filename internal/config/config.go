// Package config loads the single yaml configuration covering every
// decision threshold. Configuration is read once at startup; nothing in
// the decision path re-reads it.
package config

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/quantrun/tradecore/internal/engine"
	"github.com/quantrun/tradecore/internal/feed"
	"github.com/quantrun/tradecore/internal/lifecycle"
	"github.com/quantrun/tradecore/internal/microstructure"
	"github.com/quantrun/tradecore/internal/quality"
	"github.com/quantrun/tradecore/internal/risk"
	"github.com/quantrun/tradecore/internal/structure"
	"github.com/quantrun/tradecore/internal/timeframe"
)

// Sinks configures the event and snapshot outputs. Empty fields disable
// the corresponding sink.
type Sinks struct {
	DatabaseDSN   string `yaml:"database_dsn"`
	RedisAddr     string `yaml:"redis_addr"`
	HTTPAddr      string `yaml:"http_addr"`
	TelegramToken string `yaml:"telegram_token"`
	TelegramChat  int64  `yaml:"telegram_chat"`
}

// Config is the full configuration surface.
type Config struct {
	Engine         engine.Config        `yaml:"engine"`
	Structure      structure.Config     `yaml:"structure"`
	Microstructure microstructure.Config `yaml:"microstructure"`
	Timeframes     timeframe.Config     `yaml:"timeframes"`
	Quality        quality.Config       `yaml:"quality"`
	Risk           risk.Config          `yaml:"risk"`
	Lifecycle      lifecycle.Config     `yaml:"lifecycle"`
	LiveFeed       feed.LiveConfig      `yaml:"live_feed"`
	Sinks          Sinks                `yaml:"sinks"`
}

// Default returns the full production default configuration.
func Default() Config {
	return Config{
		Engine:         engine.DefaultConfig(),
		Structure:      structure.DefaultConfig(),
		Microstructure: microstructure.DefaultConfig(),
		Timeframes:     timeframe.DefaultConfig(),
		Quality:        quality.DefaultConfig(),
		Risk:           risk.DefaultConfig(),
		Lifecycle:      lifecycle.DefaultConfig(),
		LiveFeed:       feed.DefaultLiveConfig(),
	}
}

// Load reads a yaml file over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations that would break decision invariants.
func (c Config) Validate() error {
	r := c.Risk
	if r.MinRiskPct <= 0 || r.MaxRiskPct < r.MinRiskPct {
		return fmt.Errorf("risk band [%.2f,%.2f] inverted or non-positive", r.MinRiskPct, r.MaxRiskPct)
	}
	if r.QualityThreshold < 0 || r.QualityThreshold >= 1 {
		return fmt.Errorf("quality threshold %.2f outside [0,1)", r.QualityThreshold)
	}
	if r.PortfolioCeilingPct < r.MaxRiskPct {
		return fmt.Errorf("portfolio ceiling %.2f below max risk %.2f", r.PortfolioCeilingPct, r.MaxRiskPct)
	}
	if sum := c.Quality.Weights.Sum(); math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("quality weights sum to %.4f, want 1.0", sum)
	}
	if len(c.Timeframes.Hierarchy) != len(c.Timeframes.Weights) {
		return fmt.Errorf("timeframe hierarchy has %d entries, weights %d",
			len(c.Timeframes.Hierarchy), len(c.Timeframes.Weights))
	}
	if c.Lifecycle.BreakevenR <= 0 || c.Lifecycle.TrailR < c.Lifecycle.BreakevenR {
		return fmt.Errorf("lifecycle thresholds: breakeven %.2f, trail %.2f out of order",
			c.Lifecycle.BreakevenR, c.Lifecycle.TrailR)
	}
	for _, pl := range c.Lifecycle.Partials {
		if pl.Fraction <= 0 || pl.Fraction > 1 {
			return fmt.Errorf("partial fraction %.2f outside (0,1]", pl.Fraction)
		}
		// A partial below breakeven would close size before the stage
		// machine ever sets breakeven, stranding the position in
		// PARTIALLY_CLOSED with its full initial risk.
		if pl.R < c.Lifecycle.BreakevenR {
			return fmt.Errorf("partial threshold %.2fR below breakeven %.2fR",
				pl.R, c.Lifecycle.BreakevenR)
		}
	}
	return nil
}
