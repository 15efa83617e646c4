package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Validates(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestValidate_Rejections(t *testing.T) {
	t.Run("inverted risk band", func(t *testing.T) {
		cfg := Default()
		cfg.Risk.MinRiskPct = 2.0
		cfg.Risk.MaxRiskPct = 1.0
		assert.Error(t, cfg.Validate())
	})

	t.Run("quality weights off unity", func(t *testing.T) {
		cfg := Default()
		cfg.Quality.Weights.Confidence = 0.5
		assert.Error(t, cfg.Validate())
	})

	t.Run("portfolio ceiling below max risk", func(t *testing.T) {
		cfg := Default()
		cfg.Risk.PortfolioCeilingPct = 0.5
		assert.Error(t, cfg.Validate())
	})

	t.Run("hierarchy weights mismatch", func(t *testing.T) {
		cfg := Default()
		cfg.Timeframes.Weights = cfg.Timeframes.Weights[:2]
		assert.Error(t, cfg.Validate())
	})

	t.Run("trail before breakeven", func(t *testing.T) {
		cfg := Default()
		cfg.Lifecycle.BreakevenR = 2.0
		cfg.Lifecycle.TrailR = 1.0
		assert.Error(t, cfg.Validate())
	})

	t.Run("partial fraction out of range", func(t *testing.T) {
		cfg := Default()
		cfg.Lifecycle.Partials[0].Fraction = 1.5
		assert.Error(t, cfg.Validate())
	})

	t.Run("partial threshold below breakeven", func(t *testing.T) {
		cfg := Default()
		cfg.Lifecycle.Partials[0].R = 1.0
		assert.Error(t, cfg.Validate())
	})
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
engine:
  base_timeframe: 15m
  equity: 250000
risk:
  max_risk_pct: 0.75
sinks:
  redis_addr: localhost:6379
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "15m", cfg.Engine.BaseTimeframe)
	assert.Equal(t, 250000.0, cfg.Engine.Equity)
	assert.Equal(t, 0.75, cfg.Risk.MaxRiskPct)
	assert.Equal(t, "localhost:6379", cfg.Sinks.RedisAddr)
	// Untouched sections keep their defaults.
	assert.Equal(t, 1.5, cfg.Lifecycle.BreakevenR)
}

func TestLoad_InvalidFileRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
risk:
  min_risk_pct: 2.0
  max_risk_pct: 1.0
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
