package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRiskConfig_Validates(t *testing.T) {
	require.NoError(t, DefaultRiskConfig().Validate())
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*RiskConfig)
	}{
		{"negative capital", func(c *RiskConfig) { c.Engine.InitialCapitalUSD = -1 }},
		{"component timeout above deadline", func(c *RiskConfig) {
			c.Engine.ComponentTimeout = c.Engine.OverallDeadline * 2
		}},
		{"all weights zero", func(c *RiskConfig) {
			c.Assessment.LiquidityWeight = 0
			c.Assessment.VolatilityWeight = 0
			c.Assessment.TechnicalWeight = 0
			c.Assessment.MarketWeight = 0
			c.Assessment.ExecutionWeight = 0
			c.Assessment.CorrelationWeight = 0
		}},
		{"risk ceilings out of order", func(c *RiskConfig) { c.Assessment.MediumRiskCeiling = 0.1 }},
		{"slippage tolerance too large", func(c *RiskConfig) { c.Slippage.MaxTolerance = 0.9 }},
		{"hop factor below one", func(c *RiskConfig) { c.Slippage.HopSurchargeFactor = 0.5 }},
		{"min above max trade size", func(c *RiskConfig) { c.Sizing.MinTradeUSD = c.Sizing.MaxTradeUSD + 1 }},
		{"portfolio pct above one", func(c *RiskConfig) { c.Sizing.MaxPortfolioPct = 1.5 }},
		{"zero concurrent trades", func(c *RiskConfig) { c.Sizing.MaxConcurrentTrades = 0 }},
		{"drawdown out of range", func(c *RiskConfig) { c.Breakers.MaxDrawdownPct = 1.0 }},
		{"volatility floors out of order", func(c *RiskConfig) { c.Market.VolHighFloor = 0.001 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultRiskConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_EmptyPathYieldsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultInitialCapitalUSD, cfg.Engine.InitialCapitalUSD)
	assert.Equal(t, DefaultMaxSlippageTolerance, cfg.Slippage.MaxTolerance)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "risk.json")
	payload := `{
		"engine": {"initial_capital_usd": 250000},
		"breakers": {"max_daily_loss_usd": 9000}
	}`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 250_000.0, cfg.Engine.InitialCapitalUSD)
	assert.Equal(t, 9_000.0, cfg.Breakers.MaxDailyLossUSD)
	// Untouched sections keep their defaults.
	assert.Equal(t, DefaultMaxDrawdownPct, cfg.Breakers.MaxDrawdownPct)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.json")
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RISK_INITIAL_CAPITAL_USD", "500000")
	t.Setenv("RISK_MAX_CONSECUTIVE_LOSSES", "3")
	t.Setenv("RISK_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 500_000.0, cfg.Engine.InitialCapitalUSD)
	assert.Equal(t, 3, cfg.Breakers.MaxConsecutiveLosses)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_InvalidFileRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "risk.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"engine": {"initial_capital_usd": -5}}`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
