package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Default thresholds and weights. Every value here is overridable through the
// JSON config file and a handful of environment variables.
const (
	DefaultInitialCapitalUSD = 100000.0

	// Assessment weights (normalized over components actually present).
	DefaultLiquidityWeight   = 0.25
	DefaultVolatilityWeight  = 0.20
	DefaultTechnicalWeight   = 0.15
	DefaultMarketWeight      = 0.15
	DefaultExecutionWeight   = 0.15
	DefaultCorrelationWeight = 0.10

	// Risk level buckets.
	DefaultLowRiskCeiling    = 0.3
	DefaultMediumRiskCeiling = 0.6
	DefaultHighRiskCeiling   = 0.8

	// Decision thresholds.
	DefaultMaxApprovalScore     = 0.8
	DefaultLowConfidenceFloor   = 0.5
	DefaultUncertaintyInflation = 0.2 // up to +20% score when confidence is low

	// Slippage model.
	DefaultMaxSlippageTolerance = 0.05
	DefaultConstantSlippage     = 0.02
	DefaultLinearFactor         = 0.8
	DefaultSqrtFactor           = 0.05
	DefaultLogBase              = 0.0005
	DefaultLogScale             = 0.08
	DefaultTimeDecayPerSecond   = 0.0001
	DefaultTimeDecayCap         = 0.005
	DefaultHopSurchargeFactor   = 1.15
	DefaultMediumLiquidityUSD   = 100000.0
	DefaultHighLiquidityUSD     = 1000000.0

	// Sizing.
	DefaultMinTradeUSD         = 100.0
	DefaultMaxTradeUSD         = 100000.0
	DefaultMaxPortfolioPct     = 0.20
	DefaultMaxConcurrentTrades = 5
	DefaultKellyFraction       = 0.25
	DefaultMinKellyFraction    = 0.01
	DefaultMaxKellyFraction    = 0.5
	DefaultMaxLiquidityImpact  = 0.01
	DefaultLiquidityBuffer     = 0.8
	DefaultVolSizingThreshold  = 0.05
	DefaultCorrThreshold       = 0.7
	DefaultCorrExposureLimit   = 0.3
	DefaultLossReductionFactor = 0.5
	DefaultLossStreakCap       = 5

	// Breakers.
	DefaultMaxDailyLossUSD      = 5000.0
	DefaultMaxDrawdownPct       = 0.15
	DefaultMaxConsecutiveLosses = 5

	// Market monitor regime boundaries.
	DefaultVolNormalFloor   = 0.01
	DefaultVolHighFloor     = 0.03
	DefaultVolExtremeFloor  = 0.06
	DefaultLiqCriticalCeil  = 0.2
	DefaultLiqLowCeil       = 0.4
	DefaultLiqNormalCeil    = 0.75
)

// RiskConfig is the full construction-time configuration surface of the
// risk control engine.
type RiskConfig struct {
	Engine     EngineConfig     `json:"engine"`
	Assessment AssessmentConfig `json:"assessment"`
	Slippage   SlippageConfig   `json:"slippage"`
	Sizing     SizingConfig     `json:"sizing"`
	Breakers   BreakerConfig    `json:"breakers"`
	Market     MarketConfig     `json:"market"`
	Logging    LoggingConfig    `json:"logging"`
	HTTP       HTTPConfig       `json:"http"`
}

// EngineConfig controls orchestrator timing and capital bootstrap.
type EngineConfig struct {
	InitialCapitalUSD   float64       `json:"initial_capital_usd"`
	ComponentTimeout    time.Duration `json:"component_timeout"`
	OverallDeadline     time.Duration `json:"overall_deadline"`
	HealthCheckInterval time.Duration `json:"health_check_interval"`
	MarketRefresh       time.Duration `json:"market_refresh_interval"`
	CacheTTL            time.Duration `json:"cache_ttl"`
	CacheMaxEntries     int           `json:"cache_max_entries"`
	StalenessTimeout    time.Duration `json:"staleness_timeout"`
	MaxRecentErrors     int           `json:"max_recent_errors"`
}

// AssessmentConfig holds the weighted-combination parameters of the
// six-component risk aggregator.
type AssessmentConfig struct {
	LiquidityWeight   float64 `json:"liquidity_weight"`
	VolatilityWeight  float64 `json:"volatility_weight"`
	TechnicalWeight   float64 `json:"technical_weight"`
	MarketWeight      float64 `json:"market_weight"`
	ExecutionWeight   float64 `json:"execution_weight"`
	CorrelationWeight float64 `json:"correlation_weight"`

	LowRiskCeiling    float64 `json:"low_risk_ceiling"`
	MediumRiskCeiling float64 `json:"medium_risk_ceiling"`
	HighRiskCeiling   float64 `json:"high_risk_ceiling"`

	MaxApprovalScore     float64 `json:"max_approval_score"`
	LowConfidenceFloor   float64 `json:"low_confidence_floor"`
	UncertaintyInflation float64 `json:"uncertainty_inflation"`
}

// SlippageConfig parameterizes the regime-selected impact curves.
type SlippageConfig struct {
	MaxTolerance       float64 `json:"max_tolerance"`
	ConstantSlippage   float64 `json:"constant_slippage"`
	LinearFactor       float64 `json:"linear_factor"`
	SqrtFactor         float64 `json:"sqrt_factor"`
	LogBase            float64 `json:"log_base"`
	LogScale           float64 `json:"log_scale"`
	VolatilityWeight   float64 `json:"volatility_weight"`
	CongestionWeight   float64 `json:"congestion_weight"`
	GasWeight          float64 `json:"gas_weight"`
	TimeDecayPerSecond float64 `json:"time_decay_per_second"`
	TimeDecayCap       float64 `json:"time_decay_cap"`
	HopSurchargeFactor float64 `json:"hop_surcharge_factor"`
	MediumLiquidityUSD float64 `json:"medium_liquidity_usd"`
	HighLiquidityUSD   float64 `json:"high_liquidity_usd"`
}

// SizingConfig parameterizes the capital allocator's candidate sizes.
type SizingConfig struct {
	MinTradeUSD         float64 `json:"min_trade_usd"`
	MaxTradeUSD         float64 `json:"max_trade_usd"`
	MaxPortfolioPct     float64 `json:"max_portfolio_pct"`
	MaxConcurrentTrades int     `json:"max_concurrent_trades"`

	KellyFraction    float64 `json:"kelly_fraction"`
	MinKellyFraction float64 `json:"min_kelly_fraction"`
	MaxKellyFraction float64 `json:"max_kelly_fraction"`

	MaxLiquidityImpact float64 `json:"max_liquidity_impact"`
	LiquidityBuffer    float64 `json:"liquidity_buffer"`

	VolatilityThreshold float64 `json:"volatility_threshold"`

	CorrelationThreshold     float64 `json:"correlation_threshold"`
	CorrelatedExposureLimit  float64 `json:"correlated_exposure_limit"`

	LossReductionFactor float64 `json:"loss_reduction_factor"`
	LossStreakCap       int     `json:"loss_streak_cap"`
}

// BreakerConfig parameterizes the circuit breaker set.
type BreakerConfig struct {
	MaxDailyLossUSD      float64       `json:"max_daily_loss_usd"`
	MaxDrawdownPct       float64       `json:"max_drawdown_pct"`
	MaxConsecutiveLosses int           `json:"max_consecutive_losses"`
	CooldownPeriod       time.Duration `json:"cooldown_period"`
}

// MarketConfig parameterizes the market condition monitor.
type MarketConfig struct {
	VolatilityWindow   int     `json:"volatility_window"` // number of return samples
	HistoryWindow      time.Duration `json:"history_window"`
	VolNormalFloor     float64 `json:"vol_normal_floor"`
	VolHighFloor       float64 `json:"vol_high_floor"`
	VolExtremeFloor    float64 `json:"vol_extreme_floor"`
	LiqCriticalCeiling float64 `json:"liq_critical_ceiling"`
	LiqLowCeiling      float64 `json:"liq_low_ceiling"`
	LiqNormalCeiling   float64 `json:"liq_normal_ceiling"`
	TrackedPairs       []string `json:"tracked_pairs"`
	Venues             []string `json:"venues"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level   string `json:"level"`
	Console bool   `json:"console"`
}

// HTTPConfig controls the admin/observability listener.
type HTTPConfig struct {
	ListenAddr string `json:"listen_addr"`
}

// DefaultRiskConfig returns the documented defaults for every threshold and
// weight in the engine.
func DefaultRiskConfig() *RiskConfig {
	return &RiskConfig{
		Engine: EngineConfig{
			InitialCapitalUSD:   DefaultInitialCapitalUSD,
			ComponentTimeout:    2 * time.Second,
			OverallDeadline:     5 * time.Second,
			HealthCheckInterval: time.Minute,
			MarketRefresh:       30 * time.Second,
			CacheTTL:            30 * time.Second,
			CacheMaxEntries:     256,
			StalenessTimeout:    5 * time.Minute,
			MaxRecentErrors:     5,
		},
		Assessment: AssessmentConfig{
			LiquidityWeight:   DefaultLiquidityWeight,
			VolatilityWeight:  DefaultVolatilityWeight,
			TechnicalWeight:   DefaultTechnicalWeight,
			MarketWeight:      DefaultMarketWeight,
			ExecutionWeight:   DefaultExecutionWeight,
			CorrelationWeight: DefaultCorrelationWeight,

			LowRiskCeiling:    DefaultLowRiskCeiling,
			MediumRiskCeiling: DefaultMediumRiskCeiling,
			HighRiskCeiling:   DefaultHighRiskCeiling,

			MaxApprovalScore:     DefaultMaxApprovalScore,
			LowConfidenceFloor:   DefaultLowConfidenceFloor,
			UncertaintyInflation: DefaultUncertaintyInflation,
		},
		Slippage: SlippageConfig{
			MaxTolerance:       DefaultMaxSlippageTolerance,
			ConstantSlippage:   DefaultConstantSlippage,
			LinearFactor:       DefaultLinearFactor,
			SqrtFactor:         DefaultSqrtFactor,
			LogBase:            DefaultLogBase,
			LogScale:           DefaultLogScale,
			VolatilityWeight:   0.5,
			CongestionWeight:   0.3,
			GasWeight:          0.2,
			TimeDecayPerSecond: DefaultTimeDecayPerSecond,
			TimeDecayCap:       DefaultTimeDecayCap,
			HopSurchargeFactor: DefaultHopSurchargeFactor,
			MediumLiquidityUSD: DefaultMediumLiquidityUSD,
			HighLiquidityUSD:   DefaultHighLiquidityUSD,
		},
		Sizing: SizingConfig{
			MinTradeUSD:         DefaultMinTradeUSD,
			MaxTradeUSD:         DefaultMaxTradeUSD,
			MaxPortfolioPct:     DefaultMaxPortfolioPct,
			MaxConcurrentTrades: DefaultMaxConcurrentTrades,

			KellyFraction:    DefaultKellyFraction,
			MinKellyFraction: DefaultMinKellyFraction,
			MaxKellyFraction: DefaultMaxKellyFraction,

			MaxLiquidityImpact: DefaultMaxLiquidityImpact,
			LiquidityBuffer:    DefaultLiquidityBuffer,

			VolatilityThreshold: DefaultVolSizingThreshold,

			CorrelationThreshold:    DefaultCorrThreshold,
			CorrelatedExposureLimit: DefaultCorrExposureLimit,

			LossReductionFactor: DefaultLossReductionFactor,
			LossStreakCap:       DefaultLossStreakCap,
		},
		Breakers: BreakerConfig{
			MaxDailyLossUSD:      DefaultMaxDailyLossUSD,
			MaxDrawdownPct:       DefaultMaxDrawdownPct,
			MaxConsecutiveLosses: DefaultMaxConsecutiveLosses,
			CooldownPeriod:       30 * time.Minute,
		},
		Market: MarketConfig{
			VolatilityWindow:   48,
			HistoryWindow:      24 * time.Hour,
			VolNormalFloor:     DefaultVolNormalFloor,
			VolHighFloor:       DefaultVolHighFloor,
			VolExtremeFloor:    DefaultVolExtremeFloor,
			LiqCriticalCeiling: DefaultLiqCriticalCeil,
			LiqLowCeiling:      DefaultLiqLowCeil,
			LiqNormalCeiling:   DefaultLiqNormalCeil,
			TrackedPairs:       []string{"WETH/USDC", "WBTC/USDC"},
			Venues:             []string{"uniswap_v3", "sushiswap"},
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
		HTTP: HTTPConfig{
			ListenAddr: ":8090",
		},
	}
}

// Load reads configuration from an optional JSON file, then applies
// environment overrides, then validates. An empty path yields the defaults.
func Load(path string) (*RiskConfig, error) {
	cfg := DefaultRiskConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("could not read config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("could not parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *RiskConfig) applyEnvOverrides() {
	if v := os.Getenv("RISK_INITIAL_CAPITAL_USD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Engine.InitialCapitalUSD = f
		}
	}
	if v := os.Getenv("RISK_MAX_DAILY_LOSS_USD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Breakers.MaxDailyLossUSD = f
		}
	}
	if v := os.Getenv("RISK_MAX_CONSECUTIVE_LOSSES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Breakers.MaxConsecutiveLosses = n
		}
	}
	if v := os.Getenv("RISK_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("RISK_HTTP_ADDR"); v != "" {
		c.HTTP.ListenAddr = v
	}
}

// Validate checks internal consistency of the configuration.
func (c *RiskConfig) Validate() error {
	if c.Engine.InitialCapitalUSD <= 0 {
		return fmt.Errorf("initial capital must be positive, got %.2f", c.Engine.InitialCapitalUSD)
	}
	if c.Engine.ComponentTimeout <= 0 || c.Engine.OverallDeadline <= 0 {
		return fmt.Errorf("component timeout and overall deadline must be positive")
	}
	if c.Engine.ComponentTimeout > c.Engine.OverallDeadline {
		return fmt.Errorf("component timeout %v exceeds overall deadline %v",
			c.Engine.ComponentTimeout, c.Engine.OverallDeadline)
	}

	weights := []float64{
		c.Assessment.LiquidityWeight, c.Assessment.VolatilityWeight,
		c.Assessment.TechnicalWeight, c.Assessment.MarketWeight,
		c.Assessment.ExecutionWeight, c.Assessment.CorrelationWeight,
	}
	sum := 0.0
	for _, w := range weights {
		if w < 0 {
			return fmt.Errorf("assessment weights must be non-negative")
		}
		sum += w
	}
	if sum <= 0 {
		return fmt.Errorf("assessment weights must not all be zero")
	}

	if !(c.Assessment.LowRiskCeiling < c.Assessment.MediumRiskCeiling &&
		c.Assessment.MediumRiskCeiling < c.Assessment.HighRiskCeiling &&
		c.Assessment.HighRiskCeiling <= 1.0) {
		return fmt.Errorf("risk level ceilings must be strictly increasing and at most 1.0")
	}

	if c.Slippage.MaxTolerance <= 0 || c.Slippage.MaxTolerance > 0.5 {
		return fmt.Errorf("max slippage tolerance %.4f out of range (0, 0.5]", c.Slippage.MaxTolerance)
	}
	if c.Slippage.HopSurchargeFactor < 1.0 {
		return fmt.Errorf("hop surcharge factor must be at least 1.0")
	}
	if c.Slippage.MediumLiquidityUSD >= c.Slippage.HighLiquidityUSD {
		return fmt.Errorf("medium liquidity tier boundary must be below the high tier boundary")
	}

	if c.Sizing.MinTradeUSD <= 0 || c.Sizing.MaxTradeUSD < c.Sizing.MinTradeUSD {
		return fmt.Errorf("invalid trade size bounds [%.2f, %.2f]", c.Sizing.MinTradeUSD, c.Sizing.MaxTradeUSD)
	}
	if c.Sizing.MaxPortfolioPct <= 0 || c.Sizing.MaxPortfolioPct > 1 {
		return fmt.Errorf("max portfolio percentage %.4f out of range (0, 1]", c.Sizing.MaxPortfolioPct)
	}
	if c.Sizing.MaxConcurrentTrades < 1 {
		return fmt.Errorf("max concurrent trades must be at least 1")
	}
	if c.Sizing.MinKellyFraction > c.Sizing.MaxKellyFraction {
		return fmt.Errorf("min kelly fraction exceeds max kelly fraction")
	}
	if c.Sizing.LossReductionFactor <= 0 || c.Sizing.LossReductionFactor > 1 {
		return fmt.Errorf("loss reduction factor %.4f out of range (0, 1]", c.Sizing.LossReductionFactor)
	}

	if c.Breakers.MaxDailyLossUSD <= 0 {
		return fmt.Errorf("max daily loss must be positive")
	}
	if c.Breakers.MaxDrawdownPct <= 0 || c.Breakers.MaxDrawdownPct >= 1 {
		return fmt.Errorf("max drawdown percentage %.4f out of range (0, 1)", c.Breakers.MaxDrawdownPct)
	}
	if c.Breakers.MaxConsecutiveLosses < 1 {
		return fmt.Errorf("max consecutive losses must be at least 1")
	}

	if c.Market.VolatilityWindow < 2 {
		return fmt.Errorf("volatility window must be at least 2 samples")
	}
	if !(c.Market.VolNormalFloor < c.Market.VolHighFloor && c.Market.VolHighFloor < c.Market.VolExtremeFloor) {
		return fmt.Errorf("volatility regime floors must be strictly increasing")
	}
	if !(c.Market.LiqCriticalCeiling < c.Market.LiqLowCeiling && c.Market.LiqLowCeiling < c.Market.LiqNormalCeiling) {
		return fmt.Errorf("liquidity regime ceilings must be strictly increasing")
	}

	return nil
}
