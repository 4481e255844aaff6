package slippage

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/flasharb/risk-engine/pkg/config"
	"github.com/flasharb/risk-engine/pkg/types"
)

// Recommendation is the slippage model's verdict for a trade.
type Recommendation string

const (
	RecommendReject         Recommendation = "REJECT"
	RecommendReduceSize     Recommendation = "REDUCE_SIZE"
	RecommendProceedCaution Recommendation = "PROCEED_CAUTION"
	RecommendProceed        Recommendation = "PROCEED"
)

// Curve identifies which impact model was selected for a trade side.
type Curve string

const (
	CurveConstant    Curve = "constant"
	CurveLinear      Curve = "linear"
	CurveSqrt        Curve = "sqrt"
	CurveLogarithmic Curve = "logarithmic"
)

// Calculation is the derived slippage estimate for one trade. It is not
// persisted beyond the decision.
type Calculation struct {
	Base             float64        `json:"base"`
	MarketAdjustment float64        `json:"market_adjustment"`
	TimeAdjustment   float64        `json:"time_adjustment"`
	HopAdjustment    float64        `json:"hop_adjustment"`
	Final            float64        `json:"final"`
	CostUSD          float64        `json:"cost_usd"`
	BuyCurve         Curve          `json:"buy_curve"`
	SellCurve        Curve          `json:"sell_curve"`
	Capped           bool           `json:"capped"`
	Recommendation   Recommendation `json:"recommendation"`
}

// Model estimates price impact for a trade given liquidity snapshots on both
// venues. The impact curve is selected per side by liquidity tier: thin pools
// get the conservative linear model, medium pools square-root, deep pools
// logarithmic (constant-product AMMs exhibit sub-linear impact growth at
// depth), and an unknown pool falls back to a flat low-confidence constant.
type Model struct {
	cfg config.SlippageConfig
	log zerolog.Logger
}

// NewModel creates a slippage model.
func NewModel(cfg config.SlippageConfig, log zerolog.Logger) *Model {
	return &Model{cfg: cfg, log: log}
}

// MaxTolerance returns the configured hard cap.
func (m *Model) MaxTolerance() float64 {
	return m.cfg.MaxTolerance
}

// Estimate computes the slippage for executing amountUSD against the given
// buy/sell liquidity under current market conditions. Either snapshot may be
// nil (data unavailable); the constant fallback covers it.
func (m *Model) Estimate(opp *types.Opportunity, amountUSD float64,
	buy, sell *types.Liquidity, net *types.NetworkConditions, pairVolatility float64) *Calculation {

	calc := &Calculation{}

	var buySide, sellSide float64
	buySide, calc.BuyCurve = m.sideImpact(amountUSD, buy)
	sellSide, calc.SellCurve = m.sideImpact(amountUSD, sell)
	calc.Base = buySide + sellSide

	calc.MarketAdjustment = calc.Base * m.conditionScore(net, pairVolatility)

	if opp.EstExecution > 0 {
		calc.TimeAdjustment = opp.EstExecution.Seconds() * m.cfg.TimeDecayPerSecond
		if calc.TimeAdjustment > m.cfg.TimeDecayCap {
			calc.TimeAdjustment = m.cfg.TimeDecayCap
		}
	}

	// Each hop beyond the basic two-leg route compounds the surcharge
	// geometrically.
	if opp.RouteHops > 2 {
		extra := float64(opp.RouteHops - 2)
		calc.HopAdjustment = calc.Base * (math.Pow(m.cfg.HopSurchargeFactor, extra) - 1)
	}

	total := calc.Base + calc.MarketAdjustment + calc.TimeAdjustment + calc.HopAdjustment
	if total >= m.cfg.MaxTolerance {
		calc.Final = m.cfg.MaxTolerance
		calc.Capped = true
	} else {
		calc.Final = total
	}
	calc.CostUSD = calc.Final * amountUSD
	calc.Recommendation = m.recommend(calc.Final, opp.ProfitMargin())

	m.log.Debug().
		Float64("base", calc.Base).
		Float64("final", calc.Final).
		Str("buy_curve", string(calc.BuyCurve)).
		Str("sell_curve", string(calc.SellCurve)).
		Str("recommendation", string(calc.Recommendation)).
		Msg("slippage estimated")

	return calc
}

// sideImpact computes one side's impact and reports which curve was used.
func (m *Model) sideImpact(amountUSD float64, liq *types.Liquidity) (float64, Curve) {
	if liq == nil || liq.TotalUSD <= 0 {
		return m.cfg.ConstantSlippage, CurveConstant
	}
	ratio := amountUSD / liq.TotalUSD

	switch {
	case liq.TotalUSD < m.cfg.MediumLiquidityUSD:
		return ratio * m.cfg.LinearFactor, CurveLinear
	case liq.TotalUSD < m.cfg.HighLiquidityUSD:
		return math.Sqrt(ratio) * m.cfg.SqrtFactor, CurveSqrt
	default:
		return m.cfg.LogBase + math.Log(1+ratio)*m.cfg.LogScale, CurveLogarithmic
	}
}

// conditionScore folds volatility, congestion and gas volatility into a 0-1
// surcharge multiplier. Missing network data scores as mildly stressed
// rather than clean.
func (m *Model) conditionScore(net *types.NetworkConditions, pairVolatility float64) float64 {
	congestion, gasVol := 0.3, 0.3
	if net != nil {
		congestion = net.Congestion
		gasVol = net.GasVolatility
	}
	// Normalize pair volatility so ~6% per-sample stddev saturates the term.
	volTerm := clamp01(pairVolatility / 0.06)

	score := m.cfg.VolatilityWeight*volTerm +
		m.cfg.CongestionWeight*clamp01(congestion) +
		m.cfg.GasWeight*clamp01(gasVol)
	return clamp01(score)
}

func (m *Model) recommend(final, profitMargin float64) Recommendation {
	if final >= m.cfg.MaxTolerance*0.95 {
		return RecommendReject
	}
	if profitMargin <= 0 {
		return RecommendReduceSize
	}
	ratio := final / profitMargin
	switch {
	case ratio > 0.5:
		return RecommendReduceSize
	case ratio > 0.3:
		return RecommendProceedCaution
	default:
		return RecommendProceed
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
