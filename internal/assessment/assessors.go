package assessment

import (
	"context"
	"math"
	"time"

	"github.com/flasharb/risk-engine/internal/market"
	"github.com/flasharb/risk-engine/internal/portfolio"
	"github.com/flasharb/risk-engine/internal/providers"
	"github.com/flasharb/risk-engine/internal/riskerr"
	"github.com/flasharb/risk-engine/pkg/config"
	"github.com/flasharb/risk-engine/pkg/types"
)

// SnapshotFunc supplies the latest market condition snapshot to assessors.
type SnapshotFunc func() *market.Snapshot

// scoreUnknown is the risk charged when the data a component needs is
// unavailable. Missing data is treated as dangerous, not neutral.
const (
	scoreUnknown      = 0.9
	confidenceUnknown = 0.3
)

// LiquidityAssessor scores how hard the trade leans on the pools it must
// cross: trade-to-pool ratio on the thinner side, pool depth and holder
// concentration.
type LiquidityAssessor struct {
	provider providers.MarketDataProvider
}

func NewLiquidityAssessor(provider providers.MarketDataProvider) *LiquidityAssessor {
	return &LiquidityAssessor{provider: provider}
}

func (a *LiquidityAssessor) Name() string { return ComponentLiquidity }

func (a *LiquidityAssessor) Assess(ctx context.Context, opp *types.Opportunity, amountUSD float64) (*ComponentResult, error) {
	res := &ComponentResult{Component: a.Name(), Factors: make(map[string]float64)}

	buy, buyErr := a.provider.GetLiquidity(ctx, opp.SourceVenue, opp.TokenA, opp.TokenB)
	if buyErr != nil {
		return nil, riskerr.NewDataUnavailableError(a.Name(), "get_liquidity", buyErr)
	}
	sell, sellErr := a.provider.GetLiquidity(ctx, opp.TargetVenue, opp.TokenA, opp.TokenB)
	if sellErr != nil {
		return nil, riskerr.NewDataUnavailableError(a.Name(), "get_liquidity", sellErr)
	}
	if buy == nil || sell == nil {
		res.Score = scoreUnknown
		res.Confidence = confidenceUnknown
		res.Warnings = append(res.Warnings, "liquidity data unavailable for one or both venues")
		return res, nil
	}

	thinner := buy
	if sell.TotalUSD < buy.TotalUSD {
		thinner = sell
	}

	impact := 1.0
	if thinner.TotalUSD > 0 {
		// 10% of the thinner pool saturates the impact term.
		impact = clamp01(amountUSD / thinner.TotalUSD / 0.10)
	}
	depthRisk := clamp01(1 - (buy.Depth+sell.Depth)/2)
	concRisk := clamp01((buy.Concentration + sell.Concentration) / 2)

	res.Factors["trade_impact"] = impact
	res.Factors["depth_risk"] = depthRisk
	res.Factors["concentration_risk"] = concRisk

	res.Score = clamp01(0.5*impact + 0.3*depthRisk + 0.2*concRisk)
	res.Confidence = 0.9
	if impact > 0.8 {
		res.Warnings = append(res.Warnings, "trade size is large relative to the thinner pool")
	}
	return res, nil
}

// VolatilityAssessor scores the pair's rolling volatility against the
// extreme-regime boundary.
type VolatilityAssessor struct {
	cfg  config.MarketConfig
	snap SnapshotFunc
}

func NewVolatilityAssessor(cfg config.MarketConfig, snap SnapshotFunc) *VolatilityAssessor {
	return &VolatilityAssessor{cfg: cfg, snap: snap}
}

func (a *VolatilityAssessor) Name() string { return ComponentVolatility }

func (a *VolatilityAssessor) Assess(_ context.Context, opp *types.Opportunity, _ float64) (*ComponentResult, error) {
	res := &ComponentResult{Component: a.Name(), Factors: make(map[string]float64)}

	snap := a.snap()
	if snap == nil {
		res.Score = scoreUnknown
		res.Confidence = confidenceUnknown
		res.Warnings = append(res.Warnings, "no market condition snapshot available")
		return res, nil
	}
	vol, ok := snap.PairVolatility(opp.Pair())
	if !ok {
		res.Score = scoreUnknown
		res.Confidence = confidenceUnknown
		res.Warnings = append(res.Warnings, "pair is not tracked by the market monitor")
		return res, nil
	}

	res.Factors["volatility"] = vol
	res.Score = clamp01(vol / a.cfg.VolExtremeFloor)
	res.Confidence = 0.85
	if vol >= a.cfg.VolHighFloor {
		res.Warnings = append(res.Warnings, "pair volatility is elevated")
	}
	return res, nil
}

// TechnicalAssessor scores the structural quality of the opportunity itself:
// margin thinness, route complexity and signal staleness.
type TechnicalAssessor struct{}

func NewTechnicalAssessor() *TechnicalAssessor { return &TechnicalAssessor{} }

func (a *TechnicalAssessor) Name() string { return ComponentTechnical }

func (a *TechnicalAssessor) Assess(_ context.Context, opp *types.Opportunity, _ float64) (*ComponentResult, error) {
	res := &ComponentResult{Component: a.Name(), Factors: make(map[string]float64)}

	// A 2% margin or better scores as safe; the risk rises as the margin
	// thins toward zero.
	margin := opp.ProfitMargin()
	marginRisk := clamp01(1 - margin/0.02)

	hopRisk := 0.0
	if opp.RouteHops > 2 {
		hopRisk = clamp01(float64(opp.RouteHops-2) / 3)
	}

	staleRisk := 0.0
	if !opp.DetectedAt.IsZero() {
		age := time.Since(opp.DetectedAt)
		// Arbitrage windows decay fast; a 30s old signal is fully stale.
		staleRisk = clamp01(age.Seconds() / 30)
	}

	res.Factors["margin_risk"] = marginRisk
	res.Factors["route_risk"] = hopRisk
	res.Factors["staleness_risk"] = staleRisk

	res.Score = clamp01(0.5*marginRisk + 0.25*hopRisk + 0.25*staleRisk)
	res.Confidence = 0.95
	if staleRisk > 0.7 {
		res.Warnings = append(res.Warnings, "opportunity signal is stale")
	}
	if margin <= 0 {
		res.Warnings = append(res.Warnings, "opportunity has no positive expected margin")
	}
	return res, nil
}

// MarketRiskAssessor scores broad market stress: how many tracked pairs sit
// in elevated regimes and how healthy their liquidity is overall.
type MarketRiskAssessor struct {
	snap SnapshotFunc
}

func NewMarketRiskAssessor(snap SnapshotFunc) *MarketRiskAssessor {
	return &MarketRiskAssessor{snap: snap}
}

func (a *MarketRiskAssessor) Name() string { return ComponentMarket }

func (a *MarketRiskAssessor) Assess(_ context.Context, _ *types.Opportunity, _ float64) (*ComponentResult, error) {
	res := &ComponentResult{Component: a.Name(), Factors: make(map[string]float64)}

	snap := a.snap()
	if snap == nil || len(snap.Pairs) == 0 {
		res.Score = scoreUnknown
		res.Confidence = confidenceUnknown
		res.Warnings = append(res.Warnings, "no market condition snapshot available")
		return res, nil
	}

	var volStress, liqStress float64
	for _, cond := range snap.Pairs {
		volStress += float64(cond.VolRegime) / float64(market.VolExtreme)
		liqStress += 1 - cond.LiquidityHealth
	}
	n := float64(len(snap.Pairs))
	volStress /= n
	liqStress /= n

	res.Factors["volatility_stress"] = volStress
	res.Factors["liquidity_stress"] = liqStress

	res.Score = clamp01(0.5*volStress + 0.5*liqStress)
	res.Confidence = 0.8
	if volStress > 0.66 {
		res.Warnings = append(res.Warnings, "broad market volatility is in a high regime")
	}
	return res, nil
}

// ExecutionAssessor scores the odds of the trade failing mid-flight:
// expected execution time against the arbitrage decay window, route hops and
// network congestion.
type ExecutionAssessor struct {
	provider providers.MarketDataProvider
}

func NewExecutionAssessor(provider providers.MarketDataProvider) *ExecutionAssessor {
	return &ExecutionAssessor{provider: provider}
}

func (a *ExecutionAssessor) Name() string { return ComponentExecution }

func (a *ExecutionAssessor) Assess(ctx context.Context, opp *types.Opportunity, _ float64) (*ComponentResult, error) {
	res := &ComponentResult{Component: a.Name(), Factors: make(map[string]float64)}

	// A minute of expected execution saturates the timing term.
	timeRisk := clamp01(opp.EstExecution.Seconds() / 60)
	hopRisk := 0.0
	if opp.RouteHops > 2 {
		hopRisk = clamp01(float64(opp.RouteHops-2) / 3)
	}

	net, err := a.provider.GetNetworkConditions(ctx)
	if err != nil {
		return nil, riskerr.NewDataUnavailableError(a.Name(), "network_conditions", err)
	}
	congestion := 0.5
	confidence := 0.6
	if net != nil {
		congestion = clamp01(net.Congestion)
		confidence = 0.9
	} else {
		res.Warnings = append(res.Warnings, "network conditions unavailable, assuming moderate congestion")
	}

	res.Factors["time_risk"] = timeRisk
	res.Factors["route_risk"] = hopRisk
	res.Factors["congestion"] = congestion

	res.Score = clamp01(0.4*timeRisk + 0.25*hopRisk + 0.35*congestion)
	res.Confidence = confidence
	return res, nil
}

// CorrelationAssessor scores concentration risk from existing exposure to
// pairs correlated with the one being traded.
type CorrelationAssessor struct {
	cfg  config.SizingConfig
	snap SnapshotFunc
	book *portfolio.Portfolio
}

func NewCorrelationAssessor(cfg config.SizingConfig, snap SnapshotFunc, book *portfolio.Portfolio) *CorrelationAssessor {
	return &CorrelationAssessor{cfg: cfg, snap: snap, book: book}
}

func (a *CorrelationAssessor) Name() string { return ComponentCorrelation }

func (a *CorrelationAssessor) Assess(_ context.Context, opp *types.Opportunity, amountUSD float64) (*ComponentResult, error) {
	res := &ComponentResult{Component: a.Name(), Factors: make(map[string]float64)}

	state := a.book.Snapshot()
	total := state.TotalUSD.InexactFloat64()
	if total <= 0 {
		res.Score = scoreUnknown
		res.Confidence = confidenceUnknown
		return res, nil
	}

	snap := a.snap()
	var correlatedUSD float64
	for posPair, pos := range state.Positions {
		corr := 1.0
		if posPair != opp.Pair() {
			if snap == nil {
				continue
			}
			corr = snap.Correlation(opp.Pair(), posPair)
		}
		if math.Abs(corr) >= a.cfg.CorrelationThreshold {
			correlatedUSD += pos.AmountUSD.InexactFloat64()
		}
	}

	// Prospective exposure: what the books would look like with this trade
	// on.
	fraction := (correlatedUSD + amountUSD) / total
	res.Factors["correlated_exposure"] = fraction

	res.Score = clamp01(fraction / (2 * a.cfg.CorrelatedExposureLimit))
	res.Confidence = 0.8
	if snap != nil {
		res.Factors["avg_correlation"] = snap.AvgCorrelation
	}
	if fraction > a.cfg.CorrelatedExposureLimit {
		res.Warnings = append(res.Warnings, "correlated exposure would exceed the configured limit")
	}
	return res, nil
}
