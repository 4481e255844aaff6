package portfolio

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/flasharb/risk-engine/internal/market"
	"github.com/flasharb/risk-engine/pkg/config"
	"github.com/flasharb/risk-engine/pkg/types"
)

// Limiting factor labels reported on sizing results.
const (
	LimitRequested   = "requested_amount"
	LimitHardCap     = "hard_cap"
	LimitKelly       = "kelly"
	LimitLiquidity   = "liquidity_impact"
	LimitVolatility  = "volatility"
	LimitCorrelation = "correlation"
	LimitLossStreak  = "loss_streak"
)

// SizingResult is the allocator's answer for one opportunity. Candidates
// holds every computed size so callers can see which constraint bound.
type SizingResult struct {
	OptimalUSD     float64
	LimitingFactor string
	Candidates     map[string]float64
	Rejected       bool
	Reason         string
}

// Allocator computes the capital-safe trade size for an opportunity as the
// minimum of independent candidate sizes. Each candidate encodes one
// constraint; the binding one is reported as the limiting factor.
type Allocator struct {
	cfg  config.SizingConfig
	book *Portfolio
	perf *PerformanceTracker
	log  zerolog.Logger
}

// NewAllocator creates an allocator over the given capital book and
// performance history.
func NewAllocator(cfg config.SizingConfig, book *Portfolio, perf *PerformanceTracker, log zerolog.Logger) *Allocator {
	return &Allocator{cfg: cfg, book: book, perf: perf, log: log}
}

// Size computes the optimal trade size for the opportunity. Either liquidity
// snapshot may be nil and the market snapshot may be stale or empty; missing
// data shrinks the size rather than failing the call.
func (a *Allocator) Size(opp *types.Opportunity, buy, sell *types.Liquidity, snap *market.Snapshot) *SizingResult {
	state := a.book.Snapshot()
	result := &SizingResult{Candidates: make(map[string]float64)}

	// Concurrency slots gate everything else. With no slot left there is no
	// size worth computing.
	remainingSlots := a.cfg.MaxConcurrentTrades - state.OpenTrades
	if remainingSlots <= 0 {
		result.Rejected = true
		result.Reason = "max concurrent trades reached"
		return result
	}

	total := state.TotalUSD.InexactFloat64()
	available := state.AvailableUSD.InexactFloat64()

	hardCap := math.Min(opp.AmountUSD, a.cfg.MaxTradeUSD)
	hardCap = math.Min(hardCap, available)
	hardCap = math.Min(hardCap, total*a.cfg.MaxPortfolioPct)
	hardCap = math.Min(hardCap, available/float64(remainingSlots))
	result.Candidates[LimitHardCap] = hardCap

	result.Candidates[LimitKelly] = a.kellySize(total)
	result.Candidates[LimitLiquidity] = a.liquiditySize(buy, sell)
	result.Candidates[LimitVolatility] = a.volatilitySize(total, opp.Pair(), snap)
	result.Candidates[LimitCorrelation] = a.correlationSize(total, opp.Pair(), state, snap)
	result.Candidates[LimitLossStreak] = a.lossAdjustedSize(total, state.ConsecutiveLosses)

	optimal := hardCap
	limiting := LimitHardCap
	if opp.AmountUSD <= hardCap {
		limiting = LimitRequested
	}
	for _, factor := range []string{LimitKelly, LimitLiquidity, LimitVolatility, LimitCorrelation, LimitLossStreak} {
		if c := result.Candidates[factor]; c < optimal {
			optimal = c
			limiting = factor
		}
	}

	if optimal < a.cfg.MinTradeUSD {
		result.Rejected = true
		result.Reason = "optimal size below minimum trade size"
		result.OptimalUSD = 0
		result.LimitingFactor = limiting
		return result
	}

	result.OptimalUSD = optimal
	result.LimitingFactor = limiting

	a.log.Debug().
		Str("opportunity", opp.ID).
		Float64("optimal_usd", optimal).
		Str("limiting_factor", limiting).
		Msg("trade size computed")

	return result
}

// kellySize converts rolling performance into a fractional-Kelly capital
// share. With no meaningful history or a degenerate edge the fraction floors
// at the configured minimum rather than going to zero: the engine has to
// keep trading to gather the statistics Kelly needs.
func (a *Allocator) kellySize(totalUSD float64) float64 {
	stats := a.perf.Stats()

	fraction := a.cfg.MinKellyFraction
	if stats.Samples >= 10 && stats.AvgLossUSD > 0 && stats.AvgWinUSD > 0 {
		b := stats.AvgWinUSD / stats.AvgLossUSD
		p := stats.WinRate
		q := 1 - p
		kelly := (b*p - q) / b
		fraction = kelly * a.cfg.KellyFraction
		if fraction < a.cfg.MinKellyFraction {
			fraction = a.cfg.MinKellyFraction
		}
		if fraction > a.cfg.MaxKellyFraction {
			fraction = a.cfg.MaxKellyFraction
		}
	}
	return fraction * totalUSD
}

// liquiditySize bounds the trade to a fraction of the thinner pool, with a
// safety buffer. Missing liquidity data on either side collapses the
// candidate to the minimum trade size.
func (a *Allocator) liquiditySize(buy, sell *types.Liquidity) float64 {
	if buy == nil || sell == nil || buy.TotalUSD <= 0 || sell.TotalUSD <= 0 {
		return a.cfg.MinTradeUSD
	}
	thinner := math.Min(buy.TotalUSD, sell.TotalUSD)
	return thinner * a.cfg.MaxLiquidityImpact * a.cfg.LiquidityBuffer
}

// volatilitySize scales the portfolio-share base size down in proportion to
// how far volatility exceeds the threshold.
func (a *Allocator) volatilitySize(totalUSD float64, pair string, snap *market.Snapshot) float64 {
	base := totalUSD * a.cfg.MaxPortfolioPct
	if snap == nil {
		return base
	}
	vol, ok := snap.PairVolatility(pair)
	if !ok || vol <= a.cfg.VolatilityThreshold {
		return base
	}
	return base * (a.cfg.VolatilityThreshold / vol)
}

// correlationSize caps the trade when existing exposure to correlated pairs
// already claims too much of the portfolio. Exposure to the same pair counts
// as fully correlated.
func (a *Allocator) correlationSize(totalUSD float64, pair string, state *State, snap *market.Snapshot) float64 {
	base := totalUSD * a.cfg.MaxPortfolioPct
	if totalUSD <= 0 {
		return base
	}

	var correlatedUSD float64
	for posPair, pos := range state.Positions {
		corr := 1.0
		if posPair != pair {
			if snap == nil {
				continue
			}
			corr = snap.Correlation(pair, posPair)
		}
		if math.Abs(corr) >= a.cfg.CorrelationThreshold {
			correlatedUSD += pos.AmountUSD.InexactFloat64()
		}
	}

	fraction := correlatedUSD / totalUSD
	if fraction <= a.cfg.CorrelatedExposureLimit {
		return base
	}
	return base * (a.cfg.CorrelatedExposureLimit / fraction)
}

// lossAdjustedSize halves the base size per consecutive loss, capped so a
// long streak cannot drive the candidate to effectively zero forever.
func (a *Allocator) lossAdjustedSize(totalUSD float64, consecutiveLosses int) float64 {
	base := totalUSD * a.cfg.MaxPortfolioPct
	if consecutiveLosses <= 0 {
		return base
	}
	streak := consecutiveLosses
	if streak > a.cfg.LossStreakCap {
		streak = a.cfg.LossStreakCap
	}
	return base * math.Pow(a.cfg.LossReductionFactor, float64(streak))
}
