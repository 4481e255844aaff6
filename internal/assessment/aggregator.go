package assessment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/flasharb/risk-engine/internal/monitoring"
	"github.com/flasharb/risk-engine/pkg/config"
	"github.com/flasharb/risk-engine/pkg/types"
)

// Assessment is the combined verdict of all risk components for one
// opportunity at one size.
type Assessment struct {
	ID            string                      `json:"id"`
	OpportunityID string                      `json:"opportunity_id"`
	AmountUSD     float64                     `json:"amount_usd"`
	OverallScore  float64                     `json:"overall_score"`
	RiskLevel     types.RiskLevel             `json:"risk_level"`
	Confidence    float64                     `json:"confidence"`
	Components    map[string]*ComponentResult `json:"components"`
	Warnings      []string                    `json:"warnings,omitempty"`
	Degraded      bool                        `json:"degraded"`
	Timestamp     time.Time                   `json:"timestamp"`
}

// Aggregator fans an opportunity out to every registered component assessor
// and folds the results into a single weighted score. A component that fails,
// times out or is currently unhealthy is excluded from the combination and
// its weight redistributed over the components that answered; the assessment
// is marked degraded so sizing and restrictions stay conservative.
type Aggregator struct {
	cfg        config.AssessmentConfig
	timeout    time.Duration
	components []ComponentAssessor
	health     *monitoring.HealthRegistry
	log        zerolog.Logger
}

// NewAggregator wires the assessors into an aggregator. Components are
// registered with the health registry on construction.
func NewAggregator(cfg config.AssessmentConfig, timeout time.Duration,
	components []ComponentAssessor, health *monitoring.HealthRegistry, log zerolog.Logger) *Aggregator {

	for _, c := range components {
		health.Register(c.Name())
	}
	return &Aggregator{
		cfg:        cfg,
		timeout:    timeout,
		components: components,
		health:     health,
		log:        log,
	}
}

// Assess runs every component concurrently under the per-component timeout
// and combines their scores weighted by configuration.
func (a *Aggregator) Assess(ctx context.Context, opp *types.Opportunity, amountUSD float64) *Assessment {
	out := &Assessment{
		ID:            uuid.New().String(),
		OpportunityID: opp.ID,
		AmountUSD:     amountUSD,
		Components:    make(map[string]*ComponentResult, len(a.components)),
		Timestamp:     time.Now(),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for _, comp := range a.components {
		comp := comp
		if !a.health.IsHealthy(comp.Name()) {
			a.log.Warn().Str("component", comp.Name()).Msg("unhealthy risk component excluded")
			mu.Lock()
			out.Degraded = true
			out.Components[comp.Name()] = &ComponentResult{
				Component: comp.Name(),
				Excluded:  true,
				Warnings:  []string{comp.Name() + " excluded: component is unhealthy"},
			}
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, a.timeout)
			defer cancel()

			start := time.Now()
			res, err := comp.Assess(cctx, opp, amountUSD)
			monitoring.ObserveComponentLatency(comp.Name(), time.Since(start).Seconds())

			if err != nil {
				a.log.Warn().Err(err).Str("component", comp.Name()).Msg("risk component failed")
				a.health.RecordError(comp.Name(), err)
				monitoring.RecordComponentError(comp.Name())
				mu.Lock()
				out.Degraded = true
				out.Components[comp.Name()] = &ComponentResult{
					Component: comp.Name(),
					Excluded:  true,
					Warnings:  []string{comp.Name() + " assessment failed: " + err.Error()},
				}
				mu.Unlock()
				return nil
			}

			a.health.RecordSuccess(comp.Name())
			mu.Lock()
			out.Components[comp.Name()] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	a.combine(out)

	a.log.Debug().
		Str("assessment_id", out.ID).
		Str("opportunity", opp.ID).
		Float64("score", out.OverallScore).
		Str("risk_level", out.RiskLevel.String()).
		Float64("confidence", out.Confidence).
		Bool("degraded", out.Degraded).
		Msg("risk assessment combined")

	return out
}

// combine folds component results into the overall score, normalizing the
// weights over the components that actually scored and inflating the score
// when the least confident component is below the confidence floor. Excluded
// components contribute warnings only; with every component excluded the
// assessment is blind and scores maximum risk.
func (a *Aggregator) combine(out *Assessment) {
	weights := map[string]float64{
		ComponentLiquidity:   a.cfg.LiquidityWeight,
		ComponentVolatility:  a.cfg.VolatilityWeight,
		ComponentTechnical:   a.cfg.TechnicalWeight,
		ComponentMarket:      a.cfg.MarketWeight,
		ComponentExecution:   a.cfg.ExecutionWeight,
		ComponentCorrelation: a.cfg.CorrelationWeight,
	}

	var weightedSum, weightTotal float64
	minConfidence := 1.0
	for name, res := range out.Components {
		out.Warnings = append(out.Warnings, res.Warnings...)
		w, ok := weights[name]
		if !ok || res.Excluded {
			continue
		}
		weightedSum += res.Score * w
		weightTotal += w
		if res.Confidence < minConfidence {
			minConfidence = res.Confidence
		}
	}
	if weightTotal == 0 {
		out.OverallScore = 1.0
		out.Confidence = 0
		out.RiskLevel = types.RiskLevelCritical
		out.Degraded = true
		return
	}

	score := weightedSum / weightTotal
	out.Confidence = minConfidence

	// Low confidence inflates risk rather than discounting it.
	if minConfidence < a.cfg.LowConfidenceFloor {
		inflation := a.cfg.UncertaintyInflation * (1 - minConfidence/a.cfg.LowConfidenceFloor)
		score *= 1 + inflation
		out.Degraded = true
	}
	out.OverallScore = clamp01(score)
	out.RiskLevel = a.classify(out.OverallScore)
}

func (a *Aggregator) classify(score float64) types.RiskLevel {
	switch {
	case score < a.cfg.LowRiskCeiling:
		return types.RiskLevelLow
	case score < a.cfg.MediumRiskCeiling:
		return types.RiskLevelMedium
	case score < a.cfg.HighRiskCeiling:
		return types.RiskLevelHigh
	default:
		return types.RiskLevelCritical
	}
}
