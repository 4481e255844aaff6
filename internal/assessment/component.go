package assessment

import (
	"context"

	"github.com/flasharb/risk-engine/pkg/types"
)

// Component names. Used as weight keys, metric labels and health registry
// entries.
const (
	ComponentLiquidity   = "liquidity"
	ComponentVolatility  = "volatility"
	ComponentTechnical   = "technical"
	ComponentMarket      = "market_risk"
	ComponentExecution   = "execution"
	ComponentCorrelation = "correlation"
)

// ComponentResult is one assessor's contribution to the combined score.
// Score and Confidence are both in [0, 1]; higher score means riskier. An
// excluded result carries no score; its weight is redistributed over the
// components that answered.
type ComponentResult struct {
	Component  string             `json:"component"`
	Score      float64            `json:"score"`
	Confidence float64            `json:"confidence"`
	Excluded   bool               `json:"excluded,omitempty"`
	Factors    map[string]float64 `json:"factors,omitempty"`
	Warnings   []string           `json:"warnings,omitempty"`
}

// ComponentAssessor scores one dimension of risk for an opportunity.
// Implementations must be safe for concurrent use and must honor context
// cancellation on any provider call.
type ComponentAssessor interface {
	Name() string
	Assess(ctx context.Context, opp *types.Opportunity, amountUSD float64) (*ComponentResult, error)
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
