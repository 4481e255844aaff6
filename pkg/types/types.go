package types

import "time"

// RiskLevel buckets an overall risk score into a coarse severity grade.
type RiskLevel int

const (
	RiskLevelLow RiskLevel = iota
	RiskLevelMedium
	RiskLevelHigh
	RiskLevelCritical
)

func (l RiskLevel) String() string {
	switch l {
	case RiskLevelLow:
		return "LOW"
	case RiskLevelMedium:
		return "MEDIUM"
	case RiskLevelHigh:
		return "HIGH"
	case RiskLevelCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Opportunity is a candidate arbitrage trade submitted for risk assessment.
// Immutable once submitted.
type Opportunity struct {
	ID            string        `json:"id"`
	TokenA        string        `json:"token_a"`
	TokenB        string        `json:"token_b"`
	SourceVenue   string        `json:"source_venue"`
	TargetVenue   string        `json:"target_venue"`
	AmountUSD     float64       `json:"amount_usd"`
	ExpectedProfit float64      `json:"expected_profit"`
	EstExecution  time.Duration `json:"est_execution"`
	RouteHops     int           `json:"route_hops"`
	DetectedAt    time.Time     `json:"detected_at"`
}

// Pair returns the canonical token pair key for the opportunity.
func (o *Opportunity) Pair() string {
	return o.TokenA + "/" + o.TokenB
}

// ProfitMargin returns expected profit as a fraction of trade size.
func (o *Opportunity) ProfitMargin() float64 {
	if o.AmountUSD <= 0 {
		return 0
	}
	return o.ExpectedProfit / o.AmountUSD
}

// TradeResult is reported back by the execution subsystem after a trade
// completes (or fails).
type TradeResult struct {
	TradeID        string    `json:"trade_id"`
	Pair           string    `json:"pair"`
	Success        bool      `json:"success"`
	PnLUSD         float64   `json:"pnl_usd"`
	ActualSlippage float64   `json:"actual_slippage"`
	GasUsedUSD     float64   `json:"gas_used_usd"`
	ClosedAt       time.Time `json:"closed_at"`
}

// TradeDecision is the orchestrator's verdict for one opportunity.
type TradeDecision struct {
	AssessmentID      string    `json:"assessment_id"`
	Approved          bool      `json:"approved"`
	Reason            string    `json:"reason"`
	OverallScore      float64   `json:"overall_score"`
	RiskLevel         RiskLevel `json:"risk_level"`
	Confidence        float64   `json:"confidence"`
	MaxTradeSize      float64   `json:"max_trade_size"`
	LimitingFactor    string    `json:"limiting_factor"`
	SlippageTolerance float64   `json:"slippage_tolerance"`
	Warnings          []string  `json:"warnings,omitempty"`
	Restrictions      []Restriction `json:"restrictions,omitempty"`
	Degraded          bool      `json:"degraded"`
	Timestamp         time.Time `json:"timestamp"`
}

// Restriction describes one rule that constrained or blocked a decision.
type Restriction struct {
	Source      string `json:"source"`
	Description string `json:"description"`
	Severity    string `json:"severity"` // "low", "medium", "high"
}

// Liquidity is a venue-side liquidity snapshot for a token pair.
type Liquidity struct {
	Venue         string    `json:"venue"`
	TotalUSD      float64   `json:"total_usd"`
	Depth         float64   `json:"depth"`         // 0-1, order book / pool depth quality
	Concentration float64   `json:"concentration"` // 0-1, Gini-like holder concentration
	ObservedAt    time.Time `json:"observed_at"`
}

// PricePoint is one observation in a price history series.
type PricePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
}

// NetworkConditions carries execution-environment signals used by the
// slippage model and the execution risk assessor.
type NetworkConditions struct {
	Congestion    float64   `json:"congestion"`     // 0-1
	GasVolatility float64   `json:"gas_volatility"` // 0-1
	ObservedAt    time.Time `json:"observed_at"`
}
