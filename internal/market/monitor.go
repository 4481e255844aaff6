package market

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/flasharb/risk-engine/internal/events"
	"github.com/flasharb/risk-engine/internal/providers"
	"github.com/flasharb/risk-engine/internal/riskerr"
	"github.com/flasharb/risk-engine/pkg/config"
)

// VolatilityRegime buckets rolling volatility.
type VolatilityRegime int

const (
	VolLow VolatilityRegime = iota
	VolNormal
	VolHigh
	VolExtreme
)

func (r VolatilityRegime) String() string {
	switch r {
	case VolLow:
		return "LOW"
	case VolNormal:
		return "NORMAL"
	case VolHigh:
		return "HIGH"
	case VolExtreme:
		return "EXTREME"
	default:
		return "UNKNOWN"
	}
}

// LiquidityRegime buckets the liquidity health score.
type LiquidityRegime int

const (
	LiqCritical LiquidityRegime = iota
	LiqLow
	LiqNormal
	LiqHigh
)

func (r LiquidityRegime) String() string {
	switch r {
	case LiqCritical:
		return "CRITICAL"
	case LiqLow:
		return "LOW"
	case LiqNormal:
		return "NORMAL"
	case LiqHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// Saturation point for the liquidity size score: a pair with this much
// total liquidity across venues scores 0.5 on the size component.
const liquiditySaturationUSD = 1_000_000.0

// PairCondition is the current market condition for one tracked pair.
type PairCondition struct {
	Pair            string
	Volatility      float64
	VolRegime       VolatilityRegime
	LiquidityHealth float64
	LiqRegime       LiquidityRegime
	TotalLiquidity  float64
	UpdatedAt       time.Time
}

// Snapshot is an immutable copy of all monitor state, safe to share across
// concurrent assessments.
type Snapshot struct {
	Pairs          map[string]PairCondition
	Correlations   map[string]float64
	AvgCorrelation float64
	TakenAt        time.Time
}

// PairVolatility returns the tracked volatility for a pair, if known.
func (s *Snapshot) PairVolatility(pair string) (float64, bool) {
	c, ok := s.Pairs[pair]
	if !ok {
		return 0, false
	}
	return c.Volatility, true
}

// Correlation returns the tracked correlation between two pairs (0 if
// unknown).
func (s *Snapshot) Correlation(pairA, pairB string) float64 {
	if pairA == pairB {
		return 1
	}
	return s.Correlations[correlationKey(pairA, pairB)]
}

func correlationKey(pairA, pairB string) string {
	if pairA > pairB {
		pairA, pairB = pairB, pairA
	}
	return pairA + "|" + pairB
}

// Monitor tracks rolling volatility, liquidity health and pairwise
// correlation for the configured pairs, and emits regime-change events on
// threshold crossings. A failed update for one pair or venue is logged and
// skipped; the tick as a whole only errors when every tracked pair fails.
type Monitor struct {
	cfg      config.MarketConfig
	provider providers.MarketDataProvider
	bus      *events.Bus
	log      zerolog.Logger

	mu           sync.RWMutex
	pairs        map[string]*PairCondition
	returns      map[string][]float64
	correlations map[string]float64
}

// NewMonitor creates a market condition monitor.
func NewMonitor(cfg config.MarketConfig, provider providers.MarketDataProvider, bus *events.Bus, log zerolog.Logger) *Monitor {
	return &Monitor{
		cfg:          cfg,
		provider:     provider,
		bus:          bus,
		log:          log,
		pairs:        make(map[string]*PairCondition),
		returns:      make(map[string][]float64),
		correlations: make(map[string]float64),
	}
}

// Tick recomputes volatility, liquidity health and correlations for all
// tracked pairs. It errors only when no tracked pair could be updated, so the
// caller can mark the monitor unhealthy on a wholesale feed outage.
func (m *Monitor) Tick(ctx context.Context) error {
	updated := 0
	for _, pair := range m.cfg.TrackedPairs {
		if err := m.updatePair(ctx, pair); err != nil {
			m.log.Warn().Err(err).Str("pair", pair).Msg("market condition update skipped")
			continue
		}
		updated++
	}
	m.updateCorrelations()

	if len(m.cfg.TrackedPairs) > 0 && updated == 0 {
		return riskerr.New(riskerr.CategoryDataUnavailable, "market_monitor", "tick",
			"no tracked pair could be updated")
	}
	return nil
}

func (m *Monitor) updatePair(ctx context.Context, pair string) error {
	base := strings.SplitN(pair, "/", 2)[0]

	history, err := m.provider.GetPriceHistory(ctx, base, m.cfg.HistoryWindow)
	if err != nil {
		return err
	}

	prices := make([]float64, len(history))
	for i, pt := range history {
		prices[i] = pt.Price
	}
	rets := returnsFromPrices(prices)
	if len(rets) > m.cfg.VolatilityWindow {
		rets = rets[len(rets)-m.cfg.VolatilityWindow:]
	}
	vol := stdDev(rets)

	health, totalLiq := m.liquidityHealth(ctx, pair)

	m.mu.Lock()
	cond, ok := m.pairs[pair]
	if !ok {
		cond = &PairCondition{Pair: pair, VolRegime: VolNormal, LiqRegime: LiqNormal}
		m.pairs[pair] = cond
	}
	prevVol := cond.VolRegime
	prevLiq := cond.LiqRegime

	cond.Volatility = vol
	cond.VolRegime = m.classifyVolatility(vol)
	cond.LiquidityHealth = health
	cond.LiqRegime = m.classifyLiquidity(health)
	cond.TotalLiquidity = totalLiq
	cond.UpdatedAt = time.Now()

	newVol := cond.VolRegime
	newLiq := cond.LiqRegime
	m.returns[pair] = rets
	m.mu.Unlock()

	if newVol != prevVol {
		m.log.Info().Str("pair", pair).
			Str("from", prevVol.String()).Str("to", newVol.String()).
			Float64("volatility", vol).
			Msg("volatility regime change")
		m.bus.Publish(events.EventVolatilityRegime, events.RegimeChangePayload{
			Pair: pair, From: prevVol.String(), To: newVol.String(), MetricValue: vol,
		})
	}
	if newLiq != prevLiq {
		m.log.Info().Str("pair", pair).
			Str("from", prevLiq.String()).Str("to", newLiq.String()).
			Float64("health", health).
			Msg("liquidity regime change")
		m.bus.Publish(events.EventLiquidityRegime, events.RegimeChangePayload{
			Pair: pair, From: prevLiq.String(), To: newLiq.String(), MetricValue: health,
		})
	}
	return nil
}

// liquidityHealth aggregates liquidity across venues into a 0-1 score
// penalized by low totals, poor depth and high concentration. A venue that
// fails to report is skipped.
func (m *Monitor) liquidityHealth(ctx context.Context, pair string) (score, totalUSD float64) {
	parts := strings.SplitN(pair, "/", 2)
	if len(parts) != 2 {
		return 0, 0
	}

	var depthSum, concSum float64
	var venueTotals []float64
	observed := 0
	for _, venue := range m.cfg.Venues {
		snap, err := m.provider.GetLiquidity(ctx, venue, parts[0], parts[1])
		if err != nil {
			m.log.Debug().Err(err).Str("venue", venue).Str("pair", pair).Msg("liquidity lookup failed")
			continue
		}
		totalUSD += snap.TotalUSD
		depthSum += snap.Depth
		concSum += snap.Concentration
		venueTotals = append(venueTotals, snap.TotalUSD)
		observed++
	}
	if observed == 0 {
		return 0, 0
	}

	sizeScore := totalUSD / (totalUSD + liquiditySaturationUSD)
	depthScore := depthSum / float64(observed)
	concentration := concSum / float64(observed)
	// Cross-venue concentration also counts: one venue holding everything
	// is fragile even if each pool reports itself as deep.
	if len(venueTotals) > 1 {
		concentration = (concentration + gini(venueTotals)) / 2
	}

	score = 0.5*sizeScore + 0.3*depthScore + 0.2*(1-concentration)
	return clamp01(score), totalUSD
}

func (m *Monitor) updateCorrelations() {
	m.mu.Lock()
	defer m.mu.Unlock()

	pairs := make([]string, 0, len(m.returns))
	for p := range m.returns {
		pairs = append(pairs, p)
	}
	sort.Strings(pairs)

	for i := 0; i < len(pairs); i++ {
		for j := i + 1; j < len(pairs); j++ {
			a, b := m.returns[pairs[i]], m.returns[pairs[j]]
			n := len(a)
			if len(b) < n {
				n = len(b)
			}
			if n < 2 {
				continue
			}
			corr := pearson(a[len(a)-n:], b[len(b)-n:])
			m.correlations[correlationKey(pairs[i], pairs[j])] = corr
		}
	}
}

func (m *Monitor) classifyVolatility(vol float64) VolatilityRegime {
	switch {
	case vol < m.cfg.VolNormalFloor:
		return VolLow
	case vol < m.cfg.VolHighFloor:
		return VolNormal
	case vol < m.cfg.VolExtremeFloor:
		return VolHigh
	default:
		return VolExtreme
	}
}

func (m *Monitor) classifyLiquidity(health float64) LiquidityRegime {
	switch {
	case health < m.cfg.LiqCriticalCeiling:
		return LiqCritical
	case health < m.cfg.LiqLowCeiling:
		return LiqLow
	case health < m.cfg.LiqNormalCeiling:
		return LiqNormal
	default:
		return LiqHigh
	}
}

// Snapshot returns an immutable copy of the monitor state.
func (m *Monitor) Snapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := &Snapshot{
		Pairs:        make(map[string]PairCondition, len(m.pairs)),
		Correlations: make(map[string]float64, len(m.correlations)),
		TakenAt:      time.Now(),
	}
	for k, v := range m.pairs {
		snap.Pairs[k] = *v
	}
	var sum float64
	for k, v := range m.correlations {
		snap.Correlations[k] = v
		sum += v
	}
	if len(m.correlations) > 0 {
		snap.AvgCorrelation = sum / float64(len(m.correlations))
	}
	return snap
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
