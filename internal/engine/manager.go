package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/flasharb/risk-engine/internal/assessment"
	"github.com/flasharb/risk-engine/internal/events"
	"github.com/flasharb/risk-engine/internal/logger"
	"github.com/flasharb/risk-engine/internal/market"
	"github.com/flasharb/risk-engine/internal/monitoring"
	"github.com/flasharb/risk-engine/internal/portfolio"
	"github.com/flasharb/risk-engine/internal/providers"
	"github.com/flasharb/risk-engine/internal/riskerr"
	"github.com/flasharb/risk-engine/internal/safety"
	"github.com/flasharb/risk-engine/internal/slippage"
	"github.com/flasharb/risk-engine/pkg/config"
	"github.com/flasharb/risk-engine/pkg/types"
)

// processedCap bounds the idempotency set for trade results.
const processedCap = 4096

// Manager orchestrates the full risk decision: safety gates first, then the
// concurrent assessment fan-out, then integration into a single decision.
// Every path out of AssessTradeRisk produces a decision; when in doubt the
// decision is a rejection.
type Manager struct {
	cfg      *config.RiskConfig
	log      zerolog.Logger
	bus      *events.Bus
	provider providers.MarketDataProvider

	monitor    *market.Monitor
	aggregator *assessment.Aggregator
	cache      *assessment.Cache
	slippage   *slippage.Model
	allocator  *portfolio.Allocator
	book       *portfolio.Portfolio
	perf       *portfolio.PerformanceTracker
	breakers   *safety.BreakerSet
	emergency  *safety.EmergencyStop
	audit      *safety.AuditLog
	health     *monitoring.HealthRegistry

	mu             sync.Mutex
	processed      map[string]struct{}
	processedOrder []string
}

// New wires the full risk engine from configuration and a market data
// provider.
func New(cfg *config.RiskConfig, provider providers.MarketDataProvider, log zerolog.Logger) *Manager {
	bus := events.NewBus()
	audit := safety.NewAuditLog()
	emergency := safety.NewEmergencyStop(bus, audit, logger.Component(log, "emergency_stop"))
	breakers := safety.NewBreakerSet(cfg.Breakers, bus, audit, emergency,
		logger.Component(log, "breakers"))
	health := monitoring.NewHealthRegistry(cfg.Engine.MaxRecentErrors, cfg.Engine.StalenessTimeout)
	monitor := market.NewMonitor(cfg.Market, provider, bus, logger.Component(log, "market_monitor"))
	book := portfolio.New(cfg.Engine.InitialCapitalUSD, logger.Component(log, "portfolio"))
	perf := portfolio.NewPerformanceTracker()

	snap := monitor.Snapshot
	components := []assessment.ComponentAssessor{
		assessment.NewLiquidityAssessor(provider),
		assessment.NewVolatilityAssessor(cfg.Market, snap),
		assessment.NewTechnicalAssessor(),
		assessment.NewMarketRiskAssessor(snap),
		assessment.NewExecutionAssessor(provider),
		assessment.NewCorrelationAssessor(cfg.Sizing, snap, book),
	}

	m := &Manager{
		cfg:      cfg,
		log:      logger.Component(log, "risk_engine"),
		bus:      bus,
		provider: provider,
		monitor:  monitor,
		aggregator: assessment.NewAggregator(cfg.Assessment, cfg.Engine.ComponentTimeout,
			components, health, logger.Component(log, "aggregator")),
		cache:     assessment.NewCache(cfg.Engine.CacheTTL, cfg.Engine.CacheMaxEntries),
		slippage:  slippage.NewModel(cfg.Slippage, logger.Component(log, "slippage")),
		book:      book,
		perf:      perf,
		breakers:  breakers,
		emergency: emergency,
		audit:     audit,
		health:    health,
		processed: make(map[string]struct{}),
	}
	m.allocator = portfolio.NewAllocator(cfg.Sizing, book, perf, logger.Component(log, "allocator"))

	health.Register("market_monitor")
	monitoring.UpdateCapital(cfg.Engine.InitialCapitalUSD, cfg.Engine.InitialCapitalUSD, 0)

	return m
}

// Bus exposes the engine event bus for subscribers.
func (m *Manager) Bus() *events.Bus { return m.bus }

// Audit exposes the safety audit log.
func (m *Manager) Audit() *safety.AuditLog { return m.audit }

// Run drives the engine's periodic work until the context is cancelled: the
// market monitor refresh, the health staleness sweep and cache eviction.
func (m *Manager) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(m.cfg.Engine.MarketRefresh)
		defer ticker.Stop()
		m.tickMarket(gctx)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				m.tickMarket(gctx)
			}
		}
	})
	g.Go(func() error {
		ticker := time.NewTicker(m.cfg.Engine.HealthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				m.health.Sweep()
			}
		}
	})
	g.Go(func() error {
		ticker := time.NewTicker(m.cfg.Engine.CacheTTL)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				m.cache.Sweep()
			}
		}
	})

	m.log.Info().
		Float64("initial_capital_usd", m.cfg.Engine.InitialCapitalUSD).
		Dur("overall_deadline", m.cfg.Engine.OverallDeadline).
		Msg("risk engine running")

	return g.Wait()
}

// tickMarket refreshes market conditions and feeds the outcome into the
// health registry, so a wholesale feed outage eventually flips the monitor
// unhealthy instead of leaving it frozen on stale regimes.
func (m *Manager) tickMarket(ctx context.Context) {
	if err := m.monitor.Tick(ctx); err != nil {
		m.health.RecordError("market_monitor", err)
		return
	}
	m.health.RecordSuccess("market_monitor")
}

// AssessTradeRisk produces the trade decision for one opportunity. The whole
// evaluation runs under the overall deadline; if it cannot finish in time the
// decision is a maximum-risk rejection rather than an error.
func (m *Manager) AssessTradeRisk(ctx context.Context, opp *types.Opportunity) (*types.TradeDecision, error) {
	if opp == nil || opp.ID == "" {
		return nil, riskerr.NewValidationError("risk_engine", "assess", "opportunity must have an id")
	}
	if opp.AmountUSD <= 0 {
		return nil, riskerr.NewValidationError("risk_engine", "assess", "opportunity amount must be positive")
	}

	// Safety gates run before any assessment work is spent.
	if m.emergency.Active() {
		state := m.emergency.State()
		return m.reject(opp, "emergency stop active: "+state.Reason, types.RiskLevelCritical, 1.0), nil
	}
	if ok, reason := m.breakers.CanTrade(); !ok {
		return m.reject(opp, reason, types.RiskLevelCritical, 1.0), nil
	}

	deadline, cancel := context.WithTimeout(ctx, m.cfg.Engine.OverallDeadline)
	defer cancel()

	type outcome struct {
		decision *types.TradeDecision
	}
	done := make(chan outcome, 1)
	go func() {
		done <- outcome{decision: m.evaluate(deadline, opp)}
	}()

	select {
	case out := <-done:
		return m.commit(opp, out.decision), nil
	case <-deadline.Done():
		m.log.Error().
			Str("opportunity", opp.ID).
			Dur("deadline", m.cfg.Engine.OverallDeadline).
			Msg("assessment deadline exceeded, failing safe")
		monitoring.RecordDecision("timeout", 1.0)
		return &types.TradeDecision{
			Approved:     false,
			Reason:       "assessment deadline exceeded",
			OverallScore: 1.0,
			RiskLevel:    types.RiskLevelCritical,
			Degraded:     true,
			Timestamp:    time.Now(),
		}, nil
	}
}

// evaluate runs the concurrent assessment fan-out and integrates the
// results.
func (m *Manager) evaluate(ctx context.Context, opp *types.Opportunity) *types.TradeDecision {
	var (
		combined *assessment.Assessment
		buy      *types.Liquidity
		sell     *types.Liquidity
		net      *types.NetworkConditions
	)

	// Liquidity and network conditions are shared inputs for the slippage
	// model and the allocator; fetch them alongside the component fan-out.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		key := assessment.Key(opp, opp.AmountUSD)
		if cached, ok := m.cache.Get(key); ok {
			combined = cached
			return nil
		}
		combined = m.aggregator.Assess(gctx, opp, opp.AmountUSD)
		m.cache.Put(key, combined)
		return nil
	})
	g.Go(func() error {
		cctx, cancel := context.WithTimeout(gctx, m.cfg.Engine.ComponentTimeout)
		defer cancel()
		if l, err := m.provider.GetLiquidity(cctx, opp.SourceVenue, opp.TokenA, opp.TokenB); err == nil {
			buy = l
		}
		if l, err := m.provider.GetLiquidity(cctx, opp.TargetVenue, opp.TokenA, opp.TokenB); err == nil {
			sell = l
		}
		if n, err := m.provider.GetNetworkConditions(cctx); err == nil {
			net = n
		}
		return nil
	})
	_ = g.Wait()

	snap := m.monitor.Snapshot()
	pairVol, _ := snap.PairVolatility(opp.Pair())

	// Slippage and sizing are pure computations over the inputs fetched
	// above and cannot block, so they run inline rather than as members of
	// the fan-out with timeouts of their own.
	slip := m.slippage.Estimate(opp, opp.AmountUSD, buy, sell, net, pairVol)
	sizing := m.allocator.Size(opp, buy, sell, snap)

	return m.integrate(combined, slip, sizing)
}

// integrate folds the assessment, slippage and sizing verdicts into a
// decision. Capital is untouched here: the evaluation races the overall
// deadline, and only a decision that wins that race may reserve, through
// commit.
func (m *Manager) integrate(combined *assessment.Assessment,
	slip *slippage.Calculation, sizing *portfolio.SizingResult) *types.TradeDecision {

	decision := &types.TradeDecision{
		AssessmentID:      combined.ID,
		OverallScore:      combined.OverallScore,
		RiskLevel:         combined.RiskLevel,
		Confidence:        combined.Confidence,
		MaxTradeSize:      sizing.OptimalUSD,
		LimitingFactor:    sizing.LimitingFactor,
		SlippageTolerance: slip.Final,
		Warnings:          combined.Warnings,
		Degraded:          combined.Degraded,
		Timestamp:         time.Now(),
	}

	if combined.Degraded {
		decision.Restrictions = append(decision.Restrictions, types.Restriction{
			Source:      "aggregator",
			Description: "one or more risk components were unavailable and excluded from the score",
			Severity:    "medium",
		})
	}
	if slip.Recommendation == slippage.RecommendReject {
		decision.Restrictions = append(decision.Restrictions, types.Restriction{
			Source:      "slippage",
			Description: "estimated slippage at or beyond the maximum tolerance",
			Severity:    "high",
		})
	}
	if slip.Recommendation == slippage.RecommendReduceSize {
		decision.Restrictions = append(decision.Restrictions, types.Restriction{
			Source:      "slippage",
			Description: "estimated slippage consumes too much of the expected margin",
			Severity:    "medium",
		})
	}
	if sizing.Rejected {
		decision.Restrictions = append(decision.Restrictions, types.Restriction{
			Source:      "allocator",
			Description: sizing.Reason,
			Severity:    "high",
		})
	}

	switch {
	case combined.OverallScore > m.cfg.Assessment.MaxApprovalScore:
		decision.Reason = "overall risk score exceeds the approval ceiling"
	case hasHighSeverity(decision.Restrictions):
		decision.Reason = "blocking restriction present"
	default:
		decision.Approved = true
		decision.Reason = "risk within configured limits"
	}

	return decision
}

// commit finalizes the decision the caller will actually receive. Capital is
// reserved only here, after the decision has beaten the overall deadline; an
// evaluation that finishes late is discarded without ever touching the books.
func (m *Manager) commit(opp *types.Opportunity, decision *types.TradeDecision) *types.TradeDecision {
	if decision.Approved {
		if err := m.book.Reserve(opp.ID, opp.Pair(), decision.MaxTradeSize); err != nil {
			decision.Approved = false
			decision.Reason = "capital reservation failed: " + err.Error()
		}
	}

	outcome := "rejected"
	if decision.Approved {
		outcome = "approved"
	}
	monitoring.RecordDecision(outcome, decision.OverallScore)
	m.publishCapital()
	m.bus.Publish(events.EventRiskAssessment, decision)

	m.log.Info().
		Str("opportunity", opp.ID).
		Str("pair", opp.Pair()).
		Bool("approved", decision.Approved).
		Str("reason", decision.Reason).
		Float64("score", decision.OverallScore).
		Float64("max_trade_size", decision.MaxTradeSize).
		Str("limiting_factor", decision.LimitingFactor).
		Float64("slippage_tolerance", decision.SlippageTolerance).
		Msg("trade decision")

	return decision
}

// ProcessTradeResult settles a completed trade: capital release, performance
// recording and breaker evaluation. Processing the same trade id twice is a
// no-op; the first settlement wins.
func (m *Manager) ProcessTradeResult(result *types.TradeResult) error {
	if result == nil || result.TradeID == "" {
		return riskerr.NewValidationError("risk_engine", "process_result", "trade result must have a trade id")
	}

	// The seen-check, the release and the processed mark stay under one lock
	// so concurrent replays of the same trade id settle exactly once and
	// every replay gets the idempotent no-op, not an invariant error.
	m.mu.Lock()
	if _, seen := m.processed[result.TradeID]; seen {
		m.mu.Unlock()
		m.log.Debug().Str("trade_id", result.TradeID).Msg("duplicate trade result ignored")
		return nil
	}
	if err := m.book.Release(result.TradeID, result.PnLUSD); err != nil {
		m.mu.Unlock()
		return err
	}
	m.markProcessedLocked(result.TradeID)
	m.mu.Unlock()

	m.perf.Record(result.PnLUSD)
	m.breakers.Evaluate(m.book.Snapshot())
	m.publishCapital()

	m.log.Info().
		Str("trade_id", result.TradeID).
		Bool("success", result.Success).
		Float64("pnl_usd", result.PnLUSD).
		Float64("actual_slippage", result.ActualSlippage).
		Msg("trade result settled")

	return nil
}

// EmergencyShutdown engages the emergency stop on operator request.
func (m *Manager) EmergencyShutdown(reason, actor string) {
	m.emergency.Activate(reason, actor)
}

// ResetEmergencyStop clears the emergency stop and re-arms all breakers.
func (m *Manager) ResetEmergencyStop(actor string) error {
	if err := m.emergency.Deactivate(actor); err != nil {
		return err
	}
	m.breakers.ResetAll(actor)
	return nil
}

// markProcessedLocked records a settled trade id. Caller holds m.mu.
func (m *Manager) markProcessedLocked(tradeID string) {
	m.processed[tradeID] = struct{}{}
	m.processedOrder = append(m.processedOrder, tradeID)
	for len(m.processedOrder) > processedCap {
		oldest := m.processedOrder[0]
		m.processedOrder = m.processedOrder[1:]
		delete(m.processed, oldest)
	}
}

func (m *Manager) publishCapital() {
	state := m.book.Snapshot()
	monitoring.UpdateCapital(
		state.TotalUSD.InexactFloat64(),
		state.AvailableUSD.InexactFloat64(),
		state.ReservedUSD.InexactFloat64(),
	)
}

// reject builds a terminal rejection without touching capital.
func (m *Manager) reject(opp *types.Opportunity, reason string, level types.RiskLevel, score float64) *types.TradeDecision {
	decision := &types.TradeDecision{
		Approved:     false,
		Reason:       reason,
		OverallScore: score,
		RiskLevel:    level,
		Timestamp:    time.Now(),
	}
	m.log.Warn().
		Str("opportunity", opp.ID).
		Str("reason", reason).
		Msg("trade rejected before assessment")
	monitoring.RecordDecision("rejected", score)
	return decision
}

func hasHighSeverity(restrictions []types.Restriction) bool {
	for _, r := range restrictions {
		if r.Severity == "high" {
			return true
		}
	}
	return false
}
