package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flasharb/risk-engine/internal/providers"
	"github.com/flasharb/risk-engine/internal/riskerr"
	"github.com/flasharb/risk-engine/pkg/config"
	"github.com/flasharb/risk-engine/pkg/types"
)

func seededProvider() *providers.SimProvider {
	provider := providers.NewSimProvider()
	for _, pair := range [][2]string{{"WETH", "USDC"}, {"WBTC", "USDC"}} {
		for _, venue := range []string{"uniswap_v3", "sushiswap"} {
			provider.SetLiquidity(venue, pair[0], pair[1], types.Liquidity{
				TotalUSD:      2_000_000,
				Depth:         0.8,
				Concentration: 0.2,
			})
		}
	}
	provider.SetFlatPriceSeries("WETH", 3200, 48)
	provider.SetFlatPriceSeries("WBTC", 64000, 48)
	provider.SetNetworkConditions(types.NetworkConditions{Congestion: 0.2, GasVolatility: 0.15})
	return provider
}

func newTestManager(t *testing.T, mutate func(*config.RiskConfig)) (*Manager, *providers.SimProvider) {
	t.Helper()
	cfg := config.DefaultRiskConfig()
	cfg.Engine.ComponentTimeout = 500 * time.Millisecond
	cfg.Engine.OverallDeadline = 2 * time.Second
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	provider := seededProvider()
	m := New(cfg, provider, zerolog.Nop())
	m.tickMarket(context.Background())
	return m, provider
}

func goodOpportunity(id string) *types.Opportunity {
	return &types.Opportunity{
		ID:             id,
		TokenA:         "WETH",
		TokenB:         "USDC",
		SourceVenue:    "uniswap_v3",
		TargetVenue:    "sushiswap",
		AmountUSD:      10_000,
		ExpectedProfit: 100,
		EstExecution:   10 * time.Second,
		RouteHops:      2,
		DetectedAt:     time.Now(),
	}
}

func TestManager_AssessTradeRisk_ApprovesAndReserves(t *testing.T) {
	m, _ := newTestManager(t, nil)

	decision, err := m.AssessTradeRisk(context.Background(), goodOpportunity("opp-1"))
	require.NoError(t, err)

	assert.True(t, decision.Approved, "reason: %s", decision.Reason)
	assert.Less(t, decision.OverallScore, config.DefaultMaxApprovalScore)
	assert.Greater(t, decision.MaxTradeSize, 0.0)
	assert.LessOrEqual(t, decision.SlippageTolerance, config.DefaultMaxSlippageTolerance)
	assert.True(t, m.book.HasReservation("opp-1"))
}

func TestManager_AssessTradeRisk_Validation(t *testing.T) {
	m, _ := newTestManager(t, nil)

	_, err := m.AssessTradeRisk(context.Background(), nil)
	assert.Error(t, err)

	opp := goodOpportunity("opp-1")
	opp.AmountUSD = 0
	_, err = m.AssessTradeRisk(context.Background(), opp)
	assert.Error(t, err)
}

func TestManager_AssessTradeRisk_EmergencyStopBlocks(t *testing.T) {
	m, _ := newTestManager(t, nil)
	m.EmergencyShutdown("manual halt", "operator")

	decision, err := m.AssessTradeRisk(context.Background(), goodOpportunity("opp-1"))
	require.NoError(t, err)

	assert.False(t, decision.Approved)
	assert.Contains(t, decision.Reason, "emergency stop")
	assert.Equal(t, types.RiskLevelCritical, decision.RiskLevel)
	assert.False(t, m.book.HasReservation("opp-1"))
}

func TestManager_ResetEmergencyStop_RestoresTrading(t *testing.T) {
	m, _ := newTestManager(t, nil)
	m.EmergencyShutdown("drill", "operator")
	require.NoError(t, m.ResetEmergencyStop("operator"))

	decision, err := m.AssessTradeRisk(context.Background(), goodOpportunity("opp-1"))
	require.NoError(t, err)
	assert.True(t, decision.Approved, "reason: %s", decision.Reason)
}

func TestManager_ProcessTradeResult_Idempotent(t *testing.T) {
	m, _ := newTestManager(t, nil)

	decision, err := m.AssessTradeRisk(context.Background(), goodOpportunity("opp-1"))
	require.NoError(t, err)
	require.True(t, decision.Approved, "reason: %s", decision.Reason)

	result := &types.TradeResult{TradeID: "opp-1", Pair: "WETH/USDC", Success: false, PnLUSD: -50}
	require.NoError(t, m.ProcessTradeResult(result))
	availableAfterFirst := m.book.Snapshot().AvailableUSD

	// Replayed settlement is a no-op: the books and the performance window
	// must not move again.
	require.NoError(t, m.ProcessTradeResult(result))
	assert.True(t, availableAfterFirst.Equal(m.book.Snapshot().AvailableUSD))
	assert.Equal(t, 1, m.perf.Stats().Samples)
	assert.Equal(t, 1, m.book.Snapshot().ConsecutiveLosses)
}

func TestManager_ProcessTradeResult_ConcurrentReplays(t *testing.T) {
	m, _ := newTestManager(t, nil)

	decision, err := m.AssessTradeRisk(context.Background(), goodOpportunity("opp-1"))
	require.NoError(t, err)
	require.True(t, decision.Approved, "reason: %s", decision.Reason)

	result := &types.TradeResult{TradeID: "opp-1", Pair: "WETH/USDC", Success: true, PnLUSD: 25}

	// Every replay, whatever the interleaving, gets the idempotent no-op and
	// the trade settles exactly once.
	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = m.ProcessTradeResult(result)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, m.perf.Stats().Samples)
	state := m.book.Snapshot()
	assert.True(t, state.AvailableUSD.Equal(state.TotalUSD))
}

func TestManager_MarketFeedOutageDegradesMonitorHealth(t *testing.T) {
	m, provider := newTestManager(t, func(cfg *config.RiskConfig) {
		cfg.Engine.MaxRecentErrors = 2
	})
	require.True(t, m.health.IsHealthy("market_monitor"))

	provider.FailPrices(true)
	m.tickMarket(context.Background())
	m.tickMarket(context.Background())
	assert.False(t, m.health.IsHealthy("market_monitor"))

	// A successful refresh decays the error count back under the threshold.
	provider.FailPrices(false)
	m.tickMarket(context.Background())
	assert.True(t, m.health.IsHealthy("market_monitor"))
}

func TestManager_ProcessTradeResult_UnknownTrade(t *testing.T) {
	m, _ := newTestManager(t, nil)

	err := m.ProcessTradeResult(&types.TradeResult{TradeID: "ghost", PnLUSD: 100})
	require.Error(t, err)

	var engineErr *riskerr.EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, riskerr.CategoryInvariant, engineErr.Category)
}

func TestManager_DailyLossBreakerHaltsTrading(t *testing.T) {
	m, _ := newTestManager(t, func(cfg *config.RiskConfig) {
		cfg.Breakers.MaxDailyLossUSD = 100
	})

	decision, err := m.AssessTradeRisk(context.Background(), goodOpportunity("opp-1"))
	require.NoError(t, err)
	require.True(t, decision.Approved, "reason: %s", decision.Reason)

	require.NoError(t, m.ProcessTradeResult(&types.TradeResult{
		TradeID: "opp-1", Pair: "WETH/USDC", Success: false, PnLUSD: -150,
	}))

	// The daily loss breaker is critical, so the kill switch engages and the
	// next opportunity is rejected before assessment.
	next, err := m.AssessTradeRisk(context.Background(), goodOpportunity("opp-2"))
	require.NoError(t, err)
	assert.False(t, next.Approved)
	assert.Contains(t, next.Reason, "emergency stop")
	assert.False(t, m.book.HasReservation("opp-2"))
}

func TestManager_MissingDataDegradesConservatively(t *testing.T) {
	cfg := config.DefaultRiskConfig()
	cfg.Engine.ComponentTimeout = 500 * time.Millisecond
	cfg.Engine.OverallDeadline = 2 * time.Second

	// No fixtures and no monitor tick: liquidity, volatility and market data
	// are all missing.
	m := New(cfg, providers.NewSimProvider(), zerolog.Nop())

	decision, err := m.AssessTradeRisk(context.Background(), goodOpportunity("opp-1"))
	require.NoError(t, err)

	assert.True(t, decision.Degraded)
	assert.Greater(t, decision.OverallScore, 0.5)
	assert.NotEmpty(t, decision.Warnings)
	if decision.Approved {
		// Blind approval is tolerable only at the minimum trade size.
		assert.LessOrEqual(t, decision.MaxTradeSize, config.DefaultMinTradeUSD)
	}
}

func TestManager_CachedAssessmentReused(t *testing.T) {
	m, provider := newTestManager(t, nil)

	first, err := m.AssessTradeRisk(context.Background(), goodOpportunity("opp-1"))
	require.NoError(t, err)
	require.NoError(t, m.ProcessTradeResult(&types.TradeResult{TradeID: "opp-1", PnLUSD: 10}))

	// Even with the feeds dark, the cached combined assessment still serves
	// a repeat of the same opportunity within the TTL.
	provider.FailLiquidity(true)
	provider.FailPrices(true)

	second, err := m.AssessTradeRisk(context.Background(), goodOpportunity("opp-1"))
	require.NoError(t, err)
	assert.Equal(t, first.AssessmentID, second.AssessmentID)
}

func TestManager_Timeout_FailsSafe(t *testing.T) {
	cfg := config.DefaultRiskConfig()
	cfg.Engine.ComponentTimeout = 40 * time.Millisecond
	cfg.Engine.OverallDeadline = 60 * time.Millisecond

	m := New(cfg, &slowProvider{delay: 2 * time.Second}, zerolog.Nop())

	start := time.Now()
	decision, err := m.AssessTradeRisk(context.Background(), goodOpportunity("opp-1"))
	require.NoError(t, err)

	assert.False(t, decision.Approved)
	assert.Contains(t, decision.Reason, "deadline")
	assert.Equal(t, 1.0, decision.OverallScore)
	assert.Equal(t, types.RiskLevelCritical, decision.RiskLevel)
	assert.Less(t, time.Since(start), time.Second)

	// The late-finishing evaluation must never strand a reservation the
	// caller was told was rejected.
	time.Sleep(100 * time.Millisecond)
	assert.False(t, m.book.HasReservation("opp-1"))
	state := m.book.Snapshot()
	assert.True(t, state.AvailableUSD.Equal(state.TotalUSD))
}

func TestManager_GetSystemStatus(t *testing.T) {
	m, _ := newTestManager(t, nil)

	status := m.GetSystemStatus()
	require.NotNil(t, status)
	assert.True(t, status.TradingAllowed)
	assert.False(t, status.Emergency.Active)
	assert.Len(t, status.Breakers, 4)
	assert.Equal(t, 100_000.0, status.Portfolio.TotalUSD.InexactFloat64())
	assert.NotEmpty(t, status.Market.Pairs)
	assert.GreaterOrEqual(t, status.SystemRiskScore, 0.0)
	assert.LessOrEqual(t, status.SystemRiskScore, 1.0)
	assert.NotEmpty(t, RenderStatus(status))

	m.EmergencyShutdown("drill", "operator")
	status = m.GetSystemStatus()
	assert.False(t, status.TradingAllowed)
	assert.Contains(t, status.BlockedReason, "emergency")
}

func TestManager_ConsecutiveLossBreakerCoolsDown(t *testing.T) {
	m, _ := newTestManager(t, func(cfg *config.RiskConfig) {
		cfg.Breakers.MaxConsecutiveLosses = 2
		cfg.Breakers.CooldownPeriod = 20 * time.Millisecond
		// Keep the loss amounts clear of the daily loss and drawdown limits
		// so only the streak breaker is in play.
		cfg.Breakers.MaxDailyLossUSD = 1_000_000
		cfg.Breakers.MaxDrawdownPct = 0.99
	})

	for i, id := range []string{"l-1", "l-2"} {
		opp := goodOpportunity(id)
		decision, err := m.AssessTradeRisk(context.Background(), opp)
		require.NoError(t, err)
		require.True(t, decision.Approved, "trade %d reason: %s", i, decision.Reason)
		require.NoError(t, m.ProcessTradeResult(&types.TradeResult{
			TradeID: id, Pair: "WETH/USDC", Success: false, PnLUSD: -10,
		}))
	}

	blocked, err := m.AssessTradeRisk(context.Background(), goodOpportunity("l-3"))
	require.NoError(t, err)
	assert.False(t, blocked.Approved)
	assert.Contains(t, blocked.Reason, "cooling down")

	// Streak trips are not critical: the breaker re-arms after cooldown and
	// trading resumes on its own.
	time.Sleep(30 * time.Millisecond)
	resumed, err := m.AssessTradeRisk(context.Background(), goodOpportunity("l-4"))
	require.NoError(t, err)
	assert.True(t, resumed.Approved, "reason: %s", resumed.Reason)
}

// slowProvider ignores context cancellation, simulating a hung feed. Only
// the overall deadline can cut an assessment short against it.
type slowProvider struct {
	delay time.Duration
}

func (p *slowProvider) wait() error {
	time.Sleep(p.delay)
	return errors.New("slow provider")
}

func (p *slowProvider) GetLiquidity(context.Context, string, string, string) (*types.Liquidity, error) {
	return nil, p.wait()
}

func (p *slowProvider) GetPriceHistory(context.Context, string, time.Duration) ([]types.PricePoint, error) {
	return nil, p.wait()
}

func (p *slowProvider) GetNetworkConditions(context.Context) (*types.NetworkConditions, error) {
	return nil, p.wait()
}
