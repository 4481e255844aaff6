package market

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flasharb/risk-engine/internal/events"
	"github.com/flasharb/risk-engine/internal/providers"
	"github.com/flasharb/risk-engine/pkg/config"
	"github.com/flasharb/risk-engine/pkg/types"
)

func newTestMonitor(provider *providers.SimProvider) *Monitor {
	cfg := config.DefaultRiskConfig().Market
	cfg.TrackedPairs = []string{"WETH/USDC", "WBTC/USDC"}
	cfg.Venues = []string{"uniswap_v3", "sushiswap"}
	return NewMonitor(cfg, provider, events.NewBus(), zerolog.Nop())
}

func seedProvider(provider *providers.SimProvider) {
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
}

// sawtoothSeries alternates between two prices, producing large returns on
// every sample.
func sawtoothSeries(low, high float64, samples int) []types.PricePoint {
	series := make([]types.PricePoint, samples)
	now := time.Now()
	for i := range series {
		price := low
		if i%2 == 1 {
			price = high
		}
		series[i] = types.PricePoint{
			Timestamp: now.Add(-time.Duration(samples-i) * time.Hour),
			Price:     price,
		}
	}
	return series
}

func TestMonitor_FlatPrices_LowVolatility(t *testing.T) {
	provider := providers.NewSimProvider()
	seedProvider(provider)
	m := newTestMonitor(provider)

	require.NoError(t, m.Tick(context.Background()))

	snap := m.Snapshot()
	cond, ok := snap.Pairs["WETH/USDC"]
	require.True(t, ok)
	assert.Zero(t, cond.Volatility)
	assert.Equal(t, VolLow, cond.VolRegime)
}

func TestMonitor_SawtoothPrices_ExtremeRegime(t *testing.T) {
	provider := providers.NewSimProvider()
	seedProvider(provider)
	provider.SetPriceSeries("WETH", sawtoothSeries(3000, 3300, 48))
	m := newTestMonitor(provider)

	m.Tick(context.Background())

	vol, ok := m.Snapshot().PairVolatility("WETH/USDC")
	require.True(t, ok)
	assert.Greater(t, vol, config.DefaultVolExtremeFloor)
	assert.Equal(t, VolExtreme, m.Snapshot().Pairs["WETH/USDC"].VolRegime)
}

func TestMonitor_RegimeChangePublishesEvent(t *testing.T) {
	provider := providers.NewSimProvider()
	seedProvider(provider)
	bus := events.NewBus()
	cfg := config.DefaultRiskConfig().Market
	cfg.TrackedPairs = []string{"WETH/USDC"}
	cfg.Venues = []string{"uniswap_v3"}
	m := NewMonitor(cfg, provider, bus, zerolog.Nop())

	m.Tick(context.Background())

	received := make(chan events.Event, 4)
	bus.Subscribe("test", func(ev events.Event) {
		if ev.Type == events.EventVolatilityRegime {
			received <- ev
		}
	})

	provider.SetPriceSeries("WETH", sawtoothSeries(3000, 3300, 48))
	m.Tick(context.Background())

	select {
	case ev := <-received:
		payload, ok := ev.Payload.(events.RegimeChangePayload)
		require.True(t, ok)
		assert.Equal(t, "WETH/USDC", payload.Pair)
		assert.Equal(t, VolExtreme.String(), payload.To)
	case <-time.After(time.Second):
		t.Fatal("expected a volatility regime change event")
	}
}

func TestMonitor_Correlation_IdenticalSeries(t *testing.T) {
	provider := providers.NewSimProvider()
	seedProvider(provider)
	series := sawtoothSeries(100, 110, 48)
	provider.SetPriceSeries("WETH", series)
	provider.SetPriceSeries("WBTC", series)
	m := newTestMonitor(provider)

	m.Tick(context.Background())

	snap := m.Snapshot()
	assert.InDelta(t, 1.0, snap.Correlation("WETH/USDC", "WBTC/USDC"), 1e-9)
	assert.Equal(t, 1.0, snap.Correlation("WETH/USDC", "WETH/USDC"))
}

func TestMonitor_FailedPairSkipped(t *testing.T) {
	provider := providers.NewSimProvider()
	seedProvider(provider)
	m := newTestMonitor(provider)
	m.Tick(context.Background())

	// A wholesale feed outage keeps the previous conditions instead of
	// wiping them, and surfaces as a tick error so the caller can degrade
	// the monitor's health.
	provider.FailPrices(true)
	err := m.Tick(context.Background())
	require.Error(t, err)

	snap := m.Snapshot()
	assert.Contains(t, snap.Pairs, "WETH/USDC")
	assert.Contains(t, snap.Pairs, "WBTC/USDC")
}

func TestMonitor_PartialOutageTicksClean(t *testing.T) {
	// Only WETH has fixtures; the WBTC update fails but the tick still
	// counts as a successful refresh for the pair that answered.
	provider := providers.NewSimProvider()
	for _, venue := range []string{"uniswap_v3", "sushiswap"} {
		provider.SetLiquidity(venue, "WETH", "USDC", types.Liquidity{
			TotalUSD:      2_000_000,
			Depth:         0.8,
			Concentration: 0.2,
		})
	}
	provider.SetFlatPriceSeries("WETH", 3200, 48)
	m := newTestMonitor(provider)

	require.NoError(t, m.Tick(context.Background()))
	snap := m.Snapshot()
	assert.Contains(t, snap.Pairs, "WETH/USDC")
	assert.NotContains(t, snap.Pairs, "WBTC/USDC")
}

func TestMonitor_LiquidityHealth_ThinPoolsScoreLower(t *testing.T) {
	deep := providers.NewSimProvider()
	seedProvider(deep)

	thin := providers.NewSimProvider()
	seedProvider(thin)
	for _, venue := range []string{"uniswap_v3", "sushiswap"} {
		thin.SetLiquidity(venue, "WETH", "USDC", types.Liquidity{
			TotalUSD:      50_000,
			Depth:         0.3,
			Concentration: 0.7,
		})
	}

	deepMonitor := newTestMonitor(deep)
	thinMonitor := newTestMonitor(thin)
	deepMonitor.Tick(context.Background())
	thinMonitor.Tick(context.Background())

	deepHealth := deepMonitor.Snapshot().Pairs["WETH/USDC"].LiquidityHealth
	thinHealth := thinMonitor.Snapshot().Pairs["WETH/USDC"].LiquidityHealth
	assert.Greater(t, deepHealth, thinHealth)
}

func TestStats_StdDev(t *testing.T) {
	assert.Zero(t, stdDev(nil))
	assert.Zero(t, stdDev([]float64{1}))
	assert.InDelta(t, 1.0, stdDev([]float64{1, 2, 3}), 1e-9)
}

func TestStats_Pearson(t *testing.T) {
	a := []float64{1, 2, 3, 4}
	b := []float64{2, 4, 6, 8}
	inverse := []float64{8, 6, 4, 2}

	assert.InDelta(t, 1.0, pearson(a, b), 1e-9)
	assert.InDelta(t, -1.0, pearson(a, inverse), 1e-9)
	assert.Zero(t, pearson(a, []float64{5, 5, 5, 5}))
}

func TestStats_Gini(t *testing.T) {
	assert.Zero(t, gini([]float64{100, 100, 100}))
	even := gini([]float64{100, 100})
	skewed := gini([]float64{190, 10})
	assert.Greater(t, skewed, even)
}

func TestStats_ReturnsFromPrices(t *testing.T) {
	rets := returnsFromPrices([]float64{100, 110, 99})
	require.Len(t, rets, 2)
	assert.InDelta(t, 0.10, rets[0], 1e-9)
	assert.InDelta(t, -0.10, rets[1], 1e-9)
}
