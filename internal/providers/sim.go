package providers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flasharb/risk-engine/pkg/types"
)

// SimProvider is a deterministic in-memory market data provider. It backs
// dry-run mode and tests; fixtures are set explicitly, never generated.
type SimProvider struct {
	mu        sync.RWMutex
	liquidity map[string]*types.Liquidity // venue|pair -> snapshot
	prices    map[string][]types.PricePoint
	network   types.NetworkConditions

	failLiquidity bool
	failPrices    bool
}

// NewSimProvider creates an empty simulated provider.
func NewSimProvider() *SimProvider {
	return &SimProvider{
		liquidity: make(map[string]*types.Liquidity),
		prices:    make(map[string][]types.PricePoint),
		network:   types.NetworkConditions{Congestion: 0.1, GasVolatility: 0.1, ObservedAt: time.Now()},
	}
}

func liquidityKey(venue, tokenA, tokenB string) string {
	return venue + "|" + tokenA + "/" + tokenB
}

// SetLiquidity installs a liquidity fixture for a venue and pair.
func (p *SimProvider) SetLiquidity(venue, tokenA, tokenB string, snapshot types.Liquidity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	snapshot.Venue = venue
	if snapshot.ObservedAt.IsZero() {
		snapshot.ObservedAt = time.Now()
	}
	p.liquidity[liquidityKey(venue, tokenA, tokenB)] = &snapshot
}

// SetPriceSeries installs a price history fixture for a token.
func (p *SimProvider) SetPriceSeries(token string, series []types.PricePoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[token] = series
}

// SetFlatPriceSeries installs a constant-price history with the given number
// of hourly samples ending now. Useful for low-volatility fixtures.
func (p *SimProvider) SetFlatPriceSeries(token string, price float64, samples int) {
	series := make([]types.PricePoint, samples)
	now := time.Now()
	for i := range series {
		series[i] = types.PricePoint{
			Timestamp: now.Add(-time.Duration(samples-i) * time.Hour),
			Price:     price,
		}
	}
	p.SetPriceSeries(token, series)
}

// SetNetworkConditions installs network condition fixtures.
func (p *SimProvider) SetNetworkConditions(nc types.NetworkConditions) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if nc.ObservedAt.IsZero() {
		nc.ObservedAt = time.Now()
	}
	p.network = nc
}

// FailLiquidity makes subsequent liquidity lookups error, for degradation
// tests.
func (p *SimProvider) FailLiquidity(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failLiquidity = fail
}

// FailPrices makes subsequent price lookups error.
func (p *SimProvider) FailPrices(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failPrices = fail
}

// GetLiquidity implements MarketDataProvider.
func (p *SimProvider) GetLiquidity(ctx context.Context, venue, tokenA, tokenB string) (*types.Liquidity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.failLiquidity {
		return nil, fmt.Errorf("liquidity feed unavailable for %s", venue)
	}
	snap, ok := p.liquidity[liquidityKey(venue, tokenA, tokenB)]
	if !ok {
		return nil, fmt.Errorf("no liquidity data for %s %s/%s", venue, tokenA, tokenB)
	}
	out := *snap
	return &out, nil
}

// GetPriceHistory implements MarketDataProvider.
func (p *SimProvider) GetPriceHistory(ctx context.Context, token string, window time.Duration) ([]types.PricePoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.failPrices {
		return nil, fmt.Errorf("price feed unavailable for %s", token)
	}
	series, ok := p.prices[token]
	if !ok {
		return nil, fmt.Errorf("no price history for %s", token)
	}
	cutoff := time.Now().Add(-window)
	out := make([]types.PricePoint, 0, len(series))
	for _, pt := range series {
		if pt.Timestamp.After(cutoff) {
			out = append(out, pt)
		}
	}
	return out, nil
}

// GetNetworkConditions implements MarketDataProvider.
func (p *SimProvider) GetNetworkConditions(ctx context.Context) (*types.NetworkConditions, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := p.network
	return &out, nil
}
