package providers

import (
	"context"
	"time"

	"github.com/flasharb/risk-engine/pkg/types"
)

// MarketDataProvider supplies the liquidity, price and network signals the
// risk core consumes. Implementations live outside the core (RPC gateways,
// DEX indexers); the engine treats any failure as "unknown, assume
// conservative" rather than propagating it.
type MarketDataProvider interface {
	// GetLiquidity returns the current liquidity snapshot for a pair on a
	// venue.
	GetLiquidity(ctx context.Context, venue, tokenA, tokenB string) (*types.Liquidity, error)

	// GetPriceHistory returns an ordered (oldest first) price series for a
	// token over the given window.
	GetPriceHistory(ctx context.Context, token string, window time.Duration) ([]types.PricePoint, error)

	// GetNetworkConditions returns current congestion and gas volatility
	// signals.
	GetNetworkConditions(ctx context.Context) (*types.NetworkConditions, error)
}
