package portfolio

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flasharb/risk-engine/internal/riskerr"
)

func newTestPortfolio(capital float64) *Portfolio {
	return New(capital, zerolog.Nop())
}

func TestPortfolio_ReserveRelease_BooksReconcile(t *testing.T) {
	p := newTestPortfolio(100_000)

	require.NoError(t, p.Reserve("trade-1", "WETH/USDC", 10_000))

	state := p.Snapshot()
	assert.Equal(t, 90_000.0, state.AvailableUSD.InexactFloat64())
	assert.Equal(t, 10_000.0, state.ReservedUSD.InexactFloat64())
	assert.Equal(t, 1, state.OpenTrades)

	require.NoError(t, p.Release("trade-1", 250))

	state = p.Snapshot()
	assert.Equal(t, 100_250.0, state.TotalUSD.InexactFloat64())
	assert.Equal(t, 100_250.0, state.AvailableUSD.InexactFloat64())
	assert.Zero(t, state.ReservedUSD.InexactFloat64())
	assert.Zero(t, state.OpenTrades)
	assert.Equal(t, 250.0, state.DailyPnLUSD.InexactFloat64())
}

func TestPortfolio_Reserve_Duplicate(t *testing.T) {
	p := newTestPortfolio(100_000)
	require.NoError(t, p.Reserve("trade-1", "WETH/USDC", 5_000))

	err := p.Reserve("trade-1", "WETH/USDC", 5_000)
	require.Error(t, err)

	var engineErr *riskerr.EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, riskerr.CategoryInvariant, engineErr.Category)

	// The failed reservation must not have touched the books.
	assert.Equal(t, 95_000.0, p.Snapshot().AvailableUSD.InexactFloat64())
}

func TestPortfolio_Reserve_InsufficientCapital(t *testing.T) {
	p := newTestPortfolio(1_000)

	err := p.Reserve("trade-1", "WETH/USDC", 5_000)
	require.Error(t, err)

	var engineErr *riskerr.EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, riskerr.CategoryValidation, engineErr.Category)
}

func TestPortfolio_Release_WithoutReservation(t *testing.T) {
	p := newTestPortfolio(100_000)

	err := p.Release("never-reserved", 100)
	require.Error(t, err)

	var engineErr *riskerr.EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, riskerr.CategoryInvariant, engineErr.Category)
	assert.True(t, engineErr.IsFatal())
}

func TestPortfolio_Release_Double(t *testing.T) {
	p := newTestPortfolio(100_000)
	require.NoError(t, p.Reserve("trade-1", "WETH/USDC", 5_000))
	require.NoError(t, p.Release("trade-1", 0))

	err := p.Release("trade-1", 0)
	require.Error(t, err)

	var engineErr *riskerr.EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, riskerr.CategoryInvariant, engineErr.Category)
}

func TestPortfolio_ConsecutiveLosses_ResetOnWin(t *testing.T) {
	p := newTestPortfolio(100_000)

	for i, pnl := range []float64{-100, -200, -50} {
		id := string(rune('a' + i))
		require.NoError(t, p.Reserve(id, "WETH/USDC", 1_000))
		require.NoError(t, p.Release(id, pnl))
	}
	assert.Equal(t, 3, p.Snapshot().ConsecutiveLosses)

	require.NoError(t, p.Reserve("win", "WETH/USDC", 1_000))
	require.NoError(t, p.Release("win", 500))
	assert.Zero(t, p.Snapshot().ConsecutiveLosses)
}

func TestPortfolio_DrawdownFromPeak(t *testing.T) {
	p := newTestPortfolio(100_000)

	// Run the total up to a new peak, then lose some of it back.
	require.NoError(t, p.Reserve("up", "WETH/USDC", 10_000))
	require.NoError(t, p.Release("up", 10_000))
	require.NoError(t, p.Reserve("down", "WETH/USDC", 10_000))
	require.NoError(t, p.Release("down", -22_000))

	state := p.Snapshot()
	assert.Equal(t, 110_000.0, state.PeakValueUSD.InexactFloat64())
	assert.InDelta(t, 0.2, state.DrawdownPct(), 1e-9)
}

func TestPortfolio_PositionTracking(t *testing.T) {
	p := newTestPortfolio(100_000)

	require.NoError(t, p.Reserve("t1", "WETH/USDC", 5_000))
	require.NoError(t, p.Reserve("t2", "WETH/USDC", 3_000))
	require.NoError(t, p.Reserve("t3", "WBTC/USDC", 2_000))

	state := p.Snapshot()
	require.Len(t, state.Positions, 2)
	assert.Equal(t, 8_000.0, state.Positions["WETH/USDC"].AmountUSD.InexactFloat64())
	assert.Equal(t, 2, state.Positions["WETH/USDC"].Count)

	require.NoError(t, p.Release("t1", 0))
	require.NoError(t, p.Release("t2", 0))

	state = p.Snapshot()
	require.Len(t, state.Positions, 1)
	assert.NotContains(t, state.Positions, "WETH/USDC")
}

func TestPerformanceTracker_Stats(t *testing.T) {
	tr := NewPerformanceTracker()
	for _, pnl := range []float64{100, 200, -50, -150, 300} {
		tr.Record(pnl)
	}

	stats := tr.Stats()
	assert.Equal(t, 5, stats.Samples)
	assert.Equal(t, 3, stats.Wins)
	assert.Equal(t, 2, stats.Losses)
	assert.InDelta(t, 0.6, stats.WinRate, 1e-9)
	assert.InDelta(t, 200.0, stats.AvgWinUSD, 1e-9)
	assert.InDelta(t, 100.0, stats.AvgLossUSD, 1e-9)
}

func TestPerformanceTracker_WindowEviction(t *testing.T) {
	tr := NewPerformanceTracker()
	for i := 0; i < defaultPerformanceWindow+10; i++ {
		tr.Record(1)
	}
	assert.Equal(t, defaultPerformanceWindow, tr.Stats().Samples)
}
