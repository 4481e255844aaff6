package portfolio

import (
	"sync"
)

// defaultPerformanceWindow bounds the rolling sample used for Kelly inputs.
const defaultPerformanceWindow = 100

// PerformanceStats summarizes the rolling trade history the allocator feeds
// into Kelly sizing.
type PerformanceStats struct {
	Samples   int
	Wins      int
	Losses    int
	WinRate   float64
	AvgWinUSD float64
	AvgLossUSD float64 // absolute value
}

// PerformanceTracker keeps a bounded rolling window of realized trade P&L.
type PerformanceTracker struct {
	mu     sync.Mutex
	window int
	pnls   []float64
}

// NewPerformanceTracker creates a tracker with the default window.
func NewPerformanceTracker() *PerformanceTracker {
	return &PerformanceTracker{window: defaultPerformanceWindow}
}

// Record appends one realized trade outcome, evicting the oldest sample once
// the window is full.
func (t *PerformanceTracker) Record(pnlUSD float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pnls = append(t.pnls, pnlUSD)
	if len(t.pnls) > t.window {
		t.pnls = t.pnls[len(t.pnls)-t.window:]
	}
}

// Stats computes win rate and average win/loss magnitudes over the window.
func (t *PerformanceTracker) Stats() PerformanceStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := PerformanceStats{Samples: len(t.pnls)}
	var winSum, lossSum float64
	for _, pnl := range t.pnls {
		if pnl >= 0 {
			stats.Wins++
			winSum += pnl
		} else {
			stats.Losses++
			lossSum += -pnl
		}
	}
	if stats.Samples > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.Samples)
	}
	if stats.Wins > 0 {
		stats.AvgWinUSD = winSum / float64(stats.Wins)
	}
	if stats.Losses > 0 {
		stats.AvgLossUSD = lossSum / float64(stats.Losses)
	}
	return stats
}
