package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/flasharb/risk-engine/internal/market"
	"github.com/flasharb/risk-engine/internal/monitoring"
	"github.com/flasharb/risk-engine/internal/portfolio"
	"github.com/flasharb/risk-engine/internal/safety"
)

// SystemStatus aggregates the observable state of every engine subsystem.
type SystemStatus struct {
	Timestamp       time.Time                             `json:"timestamp"`
	TradingAllowed  bool                                  `json:"trading_allowed"`
	BlockedReason   string                                `json:"blocked_reason,omitempty"`
	SystemRiskScore float64                               `json:"system_risk_score"`
	Emergency       safety.EmergencyState                 `json:"emergency"`
	Breakers        []safety.BreakerState                 `json:"breakers"`
	Portfolio       *portfolio.State                      `json:"portfolio"`
	Performance     portfolio.PerformanceStats            `json:"performance"`
	Market          *market.Snapshot                      `json:"market"`
	Health          map[string]monitoring.ComponentHealth `json:"health"`
	CachedItems     int                                   `json:"cached_assessments"`
}

// GetSystemStatus collects a point-in-time view of the whole engine.
func (m *Manager) GetSystemStatus() *SystemStatus {
	emergency := m.emergency.State()
	book := m.book.Snapshot()
	snap := m.monitor.Snapshot()

	allowed, reason := m.breakers.CanTrade()
	if emergency.Active {
		allowed = false
		reason = "emergency stop active"
	}

	return &SystemStatus{
		Timestamp:       time.Now(),
		TradingAllowed:  allowed,
		BlockedReason:   reason,
		SystemRiskScore: systemRiskScore(book, snap, m.cfg.Breakers.MaxDrawdownPct),
		Emergency:       emergency,
		Breakers:        m.breakers.States(),
		Portfolio:       book,
		Performance:     m.perf.Stats(),
		Market:          snap,
		Health:          m.health.Snapshot(),
		CachedItems:     m.cache.Len(),
	}
}

// systemRiskScore folds drawdown pressure and broad market stress into a
// single 0-1 gauge for operators. It is informational, never a gate.
func systemRiskScore(book *portfolio.State, snap *market.Snapshot, maxDrawdownPct float64) float64 {
	drawdownTerm := 0.0
	if maxDrawdownPct > 0 {
		drawdownTerm = book.DrawdownPct() / maxDrawdownPct
	}

	var volStress, liqStress float64
	if len(snap.Pairs) > 0 {
		for _, cond := range snap.Pairs {
			volStress += float64(cond.VolRegime) / float64(market.VolExtreme)
			liqStress += 1 - cond.LiquidityHealth
		}
		n := float64(len(snap.Pairs))
		volStress /= n
		liqStress /= n
	}

	score := 0.4*drawdownTerm + 0.35*volStress + 0.25*liqStress
	if score > 1 {
		return 1
	}
	if score < 0 {
		return 0
	}
	return score
}

// RenderStatus formats the system status as console tables for the periodic
// operator report.
func RenderStatus(s *SystemStatus) string {
	var b strings.Builder

	capital := table.NewWriter()
	capital.SetTitle("Capital")
	capital.AppendHeader(table.Row{"Total", "Available", "Reserved", "Daily P&L", "Drawdown", "Open Trades"})
	capital.AppendRow(table.Row{
		s.Portfolio.TotalUSD.StringFixed(2),
		s.Portfolio.AvailableUSD.StringFixed(2),
		s.Portfolio.ReservedUSD.StringFixed(2),
		s.Portfolio.DailyPnLUSD.StringFixed(2),
		fmt.Sprintf("%.2f%%", s.Portfolio.DrawdownPct()*100),
		s.Portfolio.OpenTrades,
	})
	capital.SetStyle(table.StyleLight)
	b.WriteString(capital.Render())
	b.WriteString("\n")

	safetyTable := table.NewWriter()
	safetyTable.SetTitle("Safety")
	safetyTable.AppendHeader(table.Row{"Breaker", "Tripped", "Reason"})
	for _, br := range s.Breakers {
		tripped := text.FgGreen.Sprint("armed")
		if br.Tripped {
			tripped = text.FgRed.Sprint("TRIPPED")
		}
		safetyTable.AppendRow(table.Row{br.Name, tripped, br.Reason})
	}
	if s.Emergency.Active {
		safetyTable.AppendFooter(table.Row{"EMERGENCY STOP", text.FgRed.Sprint("ACTIVE"), s.Emergency.Reason})
	}
	safetyTable.SetStyle(table.StyleLight)
	b.WriteString(safetyTable.Render())
	b.WriteString("\n")

	if s.Market != nil && len(s.Market.Pairs) > 0 {
		mkt := table.NewWriter()
		mkt.SetTitle("Market Conditions")
		mkt.AppendHeader(table.Row{"Pair", "Volatility", "Vol Regime", "Liquidity Health", "Liq Regime"})
		for _, cond := range s.Market.Pairs {
			mkt.AppendRow(table.Row{
				cond.Pair,
				fmt.Sprintf("%.4f", cond.Volatility),
				cond.VolRegime.String(),
				fmt.Sprintf("%.2f", cond.LiquidityHealth),
				cond.LiqRegime.String(),
			})
		}
		mkt.SetStyle(table.StyleLight)
		b.WriteString(mkt.Render())
		b.WriteString("\n")
	}

	return b.String()
}
