package portfolio

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/flasharb/risk-engine/internal/riskerr"
)

// Position aggregates open exposure for one token pair.
type Position struct {
	Pair      string
	AmountUSD decimal.Decimal
	Count     int
}

// State is an immutable snapshot of the portfolio books.
type State struct {
	TotalUSD          decimal.Decimal
	AvailableUSD      decimal.Decimal
	ReservedUSD       decimal.Decimal
	PeakValueUSD      decimal.Decimal
	DailyPnLUSD       decimal.Decimal
	ConsecutiveLosses int
	OpenTrades        int
	Positions         map[string]Position
}

// DrawdownPct returns the current drawdown from the running peak as a
// fraction.
func (s *State) DrawdownPct() float64 {
	if s.PeakValueUSD.IsZero() {
		return 0
	}
	dd := s.PeakValueUSD.Sub(s.TotalUSD)
	if dd.IsNegative() {
		return 0
	}
	return dd.Div(s.PeakValueUSD).InexactFloat64()
}

type reservation struct {
	pair     string
	amount   decimal.Decimal
	openedAt time.Time
}

// Portfolio is the capital ledger. Reserve and Release are the only mutators
// of available/reserved; Release additionally applies realized P&L to total
// and maintains the running peak and the consecutive-loss counter. Capital is
// held as decimals because this is the one invariant-bearing state region:
// the books must reconcile exactly.
type Portfolio struct {
	mu  sync.Mutex
	log zerolog.Logger

	total     decimal.Decimal
	available decimal.Decimal
	reserved  decimal.Decimal
	peak      decimal.Decimal

	dailyPnL      decimal.Decimal
	dailyResetDay int

	consecutiveLosses int

	positions    map[string]*Position
	reservations map[string]*reservation
}

// New creates a portfolio with the given starting capital.
func New(initialCapitalUSD float64, log zerolog.Logger) *Portfolio {
	capital := decimal.NewFromFloat(initialCapitalUSD)
	return &Portfolio{
		log:           log,
		total:         capital,
		available:     capital,
		peak:          capital,
		dailyResetDay: time.Now().YearDay(),
		positions:     make(map[string]*Position),
		reservations:  make(map[string]*reservation),
	}
}

// Reserve moves capital from available to reserved for the given trade and
// opens the corresponding position exposure. A duplicate trade id is an
// invariant violation: the caller is about to double-spend capital.
func (p *Portfolio) Reserve(tradeID, pair string, amountUSD float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.checkDayReset()

	if _, exists := p.reservations[tradeID]; exists {
		return riskerr.NewInvariantError("portfolio", "reserve",
			"duplicate reservation for trade "+tradeID)
	}

	amount := decimal.NewFromFloat(amountUSD)
	if amount.LessThanOrEqual(decimal.Zero) {
		return riskerr.NewValidationError("portfolio", "reserve", "reservation amount must be positive")
	}
	if amount.GreaterThan(p.available) {
		return riskerr.NewValidationError("portfolio", "reserve",
			"insufficient available capital: requested "+amount.StringFixed(2)+
				", available "+p.available.StringFixed(2))
	}

	p.available = p.available.Sub(amount)
	p.reserved = p.reserved.Add(amount)
	p.reservations[tradeID] = &reservation{pair: pair, amount: amount, openedAt: time.Now()}

	pos, ok := p.positions[pair]
	if !ok {
		pos = &Position{Pair: pair}
		p.positions[pair] = pos
	}
	pos.AmountUSD = pos.AmountUSD.Add(amount)
	pos.Count++

	p.log.Debug().
		Str("trade_id", tradeID).
		Str("pair", pair).
		Str("amount", amount.StringFixed(2)).
		Str("available", p.available.StringFixed(2)).
		Msg("capital reserved")

	return p.assertBooks("reserve")
}

// Release returns the reservation for tradeID to available capital and
// applies realized P&L to total. Releasing an unknown trade id, including a
// second release of the same id, is an invariant violation and is never
// swallowed: it means the capital books are corrupted.
func (p *Portfolio) Release(tradeID string, pnlUSD float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.checkDayReset()

	res, ok := p.reservations[tradeID]
	if !ok {
		return riskerr.NewInvariantError("portfolio", "release",
			"release without matching reservation for trade "+tradeID)
	}
	delete(p.reservations, tradeID)

	pnl := decimal.NewFromFloat(pnlUSD)
	p.reserved = p.reserved.Sub(res.amount)
	p.available = p.available.Add(res.amount).Add(pnl)
	p.total = p.total.Add(pnl)
	p.dailyPnL = p.dailyPnL.Add(pnl)

	if p.total.GreaterThan(p.peak) {
		p.peak = p.total
	}

	if pnl.IsNegative() {
		p.consecutiveLosses++
	} else {
		p.consecutiveLosses = 0
	}

	if pos, ok := p.positions[res.pair]; ok {
		pos.AmountUSD = pos.AmountUSD.Sub(res.amount)
		pos.Count--
		if pos.Count <= 0 {
			delete(p.positions, res.pair)
		}
	}

	p.log.Debug().
		Str("trade_id", tradeID).
		Str("pnl", pnl.StringFixed(2)).
		Str("total", p.total.StringFixed(2)).
		Int("consecutive_losses", p.consecutiveLosses).
		Msg("capital released")

	return p.assertBooks("release")
}

// HasReservation reports whether a reservation exists for the trade id.
func (p *Portfolio) HasReservation(tradeID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.reservations[tradeID]
	return ok
}

// Snapshot returns a copy of the current books.
func (p *Portfolio) Snapshot() *State {
	p.mu.Lock()
	defer p.mu.Unlock()

	positions := make(map[string]Position, len(p.positions))
	for pair, pos := range p.positions {
		positions[pair] = *pos
	}
	return &State{
		TotalUSD:          p.total,
		AvailableUSD:      p.available,
		ReservedUSD:       p.reserved,
		PeakValueUSD:      p.peak,
		DailyPnLUSD:       p.dailyPnL,
		ConsecutiveLosses: p.consecutiveLosses,
		OpenTrades:        len(p.reservations),
		Positions:         positions,
	}
}

// assertBooks verifies available + reserved stays within total. Must hold after every
// mutation; a violation is capital-accounting corruption.
func (p *Portfolio) assertBooks(operation string) error {
	// Allow a hair of decimal dust from P&L application ordering.
	if p.available.Add(p.reserved).Sub(p.total).GreaterThan(decimal.NewFromFloat(0.01)) {
		return riskerr.NewInvariantError("portfolio", operation,
			"books do not reconcile: available "+p.available.StringFixed(2)+
				" + reserved "+p.reserved.StringFixed(2)+
				" > total "+p.total.StringFixed(2))
	}
	return nil
}

// checkDayReset zeroes the daily P&L counter on day rollover.
func (p *Portfolio) checkDayReset() {
	today := time.Now().YearDay()
	if p.dailyResetDay != today {
		p.dailyPnL = decimal.Zero
		p.dailyResetDay = today
		p.log.Info().Msg("daily portfolio stats reset")
	}
}
