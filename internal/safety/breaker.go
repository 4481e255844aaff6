package safety

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/flasharb/risk-engine/internal/events"
	"github.com/flasharb/risk-engine/internal/monitoring"
	"github.com/flasharb/risk-engine/internal/portfolio"
	"github.com/flasharb/risk-engine/pkg/config"
)

// Breaker names.
const (
	BreakerDailyLoss         = "daily_loss"
	BreakerDrawdown          = "drawdown"
	BreakerConsecutiveLosses = "consecutive_losses"
	BreakerManual            = "manual"
)

// BreakerState is a snapshot of one breaker.
type BreakerState struct {
	Name          string    `json:"name"`
	Critical      bool      `json:"critical"`
	Tripped       bool      `json:"tripped"`
	Reason        string    `json:"reason,omitempty"`
	TrippedAt     time.Time `json:"tripped_at,omitempty"`
	CooldownUntil time.Time `json:"cooldown_until,omitempty"`
}

type breaker struct {
	name     string
	critical bool

	tripped       bool
	reason        string
	trippedAt     time.Time
	cooldownUntil time.Time
}

// BreakerSet evaluates the portfolio-level circuit breakers. Non-critical
// breakers re-arm themselves after the cooldown elapses; critical ones pull
// the emergency stop, which only an operator can clear.
type BreakerSet struct {
	cfg       config.BreakerConfig
	bus       *events.Bus
	audit     *AuditLog
	emergency *EmergencyStop
	log       zerolog.Logger

	mu       sync.Mutex
	breakers map[string]*breaker
}

// NewBreakerSet creates the standard breaker set.
func NewBreakerSet(cfg config.BreakerConfig, bus *events.Bus, audit *AuditLog,
	emergency *EmergencyStop, log zerolog.Logger) *BreakerSet {

	return &BreakerSet{
		cfg:       cfg,
		bus:       bus,
		audit:     audit,
		emergency: emergency,
		log:       log,
		breakers: map[string]*breaker{
			BreakerDailyLoss:         {name: BreakerDailyLoss, critical: true},
			BreakerDrawdown:          {name: BreakerDrawdown, critical: true},
			BreakerConsecutiveLosses: {name: BreakerConsecutiveLosses, critical: false},
			BreakerManual:            {name: BreakerManual, critical: true},
		},
	}
}

// Evaluate checks every automatic breaker against the current books. Called
// after each trade result lands and before each decision.
func (s *BreakerSet) Evaluate(state *portfolio.State) {
	dailyLoss := state.DailyPnLUSD.InexactFloat64()
	// The limit is inclusive: losing exactly the configured amount trips.
	if dailyLoss <= -s.cfg.MaxDailyLossUSD {
		s.trip(BreakerDailyLoss, fmt.Sprintf("daily loss %.2f USD reached limit %.2f USD",
			-dailyLoss, s.cfg.MaxDailyLossUSD))
	}

	if dd := state.DrawdownPct(); dd >= s.cfg.MaxDrawdownPct {
		s.trip(BreakerDrawdown, fmt.Sprintf("drawdown %.2f%% reached limit %.2f%%",
			dd*100, s.cfg.MaxDrawdownPct*100))
	}

	if state.ConsecutiveLosses >= s.cfg.MaxConsecutiveLosses {
		s.trip(BreakerConsecutiveLosses, fmt.Sprintf("%d consecutive losses reached limit %d",
			state.ConsecutiveLosses, s.cfg.MaxConsecutiveLosses))
	}
}

// TripManual trips the manual breaker on operator request.
func (s *BreakerSet) TripManual(reason, actor string) {
	s.trip(BreakerManual, reason)
	s.audit.Append(actor, "manual_breaker_tripped", reason)
}

func (s *BreakerSet) trip(name, reason string) {
	s.mu.Lock()
	b := s.breakers[name]
	if b.tripped {
		s.mu.Unlock()
		return
	}
	b.tripped = true
	b.reason = reason
	b.trippedAt = time.Now()
	b.cooldownUntil = b.trippedAt.Add(s.cfg.CooldownPeriod)
	critical := b.critical
	s.mu.Unlock()

	s.log.Error().
		Str("breaker", name).
		Str("reason", reason).
		Bool("critical", critical).
		Msg("⚡ circuit breaker tripped")

	s.audit.Append("system", "breaker_tripped", name+": "+reason)
	monitoring.RecordBreakerTrip(name)
	s.bus.Publish(events.EventCircuitBreakerTripped, events.BreakerPayload{
		Breaker: name, Reason: reason, Critical: critical,
	})

	if critical {
		s.emergency.Activate("circuit breaker "+name+": "+reason, "breaker_set")
	}
}

// CanTrade reports whether any breaker currently blocks trading. Expired
// cooldowns re-arm the breaker on the way through.
func (s *BreakerSet) CanTrade() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, b := range s.breakers {
		if !b.tripped {
			continue
		}
		if b.critical {
			// Critical trips hold until the emergency stop is cleared and
			// the breaker reset by an operator.
			return false, "circuit breaker " + b.name + " tripped: " + b.reason
		}
		if now.Before(b.cooldownUntil) {
			return false, "circuit breaker " + b.name + " cooling down until " +
				b.cooldownUntil.Format(time.RFC3339)
		}
		b.tripped = false
		b.reason = ""
		s.log.Info().Str("breaker", b.name).Msg("circuit breaker cooldown elapsed, re-armed")
	}
	return true, ""
}

// Reset clears a tripped breaker by name on operator request.
func (s *BreakerSet) Reset(name, actor string) bool {
	s.mu.Lock()
	b, ok := s.breakers[name]
	if !ok || !b.tripped {
		s.mu.Unlock()
		return false
	}
	b.tripped = false
	b.reason = ""
	s.mu.Unlock()

	s.log.Warn().Str("breaker", name).Str("actor", actor).Msg("circuit breaker reset")
	s.audit.Append(actor, "breaker_reset", name)
	return true
}

// ResetAll clears every tripped breaker. Used together with clearing the
// emergency stop.
func (s *BreakerSet) ResetAll(actor string) {
	s.mu.Lock()
	for _, b := range s.breakers {
		if b.tripped {
			b.tripped = false
			b.reason = ""
		}
	}
	s.mu.Unlock()
	s.audit.Append(actor, "breakers_reset", "all breakers re-armed")
}

// States returns a snapshot of every breaker.
func (s *BreakerSet) States() []BreakerState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]BreakerState, 0, len(s.breakers))
	for _, name := range []string{BreakerDailyLoss, BreakerDrawdown, BreakerConsecutiveLosses, BreakerManual} {
		b := s.breakers[name]
		out = append(out, BreakerState{
			Name:          b.name,
			Critical:      b.critical,
			Tripped:       b.tripped,
			Reason:        b.reason,
			TrippedAt:     b.trippedAt,
			CooldownUntil: b.cooldownUntil,
		})
	}
	return out
}
