package safety

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/flasharb/risk-engine/internal/events"
	"github.com/flasharb/risk-engine/internal/monitoring"
	"github.com/flasharb/risk-engine/internal/riskerr"
)

// EmergencyState is a snapshot of the emergency stop.
type EmergencyState struct {
	Active      bool      `json:"active"`
	Reason      string    `json:"reason,omitempty"`
	ActivatedAt time.Time `json:"activated_at,omitempty"`
	ActivatedBy string    `json:"activated_by,omitempty"`
}

// EmergencyStop is the engine-wide kill switch. Once active, every trade is
// rejected until an operator explicitly resets it; nothing clears it
// automatically, not even a breaker cooldown.
type EmergencyStop struct {
	mu    sync.Mutex
	log   zerolog.Logger
	bus   *events.Bus
	audit *AuditLog

	active      bool
	reason      string
	activatedAt time.Time
	activatedBy string
}

// NewEmergencyStop creates an inactive emergency stop.
func NewEmergencyStop(bus *events.Bus, audit *AuditLog, log zerolog.Logger) *EmergencyStop {
	return &EmergencyStop{log: log, bus: bus, audit: audit}
}

// Activate engages the stop. Repeated activation keeps the original reason
// and timestamp; the first cause is the one operators need to see.
func (e *EmergencyStop) Activate(reason, activatedBy string) {
	e.mu.Lock()
	if e.active {
		e.mu.Unlock()
		return
	}
	e.active = true
	e.reason = reason
	e.activatedAt = time.Now()
	e.activatedBy = activatedBy
	e.mu.Unlock()

	e.log.Error().
		Str("reason", reason).
		Str("activated_by", activatedBy).
		Msg("🚨 EMERGENCY STOP ACTIVATED - all trading halted")

	e.audit.Append(activatedBy, "emergency_stop_activated", reason)
	monitoring.SetEmergencyActive(true)
	e.bus.Publish(events.EventEmergencyStop, events.EmergencyStopPayload{
		Active: true, Reason: reason, ActivatedBy: activatedBy,
	})
}

// Deactivate clears the stop. Only an explicit operator action lands here.
func (e *EmergencyStop) Deactivate(clearedBy string) error {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return riskerr.New(riskerr.CategoryAdmin, "emergency_stop", "deactivate",
			"emergency stop is not active")
	}
	previousReason := e.reason
	e.active = false
	e.reason = ""
	e.activatedBy = ""
	e.mu.Unlock()

	e.log.Warn().
		Str("cleared_by", clearedBy).
		Str("previous_reason", previousReason).
		Msg("emergency stop cleared, trading may resume")

	e.audit.Append(clearedBy, "emergency_stop_cleared", "previous reason: "+previousReason)
	monitoring.SetEmergencyActive(false)
	e.bus.Publish(events.EventEmergencyStop, events.EmergencyStopPayload{
		Active: false, ActivatedBy: clearedBy,
	})
	return nil
}

// Active reports whether the stop is engaged.
func (e *EmergencyStop) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// State returns a snapshot of the stop.
func (e *EmergencyStop) State() EmergencyState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EmergencyState{
		Active:      e.active,
		Reason:      e.reason,
		ActivatedAt: e.activatedAt,
		ActivatedBy: e.activatedBy,
	}
}
