package events

import (
	"sync"
	"time"
)

// EventType identifies the kind of engine event being published.
type EventType string

const (
	EventRiskAssessment        EventType = "riskAssessment"
	EventEmergencyStop         EventType = "emergencyStop"
	EventCircuitBreakerTripped EventType = "circuitBreakerTriggered"
	EventVolatilityRegime      EventType = "volatilityRegimeChange"
	EventLiquidityRegime       EventType = "liquidityRegimeChange"
)

// Event is a typed notification emitted by engine components. Payloads are
// component-owned value types; subscribers must not mutate them.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   any
}

// RegimeChangePayload describes a market regime transition.
type RegimeChangePayload struct {
	Pair        string
	From        string
	To          string
	MetricValue float64
}

// BreakerPayload describes a circuit breaker trip.
type BreakerPayload struct {
	Breaker  string
	Reason   string
	Critical bool
}

// EmergencyStopPayload describes an emergency stop transition.
type EmergencyStopPayload struct {
	Active      bool
	Reason      string
	ActivatedBy string
}

// Handler receives published events. Handlers run on their own goroutine and
// must not block shared state.
type Handler func(Event)

// Bus is an in-process publish/subscribe hub for engine events. Publishing is
// fire-and-forget: a slow subscriber never blocks the decision path.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]Handler
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string]Handler)}
}

// Subscribe registers a handler under the given id, replacing any previous
// handler with the same id.
func (b *Bus) Subscribe(id string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[id] = h
}

// Unsubscribe removes a handler.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// Publish delivers an event to every subscriber asynchronously.
func (b *Bus) Publish(eventType EventType, payload any) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subscribers))
	for _, h := range b.subscribers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	ev := Event{Type: eventType, Timestamp: time.Now(), Payload: payload}
	for _, h := range handlers {
		go h(ev)
	}
}
