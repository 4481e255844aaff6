package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishReachesSubscriber(t *testing.T) {
	bus := NewBus()
	received := make(chan Event, 1)
	bus.Subscribe("sub", func(ev Event) { received <- ev })

	bus.Publish(EventCircuitBreakerTripped, BreakerPayload{Breaker: "daily_loss", Critical: true})

	select {
	case ev := <-received:
		assert.Equal(t, EventCircuitBreakerTripped, ev.Type)
		payload, ok := ev.Payload.(BreakerPayload)
		require.True(t, ok)
		assert.Equal(t, "daily_loss", payload.Breaker)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("expected the published event to arrive")
	}
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	received := make(chan Event, 1)
	bus.Subscribe("sub", func(ev Event) { received <- ev })
	bus.Unsubscribe("sub")

	bus.Publish(EventEmergencyStop, EmergencyStopPayload{Active: true})

	select {
	case <-received:
		t.Fatal("unsubscribed handler must not receive events")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewBus()
	bus.Subscribe("slow", func(Event) { time.Sleep(time.Second) })

	start := time.Now()
	bus.Publish(EventRiskAssessment, nil)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}
