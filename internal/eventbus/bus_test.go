package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/orlunix/cam/internal/model"
)

func TestPublishDispatchesToSpecificThenWildcard(t *testing.T) {
	bus := New()
	var order []string

	bus.Subscribe("state_change", func(e model.AgentEvent) {
		order = append(order, "specific")
	})
	bus.Subscribe("*", func(e model.AgentEvent) {
		order = append(order, "wildcard")
	})

	bus.Publish(model.AgentEvent{EventType: "state_change", Timestamp: time.Now()})

	assert.Equal(t, []string{"specific", "wildcard"}, order)
}

func TestPublishIgnoresOtherEventTypes(t *testing.T) {
	bus := New()
	called := false
	bus.Subscribe("output", func(e model.AgentEvent) { called = true })

	bus.Publish(model.AgentEvent{EventType: "state_change"})

	assert.False(t, called)
}

func TestUnsubscribeRemovesHandler(t *testing.T) {
	bus := New()
	calls := 0
	sub := bus.Subscribe("output", func(e model.AgentEvent) { calls++ })

	bus.Publish(model.AgentEvent{EventType: "output"})
	sub.Unsubscribe()
	bus.Publish(model.AgentEvent{EventType: "output"})

	assert.Equal(t, 1, calls)
}

func TestPublishSwallowsHandlerPanic(t *testing.T) {
	bus := New()
	secondCalled := false
	bus.Subscribe("output", func(e model.AgentEvent) { panic("boom") })
	bus.Subscribe("output", func(e model.AgentEvent) { secondCalled = true })

	assert.NotPanics(t, func() {
		bus.Publish(model.AgentEvent{EventType: "output"})
	})
	assert.True(t, secondCalled)
}
