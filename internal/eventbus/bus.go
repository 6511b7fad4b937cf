// Package eventbus provides a lightweight synchronous publish/subscribe bus
// for AgentEvents. Subscribers register for a specific event type or for the
// wildcard "*", which receives every event.
package eventbus

import (
	"sync"

	"github.com/orlunix/cam/internal/model"
)

// Handler receives a published event. A handler must not block for long:
// dispatch is synchronous with the publisher.
type Handler func(model.AgentEvent)

// Subscription is a handle returned by Subscribe, used to remove a handler.
type Subscription interface {
	Unsubscribe()
}

// Bus is an in-process, type-keyed event bus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]*registration
}

type registration struct {
	eventType string
	handler   Handler
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{handlers: make(map[string][]*registration)}
}

// Subscribe registers handler for eventType, or for every event if eventType
// is "*". The returned Subscription removes the handler when Unsubscribe is
// called.
func (b *Bus) Subscribe(eventType string, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	reg := &registration{eventType: eventType, handler: handler}
	b.handlers[eventType] = append(b.handlers[eventType], reg)
	return &subscription{bus: b, reg: reg}
}

type subscription struct {
	bus *Bus
	reg *registration
}

func (s *subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	regs := s.bus.handlers[s.reg.eventType]
	for i, r := range regs {
		if r == s.reg {
			s.bus.handlers[s.reg.eventType] = append(regs[:i], regs[i+1:]...)
			break
		}
	}
}

// Publish dispatches event first to handlers registered for its exact
// EventType, then to wildcard ("*") handlers. A handler panic or the
// handler's own error handling is never allowed to reach the publisher.
func (b *Bus) Publish(event model.AgentEvent) {
	b.mu.RLock()
	specific := append([]*registration(nil), b.handlers[event.EventType]...)
	wildcard := append([]*registration(nil), b.handlers["*"]...)
	b.mu.RUnlock()

	for _, reg := range specific {
		dispatch(reg.handler, event)
	}
	for _, reg := range wildcard {
		dispatch(reg.handler, event)
	}
}

func dispatch(h Handler, event model.AgentEvent) {
	defer func() {
		_ = recover()
	}()
	h(event)
}
