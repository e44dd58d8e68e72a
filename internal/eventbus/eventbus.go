// Package eventbus implements C12: the synchronous in-process event bus
// controller events and registry changes fan out over. Unlike the
// broadcast surface, the bus never drops events — every subscriber is
// called inline on the publisher's goroutine, and a panicking subscriber is
// recovered and logged rather than propagated.
package eventbus

import (
	"context"
	"sync"

	"github.com/sysgrow/sensorcore/internal/logging"
)

// Handler receives one published event's payload.
type Handler func(payload map[string]any)

// Bus is a synchronous, in-process publish/subscribe registry keyed by
// stable event names (e.g. "sensor.temperature_update").
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	ctx      context.Context
}

func New(ctx context.Context) *Bus {
	return &Bus{handlers: map[string][]Handler{}, ctx: ctx}
}

// Subscribe registers h to be called on every Publish of event.
func (b *Bus) Subscribe(event string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[event] = append(b.handlers[event], h)
}

// Publish calls every subscriber of event with payload, in registration
// order, on the calling goroutine. A subscriber panic is recovered and
// logged; it never prevents the remaining subscribers from running.
func (b *Bus) Publish(event string, payload map[string]any) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[event]...)
	b.mu.RUnlock()

	logger := logging.GetLoggerFromContext(b.ctx)

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error().Interface("panic", r).Str("event", event).Msg("event bus subscriber panicked")
				}
			}()
			h(payload)
		}()
	}
}
