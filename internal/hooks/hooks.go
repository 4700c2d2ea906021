// Package hooks dispatches assistant lifecycle events (messages, model runs,
// tool calls, workflow transitions, gateway start and stop) to registered
// handlers.
package hooks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/soyeahso/concierge/internal/logging"
)

// Event names.
const (
	EventMessageReceived = "message_received"
	EventMessageSending  = "message_sending"
	EventBeforeAgentRun  = "before_agent_run"
	EventAfterAgentRun   = "after_agent_run"
	EventToolExecuted    = "tool_executed"
	EventWorkflowStart   = "workflow_start"
	EventWorkflowStep    = "workflow_step"
	EventWorkflowEnd     = "workflow_end"
	EventWorkflowError   = "workflow_error"
	EventGatewayStart    = "gateway_start"
	EventGatewayStop     = "gateway_stop"
)

// AllEvents lists every event name, in lifecycle order.
var AllEvents = []string{
	EventMessageReceived,
	EventMessageSending,
	EventBeforeAgentRun,
	EventAfterAgentRun,
	EventToolExecuted,
	EventWorkflowStart,
	EventWorkflowStep,
	EventWorkflowEnd,
	EventWorkflowError,
	EventGatewayStart,
	EventGatewayStop,
}

// Payload carries event data to handlers.
type Payload struct {
	Event string         `json:"event"`
	At    time.Time      `json:"at"`
	Data  map[string]any `json:"data,omitempty"`
}

// Handler handles one event. A returned error, or a panic, is logged and
// does not stop the remaining handlers.
type Handler func(ctx context.Context, p Payload) error

// Manager keeps hook registrations and dispatches events.
type Manager struct {
	mu       sync.RWMutex
	handlers map[string][]namedHandler
	log      *logging.Logger
	inflight sync.WaitGroup
	now      func() time.Time
}

type namedHandler struct {
	name    string
	handler Handler
}

// NewManager creates a hook manager.
func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		handlers: make(map[string][]namedHandler),
		log:      log.Sub("hooks"),
		now:      time.Now,
	}
}

// On registers handler for event under name.
func (m *Manager) On(event, name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], namedHandler{name: name, handler: handler})
	m.log.Debug().Str("event", event).Str("handler", name).Msg("hook registered")
}

// OnAll registers handler for every known event.
func (m *Manager) OnAll(name string, handler Handler) {
	for _, ev := range AllEvents {
		m.On(ev, name, handler)
	}
}

// Off removes every handler registered for event under name.
func (m *Manager) Off(event, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.handlers[event][:0:0]
	for _, h := range m.handlers[event] {
		if h.name != name {
			kept = append(kept, h)
		}
	}
	if len(kept) == 0 {
		delete(m.handlers, event)
		return
	}
	m.handlers[event] = kept
}

func (m *Manager) snapshot(event string) []namedHandler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]namedHandler(nil), m.handlers[event]...)
}

// Emit runs the handlers of event synchronously, in registration order.
func (m *Manager) Emit(ctx context.Context, event string, data map[string]any) {
	handlers := m.snapshot(event)
	if len(handlers) == 0 {
		return
	}
	p := Payload{Event: event, At: m.now(), Data: data}
	for _, h := range handlers {
		m.run(ctx, h, p)
	}
}

// EmitAsync runs every handler of event in its own goroutine and returns
// immediately. Wait blocks until they are done.
func (m *Manager) EmitAsync(ctx context.Context, event string, data map[string]any) {
	handlers := m.snapshot(event)
	if len(handlers) == 0 {
		return
	}
	p := Payload{Event: event, At: m.now(), Data: data}
	m.inflight.Add(len(handlers))
	for _, h := range handlers {
		go func(h namedHandler) {
			defer m.inflight.Done()
			m.run(ctx, h, p)
		}(h)
	}
}

// Wait blocks until every asynchronous handler has returned or ctx ends.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) run(ctx context.Context, h namedHandler, p Payload) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().
				Str("event", p.Event).
				Str("handler", h.name).
				Str("panic", fmt.Sprint(r)).
				Msg("hook handler panicked")
		}
	}()
	if err := h.handler(ctx, p); err != nil {
		m.log.Warn().
			Err(err).
			Str("event", p.Event).
			Str("handler", h.name).
			Msg("hook handler error")
	}
}

// Count returns the number of handlers registered for event.
func (m *Manager) Count(event string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handlers[event])
}

// Events returns the events with at least one handler, sorted.
func (m *Manager) Events() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]string, 0, len(m.handlers))
	for event, handlers := range m.handlers {
		if len(handlers) > 0 {
			events = append(events, event)
		}
	}
	sort.Strings(events)
	return events
}

// LogHandler returns a handler that writes each event to log at debug
// level. String, number and boolean data fields become log fields.
func LogHandler(log *logging.Logger) Handler {
	return func(_ context.Context, p Payload) error {
		ev := log.Debug().Str("event", p.Event)
		keys := make([]string, 0, len(p.Data))
		for k := range p.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			switch v := p.Data[k].(type) {
			case string:
				ev = ev.Str(k, logging.Truncate(v, 200))
			case int:
				ev = ev.Int(k, v)
			case int64:
				ev = ev.Int64(k, v)
			case float64:
				ev = ev.Float64(k, v)
			case bool:
				ev = ev.Bool(k, v)
			case time.Duration:
				ev = ev.Dur(k, v)
			}
		}
		ev.Msg("hook event")
		return nil
	}
}
