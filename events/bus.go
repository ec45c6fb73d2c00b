// Package events implements the host's typed, synchronous event bus: the
// single channel through which lifecycle, security, performance, and error
// signals cross component boundaries.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of event flowing through the bus.
type Type string

const (
	TypeDiscovered              Type = "discovered"
	TypeLoadingStarted          Type = "loading.started"
	TypeLoadingProgress         Type = "loading.progress"
	TypeLoaded                  Type = "loaded"
	TypeLoadFailed              Type = "load.failed"
	TypeUnloaded                Type = "unloaded"
	TypeStateChanged            Type = "state.changed"
	TypeDependencyResolved      Type = "dependency.resolved"
	TypeDependencyFailed        Type = "dependency.failed"
	TypeValidationCompleted     Type = "validation.completed"
	TypeSecurityScanCompleted   Type = "security.scan.completed"
	TypeSecurityViolation       Type = "security.violation"
	TypePerformance             Type = "performance"
	TypeCircuitBreaker          Type = "circuit-breaker"
	TypeCache                   Type = "cache"
	TypeError                   Type = "error"
)

// Event is a single tagged record published on the bus.
type Event struct {
	ID         string
	Type       Type
	PluginName string
	Timestamp  time.Time
	Payload    any
}

// Listener receives events synchronously in the publisher's calling
// goroutine. A Listener must not block indefinitely and must not itself
// panic; the bus recovers from panics but a hung listener stalls publishing.
type Listener func(Event)

// Bus is a typed, in-process publish/subscribe hub. It holds no event
// history; delivery is synchronous and best-effort per listener.
type Bus struct {
	mu        sync.RWMutex
	listeners map[Type][]Listener
	all       []Listener
	logger    *slog.Logger
}

// New creates an empty Bus. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		listeners: make(map[Type][]Listener),
		logger:    logger,
	}
}

// Subscribe registers listener for a specific event type.
func (b *Bus) Subscribe(t Type, listener Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[t] = append(b.listeners[t], listener)
}

// SubscribeAll registers listener for every event type published on the bus.
func (b *Bus) SubscribeAll(listener Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, listener)
}

// Publish constructs and delivers an event. Every event gets a fresh UUID;
// delivery is synchronous, one listener's failure does not stop delivery
// to the others, and a listener's panic is caught,
// logged, and reported as a TypeError event rather than propagated --
// except that a panic during delivery of a TypeError event itself is only
// logged, never re-published, to avoid recursive error storms.
func (b *Bus) Publish(t Type, pluginName string, payload any) {
	evt := Event{
		ID:         uuid.NewString(),
		Type:       t,
		PluginName: pluginName,
		Timestamp:  time.Now(),
		Payload:    payload,
	}
	b.deliver(evt)
}

func (b *Bus) deliver(evt Event) {
	b.mu.RLock()
	direct := append([]Listener(nil), b.listeners[evt.Type]...)
	all := append([]Listener(nil), b.all...)
	b.mu.RUnlock()

	for _, l := range direct {
		b.invoke(l, evt)
	}
	for _, l := range all {
		b.invoke(l, evt)
	}
}

func (b *Bus) invoke(l Listener, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event listener panicked", "event_type", evt.Type, "plugin", evt.PluginName, "recover", r)
			if evt.Type != TypeError {
				b.Publish(TypeError, evt.PluginName, map[string]any{
					"source_event": evt.Type,
					"recover":      r,
				})
			}
		}
	}()
	l(evt)
}
