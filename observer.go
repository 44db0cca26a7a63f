// Observer pattern interfaces for lifecycle notifications. Events use the
// CloudEvents specification so they can be forwarded to external systems
// unchanged.
package labmodular

import (
	"context"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// Observer is notified of registry and transport events.
type Observer interface {
	// OnEvent is called for every event the observer subscribed to.
	// Observers should return quickly; delivery happens on its own goroutine.
	OnEvent(ctx context.Context, event cloudevents.Event) error

	// ObserverID returns a unique identifier used for registration tracking.
	ObserverID() string
}

// Subject maintains a set of observers and notifies them of events.
type Subject interface {
	// RegisterObserver adds an observer. With no eventTypes the observer
	// receives every event.
	RegisterObserver(observer Observer, eventTypes ...string) error

	// UnregisterObserver removes an observer. It is idempotent.
	UnregisterObserver(observer Observer) error

	// NotifyObservers delivers an event to every interested observer.
	NotifyObservers(ctx context.Context, event cloudevents.Event) error

	// GetObservers describes the registered observers.
	GetObservers() []ObserverInfo
}

// ObserverInfo describes a registered observer.
type ObserverInfo struct {
	ID           string    `json:"id"`
	EventTypes   []string  `json:"eventTypes"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// Event types emitted by the registry and the remote transport.
const (
	EventTypeModuleRegistered  = "com.labmodular.module.registered"
	EventTypeModuleActivated   = "com.labmodular.module.activated"
	EventTypeModuleDeactivated = "com.labmodular.module.deactivated"
	EventTypeModuleBroken      = "com.labmodular.module.broken"
	EventTypeModuleUnloaded    = "com.labmodular.module.unloaded"

	EventTypeGraphResolved       = "com.labmodular.graph.resolved"
	EventTypeGraphResolveFailed  = "com.labmodular.graph.resolve_failed"
	EventTypeStatusCheckpoint    = "com.labmodular.status.checkpoint"
	EventTypeStatusPersistFailed = "com.labmodular.status.persist_failed"

	EventTypeModuleExposed   = "com.labmodular.remote.exposed"
	EventTypeModuleUnexposed = "com.labmodular.remote.unexposed"

	EventTypeRemoteConnectionAccepted = "com.labmodular.remote.connection.accepted"
	EventTypeRemoteConnectionClosed   = "com.labmodular.remote.connection.closed"
)

// FunctionalObserver adapts a function to Observer.
type FunctionalObserver struct {
	id      string
	handler func(ctx context.Context, event cloudevents.Event) error
}

// NewFunctionalObserver creates an observer that calls handler for every event.
func NewFunctionalObserver(id string, handler func(ctx context.Context, event cloudevents.Event) error) Observer {
	return &FunctionalObserver{
		id:      id,
		handler: handler,
	}
}

func (f *FunctionalObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return f.handler(ctx, event)
}

func (f *FunctionalObserver) ObserverID() string {
	return f.id
}
