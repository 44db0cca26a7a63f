package labmodular

import (
	"context"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

type observerRegistration struct {
	observer     Observer
	eventTypes   map[string]bool
	registeredAt time.Time
}

// ObserverSet is a Subject that delivers each event to every interested
// observer on its own goroutine. The registry and the remote service embed one.
type ObserverSet struct {
	logger    Logger
	source    string
	mu        sync.RWMutex
	observers map[string]*observerRegistration
}

// NewObserverSet creates an empty set whose emitted events carry source.
func NewObserverSet(source string, logger Logger) *ObserverSet {
	if logger == nil {
		logger = NopLogger{}
	}
	return &ObserverSet{
		logger:    logger,
		source:    source,
		observers: make(map[string]*observerRegistration),
	}
}

func (s *ObserverSet) RegisterObserver(observer Observer, eventTypes ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	types := make(map[string]bool, len(eventTypes))
	for _, t := range eventTypes {
		types[t] = true
	}
	s.observers[observer.ObserverID()] = &observerRegistration{
		observer:     observer,
		eventTypes:   types,
		registeredAt: time.Now(),
	}
	s.logger.Debug("Observer registered", "observerID", observer.ObserverID(), "eventTypes", eventTypes)
	return nil
}

func (s *ObserverSet) UnregisterObserver(observer Observer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.observers[observer.ObserverID()]; ok {
		delete(s.observers, observer.ObserverID())
		s.logger.Debug("Observer unregistered", "observerID", observer.ObserverID())
	}
	return nil
}

func (s *ObserverSet) NotifyObservers(ctx context.Context, event cloudevents.Event) error {
	if event.Time().IsZero() {
		event.SetTime(time.Now())
	}
	if err := ValidateCloudEvent(event); err != nil {
		s.logger.Error("Invalid CloudEvent", "eventType", event.Type(), "error", err)
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, reg := range s.observers {
		if len(reg.eventTypes) > 0 && !reg.eventTypes[event.Type()] {
			continue
		}
		go func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("Observer panicked", "observerID", reg.observer.ObserverID(), "event", event.Type(), "panic", r)
				}
			}()
			if err := reg.observer.OnEvent(ctx, event); err != nil {
				s.logger.Error("Observer error", "observerID", reg.observer.ObserverID(), "event", event.Type(), "error", err)
			}
		}()
	}
	return nil
}

func (s *ObserverSet) GetObservers() []ObserverInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := make([]ObserverInfo, 0, len(s.observers))
	for _, reg := range s.observers {
		types := make([]string, 0, len(reg.eventTypes))
		for t := range reg.eventTypes {
			types = append(types, t)
		}
		info = append(info, ObserverInfo{
			ID:           reg.observer.ObserverID(),
			EventTypes:   types,
			RegisteredAt: reg.registeredAt,
		})
	}
	return info
}

// Emit builds a CloudEvent from data and notifies observers. Delivery is
// asynchronous and errors are only logged.
func (s *ObserverSet) Emit(ctx context.Context, eventType string, data map[string]any) {
	if s.empty() {
		return
	}
	event := NewCloudEvent(eventType, s.source, data, nil)
	if err := s.NotifyObservers(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Error("Failed to notify observers", "event", eventType, "error", err)
	}
}

func (s *ObserverSet) empty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.observers) == 0
}
