package labmodular

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/stretchr/testify/require"
)

// recordingLogger keeps every entry for assertions.
type recordingLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *recordingLogger) log(level, msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, fmt.Sprintf("%s %s %v", level, msg, args))
}

func (l *recordingLogger) Info(msg string, args ...any)  { l.log("INFO", msg, args...) }
func (l *recordingLogger) Error(msg string, args ...any) { l.log("ERROR", msg, args...) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.log("WARN", msg, args...) }
func (l *recordingLogger) Debug(msg string, args ...any) { l.log("DEBUG", msg, args...) }

func (l *recordingLogger) contains(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}

// journal records hook calls across modules in call order.
type journal struct {
	mu    sync.Mutex
	calls []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls = append(j.calls, s)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.calls...)
}

// journaled returns a factory whose modules log "activate:<name>" and
// "deactivate:<name>" and fail when the matching error is set.
func journaled(j *journal, activateErr, deactivateErr error) Factory {
	return func(inst *Instance) (Module, error) {
		return ModuleFunc{
			Activate: func(context.Context) error {
				j.add("activate:" + inst.Name())
				return activateErr
			},
			Deactivate: func(context.Context) error {
				j.add("deactivate:" + inst.Name())
				return deactivateErr
			},
		}, nil
	}
}

// providerClass advertises capability and has no connectors.
func providerClass(name string, capability string, factory Factory) *Class {
	var caps []string
	if capability != "" {
		caps = []string{capability}
	}
	return MustResolveClass(ClassDef{Name: name, Capabilities: caps, Factory: factory})
}

// consumerClass has one mandatory connector per capability, named after it
// in lower case.
func consumerClass(name string, factory Factory, capabilities ...string) *Class {
	fields := make([]Field, 0, len(capabilities))
	for _, c := range capabilities {
		fields = append(fields, Field{Attr: strings.ToLower(c), Descriptor: Connector{Capability: c}})
	}
	return MustResolveClass(ClassDef{Name: name, Fields: fields, Factory: factory})
}

// eventRecorder collects event types delivered to it.
type eventRecorder struct {
	id     string
	mu     sync.Mutex
	events []cloudevents.Event
}

func newEventRecorder(id string) *eventRecorder {
	return &eventRecorder{id: id}
}

func (r *eventRecorder) OnEvent(_ context.Context, event cloudevents.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) ObserverID() string { return r.id }

func (r *eventRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type()
	}
	return out
}

// waitFor blocks until every event type in want has been delivered.
func (r *eventRecorder) waitFor(t *testing.T, want ...string) {
	t.Helper()
	require.Eventually(t, func() bool {
		got := r.types()
		for _, w := range want {
			if !slices.Contains(got, w) {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond, "events seen: %v", r.types())
}
