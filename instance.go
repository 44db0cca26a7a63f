package labmodular

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Instance is a registered module: a resolved class plus configuration, bound
// connectors, restored status values and lifecycle state.
type Instance struct {
	name    string
	class   *Class
	connect map[string]string

	mu       sync.RWMutex
	options  map[string]any
	status   map[string]any
	bindings map[string]*Instance
	state    State
	err      error
	module   Module

	// resolveErr blocks activation until the next successful resolve.
	resolveErr error
}

func newInstance(name string, class *Class, cfg ModuleConfig) *Instance {
	inst := &Instance{
		name:     name,
		class:    class,
		connect:  maps.Clone(cfg.Connect),
		options:  make(map[string]any, len(class.configOptions)),
		status:   make(map[string]any, len(class.statusVars)),
		bindings: make(map[string]*Instance, len(class.connectors)),
		state:    StateUnloaded,
	}
	for name := range class.connectors {
		inst.bindings[name] = nil
	}
	for name, sv := range class.statusVars {
		inst.status[name] = cloneValue(sv.Default)
	}
	return inst
}

// Name returns the registry key of the instance.
func (i *Instance) Name() string { return i.name }

// Class returns the resolved class the instance was built from.
func (i *Instance) Class() *Class { return i.class }

// Module returns the behaviour object created by the class factory.
func (i *Instance) Module() Module {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.module
}

// State returns the current lifecycle state.
func (i *Instance) State() State {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state
}

// Err returns the error that put the instance into StateBroken, or the
// resolution error currently blocking its activation.
func (i *Instance) Err() error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.err != nil {
		return i.err
	}
	return i.resolveErr
}

// Option returns a resolved config value.
func (i *Instance) Option(name string) (any, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	v, ok := i.options[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrOptionUnknown, i.name, name)
	}
	return v, nil
}

// Options returns a copy of every resolved config value.
func (i *Instance) Options() map[string]any {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return maps.Clone(i.options)
}

// Status returns the current value of a status variable.
func (i *Instance) Status(name string) (any, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	v, ok := i.status[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrStatusVarUnknown, i.name, name)
	}
	return v, nil
}

// SetStatus updates a status variable; the value is persisted at deactivation.
func (i *Instance) SetStatus(name string, value any) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.class.statusVars[name]; !ok {
		return fmt.Errorf("%w: %s.%s", ErrStatusVarUnknown, i.name, name)
	}
	i.status[name] = value
	return nil
}

// Connector returns the module bound to a connector. Unbound optional
// connectors return ErrConnectorUnbound.
func (i *Instance) Connector(name string) (Module, error) {
	i.mu.RLock()
	target, ok := i.bindings[name]
	i.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownConnector, i.name, name)
	}
	if target == nil {
		return nil, fmt.Errorf("%w: %s.%s", ErrConnectorUnbound, i.name, name)
	}
	return target.Module(), nil
}

// Bindings returns connector name → target module name; unbound connectors
// map to "".
func (i *Instance) Bindings() map[string]string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make(map[string]string, len(i.bindings))
	for name, target := range i.bindings {
		if target != nil {
			out[name] = target.name
		} else {
			out[name] = ""
		}
	}
	return out
}

// bindsTo reports whether any connector of i is bound to target.
func (i *Instance) bindsTo(target *Instance) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	for _, t := range i.bindings {
		if t == target {
			return true
		}
	}
	return false
}

// mandatoryTargets lists the bound targets of non-optional connectors in
// connector-name order.
func (i *Instance) mandatoryTargets() []*Instance {
	i.mu.RLock()
	defer i.mu.RUnlock()
	var out []*Instance
	for _, name := range i.class.sortedConnectorNames() {
		if i.class.connectors[name].Optional {
			continue
		}
		if t := i.bindings[name]; t != nil && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

// blockingErr returns the resolution error that prevents activation.
func (i *Instance) blockingErr() error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.resolveErr
}

// dropInactiveOptional clears optional bindings whose target is not active,
// so an activated module only ever holds live bindings.
func (i *Instance) dropInactiveOptional() {
	i.mu.Lock()
	defer i.mu.Unlock()
	for name, target := range i.bindings {
		if target != nil && i.class.connectors[name].Optional && target.State() != StateActivated {
			i.bindings[name] = nil
		}
	}
}

// unbind clears every connector bound to target.
func (i *Instance) unbind(target *Instance) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for name, t := range i.bindings {
		if t == target {
			i.bindings[name] = nil
		}
	}
}

func (i *Instance) setState(s State, err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.state = s
	i.err = err
}

// OptionAs returns a config value converted to T.
func OptionAs[T any](inst *Instance, name string) (T, error) {
	var zero T
	v, err := inst.Option(name)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s.%s is %T, not %T", ErrOptionType, inst.name, name, v, zero)
	}
	return t, nil
}

// StatusAs returns a status value converted to T.
func StatusAs[T any](inst *Instance, name string) (T, error) {
	var zero T
	v, err := inst.Status(name)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s.%s is %T, not %T", ErrStatusType, inst.name, name, v, zero)
	}
	return t, nil
}

// ConnectorAs returns the module bound to a connector as the capability
// interface T.
func ConnectorAs[T any](inst *Instance, name string) (T, error) {
	var zero T
	m, err := inst.Connector(name)
	if err != nil {
		return zero, err
	}
	if t, ok := m.(T); ok {
		return t, nil
	}
	if d, ok := m.(Delegator); ok {
		if t, ok := d.Delegate().(T); ok {
			return t, nil
		}
	}
	return zero, fmt.Errorf("%w: %s.%s is %T", ErrConnectorType, inst.name, name, m)
}
