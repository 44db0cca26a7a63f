package labmodular

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"sort"
	"sync"
)

// ActivationMode selects how Activate treats dependencies that are not yet
// active.
type ActivationMode int

const (
	// ActivateWithDependencies activates the mandatory dependency closure of
	// the module first, in topological order.
	ActivateWithDependencies ActivationMode = iota
	// ActivateSingle fails with ErrDependencyNotActive if any mandatory
	// dependency is not already active.
	ActivateSingle
)

func (m ActivationMode) String() string {
	if m == ActivateSingle {
		return "single"
	}
	return "with-dependencies"
}

// EventSource is the CloudEvents source of registry events.
const EventSource = "labmodular.registry"

// Registry is the table of named module instances. It binds connectors,
// orders activation and drives lifecycle transitions.
//
// Lifecycle operations (Register, Resolve, Activate, Deactivate, Reload,
// Unload) are serialized by one lock so that concurrent callers never compute
// inconsistent orders. Lookups take a separate read lock and may run
// concurrently with each other and with module hooks.
type Registry struct {
	logger Logger
	store  StatusStore
	events *ObserverSet

	lifecycle sync.Mutex

	mu          sync.RWMutex
	instances   map[string]*Instance
	exposures   map[string]ExposedModule
	order       []string
	dirty       bool
	transitions map[State]uint64
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithStatusStore sets the persisted status storage. The default keeps
// status in memory for the lifetime of the registry.
func WithStatusStore(store StatusStore) RegistryOption {
	return func(r *Registry) {
		if store != nil {
			r.store = store
		}
	}
}

// WithObserver registers an observer for registry events.
func WithObserver(observer Observer, eventTypes ...string) RegistryOption {
	return func(r *Registry) {
		_ = r.events.RegisterObserver(observer, eventTypes...)
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		logger:      NopLogger{},
		store:       NewMemoryStatusStore(),
		instances:   make(map[string]*Instance),
		exposures:   make(map[string]ExposedModule),
		transitions: make(map[State]uint64),
	}
	r.events = NewObserverSet(EventSource, r.logger)
	for _, opt := range opts {
		opt(r)
	}
	r.events.logger = r.logger
	return r
}

// Events returns the subject registry events are published on.
func (r *Registry) Events() Subject { return r.events }

// Logger returns the registry logger.
func (r *Registry) Logger() Logger { return r.logger }

// StatusStore returns the persisted status storage.
func (r *Registry) StatusStore() StatusStore { return r.store }

// Register instantiates class under name with the supplied configuration.
// The new instance is DEACTIVATED and unbound until the next Resolve.
// Diagnostics report options that fell back to defaults under the warn
// policy and option keys the class does not declare.
func (r *Registry) Register(name string, class *Class, cfg ModuleConfig) ([]Diagnostic, error) {
	if name == "" {
		return nil, ErrModuleNameEmpty
	}
	if class == nil {
		return nil, fmt.Errorf("%w: module %q", ErrClassNil, name)
	}

	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if _, ok := r.lookup(name); ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleAlreadyRegistered, name)
	}

	options, diags, err := resolveOptionValues(name, class, cfg.Options)
	if err != nil {
		return diags, err
	}
	for attr := range cfg.Connect {
		if _, ok := class.connectors[attr]; !ok {
			return diags, fmt.Errorf("%w: %s.%s", ErrUnknownConnector, name, attr)
		}
	}
	if cfg.AllowRemote && class.remoteInterface == nil {
		return diags, fmt.Errorf("%w: module %q class %q", ErrExposureNoInterface, name, class.name)
	}

	inst := newInstance(name, class, cfg)
	inst.options = options

	var module Module = ModuleFunc{}
	if class.factory != nil {
		if module, err = class.factory(inst); err != nil {
			return diags, fmt.Errorf("%w: module %q: %w", ErrModuleConstruction, name, err)
		}
		if module == nil {
			return diags, fmt.Errorf("%w: module %q: factory returned nil", ErrModuleConstruction, name)
		}
	}
	inst.module = module
	inst.state = StateDeactivated

	r.mu.Lock()
	prevDirty := r.dirty
	r.instances[name] = inst
	r.dirty = true
	r.transitions[StateDeactivated]++
	r.mu.Unlock()

	if cfg.AllowRemote {
		if err := r.expose(name, inst, nil); err != nil {
			r.mu.Lock()
			delete(r.instances, name)
			r.dirty = prevDirty
			if r.transitions[StateDeactivated]--; r.transitions[StateDeactivated] == 0 {
				delete(r.transitions, StateDeactivated)
			}
			r.mu.Unlock()
			inst.setState(StateUnloaded, nil)
			if closer, ok := module.(io.Closer); ok {
				if cerr := closer.Close(); cerr != nil {
					r.logger.Warn("Module close failed", "module", name, "error", cerr)
				}
			}
			return diags, err
		}
	}

	for _, d := range diags {
		r.logger.Warn("Config option", "module", d.Module, "option", d.Option, "diagnostic", d.Message)
	}
	r.logger.Info("Module registered", "module", name, "class", class.name)
	r.events.Emit(context.Background(), EventTypeModuleRegistered, map[string]any{
		"module": name,
		"class":  class.name,
	})
	return diags, nil
}

// resolveOptionValues computes the stored config values of a new instance.
func resolveOptionValues(module string, class *Class, supplied map[string]any) (map[string]any, []Diagnostic, error) {
	var diags []Diagnostic
	values := make(map[string]any, len(class.configOptions))

	names := slices.Sorted(maps.Keys(class.configOptions))
	for _, name := range names {
		opt := class.configOptions[name]
		raw, present := supplied[name]
		if !present {
			switch opt.Missing {
			case MissingError:
				return nil, diags, fmt.Errorf("%w: %s.%s", ErrMissingRequiredOption, module, name)
			case MissingWarn:
				diags = append(diags, Diagnostic{
					Module:  module,
					Option:  name,
					Message: fmt.Sprintf("not configured, using default %v", opt.Default),
				})
			}
			values[name] = cloneValue(opt.Default)
			continue
		}
		v, err := opt.value(raw)
		if err != nil {
			return nil, diags, fmt.Errorf("module %q: %w", module, err)
		}
		values[name] = v
	}

	unknown := make([]string, 0)
	for key := range supplied {
		if _, ok := class.configOptions[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	for _, key := range unknown {
		diags = append(diags, Diagnostic{Module: module, Option: key, Message: "not declared by class " + class.name + ", ignored"})
	}
	return values, diags, nil
}

// Instance returns a registered instance.
func (r *Registry) Instance(name string) (*Instance, error) {
	inst, ok := r.lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}
	return inst, nil
}

// State returns the lifecycle state of name; unknown names are UNLOADED.
func (r *Registry) State(name string) State {
	inst, ok := r.lookup(name)
	if !ok {
		return StateUnloaded
	}
	return inst.State()
}

// Names returns every registered module name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.instances))
}

// ModuleInfo is a point-in-time description of an instance.
type ModuleInfo struct {
	Name         string            `json:"name"`
	Class        string            `json:"class"`
	State        State             `json:"state"`
	Error        string            `json:"error,omitempty"`
	Capabilities []string          `json:"capabilities"`
	Bindings     map[string]string `json:"bindings"`
	Options      map[string]any    `json:"options"`
	Exposed      []string          `json:"exposed,omitempty"`
}

// Snapshot describes every registered instance, sorted by name.
func (r *Registry) Snapshot() []ModuleInfo {
	r.mu.RLock()
	instances := make([]*Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		instances = append(instances, inst)
	}
	exposed := make(map[string][]string)
	for name, e := range r.exposures {
		exposed[e.Instance.name] = append(exposed[e.Instance.name], name)
	}
	r.mu.RUnlock()

	sort.Slice(instances, func(i, j int) bool { return instances[i].name < instances[j].name })
	out := make([]ModuleInfo, 0, len(instances))
	for _, inst := range instances {
		out = append(out, describe(inst, exposed[inst.name]))
	}
	return out
}

// Describe returns the ModuleInfo of one instance.
func (r *Registry) Describe(name string) (ModuleInfo, error) {
	inst, err := r.Instance(name)
	if err != nil {
		return ModuleInfo{}, err
	}
	var exposed []string
	r.mu.RLock()
	for ename, e := range r.exposures {
		if e.Instance == inst {
			exposed = append(exposed, ename)
		}
	}
	r.mu.RUnlock()
	return describe(inst, exposed), nil
}

func describe(inst *Instance, exposed []string) ModuleInfo {
	info := ModuleInfo{
		Name:         inst.name,
		Class:        inst.class.name,
		State:        inst.State(),
		Capabilities: inst.class.Capabilities(),
		Bindings:     inst.Bindings(),
		Options:      inst.Options(),
		Exposed:      exposed,
	}
	sort.Strings(info.Exposed)
	if err := inst.Err(); err != nil {
		info.Error = err.Error()
	}
	return info
}

// TransitionCounts returns how many times instances entered each state.
func (r *Registry) TransitionCounts() map[State]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.transitions)
}

func (r *Registry) lookup(name string) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[name]
	return inst, ok
}

// all returns every instance sorted by name.
func (r *Registry) all() []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Instance, 0, len(r.instances))
	for _, name := range slices.Sorted(maps.Keys(r.instances)) {
		out = append(out, r.instances[name])
	}
	return out
}

// transition moves inst to state s, records err and publishes the event.
func (r *Registry) transition(ctx context.Context, inst *Instance, s State, err error) {
	inst.setState(s, err)

	r.mu.Lock()
	r.transitions[s]++
	r.mu.Unlock()

	data := map[string]any{"module": inst.name, "class": inst.class.name, "state": s.String()}
	var eventType string
	switch s {
	case StateActivated:
		eventType = EventTypeModuleActivated
		r.logger.Info("Module activated", "module", inst.name)
	case StateDeactivated:
		eventType = EventTypeModuleDeactivated
		r.logger.Info("Module deactivated", "module", inst.name)
	case StateBroken:
		eventType = EventTypeModuleBroken
		data["error"] = err.Error()
		r.logger.Error("Module broken", "module", inst.name, "error", err)
	case StateUnloaded:
		eventType = EventTypeModuleUnloaded
		r.logger.Info("Module unloaded", "module", inst.name)
	}
	r.events.Emit(ctx, eventType, data)
}
