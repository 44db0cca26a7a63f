package labmodular

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sort"
)

// Field is one declared attribute of a class body, in declaration order.
type Field struct {
	Attr       string
	Descriptor Descriptor
}

// Factory builds the behaviour object of a module instance. It runs once, at
// registration, after config values are resolved.
type Factory func(inst *Instance) (Module, error)

// ClassDef is the authored definition of a module class.
type ClassDef struct {
	Name  string
	Bases []*Class

	// Fields are the class's own descriptors. The attribute name wins over any
	// name set on the descriptor itself.
	Fields []Field

	// Capabilities are roles advertised in addition to the class name.
	Capabilities []string

	// RemoteInterface is the interface type a module of this class exposes to
	// remote peers. Nil means the class cannot be exposed.
	RemoteInterface reflect.Type

	Factory Factory
}

// MergeOrder decides which base wins when two bases declare the same name.
// Both policies overwrite the accumulator base by base; they differ only in
// the direction the base list is walked.
type MergeOrder int

const (
	// EarlierBaseWins walks bases in reverse declaration order, so the
	// earliest-listed base is applied last and keeps its entry.
	EarlierBaseWins MergeOrder = iota
	// LaterBaseWins walks bases in declaration order, so the last-listed base
	// is applied last and keeps its entry.
	LaterBaseWins
)

type resolveOptions struct {
	order MergeOrder
}

// ResolveOption configures ResolveClass.
type ResolveOption func(*resolveOptions)

// WithMergeOrder sets the base merge policy.
func WithMergeOrder(order MergeOrder) ResolveOption {
	return func(o *resolveOptions) { o.order = order }
}

// Class is a resolved module class: the merged, override-applied descriptor
// maps plus advertised capabilities. It is immutable after ResolveClass.
type Class struct {
	name            string
	bases           []string
	connectors      map[string]Connector
	configOptions   map[string]ConfigOption
	statusVars      map[string]StatusVar
	capabilities    []string
	remoteInterface reflect.Type
	factory         Factory
}

// schema is the merge accumulator shared by the three maps.
type schema struct {
	connectors    map[string]Connector
	configOptions map[string]ConfigOption
	statusVars    map[string]StatusVar
}

func newSchema() *schema {
	return &schema{
		connectors:    make(map[string]Connector),
		configOptions: make(map[string]ConfigOption),
		statusVars:    make(map[string]StatusVar),
	}
}

// kindOf reports which map currently holds name.
func (s *schema) kindOf(name string) (DescriptorKind, bool) {
	if _, ok := s.connectors[name]; ok {
		return KindConnector, true
	}
	if _, ok := s.configOptions[name]; ok {
		return KindConfigOption, true
	}
	if _, ok := s.statusVars[name]; ok {
		return KindStatusVar, true
	}
	return 0, false
}

func (s *schema) put(d Descriptor) {
	switch v := d.(type) {
	case Connector:
		s.connectors[v.Name] = v
	case ConfigOption:
		s.configOptions[v.Name] = v
	case StatusVar:
		s.statusVars[v.Name] = v
	}
}

// overlay puts d, rejecting a name already held by a different kind.
func (s *schema) overlay(owner string, d Descriptor) error {
	if kind, ok := s.kindOf(d.DescriptorName()); ok && kind != d.Kind() {
		return fmt.Errorf("%w: class %q: %q is both a %s and a %s",
			ErrDuplicateDescriptorName, owner, d.DescriptorName(), kind, d.Kind())
	}
	s.put(d)
	return nil
}

// ResolveClass merges the descriptor maps of def's bases with def's own fields.
func ResolveClass(def ClassDef, opts ...ResolveOption) (*Class, error) {
	if def.Name == "" {
		return nil, ErrClassNameEmpty
	}
	o := resolveOptions{order: EarlierBaseWins}
	for _, opt := range opts {
		opt(&o)
	}

	acc := newSchema()

	bases := slices.Clone(def.Bases)
	if o.order == EarlierBaseWins {
		slices.Reverse(bases)
	}
	for _, base := range bases {
		if base == nil {
			continue
		}
		for _, d := range base.descriptors() {
			if err := acc.overlay(def.Name, d); err != nil {
				return nil, err
			}
		}
	}

	declared := make(map[string]bool, len(def.Fields))
	for _, f := range def.Fields {
		if f.Descriptor == nil {
			return nil, fmt.Errorf("%w: class %q attribute %q", ErrDescriptorNil, def.Name, f.Attr)
		}
		if declared[f.Attr] {
			return nil, fmt.Errorf("%w: class %q declares %q twice", ErrDuplicateDescriptorName, def.Name, f.Attr)
		}
		declared[f.Attr] = true
		if err := acc.overlay(def.Name, f.Descriptor.renamed(f.Attr)); err != nil {
			return nil, err
		}
	}

	if def.RemoteInterface != nil && def.RemoteInterface.Kind() != reflect.Interface {
		return nil, fmt.Errorf("%w: class %q: got %v", ErrRemoteInterfaceKind, def.Name, def.RemoteInterface)
	}

	c := &Class{
		name:            def.Name,
		connectors:      acc.connectors,
		configOptions:   acc.configOptions,
		statusVars:      acc.statusVars,
		remoteInterface: def.RemoteInterface,
		factory:         def.Factory,
	}

	caps := map[string]bool{def.Name: true}
	for _, cp := range def.Capabilities {
		caps[cp] = true
	}
	for _, base := range def.Bases {
		if base == nil {
			continue
		}
		c.bases = append(c.bases, base.name)
		for _, cp := range base.capabilities {
			caps[cp] = true
		}
		if c.remoteInterface == nil {
			c.remoteInterface = base.remoteInterface
		}
		if c.factory == nil {
			c.factory = base.factory
		}
	}
	c.capabilities = slices.Sorted(maps.Keys(caps))

	return c, nil
}

// MustResolveClass is ResolveClass for package-level class declarations.
func MustResolveClass(def ClassDef, opts ...ResolveOption) *Class {
	c, err := ResolveClass(def, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// descriptors returns deep copies of every descriptor, sorted by name so
// merging is deterministic.
func (c *Class) descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(c.connectors)+len(c.configOptions)+len(c.statusVars))
	for _, v := range c.connectors {
		out = append(out, v)
	}
	for _, v := range c.configOptions {
		v.Default = cloneValue(v.Default)
		out = append(out, v)
	}
	for _, v := range c.statusVars {
		v.Default = cloneValue(v.Default)
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DescriptorName() < out[j].DescriptorName() })
	return out
}

// Name returns the class name.
func (c *Class) Name() string { return c.name }

// Bases returns the names of the direct base classes.
func (c *Class) Bases() []string { return slices.Clone(c.bases) }

// Capabilities returns every capability name a module of this class satisfies.
func (c *Class) Capabilities() []string { return slices.Clone(c.capabilities) }

// Provides reports whether the class advertises capability.
func (c *Class) Provides(capability string) bool {
	_, found := slices.BinarySearch(c.capabilities, capability)
	return found
}

// RemoteInterface returns the interface type exposed to remote peers, or nil.
func (c *Class) RemoteInterface() reflect.Type { return c.remoteInterface }

// Connectors returns a copy of the merged connector map.
func (c *Class) Connectors() map[string]Connector { return maps.Clone(c.connectors) }

// ConfigOptions returns a copy of the merged config option map.
func (c *Class) ConfigOptions() map[string]ConfigOption { return maps.Clone(c.configOptions) }

// StatusVars returns a copy of the merged status variable map.
func (c *Class) StatusVars() map[string]StatusVar { return maps.Clone(c.statusVars) }

// Connector looks up one connector descriptor.
func (c *Class) Connector(name string) (Connector, bool) {
	v, ok := c.connectors[name]
	return v, ok
}

// ConfigOption looks up one config option descriptor.
func (c *Class) ConfigOption(name string) (ConfigOption, bool) {
	v, ok := c.configOptions[name]
	return v, ok
}

// StatusVar looks up one status variable descriptor.
func (c *Class) StatusVar(name string) (StatusVar, bool) {
	v, ok := c.statusVars[name]
	return v, ok
}

// sortedConnectorNames is used wherever iteration order leaks into errors or logs.
func (c *Class) sortedConnectorNames() []string {
	return slices.Sorted(maps.Keys(c.connectors))
}
