// Package labmodular provides the module registry and lifecycle core of a
// laboratory instrument control suite.
//
// A module class declares its configuration surface (ConfigOption), its
// dependencies on other modules (Connector) and its persisted state
// (StatusVar). ResolveClass merges those declarations along the class's base
// list once, producing an immutable Class. A Registry instantiates classes
// from configuration, binds connectors to providers by capability, and drives
// every instance through the lifecycle
//
//	UNLOADED → DEACTIVATED ⇄ ACTIVATED, any hook failure → BROKEN → UNLOADED
//
// in dependency order. Instances can be exposed to other processes with the
// remote package, and remote proxies can satisfy connectors like local modules.
//
// Basic usage:
//
//	reg := labmodular.NewRegistry(labmodular.WithLogger(logger))
//	if _, err := reg.Register("counter", counterClass, labmodular.ModuleConfig{}); err != nil {
//		log.Fatal(err)
//	}
//	if err := reg.Resolve(); err != nil {
//		log.Fatal(err)
//	}
//	if err := reg.Activate(ctx, "counter", labmodular.ActivateWithDependencies); err != nil {
//		log.Fatal(err)
//	}
package labmodular

import "context"

// Module is the behaviour supplied by a module class. The registry calls the
// hooks inside lifecycle transitions; the instance passed to the class
// Factory gives the module access to its options, status and connectors.
//
// Hooks may block on hardware I/O. The registry imposes no timeout; a hook
// that never returns holds the activation of its module (and, in whole-graph
// mode, of its dependents). Hooks must not call back into registry lifecycle
// operations.
type Module interface {
	// OnActivate runs after status values are restored and connectors are
	// bound. An error leaves the module BROKEN.
	OnActivate(ctx context.Context) error

	// OnDeactivate runs before status values are persisted. An error leaves
	// the module BROKEN.
	OnDeactivate(ctx context.Context) error
}

// ModuleFunc adapts plain functions to Module. Nil hooks succeed.
type ModuleFunc struct {
	Activate   func(ctx context.Context) error
	Deactivate func(ctx context.Context) error
}

func (m ModuleFunc) OnActivate(ctx context.Context) error {
	if m.Activate == nil {
		return nil
	}
	return m.Activate(ctx)
}

func (m ModuleFunc) OnDeactivate(ctx context.Context) error {
	if m.Deactivate == nil {
		return nil
	}
	return m.Deactivate(ctx)
}

// Delegator is implemented by modules that stand in for another object, such
// as remote proxies. ConnectorAs falls back to the delegate when the module
// itself does not satisfy the requested type.
type Delegator interface {
	Delegate() any
}

// Diagnostic is a non-fatal registration finding, such as a config option
// with the warn policy that fell back to its default.
type Diagnostic struct {
	Module  string
	Option  string
	Message string
}

func (d Diagnostic) String() string {
	if d.Option == "" {
		return d.Module + ": " + d.Message
	}
	return d.Module + "." + d.Option + ": " + d.Message
}

// ModuleConfig is the externally supplied configuration of one module.
type ModuleConfig struct {
	// Options maps ConfigOption names to values.
	Options map[string]any
	// Connect pins connectors to named target modules, bypassing capability
	// search (and therefore ambiguity).
	Connect map[string]string
	// AllowRemote exposes the module under its own name once registered.
	AllowRemote bool
}
