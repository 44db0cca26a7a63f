package labmodular

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
)

// Activate moves name to ACTIVATED. With ActivateWithDependencies the
// module's mandatory dependencies are activated first in topological order;
// with ActivateSingle they must already be active.
//
// Activating an ACTIVATED module is a no-op. A BROKEN module must be unloaded
// and registered again. If the table changed since the last Resolve, Activate
// resolves first.
func (r *Registry) Activate(ctx context.Context, name string, mode ActivationMode) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	inst, err := r.prepare(ctx, name)
	if err != nil {
		return err
	}
	return r.activateLocked(ctx, inst, mode)
}

// Deactivate moves name from ACTIVATED to DEACTIVATED and persists its status
// variables. It fails with StillDependedError while an activated module holds
// a binding to name.
func (r *Registry) Deactivate(ctx context.Context, name string) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	inst, err := r.Instance(name)
	if err != nil {
		return err
	}
	return r.deactivateOne(ctx, inst)
}

// Reload deactivates and re-activates name as one operation. If deactivation
// succeeds but activation fails, the module is left BROKEN with the
// activation error retained.
func (r *Registry) Reload(ctx context.Context, name string) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	inst, err := r.Instance(name)
	if err != nil {
		return err
	}
	wasActive := inst.State() == StateActivated
	if wasActive {
		if err := r.deactivateOne(ctx, inst); err != nil {
			return err
		}
	}
	if r.isDirty() {
		_ = r.resolveLocked(ctx)
	}
	if err := r.activateLocked(ctx, inst, ActivateWithDependencies); err != nil {
		if wasActive && inst.State() != StateBroken {
			r.transition(ctx, inst, StateBroken, err)
		}
		return err
	}
	return nil
}

// Unload removes a DEACTIVATED or BROKEN module from the registry. Bindings
// held by other inactive modules are cleared, and its exposures are dropped.
// A module implementing io.Closer is closed.
func (r *Registry) Unload(ctx context.Context, name string) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	inst, err := r.Instance(name)
	if err != nil {
		return err
	}
	return r.unloadOne(ctx, inst)
}

// ActivateAll activates every module in dependency order. Failures are
// collected and do not stop other modules from activating.
func (r *Registry) ActivateAll(ctx context.Context) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	var errs []error
	if r.isDirty() {
		_ = r.resolveLocked(ctx)
	}
	r.mu.RLock()
	order := slices.Clone(r.order)
	r.mu.RUnlock()

	for _, name := range order {
		inst, ok := r.lookup(name)
		if !ok {
			continue
		}
		if err := r.activateOne(ctx, inst); err != nil {
			errs = append(errs, err)
		}
	}
	// Modules in or behind a cycle are not in the order.
	for _, inst := range r.all() {
		if !slices.Contains(order, inst.name) && inst.State() != StateActivated {
			if err := inst.Err(); err != nil {
				errs = append(errs, fmt.Errorf("module %q: %w", inst.name, err))
			} else {
				errs = append(errs, fmt.Errorf("%w: module %q depends on a module in a cycle", ErrDependencyNotActive, inst.name))
			}
		}
	}
	return errors.Join(errs...)
}

// DeactivateAll deactivates every active module, dependents before their
// dependencies.
func (r *Registry) DeactivateAll(ctx context.Context) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	return r.deactivateAllLocked(ctx)
}

// Shutdown deactivates every module and then unloads every module. The
// registry is empty afterwards unless a hook failed in a way that blocks
// unloading.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	errs := []error{r.deactivateAllLocked(ctx)}
	for _, inst := range slices.Backward(r.all()) {
		if err := r.unloadOne(ctx, inst); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Checkpoint persists the status variables of every active module without
// deactivating it.
func (r *Registry) Checkpoint(ctx context.Context) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	var errs []error
	saved := 0
	for _, inst := range r.all() {
		if inst.State() != StateActivated {
			continue
		}
		if err := r.persistStatus(ctx, inst); err != nil {
			errs = append(errs, err)
			continue
		}
		saved++
	}
	r.events.Emit(ctx, EventTypeStatusCheckpoint, map[string]any{"modules": saved})
	return errors.Join(errs...)
}

// prepare looks name up and resolves the graph if it changed.
func (r *Registry) prepare(ctx context.Context, name string) (*Instance, error) {
	inst, err := r.Instance(name)
	if err != nil {
		return nil, err
	}
	if r.isDirty() {
		// Per-module errors are recorded on the instances and surface below.
		_ = r.resolveLocked(ctx)
	}
	return inst, nil
}

func (r *Registry) activateLocked(ctx context.Context, inst *Instance, mode ActivationMode) error {
	if mode == ActivateSingle {
		return r.activateOne(ctx, inst)
	}

	if err := inst.blockingErr(); err != nil {
		return err
	}
	plan, err := dependencyClosure(inst)
	if err != nil {
		return err
	}
	for _, dep := range plan {
		if dep == inst {
			break
		}
		if err := r.activateOne(ctx, dep); err != nil {
			return fmt.Errorf("%w: %q requires %q: %w", ErrDependencyNotActive, inst.name, dep.name, err)
		}
	}
	return r.activateOne(ctx, inst)
}

// activateOne activates a single module whose dependencies must be active.
func (r *Registry) activateOne(ctx context.Context, inst *Instance) error {
	switch state := inst.State(); state {
	case StateActivated:
		return nil
	case StateDeactivated:
	default:
		return &TransitionError{Module: inst.name, From: state, Op: "activate"}
	}
	if err := inst.blockingErr(); err != nil {
		return err
	}
	for _, dep := range inst.mandatoryTargets() {
		if dep.State() != StateActivated {
			return fmt.Errorf("%w: %q requires %q which is %s", ErrDependencyNotActive, inst.name, dep.name, dep.State())
		}
	}

	r.restoreStatus(ctx, inst)
	inst.dropInactiveOptional()

	if err := callHook(ctx, inst, "activate", inst.Module().OnActivate); err != nil {
		r.transition(ctx, inst, StateBroken, err)
		return err
	}
	r.transition(ctx, inst, StateActivated, nil)
	return nil
}

func (r *Registry) deactivateOne(ctx context.Context, inst *Instance) error {
	switch state := inst.State(); state {
	case StateDeactivated:
		return nil
	case StateActivated:
	default:
		return &TransitionError{Module: inst.name, From: state, Op: "deactivate"}
	}
	if dependents := r.activeDependents(inst); len(dependents) > 0 {
		return &StillDependedError{Module: inst.name, Dependents: dependents}
	}

	if err := callHook(ctx, inst, "deactivate", inst.Module().OnDeactivate); err != nil {
		r.transition(ctx, inst, StateBroken, err)
		return err
	}
	if err := r.persistStatus(ctx, inst); err != nil {
		r.logger.Error("Status not persisted", "module", inst.name, "error", err)
	}
	r.transition(ctx, inst, StateDeactivated, nil)
	return nil
}

func (r *Registry) deactivateAllLocked(ctx context.Context) error {
	var errs []error
	pending := make(map[*Instance]bool)
	for _, inst := range r.all() {
		if inst.State() == StateActivated {
			pending[inst] = true
		}
	}
	for len(pending) > 0 {
		progressed := false
		for _, inst := range r.all() {
			if !pending[inst] || len(r.activeDependents(inst)) > 0 {
				continue
			}
			delete(pending, inst)
			progressed = true
			if err := r.deactivateOne(ctx, inst); err != nil {
				errs = append(errs, err)
			}
		}
		if !progressed {
			for inst := range maps.Keys(pending) {
				errs = append(errs, &StillDependedError{Module: inst.name, Dependents: r.activeDependents(inst)})
			}
			break
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) unloadOne(ctx context.Context, inst *Instance) error {
	switch state := inst.State(); state {
	case StateDeactivated, StateBroken:
	default:
		return &TransitionError{Module: inst.name, From: state, Op: "unload"}
	}
	if dependents := r.activeDependents(inst); len(dependents) > 0 {
		return &StillDependedError{Module: inst.name, Dependents: dependents}
	}

	r.mu.Lock()
	delete(r.instances, inst.name)
	for name, e := range r.exposures {
		if e.Instance == inst {
			delete(r.exposures, name)
		}
	}
	others := make([]*Instance, 0, len(r.instances))
	for _, other := range r.instances {
		others = append(others, other)
	}
	r.dirty = true
	r.mu.Unlock()

	for _, other := range others {
		other.unbind(inst)
	}
	if closer, ok := inst.Module().(io.Closer); ok {
		if err := closer.Close(); err != nil {
			r.logger.Warn("Module close failed", "module", inst.name, "error", err)
		}
	}
	r.transition(ctx, inst, StateUnloaded, nil)
	return nil
}

// activeDependents lists the activated modules holding a binding to inst.
func (r *Registry) activeDependents(inst *Instance) []string {
	var out []string
	for _, other := range r.all() {
		if other != inst && other.State() == StateActivated && other.bindsTo(inst) {
			out = append(out, other.name)
		}
	}
	return out
}

// restoreStatus loads persisted representations into inst. Values that
// cannot be loaded or reconstructed keep their defaults.
func (r *Registry) restoreStatus(ctx context.Context, inst *Instance) {
	vars := inst.class.statusVars
	if len(vars) == 0 {
		return
	}
	stored, err := r.store.LoadStatus(ctx, inst.name)
	if err != nil {
		r.logger.Error("Status not loaded, using defaults", "module", inst.name, "error", err)
		stored = nil
	}

	values := make(map[string]any, len(vars))
	for name, sv := range vars {
		values[name] = cloneValue(sv.Default)
		repr, ok := stored[name]
		if !ok {
			continue
		}
		v, err := sv.FromRepresentation(repr)
		if err == nil && sv.Constructor == nil && sv.Default != nil {
			// Stores may widen numbers (TOML decodes every integer as int64).
			v, err = coerceLike(v, sv.Default)
		}
		if err != nil {
			r.logger.Warn("Status value not restored, using default", "module", inst.name, "status", name, "error", err)
			continue
		}
		values[name] = v
	}

	inst.mu.Lock()
	inst.status = values
	inst.mu.Unlock()
}

// persistStatus writes the representation of every status variable of inst.
func (r *Registry) persistStatus(ctx context.Context, inst *Instance) error {
	vars := inst.class.statusVars
	if len(vars) == 0 {
		return nil
	}
	inst.mu.RLock()
	live := maps.Clone(inst.status)
	inst.mu.RUnlock()

	reprs := make(map[string]any, len(vars))
	var errs []error
	for name, sv := range vars {
		repr, err := sv.ToRepresentation(live[name])
		if err != nil {
			errs = append(errs, fmt.Errorf("%s.%s: %w", inst.name, name, err))
			continue
		}
		reprs[name] = repr
	}
	if err := r.store.SaveStatus(ctx, inst.name, reprs); err != nil {
		errs = append(errs, fmt.Errorf("save status of %q: %w", inst.name, err))
	}
	if err := errors.Join(errs...); err != nil {
		r.events.Emit(ctx, EventTypeStatusPersistFailed, map[string]any{"module": inst.name, "error": err.Error()})
		return err
	}
	return nil
}

// callHook runs a module hook, converting panics into hook failures.
func callHook(ctx context.Context, inst *Instance, hook string, fn func(context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &HookError{Module: inst.name, Hook: hook, Err: fmt.Errorf("%w: %v", ErrHookPanicked, rec)}
		}
	}()
	if hookErr := fn(ctx); hookErr != nil {
		return &HookError{Module: inst.name, Hook: hook, Err: hookErr}
	}
	return nil
}
