package labmodular

import (
	"context"
	"fmt"
	"reflect"
	"sort"
)

// ExposedModule is an entry of the remote exposure table: the name remote
// peers use, the instance behind it and the interface they may call.
type ExposedModule struct {
	Name      string
	Instance  *Instance
	Interface reflect.Type
}

// Expose publishes moduleName to remote peers as exposedName. iface limits
// the callable surface; nil uses the class's RemoteInterface. The module must
// implement the interface.
func (r *Registry) Expose(exposedName, moduleName string, iface reflect.Type) error {
	if exposedName == "" {
		return ErrExposureNameEmpty
	}
	inst, err := r.Instance(moduleName)
	if err != nil {
		return err
	}
	return r.expose(exposedName, inst, iface)
}

// expose publishes inst, which must still be the registered instance of its
// name when the table is updated.
func (r *Registry) expose(exposedName string, inst *Instance, iface reflect.Type) error {
	moduleName := inst.name
	if iface == nil {
		iface = inst.class.remoteInterface
	}
	if iface == nil {
		return fmt.Errorf("%w: module %q class %q", ErrExposureNoInterface, moduleName, inst.class.name)
	}
	if iface.Kind() != reflect.Interface {
		return fmt.Errorf("%w: %v", ErrRemoteInterfaceKind, iface)
	}
	if !reflect.TypeOf(inst.Module()).Implements(iface) {
		return fmt.Errorf("%w: module %q (%T) does not implement %v", ErrExposureNotImplements, moduleName, inst.Module(), iface)
	}

	r.mu.Lock()
	if r.instances[moduleName] != inst {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrModuleNotFound, moduleName)
	}
	if _, exists := r.exposures[exposedName]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrExposureExists, exposedName)
	}
	r.exposures[exposedName] = ExposedModule{Name: exposedName, Instance: inst, Interface: iface}
	r.mu.Unlock()

	r.logger.Info("Module exposed", "name", exposedName, "module", moduleName, "interface", iface.String())
	r.events.Emit(context.Background(), EventTypeModuleExposed, map[string]any{
		"name":      exposedName,
		"module":    moduleName,
		"interface": iface.String(),
	})
	return nil
}

// Unexpose removes an exposure. Connections already holding a reference see
// not-found errors on their next call.
func (r *Registry) Unexpose(exposedName string) error {
	r.mu.Lock()
	e, ok := r.exposures[exposedName]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrExposureNotFound, exposedName)
	}
	delete(r.exposures, exposedName)
	r.mu.Unlock()

	r.logger.Info("Module unexposed", "name", exposedName, "module", e.Instance.name)
	r.events.Emit(context.Background(), EventTypeModuleUnexposed, map[string]any{
		"name":   exposedName,
		"module": e.Instance.name,
	})
	return nil
}

// LookupExposed returns the exposure registered under name.
func (r *Registry) LookupExposed(name string) (ExposedModule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.exposures[name]
	if !ok {
		return ExposedModule{}, fmt.Errorf("%w: %s", ErrExposureNotFound, name)
	}
	return e, nil
}

// Exposures lists the exposure table sorted by exposed name.
func (r *Registry) Exposures() []ExposedModule {
	r.mu.RLock()
	out := make([]ExposedModule, 0, len(r.exposures))
	for _, e := range r.exposures {
		out = append(out, e)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
