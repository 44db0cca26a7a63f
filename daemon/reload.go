package daemon

import (
	"context"
	"errors"
	"maps"
	"reflect"
	"slices"

	"github.com/GoCodeAlone/labmodular"
	"github.com/GoCodeAlone/labmodular/feeders"
)

// Changes is the module-level difference between two configurations.
type Changes struct {
	Added   []string
	Removed []string
	Changed []string
}

// Empty reports whether no module differs.
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Changed) == 0
}

// Diff compares the module sections of two configurations. Names are sorted.
func Diff(prev, next *feeders.SuiteConfig) Changes {
	var c Changes
	for _, name := range next.ModuleNames() {
		old, ok := prev.Modules[name]
		switch {
		case !ok:
			c.Added = append(c.Added, name)
		case !reflect.DeepEqual(old, next.Modules[name]):
			c.Changed = append(c.Changed, name)
		}
	}
	for _, name := range prev.ModuleNames() {
		if _, ok := next.Modules[name]; !ok {
			c.Removed = append(c.Removed, name)
		}
	}
	return c
}

// reload is the configuration watcher callback.
func (d *Daemon) reload(ctx context.Context) {
	next, err := feeders.LoadFile(d.configPath, d.feeders...)
	if err != nil {
		d.logger.Error("Configuration not reloaded", "path", d.configPath, "error", err)
		return
	}
	if err := d.Apply(ctx, next); err != nil {
		d.logger.Error("Configuration partially applied", "error", err)
	}
}

// Apply brings the registry in line with next. Removed modules are
// unloaded, added modules registered and changed modules re-registered.
// Active modules that depend on a replaced module are deactivated first and
// every module that was active is activated again afterwards. Global
// settings take effect on the next start only.
func (d *Daemon) Apply(ctx context.Context, next *feeders.SuiteConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	changes := Diff(d.cfg, next)
	if !reflect.DeepEqual(d.cfg.Global, next.Global) {
		d.logger.Warn("Global settings changed; restart to apply them")
	}
	if changes.Empty() {
		d.logger.Debug("Configuration reloaded without module changes")
		return nil
	}
	d.logger.Info("Applying configuration",
		"added", changes.Added, "removed", changes.Removed, "changed", changes.Changed)

	replaced := append(slices.Clone(changes.Removed), changes.Changed...)
	affected := d.activeDependents(replaced)

	errs := []error{d.deactivateModules(ctx, affected)}

	applied := maps.Clone(d.cfg.Modules)
	for _, name := range replaced {
		if err := d.registry.Unload(ctx, name); err != nil {
			// The old instance stays; so does its configuration.
			errs = append(errs, err)
			continue
		}
		delete(applied, name)
	}
	for _, name := range append(slices.Clone(changes.Added), changes.Changed...) {
		if _, kept := applied[name]; kept {
			continue
		}
		if err := d.register(name, next.Modules[name]); err != nil {
			errs = append(errs, err)
			continue
		}
		applied[name] = next.Modules[name]
	}

	if err := d.registry.Resolve(); err != nil {
		d.logger.Warn("Some modules cannot be activated", "error", err)
	}
	order, _ := d.registry.Order()
	for _, name := range order {
		if !affected[name] {
			continue
		}
		if err := d.registry.Activate(ctx, name, labmodular.ActivateWithDependencies); err != nil {
			errs = append(errs, err)
		}
	}
	for _, name := range changes.Added {
		if d.started && (len(next.Global.Start) == 0 || slices.Contains(next.Global.Start, name)) {
			if err := d.registry.Activate(ctx, name, labmodular.ActivateWithDependencies); err != nil {
				errs = append(errs, err)
			}
		}
	}

	cfg := *next
	cfg.Global = d.cfg.Global
	cfg.Modules = applied
	d.cfg = &cfg
	return errors.Join(errs...)
}

// deactivateModules deactivates the named modules, dependents first. Optional
// bindings are not part of the activation order, so modules still depended
// on are retried until a pass makes no progress.
func (d *Daemon) deactivateModules(ctx context.Context, names map[string]bool) error {
	var failed []error
	pending := slices.Sorted(maps.Keys(names))
	for len(pending) > 0 {
		var (
			next     []string
			depended []error
		)
		for _, name := range pending {
			err := d.registry.Deactivate(ctx, name)
			switch {
			case errors.Is(err, labmodular.ErrStillDepended):
				next = append(next, name)
				depended = append(depended, err)
			case err != nil:
				failed = append(failed, err)
			}
		}
		if len(next) == len(pending) {
			failed = append(failed, depended...)
			break
		}
		pending = next
	}
	return errors.Join(failed...)
}

// activeDependents returns the active modules among names and every active
// module that transitively binds to one of them.
func (d *Daemon) activeDependents(names []string) map[string]bool {
	snapshot := d.registry.Snapshot()
	affected := make(map[string]bool)
	frontier := slices.Clone(names)
	for len(frontier) > 0 {
		target := frontier[0]
		frontier = frontier[1:]
		if affected[target] {
			continue
		}
		for _, info := range snapshot {
			if info.Name == target && info.State == labmodular.StateActivated {
				affected[target] = true
			}
		}
		for _, info := range snapshot {
			if info.State != labmodular.StateActivated || affected[info.Name] {
				continue
			}
			for _, bound := range info.Bindings {
				if bound == target {
					frontier = append(frontier, info.Name)
					break
				}
			}
		}
	}
	return affected
}
