package labmodular

import (
	"context"
	"errors"
	"slices"
	"sort"
)

// Resolve binds every connector of every inactive module and computes the
// activation order. Errors are recorded on the affected instances, which stay
// blocked until a later Resolve succeeds for them; other modules remain
// activatable. The returned error joins every per-module failure.
//
// Activated modules keep their bindings, so resolving never rewires a
// running module.
func (r *Registry) Resolve() error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	return r.resolveLocked(context.Background())
}

// Order returns the activation order computed by the last Resolve, resolving
// first if the table changed since. Modules in a dependency cycle are absent.
func (r *Registry) Order() ([]string, error) {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	var err error
	if r.isDirty() {
		err = r.resolveLocked(context.Background())
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order), err
}

func (r *Registry) isDirty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dirty
}

func (r *Registry) resolveLocked(ctx context.Context) error {
	instances := r.all()
	byName := make(map[string]*Instance, len(instances))
	for _, inst := range instances {
		byName[inst.name] = inst
	}

	problems := make(map[string][]error)
	for _, inst := range instances {
		if inst.State() == StateActivated {
			continue
		}
		bindings, errs := r.bind(inst, instances, byName)
		inst.mu.Lock()
		inst.bindings = bindings
		inst.mu.Unlock()
		if len(errs) > 0 {
			problems[inst.name] = errs
		}
	}

	graph := make(map[string][]string, len(instances))
	for _, inst := range instances {
		deps := make([]string, 0)
		for _, dep := range inst.mandatoryTargets() {
			deps = append(deps, dep.name)
		}
		graph[inst.name] = deps
	}

	inCycle := make(map[string]bool)
	for _, members := range findCycles(graph) {
		cycleErr := &DependencyCycleError{Members: members}
		for _, m := range members {
			inCycle[m] = true
			problems[m] = append(problems[m], cycleErr)
		}
	}

	order := topoOrder(graph, inCycle)

	var all []error
	for _, inst := range instances {
		err := errors.Join(problems[inst.name]...)
		inst.mu.Lock()
		inst.resolveErr = err
		inst.mu.Unlock()
		if err != nil {
			all = append(all, problems[inst.name]...)
		}
	}
	all = dedupeErrors(all)

	r.mu.Lock()
	r.order = order
	r.dirty = false
	r.mu.Unlock()

	if len(all) > 0 {
		err := errors.Join(all...)
		r.logger.Warn("Dependency resolution incomplete", "error", err)
		r.events.Emit(ctx, EventTypeGraphResolveFailed, map[string]any{"error": err.Error()})
		return err
	}
	r.logger.Debug("Dependencies resolved", "order", order)
	r.events.Emit(ctx, EventTypeGraphResolved, map[string]any{"order": order})
	return nil
}

// bind computes the connector bindings of inst.
func (r *Registry) bind(inst *Instance, instances []*Instance, byName map[string]*Instance) (map[string]*Instance, []error) {
	bindings := make(map[string]*Instance, len(inst.class.connectors))
	var errs []error
	for _, name := range inst.class.sortedConnectorNames() {
		c := inst.class.connectors[name]
		bindings[name] = nil

		if pinned, ok := inst.connect[name]; ok {
			target := byName[pinned]
			if target == nil || target == inst || !target.class.Provides(c.Capability) {
				if c.Optional {
					r.logger.Warn("Pinned optional connector target unavailable", "module", inst.name, "connector", name, "target", pinned)
					continue
				}
				errs = append(errs, &UnresolvedDependencyError{Module: inst.name, Connector: name, Capability: c.Capability, Target: pinned})
				continue
			}
			bindings[name] = target
			continue
		}

		var candidates []*Instance
		for _, other := range instances {
			if other != inst && other.class.Provides(c.Capability) {
				candidates = append(candidates, other)
			}
		}
		switch len(candidates) {
		case 0:
			if !c.Optional {
				errs = append(errs, &UnresolvedDependencyError{Module: inst.name, Connector: name, Capability: c.Capability})
			}
		case 1:
			bindings[name] = candidates[0]
		default:
			names := make([]string, len(candidates))
			for i, cand := range candidates {
				names[i] = cand.name
			}
			errs = append(errs, &AmbiguousCapabilityError{Module: inst.name, Connector: name, Capability: c.Capability, Candidates: names})
		}
	}
	return bindings, errs
}

// findCycles returns the members of every strongly connected component that
// contains a cycle, using Tarjan's algorithm. Members are sorted; components
// are ordered by their first member.
func findCycles(graph map[string][]string) [][]string {
	var (
		index   int
		stack   []string
		onStack = make(map[string]bool)
		indices = make(map[string]int)
		low     = make(map[string]int)
		cycles  [][]string
	)

	var strongConnect func(v string)
	strongConnect = func(v string) {
		indices[v] = index
		low[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, seen := indices[w]; !seen {
				strongConnect(w)
				low[v] = min(low[v], low[w])
			} else if onStack[w] {
				low[v] = min(low[v], indices[w])
			}
		}

		if low[v] != indices[v] {
			return
		}
		var component []string
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			component = append(component, w)
			if w == v {
				break
			}
		}
		if len(component) > 1 || slices.Contains(graph[v], v) {
			sort.Strings(component)
			cycles = append(cycles, component)
		}
	}

	nodes := make([]string, 0, len(graph))
	for v := range graph {
		nodes = append(nodes, v)
	}
	sort.Strings(nodes)
	for _, v := range nodes {
		if _, seen := indices[v]; !seen {
			strongConnect(v)
		}
	}
	sort.Slice(cycles, func(i, j int) bool { return cycles[i][0] < cycles[j][0] })
	return cycles
}

// topoOrder returns the nodes of graph with dependencies before dependents.
// Nodes in skip, and nodes depending on them, are left out. Ties break
// alphabetically.
func topoOrder(graph map[string][]string, skip map[string]bool) []string {
	nodes := make(map[string]bool)
	for v, deps := range graph {
		nodes[v] = true
		for _, d := range deps {
			nodes[d] = true
		}
	}
	names := make([]string, 0, len(nodes))
	for v := range nodes {
		names = append(names, v)
	}
	sort.Strings(names)

	var (
		order   []string
		done    = make(map[string]bool)
		blocked = make(map[string]bool)
	)
	var visit func(v string) bool
	visit = func(v string) bool {
		if done[v] {
			return true
		}
		if blocked[v] || skip[v] {
			return false
		}
		// Graphs handed to topoOrder have their cycles in skip, so marking
		// before recursing cannot hide a back edge.
		blocked[v] = true
		deps := slices.Clone(graph[v])
		sort.Strings(deps)
		for _, d := range deps {
			if !visit(d) {
				return false
			}
		}
		blocked[v] = false
		done[v] = true
		order = append(order, v)
		return true
	}
	for _, v := range names {
		visit(v)
	}
	return order
}

// dependencyClosure lists inst and its transitive mandatory dependencies,
// dependencies first.
func dependencyClosure(inst *Instance) ([]*Instance, error) {
	var (
		out      []*Instance
		done     = make(map[*Instance]bool)
		visiting = make(map[*Instance]bool)
		path     []string
	)
	var visit func(i *Instance) error
	visit = func(i *Instance) error {
		if done[i] {
			return nil
		}
		if visiting[i] {
			start := slices.Index(path, i.name)
			members := slices.Clone(path[start:])
			sort.Strings(members)
			return &DependencyCycleError{Members: members}
		}
		visiting[i] = true
		path = append(path, i.name)
		for _, dep := range i.mandatoryTargets() {
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		visiting[i] = false
		done[i] = true
		out = append(out, i)
		return nil
	}
	if err := visit(inst); err != nil {
		return nil, err
	}
	return out, nil
}

// dedupeErrors drops repeated cycle errors, which are recorded once per member.
func dedupeErrors(errs []error) []error {
	seen := make(map[*DependencyCycleError]bool)
	out := errs[:0]
	for _, err := range errs {
		var cycle *DependencyCycleError
		if errors.As(err, &cycle) {
			if seen[cycle] {
				continue
			}
			seen[cycle] = true
		}
		out = append(out, err)
	}
	return out
}
