package labmodular

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveBindsByCapability(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Register("hw", providerClass("Hardware", "CounterInterface", nil), ModuleConfig{})
	require.NoError(t, err)
	_, err = reg.Register("logic", consumerClass("Logic", nil, "CounterInterface"), ModuleConfig{})
	require.NoError(t, err)

	require.NoError(t, reg.Resolve())
	inst, _ := reg.Instance("logic")
	assert.Equal(t, map[string]string{"counterinterface": "hw"}, inst.Bindings())

	order, err := reg.Order()
	require.NoError(t, err)
	assert.Equal(t, []string{"hw", "logic"}, order)
}

func TestResolveUnresolvedDependency(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Register("logic", consumerClass("Logic", nil, "CounterInterface"), ModuleConfig{})
	require.NoError(t, err)
	_, err = reg.Register("free", providerClass("Free", "", nil), ModuleConfig{})
	require.NoError(t, err)

	err = reg.Resolve()
	var unresolved *UnresolvedDependencyError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, "logic", unresolved.Module)
	assert.Equal(t, "CounterInterface", unresolved.Capability)

	inst, _ := reg.Instance("logic")
	assert.ErrorIs(t, inst.Err(), ErrUnresolvedDependency)

	// Unaffected modules stay activatable.
	require.NoError(t, reg.Activate(context.Background(), "free", ActivateWithDependencies))
	err = reg.Activate(context.Background(), "logic", ActivateWithDependencies)
	assert.ErrorIs(t, err, ErrUnresolvedDependency)
	assert.Equal(t, StateDeactivated, reg.State("logic"))
}

func TestResolveOptionalMissingIsFine(t *testing.T) {
	class := MustResolveClass(ClassDef{
		Name:   "Opt",
		Fields: []Field{{Attr: "aux", Descriptor: Connector{Capability: "Aux", Optional: true}}},
	})
	reg := NewRegistry()
	_, err := reg.Register("opt", class, ModuleConfig{})
	require.NoError(t, err)
	require.NoError(t, reg.Resolve())
	inst, _ := reg.Instance("opt")
	assert.Equal(t, map[string]string{"aux": ""}, inst.Bindings())
}

func TestResolveAmbiguousCapability(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"hw1", "hw2"} {
		_, err := reg.Register(name, providerClass("Hardware", "CounterInterface", nil), ModuleConfig{})
		require.NoError(t, err)
	}
	_, err := reg.Register("logic", consumerClass("Logic", nil, "CounterInterface"), ModuleConfig{})
	require.NoError(t, err)

	err = reg.Resolve()
	var ambiguous *AmbiguousCapabilityError
	require.ErrorAs(t, err, &ambiguous)
	assert.Equal(t, []string{"hw1", "hw2"}, ambiguous.Candidates)
	assert.ErrorIs(t, err, ErrAmbiguousCapability)
}

func TestResolveConnectPinsTarget(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"hw1", "hw2"} {
		_, err := reg.Register(name, providerClass("Hardware", "CounterInterface", nil), ModuleConfig{})
		require.NoError(t, err)
	}
	_, err := reg.Register("logic", consumerClass("Logic", nil, "CounterInterface"), ModuleConfig{
		Connect: map[string]string{"counterinterface": "hw2"},
	})
	require.NoError(t, err)
	require.NoError(t, reg.Resolve())

	inst, _ := reg.Instance("logic")
	assert.Equal(t, "hw2", inst.Bindings()["counterinterface"])
}

func TestResolvePinnedTargetWithoutCapability(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Register("other", providerClass("Other", "Display", nil), ModuleConfig{})
	require.NoError(t, err)
	_, err = reg.Register("logic", consumerClass("Logic", nil, "CounterInterface"), ModuleConfig{
		Connect: map[string]string{"counterinterface": "other"},
	})
	require.NoError(t, err)

	err = reg.Resolve()
	var unresolved *UnresolvedDependencyError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, "other", unresolved.Target)
}

func TestResolveNeverBindsSelf(t *testing.T) {
	class := MustResolveClass(ClassDef{
		Name:         "Relay",
		Capabilities: []string{"Link"},
		Fields:       []Field{{Attr: "next", Descriptor: Connector{Capability: "Link"}}},
	})
	reg := NewRegistry()
	_, err := reg.Register("relay", class, ModuleConfig{})
	require.NoError(t, err)
	assert.ErrorIs(t, reg.Resolve(), ErrUnresolvedDependency)
}

func TestResolveCycle(t *testing.T) {
	a := MustResolveClass(ClassDef{Name: "A", Fields: []Field{{Attr: "b", Descriptor: Connector{Capability: "B"}}}})
	b := MustResolveClass(ClassDef{Name: "B", Fields: []Field{{Attr: "a", Descriptor: Connector{Capability: "A"}}}})
	c := consumerClass("C", nil, "A")

	reg := NewRegistry()
	for name, class := range map[string]*Class{"a": a, "b": b, "c": c} {
		_, err := reg.Register(name, class, ModuleConfig{})
		require.NoError(t, err)
	}
	_, err := reg.Register("free", providerClass("Free", "", nil), ModuleConfig{})
	require.NoError(t, err)

	err = reg.Resolve()
	var cycle *DependencyCycleError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"a", "b"}, cycle.Members)

	order, _ := reg.Order()
	assert.Equal(t, []string{"free"}, order)

	for _, name := range []string{"a", "b"} {
		inst, _ := reg.Instance(name)
		assert.ErrorIs(t, inst.Err(), ErrDependencyCycle)
	}

	// The cycle is reported once even though both members carry it.
	var cycles int
	for _, e := range err.(interface{ Unwrap() []error }).Unwrap() {
		if errors.Is(e, ErrDependencyCycle) {
			cycles++
		}
	}
	assert.Equal(t, 1, cycles)

	ctx := context.Background()
	assert.ErrorIs(t, reg.Activate(ctx, "c", ActivateWithDependencies), ErrDependencyCycle)
	require.NoError(t, reg.Activate(ctx, "free", ActivateWithDependencies))
}

func TestResolveOptionalEdgesDoNotFormCycles(t *testing.T) {
	a := MustResolveClass(ClassDef{Name: "A", Fields: []Field{{Attr: "b", Descriptor: Connector{Capability: "B"}}}})
	b := MustResolveClass(ClassDef{Name: "B", Fields: []Field{{Attr: "a", Descriptor: Connector{Capability: "A", Optional: true}}}})
	reg := NewRegistry()
	_, err := reg.Register("a", a, ModuleConfig{})
	require.NoError(t, err)
	_, err = reg.Register("b", b, ModuleConfig{})
	require.NoError(t, err)

	require.NoError(t, reg.Resolve())
	order, err := reg.Order()
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, order)
}

func TestOrderResolvesWhenDirty(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Register("z", providerClass("Z", "", nil), ModuleConfig{})
	require.NoError(t, err)
	_, err = reg.Register("a", providerClass("A", "", nil), ModuleConfig{})
	require.NoError(t, err)

	order, err := reg.Order()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "z"}, order)
}

func TestResolveKeepsActiveBindings(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()
	_, err := reg.Register("hw1", providerClass("Hardware", "CounterInterface", nil), ModuleConfig{})
	require.NoError(t, err)
	_, err = reg.Register("logic", consumerClass("Logic", nil, "CounterInterface"), ModuleConfig{})
	require.NoError(t, err)
	require.NoError(t, reg.Activate(ctx, "logic", ActivateWithDependencies))

	_, err = reg.Register("hw2", providerClass("Hardware", "CounterInterface", nil), ModuleConfig{})
	require.NoError(t, err)
	require.NoError(t, reg.Resolve())

	inst, _ := reg.Instance("logic")
	assert.Equal(t, "hw1", inst.Bindings()["counterinterface"])
	assert.Equal(t, StateActivated, inst.State())
}

func TestFindCycles(t *testing.T) {
	graph := map[string][]string{
		"a": {"b"},
		"b": {"c"},
		"c": {"a"},
		"d": {"d"},
		"e": {"a"},
	}
	assert.Equal(t, [][]string{{"a", "b", "c"}, {"d"}}, findCycles(graph))
}

func TestTopoOrderSkipsDependents(t *testing.T) {
	graph := map[string][]string{
		"app":  {"db", "log"},
		"db":   {"log"},
		"log":  {},
		"side": {"bad"},
		"bad":  {},
	}
	order := topoOrder(graph, map[string]bool{"bad": true})
	assert.Equal(t, []string{"log", "db", "app"}, order)
}
