package labmodular

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"testing"

	"pgregory.net/rapid"
)

// Activation and deactivation order respect every mandatory edge of a random
// acyclic graph.
func TestActivationOrderRespectsDependenciesProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(t, "modules")
		j := &journal{}
		reg := NewRegistry()
		deps := make(map[string][]string, n)

		for i := range n {
			name := fmt.Sprintf("m%d", i)
			var fields []Field
			for k := range i {
				if rapid.Bool().Draw(t, fmt.Sprintf("edge_%d_%d", i, k)) {
					dep := fmt.Sprintf("m%d", k)
					deps[name] = append(deps[name], dep)
					fields = append(fields, Field{Attr: "to_" + dep, Descriptor: Connector{Capability: "cap_" + dep}})
				}
			}
			class := MustResolveClass(ClassDef{
				Name:         "Class" + name,
				Capabilities: []string{"cap_" + name},
				Fields:       fields,
				Factory:      journaled(j, nil, nil),
			})
			if _, err := reg.Register(name, class, ModuleConfig{}); err != nil {
				t.Fatalf("register %s: %v", name, err)
			}
		}

		ctx := context.Background()
		if err := reg.ActivateAll(ctx); err != nil {
			t.Fatalf("activate all: %v", err)
		}
		if err := reg.DeactivateAll(ctx); err != nil {
			t.Fatalf("deactivate all: %v", err)
		}

		calls := j.list()
		if len(calls) != 2*n {
			t.Fatalf("expected %d hook calls, got %v", 2*n, calls)
		}
		for module, ds := range deps {
			for _, d := range ds {
				if slices.Index(calls, "activate:"+d) > slices.Index(calls, "activate:"+module) {
					t.Fatalf("%s activated before its dependency %s: %v", module, d, calls)
				}
				if slices.Index(calls, "deactivate:"+d) < slices.Index(calls, "deactivate:"+module) {
					t.Fatalf("%s deactivated after its dependency %s: %v", module, d, calls)
				}
			}
		}
	})
}

// Status values survive a deactivate/activate cycle through their
// representation.
func TestStatusRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		value := rapid.Int().Draw(t, "value")
		label := rapid.String().Draw(t, "label")

		class := MustResolveClass(ClassDef{
			Name: "Stateful",
			Fields: []Field{
				{Attr: "value", Descriptor: StatusVar{
					Default:     0,
					Representer: func(v any) (any, error) { return strconv.Itoa(v.(int)), nil },
					Constructor: func(r any) (any, error) { return strconv.Atoi(r.(string)) },
				}},
				{Attr: "label", Descriptor: StatusVar{Default: ""}},
			},
		})
		reg := NewRegistry()
		if _, err := reg.Register("s", class, ModuleConfig{}); err != nil {
			t.Fatal(err)
		}
		ctx := context.Background()
		inst, _ := reg.Instance("s")

		if err := reg.Activate(ctx, "s", ActivateSingle); err != nil {
			t.Fatal(err)
		}
		_ = inst.SetStatus("value", value)
		_ = inst.SetStatus("label", label)
		if err := reg.Deactivate(ctx, "s"); err != nil {
			t.Fatal(err)
		}
		_ = inst.SetStatus("value", 0)
		_ = inst.SetStatus("label", "")
		if err := reg.Activate(ctx, "s", ActivateSingle); err != nil {
			t.Fatal(err)
		}

		gotValue, _ := StatusAs[int](inst, "value")
		gotLabel, _ := StatusAs[string](inst, "label")
		if gotValue != value || gotLabel != label {
			t.Fatalf("restored (%d, %q), want (%d, %q)", gotValue, gotLabel, value, label)
		}
	})
}

// Class resolution never lets a base override the class's own declaration.
func TestOwnFieldsWinProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		baseDefault := rapid.Int().Draw(t, "base")
		ownDefault := rapid.Int().Draw(t, "own")
		bases := rapid.IntRange(1, 4).Draw(t, "bases")

		var baseClasses []*Class
		for i := range bases {
			baseClasses = append(baseClasses, MustResolveClass(ClassDef{
				Name:   fmt.Sprintf("Base%d", i),
				Fields: []Field{{Attr: "opt", Descriptor: ConfigOption{Default: baseDefault + i}}},
			}))
		}
		order := rapid.SampledFrom([]MergeOrder{EarlierBaseWins, LaterBaseWins}).Draw(t, "order")
		c := MustResolveClass(ClassDef{
			Name:   "Child",
			Bases:  baseClasses,
			Fields: []Field{{Attr: "opt", Descriptor: ConfigOption{Default: ownDefault}}},
		}, WithMergeOrder(order))

		opt, _ := c.ConfigOption("opt")
		if opt.Default != ownDefault {
			t.Fatalf("default %v, want own %d", opt.Default, ownDefault)
		}
	})
}
