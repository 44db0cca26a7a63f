package dummy

import (
	"context"
	"errors"
	"reflect"
	"sync"

	"github.com/GoCodeAlone/labmodular"
)

// CounterCapability is advertised by modules implementing Counter.
const CounterCapability = "CounterInterface"

// ErrInactive is returned by instruments used while deactivated.
var ErrInactive = errors.New("instrument is not active")

// Counter is a pulse counter.
type Counter interface {
	Count(ctx context.Context) (int64, error)
	Increment(ctx context.Context, n int64) (int64, error)
	Reset(ctx context.Context) error
}

// SimulatedCounterClass counts in memory. Its count survives deactivation
// through the "count" status variable; "step" scales every increment.
var SimulatedCounterClass = labmodular.MustResolveClass(labmodular.ClassDef{
	Name: "SimulatedCounter",
	Fields: []labmodular.Field{
		{Attr: "step", Descriptor: labmodular.ConfigOption{
			Default: int64(1),
			Missing: labmodular.MissingSilent,
			Checker: func(v any) bool { return v.(int64) > 0 },
		}},
		{Attr: "count", Descriptor: labmodular.StatusVar{Default: int64(0)}},
	},
	Capabilities:    []string{CounterCapability},
	RemoteInterface: reflect.TypeFor[Counter](),
	Factory: func(inst *labmodular.Instance) (labmodular.Module, error) {
		step, err := labmodular.OptionAs[int64](inst, "step")
		if err != nil {
			return nil, err
		}
		return &SimulatedCounter{inst: inst, step: step}, nil
	},
})

// SimulatedCounter is the module of SimulatedCounterClass.
type SimulatedCounter struct {
	inst *labmodular.Instance
	step int64

	mu     sync.Mutex
	active bool
	count  int64
}

func (c *SimulatedCounter) OnActivate(context.Context) error {
	count, err := labmodular.StatusAs[int64](c.inst, "count")
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count = count
	c.active = true
	return nil
}

func (c *SimulatedCounter) OnDeactivate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = false
	return c.inst.SetStatus("count", c.count)
}

func (c *SimulatedCounter) Count(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return 0, ErrInactive
	}
	return c.count, nil
}

func (c *SimulatedCounter) Increment(_ context.Context, n int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return 0, ErrInactive
	}
	c.count += n * c.step
	return c.count, c.inst.SetStatus("count", c.count)
}

func (c *SimulatedCounter) Reset(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return ErrInactive
	}
	c.count = 0
	return c.inst.SetStatus("count", c.count)
}
