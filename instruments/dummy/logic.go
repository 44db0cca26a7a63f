package dummy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/GoCodeAlone/labmodular"
)

// Reading is one sample taken by CounterLogic.
type Reading struct {
	Count       int64    `json:"count"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// CounterLogicClass drives a counter and, when one is available, samples a
// thermometer alongside it. "samples" counts the readings taken and is
// persisted.
var CounterLogicClass = labmodular.MustResolveClass(labmodular.ClassDef{
	Name: "CounterLogic",
	Fields: []labmodular.Field{
		{Attr: "counter", Descriptor: labmodular.Connector{Capability: CounterCapability}},
		{Attr: "thermometer", Descriptor: labmodular.Connector{Capability: ThermometerCapability, Optional: true}},
		{Attr: "samples", Descriptor: labmodular.StatusVar{Default: int64(0)}},
	},
	Factory: func(inst *labmodular.Instance) (labmodular.Module, error) {
		return &CounterLogic{inst: inst}, nil
	},
})

// CounterLogic is the module of CounterLogicClass.
type CounterLogic struct {
	inst *labmodular.Instance

	mu          sync.Mutex
	counter     Counter
	thermometer Thermometer
	samples     int64
}

func (l *CounterLogic) OnActivate(context.Context) error {
	counter, err := labmodular.ConnectorAs[Counter](l.inst, "counter")
	if err != nil {
		return err
	}
	thermometer, err := labmodular.ConnectorAs[Thermometer](l.inst, "thermometer")
	if err != nil && !errors.Is(err, labmodular.ErrConnectorUnbound) {
		return err
	}
	samples, err := labmodular.StatusAs[int64](l.inst, "samples")
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counter, l.thermometer, l.samples = counter, thermometer, samples
	return nil
}

func (l *CounterLogic) OnDeactivate(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counter, l.thermometer = nil, nil
	return l.inst.SetStatus("samples", l.samples)
}

// Sample increments the counter by n and reads the thermometer if bound.
func (l *CounterLogic) Sample(ctx context.Context, n int64) (Reading, error) {
	l.mu.Lock()
	counter, thermometer := l.counter, l.thermometer
	l.mu.Unlock()
	if counter == nil {
		return Reading{}, ErrInactive
	}

	count, err := counter.Increment(ctx, n)
	if err != nil {
		return Reading{}, fmt.Errorf("increment counter: %w", err)
	}
	r := Reading{Count: count}
	if thermometer != nil {
		t, err := thermometer.Temperature(ctx)
		if err != nil {
			return Reading{}, fmt.Errorf("read thermometer: %w", err)
		}
		r.Temperature = &t
	}

	l.mu.Lock()
	l.samples++
	err = l.inst.SetStatus("samples", l.samples)
	l.mu.Unlock()
	return r, err
}

// Samples returns how many readings were taken, including earlier
// activations.
func (l *CounterLogic) Samples() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.samples
}
