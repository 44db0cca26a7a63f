package dummy

import (
	"context"

	"github.com/GoCodeAlone/labmodular"
	"github.com/GoCodeAlone/labmodular/remote"
)

// RemoteCounterClass stands in for a Counter exposed by another process.
var RemoteCounterClass = mustProxyClass(remote.ProxyClassDef{
	Name:         "RemoteCounter",
	Capabilities: []string{CounterCapability},
	Wrap:         func(p *remote.Proxy) any { return NewCounterClient(p) },
})

// RemoteThermometerClass stands in for a Thermometer exposed by another
// process.
var RemoteThermometerClass = mustProxyClass(remote.ProxyClassDef{
	Name:         "RemoteThermometer",
	Capabilities: []string{ThermometerCapability},
	Wrap:         func(p *remote.Proxy) any { return NewThermometerClient(p) },
})

func mustProxyClass(def remote.ProxyClassDef) *labmodular.Class {
	class, err := remote.NewClass(def)
	if err != nil {
		panic(err)
	}
	return class
}

// NewCounterClient returns a Counter that forwards to a remote counter.
func NewCounterClient(p *remote.Proxy) Counter { return counterClient{p: p} }

type counterClient struct{ p *remote.Proxy }

func (c counterClient) Count(ctx context.Context) (int64, error) {
	var n int64
	err := c.p.Call(ctx, "Count", nil, &n)
	return n, err
}

func (c counterClient) Increment(ctx context.Context, n int64) (int64, error) {
	var count int64
	err := c.p.Call(ctx, "Increment", []any{n}, &count)
	return count, err
}

func (c counterClient) Reset(ctx context.Context) error {
	return c.p.Call(ctx, "Reset", nil)
}

// NewThermometerClient returns a Thermometer that forwards to a remote
// thermometer.
func NewThermometerClient(p *remote.Proxy) Thermometer { return thermometerClient{p: p} }

type thermometerClient struct{ p *remote.Proxy }

func (c thermometerClient) Temperature(ctx context.Context) (float64, error) {
	var t float64
	err := c.p.Call(ctx, "Temperature", nil, &t)
	return t, err
}

func (c thermometerClient) SetOffset(ctx context.Context, offset float64) error {
	return c.p.Call(ctx, "SetOffset", []any{offset})
}

// ProxyWrappers maps each capability of this package to the constructor of
// its typed remote client.
func ProxyWrappers() map[string]func(*remote.Proxy) any {
	return map[string]func(*remote.Proxy) any{
		CounterCapability:     func(p *remote.Proxy) any { return NewCounterClient(p) },
		ThermometerCapability: func(p *remote.Proxy) any { return NewThermometerClient(p) },
	}
}

// Catalog returns a catalog of every class in this package.
func Catalog() *labmodular.Catalog {
	c, err := labmodular.NewCatalog(
		SimulatedCounterClass,
		TempSensorClass,
		CounterLogicClass,
		RemoteCounterClass,
		RemoteThermometerClass,
	)
	if err != nil {
		panic(err)
	}
	return c
}
