package dummy

import (
	"context"
	"math/rand/v2"
	"reflect"
	"sync"

	"github.com/GoCodeAlone/labmodular"
)

// ThermometerCapability is advertised by modules implementing Thermometer.
const ThermometerCapability = "Thermometer"

// Thermometer reads a temperature in degrees Celsius.
type Thermometer interface {
	Temperature(ctx context.Context) (float64, error)
	SetOffset(ctx context.Context, offset float64) error
}

// TempSensorClass reports "base" plus a calibration offset plus uniform
// noise of up to "noise" degrees. The offset is kept as a status variable.
var TempSensorClass = labmodular.MustResolveClass(labmodular.ClassDef{
	Name: "TempSensor",
	Fields: []labmodular.Field{
		{Attr: "base", Descriptor: labmodular.ConfigOption{Default: 21.0, Missing: labmodular.MissingWarn}},
		{Attr: "noise", Descriptor: labmodular.ConfigOption{
			Default: 0.0,
			Checker: func(v any) bool { return v.(float64) >= 0 },
		}},
		{Attr: "offset", Descriptor: labmodular.StatusVar{Default: 0.0}},
	},
	Capabilities:    []string{ThermometerCapability},
	RemoteInterface: reflect.TypeFor[Thermometer](),
	Factory: func(inst *labmodular.Instance) (labmodular.Module, error) {
		base, err := labmodular.OptionAs[float64](inst, "base")
		if err != nil {
			return nil, err
		}
		noise, err := labmodular.OptionAs[float64](inst, "noise")
		if err != nil {
			return nil, err
		}
		return &TempSensor{inst: inst, base: base, noise: noise}, nil
	},
})

// TempSensor is the module of TempSensorClass.
type TempSensor struct {
	inst  *labmodular.Instance
	base  float64
	noise float64

	mu     sync.Mutex
	active bool
	offset float64
}

func (s *TempSensor) OnActivate(context.Context) error {
	offset, err := labmodular.StatusAs[float64](s.inst, "offset")
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offset = offset
	s.active = true
	return nil
}

func (s *TempSensor) OnDeactivate(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	return s.inst.SetStatus("offset", s.offset)
}

func (s *TempSensor) Temperature(context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return 0, ErrInactive
	}
	t := s.base + s.offset
	if s.noise > 0 {
		t += (rand.Float64()*2 - 1) * s.noise
	}
	return t, nil
}

func (s *TempSensor) SetOffset(_ context.Context, offset float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return ErrInactive
	}
	s.offset = offset
	return s.inst.SetStatus("offset", offset)
}
