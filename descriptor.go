package labmodular

import (
	"fmt"
	"math"
	"reflect"

	"github.com/golobby/cast"
)

// DescriptorKind distinguishes the three descriptor variants.
type DescriptorKind int

const (
	KindConnector DescriptorKind = iota
	KindConfigOption
	KindStatusVar
)

func (k DescriptorKind) String() string {
	switch k {
	case KindConnector:
		return "connector"
	case KindConfigOption:
		return "config option"
	case KindStatusVar:
		return "status variable"
	default:
		return fmt.Sprintf("DescriptorKind(%d)", int(k))
	}
}

// Descriptor is a declarative marker attached to a module class. Every
// descriptor name becomes part of the instance's public surface, so names are
// unique across all kinds within one resolved class.
type Descriptor interface {
	DescriptorName() string
	Kind() DescriptorKind

	// renamed returns a copy carrying the given name.
	renamed(name string) Descriptor
}

// Connector declares a dependency on another module by capability rather than
// by concrete class.
type Connector struct {
	Name       string
	Capability string
	Optional   bool
}

func (c Connector) DescriptorName() string { return c.Name }
func (c Connector) Kind() DescriptorKind   { return KindConnector }

func (c Connector) renamed(name string) Descriptor {
	c.Name = name
	return c
}

// MissingPolicy controls what happens when a config option is absent.
type MissingPolicy int

const (
	// MissingSilent uses the default without comment.
	MissingSilent MissingPolicy = iota
	// MissingWarn uses the default and reports a Diagnostic.
	MissingWarn
	// MissingError fails registration with ErrMissingRequiredOption.
	MissingError
)

func (p MissingPolicy) String() string {
	switch p {
	case MissingSilent:
		return "silent"
	case MissingWarn:
		return "warn"
	case MissingError:
		return "error"
	default:
		return fmt.Sprintf("MissingPolicy(%d)", int(p))
	}
}

// ParseMissingPolicy maps the textual policy names used in class manifests.
func ParseMissingPolicy(s string) (MissingPolicy, error) {
	switch s {
	case "", "silent", "nothing":
		return MissingSilent, nil
	case "warn":
		return MissingWarn, nil
	case "error":
		return MissingError, nil
	}
	return MissingSilent, fmt.Errorf("unknown missing policy %q", s)
}

// ConfigOption declares an externally supplied configuration value.
type ConfigOption struct {
	Name    string
	Default any
	Missing MissingPolicy

	// Converter transforms the supplied value before it is checked and stored.
	Converter func(any) (any, error)
	// Checker rejects values that are well-typed but out of range.
	Checker func(any) bool
}

func (o ConfigOption) DescriptorName() string { return o.Name }
func (o ConfigOption) Kind() DescriptorKind   { return KindConfigOption }

func (o ConfigOption) renamed(name string) Descriptor {
	o.Name = name
	return o
}

// value resolves the stored value for this option from a supplied raw value.
func (o ConfigOption) value(raw any) (any, error) {
	v := raw
	switch {
	case o.Converter != nil:
		converted, err := o.Converter(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidOption, o.Name, err)
		}
		v = converted
	case o.Default != nil:
		coerced, err := coerceLike(raw, o.Default)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidOption, o.Name, err)
		}
		v = coerced
	}
	if o.Checker != nil && !o.Checker(v) {
		return nil, fmt.Errorf("%w: %s: value %v rejected by checker", ErrInvalidOption, o.Name, v)
	}
	return v, nil
}

// coerceLike converts input to the Go type of the default. Strings (env vars,
// CLI flags) are parsed; numbers convert across kinds only when the value is
// representable exactly. Any other kind mismatch is an error.
func coerceLike(raw, like any) (any, error) {
	target := reflect.TypeOf(like)
	if raw == nil {
		return nil, nil
	}
	if s, ok := raw.(string); ok && target.Kind() != reflect.String {
		v, err := cast.FromType(s, target)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %q to %v: %w", s, target, err)
		}
		return v, nil
	}
	rv := reflect.ValueOf(raw)
	if rv.Type() == target {
		return raw, nil
	}
	if isNumeric(rv.Kind()) && isNumeric(target.Kind()) {
		return convertNumber(rv, target)
	}
	if rv.Kind() != target.Kind() {
		return nil, fmt.Errorf("cannot use %v (%T) as %v", raw, raw, target)
	}
	return raw, nil
}

// convertNumber converts rv to target, rejecting fractions, overflow and
// negative values for unsigned targets.
func convertNumber(rv reflect.Value, target reflect.Type) (any, error) {
	out := reflect.New(target).Elem()
	bad := func() (any, error) {
		return nil, fmt.Errorf("%v (%v) out of range for %v", rv.Interface(), rv.Type(), target)
	}
	switch {
	case rv.CanInt():
		n := rv.Int()
		switch {
		case out.CanInt():
			if out.OverflowInt(n) {
				return bad()
			}
			out.SetInt(n)
		case out.CanUint():
			if n < 0 || out.OverflowUint(uint64(n)) {
				return bad()
			}
			out.SetUint(uint64(n))
		default:
			out.SetFloat(float64(n))
		}
	case rv.CanUint():
		n := rv.Uint()
		switch {
		case out.CanInt():
			if n > math.MaxInt64 || out.OverflowInt(int64(n)) {
				return bad()
			}
			out.SetInt(int64(n))
		case out.CanUint():
			if out.OverflowUint(n) {
				return bad()
			}
			out.SetUint(n)
		default:
			out.SetFloat(float64(n))
		}
	default:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			if out.CanFloat() {
				out.SetFloat(f)
				return out.Interface(), nil
			}
			return bad()
		}
		switch {
		case out.CanFloat():
			if out.OverflowFloat(f) {
				return bad()
			}
			out.SetFloat(f)
		case f != math.Trunc(f):
			return nil, fmt.Errorf("%v has a fractional part, %v required", f, target)
		case out.CanInt():
			if f < math.MinInt64 || f >= math.MaxInt64 || out.OverflowInt(int64(f)) {
				return bad()
			}
			out.SetInt(int64(f))
		default:
			if f < 0 || f >= math.MaxUint64 || out.OverflowUint(uint64(f)) {
				return bad()
			}
			out.SetUint(uint64(f))
		}
	}
	return out.Interface(), nil
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

// StatusVar declares state persisted across deactivation/activation cycles.
type StatusVar struct {
	Name    string
	Default any

	// Representer converts a live value into its storable representation.
	Representer func(any) (any, error)
	// Constructor rebuilds a live value from a stored representation.
	Constructor func(any) (any, error)
}

func (s StatusVar) DescriptorName() string { return s.Name }
func (s StatusVar) Kind() DescriptorKind   { return KindStatusVar }

func (s StatusVar) renamed(name string) Descriptor {
	s.Name = name
	return s
}

// ToRepresentation applies the representer, or returns v unchanged.
func (s StatusVar) ToRepresentation(v any) (any, error) {
	if s.Representer == nil {
		return v, nil
	}
	return s.Representer(v)
}

// FromRepresentation applies the constructor, or returns repr unchanged.
func (s StatusVar) FromRepresentation(repr any) (any, error) {
	if s.Constructor == nil {
		return repr, nil
	}
	return s.Constructor(repr)
}
