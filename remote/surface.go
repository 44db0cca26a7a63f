package remote

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	contextType = reflect.TypeFor[context.Context]()
	errorType   = reflect.TypeFor[error]()
)

// method is one callable entry of a remote interface.
type method struct {
	info   MethodInfo
	in     []reflect.Type
	out    []reflect.Type
	hasErr bool
}

// surface is the callable method table of a remote interface. Only the
// interface's exported methods are reachable; a module's other methods stay
// local even when the module is exposed.
type surface struct {
	iface   reflect.Type
	methods map[string]*method
	infos   []MethodInfo
}

var surfaces sync.Map // reflect.Type -> *surface

func surfaceFor(iface reflect.Type) *surface {
	if s, ok := surfaces.Load(iface); ok {
		return s.(*surface)
	}
	s, _ := surfaces.LoadOrStore(iface, newSurface(iface))
	return s.(*surface)
}

func newSurface(iface reflect.Type) *surface {
	s := &surface{iface: iface, methods: make(map[string]*method)}
	for i := range iface.NumMethod() {
		m := iface.Method(i)
		if !m.IsExported() {
			continue
		}
		t := m.Type
		entry := &method{info: MethodInfo{Name: m.Name}}

		start := 0
		if t.NumIn() > 0 && t.In(0) == contextType {
			entry.info.Context = true
			start = 1
		}
		for j := start; j < t.NumIn(); j++ {
			entry.in = append(entry.in, t.In(j))
		}

		n := t.NumOut()
		if n > 0 && t.Out(n-1) == errorType {
			entry.hasErr = true
			n--
		}
		for j := range n {
			entry.out = append(entry.out, t.Out(j))
		}
		entry.info.NumIn = len(entry.in)
		entry.info.NumOut = len(entry.out)

		s.methods[m.Name] = entry
		s.infos = append(s.infos, entry.info)
	}
	sort.Slice(s.infos, func(i, j int) bool { return s.infos[i].Name < s.infos[j].Name })
	return s
}

// invoke decodes args, calls the method on target and encodes the results.
// Every failure is returned as a CallError.
func (s *surface) invoke(ctx context.Context, target any, name string, args []msgpack.RawMessage) (results []msgpack.RawMessage, err error) {
	m, ok := s.methods[name]
	if !ok {
		return nil, &CallError{Code: CodeMethodNotFound, Message: fmt.Sprintf("%s has no method %s", s.iface, name)}
	}
	if len(args) != len(m.in) {
		return nil, &CallError{Code: CodeBadRequest, Message: fmt.Sprintf("%s takes %d arguments, got %d", name, len(m.in), len(args))}
	}

	in := make([]reflect.Value, 0, len(m.in)+1)
	if m.info.Context {
		in = append(in, reflect.ValueOf(ctx))
	}
	for i, t := range m.in {
		v := reflect.New(t)
		if err := msgpack.Unmarshal(args[i], v.Interface()); err != nil {
			return nil, &CallError{Code: CodeBadRequest, Message: fmt.Sprintf("%s argument %d: %v", name, i, err)}
		}
		in = append(in, v.Elem())
	}

	fn := reflect.ValueOf(target).MethodByName(name)
	if !fn.IsValid() {
		return nil, &CallError{Code: CodeMethodNotFound, Message: fmt.Sprintf("%T has no method %s", target, name)}
	}

	defer func() {
		if r := recover(); r != nil {
			results = nil
			err = &CallError{Code: CodeCallFailed, Message: fmt.Sprintf("%s panicked: %v", name, r)}
		}
	}()
	out := fn.Call(in)

	if m.hasErr {
		if e := out[len(out)-1]; !e.IsNil() {
			return nil, &CallError{Code: CodeCallFailed, Message: e.Interface().(error).Error()}
		}
		out = out[:len(out)-1]
	}
	results = make([]msgpack.RawMessage, len(out))
	for i, v := range out {
		b, err := msgpack.Marshal(v.Interface())
		if err != nil {
			return nil, &CallError{Code: CodeCallFailed, Message: fmt.Sprintf("%s result %d: %v", name, i, err)}
		}
		results[i] = b
	}
	return results, nil
}
