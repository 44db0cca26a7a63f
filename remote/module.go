package remote

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/GoCodeAlone/labmodular"
	"gopkg.in/yaml.v3"
)

// Config options of proxy module classes.
const (
	OptionAddress    = "address"
	OptionRemoteName = "remote_name"
	OptionTLS        = "tls"
)

// ProxyClassDef describes a class whose instances stand in for a module
// exposed by another process. Such instances satisfy connectors exactly like
// local modules advertising the same capabilities.
type ProxyClassDef struct {
	Name         string
	Capabilities []string
	// Wrap builds the typed stand-in that connectors receive through
	// labmodular.ConnectorAs. Nil hands out the *Proxy itself.
	Wrap        func(*Proxy) any
	DialOptions []DialOption
}

// NewClass resolves a proxy module class. Instances take the options
// "address" (required), "remote_name" (defaults to the module name) and
// "tls" (a TLSConfig or an equivalent map).
func NewClass(def ProxyClassDef) (*labmodular.Class, error) {
	return labmodular.ResolveClass(labmodular.ClassDef{
		Name: def.Name,
		Fields: []labmodular.Field{
			{Attr: OptionAddress, Descriptor: labmodular.ConfigOption{Default: "", Missing: labmodular.MissingError}},
			{Attr: OptionRemoteName, Descriptor: labmodular.ConfigOption{Default: ""}},
			{Attr: OptionTLS, Descriptor: labmodular.ConfigOption{Default: TLSConfig{}, Converter: convertTLSConfig}},
		},
		Capabilities: def.Capabilities,
		Factory: func(inst *labmodular.Instance) (labmodular.Module, error) {
			return &ProxyModule{inst: inst, def: def}, nil
		},
	})
}

func convertTLSConfig(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return TLSConfig{}, nil
	case TLSConfig:
		return t, nil
	case *TLSConfig:
		if t == nil {
			return TLSConfig{}, nil
		}
		return *t, nil
	case map[string]any:
		b, err := yaml.Marshal(t)
		if err != nil {
			return nil, err
		}
		var cfg TLSConfig
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	default:
		return nil, fmt.Errorf("tls option must be a TLSConfig or a map, got %T", v)
	}
}

// ProxyModule is the behaviour of proxy module instances. Activation dials
// the remote service and fetches the proxy; deactivation closes the
// connection.
type ProxyModule struct {
	inst *labmodular.Instance
	def  ProxyClassDef

	mu       sync.RWMutex
	conn     *Conn
	proxy    *Proxy
	delegate any
}

func (m *ProxyModule) OnActivate(ctx context.Context) error {
	addr, err := labmodular.OptionAs[string](m.inst, OptionAddress)
	if err != nil {
		return err
	}
	remoteName, err := labmodular.OptionAs[string](m.inst, OptionRemoteName)
	if err != nil {
		return err
	}
	if remoteName == "" {
		remoteName = m.inst.Name()
	}
	tlsCfg, err := labmodular.OptionAs[TLSConfig](m.inst, OptionTLS)
	if err != nil {
		return err
	}

	conn, err := Dial(ctx, addr, &tlsCfg, m.def.DialOptions...)
	if err != nil {
		return err
	}
	proxy, err := conn.GetModule(ctx, remoteName)
	if err != nil {
		_ = conn.Close()
		return err
	}
	for _, capability := range m.def.Capabilities {
		if !slices.Contains(proxy.Capabilities(), capability) {
			_ = conn.Close()
			return fmt.Errorf("remote module %q at %s does not advertise capability %q", remoteName, addr, capability)
		}
	}

	var delegate any = proxy
	if m.def.Wrap != nil {
		delegate = m.def.Wrap(proxy)
	}
	m.mu.Lock()
	m.conn, m.proxy, m.delegate = conn, proxy, delegate
	m.mu.Unlock()
	return nil
}

func (m *ProxyModule) OnDeactivate(context.Context) error {
	return m.Close()
}

// Close releases the connection. Proxies handed out earlier fail with
// ErrConnectionClosed afterwards.
func (m *ProxyModule) Close() error {
	m.mu.Lock()
	conn := m.conn
	m.conn, m.proxy, m.delegate = nil, nil, nil
	m.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Proxy returns the live proxy, or nil while the module is inactive.
func (m *ProxyModule) Proxy() *Proxy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.proxy
}

// Delegate returns the typed stand-in built by Wrap, or the *Proxy.
func (m *ProxyModule) Delegate() any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.delegate
}
