package remote

import (
	"context"
	"fmt"
	"slices"

	"github.com/vmihailenco/msgpack/v5"
)

// Proxy is the client-side stand-in for one exposed module. It holds no
// remote state: every Call is a round trip, and results are never cached.
type Proxy struct {
	conn         *Conn
	name         string
	iface        string
	capabilities []string
	methods      map[string]MethodInfo
}

func newProxy(c *Conn, resp getModuleResponse) *Proxy {
	p := &Proxy{
		conn:         c,
		name:         resp.Name,
		iface:        resp.Interface,
		capabilities: resp.Capabilities,
		methods:      make(map[string]MethodInfo, len(resp.Methods)),
	}
	for _, m := range resp.Methods {
		p.methods[m.Name] = m
	}
	return p
}

// Name returns the exposed name the proxy refers to.
func (p *Proxy) Name() string { return p.name }

// Interface returns the Go type name of the remote interface.
func (p *Proxy) Interface() string { return p.iface }

// Capabilities returns the capabilities the remote module's class advertises.
func (p *Proxy) Capabilities() []string { return slices.Clone(p.capabilities) }

// Methods lists the callable methods, sorted by name.
func (p *Proxy) Methods() []MethodInfo {
	out := make([]MethodInfo, 0, len(p.methods))
	for _, m := range p.methods {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b MethodInfo) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return out
}

// Call invokes method on the remote module and decodes its results into the
// given pointers. A context.Context parameter of the remote method is
// supplied by the service and must not appear in args. The call blocks until
// the reply arrives, the connection fails or ctx is done; callers bound it
// with ctx.
func (p *Proxy) Call(ctx context.Context, method string, args []any, results ...any) error {
	info, ok := p.methods[method]
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrMethodNotFound, p.name, method)
	}
	if len(args) != info.NumIn {
		return fmt.Errorf("%w: %s.%s takes %d, got %d", ErrArgumentCount, p.name, method, info.NumIn, len(args))
	}
	if len(results) > info.NumOut {
		return fmt.Errorf("%w: %s.%s returns %d values, %d requested", ErrArgumentCount, p.name, method, info.NumOut, len(results))
	}

	req := callRequest{Module: p.name, Method: method, Args: make([]msgpack.RawMessage, len(args))}
	for i, a := range args {
		b, err := msgpack.Marshal(a)
		if err != nil {
			return fmt.Errorf("%w: %s.%s argument %d: %w", ErrBadRequest, p.name, method, i, err)
		}
		req.Args[i] = b
	}
	payload, err := msgpack.Marshal(req)
	if err != nil {
		return err
	}

	out, err := p.conn.roundTrip(ctx, MsgCall, payload)
	if err != nil {
		return err
	}
	var resp callResponse
	if err := msgpack.Unmarshal(out, &resp); err != nil {
		return fmt.Errorf("%w: decode call response: %w", ErrRemoteUnavailable, err)
	}
	for i, dst := range results {
		if dst == nil || i >= len(resp.Results) {
			continue
		}
		if err := msgpack.Unmarshal(resp.Results[i], dst); err != nil {
			return fmt.Errorf("%w: %s.%s result %d: %w", ErrCallFailed, p.name, method, i, err)
		}
	}
	return nil
}
