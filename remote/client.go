package remote

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/GoCodeAlone/labmodular"
	"github.com/vmihailenco/msgpack/v5"
)

// Conn is a client connection to a Service. Proxies obtained from it share
// the connection; closing it fails every later proxy call with
// ErrConnectionClosed and releases calls in flight.
type Conn struct {
	conn   net.Conn
	addr   string
	limits Limits
	logger labmodular.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan frame
	closed  bool
	broken  error
	done    chan struct{}
}

type dialOptions struct {
	logger      labmodular.Logger
	limits      Limits
	dialTimeout time.Duration
}

// DialOption configures Dial.
type DialOption func(*dialOptions)

// WithDialLogger sets the connection logger.
func WithDialLogger(logger labmodular.Logger) DialOption {
	return func(o *dialOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithDialLimits bounds frame sizes.
func WithDialLimits(limits Limits) DialOption {
	return func(o *dialOptions) { o.limits = limits }
}

// WithDialTimeout bounds connection establishment, including the handshake.
func WithDialTimeout(d time.Duration) DialOption {
	return func(o *dialOptions) { o.dialTimeout = d }
}

// Dial connects to a Service at addr. A nil or disabled cfg dials plain TCP.
// Transport failures are reported as ErrRemoteUnavailable.
func Dial(ctx context.Context, addr string, cfg *TLSConfig, opts ...DialOption) (*Conn, error) {
	o := dialOptions{logger: labmodular.NopLogger{}, limits: DefaultLimits(), dialTimeout: 10 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	var tlsCfg *tls.Config
	if cfg.enabled() {
		var err error
		if tlsCfg, err = cfg.ClientConfig(); err != nil {
			return nil, err
		}
		if tlsCfg.ServerName == "" {
			host, _, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, fmt.Errorf("remote: %w", err)
			}
			tlsCfg.ServerName = host
		}
	}

	dialCtx := ctx
	if o.dialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, o.dialTimeout)
		defer cancel()
	}
	dialer := net.Dialer{}
	raw, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrRemoteUnavailable, addr, err)
	}
	conn := raw
	if tlsCfg != nil {
		tc := tls.Client(raw, tlsCfg)
		if err := tc.HandshakeContext(dialCtx); err != nil {
			_ = raw.Close()
			return nil, fmt.Errorf("%w: tls handshake with %s: %w", ErrRemoteUnavailable, addr, err)
		}
		conn = tc
	}

	c := &Conn{
		conn:    conn,
		addr:    addr,
		limits:  o.limits,
		logger:  o.logger,
		pending: make(map[uint64]chan frame),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	c.logger.Debug("Remote connection established", "addr", addr, "tls", tlsCfg != nil)
	return c, nil
}

// Addr returns the address the connection was dialed to.
func (c *Conn) Addr() string { return c.addr }

// Close closes the connection. It is idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()
	return c.conn.Close()
}

// Ping round-trips an empty request.
func (c *Conn) Ping(ctx context.Context) error {
	_, err := c.roundTrip(ctx, MsgPing, nil)
	return err
}

// GetModule returns a proxy for the module exposed as name. Unknown names
// fail with ErrModuleNotFound.
func (c *Conn) GetModule(ctx context.Context, name string) (*Proxy, error) {
	payload, err := msgpack.Marshal(getModuleRequest{Name: name})
	if err != nil {
		return nil, err
	}
	out, err := c.roundTrip(ctx, MsgGetModule, payload)
	if err != nil {
		return nil, err
	}
	var resp getModuleResponse
	if err := msgpack.Unmarshal(out, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode get_module response: %w", ErrRemoteUnavailable, err)
	}
	return newProxy(c, resp), nil
}

func (c *Conn) readLoop() {
	for {
		f, err := readFrame(c.conn, c.limits)
		if err != nil {
			c.fail(err)
			return
		}
		if f.Flags&flagResponse == 0 {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[f.MessageID]
		delete(c.pending, f.MessageID)
		c.mu.Unlock()
		if ok {
			ch <- f
		}
	}
}

// fail records a terminal transport error and releases every pending call.
func (c *Conn) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed && c.broken == nil {
		c.broken = err
		c.logger.Warn("Remote connection lost", "addr", c.addr, "error", err)
	}
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// terminalErr returns the error every call on a dead connection reports.
// Callers hold c.mu.
func (c *Conn) terminalErr() error {
	if c.closed {
		return ErrConnectionClosed
	}
	if c.broken != nil {
		return fmt.Errorf("%w: %s: %w", ErrRemoteUnavailable, c.addr, c.broken)
	}
	return nil
}

func (c *Conn) roundTrip(ctx context.Context, typ MessageType, payload []byte) ([]byte, error) {
	c.mu.Lock()
	if err := c.terminalErr(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.nextID++
	id := c.nextID
	ch := make(chan frame, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := writeFrame(c.conn, frame{header: header{Type: typ, MessageID: id}, Payload: payload}, c.limits)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		c.mu.Lock()
		defer c.mu.Unlock()
		if terr := c.terminalErr(); terr != nil {
			return nil, terr
		}
		if errors.Is(err, errPayloadTooLong) {
			return nil, fmt.Errorf("%w: %w", ErrBadRequest, err)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrRemoteUnavailable, c.addr, err)
	}

	select {
	case f, ok := <-ch:
		if !ok {
			c.mu.Lock()
			defer c.mu.Unlock()
			if terr := c.terminalErr(); terr != nil {
				return nil, terr
			}
			return nil, ErrRemoteUnavailable
		}
		if f.Flags&flagError != 0 {
			var e errorResponse
			if err := msgpack.Unmarshal(f.Payload, &e); err != nil {
				return nil, fmt.Errorf("%w: decode error response: %w", ErrRemoteUnavailable, err)
			}
			return nil, &CallError{Code: e.Code, Message: e.Message}
		}
		return f.Payload, nil
	case <-c.done:
		c.forget(id)
		return nil, ErrConnectionClosed
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

func (c *Conn) forget(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}
