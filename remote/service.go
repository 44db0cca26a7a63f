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
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vmihailenco/msgpack/v5"
)

// EventSource is the CloudEvents source of service events.
const EventSource = "labmodular.remote"

// ExposureTable is the whitelist a Service hands out. *labmodular.Registry
// satisfies it.
type ExposureTable interface {
	LookupExposed(name string) (labmodular.ExposedModule, error)
}

// Service exposes the modules of an ExposureTable to remote peers.
//
// The accept loop, each connection's read loop and each request run on their
// own goroutines, so a slow call never blocks other callers or the process
// that owns the modules. Transport security is the trust boundary: every
// accepted connection may query every exposed name.
type Service struct {
	table   ExposureTable
	logger  labmodular.Logger
	limits  Limits
	events  *labmodular.ObserverSet
	metrics *serviceMetrics

	handshakeTimeout time.Duration
	observers        []pendingObserver

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]string
	closed   bool
	done     chan struct{}
	wg       sync.WaitGroup
}

type pendingObserver struct {
	observer   labmodular.Observer
	eventTypes []string
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceLogger sets the service logger.
func WithServiceLogger(logger labmodular.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithServiceLimits bounds frame sizes.
func WithServiceLimits(limits Limits) ServiceOption {
	return func(s *Service) { s.limits = limits }
}

// WithServiceObserver registers an observer for connection events.
func WithServiceObserver(observer labmodular.Observer, eventTypes ...string) ServiceOption {
	return func(s *Service) {
		s.observers = append(s.observers, pendingObserver{observer: observer, eventTypes: eventTypes})
	}
}

// WithHandshakeTimeout bounds the TLS handshake of accepted connections.
func WithHandshakeTimeout(d time.Duration) ServiceOption {
	return func(s *Service) { s.handshakeTimeout = d }
}

// NewService creates a service over table. It does not listen until Listen
// or Serve is called.
func NewService(table ExposureTable, opts ...ServiceOption) *Service {
	s := &Service{
		table:            table,
		logger:           labmodular.NopLogger{},
		limits:           DefaultLimits(),
		metrics:          newServiceMetrics(),
		handshakeTimeout: 10 * time.Second,
		conns:            make(map[net.Conn]string),
		done:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.events = labmodular.NewObserverSet(EventSource, s.logger)
	for _, p := range s.observers {
		_ = s.events.RegisterObserver(p.observer, p.eventTypes...)
	}
	s.observers = nil
	return s
}

// Events returns the subject connection events are published on.
func (s *Service) Events() labmodular.Subject { return s.events }

// Collectors returns the service's Prometheus collectors for registration.
func (s *Service) Collectors() []prometheus.Collector { return s.metrics.collectors() }

// Listen opens addr, wrapped in TLS when cfg is enabled, and serves it on a
// background goroutine until ctx is done or Close is called.
func (s *Service) Listen(ctx context.Context, addr string, cfg *TLSConfig) error {
	var tlsCfg *tls.Config
	if cfg.enabled() {
		var err error
		if tlsCfg, err = cfg.ServerConfig(); err != nil {
			return err
		}
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("remote: listen %s: %w", addr, err)
	}
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}
	if err := s.setListener(ln); err != nil {
		_ = ln.Close()
		return err
	}

	s.logger.Info("Remote service listening", "addr", ln.Addr().String(), "tls", tlsCfg != nil)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ln)
	}()
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return nil
}

// Serve accepts connections on ln until it fails or Close is called. It
// blocks; Listen is the non-blocking variant.
func (s *Service) Serve(ln net.Listener) error {
	if err := s.setListener(ln); err != nil {
		return err
	}
	s.wg.Add(1)
	defer s.wg.Done()
	return s.acceptLoop(ln)
}

func (s *Service) setListener(ln net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServiceClosed
	}
	if s.listener != nil {
		return ErrServiceListening
	}
	s.listener = ln
	return nil
}

// Addr returns the listening address, or nil before Listen.
func (s *Service) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting, closes every open connection and waits for the
// connection goroutines to finish.
func (s *Service) Close() error {
	return s.Shutdown(context.Background())
}

// Shutdown stops accepting and closes every open connection, then waits for
// in-flight calls to return until ctx is done. Calls still running inside a
// module method at that point are abandoned.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	var err error
	if !s.closed {
		s.closed = true
		close(s.done)
		if s.listener != nil {
			err = s.listener.Close()
		}
		for conn := range s.conns {
			_ = conn.Close()
		}
	}
	s.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		s.logger.Info("Remote service closed")
		return err
	case <-ctx.Done():
		s.logger.Warn("Remote service closed with calls still running", "error", ctx.Err())
		return errors.Join(err, fmt.Errorf("remote: shutdown: %w", ctx.Err()))
	}
}

func (s *Service) acceptLoop(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			s.logger.Error("Remote accept failed", "error", err)
			return err
		}
		id := uuid.NewString()
		if !s.track(conn, id) {
			_ = conn.Close()
			return nil
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.serveConn(conn, id)
		}()
	}
}

func (s *Service) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Service) track(conn net.Conn, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = id
	s.metrics.connections.Inc()
	return true
}

func (s *Service) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[conn]; ok {
		delete(s.conns, conn)
		s.metrics.connections.Dec()
	}
}

// serveConn runs the read loop of one connection.
func (s *Service) serveConn(conn net.Conn, id string) {
	defer conn.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	peer := ""
	if tlsConn, ok := conn.(*tls.Conn); ok {
		hctx, hcancel := context.WithTimeout(ctx, s.handshakeTimeout)
		err := tlsConn.HandshakeContext(hctx)
		hcancel()
		if err != nil {
			s.logger.Warn("Remote handshake failed", "conn", id, "remote", conn.RemoteAddr().String(), "error", err)
			return
		}
		if certs := tlsConn.ConnectionState().PeerCertificates; len(certs) > 0 {
			peer = certs[0].Subject.CommonName
		}
	}

	s.logger.Info("Remote connection accepted", "conn", id, "remote", conn.RemoteAddr().String(), "peer", peer)
	s.events.Emit(ctx, labmodular.EventTypeRemoteConnectionAccepted, map[string]any{
		"conn":   id,
		"remote": conn.RemoteAddr().String(),
		"peer":   peer,
	})

	var (
		writeMu  sync.Mutex
		requests sync.WaitGroup
	)
	reply := func(f frame) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := writeFrame(conn, f, s.limits); err != nil {
			s.logger.Debug("Remote reply not written", "conn", id, "error", err)
		}
	}

	for {
		req, err := readFrame(conn, s.limits)
		if err != nil {
			if !s.isClosed() && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("Remote connection ended", "conn", id, "error", err)
			}
			break
		}
		if req.Flags&flagResponse != 0 {
			continue
		}
		requests.Add(1)
		go func() {
			defer requests.Done()
			reply(s.handle(ctx, req))
		}()
	}

	cancel()
	requests.Wait()
	s.logger.Info("Remote connection closed", "conn", id)
	s.events.Emit(context.Background(), labmodular.EventTypeRemoteConnectionClosed, map[string]any{"conn": id})
}

// handle serves one request frame and returns the reply frame.
func (s *Service) handle(ctx context.Context, req frame) frame {
	start := time.Now()
	module, payload, err := s.dispatch(ctx, req)

	code := ""
	resp := frame{header: header{Type: req.Type, Flags: flagResponse, MessageID: req.MessageID}}
	if err != nil {
		var callErr *CallError
		if !errors.As(err, &callErr) {
			callErr = &CallError{Code: CodeCallFailed, Message: err.Error()}
		}
		code = callErr.Code
		resp.Flags |= flagError
		payload, _ = msgpack.Marshal(errorResponse{Code: callErr.Code, Message: callErr.Message})
	}
	resp.Payload = payload
	s.metrics.record(req.Type, module, code, time.Since(start))
	return resp
}

func (s *Service) dispatch(ctx context.Context, req frame) (string, []byte, error) {
	switch req.Type {
	case MsgPing:
		return "", nil, nil

	case MsgGetModule:
		var in getModuleRequest
		if err := msgpack.Unmarshal(req.Payload, &in); err != nil {
			return "", nil, &CallError{Code: CodeBadRequest, Message: err.Error()}
		}
		exposed, err := s.table.LookupExposed(in.Name)
		if err != nil {
			return in.Name, nil, &CallError{Code: CodeNotFound, Message: fmt.Sprintf("no exposed module %q", in.Name)}
		}
		out, err := msgpack.Marshal(getModuleResponse{
			Name:         exposed.Name,
			Interface:    exposed.Interface.String(),
			Capabilities: exposed.Instance.Class().Capabilities(),
			Methods:      surfaceFor(exposed.Interface).infos,
		})
		return in.Name, out, err

	case MsgCall:
		var in callRequest
		if err := msgpack.Unmarshal(req.Payload, &in); err != nil {
			return "", nil, &CallError{Code: CodeBadRequest, Message: err.Error()}
		}
		exposed, err := s.table.LookupExposed(in.Module)
		if err != nil {
			return in.Module, nil, &CallError{Code: CodeNotFound, Message: fmt.Sprintf("no exposed module %q", in.Module)}
		}
		if state := exposed.Instance.State(); state != labmodular.StateActivated {
			return in.Module, nil, &CallError{Code: CodeNotActive, Message: fmt.Sprintf("module %q is %s", in.Module, state)}
		}
		results, err := surfaceFor(exposed.Interface).invoke(ctx, exposed.Instance.Module(), in.Method, in.Args)
		if err != nil {
			return in.Module, nil, err
		}
		out, err := msgpack.Marshal(callResponse{Results: results})
		return in.Module, out, err

	default:
		return "", nil, &CallError{Code: CodeBadRequest, Message: fmt.Sprintf("unknown message type %d", uint16(req.Type))}
	}
}
