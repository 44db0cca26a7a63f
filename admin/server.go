package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/GoCodeAlone/labmodular"
)

// Server runs a Handler on its own listener.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	logger labmodular.Logger
	done   chan error
}

// Start listens on addr and serves handler in the background.
func Start(addr string, handler http.Handler, logger labmodular.Logger) (*Server, error) {
	if addr == "" {
		return nil, ErrAddressRequired
	}
	if logger == nil {
		logger = labmodular.NopLogger{}
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("admin listen on %s: %w", addr, err)
	}
	s := &Server{
		srv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      2 * time.Minute,
			IdleTimeout:       2 * time.Minute,
		},
		ln:     ln,
		logger: logger,
		done:   make(chan error, 1),
	}
	go func() {
		err := s.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		if err != nil {
			logger.Error("Admin server stopped", "error", err)
		}
		s.done <- err
	}()
	logger.Info("Admin API listening", "address", ln.Addr().String())
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Shutdown stops accepting requests and waits for in-flight ones until ctx
// is done.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("admin shutdown: %w", err)
	}
	s.logger.Info("Admin API stopped")
	return <-s.done
}
