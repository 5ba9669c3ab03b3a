// Package httpserver runs an http.Handler on a bound listener with graceful shutdown.
package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// Server wraps an http.Server whose socket is bound before Start returns.
type Server struct {
	addr              string
	handler           http.Handler
	httpServer        *http.Server
	listener          net.Listener
	readHeaderTimeout time.Duration
	idleTimeout       time.Duration
	done              chan error
}

// New creates a server for handler on addr.
func New(addr string, handler http.Handler) *Server {
	return &Server{
		addr:              addr,
		handler:           handler,
		readHeaderTimeout: 10 * time.Second,
		idleTimeout:       120 * time.Second,
	}
}

// Start binds the socket and serves in a goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.readHeaderTimeout,
		IdleTimeout:       s.idleTimeout,
	}
	s.done = make(chan error, 1)
	go func() {
		err := s.httpServer.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Wait blocks until the server stops and returns its serve error.
func (s *Server) Wait() error {
	if s.done == nil {
		return nil
	}
	return <-s.done
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
