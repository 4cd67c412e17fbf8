// Package relay implements the server side of the file relay: one handler per
// accepted connection, sharing a registry of usernames.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"goshare-relay/internal/protocol"
	"goshare-relay/internal/store"
	"goshare-relay/internal/transport"

	"github.com/sirupsen/logrus"
)

type Server struct {
	registry    *store.Registry
	relayBuffer int

	wg    sync.WaitGroup
	mu    sync.Mutex
	conns map[transport.Conn]struct{}
}

type Option func(*Server)

// WithRelayBuffer sets the size of the buffer used to copy file content from
// a source connection to its target. It does not affect the wire format.
func WithRelayBuffer(size int) Option {
	return func(s *Server) {
		if size > 0 {
			s.relayBuffer = size
		}
	}
}

func NewServer(registry *store.Registry, opts ...Option) *Server {
	s := &Server{
		registry:    registry,
		relayBuffer: protocol.BlockSize,
		conns:       make(map[transport.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Registry() *store.Registry {
	return s.registry
}

// Serve accepts connections from ln until ctx is cancelled or the listener
// fails, running one handler goroutine per connection. It closes ln before
// returning. Several listeners may be served at once.
func (s *Server) Serve(ctx context.Context, ln transport.Listener) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		_ = ln.Close()
	}()

	logrus.WithFields(logrus.Fields{
		"function": "Serve",
		"address":  ln.Addr().String(),
	}).Info("Relay listening for incoming connections")

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept failed on %s: %w", ln.Addr(), err)
		}
		logrus.WithFields(logrus.Fields{
			"function": "Serve",
			"remote":   conn.RemoteAddr().String(),
		}).Info("Connection accepted")

		s.track(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			newHandler(s, conn).run()
		}()
	}
}

// Shutdown closes every live connection and waits for their handlers to
// finish. Call it after the Serve calls have returned.
func (s *Server) Shutdown() {
	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	logrus.WithField("function", "Shutdown").Info("Relay stopped")
}

func (s *Server) track(conn transport.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) untrack(conn transport.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}
