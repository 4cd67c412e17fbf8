// Package client implements a relay participant: a session that registers a
// username, listens for relay frames, sends files and reconnects on failure.
package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"

	apperr "goshare-relay/internal/errors"
	"goshare-relay/internal/fileshare"
	"goshare-relay/internal/protocol"
	"goshare-relay/internal/transport"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

type Session struct {
	username    string
	dialer      transport.Dialer
	policy      BackOffPolicy
	sleep       Sleeper
	downloadDir string
	console     *console
	transfers   *fileshare.SessionManager

	mu     sync.Mutex
	state  State
	conn   transport.Conn
	roster []string
}

type Option func(*Session)

func WithBackOffPolicy(policy BackOffPolicy) Option {
	return func(s *Session) { s.policy = policy }
}

func WithSleeper(sleep Sleeper) Option {
	return func(s *Session) { s.sleep = sleep }
}

// WithDownloadDir sets the directory under which <username>/<file> is
// written for received files.
func WithDownloadDir(dir string) Option {
	return func(s *Session) { s.downloadDir = dir }
}

func WithOutput(w io.Writer) Option {
	return func(s *Session) { s.console = &console{w: w} }
}

func NewSession(username string, dialer transport.Dialer, opts ...Option) *Session {
	s := &Session{
		username:    username,
		dialer:      dialer,
		policy:      DefaultBackOffPolicy,
		sleep:       sleepContext,
		downloadDir: ".",
		console:     &console{w: os.Stdout},
		transfers:   fileshare.NewSession(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) Username() string { return s.username }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Roster returns the last roster received from the relay.
func (s *Session) Roster() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.roster)
}

func (s *Session) Transfers() *fileshare.SessionManager { return s.transfers }

// Connect dials the relay, registers the username and starts the inbound
// listener. A live connection is replaced only once the new one is
// registered.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	s.state = Connecting
	s.mu.Unlock()

	conn, err := s.dialer.Dial(ctx)
	if err != nil {
		s.settle()
		return apperr.NewError(apperr.ErrConnection, apperr.ERROR, "client.Connect",
			"could not connect to server", err)
	}
	if err := protocol.WriteFrame(conn, s.username); err != nil {
		_ = conn.Close()
		s.settle()
		return apperr.NewError(apperr.ErrConnection, apperr.ERROR, "client.Connect",
			"could not register username", err)
	}

	s.mu.Lock()
	previous := s.conn
	s.conn = conn
	s.state = Connected
	s.mu.Unlock()
	if previous != nil {
		_ = previous.Close()
	}

	logrus.WithFields(logrus.Fields{
		"function": "Connect",
		"username": s.username,
		"remote":   conn.RemoteAddr().String(),
	}).Info("Connected to relay")
	s.console.success("Connected to the server as %s", s.username)

	go s.listen(ctx, conn)
	return nil
}

// Start connects and walks the reconnection policy if the first attempt
// fails.
func (s *Session) Start(ctx context.Context) error {
	err := s.Connect(ctx)
	if err == nil {
		return nil
	}
	s.console.error("Could not connect to server: %v", err)
	if s.reconnectWithBackOff(ctx) {
		return nil
	}
	return apperr.NewError(apperr.ErrConnection, apperr.ERROR, "client.Start",
		"reconnection attempts exhausted", apperr.ErrNotConnected)
}

// Reconnect makes one immediate connection attempt.
func (s *Session) Reconnect(ctx context.Context) error {
	return s.Connect(ctx)
}

// Close drops the current connection without triggering reconnection.
func (s *Session) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.state = Disconnected
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// settle restores the state after a failed attempt: Connected if an older
// connection is still live, Disconnected otherwise.
func (s *Session) settle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.state = Connected
	} else {
		s.state = Disconnected
	}
}

func (s *Session) current() transport.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// detach clears conn if it is still the session's connection. It reports
// false when conn was already replaced or closed on purpose.
func (s *Session) detach(conn transport.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != conn {
		return false
	}
	s.conn = nil
	s.state = Disconnected
	return true
}

// reconnectWithBackOff walks the policy: sleep, then connect. It reports
// whether the session ended up connected.
func (s *Session) reconnectWithBackOff(ctx context.Context) bool {
	b := s.policy.NewBackOff()
	for attempt := 1; ; attempt++ {
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			logrus.WithFields(logrus.Fields{
				"function": "reconnectWithBackOff",
				"attempts": attempt - 1,
			}).Warn("Reconnection attempts exhausted")
			s.console.error("Failed to reconnect after several attempts. Type 'reconnect' to try again.")
			return false
		}

		s.console.warn("Attempting to reconnect in %s...", wait)
		if err := s.sleep(ctx, wait); err != nil {
			return false
		}
		if s.State() == Connected {
			return true
		}
		if err := s.Connect(ctx); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "reconnectWithBackOff",
				"attempt":  attempt,
				"error":    err.Error(),
			}).Warn("Reconnection attempt failed")
			s.console.error("Could not connect to server: %v", err)
			continue
		}
		return true
	}
}

func (s *Session) setRoster(roster []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roster = slices.Clone(roster)
}

func (s *Session) String() string {
	return fmt.Sprintf("%s (%s)", s.username, s.State())
}
