// Package sim implements an in-memory server handle with deterministic
// behavior. It backs the demo harness and is the test double of choice for
// anything that needs a handle without a real control surface behind it.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"

	logx "github.com/r7l-labs/warden/pkg/logx"
)

var errClosed = errors.New("sim: handle closed")

// Server records every command it is asked to run and serves a fixed
// host-config mapping. Failure injection is available through options.
type Server struct {
	name string
	log  logx.Logger

	mu           sync.Mutex
	hostCfg      map[string]any
	received     []string
	dispatchFail int
	pingErr      error
	closed       bool
}

type Option func(*Server)

// WithHostConfig sets the mapping HostConfig returns.
func WithHostConfig(m map[string]any) Option {
	return func(s *Server) { s.hostCfg = m }
}

// WithDispatchFailures makes the first n DispatchCommand calls fail.
func WithDispatchFailures(n int) Option {
	return func(s *Server) { s.dispatchFail = n }
}

// WithPingError makes Ping return err until cleared with a nil err.
func WithPingError(err error) Option {
	return func(s *Server) { s.pingErr = err }
}

func New(name string, log logx.Logger, opts ...Option) *Server {
	s := &Server{name: name, log: log}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Server) Name() string { return s.name }

func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *Server) DispatchCommand(ctx context.Context, command string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	if s.dispatchFail > 0 {
		s.dispatchFail--
		return fmt.Errorf("sim: injected dispatch failure (%d left)", s.dispatchFail)
	}
	s.received = append(s.received, command)
	s.log.Debug("sim received command", logx.String("server", s.name), logx.String("command", command))
	return nil
}

func (s *Server) HostConfig(ctx context.Context) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed
	}
	out := make(map[string]any, len(s.hostCfg))
	for k, v := range s.hostCfg {
		out[k] = v
	}
	return out, nil
}

func (s *Server) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	return s.pingErr
}

// SetPingError swaps the injected Ping failure at runtime (tests drive
// up/down transitions with it).
func (s *Server) SetPingError(err error) {
	s.mu.Lock()
	s.pingErr = err
	s.mu.Unlock()
}

// Received returns a copy of every command dispatched so far.
func (s *Server) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.received))
	copy(out, s.received)
	return out
}

// Closed reports whether Close was called.
func (s *Server) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
