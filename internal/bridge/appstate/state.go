// Package appstate holds the single runtime the application talks to.
package appstate

import (
	"context"
	"errors"
	"sync"

	"github.com/coder/acp-go-sdk"
	"go.uber.org/zap"

	"github.com/kandev/acpbridge/internal/bridge/runtime"
	"github.com/kandev/acpbridge/internal/common/logger"
)

// ErrNotInitialized is returned when no runtime has been started.
var ErrNotInitialized = errors.New("ACP runtime not initialized")

// Runtime is the part of *runtime.Handle the application uses.
type Runtime interface {
	Prompt(ctx context.Context, text string) (runtime.PromptResult, error)
	SessionID() acp.SessionId
	Close()
	Done() <-chan struct{}
}

// StartFunc starts a runtime. The default is runtime.Start.
type StartFunc func(ctx context.Context, opts runtime.Options) (Runtime, error)

func startRuntime(ctx context.Context, opts runtime.Options) (Runtime, error) {
	h, err := runtime.Start(ctx, opts)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// State guards the current runtime. Callers never block waiting for one to
// appear: without an active runtime every call fails with ErrNotInitialized.
type State struct {
	base   runtime.Options
	start  StartFunc
	logger *logger.Logger

	mu      sync.Mutex
	current Runtime
}

// Option configures a State.
type Option func(*State)

// WithStartFunc replaces runtime.Start.
func WithStartFunc(fn StartFunc) Option {
	return func(s *State) { s.start = fn }
}

// New returns an empty State. base supplies everything but the root and
// auth mode, which are given per Start.
func New(base runtime.Options, log *logger.Logger, opts ...Option) *State {
	if log == nil {
		log = logger.NewNop()
	}
	s := &State{
		base:   base,
		start:  startRuntime,
		logger: log.WithFields(zap.String("component", "appstate")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches a runtime for root and makes it current. A previously
// active runtime is closed once the new one is up; on failure it stays.
func (s *State) Start(ctx context.Context, root string, useCLIAuth bool) (acp.SessionId, error) {
	opts := s.base
	opts.Root = root
	opts.UseCLIAuth = useCLIAuth

	rt, err := s.start(ctx, opts)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	prev := s.current
	s.current = rt
	s.mu.Unlock()

	if prev != nil {
		s.logger.Info("replacing active ACP runtime", zap.String("previous_session_id", string(prev.SessionID())))
		prev.Close()
	}
	return rt.SessionID(), nil
}

func (s *State) active() (Runtime, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, ErrNotInitialized
	}
	return s.current, nil
}

// Prompt forwards text to the current runtime.
func (s *State) Prompt(ctx context.Context, text string) (runtime.PromptResult, error) {
	rt, err := s.active()
	if err != nil {
		return runtime.PromptResult{}, err
	}
	return rt.Prompt(ctx, text)
}

// SessionID returns the current runtime's session.
func (s *State) SessionID() (acp.SessionId, error) {
	rt, err := s.active()
	if err != nil {
		return "", err
	}
	return rt.SessionID(), nil
}

// Stop closes the current runtime, if any, and waits until its agent has
// been reaped or ctx is done.
func (s *State) Stop(ctx context.Context) error {
	s.mu.Lock()
	rt := s.current
	s.current = nil
	s.mu.Unlock()

	if rt == nil {
		return nil
	}
	s.logger.Info("stopping ACP runtime", zap.String("session_id", string(rt.SessionID())))
	rt.Close()

	select {
	case <-rt.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
