package runtime

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/coder/acp-go-sdk"
)

// shared is the state every clone of a Handle points at.
type shared struct {
	commands  *unbounded[command]
	done      <-chan struct{}
	sessionID acp.SessionId
	refs      atomic.Int64
}

// Handle submits prompts to a running worker. Clones share the worker; the
// worker shuts down when the last handle is closed. A zero Handle has no
// worker: Prompt fails with ErrRuntimeUnavailable and Done is already closed.
type Handle struct {
	s         *shared
	closeOnce sync.Once
	closed    atomic.Bool
}

// Start spawns the agent, performs the handshake and returns a handle once
// the session exists. Setup errors are returned here and nowhere else.
func Start(ctx context.Context, opts Options) (*Handle, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	commands := newUnbounded[command]()
	w := newWorker(&opts, commands)
	ready := make(chan readyResult, 1)
	go w.run(ctx, ready)

	res := <-ready
	if res.err != nil {
		commands.Close()
		return nil, res.err
	}

	s := &shared{commands: commands, done: w.done, sessionID: res.sessionID}
	s.refs.Store(1)
	return &Handle{s: s}, nil
}

// SessionID returns the agent session negotiated at startup.
func (h *Handle) SessionID() acp.SessionId {
	if h.s == nil {
		return ""
	}
	return h.s.sessionID
}

// Prompt sends text to the agent and waits for the aggregated answer.
// Prompts from all clones are served one at a time, in submission order.
// If ctx ends first the call returns ctx.Err() and the eventual reply is
// discarded.
func (h *Handle) Prompt(ctx context.Context, text string) (PromptResult, error) {
	if h.s == nil || h.closed.Load() {
		return PromptResult{}, ErrRuntimeUnavailable
	}

	cmd := newPromptCommand(text)
	if !h.s.commands.Push(cmd) {
		return PromptResult{}, ErrRuntimeUnavailable
	}

	select {
	case r := <-cmd.reply:
		return r.result, r.err
	case <-h.s.done:
		// The worker may have replied just before exiting.
		select {
		case r := <-cmd.reply:
			return r.result, r.err
		default:
			return PromptResult{}, ErrRuntimeShutDown
		}
	case <-ctx.Done():
		return PromptResult{}, ctx.Err()
	}
}

// Clone returns another handle to the same worker. Each clone must be
// closed independently.
func (h *Handle) Clone() *Handle {
	if h.s == nil {
		return &Handle{}
	}
	h.s.refs.Add(1)
	return &Handle{s: h.s}
}

// Close releases this handle. Closing the last handle stops the worker,
// which cancels any in-flight prompt, kills the agent and reaps it. Close
// does not wait for that; use Done.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		if h.s != nil && h.s.refs.Add(-1) == 0 {
			h.s.commands.Close()
		}
	})
}

// Done is closed once the worker has exited and the agent has been reaped.
func (h *Handle) Done() <-chan struct{} {
	if h.s == nil {
		return closedDone
	}
	return h.s.done
}

var closedDone = func() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()
