package runtime

import (
	"context"
	"strings"
	"time"

	"github.com/coder/acp-go-sdk"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/acpbridge/internal/bridge/metrics"
	"github.com/kandev/acpbridge/internal/bridge/tracing"
	"github.com/kandev/acpbridge/internal/common/logger"
)

const cancelNotifyTimeout = 2 * time.Second

type readyResult struct {
	sessionID acp.SessionId
	err       error
}

type promptOutcome struct {
	resp acp.PromptResponse
	err  error
}

// worker owns the agent connection and subprocess. Exactly one goroutine
// runs a worker; everything else talks to it through commands.
type worker struct {
	opts          *Options
	logger        *logger.Logger
	commands      *unbounded[command]
	notifications *unbounded[acp.SessionNotification]
	done          chan struct{}
}

func newWorker(opts *Options, commands *unbounded[command]) *worker {
	return &worker{
		opts:          opts,
		logger:        opts.Logger.WithFields(zap.String("component", "acp-runtime")),
		commands:      commands,
		notifications: newUnbounded[acp.SessionNotification](),
		done:          make(chan struct{}),
	}
}

// run sets up the connection, reports readiness exactly once, then serves
// commands until the command queue is closed.
func (w *worker) run(ctx context.Context, ready chan<- readyResult) {
	defer close(w.done)

	wc, err := setupConnection(ctx, w.opts, w.notifications)
	if err != nil {
		w.logger.Error("ACP runtime setup failed", zap.Error(err))
		metrics.RecordSetupFailure()
		ready <- readyResult{err: err}
		return
	}
	metrics.RuntimeStarted()
	ready <- readyResult{sessionID: wc.sessionID}

	log := w.logger.WithSessionID(string(wc.sessionID))
	log.Info("ACP runtime ready")

	w.serve(wc, log)
	w.shutdown(wc, log)
}

func (w *worker) serve(wc *workerContext, log *logger.Logger) {
	for {
		cmd, ok := w.commands.Pop(context.Background())
		if !ok {
			return
		}
		switch c := cmd.(type) {
		case promptCommand:
			if w.closing() {
				c.respond(PromptResult{}, ErrPromptCancelled)
				continue
			}
			result, err := w.runPrompt(wc, c.text, log)
			c.respond(result, err)
		}
	}
}

func (w *worker) closing() bool {
	select {
	case <-w.commands.Closed():
		return true
	default:
		return false
	}
}

// shutdown terminates the agent and reaps it. done is closed by run
// afterwards, so observers of Done never see a live child.
func (w *worker) shutdown(wc *workerContext, log *logger.Logger) {
	log.Info("stopping ACP runtime")
	if err := wc.proc.Kill(); err != nil {
		log.Warn("failed to kill agent process", zap.Error(err))
	}
	if err := wc.proc.Wait(); err != nil {
		log.Debug("agent process exited", zap.Error(err))
	}
	w.notifications.Close()
	metrics.RuntimeStopped()
	log.Info("ACP runtime stopped")
}

// runPrompt sends one prompt and races the pending response against the
// notification feed, collecting agent message text for this session.
func (w *worker) runPrompt(wc *workerContext, text string, log *logger.Logger) (PromptResult, error) {
	promptID := uuid.New().String()
	started := time.Now()
	log = log.WithFields(zap.String("prompt_id", promptID))
	log.Debug("sending prompt", zap.Int("prompt_length", len(text)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx, span := tracing.TracePrompt(ctx, string(wc.sessionID), promptID, len(text))
	defer span.End()

	future := make(chan promptOutcome, 1)
	go func() {
		resp, err := wc.conn.Prompt(ctx, acp.PromptRequest{
			SessionId: wc.sessionID,
			Prompt:    []acp.ContentBlock{acp.TextBlock(text)},
		})
		future <- promptOutcome{resp: resp, err: err}
	}()

	acc := newAccumulator(wc.sessionID)
	var outcome *promptOutcome

race:
	for {
		select {
		case o := <-future:
			outcome = &o
			break race
		case <-w.notifications.Signal():
			w.drain(acc)
		case <-w.notifications.Closed():
			log.Warn("notification stream closed while prompting")
			break race
		case <-w.commands.Closed():
			log.Info("runtime closing, abandoning prompt")
			break race
		}
	}

	if outcome == nil {
		select {
		case o := <-future:
			outcome = &o
		default:
		}
	}

	// Everything the agent sent before its response is already queued.
	w.drain(acc)

	if outcome == nil {
		w.cancelTurn(wc, log)
		metrics.RecordPrompt(metrics.OutcomeCancelled, time.Since(started), acc.chunks)
		tracing.TracePromptResult(span, "", acc.text.Len(), acc.chunks, ErrPromptCancelled)
		return PromptResult{}, ErrPromptCancelled
	}
	if outcome.err != nil {
		log.Warn("prompt failed", zap.Error(outcome.err))
		metrics.RecordPrompt(metrics.OutcomeError, time.Since(started), acc.chunks)
		tracing.TracePromptResult(span, "", acc.text.Len(), acc.chunks, outcome.err)
		return PromptResult{}, outcome.err
	}

	result := PromptResult{
		StopReason: outcome.resp.StopReason,
		Text:       acc.text.String(),
	}
	if outcome.resp.Meta != nil {
		result.Meta = outcome.resp.Meta
	}

	log.Info("prompt completed",
		zap.String("stop_reason", string(result.StopReason)),
		zap.Int("chunks", acc.chunks),
		zap.Int("text_length", len(result.Text)))
	metrics.RecordPrompt(metrics.OutcomeOK, time.Since(started), acc.chunks)
	tracing.TracePromptResult(span, string(result.StopReason), len(result.Text), acc.chunks, nil)
	return result, nil
}

func (w *worker) drain(acc *accumulator) {
	for {
		n, ok := w.notifications.TryPop()
		if !ok {
			return
		}
		acc.add(n)
	}
}

// cancelTurn tells the agent to stop the abandoned turn. Failures are only
// logged: the connection may already be gone.
func (w *worker) cancelTurn(wc *workerContext, log *logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cancelNotifyTimeout)
	defer cancel()
	if err := wc.conn.Cancel(ctx, acp.CancelNotification{SessionId: wc.sessionID}); err != nil {
		log.Debug("session/cancel not delivered", zap.Error(err))
	}
}

// accumulator collects agent_message_chunk text for one session, in order.
type accumulator struct {
	sessionID acp.SessionId
	text      strings.Builder
	chunks    int
}

func newAccumulator(sessionID acp.SessionId) *accumulator {
	return &accumulator{sessionID: sessionID}
}

// add appends n's text if it is a text message chunk for this session and
// reports whether it did. Every other update is ignored.
func (a *accumulator) add(n acp.SessionNotification) bool {
	if n.SessionId != a.sessionID {
		return false
	}
	chunk := n.Update.AgentMessageChunk
	if chunk == nil || chunk.Content.Text == nil {
		return false
	}
	a.text.WriteString(chunk.Content.Text.Text)
	a.chunks++
	return true
}
