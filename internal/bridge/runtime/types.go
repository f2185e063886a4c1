// Package runtime runs one ACP agent session on a dedicated worker goroutine.
//
// The worker owns the agent subprocess and the protocol connection. Callers
// never touch either: they hold a Handle, which enqueues prompt commands and
// waits on a single-use reply slot. Prompts are served strictly one at a time
// in submission order, and each reply carries the agent's stop reason together
// with every agent_message_chunk streamed for that turn.
package runtime

import (
	"errors"

	"github.com/coder/acp-go-sdk"

	acpclient "github.com/kandev/acpbridge/internal/bridge/acp"
)

var (
	// ErrRuntimeUnavailable is returned when a command cannot be enqueued
	// because the runtime was never started or has been closed.
	ErrRuntimeUnavailable = errors.New("ACP runtime not available")

	// ErrRuntimeShutDown is returned when the worker exits without answering.
	ErrRuntimeShutDown = errors.New("ACP runtime shut down")

	// ErrPromptCancelled is returned when the notification stream ends, or the
	// runtime is closed, before the agent answers the prompt.
	ErrPromptCancelled error = &acp.RequestError{Code: acpclient.ErrCodeInternal, Message: "Prompt cancelled"}
)

// PromptResult is the aggregated answer to one prompt.
type PromptResult struct {
	StopReason acp.StopReason `json:"stopReason"`
	Meta       any            `json:"meta,omitempty"`
	Text       string         `json:"text"`
}

// command is a unit of work for the worker. promptCommand is the only kind.
type command interface {
	isCommand()
}

type promptCommand struct {
	text string
	// reply has capacity 1 and receives exactly one value.
	reply chan promptReply
}

func (promptCommand) isCommand() {}

type promptReply struct {
	result PromptResult
	err    error
}

func newPromptCommand(text string) promptCommand {
	return promptCommand{text: text, reply: make(chan promptReply, 1)}
}

// respond fulfils the reply slot. It never blocks; a caller that has
// stopped waiting simply never reads the value.
func (c promptCommand) respond(result PromptResult, err error) {
	select {
	case c.reply <- promptReply{result: result, err: err}:
	default:
	}
}
