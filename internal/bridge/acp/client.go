// Package acp implements the host side of the Agent Client Protocol: the
// callbacks an agent makes into the bridge while a session is running.
package acp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/coder/acp-go-sdk"
	"go.uber.org/zap"

	"github.com/kandev/acpbridge/internal/common/logger"
)

// JSON-RPC error codes returned to the agent.
const (
	ErrCodeMethodNotFound = -32601
	ErrCodeInternal       = -32603
)

// UpdateHandler receives every session/update notification from the agent.
// It must not block.
type UpdateHandler func(notification acp.SessionNotification)

// Client implements acp.Client. File access is resolved against a fixed
// workspace root; terminals and permission prompts are refused.
type Client struct {
	logger        *logger.Logger
	workspaceRoot string

	mu            sync.RWMutex
	updateHandler UpdateHandler
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithLogger sets the logger
func WithLogger(l *logger.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// WithWorkspaceRoot sets the root that agent file paths resolve against
func WithWorkspaceRoot(root string) ClientOption {
	return func(c *Client) {
		c.workspaceRoot = root
	}
}

// WithUpdateHandler sets the handler for session updates
func WithUpdateHandler(h UpdateHandler) ClientOption {
	return func(c *Client) {
		c.updateHandler = h
	}
}

// NewClient creates a new host client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		logger:        logger.NewNop(),
		workspaceRoot: ".",
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithFields(zap.String("component", "acp-host"))
	return c
}

// SetUpdateHandler replaces the update handler (thread-safe).
func (c *Client) SetUpdateHandler(h UpdateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateHandler = h
}

// WorkspaceRoot returns the root file paths are resolved against.
func (c *Client) WorkspaceRoot() string {
	return c.workspaceRoot
}

// resolvePath joins path under the workspace root. Absolute paths are joined
// too, so "/src/a.go" becomes "<root>/src/a.go". Traversal via ".." is not
// rejected; the root only anchors relative lookups.
func (c *Client) resolvePath(path string) string {
	return filepath.Join(c.workspaceRoot, path)
}

func notSupported(what string) *acp.RequestError {
	return &acp.RequestError{Code: ErrCodeMethodNotFound, Message: what + " not supported"}
}

func internalError(format string, args ...any) *acp.RequestError {
	return &acp.RequestError{Code: ErrCodeInternal, Message: fmt.Sprintf(format, args...)}
}

// RequestPermission is refused; the agent is expected to run in a permission
// mode that does not prompt.
func (c *Client) RequestPermission(ctx context.Context, p acp.RequestPermissionRequest) (acp.RequestPermissionResponse, error) {
	c.logger.Debug("refusing permission request",
		zap.String("session_id", string(p.SessionId)),
		zap.String("tool_call_id", string(p.ToolCall.ToolCallId)))
	return acp.RequestPermissionResponse{}, notSupported("Permission requests")
}

// SessionUpdate forwards the notification to the update handler. It never
// fails; with no handler the notification is dropped.
func (c *Client) SessionUpdate(ctx context.Context, n acp.SessionNotification) error {
	c.mu.RLock()
	handler := c.updateHandler
	c.mu.RUnlock()

	if u := n.Update; u.AgentMessageChunk != nil && u.AgentMessageChunk.Content.Text != nil {
		text := u.AgentMessageChunk.Content.Text.Text
		c.logger.Debug("agent message chunk",
			zap.String("session_id", string(n.SessionId)),
			zap.String("text", truncateRunes(text, 50)))
	}

	if handler != nil {
		handler(n)
	}
	return nil
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// ReadTextFile reads a text file relative to the workspace root.
func (c *Client) ReadTextFile(ctx context.Context, p acp.ReadTextFileRequest) (acp.ReadTextFileResponse, error) {
	path := c.resolvePath(p.Path)
	c.logger.Debug("reading file", zap.String("path", path))

	b, err := os.ReadFile(path)
	if err != nil {
		return acp.ReadTextFileResponse{}, internalError("File read error: %v", err)
	}

	content := string(b)
	if p.Line != nil || p.Limit != nil {
		content = sliceLines(content, p.Line, p.Limit)
	}
	return acp.ReadTextFileResponse{Content: content}, nil
}

// sliceLines applies the optional 1-based line offset and line limit.
func sliceLines(content string, line, limit *int) string {
	lines := strings.Split(content, "\n")
	start := 0
	if line != nil && *line > 0 {
		start = min(*line-1, len(lines))
	}
	end := len(lines)
	if limit != nil && *limit > 0 && start+*limit < end {
		end = start + *limit
	}
	return strings.Join(lines[start:end], "\n")
}

// WriteTextFile writes a text file relative to the workspace root, creating
// parent directories when it can.
func (c *Client) WriteTextFile(ctx context.Context, p acp.WriteTextFileRequest) (acp.WriteTextFileResponse, error) {
	path := c.resolvePath(p.Path)
	c.logger.Debug("writing file", zap.String("path", path), zap.Int("bytes", len(p.Content)))

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		// The write below reports the real failure if the directory is missing.
		c.logger.Debug("mkdir failed", zap.String("path", path), zap.Error(err))
	}

	if err := os.WriteFile(path, []byte(p.Content), 0o644); err != nil {
		return acp.WriteTextFileResponse{}, internalError("File write error: %v", err)
	}
	return acp.WriteTextFileResponse{}, nil
}

func (c *Client) CreateTerminal(ctx context.Context, p acp.CreateTerminalRequest) (acp.CreateTerminalResponse, error) {
	return acp.CreateTerminalResponse{}, notSupported("Terminal functionality")
}

func (c *Client) KillTerminalCommand(ctx context.Context, p acp.KillTerminalCommandRequest) (acp.KillTerminalCommandResponse, error) {
	return acp.KillTerminalCommandResponse{}, notSupported("Terminal functionality")
}

func (c *Client) TerminalOutput(ctx context.Context, p acp.TerminalOutputRequest) (acp.TerminalOutputResponse, error) {
	return acp.TerminalOutputResponse{}, notSupported("Terminal functionality")
}

func (c *Client) ReleaseTerminal(ctx context.Context, p acp.ReleaseTerminalRequest) (acp.ReleaseTerminalResponse, error) {
	return acp.ReleaseTerminalResponse{}, notSupported("Terminal functionality")
}

func (c *Client) WaitForTerminalExit(ctx context.Context, p acp.WaitForTerminalExitRequest) (acp.WaitForTerminalExitResponse, error) {
	return acp.WaitForTerminalExitResponse{}, notSupported("Terminal functionality")
}

// HandleExtensionMethod refuses "_"-prefixed methods. The connection routes
// extension notifications here too and drops the reply, so they are
// effectively ignored.
func (c *Client) HandleExtensionMethod(ctx context.Context, method string, params json.RawMessage) (any, error) {
	c.logger.Debug("refusing extension method", zap.String("method", method))
	return nil, notSupported("Extension methods")
}

var (
	_ acp.Client                 = (*Client)(nil)
	_ acp.ExtensionMethodHandler = (*Client)(nil)
)
