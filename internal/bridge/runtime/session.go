package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/coder/acp-go-sdk"
	"go.uber.org/zap"

	acpclient "github.com/kandev/acpbridge/internal/bridge/acp"
	"github.com/kandev/acpbridge/internal/bridge/process"
	"github.com/kandev/acpbridge/internal/bridge/tracing"
	"github.com/kandev/acpbridge/internal/common/logger"
)

// Version is reported to the agent as the client version.
var Version = "0.1.0"

const defaultHandshakeTimeout = 60 * time.Second

// agentConn is the subset of *acp.ClientSideConnection the worker drives.
type agentConn interface {
	Initialize(ctx context.Context, params acp.InitializeRequest) (acp.InitializeResponse, error)
	NewSession(ctx context.Context, params acp.NewSessionRequest) (acp.NewSessionResponse, error)
	Prompt(ctx context.Context, params acp.PromptRequest) (acp.PromptResponse, error)
	Cancel(ctx context.Context, params acp.CancelNotification) error
	// Done is closed once the connection's reader stops.
	Done() <-chan struct{}
}

// agentProcess is the lifecycle half of *process.Process.
type agentProcess interface {
	Kill() error
	Wait() error
}

// connectFunc spawns the agent and wires a connection that delivers inbound
// calls to client.
type connectFunc func(ctx context.Context, client *acpclient.Client) (agentConn, agentProcess, error)

// Options configures Start.
type Options struct {
	// Root is the project directory; relative roots are made absolute.
	Root string
	// UseCLIAuth selects the package-runner launch variant.
	UseCLIAuth bool
	// Launcher overrides the executable names. Zero value means
	// process.DefaultLauncher().
	Launcher process.Launcher
	// HandshakeTimeout bounds initialize + session/new. Zero means 60s.
	HandshakeTimeout time.Duration
	// Stderr receives the agent's stderr. Nil means inherit.
	Stderr io.Writer
	Logger *logger.Logger

	connect connectFunc
}

func (o *Options) normalize() error {
	if o.Root == "" {
		o.Root = "."
	}
	abs, err := filepath.Abs(o.Root)
	if err != nil {
		return fmt.Errorf("resolve project root: %w", err)
	}
	o.Root = abs
	if o.Launcher == (process.Launcher{}) {
		o.Launcher = process.DefaultLauncher()
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	if o.Logger == nil {
		o.Logger = logger.NewNop()
	}
	if o.connect == nil {
		o.connect = o.spawnAgent
	}
	return nil
}

// spawnAgent starts the subprocess and builds the SDK connection over its
// stdio. The SDK runs its own reader goroutine; no other I/O task is needed.
func (o *Options) spawnAgent(ctx context.Context, client *acpclient.Client) (agentConn, agentProcess, error) {
	var procOpts []process.Option
	if o.Stderr != nil {
		procOpts = append(procOpts, process.WithStderr(o.Stderr))
	}

	proc, err := process.Start(o.Launcher.Command(o.UseCLIAuth), o.Root, o.Logger, procOpts...)
	if err != nil {
		return nil, nil, err
	}

	conn := acp.NewClientSideConnection(client, proc.Stdin(), proc.Stdout())
	conn.SetLogger(slog.Default().With("component", "acp-conn"))
	return conn, proc, nil
}

// workerContext is everything the worker owns for its lifetime.
type workerContext struct {
	conn      agentConn
	sessionID acp.SessionId
	proc      agentProcess
}

// setupConnection spawns the agent and performs the handshake. On failure
// the subprocess, if any, is killed and reaped before returning.
func setupConnection(ctx context.Context, opts *Options, notifications *unbounded[acp.SessionNotification]) (*workerContext, error) {
	log := opts.Logger

	client := acpclient.NewClient(
		acpclient.WithLogger(log),
		acpclient.WithWorkspaceRoot(opts.Root),
		acpclient.WithUpdateHandler(func(n acp.SessionNotification) {
			// Dropped silently once the worker has gone away.
			notifications.Push(n)
		}),
	)

	conn, proc, err := opts.connect(ctx, client)
	if err != nil {
		return nil, err
	}

	go func() {
		<-conn.Done()
		notifications.Close()
	}()

	hctx, cancel := context.WithTimeout(ctx, opts.HandshakeTimeout)
	defer cancel()

	hctx, span := tracing.TraceHandshake(hctx, opts.Root, opts.UseCLIAuth)
	sessionID, err := handshake(hctx, conn, opts.Root, log)
	tracing.TraceHandshakeResult(span, string(sessionID), err)
	span.End()

	if err != nil {
		_ = proc.Kill()
		_ = proc.Wait()
		return nil, err
	}

	return &workerContext{conn: conn, sessionID: sessionID, proc: proc}, nil
}

// handshake performs initialize then session/new, exactly once each.
func handshake(ctx context.Context, conn agentConn, root string, log *logger.Logger) (acp.SessionId, error) {
	// Terminal capability is left false.
	initResp, err := conn.Initialize(ctx, acp.InitializeRequest{
		ProtocolVersion: acp.ProtocolVersionNumber,
		ClientCapabilities: acp.ClientCapabilities{
			Fs: acp.FileSystemCapability{ReadTextFile: true, WriteTextFile: true},
		},
		ClientInfo: &acp.Implementation{
			Name:    "acpbridge",
			Version: Version,
		},
	})
	if err != nil {
		return "", fmt.Errorf("ACP initialize handshake failed: %w", err)
	}

	agentName, agentVersion := "unknown", "unknown"
	if initResp.AgentInfo != nil {
		agentName = initResp.AgentInfo.Name
		agentVersion = initResp.AgentInfo.Version
	}
	log.Info("ACP connection initialized",
		zap.String("agent_name", agentName),
		zap.String("agent_version", agentVersion),
		zap.Bool("supports_load_session", initResp.AgentCapabilities.LoadSession))

	sessResp, err := conn.NewSession(ctx, acp.NewSessionRequest{
		Cwd:        root,
		McpServers: []acp.McpServer{},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create ACP session: %w", err)
	}

	log.Info("created ACP session", zap.String("session_id", string(sessResp.SessionId)))
	return sessResp.SessionId, nil
}
