// Package process launches the ACP agent subprocess and owns its lifecycle.
package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/acpbridge/internal/common/logger"
)

var (
	// ErrNoStdio is returned when the child's stdin or stdout pipe cannot be created.
	ErrNoStdio = errors.New("agent process has no stdio")
	// ErrNoCommand is returned for an empty launch spec.
	ErrNoCommand = errors.New("no agent command configured")
)

// Spec describes one way of launching the agent.
type Spec struct {
	Path string
	Args []string
	// Env is appended to the inherited environment.
	Env []string
}

// Launcher builds launch specs for the two auth modes.
type Launcher struct {
	// Binary is run directly when CLI auth is off.
	Binary string
	// Runner runs RunnerPackage when CLI auth is on. Empty means npx.
	Runner         string
	RunnerPackage  string
	PermissionMode string
}

// DefaultLauncher returns the stock claude-code ACP launch settings.
func DefaultLauncher() Launcher {
	return Launcher{
		Binary:         "claude-code-acp",
		RunnerPackage:  "acp-claude-code",
		PermissionMode: "acceptEdits",
	}
}

// Command returns the launch spec for the given auth mode. With useCLIAuth the
// agent package is started through the package runner with edits
// auto-accepted; otherwise the installed binary is executed directly.
func (l Launcher) Command(useCLIAuth bool) Spec {
	if !useCLIAuth {
		return Spec{Path: l.Binary}
	}
	runner := l.Runner
	if runner == "" {
		runner = defaultRunner()
	}
	spec := Spec{Path: runner, Args: []string{l.RunnerPackage}}
	if l.PermissionMode != "" {
		spec.Env = []string{"ACP_PERMISSION_MODE=" + l.PermissionMode}
	}
	return spec
}

func defaultRunner() string {
	if runtime.GOOS == "windows" {
		return "npx.cmd"
	}
	return "npx"
}

// Process is a running agent with piped stdin/stdout.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	logger *logger.Logger

	waitOnce sync.Once
	waitErr  error
}

// Option configures Start.
type Option func(*exec.Cmd)

// WithStderr redirects the child's stderr. The default is os.Stderr.
func WithStderr(w io.Writer) Option {
	return func(c *exec.Cmd) {
		c.Stderr = w
	}
}

// Start spawns the agent in workDir. Any failure here is fatal to runtime
// setup; there is no retry.
func Start(spec Spec, workDir string, log *logger.Logger, opts ...Option) (*Process, error) {
	if spec.Path == "" {
		return nil, ErrNoCommand
	}
	if log == nil {
		log = logger.NewNop()
	}
	log = log.WithFields(zap.String("component", "agent-process"))

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Stderr = os.Stderr
	for _, opt := range opts {
		opt(cmd)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin: %v", ErrNoStdio, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("%w: stdout: %v", ErrNoStdio, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to spawn ACP process %q: %w", spec.Path, err)
	}

	log.Info("agent process started",
		zap.String("path", spec.Path),
		zap.Strings("args", spec.Args),
		zap.String("workdir", workDir),
		zap.Int("pid", cmd.Process.Pid))

	return &Process{cmd: cmd, stdin: stdin, stdout: stdout, logger: log}, nil
}

// Stdin is the pipe to the agent's standard input.
func (p *Process) Stdin() io.WriteCloser { return p.stdin }

// Stdout is the pipe from the agent's standard output.
func (p *Process) Stdout() io.ReadCloser { return p.stdout }

// Pid returns the OS process id.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Kill asks the process to terminate. Killing an already exited process is
// not an error.
func (p *Process) Kill() error {
	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// Wait reaps the process. Safe to call more than once; later calls return the
// first result.
func (p *Process) Wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
		if p.waitErr != nil {
			var exitErr *exec.ExitError
			if errors.As(p.waitErr, &exitErr) {
				p.logger.Info("agent process exited",
					zap.Int("exit_code", exitErr.ExitCode()),
					zap.Error(p.waitErr))
				return
			}
			p.logger.Warn("agent process wait failed", zap.Error(p.waitErr))
			return
		}
		p.logger.Info("agent process exited successfully")
	})
	return p.waitErr
}
