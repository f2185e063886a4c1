//go:build !windows

package process

import (
	"bufio"
	"bytes"
	"errors"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLauncherCommand(t *testing.T) {
	l := DefaultLauncher()

	t.Run("direct binary without cli auth", func(t *testing.T) {
		spec := l.Command(false)
		assert.Equal(t, "claude-code-acp", spec.Path)
		assert.Empty(t, spec.Args)
		assert.Empty(t, spec.Env)
	})

	t.Run("package runner with cli auth", func(t *testing.T) {
		spec := l.Command(true)
		assert.Equal(t, "npx", spec.Path)
		assert.Equal(t, []string{"acp-claude-code"}, spec.Args)
		assert.Equal(t, []string{"ACP_PERMISSION_MODE=acceptEdits"}, spec.Env)
	})

	t.Run("custom runner is honored", func(t *testing.T) {
		custom := Launcher{Binary: "agent", Runner: "bunx", RunnerPackage: "my-agent"}
		spec := custom.Command(true)
		assert.Equal(t, "bunx", spec.Path)
		assert.Equal(t, []string{"my-agent"}, spec.Args)
		assert.Empty(t, spec.Env)
	})
}

func TestStartEmptySpec(t *testing.T) {
	_, err := Start(Spec{}, t.TempDir(), nil)
	assert.ErrorIs(t, err, ErrNoCommand)
}

func TestStartMissingExecutable(t *testing.T) {
	_, err := Start(Spec{Path: filepath.Join(t.TempDir(), "does-not-exist")}, t.TempDir(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to spawn ACP process")
}

func TestStartPipesStdio(t *testing.T) {
	cat, err := exec.LookPath("cat")
	if err != nil {
		t.Skip("cat not available")
	}

	p, err := Start(Spec{Path: cat}, t.TempDir(), nil)
	require.NoError(t, err)
	assert.Positive(t, p.Pid())

	_, err = p.Stdin().Write([]byte("ping\n"))
	require.NoError(t, err)

	line, err := bufio.NewReader(p.Stdout()).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "ping\n", line)

	require.NoError(t, p.Stdin().Close())
	assert.NoError(t, p.Wait())
	assert.NoError(t, p.Wait(), "second wait returns the cached result")
}

func TestKillThenWait(t *testing.T) {
	sleep, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}

	p, err := Start(Spec{Path: sleep, Args: []string{"30"}}, t.TempDir(), nil)
	require.NoError(t, err)

	require.NoError(t, p.Kill())
	err = p.Wait()
	var exitErr *exec.ExitError
	assert.True(t, errors.As(err, &exitErr), "killed process reports an exit error")

	assert.NoError(t, p.Kill(), "killing an exited process is not an error")
}

func TestEnvAndStderr(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}

	var stderr bytes.Buffer
	spec := Spec{
		Path: sh,
		Args: []string{"-c", `echo "$ACP_PERMISSION_MODE" >&2`},
		Env:  []string{"ACP_PERMISSION_MODE=acceptEdits"},
	}
	p, err := Start(spec, t.TempDir(), nil, WithStderr(&stderr))
	require.NoError(t, err)
	require.NoError(t, p.Stdin().Close())
	require.NoError(t, p.Wait())

	assert.Equal(t, "acceptEdits", strings.TrimSpace(stderr.String()))
}
