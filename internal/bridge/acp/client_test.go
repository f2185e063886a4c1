package acp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/coder/acp-go-sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireRequestError(t *testing.T, err error, code int) *acp.RequestError {
	t.Helper()
	require.Error(t, err)
	var reqErr *acp.RequestError
	require.True(t, errors.As(err, &reqErr), "expected *acp.RequestError, got %T", err)
	assert.Equal(t, code, reqErr.Code)
	return reqErr
}

func intPtr(v int) *int { return &v }

func TestResolvePath(t *testing.T) {
	client := NewClient(WithWorkspaceRoot("/workspace/project"))

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "relative path resolves within workspace",
			input:    "src/main.go",
			expected: "/workspace/project/src/main.go",
		},
		{
			name:     "absolute path is joined under the root",
			input:    "/src/main.go",
			expected: "/workspace/project/src/main.go",
		},
		{
			name:     "dot path resolves to workspace root",
			input:    ".",
			expected: "/workspace/project",
		},
		{
			name:     "traversal is not rejected",
			input:    "../other/file.txt",
			expected: "/workspace/other/file.txt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, client.resolvePath(tt.input))
		})
	}
}

func TestReadTextFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("one\ntwo\nthree\nfour"), 0o644))
	client := NewClient(WithWorkspaceRoot(root))
	ctx := context.Background()

	t.Run("reads whole file", func(t *testing.T) {
		resp, err := client.ReadTextFile(ctx, acp.ReadTextFileRequest{Path: "notes.txt"})
		require.NoError(t, err)
		assert.Equal(t, "one\ntwo\nthree\nfour", resp.Content)
	})

	t.Run("line and limit select a window", func(t *testing.T) {
		resp, err := client.ReadTextFile(ctx, acp.ReadTextFileRequest{
			Path:  "notes.txt",
			Line:  intPtr(2),
			Limit: intPtr(2),
		})
		require.NoError(t, err)
		assert.Equal(t, "two\nthree", resp.Content)
	})

	t.Run("line past end yields empty content", func(t *testing.T) {
		resp, err := client.ReadTextFile(ctx, acp.ReadTextFileRequest{Path: "notes.txt", Line: intPtr(99)})
		require.NoError(t, err)
		assert.Empty(t, resp.Content)
	})

	t.Run("missing file is an internal error", func(t *testing.T) {
		_, err := client.ReadTextFile(ctx, acp.ReadTextFileRequest{Path: "absent.txt"})
		reqErr := requireRequestError(t, err, ErrCodeInternal)
		assert.Contains(t, reqErr.Message, "File read error")
	})
}

func TestWriteTextFile(t *testing.T) {
	root := t.TempDir()
	client := NewClient(WithWorkspaceRoot(root))
	ctx := context.Background()

	t.Run("creates missing parent directories", func(t *testing.T) {
		_, err := client.WriteTextFile(ctx, acp.WriteTextFileRequest{
			Path:    "deep/nested/dir/out.txt",
			Content: "hello",
		})
		require.NoError(t, err)

		data, err := os.ReadFile(filepath.Join(root, "deep/nested/dir/out.txt"))
		require.NoError(t, err)
		assert.Equal(t, "hello", string(data))
	})

	t.Run("overwrites existing file", func(t *testing.T) {
		path := filepath.Join(root, "over.txt")
		require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

		_, err := client.WriteTextFile(ctx, acp.WriteTextFileRequest{Path: "over.txt", Content: "new"})
		require.NoError(t, err)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "new", string(data))
	})

	t.Run("mkdir failure is swallowed and the write error is reported", func(t *testing.T) {
		// A regular file where a directory is expected makes both MkdirAll and
		// WriteFile fail; only the write failure reaches the agent.
		require.NoError(t, os.WriteFile(filepath.Join(root, "blocker"), []byte("x"), 0o644))

		_, err := client.WriteTextFile(ctx, acp.WriteTextFileRequest{Path: "blocker/child.txt", Content: "x"})
		reqErr := requireRequestError(t, err, ErrCodeInternal)
		assert.Contains(t, reqErr.Message, "File write error")
	})
}

func TestSessionUpdateForwardsToHandler(t *testing.T) {
	var got []acp.SessionNotification
	client := NewClient(WithUpdateHandler(func(n acp.SessionNotification) {
		got = append(got, n)
	}))

	n := acp.SessionNotification{
		SessionId: "sess-1",
		Update:    acp.UpdateAgentMessageText("hi"),
	}
	require.NoError(t, client.SessionUpdate(context.Background(), n))

	require.Len(t, got, 1)
	assert.Equal(t, acp.SessionId("sess-1"), got[0].SessionId)
}

func TestSessionUpdateWithoutHandlerNeverFails(t *testing.T) {
	client := NewClient()
	err := client.SessionUpdate(context.Background(), acp.SessionNotification{
		SessionId: "sess-1",
		Update:    acp.UpdateAgentMessageText("dropped"),
	})
	assert.NoError(t, err)
}

func TestUnsupportedCapabilities(t *testing.T) {
	client := NewClient()
	ctx := context.Background()

	calls := map[string]func() error{
		"create terminal": func() error {
			_, err := client.CreateTerminal(ctx, acp.CreateTerminalRequest{Command: "ls"})
			return err
		},
		"terminal output": func() error {
			_, err := client.TerminalOutput(ctx, acp.TerminalOutputRequest{TerminalId: "t-1"})
			return err
		},
		"release terminal": func() error {
			_, err := client.ReleaseTerminal(ctx, acp.ReleaseTerminalRequest{TerminalId: "t-1"})
			return err
		},
		"wait for terminal exit": func() error {
			_, err := client.WaitForTerminalExit(ctx, acp.WaitForTerminalExitRequest{TerminalId: "t-1"})
			return err
		},
		"kill terminal command": func() error {
			_, err := client.KillTerminalCommand(ctx, acp.KillTerminalCommandRequest{TerminalId: "t-1"})
			return err
		},
		"request permission": func() error {
			_, err := client.RequestPermission(ctx, acp.RequestPermissionRequest{SessionId: "sess-1"})
			return err
		},
		"extension method": func() error {
			_, err := client.HandleExtensionMethod(ctx, "_vendor/thing", nil)
			return err
		},
	}

	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			reqErr := requireRequestError(t, call(), ErrCodeMethodNotFound)
			assert.Contains(t, reqErr.Message, "not supported")
		})
	}
}

func TestClientHandlesExtensionMethods(t *testing.T) {
	_, ok := any(NewClient()).(acp.ExtensionMethodHandler)
	assert.True(t, ok)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "short", truncateRunes("short", 50))
	assert.Equal(t, "héé", truncateRunes("hééllo", 3))
	assert.Equal(t, "日本", truncateRunes("日本語", 2))
}
