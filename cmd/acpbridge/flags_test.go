package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/acpbridge/internal/common/config"
)

func TestParseFlagsOverridesOnlyWhatWasGiven(t *testing.T) {
	cfg := &config.Config{Agent: config.AgentConfig{Root: "/from/config", UseCLIAuth: true}}

	flags, _, err := parseFlags([]string{"--prompt", "hi"})
	require.NoError(t, err)
	flags.apply(cfg)

	assert.Equal(t, "/from/config", cfg.Agent.Root)
	assert.True(t, cfg.Agent.UseCLIAuth)
	assert.Equal(t, "hi", flags.prompt)
}

func TestParseFlagsApplyOverrides(t *testing.T) {
	cfg := &config.Config{Agent: config.AgentConfig{Root: "/from/config", UseCLIAuth: true}}

	flags, _, err := parseFlags([]string{"--root", "/srv/app", "--cli-auth=false", "--issue", "PROJ-1", "-p", "go"})
	require.NoError(t, err)
	flags.apply(cfg)

	assert.Equal(t, "/srv/app", cfg.Agent.Root)
	assert.False(t, cfg.Agent.UseCLIAuth)
	assert.Equal(t, "PROJ-1", flags.issueKey)
	assert.Equal(t, "go", flags.prompt)
}

func TestParseFlagsRejectsPositionalArgs(t *testing.T) {
	_, _, err := parseFlags([]string{"stray"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected argument: stray")
}

func TestParseFlagsUnknownFlag(t *testing.T) {
	_, _, err := parseFlags([]string{"--nope"})
	assert.Error(t, err)
}

func TestParseFlagsJQL(t *testing.T) {
	flags, _, err := parseFlags([]string{"--jql", "project = PROJ", "--max-tickets", "5"})
	require.NoError(t, err)
	assert.Equal(t, "project = PROJ", flags.jql)
	assert.Equal(t, 5, flags.maxTickets)

	flags, _, err = parseFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, defaultMaxTickets, flags.maxTickets)
}

func TestParseFlagsJQLConflicts(t *testing.T) {
	_, _, err := parseFlags([]string{"--jql", "x", "--issue", "PROJ-1"})
	assert.ErrorContains(t, err, "mutually exclusive")

	_, _, err = parseFlags([]string{"--jql", "x", "--max-tickets", "0"})
	assert.ErrorContains(t, err, "--max-tickets must be positive")
}
