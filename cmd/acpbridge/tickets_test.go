package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/acpbridge/internal/jira"
)

type fakeSearcher struct {
	issues []jira.Issue
	err    error

	jql        string
	fields     []string
	maxResults int
}

func (f *fakeSearcher) Search(_ context.Context, jql string, fields []string, maxResults int) ([]jira.Issue, error) {
	f.jql, f.fields, f.maxResults = jql, fields, maxResults
	return f.issues, f.err
}

func issueFixture(n int) jira.Issue {
	return jira.Issue{
		"key": fmt.Sprintf("PROJ-%d", n),
		"fields": map[string]any{
			"summary":   fmt.Sprintf("Ticket %d", n),
			"issuetype": map[string]any{"name": "Bug"},
			"priority":  map[string]any{"name": "High"},
			"status":    map[string]any{"name": "Open"},
		},
	}
}

func TestListTickets(t *testing.T) {
	s := &fakeSearcher{issues: []jira.Issue{issueFixture(1), issueFixture(2)}}
	var out bytes.Buffer

	require.NoError(t, listTickets(context.Background(), s, "project = PROJ", 10, &out))
	assert.Equal(t, "PROJ-1\tBug\tHigh\tOpen\tTicket 1\nPROJ-2\tBug\tHigh\tOpen\tTicket 2\n", out.String())
	assert.Equal(t, "project = PROJ", s.jql)
	assert.Equal(t, jira.TicketFields, s.fields)
	assert.Equal(t, 10, s.maxResults)
}

func TestListTicketsCapsOutput(t *testing.T) {
	var issues []jira.Issue
	for i := 0; i < 5; i++ {
		issues = append(issues, issueFixture(i))
	}
	var out bytes.Buffer

	require.NoError(t, listTickets(context.Background(), &fakeSearcher{issues: issues}, "x", 3, &out))
	assert.Equal(t, 3, bytes.Count(out.Bytes(), []byte("\n")))
}

func TestListTicketsEmpty(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, listTickets(context.Background(), &fakeSearcher{}, "x", 3, &out))
	assert.Equal(t, "no matching tickets\n", out.String())
}

func TestListTicketsError(t *testing.T) {
	boom := errors.New("401 Unauthorized")
	err := listTickets(context.Background(), &fakeSearcher{err: boom}, "x", 3, &bytes.Buffer{})
	assert.ErrorIs(t, err, boom)
}
