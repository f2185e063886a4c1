package main

import (
	"context"
	"fmt"
	"io"

	"github.com/kandev/acpbridge/internal/jira"
)

const defaultMaxTickets = 50

type ticketSearcher interface {
	Search(ctx context.Context, jql string, fields []string, maxResults int) ([]jira.Issue, error)
}

// listTickets prints one line per issue matching jql, capped at maxResults
// lines.
func listTickets(ctx context.Context, s ticketSearcher, jql string, maxResults int, out io.Writer) error {
	issues, err := s.Search(ctx, jql, jira.TicketFields, maxResults)
	if err != nil {
		return err
	}
	if len(issues) > maxResults {
		issues = issues[:maxResults]
	}
	if len(issues) == 0 {
		_, err := fmt.Fprintln(out, "no matching tickets")
		return err
	}
	for _, issue := range issues {
		if _, err := fmt.Fprintln(out, jira.TicketFromIssue(issue, "").Line()); err != nil {
			return err
		}
	}
	return nil
}
