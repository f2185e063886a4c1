package jira

import (
	"fmt"
	"strings"
)

// Ticket is the flattened view of an issue used in prompts.
type Ticket struct {
	ID          string `json:"id"`
	Key         string `json:"key"`
	Title       string `json:"title"`
	Type        string `json:"type"`
	Priority    string `json:"priority"`
	Assignee    string `json:"assignee"`
	Status      string `json:"status"`
	Created     string `json:"created"`
	Description string `json:"description"`
}

// TicketFields are the issue fields TicketFromIssue reads, for use as the
// fields list of a search.
var TicketFields = []string{"summary", "issuetype", "priority", "assignee", "status", "created", "description"}

var (
	knownTypes      = map[string]bool{"Story": true, "Bug": true, "Task": true, "Epic": true}
	knownPriorities = map[string]bool{"Low": true, "Medium": true, "High": true, "Critical": true}
)

// TicketFromIssue maps a raw issue onto a Ticket. fallbackKey fills id and
// key when the document lacks them. Unknown issue types collapse to "Task"
// and unknown priorities to "Medium".
func TicketFromIssue(issue Issue, fallbackKey string) Ticket {
	fields, _ := issue["fields"].(map[string]any)

	t := Ticket{
		ID:          stringOr(issue["id"], fallbackKey),
		Key:         stringOr(issue["key"], fallbackKey),
		Title:       stringOr(fields["summary"], "Untitled ticket"),
		Type:        nestedName(fields, "issuetype", "name"),
		Priority:    nestedName(fields, "priority", "name"),
		Assignee:    stringOr(nested(fields, "assignee", "displayName"), "Unassigned"),
		Status:      stringOr(nested(fields, "status", "name"), "Unknown"),
		Created:     stringOr(fields["created"], "Unknown"),
		Description: description(fields["description"]),
	}
	if !knownTypes[t.Type] {
		t.Type = "Task"
	}
	if !knownPriorities[t.Priority] {
		t.Priority = "Medium"
	}
	return t
}

// Line renders the ticket on one line for listings.
func (t Ticket) Line() string {
	return fmt.Sprintf("%s\t%s\t%s\t%s\t%s", t.Key, t.Type, t.Priority, t.Status, t.Title)
}

// Prompt renders the ticket as context for an agent prompt.
func (t Ticket) Prompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Jira ticket %s: %s\n", t.Key, t.Title)
	fmt.Fprintf(&b, "Type: %s | Priority: %s | Status: %s\n", t.Type, t.Priority, t.Status)
	fmt.Fprintf(&b, "Assignee: %s | Created: %s\n\n", t.Assignee, t.Created)
	b.WriteString(t.Description)
	b.WriteString("\n")
	return b.String()
}

func description(v any) string {
	switch d := v.(type) {
	case nil:
		return "No description provided."
	case string:
		if d == "" {
			return "No description provided."
		}
		return d
	default:
		// Atlassian Document Format.
		return "Description uses an unsupported format."
	}
}

func nested(fields map[string]any, obj, key string) any {
	m, ok := fields[obj].(map[string]any)
	if !ok {
		return nil
	}
	return m[key]
}

func nestedName(fields map[string]any, obj, key string) string {
	s, _ := nested(fields, obj, key).(string)
	return s
}

func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}
