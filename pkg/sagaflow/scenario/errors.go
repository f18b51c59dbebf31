package scenario

import (
	"fmt"
	"strings"
)

// Issue is a single validation problem located by a dotted path into the
// scenario document, e.g. "listeners[2].actions[0].toDomain".
type Issue struct {
	Path    string
	Message string
}

// String renders the issue as "path: message".
func (i Issue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

// ValidationError aggregates every issue found in a scenario document.
// Scenarios with validation errors are fatal at startup.
type ValidationError struct {
	Scenario string
	Issues   []Issue
}

// Error implements the error interface, listing every issue.
func (e *ValidationError) Error() string {
	lines := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		lines[i] = issue.String()
	}
	name := e.Scenario
	if name == "" {
		name = "scenario"
	}
	return fmt.Sprintf("invalid scenario %q: %s", name, strings.Join(lines, "; "))
}
