package envelope

import (
	"fmt"
	"strings"
)

// InvalidEnvelopeError reports an envelope that violates the wire contract.
// It is distinct from transport errors: callers must never retry it.
type InvalidEnvelopeError struct {
	EventID string   // may be empty when the id itself is missing
	Issues  []string // one entry per violation
}

// Error implements the error interface.
func (e *InvalidEnvelopeError) Error() string {
	if e.EventID != "" {
		return fmt.Sprintf("invalid envelope %s: %s", e.EventID, strings.Join(e.Issues, "; "))
	}
	return "invalid envelope: " + strings.Join(e.Issues, "; ")
}
