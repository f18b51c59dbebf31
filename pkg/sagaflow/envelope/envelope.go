// Package envelope defines the wire-level event envelope shared between the
// scenario runtime and every event bus implementation.
//
// An envelope wraps a free-form payload with the identity and metadata a saga
// needs: a unique event id (used for dedup and causation), a trace id
// propagated unchanged across the saga instance, and a correlation id that
// groups every event of one instance.
//
// Validation is strict and runs on every bus ingress and egress. All fields
// except CausationID are required; unknown top-level keys are rejected on
// decode.
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Version is the only accepted envelope schema version. The field is
// reserved for forward compatibility.
const Version = 1

// TimeLayout is the RFC-3339 layout used for OccurredAt on emitted
// envelopes. Millisecond precision matches the wire examples.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Envelope is the wire unit delivered through queues.
// Envelopes are treated as immutable once published.
type Envelope struct {
	EventName     string         `json:"eventName"`
	Version       int            `json:"version"`
	EventID       string         `json:"eventId"`
	TraceID       string         `json:"traceId"`
	CorrelationID string         `json:"correlationId"`
	OccurredAt    string         `json:"occurredAt"`
	CausationID   string         `json:"causationId,omitempty"`
	Data          map[string]any `json:"data"`
}

// NewID returns a fresh globally unique envelope id.
func NewID() string {
	return uuid.New().String()
}

// Timestamp formats t as an RFC-3339 instant suitable for OccurredAt.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// New builds a validated envelope for a saga's initial trigger.
// EventID and OccurredAt are generated; CausationID is left empty.
func New(eventName, traceID, correlationID string, data map[string]any) (*Envelope, error) {
	if data == nil {
		data = map[string]any{}
	}
	env := &Envelope{
		EventName:     eventName,
		Version:       Version,
		EventID:       NewID(),
		TraceID:       traceID,
		CorrelationID: correlationID,
		OccurredAt:    Timestamp(time.Now()),
		Data:          data,
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

// Derive builds an envelope caused by parent. The trace and correlation ids
// are inherited, the causation id is set to the parent's event id.
// The caller provides the id and timestamp so both stay injectable.
func Derive(parent *Envelope, eventName, eventID, occurredAt string, data map[string]any) *Envelope {
	if data == nil {
		data = map[string]any{}
	}
	return &Envelope{
		EventName:     eventName,
		Version:       Version,
		EventID:       eventID,
		TraceID:       parent.TraceID,
		CorrelationID: parent.CorrelationID,
		OccurredAt:    occurredAt,
		CausationID:   parent.EventID,
		Data:          data,
	}
}

// Validate checks the envelope against the wire contract.
// Every field except CausationID must be present and non-empty; the version
// must equal 1; OccurredAt must parse as RFC-3339. All violations are
// collected into a single InvalidEnvelopeError.
func (e *Envelope) Validate() error {
	var issues []string

	if e.EventName == "" {
		issues = append(issues, "eventName is required")
	}
	if e.Version != Version {
		issues = append(issues, fmt.Sprintf("version must be %d, got %d", Version, e.Version))
	}
	if e.EventID == "" {
		issues = append(issues, "eventId is required")
	}
	if e.TraceID == "" {
		issues = append(issues, "traceId is required")
	}
	if e.CorrelationID == "" {
		issues = append(issues, "correlationId is required")
	}
	if e.OccurredAt == "" {
		issues = append(issues, "occurredAt is required")
	} else if _, err := time.Parse(time.RFC3339, e.OccurredAt); err != nil {
		issues = append(issues, fmt.Sprintf("occurredAt is not a valid RFC-3339 instant: %q", e.OccurredAt))
	}
	if e.Data == nil {
		issues = append(issues, "data must be a JSON object")
	}

	if len(issues) > 0 {
		return &InvalidEnvelopeError{EventID: e.EventID, Issues: issues}
	}
	return nil
}

// Decode parses and validates an envelope from JSON.
// Unknown top-level keys are rejected. An explicit null causationId is
// accepted and normalized to the empty string.
func Decode(data []byte) (*Envelope, error) {
	// Pre-scan for null causationId: DisallowUnknownFields handles the
	// strict key set, but json decodes null into the zero value anyway,
	// so no special handling is needed beyond the strict decoder.
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return nil, &InvalidEnvelopeError{Issues: []string{decodeIssue(err)}}
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

// decodeIssue turns a json decoding error into a readable issue string.
func decodeIssue(err error) string {
	msg := err.Error()
	if strings.Contains(msg, "unknown field") {
		return "unknown top-level key: " + msg[strings.Index(msg, "unknown field"):]
	}
	return "malformed envelope JSON: " + msg
}
