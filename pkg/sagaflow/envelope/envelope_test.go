package envelope_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gedeondt/reatilerworkflow-charla-sub001/pkg/sagaflow/envelope"
)

func validEnvelope() *envelope.Envelope {
	return &envelope.Envelope{
		EventName:     "OrderPlaced",
		Version:       1,
		EventID:       "evt-1",
		TraceID:       "trace-1",
		CorrelationID: "order-123",
		OccurredAt:    "2025-01-01T00:00:00.000Z",
		Data:          map[string]any{"sku": "abc"},
	}
}

func TestValidateAccepts(t *testing.T) {
	require.NoError(t, validEnvelope().Validate())

	// CausationID is the one optional field.
	env := validEnvelope()
	env.CausationID = "evt-0"
	require.NoError(t, env.Validate())
}

func TestValidateRejectsVersion(t *testing.T) {
	env := validEnvelope()
	env.Version = 2

	err := env.Validate()
	require.Error(t, err)

	var inv *envelope.InvalidEnvelopeError
	require.ErrorAs(t, err, &inv)
	assert.Equal(t, "evt-1", inv.EventID)
	assert.Contains(t, inv.Issues[0], "version must be 1")
}

func TestValidateRejectsMissingFields(t *testing.T) {
	env := &envelope.Envelope{Version: 1}

	err := env.Validate()
	require.Error(t, err)

	var inv *envelope.InvalidEnvelopeError
	require.ErrorAs(t, err, &inv)
	assert.Len(t, inv.Issues, 6) // name, id, trace, correlation, occurredAt, data
}

func TestValidateRejectsBadTimestamp(t *testing.T) {
	env := validEnvelope()
	env.OccurredAt = "yesterday"

	err := env.Validate()
	var inv *envelope.InvalidEnvelopeError
	require.ErrorAs(t, err, &inv)
	assert.Contains(t, inv.Issues[0], "RFC-3339")
}

func TestValidateRejectsNilData(t *testing.T) {
	env := validEnvelope()
	env.Data = nil
	require.Error(t, env.Validate())

	env.Data = map[string]any{}
	require.NoError(t, env.Validate())
}

func TestDecodeStrict(t *testing.T) {
	raw := []byte(`{
		"eventName": "OrderPlaced",
		"version": 1,
		"eventId": "evt-1",
		"traceId": "trace-1",
		"correlationId": "order-123",
		"occurredAt": "2025-01-01T00:00:00.000Z",
		"data": {"sku": "abc", "quantity": 1}
	}`)

	env, err := envelope.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "OrderPlaced", env.EventName)
	assert.Equal(t, float64(1), env.Data["quantity"])
}

func TestDecodeRejectsUnknownKey(t *testing.T) {
	raw := []byte(`{
		"eventName": "OrderPlaced",
		"version": 1,
		"eventId": "evt-1",
		"traceId": "trace-1",
		"correlationId": "order-123",
		"occurredAt": "2025-01-01T00:00:00.000Z",
		"data": {},
		"priority": "high"
	}`)

	_, err := envelope.Decode(raw)
	var inv *envelope.InvalidEnvelopeError
	require.ErrorAs(t, err, &inv)
	assert.Contains(t, inv.Issues[0], "unknown")
}

func TestDecodeAcceptsNullCausation(t *testing.T) {
	raw := []byte(`{
		"eventName": "OrderPlaced",
		"version": 1,
		"eventId": "evt-1",
		"traceId": "trace-1",
		"correlationId": "order-123",
		"occurredAt": "2025-01-01T00:00:00.000Z",
		"causationId": null,
		"data": {}
	}`)

	env, err := envelope.Decode(raw)
	require.NoError(t, err)
	assert.Empty(t, env.CausationID)
}

func TestDeriveInheritsCorrelation(t *testing.T) {
	parent := validEnvelope()

	child := envelope.Derive(parent, "InventoryReserved", "evt-2", "2025-01-01T00:00:01.000Z", map[string]any{"sku": "abc"})

	assert.Equal(t, parent.TraceID, child.TraceID)
	assert.Equal(t, parent.CorrelationID, child.CorrelationID)
	assert.Equal(t, parent.EventID, child.CausationID)
	assert.Equal(t, 1, child.Version)
	require.NoError(t, child.Validate())
}

func TestOmitEmptyCausation(t *testing.T) {
	data, err := json.Marshal(validEnvelope())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "causationId")
}

func TestNewGeneratesIdentity(t *testing.T) {
	env, err := envelope.New("OrderPlaced", "trace-1", "order-123", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, env.EventID)
	assert.NotNil(t, env.Data)
	assert.NotEqual(t, env.EventID, envelope.NewID())
}
