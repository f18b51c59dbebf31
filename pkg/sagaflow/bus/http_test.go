package bus_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gedeondt/reatilerworkflow-charla-sub001/pkg/sagaflow/bus"
	"github.com/gedeondt/reatilerworkflow-charla-sub001/pkg/sagaflow/envelope"
)

func TestHTTPBusPush(t *testing.T) {
	var gotPath string
	var gotBody envelope.Envelope

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"status":"enqueued"}`))
	}))
	defer srv.Close()

	b := bus.NewHTTPBus(srv.URL)
	err := b.Push(context.Background(), "order", testEnvelope("e1"))

	require.NoError(t, err)
	assert.Equal(t, "/queues/order/messages", gotPath)
	assert.Equal(t, "e1", gotBody.EventID)
}

func TestHTTPBusPopEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/queues/order:pop", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"empty"}`))
	}))
	defer srv.Close()

	b := bus.NewHTTPBus(srv.URL)
	_, err := b.Pop(context.Background(), "order")

	assert.ErrorIs(t, err, bus.ErrEmpty)
}

func TestHTTPBusPopMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"message": testEnvelope("e7")}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	b := bus.NewHTTPBus(srv.URL)
	env, err := b.Pop(context.Background(), "order")

	require.NoError(t, err)
	assert.Equal(t, "e7", env.EventID)
	assert.Equal(t, "OrderPlaced", env.EventName)
}

func TestHTTPBusTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "broker down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := bus.NewHTTPBus(srv.URL)

	err := b.Push(context.Background(), "order", testEnvelope("e1"))
	var te *bus.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusInternalServerError, te.StatusCode)
	assert.True(t, bus.IsRetriable(err))

	_, err = b.Pop(context.Background(), "order")
	require.ErrorAs(t, err, &te)
}

func TestHTTPBusPushRejectedByBroker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid envelope","issues":["version must be 1"]}`))
	}))
	defer srv.Close()

	// The envelope is locally valid; the broker still rejects it.
	b := bus.NewHTTPBus(srv.URL)
	err := b.Push(context.Background(), "order", testEnvelope("e1"))

	var inv *envelope.InvalidEnvelopeError
	require.ErrorAs(t, err, &inv)
	assert.Contains(t, inv.Issues, "version must be 1")
	assert.False(t, bus.IsRetriable(err))
}

func TestHTTPBusEscapesQueueNames(t *testing.T) {
	var gotEscaped string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEscaped = r.URL.EscapedPath()
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"status":"enqueued"}`))
	}))
	defer srv.Close()

	b := bus.NewHTTPBus(srv.URL)
	require.NoError(t, b.Push(context.Background(), "order queue/1", testEnvelope("e1")))

	assert.Equal(t, "/queues/order%20queue%2F1/messages", gotEscaped)
}
