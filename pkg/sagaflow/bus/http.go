package bus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gedeondt/reatilerworkflow-charla-sub001/pkg/sagaflow/envelope"
)

// HTTPBus is a Bus client for a remote queue broker speaking the
// two-endpoint protocol:
//
//	POST /queues/{name}/messages  push, responds 202 {"status":"enqueued"}
//	POST /queues/{name}:pop       pop, responds {"status":"empty"} or {"message":{...}}
//
// Queue names are percent-encoded in the path. Responses >= 400 are
// transport errors, except a 400 on push which reports the broker's own
// envelope validation.
type HTTPBus struct {
	baseURL string
	client  *http.Client
}

// HTTPOption configures an HTTPBus.
type HTTPOption func(*HTTPBus)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(b *HTTPBus) {
		b.client = c
	}
}

// NewHTTPBus creates a bus client against the broker at baseURL.
func NewHTTPBus(baseURL string, opts ...HTTPOption) *HTTPBus {
	b := &HTTPBus{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// pushResponse is the broker's push reply.
type pushResponse struct {
	Status string   `json:"status"`
	Error  string   `json:"error"`
	Issues []string `json:"issues"`
}

// popResponse is the broker's pop reply.
type popResponse struct {
	Status  string          `json:"status"`
	Message json.RawMessage `json:"message"`
}

// Push validates the envelope locally and posts it to the broker.
// Local validation keeps caller bugs out of the retry path.
func (b *HTTPBus) Push(ctx context.Context, queue string, env *envelope.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(env)
	if err != nil {
		return &envelope.InvalidEnvelopeError{EventID: env.EventID, Issues: []string{"envelope is not serializable: " + err.Error()}}
	}

	endpoint := b.baseURL + "/queues/" + url.PathEscape(queue) + "/messages"
	status, respBody, err := b.post(ctx, endpoint, body)
	if err != nil {
		return &TransportError{Op: "push", Queue: queue, Err: err}
	}

	switch {
	case status == http.StatusAccepted:
		return nil
	case status == http.StatusBadRequest:
		var pr pushResponse
		_ = json.Unmarshal(respBody, &pr)
		issues := pr.Issues
		if len(issues) == 0 && pr.Error != "" {
			issues = []string{pr.Error}
		}
		return &envelope.InvalidEnvelopeError{EventID: env.EventID, Issues: issues}
	default:
		return &TransportError{
			Op:         "push",
			Queue:      queue,
			StatusCode: status,
			Err:        fmt.Errorf("unexpected broker response: %s", strings.TrimSpace(string(respBody))),
		}
	}
}

// Pop asks the broker for the head envelope of the named queue.
func (b *HTTPBus) Pop(ctx context.Context, queue string) (*envelope.Envelope, error) {
	endpoint := b.baseURL + "/queues/" + url.PathEscape(queue) + ":pop"
	status, respBody, err := b.post(ctx, endpoint, nil)
	if err != nil {
		return nil, &TransportError{Op: "pop", Queue: queue, Err: err}
	}

	if status < 200 || status >= 300 {
		return nil, &TransportError{
			Op:         "pop",
			Queue:      queue,
			StatusCode: status,
			Err:        fmt.Errorf("unexpected broker response: %s", strings.TrimSpace(string(respBody))),
		}
	}

	var pr popResponse
	if err := json.Unmarshal(respBody, &pr); err != nil {
		return nil, &TransportError{Op: "pop", Queue: queue, Err: fmt.Errorf("malformed broker response: %w", err)}
	}

	if pr.Status == "empty" || len(pr.Message) == 0 {
		return nil, ErrEmpty
	}

	// Egress validation happens inside Decode.
	return envelope.Decode(pr.Message)
}

// post issues a POST and returns the status code and body.
func (b *HTTPBus) post(ctx context.Context, endpoint string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, respBody, nil
}
