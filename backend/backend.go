// Package backend defines the gateway's contract with the external service
// that actually performs tool work. The gateway forwards operation names and
// arguments untouched and carries the outcome back without inspecting data.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single backend invocation.
const DefaultTimeout = 30 * time.Second

// Result is the collaborator's outcome envelope. Data is opaque to the
// gateway; only Success, Error, and StatusCode are structurally relevant.
type Result struct {
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
	StatusCode int             `json:"statusCode,omitempty"`
}

// Invoker executes one named operation against the backing service.
type Invoker interface {
	Invoke(ctx context.Context, operation string, args json.RawMessage) (*Result, error)
}

// HTTPInvoker forwards invocations to a backing service over HTTP.
type HTTPInvoker struct {
	endpoint string
	client   *http.Client
}

// NewHTTPInvoker creates an invoker targeting endpoint. A zero timeout means
// DefaultTimeout.
func NewHTTPInvoker(endpoint string, timeout time.Duration) (*HTTPInvoker, error) {
	if endpoint == "" {
		return nil, errors.New("backend endpoint is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPInvoker{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

type invokeRequest struct {
	Operation string          `json:"operation"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Invoke POSTs the operation to the backing service and decodes its result
// envelope. Transport failures and undecodable responses come back as failed
// Results rather than errors so callers can surface them in-band.
func (i *HTTPInvoker) Invoke(ctx context.Context, operation string, args json.RawMessage) (*Result, error) {
	body, err := json.Marshal(invokeRequest{Operation: operation, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("failed to encode invocation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build invocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &Result{Success: false, Error: err.Error(), StatusCode: resp.StatusCode}, nil
	}

	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return &Result{
			Success:    false,
			Error:      fmt.Sprintf("invalid backend response: %v", err),
			StatusCode: resp.StatusCode,
		}, nil
	}
	if res.StatusCode == 0 {
		res.StatusCode = resp.StatusCode
	}
	return &res, nil
}

var _ Invoker = (*HTTPInvoker)(nil)
