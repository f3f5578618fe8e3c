package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

type (
	// HTTPClientOption configures an HTTPClient.
	HTTPClientOption func(*HTTPClient)

	// HTTPClient implements Caller over JSON-RPC 2.0 HTTP, the transport used
	// by remote tool adapters registered against this orchestrator.
	HTTPClient struct {
		endpoint string
		http     *http.Client
		headers  http.Header
		id       uint64
	}

	rpcRequest struct {
		JSONRPC string `json:"jsonrpc"`
		Method  string `json:"method"`
		ID      uint64 `json:"id"`
		Params  any    `json:"params,omitempty"`
	}

	rpcResponse struct {
		JSONRPC string          `json:"jsonrpc"`
		Result  json.RawMessage `json:"result"`
		Error   *rpcError       `json:"error"`
		ID      uint64          `json:"id"`
	}

	rpcError struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
)

func (e *rpcError) callerError() *RPCError {
	if e == nil {
		return nil
	}
	return &RPCError{Code: e.Code, Message: e.Message}
}

// WithHTTPClient overrides the underlying *http.Client used for requests.
func WithHTTPClient(c *http.Client) HTTPClientOption {
	return func(cl *HTTPClient) { cl.http = c }
}

// WithHeader adds a static header to all outgoing requests.
func WithHeader(name, value string) HTTPClientOption {
	return func(cl *HTTPClient) {
		if cl.headers == nil {
			cl.headers = make(http.Header)
		}
		cl.headers.Add(name, value)
	}
}

// WithBearerToken configures the client to send an Authorization Bearer token.
func WithBearerToken(token string) HTTPClientOption {
	return WithHeader("Authorization", "Bearer "+token)
}

// NewHTTPClient constructs a Caller that invokes remote tools over JSON-RPC
// HTTP. The endpoint must point to the adapter's JSON-RPC URL.
func NewHTTPClient(endpoint string, opts ...HTTPClientOption) (*HTTPClient, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("adapter: endpoint must not be empty")
	}
	cl := &HTTPClient{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 30 * time.Second},
		headers:  make(http.Header),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cl)
		}
	}
	return cl, nil
}

var _ Caller = (*HTTPClient)(nil)

func (c *HTTPClient) nextID() uint64 {
	return atomic.AddUint64(&c.id, 1)
}

// Invoke calls the "tools/invoke" JSON-RPC method on the remote endpoint,
// forwarding the tool name and arguments without transforming them.
func (c *HTTPClient) Invoke(ctx context.Context, req InvokeRequest) (InvokeResponse, error) {
	rpcReq := rpcRequest{
		JSONRPC: "2.0",
		Method:  "tools/invoke",
		ID:      c.nextID(),
		Params: map[string]any{
			"tool": req.Tool,
			"args": req.Args,
		},
	}
	body, err := json.Marshal(rpcReq)
	if err != nil {
		return InvokeResponse{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return InvokeResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, vs := range c.headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return InvokeResponse{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return InvokeResponse{}, fmt.Errorf("adapter: http status %d", resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return InvokeResponse{}, err
	}
	if rpcResp.Error != nil {
		return InvokeResponse{}, rpcResp.Error.callerError()
	}

	return InvokeResponse{Result: rpcResp.Result}, nil
}
