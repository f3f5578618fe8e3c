package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPClientInvokeSuccess(t *testing.T) {
	var captured rpcRequest

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		defer func() { _ = r.Body.Close() }()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		require.Equal(t, "2.0", captured.JSONRPC)
		require.Equal(t, "tools/invoke", captured.Method)

		resp := rpcResponse{JSONRPC: "2.0", Result: json.RawMessage(`{"ok":true}`), ID: captured.ID}
		require.NoError(t, json.NewEncoder(w).Encode(&resp))
	})

	server := httptest.NewServer(handler)
	defer server.Close()

	client, err := NewHTTPClient(server.URL)
	require.NoError(t, err)

	resp, err := client.Invoke(context.Background(), InvokeRequest{
		Tool: "web.search",
		Args: json.RawMessage(`{"query":"hello"}`),
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(resp.Result))

	params, ok := captured.Params.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "web.search", params["tool"])
}

func TestHTTPClientInvokeRPCError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := rpcResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &rpcError{Code: JSONRPCInvalidParams, Message: "missing query"},
		}
		require.NoError(t, json.NewEncoder(w).Encode(&resp))
	})

	server := httptest.NewServer(handler)
	defer server.Close()

	client, err := NewHTTPClient(server.URL)
	require.NoError(t, err)

	_, err = client.Invoke(context.Background(), InvokeRequest{Tool: "web.search", Args: json.RawMessage(`{}`)})
	require.Error(t, err)

	kind := Classify("web.search", err)
	require.NotNil(t, kind)
}

func TestNewHTTPClientRejectsEmptyEndpoint(t *testing.T) {
	_, err := NewHTTPClient("")
	require.Error(t, err)
}
