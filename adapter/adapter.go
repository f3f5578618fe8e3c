// Package adapter implements the remote-tool adapter contract: invoking a
// tool whose implementation lives outside the process over JSON-RPC, and
// translating transport-level failures into the orchestrator's error
// taxonomy and retry hints.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/goplan/orchestrator/orcherr"
)

const (
	// JSONRPCParseError and friends are the canonical JSON-RPC 2.0 error codes
	// a remote tool server may return.
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
)

type (
	// Caller invokes a remote tool on behalf of the plan executor or
	// dispatcher. It is implemented by transport-specific clients (HTTP
	// JSON-RPC is the only transport shipped here).
	Caller interface {
		Invoke(ctx context.Context, req InvokeRequest) (InvokeResponse, error)
	}

	// InvokeRequest describes a single remote tool invocation.
	InvokeRequest struct {
		// Tool is the fully qualified tool name as registered in the catalog.
		Tool string
		// Args is the JSON-encoded, already-substituted argument payload.
		Args json.RawMessage
	}

	// InvokeResponse captures a remote tool's result.
	InvokeResponse struct {
		// Result is the JSON payload returned by the remote tool.
		Result json.RawMessage
	}

	// RPCError represents a JSON-RPC error returned by a remote tool server.
	RPCError struct {
		Code    int
		Message string
	}
)

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("remote tool error %d: %s", e.Code, e.Message)
}

// Classify converts a JSON-RPC error into an *orcherr.Error. Invalid-params
// and method-not-found map to ValidationError/NotFound since retrying the
// exact same call cannot succeed; everything else is treated as Transient so
// the plan executor's retry loop gets a chance to recover from a flaky
// remote server.
func Classify(tool string, err error) *orcherr.Error {
	if err == nil {
		return nil
	}
	rpcErr, ok := err.(*RPCError)
	if !ok {
		return orcherr.Wrap(orcherr.Transient, "remote tool invocation failed", err)
	}
	switch rpcErr.Code {
	case JSONRPCInvalidParams:
		return orcherr.Newf(orcherr.ValidationError, "tool %s rejected arguments: %s", tool, rpcErr.Message)
	case JSONRPCMethodNotFound:
		return orcherr.Newf(orcherr.NotFound, "tool %s not found on remote adapter: %s", tool, rpcErr.Message)
	default:
		return orcherr.Newf(orcherr.Transient, "tool %s remote error: %s", tool, rpcErr.Message)
	}
}
