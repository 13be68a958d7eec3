// Package protocol defines the structures and constants for the Model Context
// Protocol (MCP), based on the JSON-RPC 2.0 specification, together with a
// stateless codec for encoding and decoding wire messages.
package protocol

import (
	"encoding/json"
	"fmt"
)

// JSONRPCVersion is the fixed protocol version string carried by every message.
const JSONRPCVersion = "2.0"

// ErrorPayload defines the structure for the 'error' object within a JSON-RPC
// error response, aligning with the JSON-RPC 2.0 specification used by MCP.
type ErrorPayload struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// JSONRPCRequest represents a standard JSON-RPC request object.
type JSONRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`          // MUST be "2.0"
	ID      interface{} `json:"id"`               // Request ID (string or number)
	Method  string      `json:"method"`           // Method name (e.g., "initialize", "tools/call")
	Params  interface{} `json:"params,omitempty"` // Parameters (struct or map)
}

// JSONRPCResponse represents a standard JSON-RPC response object.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`          // MUST be "2.0"
	ID      interface{}     `json:"id"`               // MUST match the request ID
	Result  json.RawMessage `json:"result,omitempty"` // Result payload (on success)
	Error   *ErrorPayload   `json:"error,omitempty"`  // Error object (on failure)
}

// JSONRPCNotification represents a standard JSON-RPC notification object.
// Notifications MUST NOT carry an 'id' field.
type JSONRPCNotification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// NewNotification creates a new JSON-RPC notification object with the params
// already marshalled. Marshalling failures surface as an error rather than a
// malformed frame on the wire.
func NewNotification(method string, params interface{}) (*JSONRPCNotification, error) {
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal notification params: %w", err)
		}
		raw = data
	}
	return &JSONRPCNotification{
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  raw,
	}, nil
}

// UnmarshalPayload is a helper to unmarshal a received JSON-RPC result or
// params payload into a specific Go struct pointed to by 'target'.
func UnmarshalPayload(payload json.RawMessage, target interface{}) error {
	if len(payload) == 0 || string(payload) == "null" {
		return fmt.Errorf("payload is empty, cannot unmarshal")
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("failed to unmarshal payload into %T: %w", target, err)
	}
	return nil
}
