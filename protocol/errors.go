package protocol

// ErrorCode represents a JSON-RPC 2.0 error code.
type ErrorCode int

// Standard JSON-RPC 2.0 error codes, plus the MCP-reserved range.
const (
	ErrorCodeParseError     ErrorCode = -32700
	ErrorCodeInvalidRequest ErrorCode = -32600
	ErrorCodeMethodNotFound ErrorCode = -32601
	ErrorCodeInvalidParams  ErrorCode = -32602
	ErrorCodeInternalError  ErrorCode = -32603

	// ErrorCodeRequestCancelled is used by servers to report a cancelled
	// in-flight request.
	ErrorCodeRequestCancelled ErrorCode = -32800
)

// String returns a human-readable name for well-known error codes.
func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeParseError:
		return "parse error"
	case ErrorCodeInvalidRequest:
		return "invalid request"
	case ErrorCodeMethodNotFound:
		return "method not found"
	case ErrorCodeInvalidParams:
		return "invalid params"
	case ErrorCodeInternalError:
		return "internal error"
	case ErrorCodeRequestCancelled:
		return "request cancelled"
	default:
		return "unknown error"
	}
}
