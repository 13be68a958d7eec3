package protocol

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
)

// Message is a decoded inbound wire message. The concrete type is either
// *JSONRPCResponse or *JSONRPCNotification.
type Message interface {
	message()
}

func (*JSONRPCResponse) message()     {}
func (*JSONRPCNotification) message() {}

// DecodeError reports input that could not be decoded as a JSON-RPC message.
// Decoding is tolerant: malformed input yields a DecodeError, never a panic.
type DecodeError struct {
	Raw   []byte
	Cause error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode message: %v", e.Cause)
}

// Unwrap returns the underlying cause.
func (e *DecodeError) Unwrap() error {
	return e.Cause
}

// Codec assigns request ids and converts between wire bytes and protocol
// structs. It holds no I/O state; a single Codec is shared per connection so
// that request ids increase monotonically.
type Codec struct {
	nextID atomic.Int64
}

// NewCodec creates a new codec with its id counter at zero.
func NewCodec() *Codec {
	return &Codec{}
}

// NextID reserves and returns the next request id.
func (c *Codec) NextID() int64 {
	return c.nextID.Add(1)
}

// NewRequest creates a request message with a freshly assigned id.
func (c *Codec) NewRequest(method string, params interface{}) *JSONRPCRequest {
	return &JSONRPCRequest{
		JSONRPC: JSONRPCVersion,
		ID:      c.NextID(),
		Method:  method,
		Params:  params,
	}
}

// EncodeRequest marshals a request for the wire.
func (c *Codec) EncodeRequest(req *JSONRPCRequest) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request %q: %w", req.Method, err)
	}
	return data, nil
}

// EncodeNotification marshals a notification for the wire. Notifications
// never carry an id.
func (c *Codec) EncodeNotification(method string, params interface{}) ([]byte, error) {
	n, err := NewNotification(method, params)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal notification %q: %w", method, err)
	}
	return data, nil
}

// probe is used for initial parsing to determine the message type.
type probe struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorPayload   `json:"error,omitempty"`
}

// Decode parses raw bytes into a response or notification. A message with an
// id is a response; a message with a method and no id is a notification.
// Anything else yields a *DecodeError.
func Decode(data []byte) (Message, error) {
	var p probe
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, &DecodeError{Raw: data, Cause: err}
	}

	switch {
	case p.ID != nil:
		return &JSONRPCResponse{
			JSONRPC: p.JSONRPC,
			ID:      p.ID,
			Result:  p.Result,
			Error:   p.Error,
		}, nil
	case p.Method != "":
		var n JSONRPCNotification
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, &DecodeError{Raw: data, Cause: err}
		}
		return &n, nil
	default:
		return nil, &DecodeError{Raw: data, Cause: fmt.Errorf("message is neither a response nor a notification")}
	}
}
