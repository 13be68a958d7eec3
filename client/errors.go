package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/conduitproj/conduit/protocol"
)

// Standard error types that can be used with errors.Is().
var (
	ErrNotConnected     = errors.New("client is not connected")
	ErrAlreadyConnected = errors.New("client is already connected")
	ErrDisconnected     = errors.New("transport disconnected")
	ErrRequestTimeout   = errors.New("request timed out")
	ErrTransportFailure = errors.New("transport failure")
	ErrInvalidResponse  = errors.New("invalid response from server")
	ErrServerError      = errors.New("server reported error")
)

// ClientError is the base error type for client errors.
type ClientError struct {
	Message string
	Code    int
	Cause   error
}

// Error implements the error interface.
func (e *ClientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *ClientError) Unwrap() error {
	return e.Cause
}

// TransportError indicates a problem with the transport layer: a spawn
// failure, a broken connection, or a malformed frame.
type TransportError struct {
	ClientError
	Transport string
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error (%s): %s", e.Transport, e.ClientError.Error())
}

// ConnectionError indicates a connection issue against a specific endpoint.
type ConnectionError struct {
	ClientError
	Endpoint string
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error (%s): %s", e.Endpoint, e.ClientError.Error())
}

// TimeoutError indicates that an operation exceeded its wall-clock budget.
type TimeoutError struct {
	ClientError
	Operation string
	Timeout   time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %v during %s", e.Timeout, e.Operation)
}

// ProtocolError indicates a decode failure or an otherwise malformed message.
type ProtocolError struct {
	ClientError
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s", e.ClientError.Error())
}

// ServerError represents a JSON-RPC error object returned by the server.
type ServerError struct {
	ClientError
	Method string
	Server string
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	return fmt.Sprintf("server error during %s: %s (code=%d)", e.Method, e.Message, e.Code)
}

// NewTransportError creates a new TransportError.
func NewTransportError(transport, message string, cause error) error {
	return &TransportError{
		ClientError: ClientError{Message: message, Cause: cause},
		Transport:   transport,
	}
}

// NewConnectionError creates a new ConnectionError.
func NewConnectionError(endpoint, message string, cause error) error {
	return &ConnectionError{
		ClientError: ClientError{Message: message, Cause: cause},
		Endpoint:    endpoint,
	}
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, timeout time.Duration, cause error) error {
	return &TimeoutError{
		ClientError: ClientError{
			Message: fmt.Sprintf("operation timed out after %v", timeout),
			Cause:   cause,
		},
		Operation: operation,
		Timeout:   timeout,
	}
}

// NewProtocolError creates a new ProtocolError.
func NewProtocolError(message string, cause error) error {
	return &ProtocolError{
		ClientError: ClientError{Message: message, Cause: cause},
	}
}

// NewServerError creates a new ServerError from a JSON-RPC error payload.
func NewServerError(method, server string, payload *protocol.ErrorPayload) error {
	return &ServerError{
		ClientError: ClientError{
			Message: payload.Message,
			Code:    int(payload.Code),
			Cause:   ErrServerError,
		},
		Method: method,
		Server: server,
	}
}

// IsTimeoutError checks if an error is a timeout error.
func IsTimeoutError(err error) bool {
	var timeoutErr *TimeoutError
	return errors.As(err, &timeoutErr) || errors.Is(err, ErrRequestTimeout)
}

// IsTransportError checks if an error is a transport error.
func IsTransportError(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr) || errors.Is(err, ErrTransportFailure)
}

// IsConnectionError checks if an error is a connection error.
func IsConnectionError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr) || errors.Is(err, ErrNotConnected) || errors.Is(err, ErrAlreadyConnected)
}

// IsServerError checks if an error is a server-reported error.
func IsServerError(err error) bool {
	var serverErr *ServerError
	return errors.As(err, &serverErr) || errors.Is(err, ErrServerError)
}
