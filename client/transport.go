package client

import (
	"context"
	"net/http"
	"time"

	"github.com/conduitproj/conduit/protocol"
)

// NotificationHandler receives decoded server-originated notifications.
type NotificationHandler func(n *protocol.JSONRPCNotification) error

// CloseHandler is invoked once when a transport dies, with the reason. It is
// never invoked for a clean Close initiated by the owner.
type CloseHandler func(err error)

// ClientTransport handles the actual communication with one server.
type ClientTransport interface {
	// Connection management.
	Connect(ctx context.Context) error
	Close() error
	IsConnected() bool

	// SendRequest sends a request and blocks until the response with the
	// matching id arrives, the context expires, or the transport dies.
	SendRequest(ctx context.Context, req *protocol.JSONRPCRequest) (*protocol.JSONRPCResponse, error)

	// SendNotification sends a fire-and-forget notification.
	SendNotification(ctx context.Context, method string, params interface{}) error

	// Inbound event wiring.
	SetNotificationHandler(handler NotificationHandler)
	SetCloseHandler(handler CloseHandler)

	// Transport-specific properties.
	Kind() TransportType
	Info() map[string]interface{}
}

// TransportType represents the kind of transport.
type TransportType string

// Transport types.
const (
	TransportTypeStdio     TransportType = "stdio"
	TransportTypeSSE       TransportType = "sse"
	TransportTypeWebSocket TransportType = "websocket"
)

// TransportOption configures a transport.
type TransportOption func(options *TransportOptions)

// TransportOptions holds configuration shared by the transports.
type TransportOptions struct {
	Headers        http.Header
	HTTPClient     *http.Client
	AuthProvider   AuthProvider
	RequestTimeout time.Duration
	ConnectTimeout time.Duration

	// Stdio-specific options.
	Env         map[string]string
	MaxLineSize int

	// SSE-specific options.
	MaxEventSize int
}

// DefaultTransportOptions returns the default transport options.
func DefaultTransportOptions() *TransportOptions {
	return &TransportOptions{
		Headers:        make(http.Header),
		HTTPClient:     http.DefaultClient,
		RequestTimeout: 30 * time.Second,
		ConnectTimeout: 10 * time.Second,
		MaxLineSize:    1024 * 1024,
	}
}

// WithHeaders sets the HTTP headers for the transport.
func WithHeaders(headers http.Header) TransportOption {
	return func(options *TransportOptions) {
		options.Headers = headers
	}
}

// WithHTTPClient sets the HTTP client for the transport.
func WithHTTPClient(client *http.Client) TransportOption {
	return func(options *TransportOptions) {
		options.HTTPClient = client
	}
}

// WithTransportAuth sets the authentication provider for the transport.
func WithTransportAuth(provider AuthProvider) TransportOption {
	return func(options *TransportOptions) {
		options.AuthProvider = provider
	}
}

// WithRequestTimeout sets the default per-request timeout.
func WithRequestTimeout(timeout time.Duration) TransportOption {
	return func(options *TransportOptions) {
		options.RequestTimeout = timeout
	}
}

// WithConnectTimeout sets the connection timeout.
func WithConnectTimeout(timeout time.Duration) TransportOption {
	return func(options *TransportOptions) {
		options.ConnectTimeout = timeout
	}
}

// WithEnv sets extra environment variables for a spawned stdio server.
func WithEnv(env map[string]string) TransportOption {
	return func(options *TransportOptions) {
		options.Env = env
	}
}

// WithMaxLineSize caps the size of a single stdio frame.
func WithMaxLineSize(size int) TransportOption {
	return func(options *TransportOptions) {
		options.MaxLineSize = size
	}
}

// WithMaxEventSize caps the size of a single SSE event payload.
func WithMaxEventSize(size int) TransportOption {
	return func(options *TransportOptions) {
		options.MaxEventSize = size
	}
}
