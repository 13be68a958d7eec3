// Package client provides the per-server MCP client: transports over stdio,
// SSE and WebSocket, request/response correlation, and typed wrappers for
// the MCP method set.
package client

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/conduitproj/conduit/logx"
	"github.com/conduitproj/conduit/protocol"
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the client's logger.
func WithLogger(logger logx.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithClientInfo sets the implementation info sent during initialize.
func WithClientInfo(info protocol.Implementation) ClientOption {
	return func(c *Client) {
		c.clientInfo = info
	}
}

// WithDefaultTimeout sets the per-call timeout applied when the caller's
// context carries no deadline.
func WithDefaultTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.requestTimeout = timeout
	}
}

// Client is the protocol-level handle for one server. It owns exactly one
// transport, assigns request ids through its codec, and exposes typed
// wrappers for the MCP method set. A Client whose transport has died is
// terminal; it never reconnects on its own.
type Client struct {
	name      string
	transport ClientTransport
	codec     *protocol.Codec
	logger    logx.Logger

	clientInfo     protocol.Implementation
	requestTimeout time.Duration

	mu           sync.RWMutex
	initialized  bool
	serverInfo   protocol.Implementation
	capabilities protocol.ServerCapabilities
}

// NewClient creates a client for one server over the given transport.
func NewClient(name string, transport ClientTransport, opts ...ClientOption) *Client {
	c := &Client{
		name:           name,
		transport:      transport,
		codec:          protocol.NewCodec(),
		logger:         logx.NewNilLogger(),
		clientInfo:     protocol.Implementation{Name: "conduit", Version: Version},
		requestTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the server name this client is bound to.
func (c *Client) Name() string {
	return c.name
}

// Transport returns the underlying transport.
func (c *Client) Transport() ClientTransport {
	return c.transport
}

// Connect establishes the transport and performs the initialize handshake.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return err
	}

	result, err := c.initialize(ctx)
	if err != nil {
		c.transport.Close()
		return err
	}

	c.mu.Lock()
	c.initialized = true
	c.serverInfo = result.ServerInfo
	c.capabilities = result.Capabilities
	c.mu.Unlock()

	c.logger.Info("initialized server %s (%s %s)", c.name, result.ServerInfo.Name, result.ServerInfo.Version)
	return nil
}

// Close tears the transport down.
func (c *Client) Close() error {
	return c.transport.Close()
}

// IsConnected reports whether the transport is alive and initialized.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	initialized := c.initialized
	c.mu.RUnlock()
	return initialized && c.transport.IsConnected()
}

// ServerInfo returns the implementation info the server reported.
func (c *Client) ServerInfo() protocol.Implementation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// Capabilities returns the capability set the server reported.
func (c *Client) Capabilities() protocol.ServerCapabilities {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.capabilities
}

// SetNotificationHandler forwards decoded notifications to the handler.
func (c *Client) SetNotificationHandler(handler NotificationHandler) {
	c.transport.SetNotificationHandler(handler)
}

// SetCloseHandler registers a handler for unexpected transport death.
func (c *Client) SetCloseHandler(handler CloseHandler) {
	c.transport.SetCloseHandler(handler)
}

// initialize runs the MCP handshake and announces readiness.
func (c *Client) initialize(ctx context.Context) (*protocol.InitializeResult, error) {
	var result protocol.InitializeResult
	err := c.call(ctx, protocol.MethodInitialize, protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolVersion,
		Capabilities:    protocol.ClientCapabilities{},
		ClientInfo:      c.clientInfo,
	}, &result)
	if err != nil {
		return nil, err
	}

	if err := c.transport.SendNotification(ctx, protocol.NotificationInitialized, nil); err != nil {
		return nil, err
	}
	return &result, nil
}

// Call issues a raw request and returns the undecoded result payload.
func (c *Client) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if !c.transport.IsConnected() {
		return nil, NewConnectionError(c.name, "not connected", ErrNotConnected)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	req := c.codec.NewRequest(method, params)
	resp, err := c.transport.SendRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, NewServerError(method, c.name, resp.Error)
	}
	return resp.Result, nil
}

// call issues a request and decodes the result payload into target.
func (c *Client) call(ctx context.Context, method string, params, target interface{}) error {
	result, err := c.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if target == nil {
		return nil
	}
	if err := protocol.UnmarshalPayload(result, target); err != nil {
		return NewProtocolError("unexpected result shape for "+method, err)
	}
	return nil
}

// ListTools returns every tool the server offers, following pagination.
func (c *Client) ListTools(ctx context.Context) ([]protocol.Tool, error) {
	var tools []protocol.Tool
	cursor := ""
	for {
		var page protocol.ListToolsResult
		if err := c.call(ctx, protocol.MethodListTools, protocol.ListToolsParams{Cursor: cursor}, &page); err != nil {
			return nil, err
		}
		tools = append(tools, page.Tools...)
		if page.NextCursor == "" {
			return tools, nil
		}
		cursor = page.NextCursor
	}
}

// CallTool invokes a tool with the given arguments.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (*protocol.CallToolResult, error) {
	return c.CallToolTracked(ctx, name, args, "")
}

// CallToolTracked invokes a tool, attaching a progress token so the server
// can report progress for long-running calls.
func (c *Client) CallToolTracked(ctx context.Context, name string, args map[string]interface{}, progressToken string) (*protocol.CallToolResult, error) {
	params := protocol.CallToolParams{Name: name, Arguments: args}
	if progressToken != "" {
		params.Meta = &protocol.RequestMeta{ProgressToken: progressToken}
	}

	var result protocol.CallToolResult
	if err := c.call(ctx, protocol.MethodCallTool, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListResources returns every resource the server offers, following pagination.
func (c *Client) ListResources(ctx context.Context) ([]protocol.Resource, error) {
	var resources []protocol.Resource
	cursor := ""
	for {
		var page protocol.ListResourcesResult
		if err := c.call(ctx, protocol.MethodListResources, protocol.ListResourcesParams{Cursor: cursor}, &page); err != nil {
			return nil, err
		}
		resources = append(resources, page.Resources...)
		if page.NextCursor == "" {
			return resources, nil
		}
		cursor = page.NextCursor
	}
}

// ReadResource reads one resource by uri.
func (c *Client) ReadResource(ctx context.Context, uri string) (*protocol.ReadResourceResult, error) {
	var result protocol.ReadResourceResult
	if err := c.call(ctx, protocol.MethodReadResource, protocol.ReadResourceParams{URI: uri}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SubscribeResource asks the server to send change notifications for a uri.
// Servers without subscription support reject this; callers treat that as
// best-effort.
func (c *Client) SubscribeResource(ctx context.Context, uri string) error {
	_, err := c.Call(ctx, protocol.MethodSubscribeResource, protocol.SubscribeResourceParams{URI: uri})
	return err
}

// ListPrompts returns every prompt the server offers, following pagination.
func (c *Client) ListPrompts(ctx context.Context) ([]protocol.Prompt, error) {
	var prompts []protocol.Prompt
	cursor := ""
	for {
		var page protocol.ListPromptsResult
		if err := c.call(ctx, protocol.MethodListPrompts, protocol.ListPromptsParams{Cursor: cursor}, &page); err != nil {
			return nil, err
		}
		prompts = append(prompts, page.Prompts...)
		if page.NextCursor == "" {
			return prompts, nil
		}
		cursor = page.NextCursor
	}
}

// GetPrompt renders one prompt with the given arguments.
func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string) (*protocol.GetPromptResult, error) {
	var result protocol.GetPromptResult
	if err := c.call(ctx, protocol.MethodGetPrompt, protocol.GetPromptParams{Name: name, Arguments: args}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
