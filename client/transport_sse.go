package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/tmaxmax/go-sse"

	"github.com/conduitproj/conduit/logx"
	"github.com/conduitproj/conduit/protocol"
)

// sseTransport implements ClientTransport using a Server-Sent-Events stream
// for inbound messages and one HTTP POST per outbound message. The server
// announces the POST endpoint in the first "endpoint" event on the stream.
type sseTransport struct {
	baseURL string
	options *TransportOptions
	logger  logx.Logger
	client  *http.Client

	mu         sync.RWMutex
	connected  bool
	closing    bool
	messageURL string

	notifyHandler NotificationHandler
	closeHandler  CloseHandler
	handlerMu     sync.RWMutex

	pending pendingTable
	done    chan struct{}
	cancel  context.CancelFunc
}

// NewSSETransport creates a transport that connects to the given SSE
// endpoint URL.
func NewSSETransport(baseURL string, logger logx.Logger, options ...TransportOption) (ClientTransport, error) {
	if _, err := url.Parse(baseURL); err != nil {
		return nil, NewTransportError("sse", "invalid base URL", err)
	}

	opts := DefaultTransportOptions()
	for _, option := range options {
		option(opts)
	}
	if logger == nil {
		logger = logx.NewNilLogger()
	}

	return &sseTransport{
		baseURL: baseURL,
		options: opts,
		logger:  logger,
		client:  opts.HTTPClient,
		done:    make(chan struct{}),
	}, nil
}

// Connect opens the event stream and waits for the server to announce its
// message endpoint.
func (t *sseTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return NewConnectionError(t.baseURL, "already connected", ErrAlreadyConnected)
	}
	t.mu.Unlock()

	// The stream outlives Connect's context; it is torn down by Close.
	streamCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.baseURL, nil)
	if err != nil {
		cancel()
		return NewTransportError("sse", "failed to create stream request", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	t.applyHeaders(req)

	resp, err := t.client.Do(req)
	if err != nil {
		cancel()
		return NewTransportError("sse", "failed to connect to SSE endpoint", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return NewTransportError("sse", fmt.Sprintf("unexpected status code: %d", resp.StatusCode), nil)
	}

	ready := make(chan error, 1)
	go t.streamLoop(resp.Body, ready)

	select {
	case err := <-ready:
		if err != nil {
			cancel()
			return err
		}
	case <-ctx.Done():
		cancel()
		return NewTimeoutError("sse connect", t.options.ConnectTimeout, ctx.Err())
	}

	t.mu.Lock()
	t.connected = true
	t.cancel = cancel
	t.mu.Unlock()

	t.logger.Info("SSE transport connected to %s", t.baseURL)
	return nil
}

// Close tears the event stream down.
func (t *sseTransport) Close() error {
	t.mu.Lock()
	if !t.connected || t.closing {
		t.mu.Unlock()
		return nil
	}
	t.closing = true
	cancel := t.cancel
	t.mu.Unlock()

	cancel()
	return nil
}

// IsConnected returns true while the event stream is alive.
func (t *sseTransport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// SendRequest sends a request via HTTP POST and waits for the matching
// response, which arrives either on the event stream or inline in the POST
// response body.
func (t *sseTransport) SendRequest(ctx context.Context, req *protocol.JSONRPCRequest) (*protocol.JSONRPCResponse, error) {
	if !t.IsConnected() {
		return nil, NewConnectionError(t.baseURL, "not connected", ErrNotConnected)
	}

	responseCh := t.pending.register(req.ID)
	defer t.pending.remove(req.ID)

	if err := t.post(ctx, req); err != nil {
		return nil, err
	}

	select {
	case resp := <-responseCh:
		return resp, nil
	case <-t.done:
		return nil, NewConnectionError(t.baseURL, "transport closed while waiting for response", ErrDisconnected)
	case <-ctx.Done():
		return nil, NewTimeoutError(req.Method, t.options.RequestTimeout, ctx.Err())
	}
}

// SendNotification sends a fire-and-forget notification via HTTP POST.
func (t *sseTransport) SendNotification(ctx context.Context, method string, params interface{}) error {
	if !t.IsConnected() {
		return NewConnectionError(t.baseURL, "not connected", ErrNotConnected)
	}
	n, err := protocol.NewNotification(method, params)
	if err != nil {
		return NewProtocolError("failed to build notification", err)
	}
	return t.post(ctx, n)
}

// SetNotificationHandler sets the handler for server notifications.
func (t *sseTransport) SetNotificationHandler(handler NotificationHandler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.notifyHandler = handler
}

// SetCloseHandler sets the handler invoked on unexpected transport death.
func (t *sseTransport) SetCloseHandler(handler CloseHandler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.closeHandler = handler
}

// Kind returns the transport type.
func (t *sseTransport) Kind() TransportType {
	return TransportTypeSSE
}

// Info returns transport-specific information.
func (t *sseTransport) Info() map[string]interface{} {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return map[string]interface{}{
		"url":        t.baseURL,
		"messageURL": t.messageURL,
		"connected":  t.connected,
	}
}

// post marshals a message and delivers it to the announced message endpoint.
func (t *sseTransport) post(ctx context.Context, message interface{}) error {
	t.mu.RLock()
	target := t.messageURL
	t.mu.RUnlock()
	if target == "" {
		return NewTransportError("sse", "no message endpoint announced yet", nil)
	}

	body, err := json.Marshal(message)
	if err != nil {
		return NewTransportError("sse", "failed to marshal message", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return NewTransportError("sse", "failed to create HTTP request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	t.applyHeaders(httpReq)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return NewTransportError("sse", "failed to send HTTP request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(resp.Body)
		return NewTransportError("sse", fmt.Sprintf("HTTP request failed: %s - %s", resp.Status, string(detail)), nil)
	}

	// Some servers answer simple requests inline instead of over the stream.
	if resp.StatusCode == http.StatusOK {
		if data, err := io.ReadAll(resp.Body); err == nil && len(bytes.TrimSpace(data)) > 0 {
			t.route(data)
		}
	}
	return nil
}

// applyHeaders attaches configured and auth headers to an outgoing request.
func (t *sseTransport) applyHeaders(req *http.Request) {
	for k, values := range t.options.Headers {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	if t.options.AuthProvider != nil {
		for k, v := range t.options.AuthProvider.GetAuthHeaders() {
			req.Header.Set(k, v)
		}
	}
}

// streamLoop reads the event stream until it ends. The first "endpoint"
// event resolves the ready channel; "message" events carry JSON-RPC frames.
func (t *sseTransport) streamLoop(body io.ReadCloser, ready chan<- error) {
	defer body.Close()

	var config *sse.ReadConfig
	if t.options.MaxEventSize > 0 {
		config = &sse.ReadConfig{MaxEventSize: t.options.MaxEventSize}
	}

	endpointSeen := false
	for ev, err := range sse.Read(body, config) {
		if err != nil {
			if !endpointSeen {
				ready <- NewTransportError("sse", "stream failed before endpoint event", err)
				t.terminate(nil)
				return
			}
			t.terminate(fmt.Errorf("event stream failed: %v: %w", err, ErrDisconnected))
			return
		}

		switch ev.Type {
		case "endpoint":
			target, err := t.resolveEndpoint(strings.TrimSpace(ev.Data))
			if err != nil {
				if !endpointSeen {
					ready <- err
					t.terminate(nil)
					return
				}
				t.logger.Warn("ignoring invalid endpoint event: %v", err)
				continue
			}
			t.mu.Lock()
			t.messageURL = target
			t.mu.Unlock()
			if !endpointSeen {
				endpointSeen = true
				ready <- nil
			}
		case "message":
			t.route([]byte(ev.Data))
		default:
			t.logger.Debug("ignoring event type %q", ev.Type)
		}
	}

	if !endpointSeen {
		ready <- NewTransportError("sse", "stream closed before endpoint event", nil)
		t.terminate(nil)
		return
	}
	t.terminate(ErrDisconnected)
}

// resolveEndpoint turns the announced endpoint into an absolute URL.
func (t *sseTransport) resolveEndpoint(raw string) (string, error) {
	if raw == "" {
		return "", NewTransportError("sse", "empty endpoint URL", nil)
	}
	endpoint, err := url.Parse(raw)
	if err != nil {
		return "", NewTransportError("sse", "invalid endpoint URL", err)
	}
	base, err := url.Parse(t.baseURL)
	if err != nil {
		return "", NewTransportError("sse", "invalid base URL", err)
	}
	return base.ResolveReference(endpoint).String(), nil
}

// route decodes one inbound frame and dispatches it.
func (t *sseTransport) route(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		t.logger.Warn("dropping undecodable message: %v", err)
		return
	}

	switch m := msg.(type) {
	case *protocol.JSONRPCResponse:
		t.pending.resolve(m, t.logger)
	case *protocol.JSONRPCNotification:
		t.handlerMu.RLock()
		handler := t.notifyHandler
		t.handlerMu.RUnlock()
		if handler == nil {
			t.logger.Debug("dropping notification %s: no handler registered", m.Method)
			return
		}
		if err := handler(m); err != nil {
			t.logger.Error("notification handler error for %s: %v", m.Method, err)
		}
	}
}

// terminate transitions the transport to its terminal state and fails every
// pending request. reason is nil when the stream never became ready.
func (t *sseTransport) terminate(reason error) {
	t.mu.Lock()
	wasClosing := t.closing
	wasConnected := t.connected
	t.connected = false
	t.mu.Unlock()

	close(t.done)

	if wasConnected && !wasClosing {
		t.handlerMu.RLock()
		handler := t.closeHandler
		t.handlerMu.RUnlock()
		if handler != nil {
			handler(reason)
		}
	}
}
