package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/conduitproj/conduit/logx"
	"github.com/conduitproj/conduit/protocol"
)

// websocketTransport implements ClientTransport over a WebSocket text-frame
// channel using gobwas/ws.
type websocketTransport struct {
	wsURL   string
	options *TransportOptions
	logger  logx.Logger

	mu        sync.RWMutex
	conn      net.Conn
	connected bool
	closing   bool

	writeMu sync.Mutex

	notifyHandler NotificationHandler
	closeHandler  CloseHandler
	handlerMu     sync.RWMutex

	pending pendingTable
	done    chan struct{}
}

// NewWebSocketTransport creates a transport for the given WebSocket URL.
// http(s) schemes are rewritten to ws(s).
func NewWebSocketTransport(rawURL string, logger logx.Logger, options ...TransportOption) (ClientTransport, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, NewTransportError("websocket", "invalid URL", err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, NewTransportError("websocket", fmt.Sprintf("unsupported scheme %q", parsed.Scheme), nil)
	}

	opts := DefaultTransportOptions()
	for _, option := range options {
		option(opts)
	}
	if logger == nil {
		logger = logx.NewNilLogger()
	}

	return &websocketTransport{
		wsURL:   parsed.String(),
		options: opts,
		logger:  logger,
		done:    make(chan struct{}),
	}, nil
}

// Connect dials the WebSocket endpoint and starts the read loop.
func (t *websocketTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected {
		return NewConnectionError(t.wsURL, "already connected", ErrAlreadyConnected)
	}

	dialer := ws.Dialer{Timeout: t.options.ConnectTimeout}
	conn, _, _, err := dialer.Dial(ctx, t.wsURL)
	if err != nil {
		return NewTransportError("websocket", fmt.Sprintf("failed to dial %s", t.wsURL), err)
	}

	t.conn = conn
	t.connected = true
	go t.readLoop(conn)

	t.logger.Info("websocket transport connected to %s", t.wsURL)
	return nil
}

// Close shuts the connection down.
func (t *websocketTransport) Close() error {
	t.mu.Lock()
	if !t.connected || t.closing {
		t.mu.Unlock()
		return nil
	}
	t.closing = true
	conn := t.conn
	t.mu.Unlock()

	// Best-effort close frame before dropping the connection.
	t.writeMu.Lock()
	_ = wsutil.WriteClientMessage(conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
	t.writeMu.Unlock()

	return conn.Close()
}

// IsConnected returns true while the connection is alive.
func (t *websocketTransport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// SendRequest sends a request frame and waits for the matching response.
func (t *websocketTransport) SendRequest(ctx context.Context, req *protocol.JSONRPCRequest) (*protocol.JSONRPCResponse, error) {
	if !t.IsConnected() {
		return nil, NewConnectionError(t.wsURL, "not connected", ErrNotConnected)
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, NewTransportError("websocket", "failed to marshal request", err)
	}

	responseCh := t.pending.register(req.ID)
	defer t.pending.remove(req.ID)

	if err := t.write(ctx, data); err != nil {
		return nil, err
	}

	select {
	case resp := <-responseCh:
		return resp, nil
	case <-t.done:
		return nil, NewConnectionError(t.wsURL, "transport closed while waiting for response", ErrDisconnected)
	case <-ctx.Done():
		return nil, NewTimeoutError(req.Method, t.options.RequestTimeout, ctx.Err())
	}
}

// SendNotification sends a fire-and-forget notification frame.
func (t *websocketTransport) SendNotification(ctx context.Context, method string, params interface{}) error {
	if !t.IsConnected() {
		return NewConnectionError(t.wsURL, "not connected", ErrNotConnected)
	}
	n, err := protocol.NewNotification(method, params)
	if err != nil {
		return NewProtocolError("failed to build notification", err)
	}
	data, err := json.Marshal(n)
	if err != nil {
		return NewTransportError("websocket", "failed to marshal notification", err)
	}
	return t.write(ctx, data)
}

// SetNotificationHandler sets the handler for server notifications.
func (t *websocketTransport) SetNotificationHandler(handler NotificationHandler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.notifyHandler = handler
}

// SetCloseHandler sets the handler invoked on unexpected transport death.
func (t *websocketTransport) SetCloseHandler(handler CloseHandler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.closeHandler = handler
}

// Kind returns the transport type.
func (t *websocketTransport) Kind() TransportType {
	return TransportTypeWebSocket
}

// Info returns transport-specific information.
func (t *websocketTransport) Info() map[string]interface{} {
	return map[string]interface{}{
		"url":       t.wsURL,
		"connected": t.IsConnected(),
	}
}

// write sends one text frame, applying the context deadline to the write.
func (t *websocketTransport) write(ctx context.Context, data []byte) error {
	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	} else {
		_ = conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
	}
	defer conn.SetWriteDeadline(time.Time{})

	if err := wsutil.WriteClientMessage(conn, ws.OpText, data); err != nil {
		return NewTransportError("websocket", "failed to write frame", err)
	}
	return nil
}

// readLoop reads frames until the connection dies, routing responses to
// pending requests and notifications to the handler.
func (t *websocketTransport) readLoop(conn net.Conn) {
	for {
		data, op, err := wsutil.ReadServerData(conn)
		if err != nil {
			t.terminate(err)
			return
		}
		if op != ws.OpText || len(data) == 0 {
			continue
		}
		t.route(data)
	}
}

// route decodes one inbound frame and dispatches it.
func (t *websocketTransport) route(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		t.logger.Warn("dropping undecodable frame: %v", err)
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

// terminate transitions the transport to its terminal state.
func (t *websocketTransport) terminate(cause error) {
	t.mu.Lock()
	wasClosing := t.closing
	t.connected = false
	conn := t.conn
	t.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	close(t.done)

	if !wasClosing {
		t.handlerMu.RLock()
		handler := t.closeHandler
		t.handlerMu.RUnlock()

		reason := fmt.Errorf("connection lost: %v: %w", cause, ErrDisconnected)
		if strings.Contains(fmt.Sprint(cause), "use of closed network connection") {
			reason = ErrDisconnected
		}
		if handler != nil {
			handler(reason)
		}
	}
}
