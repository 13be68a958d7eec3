package client

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/conduitproj/conduit/protocol"
)

// mockTransport implements ClientTransport for tests. Responses are produced
// by a scriptable respond function; notifications can be injected at will.
type mockTransport struct {
	mu            sync.Mutex
	connected     bool
	requests      []*protocol.JSONRPCRequest
	notifications []string
	respond       func(req *protocol.JSONRPCRequest) *protocol.JSONRPCResponse
	connectErr    error

	notifyHandler NotificationHandler
	closeHandler  CloseHandler
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		respond: func(req *protocol.JSONRPCRequest) *protocol.JSONRPCResponse {
			return &protocol.JSONRPCResponse{
				JSONRPC: protocol.JSONRPCVersion,
				ID:      req.ID,
				Result:  json.RawMessage(`{}`),
			}
		},
	}
}

func (m *mockTransport) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connectErr != nil {
		return m.connectErr
	}
	m.connected = true
	return nil
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

func (m *mockTransport) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockTransport) SendRequest(ctx context.Context, req *protocol.JSONRPCRequest) (*protocol.JSONRPCResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	respond := m.respond
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, NewTimeoutError(req.Method, 0, ctx.Err())
	default:
	}
	return respond(req), nil
}

func (m *mockTransport) SendNotification(ctx context.Context, method string, params interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, method)
	return nil
}

func (m *mockTransport) SetNotificationHandler(handler NotificationHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifyHandler = handler
}

func (m *mockTransport) SetCloseHandler(handler CloseHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeHandler = handler
}

func (m *mockTransport) Kind() TransportType {
	return TransportType("mock")
}

func (m *mockTransport) Info() map[string]interface{} {
	return map[string]interface{}{"mock": true}
}

// pushNotification delivers a notification as if the server had sent one.
func (m *mockTransport) pushNotification(method string, params interface{}) error {
	m.mu.Lock()
	handler := m.notifyHandler
	m.mu.Unlock()
	if handler == nil {
		return nil
	}
	n, err := protocol.NewNotification(method, params)
	if err != nil {
		return err
	}
	return handler(n)
}

// respondWith installs a scripted per-method response table. Methods without
// an entry get an empty object result.
func (m *mockTransport) respondWith(results map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.respond = func(req *protocol.JSONRPCRequest) *protocol.JSONRPCResponse {
		body, ok := results[req.Method]
		if !ok {
			body = `{}`
		}
		return &protocol.JSONRPCResponse{
			JSONRPC: protocol.JSONRPCVersion,
			ID:      req.ID,
			Result:  json.RawMessage(body),
		}
	}
}

var _ ClientTransport = (*mockTransport)(nil)
