package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/conduitproj/conduit/client"
	"github.com/conduitproj/conduit/logx"
	"github.com/conduitproj/conduit/protocol"
)

// defaultInitializeResult is what every fake server hands back for the
// handshake unless a test scripts its own.
const defaultInitializeResult = `{
	"protocolVersion": "2025-03-26",
	"serverInfo": {"name": "fake", "version": "1.0.0"},
	"capabilities": {"tools": {}, "resources": {"subscribe": true}}
}`

type fakeCall struct {
	Method string
	Params interface{}
	At     time.Time
}

// fakeServer scripts the behavior of one server across transport instances,
// so retry and reconnect paths observe the same counters.
type fakeServer struct {
	mu sync.Mutex

	connectFailures int // fail this many Connects before succeeding
	connectDelay    time.Duration
	connectErr      error

	failCalls bool // every request fails at the transport level
	results   map[string]string

	connects int
	calls    []fakeCall

	transport *fakeTransport
}

func newFakeServer() *fakeServer {
	return &fakeServer{results: make(map[string]string)}
}

func (s *fakeServer) setResult(method, body string) {
	s.mu.Lock()
	s.results[method] = body
	s.mu.Unlock()
}

func (s *fakeServer) setFailCalls(fail bool) {
	s.mu.Lock()
	s.failCalls = fail
	s.mu.Unlock()
}

func (s *fakeServer) callCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, call := range s.calls {
		if call.Method == method {
			count++
		}
	}
	return count
}

func (s *fakeServer) connectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

// pushNotification delivers a notification through the live transport, as if
// the server had sent one.
func (s *fakeServer) pushNotification(method string, params interface{}) error {
	s.mu.Lock()
	transport := s.transport
	s.mu.Unlock()
	if transport == nil {
		return errors.New("no live transport")
	}
	return transport.push(method, params)
}

// fakeTransport implements client.ClientTransport over a fakeServer script.
type fakeTransport struct {
	server *fakeServer

	mu            sync.Mutex
	connected     bool
	notifyHandler client.NotificationHandler
	closeHandler  client.CloseHandler
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.server.mu.Lock()
	f.server.connects++
	delay := f.server.connectDelay
	var err error
	if f.server.connectErr != nil {
		err = f.server.connectErr
	} else if f.server.connectFailures > 0 {
		f.server.connectFailures--
		err = errors.New("scripted connect failure")
	}
	f.server.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	f.server.mu.Lock()
	f.server.transport = f
	f.server.mu.Unlock()
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) SendRequest(ctx context.Context, req *protocol.JSONRPCRequest) (*protocol.JSONRPCResponse, error) {
	f.server.mu.Lock()
	f.server.calls = append(f.server.calls, fakeCall{Method: req.Method, Params: req.Params, At: time.Now()})
	fail := f.server.failCalls
	body, scripted := f.server.results[req.Method]
	f.server.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fail {
		return nil, client.NewTransportError("fake", "scripted request failure", nil)
	}
	if !scripted {
		if req.Method == protocol.MethodInitialize {
			body = defaultInitializeResult
		} else {
			body = `{}`
		}
	}
	return &protocol.JSONRPCResponse{
		JSONRPC: protocol.JSONRPCVersion,
		ID:      req.ID,
		Result:  json.RawMessage(body),
	}, nil
}

func (f *fakeTransport) SendNotification(ctx context.Context, method string, params interface{}) error {
	f.server.mu.Lock()
	f.server.calls = append(f.server.calls, fakeCall{Method: method, Params: params, At: time.Now()})
	f.server.mu.Unlock()
	return nil
}

func (f *fakeTransport) SetNotificationHandler(handler client.NotificationHandler) {
	f.mu.Lock()
	f.notifyHandler = handler
	f.mu.Unlock()
}

func (f *fakeTransport) SetCloseHandler(handler client.CloseHandler) {
	f.mu.Lock()
	f.closeHandler = handler
	f.mu.Unlock()
}

func (f *fakeTransport) Kind() client.TransportType {
	return client.TransportType("fake")
}

func (f *fakeTransport) Info() map[string]interface{} {
	return map[string]interface{}{"fake": true}
}

func (f *fakeTransport) push(method string, params interface{}) error {
	f.mu.Lock()
	handler := f.notifyHandler
	f.mu.Unlock()
	if handler == nil {
		return errors.New("no notification handler")
	}
	n, err := protocol.NewNotification(method, params)
	if err != nil {
		return err
	}
	return handler(n)
}

var _ client.ClientTransport = (*fakeTransport)(nil)

// fakeFleet hands out fake transports per server name and panics for names
// registered as crashers.
type fakeFleet struct {
	mu       sync.Mutex
	servers  map[string]*fakeServer
	crashers map[string]bool
}

func newFakeFleet() *fakeFleet {
	return &fakeFleet{
		servers:  make(map[string]*fakeServer),
		crashers: make(map[string]bool),
	}
}

func (fl *fakeFleet) server(name string) *fakeServer {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if s, ok := fl.servers[name]; ok {
		return s
	}
	s := newFakeServer()
	fl.servers[name] = s
	return s
}

func (fl *fakeFleet) crashOnConnect(name string) {
	fl.mu.Lock()
	fl.crashers[name] = true
	fl.mu.Unlock()
}

func (fl *fakeFleet) factory(cfg client.ServerConfig, logger logx.Logger) (client.ClientTransport, error) {
	fl.mu.Lock()
	crash := fl.crashers[cfg.Name]
	fl.mu.Unlock()
	if crash {
		panic("scripted factory crash for " + cfg.Name)
	}
	return &fakeTransport{server: fl.server(cfg.Name)}, nil
}

func stdioConfig(name string) client.ServerConfig {
	return client.ServerConfig{Name: name, Command: "fake-server"}
}
