package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/conduitproj/conduit/logx"
	"github.com/conduitproj/conduit/protocol"
)

// stdioTransport implements ClientTransport over a spawned subprocess. It
// owns a ProcessSupervisor and correlates responses to pending requests by
// request id.
type stdioTransport struct {
	command string
	args    []string
	options *TransportOptions
	logger  logx.Logger

	mu         sync.RWMutex
	supervisor *ProcessSupervisor
	connected  bool
	closing    bool

	notifyHandler NotificationHandler
	closeHandler  CloseHandler
	handlerMu     sync.RWMutex

	pending pendingTable
	done    chan struct{}
}

// NewStdioTransport creates a transport that will spawn the given command on
// Connect and speak newline-delimited JSON-RPC over its stdio.
func NewStdioTransport(command string, args []string, logger logx.Logger, options ...TransportOption) ClientTransport {
	opts := DefaultTransportOptions()
	for _, option := range options {
		option(opts)
	}
	if logger == nil {
		logger = logx.NewNilLogger()
	}
	return &stdioTransport{
		command: command,
		args:    args,
		options: opts,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Connect spawns the child process and starts the dispatch loop.
func (t *stdioTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected {
		return NewConnectionError("stdio", "already connected", ErrAlreadyConnected)
	}

	t.supervisor = NewProcessSupervisor(t.command, t.args, t.options.Env, t.logger, t.options.MaxLineSize)
	if err := t.supervisor.Start(); err != nil {
		return err
	}

	t.connected = true
	go t.dispatchLoop(t.supervisor.Events())

	t.logger.Info("stdio transport connected to process %s", t.command)
	return nil
}

// Close terminates the child process. Pending requests are failed by the
// dispatch loop when the supervisor reports the exit.
func (t *stdioTransport) Close() error {
	t.mu.Lock()
	if !t.connected || t.closing {
		t.mu.Unlock()
		return nil
	}
	t.closing = true
	supervisor := t.supervisor
	t.mu.Unlock()

	return supervisor.Stop()
}

// IsConnected returns true while the child process is alive.
func (t *stdioTransport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// SendRequest sends a request and waits for the matching response.
func (t *stdioTransport) SendRequest(ctx context.Context, req *protocol.JSONRPCRequest) (*protocol.JSONRPCResponse, error) {
	if !t.IsConnected() {
		return nil, NewConnectionError("stdio", "not connected", ErrNotConnected)
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, NewTransportError("stdio", "failed to marshal request", err)
	}

	responseCh := t.pending.register(req.ID)
	defer t.pending.remove(req.ID)

	if err := t.supervisor.Send(data); err != nil {
		return nil, err
	}

	select {
	case resp := <-responseCh:
		return resp, nil
	case <-t.done:
		return nil, NewConnectionError("stdio", "transport closed while waiting for response", ErrDisconnected)
	case <-ctx.Done():
		return nil, NewTimeoutError(req.Method, t.options.RequestTimeout, ctx.Err())
	}
}

// SendNotification sends a fire-and-forget notification.
func (t *stdioTransport) SendNotification(ctx context.Context, method string, params interface{}) error {
	if !t.IsConnected() {
		return NewConnectionError("stdio", "not connected", ErrNotConnected)
	}
	n, err := protocol.NewNotification(method, params)
	if err != nil {
		return NewProtocolError("failed to build notification", err)
	}
	data, err := json.Marshal(n)
	if err != nil {
		return NewTransportError("stdio", "failed to marshal notification", err)
	}
	return t.supervisor.Send(data)
}

// SetNotificationHandler sets the handler for server notifications.
func (t *stdioTransport) SetNotificationHandler(handler NotificationHandler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.notifyHandler = handler
}

// SetCloseHandler sets the handler invoked on unexpected transport death.
func (t *stdioTransport) SetCloseHandler(handler CloseHandler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.closeHandler = handler
}

// Kind returns the transport type.
func (t *stdioTransport) Kind() TransportType {
	return TransportTypeStdio
}

// Info returns transport-specific information.
func (t *stdioTransport) Info() map[string]interface{} {
	info := map[string]interface{}{
		"command":   t.command,
		"args":      t.args,
		"connected": t.IsConnected(),
	}
	t.mu.RLock()
	if t.supervisor != nil {
		info["pid"] = t.supervisor.Pid()
	}
	t.mu.RUnlock()
	return info
}

// dispatchLoop consumes supervisor events until the process terminates,
// routing frames to pending requests or the notification handler.
func (t *stdioTransport) dispatchLoop(events <-chan ProcessEvent) {
	var terminal error

	for ev := range events {
		switch ev.Kind {
		case ProcessFrame:
			t.handleFrame(ev.Frame)
		case ProcessExited:
			if ev.ExitCode != 0 {
				terminal = fmt.Errorf("process exited with code %d: %w", ev.ExitCode, ErrDisconnected)
			} else {
				terminal = ErrDisconnected
			}
		case ProcessCrashed:
			terminal = fmt.Errorf("process crashed: %v: %w", ev.Err, ErrDisconnected)
		}
	}

	t.mu.Lock()
	wasClosing := t.closing
	t.connected = false
	t.mu.Unlock()

	// Wake every pending caller.
	close(t.done)

	if !wasClosing {
		t.handlerMu.RLock()
		handler := t.closeHandler
		t.handlerMu.RUnlock()
		if handler != nil {
			handler(terminal)
		}
	}
}

// handleFrame decodes one frame and routes it.
func (t *stdioTransport) handleFrame(frame []byte) {
	msg, err := protocol.Decode(frame)
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
