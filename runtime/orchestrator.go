package runtime

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/conduitproj/conduit/client"
	"github.com/conduitproj/conduit/logx"
	"github.com/conduitproj/conduit/protocol"
)

// ConnectOutcome labels the result of one server's connect task.
type ConnectOutcome string

const (
	OutcomeConnected ConnectOutcome = "connected"
	OutcomeFailed    ConnectOutcome = "failed"
	OutcomeCrashed   ConnectOutcome = "crashed"
)

// ConnectResult is the per-server outcome of a connection batch.
type ConnectResult struct {
	Name     string
	Outcome  ConnectOutcome
	Err      error
	Attempts int
	Duration time.Duration
}

// TransportFactory builds a transport for one server configuration. Tests
// substitute their own; the default delegates to client.NewTransport.
type TransportFactory func(cfg client.ServerConfig, logger logx.Logger) (client.ClientTransport, error)

// NotificationSink receives every decoded notification from every connected
// server, tagged with the server name.
type NotificationSink func(server string, n *protocol.JSONRPCNotification)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the manager's logger.
func WithManagerLogger(logger logx.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithTransportFactory replaces the transport constructor.
func WithTransportFactory(factory TransportFactory) ManagerOption {
	return func(m *Manager) {
		m.factory = factory
	}
}

// WithClientOptions passes options through to every client the manager builds.
func WithClientOptions(opts ...client.ClientOption) ManagerOption {
	return func(m *Manager) {
		m.clientOpts = opts
	}
}

// WithNotificationSink routes server notifications to the sink.
func WithNotificationSink(sink NotificationSink) ManagerOption {
	return func(m *Manager) {
		m.sink = sink
	}
}

// Manager is the connection orchestrator: it holds one ConnectionState per
// server name and dials servers under a bounded worker pool.
type Manager struct {
	logger     logx.Logger
	factory    TransportFactory
	clientOpts []client.ClientOption
	sink       NotificationSink

	mu          sync.Mutex
	connections map[string]*ConnectionState
	lazyOpts    ConnectOptions
	inflight    map[string]chan struct{}

	jitter func() time.Duration
}

// NewManager creates an orchestrator with no connections.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		logger:      logx.NewNilLogger(),
		connections: make(map[string]*ConnectionState),
		inflight:    make(map[string]chan struct{}),
		lazyOpts:    DefaultConnectOptions(),
	}
	m.factory = func(cfg client.ServerConfig, logger logx.Logger) (client.ClientTransport, error) {
		return client.NewTransport(cfg, logger)
	}
	m.jitter = func() time.Duration {
		return time.Duration(rand.Int63n(int64(500 * time.Millisecond)))
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect dials every configured server according to the mode. Eager mode
// blocks until all results are known; background and lazy modes return an
// empty result set immediately. Duplicate names resolve last-write-wins.
func (m *Manager) Connect(ctx context.Context, configs []client.ServerConfig, opts ConnectOptions) []ConnectResult {
	opts = opts.normalized()
	configs = dedupeConfigs(configs)

	switch opts.Mode {
	case ModeLazy:
		m.registerLazy(configs, opts)
		return nil
	case ModeBackground:
		m.registerLazy(configs, opts)
		go m.connectBackground(configs, opts)
		return nil
	default:
		return m.runBatch(ctx, configs, opts)
	}
}

// registerLazy records configurations so GetServer can dial on demand.
func (m *Manager) registerLazy(configs []client.ServerConfig, opts ConnectOptions) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lazyOpts = opts
	for _, cfg := range configs {
		if existing, ok := m.connections[cfg.Name]; ok && existing.Status() == StatusConnected {
			continue
		}
		m.connections[cfg.Name] = newConnectionState(cfg)
	}
}

// connectBackground runs the batch detached from the caller, staggering each
// connection by a small random jitter to avoid a startup thundering herd.
func (m *Manager) connectBackground(configs []client.ServerConfig, opts ConnectOptions) {
	ctx, cancel := context.WithTimeout(context.Background(), opts.OverallTimeout)
	defer cancel()

	g := &errgroup.Group{}
	g.SetLimit(opts.MaxConcurrency)
	for _, cfg := range configs {
		cfg := cfg
		delay := m.jitter()
		g.Go(func() error {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil
			}
			result := m.connectOne(ctx, cfg, opts)
			m.logger.Debug("background connect %s: %s", cfg.Name, result.Outcome)
			return nil
		})
	}
	g.Wait()
}

// runBatch is the eager path: one task per server on a bounded pool, the
// whole batch fenced by the overall timeout.
func (m *Manager) runBatch(ctx context.Context, configs []client.ServerConfig, opts ConnectOptions) []ConnectResult {
	started := time.Now()
	total := len(configs)
	results := make([]ConnectResult, total)

	batchCtx, cancel := context.WithTimeout(ctx, opts.OverallTimeout)
	defer cancel()

	var progressMu sync.Mutex
	completed, failed := 0, 0
	emit := func(phase ConnectPhase) {
		if opts.OnProgress == nil {
			return
		}
		progressMu.Lock()
		p := ConnectProgress{
			Phase:     phase,
			Total:     total,
			Completed: completed,
			Failed:    failed,
			Elapsed:   time.Since(started),
		}
		progressMu.Unlock()
		opts.OnProgress(p)
	}
	emit(PhaseStarting)

	g := &errgroup.Group{}
	g.SetLimit(opts.MaxConcurrency)
	for i, cfg := range configs {
		i, cfg := i, cfg
		g.Go(func() error {
			results[i] = m.connectOne(batchCtx, cfg, opts)
			progressMu.Lock()
			completed++
			if results[i].Outcome != OutcomeConnected {
				failed++
			}
			progressMu.Unlock()
			emit(PhaseConnecting)
			return nil
		})
	}
	g.Wait()
	emit(PhaseCompleted)
	return results
}

// connectOne runs the retry loop for a single server. At most one attempt
// per name is in flight at any moment; concurrent attempts coalesce onto the
// winner's result. A panicking attempt is recovered into a crashed result
// rather than taking the batch down.
func (m *Manager) connectOne(ctx context.Context, cfg client.ServerConfig, opts ConnectOptions) (result ConnectResult) {
	started := time.Now()
	result = ConnectResult{Name: cfg.Name}

	for {
		m.mu.Lock()
		wait, busy := m.inflight[cfg.Name]
		if !busy {
			break
		}
		m.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			result.Outcome = OutcomeFailed
			result.Err = ctx.Err()
			return result
		}
		if state, ok := m.Server(cfg.Name); ok && state.Status() == StatusConnected {
			result.Outcome = OutcomeConnected
			result.Duration = time.Since(started)
			return result
		}
	}
	done := make(chan struct{})
	m.inflight[cfg.Name] = done
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.inflight, cfg.Name)
		m.mu.Unlock()
		close(done)
	}()

	defer func() {
		result.Duration = time.Since(started)
		if r := recover(); r != nil {
			result.Outcome = OutcomeCrashed
			result.Err = fmt.Errorf("connect panicked: %v", r)
			m.state(cfg).setFailed(result.Err)
			m.logger.Error("connect %s crashed: %v", cfg.Name, r)
		}
	}()

	state := m.state(cfg)
	state.setConnecting()

	backoff := client.NewConstantBackoff(opts.RetryDelay, opts.RetryAttempts)
	var lastErr error
	for attempt := 1; attempt <= opts.RetryAttempts; attempt++ {
		result.Attempts = attempt
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		attemptCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
		c, caps, err := m.dial(attemptCtx, cfg)
		cancel()
		if err == nil {
			state.setConnected(c, caps)
			result.Outcome = OutcomeConnected
			m.logger.Info("connected to %s (attempt %d)", cfg.Name, attempt)
			return result
		}

		lastErr = err
		m.logger.Warn("connect %s attempt %d/%d failed: %v", cfg.Name, attempt, opts.RetryAttempts, err)
		if attempt < opts.RetryAttempts {
			select {
			case <-time.After(backoff.NextDelay(attempt)):
			case <-ctx.Done():
			}
		}
	}

	state.setFailed(lastErr)
	result.Outcome = OutcomeFailed
	result.Err = lastErr
	return result
}

// dial builds the transport and client, runs the handshake, and snapshots the
// advertised capabilities.
func (m *Manager) dial(ctx context.Context, cfg client.ServerConfig) (*client.Client, CapabilitySnapshot, error) {
	transport, err := m.factory(cfg, m.logger)
	if err != nil {
		return nil, CapabilitySnapshot{}, err
	}

	opts := append([]client.ClientOption{client.WithLogger(m.logger)}, m.clientOpts...)
	c := client.NewClient(cfg.Name, transport, opts...)

	name := cfg.Name
	c.SetNotificationHandler(func(n *protocol.JSONRPCNotification) error {
		if m.sink != nil {
			m.sink(name, n)
		}
		return nil
	})
	c.SetCloseHandler(func(err error) {
		m.logger.Warn("transport for %s died: %v", name, err)
		if state, ok := m.Server(name); ok {
			state.setFailed(err)
		}
	})

	if err := c.Connect(ctx); err != nil {
		return nil, CapabilitySnapshot{}, err
	}
	return c, m.snapshot(ctx, c), nil
}

// snapshot lists what the server advertises. Listing failures degrade the
// snapshot rather than failing the connection.
func (m *Manager) snapshot(ctx context.Context, c *client.Client) CapabilitySnapshot {
	caps := CapabilitySnapshot{Capabilities: c.Capabilities()}
	if caps.Capabilities.Tools != nil {
		if tools, err := c.ListTools(ctx); err == nil {
			caps.Tools = tools
		} else {
			m.logger.Debug("tools/list for %s failed during snapshot: %v", c.Name(), err)
		}
	}
	if caps.Capabilities.Resources != nil {
		if resources, err := c.ListResources(ctx); err == nil {
			caps.Resources = resources
		}
	}
	if caps.Capabilities.Prompts != nil {
		if prompts, err := c.ListPrompts(ctx); err == nil {
			caps.Prompts = prompts
		}
	}
	return caps
}

// state returns the ConnectionState for cfg, creating or replacing it. A new
// config for an existing name wins over the old one.
func (m *Manager) state(cfg client.ServerConfig) *ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.connections[cfg.Name]; ok && existing.config.Command == cfg.Command && existing.config.URL == cfg.URL {
		return existing
	}
	state := newConnectionState(cfg)
	m.connections[cfg.Name] = state
	return state
}

// Server returns the ConnectionState for a name without connecting.
func (m *Manager) Server(name string) (*ConnectionState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.connections[name]
	return state, ok
}

// Servers returns all ConnectionStates sorted by name.
func (m *Manager) Servers() []*ConnectionState {
	m.mu.Lock()
	states := make([]*ConnectionState, 0, len(m.connections))
	for _, state := range m.connections {
		states = append(states, state)
	}
	m.mu.Unlock()

	sort.Slice(states, func(i, j int) bool {
		return states[i].name < states[j].name
	})
	return states
}

// GetServer resolves a name to a connected state, dialing on demand for
// lazily registered servers. Concurrent callers for the same name coalesce
// onto a single connect attempt.
func (m *Manager) GetServer(ctx context.Context, name string) (*ConnectionState, error) {
	m.mu.Lock()
	state, ok := m.connections[name]
	opts := m.lazyOpts
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown server %q", name)
	}

	switch state.Status() {
	case StatusConnected:
		return state, nil
	case StatusQuarantined:
		return nil, fmt.Errorf("server %q is quarantined: %w", name, state.LastError())
	}

	result := m.connectOne(ctx, state.Config(), opts)
	if result.Outcome != OutcomeConnected {
		return nil, fmt.Errorf("connect %q: %w", name, result.Err)
	}
	return state, nil
}

// Client resolves a name to its protocol client, requiring it connected.
func (m *Manager) Client(name string) (*client.Client, error) {
	state, ok := m.Server(name)
	if !ok {
		return nil, fmt.Errorf("unknown server %q", name)
	}
	c := state.Client()
	if c == nil || state.Status() != StatusConnected {
		return nil, fmt.Errorf("server %q is %s: %w", name, state.Status(), client.ErrNotConnected)
	}
	return c, nil
}

// Disconnect tears one server down and removes its state.
func (m *Manager) Disconnect(name string) error {
	m.mu.Lock()
	state, ok := m.connections[name]
	if ok {
		delete(m.connections, name)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown server %q", name)
	}

	if c := state.Client(); c != nil {
		c.Close()
	}
	state.setDisconnected()
	return nil
}

// Quarantine transitions a server to quarantined and tears its transport
// down. Used by the health monitor; quarantine is one-directional.
func (m *Manager) Quarantine(name string, reason error) {
	state, ok := m.Server(name)
	if !ok {
		return
	}
	if c := state.Client(); c != nil {
		c.Close()
	}
	state.setQuarantined(reason)
	m.logger.Warn("quarantined server %s: %v", name, reason)
}

// Close tears every connection down.
func (m *Manager) Close() {
	for _, state := range m.Servers() {
		if c := state.Client(); c != nil {
			c.Close()
		}
		state.setDisconnected()
	}
}

// dedupeConfigs keeps the last occurrence per name, preserving its position.
func dedupeConfigs(configs []client.ServerConfig) []client.ServerConfig {
	last := make(map[string]int, len(configs))
	for i, cfg := range configs {
		last[cfg.Name] = i
	}
	out := make([]client.ServerConfig, 0, len(last))
	for i, cfg := range configs {
		if last[cfg.Name] == i {
			out = append(out, cfg)
		}
	}
	return out
}
