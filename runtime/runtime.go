package runtime

import (
	"context"
	"time"

	"github.com/conduitproj/conduit/client"
	"github.com/conduitproj/conduit/logx"
	"github.com/conduitproj/conduit/protocol"
)

// Options configures a Runtime. Zero values fall back to defaults.
type Options struct {
	Logger             logx.Logger
	Connect            ConnectOptions
	Exec               ExecOptions
	Cache              CacheOptions
	Health             HealthOptions
	ClientOptions      []client.ClientOption
	TransportFactory   TransportFactory
	OperationRetention time.Duration
}

// Runtime is the upward-facing facade over the whole client stack: the
// connection manager, health monitor, tool executor, resource cache,
// operation table, and notification registry, wired together.
type Runtime struct {
	logger     logx.Logger
	manager    *Manager
	health     *HealthMonitor
	executor   *Executor
	cache      *ResourceCache
	registry   *Registry
	operations *OperationTable

	connectOpts  ConnectOptions
	execOpts     ExecOptions
	internalSubs []*Subscription
}

// New builds a runtime. Notifications flow from every connected server into
// the registry; internal registry handlers keep the cache and the operation
// table current.
func New(opts Options) *Runtime {
	logger := opts.Logger
	if logger == nil {
		logger = logx.NewNilLogger()
	}

	rt := &Runtime{
		logger:      logger,
		registry:    NewRegistry(logger),
		operations:  NewOperationTable(opts.OperationRetention),
		connectOpts: opts.Connect.normalized(),
		execOpts:    opts.Exec.normalized(),
	}

	managerOpts := []ManagerOption{
		WithManagerLogger(logger),
		WithNotificationSink(func(server string, n *protocol.JSONRPCNotification) {
			rt.registry.Dispatch(server, n.Method, n.Params)
		}),
	}
	if opts.TransportFactory != nil {
		managerOpts = append(managerOpts, WithTransportFactory(opts.TransportFactory))
	}
	if len(opts.ClientOptions) > 0 {
		managerOpts = append(managerOpts, WithClientOptions(opts.ClientOptions...))
	}
	rt.manager = NewManager(managerOpts...)

	rt.health = NewHealthMonitor(rt.manager, opts.Health, logger)
	rt.cache = NewResourceCache(&managerReader{manager: rt.manager}, opts.Cache, logger)
	rt.executor = NewExecutor(&managerCaller{manager: rt.manager}, rt.health, logger)

	rt.internalSubs = append(rt.internalSubs,
		rt.registry.Register(func(event Event) error {
			var params protocol.ResourceUpdatedParams
			if err := protocol.UnmarshalPayload(event.Params, &params); err != nil {
				return err
			}
			rt.cache.HandleResourceUpdated(event.Server, params.URI)
			return nil
		}, TypeResourceUpdated),
		rt.registry.Register(func(event Event) error {
			var params protocol.ProgressParams
			if err := protocol.UnmarshalPayload(event.Params, &params); err != nil {
				return err
			}
			rt.operations.UpdateProgress(params.ProgressToken, params.Progress, params.Total)
			return nil
		}, TypeProgress),
	)
	return rt
}

// Start launches the health monitor and the cache sweep.
func (rt *Runtime) Start() {
	rt.health.Start()
	rt.cache.Start()
}

// Close stops the background loops and tears every connection down.
func (rt *Runtime) Close() {
	rt.health.Stop()
	rt.cache.Stop()
	for _, sub := range rt.internalSubs {
		rt.registry.Unregister(sub)
	}
	rt.manager.Close()
}

// Manager exposes the connection orchestrator.
func (rt *Runtime) Manager() *Manager {
	return rt.manager
}

// Connect dials the configured servers with the runtime's connect options.
func (rt *Runtime) Connect(ctx context.Context, configs []client.ServerConfig) []ConnectResult {
	return rt.manager.Connect(ctx, configs, rt.connectOpts)
}

// ConnectWithOptions dials with explicit options.
func (rt *Runtime) ConnectWithOptions(ctx context.Context, configs []client.ServerConfig, opts ConnectOptions) []ConnectResult {
	return rt.manager.Connect(ctx, configs, opts)
}

// GetServer resolves a name, connecting on demand for lazily registered
// servers.
func (rt *Runtime) GetServer(ctx context.Context, name string) (*ConnectionState, error) {
	return rt.manager.GetServer(ctx, name)
}

// Disconnect tears one server down and drops its cached resources.
func (rt *Runtime) Disconnect(name string) error {
	rt.cache.ClearServer(name)
	return rt.manager.Disconnect(name)
}

// CallTool invokes one tool, tracking it in the operation table so progress
// notifications correlate, and feeding the outcome into the health counters.
func (rt *Runtime) CallTool(ctx context.Context, server, tool string, args map[string]interface{}) (*protocol.CallToolResult, error) {
	state, err := rt.manager.GetServer(ctx, server)
	if err != nil {
		return nil, err
	}
	c := state.Client()
	if c == nil {
		return nil, client.ErrNotConnected
	}

	token := rt.operations.Begin(server, tool)
	started := time.Now()
	result, err := c.CallToolTracked(ctx, tool, args, token)
	if err != nil {
		rt.operations.Complete(token, OperationFailed)
		rt.health.ReportFailure(server, err)
		return nil, err
	}
	rt.operations.Complete(token, OperationCompleted)
	rt.health.ReportSuccess(server, time.Since(started))
	return result, nil
}

// ExecuteConcurrent runs a batch of tool calls under the executor's safety
// scheduling, with explicit options.
func (rt *Runtime) ExecuteConcurrent(ctx context.Context, calls []ToolCall, opts ExecOptions) []ExecutionResult {
	return rt.executor.ExecuteConcurrent(ctx, calls, opts)
}

// ExecuteBatch runs a batch with the runtime's default execution options.
func (rt *Runtime) ExecuteBatch(ctx context.Context, calls []ToolCall) []ExecutionResult {
	return rt.executor.ExecuteConcurrent(ctx, calls, rt.execOpts)
}

// GetResource reads a resource through the cache.
func (rt *Runtime) GetResource(ctx context.Context, server, uri string) (*protocol.ReadResourceResult, error) {
	return rt.cache.Get(ctx, server, uri)
}

// ListTools aggregates tools across every connected server, keyed by server
// name.
func (rt *Runtime) ListTools(ctx context.Context) (map[string][]protocol.Tool, error) {
	out := make(map[string][]protocol.Tool)
	for _, state := range rt.manager.Servers() {
		c := state.Client()
		if c == nil || state.Status() != StatusConnected {
			continue
		}
		tools, err := c.ListTools(ctx)
		if err != nil {
			rt.logger.Warn("tools/list for %s failed: %v", state.Name(), err)
			continue
		}
		out[state.Name()] = tools
	}
	return out, nil
}

// ListResources aggregates resources across every connected server.
func (rt *Runtime) ListResources(ctx context.Context) (map[string][]protocol.Resource, error) {
	out := make(map[string][]protocol.Resource)
	for _, state := range rt.manager.Servers() {
		c := state.Client()
		if c == nil || state.Status() != StatusConnected {
			continue
		}
		resources, err := c.ListResources(ctx)
		if err != nil {
			rt.logger.Warn("resources/list for %s failed: %v", state.Name(), err)
			continue
		}
		out[state.Name()] = resources
	}
	return out, nil
}

// ListPrompts aggregates prompts across every connected server.
func (rt *Runtime) ListPrompts(ctx context.Context) (map[string][]protocol.Prompt, error) {
	out := make(map[string][]protocol.Prompt)
	for _, state := range rt.manager.Servers() {
		c := state.Client()
		if c == nil || state.Status() != StatusConnected {
			continue
		}
		prompts, err := c.ListPrompts(ctx)
		if err != nil {
			rt.logger.Warn("prompts/list for %s failed: %v", state.Name(), err)
			continue
		}
		out[state.Name()] = prompts
	}
	return out, nil
}

// HealthMetrics returns one row per known server.
func (rt *Runtime) HealthMetrics() []HealthMetric {
	return rt.health.Metrics()
}

// CheckHealth runs one probe round immediately.
func (rt *Runtime) CheckHealth(ctx context.Context) {
	rt.health.Check(ctx)
}

// Subscribe registers a notification handler for the given types.
func (rt *Runtime) Subscribe(fn HandlerFunc, types ...NotificationType) *Subscription {
	return rt.registry.Register(fn, types...)
}

// Unsubscribe removes a subscription.
func (rt *Runtime) Unsubscribe(sub *Subscription) {
	rt.registry.Unregister(sub)
}

// Operations returns every in-flight tracked operation.
func (rt *Runtime) Operations() []Operation {
	return rt.operations.Running()
}

// CacheStats returns the resource cache snapshot.
func (rt *Runtime) CacheStats() CacheStats {
	return rt.cache.Stats()
}

// managerCaller adapts the Manager to the executor's ToolCaller. The
// executor handles health reporting itself, so calls here stay untracked.
type managerCaller struct {
	manager *Manager
}

func (mc *managerCaller) CallTool(ctx context.Context, server, tool string, args map[string]interface{}) (*protocol.CallToolResult, error) {
	state, err := mc.manager.GetServer(ctx, server)
	if err != nil {
		return nil, err
	}
	c := state.Client()
	if c == nil {
		return nil, client.ErrNotConnected
	}
	return c.CallTool(ctx, tool, args)
}

// managerReader adapts the Manager to the cache's ResourceReader.
type managerReader struct {
	manager *Manager
}

func (mr *managerReader) ReadResource(ctx context.Context, server, uri string) (*protocol.ReadResourceResult, error) {
	state, err := mr.manager.GetServer(ctx, server)
	if err != nil {
		return nil, err
	}
	c := state.Client()
	if c == nil {
		return nil, client.ErrNotConnected
	}
	return c.ReadResource(ctx, uri)
}

func (mr *managerReader) SubscribeResource(ctx context.Context, server, uri string) error {
	c, err := mr.manager.Client(server)
	if err != nil {
		return err
	}
	return c.SubscribeResource(ctx, uri)
}
