package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/conduitproj/conduit/logx"
	"github.com/conduitproj/conduit/protocol"
)

// ToolCall is one planned invocation in a batch.
type ToolCall struct {
	Server    string
	Tool      string
	Arguments map[string]interface{}
}

// ExecutionStatus labels the outcome of one tool call.
type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailed  ExecutionStatus = "failed"
	ExecutionCrashed ExecutionStatus = "crashed"
)

// ExecutionResult is the outcome of one tool call. StartedAt/CompletedAt let
// callers verify scheduling properties.
type ExecutionResult struct {
	ID          string
	Server      string
	Tool        string
	Status      ExecutionStatus
	Result      *protocol.CallToolResult
	Err         error
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
}

// ToolCaller is the executor's view of the connection layer.
type ToolCaller interface {
	CallTool(ctx context.Context, server, tool string, args map[string]interface{}) (*protocol.CallToolResult, error)
}

// HealthReporter receives per-call outcomes so tool traffic feeds the same
// counters as health probes.
type HealthReporter interface {
	ReportSuccess(server string, latency time.Duration)
	ReportFailure(server string, err error)
}

// unsafeDenylist is authoritative: a tool whose name exactly matches an
// entry never runs concurrently with another unsafe call.
var unsafeDenylist = map[string]struct{}{
	"write":    {},
	"delete":   {},
	"remove":   {},
	"move":     {},
	"create":   {},
	"update":   {},
	"reset":    {},
	"restart":  {},
	"shutdown": {},
	"kill":     {},
	"drop":     {},
	"truncate": {},
}

// unsafeVerbs drives the conservative substring heuristic. Callers can pin a
// misclassified tool through SafeOverrides.
var unsafeVerbs = []string{
	"write", "delete", "remove", "move", "create", "update",
	"reset", "restart", "shutdown", "kill", "drop", "truncate",
	"insert", "modify", "set_", "put_",
}

// toolExecution is one planned call after classification.
type toolExecution struct {
	id     string
	call   ToolCall
	unsafe bool
}

// Executor runs batches of tool calls under a bounded pool, scheduling
// unsafe calls so no two of them ever overlap.
type Executor struct {
	caller ToolCaller
	health HealthReporter
	logger logx.Logger

	// unsafeMu serializes every call classified unsafe, across groups and
	// batches alike.
	unsafeMu sync.Mutex
}

// NewExecutor creates an executor over the given caller. health may be nil.
func NewExecutor(caller ToolCaller, health HealthReporter, logger logx.Logger) *Executor {
	if logger == nil {
		logger = logx.NewNilLogger()
	}
	return &Executor{caller: caller, health: health, logger: logger}
}

// classify labels one tool name. Precedence: denylist, caller overrides,
// substring heuristic.
func classify(name string, opts ExecOptions) bool {
	if !opts.safetyChecks() {
		return false
	}
	lower := strings.ToLower(name)
	if _, denied := unsafeDenylist[lower]; denied {
		return true
	}
	for _, pinned := range opts.UnsafeOverrides {
		if strings.EqualFold(pinned, name) {
			return true
		}
	}
	for _, pinned := range opts.SafeOverrides {
		if strings.EqualFold(pinned, name) {
			return false
		}
	}
	for _, verb := range unsafeVerbs {
		if strings.Contains(lower, verb) {
			return true
		}
	}
	return false
}

// plan groups the batch. Same-server-sequential mode yields one ordered
// group per server; otherwise one pooled safe group plus a singleton group
// per unsafe call.
func plan(calls []ToolCall, opts ExecOptions) [][]toolExecution {
	executions := make([]toolExecution, len(calls))
	for i, call := range calls {
		executions[i] = toolExecution{
			id:     uuid.NewString(),
			call:   call,
			unsafe: classify(call.Tool, opts),
		}
	}

	if opts.sameServerSequential() {
		order := make([]string, 0)
		byServer := make(map[string][]toolExecution)
		for _, exec := range executions {
			if _, seen := byServer[exec.call.Server]; !seen {
				order = append(order, exec.call.Server)
			}
			byServer[exec.call.Server] = append(byServer[exec.call.Server], exec)
		}
		groups := make([][]toolExecution, 0, len(order))
		for _, server := range order {
			groups = append(groups, byServer[server])
		}
		return groups
	}

	var safe []toolExecution
	var groups [][]toolExecution
	for _, exec := range executions {
		if exec.unsafe {
			groups = append(groups, []toolExecution{exec})
		} else {
			safe = append(safe, exec)
		}
	}
	if len(safe) > 0 {
		groups = append([][]toolExecution{safe}, groups...)
	}
	return groups
}

// ExecuteConcurrent runs the batch and returns one result per call in
// best-effort completion order. A failing or crashing call never aborts its
// siblings.
func (e *Executor) ExecuteConcurrent(ctx context.Context, calls []ToolCall, opts ExecOptions) []ExecutionResult {
	opts = opts.normalized()
	if len(calls) == 0 {
		return nil
	}

	started := time.Now()
	groups := plan(calls, opts)

	var mu sync.Mutex
	results := make([]ExecutionResult, 0, len(calls))
	failed := 0
	emit := func(phase ExecPhase) {
		if opts.OnProgress == nil {
			return
		}
		mu.Lock()
		p := ExecProgress{
			Phase:     phase,
			Total:     len(calls),
			Completed: len(results),
			Failed:    failed,
			Groups:    len(groups),
			Duration:  time.Since(started),
		}
		mu.Unlock()
		opts.OnProgress(p)
	}
	emit(ExecPhaseStarting)

	g := &errgroup.Group{}
	g.SetLimit(opts.MaxConcurrency)
	for _, group := range groups {
		group := group
		g.Go(func() error {
			for _, exec := range group {
				result := e.run(ctx, exec, opts)
				mu.Lock()
				results = append(results, result)
				if result.Status != ExecutionSuccess {
					failed++
				}
				mu.Unlock()
				emit(ExecPhaseCompleted)
			}
			return nil
		})
	}
	g.Wait()

	emit(ExecPhaseCompleted)
	return results
}

// run executes one call with a timeout and a crash guard.
func (e *Executor) run(ctx context.Context, exec toolExecution, opts ExecOptions) ExecutionResult {
	if exec.unsafe {
		e.unsafeMu.Lock()
		defer e.unsafeMu.Unlock()
	}

	result := ExecutionResult{
		ID:        exec.id,
		Server:    exec.call.Server,
		Tool:      exec.call.Tool,
		StartedAt: time.Now(),
	}

	callCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	payload, err := e.invoke(callCtx, exec.call)
	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)

	switch {
	case err == nil:
		result.Status = ExecutionSuccess
		result.Result = payload
		if e.health != nil {
			e.health.ReportSuccess(exec.call.Server, result.Duration)
		}
	case isPanicError(err):
		result.Status = ExecutionCrashed
		result.Err = err
		e.logger.Error("tool %s on %s crashed: %v", exec.call.Tool, exec.call.Server, err)
		if e.health != nil {
			e.health.ReportFailure(exec.call.Server, err)
		}
	default:
		result.Status = ExecutionFailed
		result.Err = err
		e.logger.Warn("tool %s on %s failed: %v", exec.call.Tool, exec.call.Server, err)
		if e.health != nil {
			e.health.ReportFailure(exec.call.Server, err)
		}
	}
	return result
}

// panicError marks an error produced by the crash guard.
type panicError struct {
	value interface{}
}

func (p *panicError) Error() string {
	return fmt.Sprintf("tool call panicked: %v", p.value)
}

func isPanicError(err error) bool {
	_, ok := err.(*panicError)
	return ok
}

// invoke calls through to the connection layer, converting a panic into an
// error so one bad call never takes its siblings down.
func (e *Executor) invoke(ctx context.Context, call ToolCall) (result *protocol.CallToolResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &panicError{value: r}
		}
	}()
	return e.caller.CallTool(ctx, call.Server, call.Tool, call.Arguments)
}
