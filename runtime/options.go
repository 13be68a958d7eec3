package runtime

import "time"

// ConnectMode selects when the Manager actually dials servers.
type ConnectMode string

const (
	// ModeEager connects immediately and blocks until every result is known.
	ModeEager ConnectMode = "eager"
	// ModeLazy records configurations and connects on first GetServer call.
	ModeLazy ConnectMode = "lazy"
	// ModeBackground connects on a detached task, staggered by jitter.
	ModeBackground ConnectMode = "background"
)

// ConnectPhase tags a connection progress update.
type ConnectPhase string

const (
	PhaseStarting   ConnectPhase = "starting"
	PhaseConnecting ConnectPhase = "connecting"
	PhaseCompleted  ConnectPhase = "completed"
)

// ConnectProgress is delivered to the progress callback as a batch advances.
type ConnectProgress struct {
	Phase     ConnectPhase
	Total     int
	Completed int
	Failed    int
	Elapsed   time.Duration
}

// ConnectProgressFunc receives batch progress updates. It is called from the
// orchestrator's own goroutines and must not block.
type ConnectProgressFunc func(p ConnectProgress)

// ConnectOptions bound one connection batch.
type ConnectOptions struct {
	// MaxConcurrency caps how many servers dial at once.
	MaxConcurrency int
	// ConnectTimeout bounds a single connect attempt.
	ConnectTimeout time.Duration
	// OverallTimeout bounds the whole batch; stragglers are cancelled and
	// marked failed.
	OverallTimeout time.Duration
	// RetryAttempts is the total number of connect cycles per server.
	RetryAttempts int
	// RetryDelay is the fixed pause between cycles.
	RetryDelay time.Duration
	// Mode selects eager, lazy or background connection.
	Mode ConnectMode
	// OnProgress, when set, receives batch progress updates.
	OnProgress ConnectProgressFunc
}

// DefaultConnectOptions returns the option set used when callers pass the
// zero value.
func DefaultConnectOptions() ConnectOptions {
	return ConnectOptions{
		MaxConcurrency: 5,
		ConnectTimeout: 10 * time.Second,
		OverallTimeout: 60 * time.Second,
		RetryAttempts:  2,
		RetryDelay:     500 * time.Millisecond,
		Mode:           ModeEager,
	}
}

func (o ConnectOptions) normalized() ConnectOptions {
	def := DefaultConnectOptions()
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = def.MaxConcurrency
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = def.ConnectTimeout
	}
	if o.OverallTimeout <= 0 {
		o.OverallTimeout = def.OverallTimeout
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = def.RetryAttempts
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = def.RetryDelay
	}
	if o.Mode == "" {
		o.Mode = def.Mode
	}
	return o
}

// ExecPhase tags a tool execution progress update.
type ExecPhase string

const (
	ExecPhaseStarting  ExecPhase = "starting"
	ExecPhaseCompleted ExecPhase = "completed"
)

// ExecProgress is delivered to the progress callback as a batch advances.
type ExecProgress struct {
	Phase     ExecPhase
	Total     int
	Completed int
	Failed    int
	Groups    int
	Duration  time.Duration
}

// ExecProgressFunc receives tool batch progress updates.
type ExecProgressFunc func(p ExecProgress)

// ExecOptions bound one execute-concurrent batch.
type ExecOptions struct {
	// MaxConcurrency caps how many groups run at once.
	MaxConcurrency int
	// Timeout bounds every individual tool call.
	Timeout time.Duration
	// SameServerSequential groups calls by server and runs each group in
	// submission order. Defaults to true.
	SameServerSequential *bool
	// SafetyChecks enables the unsafe-tool classifier. Defaults to true.
	SafetyChecks *bool
	// SafeOverrides pins tool names as safe despite the heuristic. The
	// denylist still wins.
	SafeOverrides []string
	// UnsafeOverrides pins tool names as unsafe.
	UnsafeOverrides []string
	// OnProgress, when set, receives batch progress updates.
	OnProgress ExecProgressFunc
}

// DefaultExecOptions returns the option set used when callers pass the zero
// value.
func DefaultExecOptions() ExecOptions {
	return ExecOptions{
		MaxConcurrency: 4,
		Timeout:        30 * time.Second,
	}
}

func (o ExecOptions) normalized() ExecOptions {
	def := DefaultExecOptions()
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = def.MaxConcurrency
	}
	if o.Timeout <= 0 {
		o.Timeout = def.Timeout
	}
	return o
}

func (o ExecOptions) sameServerSequential() bool {
	if o.SameServerSequential == nil {
		return true
	}
	return *o.SameServerSequential
}

func (o ExecOptions) safetyChecks() bool {
	if o.SafetyChecks == nil {
		return true
	}
	return *o.SafetyChecks
}

// Bool is a convenience for populating the optional toggles.
func Bool(v bool) *bool {
	return &v
}

// CacheOptions configure the resource cache.
type CacheOptions struct {
	// TTL is how long a fetched resource stays fresh.
	TTL time.Duration
	// SweepInterval is how often the eviction sweep runs.
	SweepInterval time.Duration
	// MaxBytes is the soft byte budget enforced by the sweep.
	MaxBytes int64
}

// DefaultCacheOptions returns the option set used when callers pass the zero
// value.
func DefaultCacheOptions() CacheOptions {
	return CacheOptions{
		TTL:           time.Hour,
		SweepInterval: 5 * time.Minute,
		MaxBytes:      100 * 1024 * 1024,
	}
}

func (o CacheOptions) normalized() CacheOptions {
	def := DefaultCacheOptions()
	if o.TTL <= 0 {
		o.TTL = def.TTL
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = def.SweepInterval
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = def.MaxBytes
	}
	return o
}

// HealthOptions configure the health monitor.
type HealthOptions struct {
	// Interval is the probe tick period.
	Interval time.Duration
	// ProbeTimeout bounds one probe call.
	ProbeTimeout time.Duration
	// FailureThreshold is the consecutive-failure count that quarantines a
	// connection.
	FailureThreshold int
}

// DefaultHealthOptions returns the option set used when callers pass the zero
// value.
func DefaultHealthOptions() HealthOptions {
	return HealthOptions{
		Interval:         30 * time.Second,
		ProbeTimeout:     5 * time.Second,
		FailureThreshold: 3,
	}
}

func (o HealthOptions) normalized() HealthOptions {
	def := DefaultHealthOptions()
	if o.Interval <= 0 {
		o.Interval = def.Interval
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = def.ProbeTimeout
	}
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = def.FailureThreshold
	}
	return o
}
