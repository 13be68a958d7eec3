// Package runtime manages a fleet of MCP servers on top of the client
// package: bounded-concurrency connection orchestration, health monitoring
// with auto-quarantine, concurrent tool execution with safety scheduling,
// resource caching, and notification fan-out.
package runtime

import (
	"sync"
	"time"

	"github.com/conduitproj/conduit/client"
	"github.com/conduitproj/conduit/protocol"
)

// Status is the lifecycle state of one server connection.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusFailed       Status = "failed"
	StatusQuarantined  Status = "quarantined"
)

// CapabilitySnapshot is what the server advertised at connect time.
type CapabilitySnapshot struct {
	Capabilities protocol.ServerCapabilities
	Tools        []protocol.Tool
	Resources    []protocol.Resource
	Prompts      []protocol.Prompt
}

// healthCounters tracks probe and call outcomes for one connection. The
// average latency is a running mean over successful samples.
type healthCounters struct {
	consecutiveFailures int
	totalRequests       int64
	totalFailures       int64
	avgLatency          time.Duration
	latencySamples      int64
	lastPing            time.Time
}

// ConnectionState is the single record per server name. The Manager owns the
// status transitions; the HealthMonitor owns the counters.
type ConnectionState struct {
	name   string
	config client.ServerConfig

	mu          sync.RWMutex
	status      Status
	client      *client.Client
	caps        CapabilitySnapshot
	lastError   error
	connectedAt time.Time
	health      healthCounters
}

func newConnectionState(cfg client.ServerConfig) *ConnectionState {
	return &ConnectionState{
		name:   cfg.Name,
		config: cfg,
		status: StatusDisconnected,
	}
}

// Name returns the server name.
func (s *ConnectionState) Name() string {
	return s.name
}

// Config returns the configuration this connection was built from.
func (s *ConnectionState) Config() client.ServerConfig {
	return s.config
}

// Status returns the current lifecycle state.
func (s *ConnectionState) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Client returns the protocol client, or nil when not connected.
func (s *ConnectionState) Client() *client.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// Capabilities returns the connect-time capability snapshot.
func (s *ConnectionState) Capabilities() CapabilitySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.caps
}

// LastError returns the most recent connect or probe error.
func (s *ConnectionState) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// Uptime returns how long the connection has been up, zero when it is not.
func (s *ConnectionState) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status != StatusConnected || s.connectedAt.IsZero() {
		return 0
	}
	return time.Since(s.connectedAt)
}

func (s *ConnectionState) setConnecting() {
	s.mu.Lock()
	s.status = StatusConnecting
	s.mu.Unlock()
}

func (s *ConnectionState) setConnected(c *client.Client, caps CapabilitySnapshot) {
	s.mu.Lock()
	s.status = StatusConnected
	s.client = c
	s.caps = caps
	s.lastError = nil
	s.connectedAt = time.Now()
	s.health.consecutiveFailures = 0
	s.mu.Unlock()
}

func (s *ConnectionState) setFailed(err error) {
	s.mu.Lock()
	s.status = StatusFailed
	s.client = nil
	s.lastError = err
	s.mu.Unlock()
}

func (s *ConnectionState) setQuarantined(err error) {
	s.mu.Lock()
	s.status = StatusQuarantined
	s.lastError = err
	s.mu.Unlock()
}

func (s *ConnectionState) setDisconnected() {
	s.mu.Lock()
	s.status = StatusDisconnected
	s.client = nil
	s.mu.Unlock()
}

// recordSuccess folds one successful sample into the counters and resets the
// consecutive failure streak.
func (s *ConnectionState) recordSuccess(latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health.totalRequests++
	s.health.consecutiveFailures = 0
	s.health.lastPing = time.Now()
	s.health.latencySamples++
	n := s.health.latencySamples
	s.health.avgLatency += (latency - s.health.avgLatency) / time.Duration(n)
}

// recordFailure bumps the failure counters and returns the consecutive
// failure count so the caller can evaluate its quarantine predicate.
func (s *ConnectionState) recordFailure(err error) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health.totalRequests++
	s.health.totalFailures++
	s.health.consecutiveFailures++
	s.health.lastPing = time.Now()
	s.lastError = err
	return s.health.consecutiveFailures
}

// HealthMetric is one row of the health report.
type HealthMetric struct {
	Name                string
	Status              Status
	Uptime              time.Duration
	TotalRequests       int64
	SuccessRate         float64
	AvgLatency          time.Duration
	ConsecutiveFailures int
	LastPing            time.Time
}

func (s *ConnectionState) metric() HealthMetric {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := HealthMetric{
		Name:                s.name,
		Status:              s.status,
		TotalRequests:       s.health.totalRequests,
		AvgLatency:          s.health.avgLatency,
		ConsecutiveFailures: s.health.consecutiveFailures,
		LastPing:            s.health.lastPing,
	}
	if s.status == StatusConnected && !s.connectedAt.IsZero() {
		m.Uptime = time.Since(s.connectedAt)
	}
	if s.health.totalRequests > 0 {
		succeeded := s.health.totalRequests - s.health.totalFailures
		m.SuccessRate = float64(succeeded) / float64(s.health.totalRequests)
	}
	return m
}
