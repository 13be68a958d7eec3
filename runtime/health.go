package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/conduitproj/conduit/logx"
)

// HealthMonitor probes every connected server on a fixed tick and
// quarantines servers whose consecutive-failure streak crosses the
// threshold. Other components feed the same counters through ReportSuccess
// and ReportFailure. Quarantine is one-directional: a quarantined server
// only comes back through a fresh Connect batch.
type HealthMonitor struct {
	manager *Manager
	opts    HealthOptions
	logger  logx.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewHealthMonitor creates a monitor over the manager's connections.
func NewHealthMonitor(manager *Manager, opts HealthOptions, logger logx.Logger) *HealthMonitor {
	if logger == nil {
		logger = logx.NewNilLogger()
	}
	return &HealthMonitor{
		manager: manager,
		opts:    opts.normalized(),
		logger:  logger,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the probe loop.
func (h *HealthMonitor) Start() {
	h.startOnce.Do(func() {
		go h.loop()
	})
}

// Stop halts the probe loop and waits for it to exit.
func (h *HealthMonitor) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
	select {
	case <-h.done:
	case <-time.After(time.Second):
	}
}

func (h *HealthMonitor) loop() {
	defer close(h.done)
	ticker := time.NewTicker(h.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.Check(context.Background())
		case <-h.stop:
			return
		}
	}
}

// Check runs one probe round over every connected server.
func (h *HealthMonitor) Check(ctx context.Context) {
	for _, state := range h.manager.Servers() {
		if state.Status() != StatusConnected {
			continue
		}
		h.probe(ctx, state)
	}
}

// probe issues a lightweight tools/list bounded by the probe timeout.
func (h *HealthMonitor) probe(ctx context.Context, state *ConnectionState) {
	c := state.Client()
	if c == nil {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, h.opts.ProbeTimeout)
	defer cancel()

	started := time.Now()
	_, err := c.ListTools(probeCtx)
	latency := time.Since(started)

	if err != nil {
		h.logger.Warn("health probe for %s failed: %v", state.Name(), err)
		h.fail(state, err)
		return
	}
	state.recordSuccess(latency)
}

// ReportSuccess feeds an out-of-band success observation into the counters.
func (h *HealthMonitor) ReportSuccess(server string, latency time.Duration) {
	state, ok := h.manager.Server(server)
	if !ok {
		return
	}
	state.recordSuccess(latency)
}

// ReportFailure feeds an out-of-band failure observation into the counters
// and evaluates the quarantine predicate.
func (h *HealthMonitor) ReportFailure(server string, err error) {
	state, ok := h.manager.Server(server)
	if !ok {
		return
	}
	h.fail(state, err)
}

func (h *HealthMonitor) fail(state *ConnectionState, err error) {
	streak := state.recordFailure(err)
	if streak >= h.opts.FailureThreshold && state.Status() == StatusConnected {
		h.manager.Quarantine(state.Name(),
			fmt.Errorf("%d consecutive health failures, last: %w", streak, err))
	}
}

// Metrics returns one row per known server.
func (h *HealthMonitor) Metrics() []HealthMetric {
	states := h.manager.Servers()
	metrics := make([]HealthMetric, 0, len(states))
	for _, state := range states {
		metrics = append(metrics, state.metric())
	}
	return metrics
}
