package runtime

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// OperationStatus labels a tracked long-running call.
type OperationStatus string

const (
	OperationRunning   OperationStatus = "running"
	OperationCompleted OperationStatus = "completed"
	OperationFailed    OperationStatus = "failed"
)

// Operation tracks one long-running tool call through its progress
// notifications, correlated by progress token.
type Operation struct {
	Token       string
	Server      string
	Tool        string
	Progress    float64
	Total       float64
	Status      OperationStatus
	StartedAt   time.Time
	CompletedAt time.Time
}

// OperationTable holds in-flight and recently finished operations. Finished
// records are garbage-collected after the retention window.
type OperationTable struct {
	mu        sync.Mutex
	ops       map[string]*Operation
	retention time.Duration
}

// NewOperationTable creates a table with the given retention for finished
// operations.
func NewOperationTable(retention time.Duration) *OperationTable {
	if retention <= 0 {
		retention = 5 * time.Minute
	}
	return &OperationTable{
		ops:       make(map[string]*Operation),
		retention: retention,
	}
}

// Begin registers a new running operation and returns its progress token.
func (t *OperationTable) Begin(server, tool string) string {
	token := uuid.NewString()
	t.mu.Lock()
	t.pruneLocked(time.Now())
	t.ops[token] = &Operation{
		Token:     token,
		Server:    server,
		Tool:      tool,
		Status:    OperationRunning,
		StartedAt: time.Now(),
	}
	t.mu.Unlock()
	return token
}

// UpdateProgress applies a progress notification. Unknown tokens are
// ignored; the server may still be reporting after GC.
func (t *OperationTable) UpdateProgress(token string, progress, total float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	op, ok := t.ops[token]
	if !ok || op.Status != OperationRunning {
		return
	}
	op.Progress = progress
	if total > 0 {
		op.Total = total
	}
}

// Complete marks an operation finished with the given status.
func (t *OperationTable) Complete(token string, status OperationStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	op, ok := t.ops[token]
	if !ok {
		return
	}
	op.Status = status
	op.CompletedAt = time.Now()
}

// Get returns a copy of one operation.
func (t *OperationTable) Get(token string) (Operation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	op, ok := t.ops[token]
	if !ok {
		return Operation{}, false
	}
	return *op, true
}

// Running returns copies of every in-flight operation.
func (t *OperationTable) Running() []Operation {
	t.mu.Lock()
	defer t.mu.Unlock()
	running := make([]Operation, 0)
	for _, op := range t.ops {
		if op.Status == OperationRunning {
			running = append(running, *op)
		}
	}
	return running
}

// Prune drops finished operations older than the retention window.
func (t *OperationTable) Prune() {
	t.mu.Lock()
	t.pruneLocked(time.Now())
	t.mu.Unlock()
}

func (t *OperationTable) pruneLocked(now time.Time) {
	for token, op := range t.ops {
		if op.Status == OperationRunning {
			continue
		}
		if now.Sub(op.CompletedAt) > t.retention {
			delete(t.ops, token)
		}
	}
}
