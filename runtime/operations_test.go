package runtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationLifecycle(t *testing.T) {
	table := NewOperationTable(time.Minute)

	token := table.Begin("calc", "slow_sum")
	require.NotEmpty(t, token)

	op, ok := table.Get(token)
	require.True(t, ok)
	assert.Equal(t, OperationRunning, op.Status)
	assert.Equal(t, "calc", op.Server)
	assert.Equal(t, "slow_sum", op.Tool)

	table.UpdateProgress(token, 5, 10)
	op, _ = table.Get(token)
	assert.Equal(t, 5.0, op.Progress)
	assert.Equal(t, 10.0, op.Total)

	table.Complete(token, OperationCompleted)
	op, _ = table.Get(token)
	assert.Equal(t, OperationCompleted, op.Status)
	assert.False(t, op.CompletedAt.IsZero())

	// Progress after completion is ignored.
	table.UpdateProgress(token, 9, 10)
	op, _ = table.Get(token)
	assert.Equal(t, 5.0, op.Progress)
}

func TestOperationUnknownTokenIgnored(t *testing.T) {
	table := NewOperationTable(time.Minute)
	table.UpdateProgress("no-such-token", 1, 2)
	table.Complete("no-such-token", OperationFailed)
	_, ok := table.Get("no-such-token")
	assert.False(t, ok)
}

func TestOperationRunningExcludesFinished(t *testing.T) {
	table := NewOperationTable(time.Minute)

	running := table.Begin("calc", "slow_sum")
	finished := table.Begin("calc", "quick_sum")
	table.Complete(finished, OperationCompleted)

	inFlight := table.Running()
	require.Len(t, inFlight, 1)
	assert.Equal(t, running, inFlight[0].Token)
}

func TestOperationPruneRespectsRetention(t *testing.T) {
	table := NewOperationTable(time.Minute)

	fresh := table.Begin("calc", "fresh")
	table.Complete(fresh, OperationCompleted)

	stale := table.Begin("calc", "stale")
	table.Complete(stale, OperationFailed)
	table.mu.Lock()
	table.ops[stale].CompletedAt = time.Now().Add(-2 * time.Minute)
	table.mu.Unlock()

	table.Prune()

	_, ok := table.Get(fresh)
	assert.True(t, ok)
	_, ok = table.Get(stale)
	assert.False(t, ok)
}
