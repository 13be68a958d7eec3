package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduitproj/conduit/logx"
)

// waitForEvent reads the next event with a deadline so a broken supervisor
// fails the test instead of hanging it.
func waitForEvent(t *testing.T, events <-chan ProcessEvent) ProcessEvent {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "event channel closed unexpectedly")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for process event")
		return ProcessEvent{}
	}
}

func TestProcessSupervisorFramesRoundTrip(t *testing.T) {
	// cat echoes stdin back line by line, which exercises the newline
	// framing in both directions.
	p := NewProcessSupervisor("cat", nil, nil, logx.NewNilLogger(), 0)
	require.NoError(t, p.Start())
	defer p.Stop()

	require.NoError(t, p.Send([]byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)))

	ev := waitForEvent(t, p.Events())
	assert.Equal(t, ProcessFrame, ev.Kind)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, string(ev.Frame))
}

func TestProcessSupervisorSplitsMultipleFrames(t *testing.T) {
	p := NewProcessSupervisor("sh", []string{"-c", `printf '{"a":1}\n{"b":2}\n'`}, nil, logx.NewNilLogger(), 0)
	require.NoError(t, p.Start())

	first := waitForEvent(t, p.Events())
	require.Equal(t, ProcessFrame, first.Kind)
	assert.JSONEq(t, `{"a":1}`, string(first.Frame))

	second := waitForEvent(t, p.Events())
	require.Equal(t, ProcessFrame, second.Kind)
	assert.JSONEq(t, `{"b":2}`, string(second.Frame))

	final := waitForEvent(t, p.Events())
	assert.Equal(t, ProcessExited, final.Kind)
	assert.Equal(t, 0, final.ExitCode)
}

func TestProcessSupervisorReportsNonZeroExit(t *testing.T) {
	p := NewProcessSupervisor("false", nil, nil, logx.NewNilLogger(), 0)
	require.NoError(t, p.Start())

	ev := waitForEvent(t, p.Events())
	assert.Equal(t, ProcessExited, ev.Kind)
	assert.NotEqual(t, 0, ev.ExitCode)
}

func TestProcessSupervisorUnknownExecutable(t *testing.T) {
	p := NewProcessSupervisor("definitely-not-a-real-binary-432", nil, nil, logx.NewNilLogger(), 0)
	err := p.Start()
	require.Error(t, err)
	assert.True(t, IsTransportError(err))
}

func TestProcessSupervisorStop(t *testing.T) {
	p := NewProcessSupervisor("cat", nil, nil, logx.NewNilLogger(), 0)
	require.NoError(t, p.Start())
	require.NoError(t, p.Stop())

	// The event channel drains to a terminal event and closes.
	for ev := range p.Events() {
		if ev.Kind == ProcessExited || ev.Kind == ProcessCrashed {
			return
		}
	}
}

func TestProcessSupervisorEnvPassthrough(t *testing.T) {
	p := NewProcessSupervisor("sh", []string{"-c", `printf '%s\n' "$CONDUIT_TEST_VALUE"`},
		map[string]string{"CONDUIT_TEST_VALUE": "hello"}, logx.NewNilLogger(), 0)
	require.NoError(t, p.Start())

	ev := waitForEvent(t, p.Events())
	require.Equal(t, ProcessFrame, ev.Kind)
	assert.Equal(t, "hello", string(ev.Frame))
}

func TestProcessSupervisorDoubleStart(t *testing.T) {
	p := NewProcessSupervisor("cat", nil, nil, logx.NewNilLogger(), 0)
	require.NoError(t, p.Start())
	defer p.Stop()

	assert.Error(t, p.Start())
}
