package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduitproj/conduit/client"
	"github.com/conduitproj/conduit/protocol"
)

func newTestRuntime(t *testing.T, fleet *fakeFleet, configs ...client.ServerConfig) *Runtime {
	t.Helper()
	rt := New(Options{
		TransportFactory: fleet.factory,
		Connect:          fastConnectOptions(),
	})
	t.Cleanup(rt.Close)

	if len(configs) > 0 {
		results := rt.Connect(context.Background(), configs)
		require.Len(t, results, len(configs))
		for _, result := range results {
			require.Equal(t, OutcomeConnected, result.Outcome, result.Name)
		}
	}
	return rt
}

func TestRuntimeCallToolTracked(t *testing.T) {
	fleet := newFakeFleet()
	fleet.server("calc").setResult(protocol.MethodCallTool, `{"content":[{"type":"text","text":"4"}]}`)
	rt := newTestRuntime(t, fleet, stdioConfig("calc"))

	result, err := rt.CallTool(context.Background(), "calc", "add", map[string]interface{}{"a": 2, "b": 2})
	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "4", result.Content[0].Text)

	// The call went out with a progress token attached.
	var meta *protocol.RequestMeta
	fleet.server("calc").mu.Lock()
	for _, call := range fleet.server("calc").calls {
		if call.Method == protocol.MethodCallTool {
			params, ok := call.Params.(protocol.CallToolParams)
			require.True(t, ok)
			meta = params.Meta
		}
	}
	fleet.server("calc").mu.Unlock()
	require.NotNil(t, meta)
	assert.NotEmpty(t, meta.ProgressToken)

	// The tracked operation finished; nothing is left running.
	assert.Empty(t, rt.Operations())

	// The success fed the health counters.
	metrics := rt.HealthMetrics()
	require.Len(t, metrics, 1)
	assert.Equal(t, int64(1), metrics[0].TotalRequests)
	assert.Equal(t, 1.0, metrics[0].SuccessRate)
}

func TestRuntimeCallToolFailureFeedsHealth(t *testing.T) {
	fleet := newFakeFleet()
	rt := newTestRuntime(t, fleet, stdioConfig("calc"))

	fleet.server("calc").setFailCalls(true)
	_, err := rt.CallTool(context.Background(), "calc", "add", nil)
	require.Error(t, err)

	metrics := rt.HealthMetrics()
	require.Len(t, metrics, 1)
	assert.Equal(t, 1, metrics[0].ConsecutiveFailures)
	assert.Equal(t, 0.0, metrics[0].SuccessRate)
}

func TestRuntimeGetResourceCaches(t *testing.T) {
	fleet := newFakeFleet()
	fleet.server("data").setResult(protocol.MethodReadResource,
		`{"contents":[{"uri":"data://users","mimeType":"application/json","text":"[]"}]}`)
	rt := newTestRuntime(t, fleet, stdioConfig("data"))

	first, err := rt.GetResource(context.Background(), "data", "data://users")
	require.NoError(t, err)
	require.Len(t, first.Contents, 1)

	_, err = rt.GetResource(context.Background(), "data", "data://users")
	require.NoError(t, err)
	assert.Equal(t, 1, fleet.server("data").callCount(protocol.MethodReadResource))

	// The first fill also subscribed for invalidation.
	assert.Equal(t, 1, fleet.server("data").callCount(protocol.MethodSubscribeResource))
}

func TestRuntimeResourceUpdatedInvalidatesCache(t *testing.T) {
	fleet := newFakeFleet()
	rt := newTestRuntime(t, fleet, stdioConfig("data"))

	_, err := rt.GetResource(context.Background(), "data", "data://users")
	require.NoError(t, err)

	require.NoError(t, fleet.server("data").pushNotification(
		protocol.NotificationResourceUpdated, protocol.ResourceUpdatedParams{URI: "data://users"}))

	_, err = rt.GetResource(context.Background(), "data", "data://users")
	require.NoError(t, err)
	assert.Equal(t, 2, fleet.server("data").callCount(protocol.MethodReadResource))
}

func TestRuntimeSubscribeReceivesEvents(t *testing.T) {
	fleet := newFakeFleet()
	rt := newTestRuntime(t, fleet, stdioConfig("calc"))

	events := make(chan Event, 1)
	sub := rt.Subscribe(func(event Event) error {
		events <- event
		return nil
	}, TypeToolsListChanged)
	defer rt.Unsubscribe(sub)

	require.NoError(t, fleet.server("calc").pushNotification(protocol.NotificationToolsListChanged, nil))

	select {
	case event := <-events:
		assert.Equal(t, "calc", event.Server)
		assert.Equal(t, TypeToolsListChanged, event.Type)
	case <-time.After(time.Second):
		t.Fatal("notification never reached the subscriber")
	}
}

func TestRuntimeExecuteConcurrent(t *testing.T) {
	fleet := newFakeFleet()
	fleet.server("calc").setResult(protocol.MethodCallTool, `{"content":[{"type":"text","text":"done"}]}`)
	fleet.server("data").setResult(protocol.MethodCallTool, `{"content":[{"type":"text","text":"done"}]}`)
	rt := newTestRuntime(t, fleet, stdioConfig("calc"), stdioConfig("data"))

	results := rt.ExecuteBatch(context.Background(), []ToolCall{
		{Server: "calc", Tool: "add", Arguments: map[string]interface{}{"a": 1, "b": 2}},
		{Server: "data", Tool: "get_users"},
	})

	require.Len(t, results, 2)
	for _, result := range results {
		assert.Equal(t, ExecutionSuccess, result.Status, result.Tool)
	}
}

func TestRuntimeListToolsAggregates(t *testing.T) {
	fleet := newFakeFleet()
	fleet.server("calc").setResult(protocol.MethodListTools, `{"tools":[{"name":"add"},{"name":"subtract"}]}`)
	fleet.server("data").setResult(protocol.MethodListTools, `{"tools":[{"name":"get_users"}]}`)
	rt := newTestRuntime(t, fleet, stdioConfig("calc"), stdioConfig("data"))

	tools, err := rt.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Len(t, tools["calc"], 2)
	assert.Len(t, tools["data"], 1)
}

func TestRuntimeDisconnectDropsCachedResources(t *testing.T) {
	fleet := newFakeFleet()
	rt := newTestRuntime(t, fleet, stdioConfig("data"))

	_, err := rt.GetResource(context.Background(), "data", "data://users")
	require.NoError(t, err)
	assert.Equal(t, 1, rt.CacheStats().Entries)

	require.NoError(t, rt.Disconnect("data"))
	assert.Equal(t, 0, rt.CacheStats().Entries)
}

func TestRuntimeStartClose(t *testing.T) {
	fleet := newFakeFleet()
	rt := New(Options{TransportFactory: fleet.factory})
	rt.Start()
	rt.Close()
}
