// Package conduit is a client runtime for the Model Context Protocol (MCP):
// it discovers, connects to, health-checks, and invokes capabilities on a
// dynamic set of independently running MCP servers reachable over stdio
// subprocesses, Server-Sent Events, or WebSocket.
//
// # Organization
//
//   - github.com/conduitproj/conduit/protocol: the JSON-RPC 2.0 message set
//     and codec, no I/O.
//   - github.com/conduitproj/conduit/client: per-server clients: the
//     process supervisor for stdio servers, the three transports, request
//     correlation, and typed wrappers for the MCP method set.
//   - github.com/conduitproj/conduit/runtime: the multi-server layer: the
//     bounded-concurrency connection orchestrator, the health monitor with
//     auto-quarantine, the concurrent tool executor with safety scheduling,
//     the resource cache, and the notification registry.
//   - github.com/conduitproj/conduit/logx: the small logging interface the
//     other packages share.
//
// # Basic usage
//
//	configs, err := client.LoadServerConfigs("mcp_servers.json")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	rt := runtime.New(runtime.Options{Logger: logx.NewDefaultLogger()})
//	rt.Start()
//	defer rt.Close()
//
//	rt.Connect(ctx, configs)
//
//	result, err := rt.CallTool(ctx, "calculator", "add",
//		map[string]interface{}{"a": 2, "b": 2})
//
// Batches of tool calls run through the executor, which classifies each tool
// as safe or unsafe for concurrency and schedules accordingly:
//
//	results := rt.ExecuteBatch(ctx, []runtime.ToolCall{
//		{Server: "files", Tool: "read_file", Arguments: args1},
//		{Server: "files", Tool: "write_file", Arguments: args2},
//	})
//
// Resource reads go through a TTL/LRU cache with subscription-driven
// invalidation:
//
//	data, err := rt.GetResource(ctx, "data", "data://users")
package conduit
