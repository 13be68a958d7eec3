package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduitproj/conduit/logx"
	"github.com/conduitproj/conduit/protocol"
)

// sseTestServer is a minimal SSE-mode MCP endpoint: the GET stream announces
// the message endpoint and can push extra events; POSTs are answered inline.
type sseTestServer struct {
	srv    *httptest.Server
	events chan string
}

func newSSETestServer(t *testing.T, handlePost func(req *protocol.JSONRPCRequest) *protocol.JSONRPCResponse) *sseTestServer {
	t.Helper()
	s := &sseTestServer{events: make(chan string, 8)}

	mux := http.NewServeMux()
	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "event: endpoint\ndata: /message\n\n")
		flusher.Flush()

		for {
			select {
			case payload := <-s.events:
				fmt.Fprintf(w, "event: message\ndata: %s\n\n", payload)
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
	mux.HandleFunc("/message", func(w http.ResponseWriter, r *http.Request) {
		var req protocol.JSONRPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.ID == nil {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		resp := handlePost(&req)
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *sseTestServer) streamURL() string {
	return s.srv.URL + "/sse"
}

func TestSSETransportConnectAndRequest(t *testing.T) {
	server := newSSETestServer(t, func(req *protocol.JSONRPCRequest) *protocol.JSONRPCResponse {
		return &protocol.JSONRPCResponse{
			JSONRPC: protocol.JSONRPCVersion,
			ID:      req.ID,
			Result:  json.RawMessage(`{"tools":[{"name":"remote"}]}`),
		}
	})

	tr, err := NewSSETransport(server.streamURL(), logx.NewNilLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Connect(ctx))
	defer tr.Close()
	assert.True(t, tr.IsConnected())

	resp, err := tr.SendRequest(ctx, &protocol.JSONRPCRequest{
		JSONRPC: protocol.JSONRPCVersion,
		ID:      int64(1),
		Method:  protocol.MethodListTools,
	})
	require.NoError(t, err)

	var result protocol.ListToolsResult
	require.NoError(t, protocol.UnmarshalPayload(resp.Result, &result))
	require.Len(t, result.Tools, 1)
	assert.Equal(t, "remote", result.Tools[0].Name)
}

func TestSSETransportStreamNotification(t *testing.T) {
	server := newSSETestServer(t, nil)

	tr, err := NewSSETransport(server.streamURL(), logx.NewNilLogger())
	require.NoError(t, err)

	received := make(chan string, 1)
	tr.SetNotificationHandler(func(n *protocol.JSONRPCNotification) error {
		received <- n.Method
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Connect(ctx))
	defer tr.Close()

	server.events <- `{"jsonrpc":"2.0","method":"notifications/resources/updated","params":{"uri":"data://users"}}`

	select {
	case method := <-received:
		assert.Equal(t, protocol.NotificationResourceUpdated, method)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestSSETransportConnectRejectsNonStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	tr, err := NewSSETransport(srv.URL, logx.NewNilLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = tr.Connect(ctx)
	require.Error(t, err)
	assert.True(t, IsTransportError(err))
	assert.True(t, strings.Contains(err.Error(), "404") || strings.Contains(err.Error(), "status"))
}

func TestSSETransportAuthHeaders(t *testing.T) {
	sawAuth := make(chan string, 2)
	mux := http.NewServeMux()
	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		sawAuth <- r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "event: endpoint\ndata: /message\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tr, err := NewSSETransport(srv.URL+"/sse", logx.NewNilLogger(),
		WithTransportAuth(NewStaticTokenProvider("secret")))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Connect(ctx))
	defer tr.Close()

	assert.Equal(t, "Bearer secret", <-sawAuth)
}
