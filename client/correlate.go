package client

import (
	"fmt"
	"sync"

	"github.com/conduitproj/conduit/logx"
	"github.com/conduitproj/conduit/protocol"
)

// pendingTable correlates outbound request ids to the channels of waiting
// callers. Each transport owns exactly one table; entries are removed by the
// caller that registered them, or when the table is failed wholesale on
// transport death.
type pendingTable struct {
	m sync.Map // map[string]chan *protocol.JSONRPCResponse
}

// key normalizes a request id for lookup. Outbound ids are int64 while
// decoded inbound ids arrive as float64; formatting both through %v yields
// the same text for integral values.
func (pt *pendingTable) key(id interface{}) string {
	return fmt.Sprintf("%v", id)
}

// register creates and stores the response channel for a request id.
func (pt *pendingTable) register(id interface{}) chan *protocol.JSONRPCResponse {
	ch := make(chan *protocol.JSONRPCResponse, 1)
	pt.m.Store(pt.key(id), ch)
	return ch
}

// remove forgets a request id.
func (pt *pendingTable) remove(id interface{}) {
	pt.m.Delete(pt.key(id))
}

// resolve delivers a response to its waiting caller, if any.
func (pt *pendingTable) resolve(resp *protocol.JSONRPCResponse, logger logx.Logger) {
	id := pt.key(resp.ID)
	v, ok := pt.m.Load(id)
	if !ok {
		logger.Debug("no pending request for response id %s", id)
		return
	}
	select {
	case v.(chan *protocol.JSONRPCResponse) <- resp:
	default:
		logger.Warn("response channel for id %s is full", id)
	}
}
