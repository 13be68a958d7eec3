package runtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/conduitproj/conduit/logx"
	"github.com/conduitproj/conduit/protocol"
)

// NotificationType is the dispatch tag derived from a wire method name.
type NotificationType string

const (
	TypeToolsListChanged     NotificationType = "tools_list_changed"
	TypeResourcesListChanged NotificationType = "resources_list_changed"
	TypeResourceUpdated      NotificationType = "resource_updated"
	TypePromptsListChanged   NotificationType = "prompts_list_changed"
	TypeProgress             NotificationType = "progress"
)

// TypeForMethod maps a wire method to its dispatch tag.
func TypeForMethod(method string) (NotificationType, bool) {
	switch method {
	case protocol.NotificationToolsListChanged:
		return TypeToolsListChanged, true
	case protocol.NotificationResourcesListChanged:
		return TypeResourcesListChanged, true
	case protocol.NotificationResourceUpdated:
		return TypeResourceUpdated, true
	case protocol.NotificationPromptsListChanged:
		return TypePromptsListChanged, true
	case protocol.NotificationProgress:
		return TypeProgress, true
	}
	return "", false
}

// Event is one server notification after type mapping.
type Event struct {
	Server string
	Type   NotificationType
	Method string
	Params json.RawMessage
}

// HandlerFunc consumes one event. A returned error is logged and does not
// stop dispatch to other handlers.
type HandlerFunc func(event Event) error

// Subscription is the handle returned by Register, used to unregister.
type Subscription struct {
	id      string
	types   map[NotificationType]bool
	fn      HandlerFunc
	cleanup func()
}

// Registry fans server notifications out to registered handlers. Dispatch is
// sequential per event so each handler sees events in arrival order.
type Registry struct {
	logger logx.Logger

	mu   sync.Mutex
	subs map[string]*Subscription
}

// NewRegistry creates an empty registry.
func NewRegistry(logger logx.Logger) *Registry {
	if logger == nil {
		logger = logx.NewNilLogger()
	}
	return &Registry{
		logger: logger,
		subs:   make(map[string]*Subscription),
	}
}

// Register associates a handler with one or more notification types.
func (r *Registry) Register(fn HandlerFunc, types ...NotificationType) *Subscription {
	return r.RegisterWithCleanup(fn, nil, types...)
}

// RegisterWithCleanup additionally runs cleanup when the subscription is
// removed.
func (r *Registry) RegisterWithCleanup(fn HandlerFunc, cleanup func(), types ...NotificationType) *Subscription {
	sub := &Subscription{
		id:      uuid.NewString(),
		types:   make(map[NotificationType]bool, len(types)),
		fn:      fn,
		cleanup: cleanup,
	}
	for _, t := range types {
		sub.types[t] = true
	}

	r.mu.Lock()
	r.subs[sub.id] = sub
	r.mu.Unlock()
	return sub
}

// Unregister removes a subscription and invokes its cleanup hook.
func (r *Registry) Unregister(sub *Subscription) {
	if sub == nil {
		return
	}
	r.mu.Lock()
	_, registered := r.subs[sub.id]
	delete(r.subs, sub.id)
	r.mu.Unlock()

	if registered && sub.cleanup != nil {
		sub.cleanup()
	}
}

// Dispatch maps the wire method to a type tag and invokes every matching
// handler sequentially. Unknown methods are logged and dropped. A handler
// error never stops dispatch to the remaining handlers.
func (r *Registry) Dispatch(server, method string, params json.RawMessage) {
	tag, known := TypeForMethod(method)
	if !known {
		r.logger.Debug("dropping unknown notification %s from %s", method, server)
		return
	}

	r.mu.Lock()
	matched := make([]*Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		if sub.types[tag] {
			matched = append(matched, sub)
		}
	}
	r.mu.Unlock()

	event := Event{Server: server, Type: tag, Method: method, Params: params}
	for _, sub := range matched {
		if err := sub.fn(event); err != nil {
			r.logger.Warn("notification handler error for %s from %s: %v", method, server, err)
		}
	}
}
