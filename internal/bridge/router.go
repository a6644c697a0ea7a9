package bridge

import (
	"encoding/json"
	"log/slog"
	"sort"
)

// NotificationHandler processes one inbound notification and returns the
// result to send back when the bridge expects a response.
type NotificationHandler func(params json.RawMessage) (interface{}, error)

// Router maps inbound method names to handlers.
type Router struct {
	handlers map[string]NotificationHandler
}

func NewRouter() *Router {
	return &Router{
		handlers: make(map[string]NotificationHandler),
	}
}

// Register adds a notification handler.
func (r *Router) Register(method string, handler NotificationHandler) {
	r.handlers[method] = handler
}

// Dispatch runs the handler for method. Unknown methods return ErrUnhandled
// without side effects.
func (r *Router) Dispatch(method string, params json.RawMessage) (interface{}, error) {
	handler, ok := r.handlers[method]
	if !ok {
		slog.Warn("unhandled bridge notification", "method", method)
		return nil, ErrUnhandled
	}
	slog.Debug("handling bridge notification", "method", method)
	return handler(params)
}

// Methods lists the registered method names in sorted order.
func (r *Router) Methods() []string {
	methods := make([]string, 0, len(r.handlers))
	for m := range r.handlers {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}
