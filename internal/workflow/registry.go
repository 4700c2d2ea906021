package workflow

import "fmt"

// Registry maps steps to their handlers. It is built once all handlers
// exist and is read-only afterwards.
type Registry struct {
	handlers map[string]Handler
	order    []string
}

// NewRegistry indexes handlers by step.
func NewRegistry(handlers ...Handler) (*Registry, error) {
	r := &Registry{handlers: make(map[string]Handler, len(handlers))}
	for _, h := range handlers {
		step := h.Step()
		if step == "" {
			return nil, fmt.Errorf("workflow: handler %T has no step", h)
		}
		if _, dup := r.handlers[step]; dup {
			return nil, fmt.Errorf("workflow: duplicate handler for %s", step)
		}
		r.handlers[step] = h
		r.order = append(r.order, step)
	}
	return r, nil
}

// Get returns the handler of step.
func (r *Registry) Get(step string) (Handler, bool) {
	h, ok := r.handlers[step]
	return h, ok
}

// Steps lists registered steps in registration order.
func (r *Registry) Steps() []string {
	return append([]string(nil), r.order...)
}
