package grpcwebserver

import "sync"

// UnaryHandler implements a unary_unary method: it receives the decoded
// request and the call's ServerContext, and returns the reply value.
type UnaryHandler func(ctx *ServerContext, req any) (any, error)

// StreamHandler implements a unary_stream method: it receives the decoded
// request and calls send once per outgoing message. send blocks until the
// message has been delivered to the engine's write loop or the call is
// torn down, in which case it returns the context's error.
type StreamHandler func(ctx *ServerContext, req any, send func(any) error) error

// MethodDesc is the immutable-after-registration method descriptor from
// spec.md §3: path, streaming kinds, and serializers. Exactly one of Unary
// or Stream is set, matching ResponseStreaming.
type MethodDesc struct {
	Path              string
	RequestStreaming  bool
	ResponseStreaming bool
	Codec             Codec
	NewRequest        func() any
	Unary             UnaryHandler
	Stream            StreamHandler
}

// GenericHandler is the registry's unit of registration: an object able to
// resolve a request path to a method descriptor, or report no match. This
// mirrors spec.md §4.5's "object with one operation: service(call_details)
// → method_descriptor | null" rather than any inheritance hierarchy.
type GenericHandler interface {
	Service(path string) (*MethodDesc, bool)
}

// ServiceRegistry holds generic handlers in registration order and probes
// them linearly on lookup, first match wins, the way spec.md §4.5
// specifies. Registration is safe to call concurrently with dispatch: a
// lookup reads a snapshot of the handler slice taken under RLock.
type ServiceRegistry struct {
	mu       sync.RWMutex
	handlers []GenericHandler
}

// NewServiceRegistry returns an empty registry.
func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{}
}

// Register appends h to the registry. Handlers registered after the
// server has served its first request still apply only to subsequent
// lookups, per spec.md §4.5.
func (r *ServiceRegistry) Register(h GenericHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, h)
}

// Lookup returns the first method descriptor any registered handler
// resolves path to, in registration order.
func (r *ServiceRegistry) Lookup(path string) (*MethodDesc, bool) {
	r.mu.RLock()
	snapshot := make([]GenericHandler, len(r.handlers))
	copy(snapshot, r.handlers)
	r.mu.RUnlock()

	for _, h := range snapshot {
		if d, ok := h.Service(path); ok {
			return d, true
		}
	}
	return nil, false
}

// ServiceDesc is a GenericHandler backed by a single service's methods,
// keyed by path. Registering the same path twice is idempotent: the first
// registration wins and the second call is silently ignored, satisfying
// spec.md §8's "Idempotence of registration" property.
type ServiceDesc struct {
	mu      sync.RWMutex
	methods map[string]*MethodDesc
}

// NewServiceDesc returns an empty ServiceDesc.
func NewServiceDesc() *ServiceDesc {
	return &ServiceDesc{methods: make(map[string]*MethodDesc)}
}

// RegisterMethod adds d under d.Path if no method is already registered
// there.
func (s *ServiceDesc) RegisterMethod(d *MethodDesc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.methods[d.Path]; exists {
		return
	}
	s.methods[d.Path] = d
}

// Service implements GenericHandler.
func (s *ServiceDesc) Service(path string) (*MethodDesc, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.methods[path]
	return d, ok
}
