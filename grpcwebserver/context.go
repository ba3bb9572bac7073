package grpcwebserver

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/atomic"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
)

// abortSignal is the control-flow value ServerContext.Abort panics with.
// The engine's per-call recover distinguishes it from any other user
// panic, per spec.md §3's "raises a control-flow signal that unwinds the
// handler without further response bytes being produced by it".
type abortSignal struct {
	code    codes.Code
	details string
}

// ServerContext is the per-invocation mutable record from spec.md §4.7. It
// is touched only by the goroutine running its handler; the engine reads
// its terminal fields after the handler returns or is recovered from.
type ServerContext struct {
	ctx    context.Context
	cancel context.CancelFunc

	invocationMD metadata.MD

	mu          sync.Mutex
	code        codes.Code
	details     string
	initialMD   metadata.MD
	trailingMD  metadata.MD
	headerSent  atomic.Bool
}

// newServerContext builds a ServerContext over parent, applying deadline if
// hasDeadline is set. invocationMD must not be mutated afterward.
func newServerContext(parent context.Context, deadline time.Time, hasDeadline bool, invocationMD metadata.MD) *ServerContext {
	var ctx context.Context
	var cancel context.CancelFunc
	if hasDeadline {
		ctx, cancel = context.WithDeadline(parent, deadline)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}

	return &ServerContext{
		ctx:          ctx,
		cancel:       cancel,
		invocationMD: invocationMD,
		code:         codes.OK,
	}
}

// Context returns the per-call context: cancelled on deadline expiry or
// when the engine detects the client has disconnected.
func (c *ServerContext) Context() context.Context {
	return c.ctx
}

// SetCode sets the call's terminal status code. It is OK until explicitly
// changed, per spec.md §4.7.
func (c *ServerContext) SetCode(code codes.Code) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.code = code
}

// Code returns the current status code.
func (c *ServerContext) Code() codes.Code {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code
}

// SetDetails sets the human-readable details string reported alongside
// Code.
func (c *ServerContext) SetDetails(details string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.details = details
}

// Details returns the current details string.
func (c *ServerContext) Details() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.details
}

// SendInitialMetadata queues md for delivery with the response start. It
// may be called at most once, and only before the first message frame has
// been written; calling it afterward returns an error.
func (c *ServerContext) SendInitialMetadata(md metadata.MD) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.headerSent.Load() {
		return errHeaderAlreadySent
	}
	c.initialMD = metadata.Join(c.initialMD, md)
	return nil
}

func (c *ServerContext) initialMetadata() metadata.MD {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialMD
}

func (c *ServerContext) markHeaderSent() {
	c.headerSent.Store(true)
}

// SetTrailingMetadata merges md into the metadata delivered with the
// trailer frame.
func (c *ServerContext) SetTrailingMetadata(md metadata.MD) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trailingMD = metadata.Join(c.trailingMD, md)
}

func (c *ServerContext) trailingMetadata() metadata.MD {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trailingMD
}

// InvocationMetadata returns the metadata the call was invoked with. It is
// immutable after construction.
func (c *ServerContext) InvocationMetadata() metadata.MD {
	return c.invocationMD
}

// TimeRemaining reports the seconds left before the call's deadline, or
// +Inf if no deadline was set. It monotonically decreases, per
// spec.md §4.7.
func (c *ServerContext) TimeRemaining() float64 {
	deadline, ok := c.ctx.Deadline()
	if !ok {
		return math.Inf(1)
	}
	remaining := time.Until(deadline).Seconds()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Abort sets the terminal (code, details) and unwinds the running handler
// via panic. code must not be codes.OK; a caller violating that still
// gets a non-OK terminal code (codes.Unknown) rather than silently
// reporting success.
func (c *ServerContext) Abort(code codes.Code, details string) {
	if code == codes.OK {
		code = codes.Unknown
	}
	c.SetCode(code)
	c.SetDetails(details)
	panic(abortSignal{code: code, details: details})
}

// AbortWithStatus is Abort taking a composed *status.Status, matching the
// abort_with_status entry point original hosts exposed alongside abort. When
// st carries structured details (e.g. status.WithDetails), they are encoded
// into the grpc-status-details-bin trailer so RpcError.StatusProto on the
// client can recover them.
func (c *ServerContext) AbortWithStatus(st *status.Status) {
	if sp := st.Proto(); len(sp.GetDetails()) > 0 {
		if raw, err := proto.Marshal(sp); err == nil {
			c.SetTrailingMetadata(metadata.Pairs("grpc-status-details-bin", string(raw)))
		}
	}
	c.Abort(st.Code(), st.Message())
}

func (c *ServerContext) release() {
	c.cancel()
}
