package grpcweb

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/mem"
	"google.golang.org/grpc/metadata"

	"github.com/grpcwebgo/grpcweb/grpcweb/transport"
	"github.com/grpcwebgo/grpcweb/protocol"
)

// ServerStream is the client-facing handle for a unary_stream call: one
// request frame out, a sequence of message frames in, terminated by one
// trailer frame. spec.md §1/§4.8 only wires server-streaming end to end
// over this transport, so it is the only Stream kind with a working
// implementation; client-streaming and bidi are rejected by NewStream.
type ServerStream interface {
	// Send writes the single request frame. It must be called exactly
	// once, before the first RecvMsg.
	Send(req any) error
	// Header returns the response header metadata, blocking until the
	// response headers have arrived.
	Header() (metadata.MD, error)
	// Trailer returns the trailer metadata. Only meaningful after RecvMsg
	// has returned a non-nil error (including io.EOF).
	Trailer() metadata.MD
	// Context returns the context associated with the stream.
	Context() context.Context
	// RecvMsg decodes the next message into m. It returns io.EOF once the
	// trailer frame has been consumed, or an *RpcError if the effective
	// status was non-OK.
	RecvMsg(m any) error
}

// NewStream dispatches by streaming kind, the way grpc.ClientConn.NewStream
// does. Only server-streaming is implemented end to end: client-streaming
// and bidirectional descriptors fail fast with UNIMPLEMENTED, per
// spec.md §1/§4.8.
func (c *ClientConn) NewStream(ctx context.Context, desc *grpc.StreamDesc, method string, opts ...CallOption) (ServerStream, error) {
	switch {
	case desc.ClientStreams:
		return nil, NewRpcError(codes.Unimplemented, ErrUnimplementedStreamKind.Error())
	case desc.ServerStreams:
		return c.newServerStream(ctx, method, opts...)
	default:
		return nil, errors.New("grpcweb: StreamDesc declares neither client nor server streaming")
	}
}

func (c *ClientConn) newServerStream(ctx context.Context, method string, opts ...CallOption) (ServerStream, error) {
	tr, err := transport.NewUnary(c.host, c.connectOptions()...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create a new unary transport")
	}

	return &serverStream{
		ctx:         ctx,
		endpoint:    method,
		transport:   tr,
		callOptions: c.applyCallOptions(opts),
		userAgent:   c.dialOptions.userAgent,
	}, nil
}

type serverStream struct {
	ctx         context.Context
	endpoint    string
	transport   transport.UnaryTransport
	callOptions *callOptions
	userAgent   string

	sendOnce sync.Once
	sendErr  error

	dec    *protocol.StreamDecoder
	body   io.ReadCloser
	closed atomic.Bool
	header metadata.MD

	trailerMu sync.RWMutex
	trailer   metadata.MD
}

func (s *serverStream) Send(req any) error {
	s.sendOnce.Do(func() {
		codec := s.callOptions.codec

		body, err := encodeRequestFrame(codec, req)
		if err != nil {
			s.sendErr = errors.Wrap(err, "failed to build the request body")
			return
		}

		s.applyRequestHeaders()

		contentType := "application/grpc-web+" + codec.Name()
		header, rawBody, err := s.transport.Send(s.ctx, s.endpoint, contentType, body)
		if err != nil {
			if rerr := classifyTransportError(err); rerr != nil {
				s.sendErr = rerr
				return
			}
			s.sendErr = errors.Wrap(err, "failed to send the request")
			return
		}

		s.header = toMetadata(header)
		s.body = rawBody
		s.dec = protocol.NewStreamDecoder(rawBody)
	})
	return s.sendErr
}

func (s *serverStream) applyRequestHeaders() {
	h := s.transport.Header()
	h.Set("x-user-agent", s.userAgent)
	if s.callOptions.timeout != nil {
		h.Set("grpc-timeout", protocol.EncodeTimeout(*s.callOptions.timeout))
	}
	if md, ok := metadata.FromOutgoingContext(s.ctx); ok {
		for k, vs := range md {
			for _, v := range vs {
				if protocol.IsBinKey(k) {
					h.Add(k, protocol.EncodeBinValue([]byte(v)))
				} else {
					h.Add(k, v)
				}
			}
		}
	}
}

func (s *serverStream) Header() (metadata.MD, error) {
	if s.header == nil {
		if err := s.Send(nil); err != nil {
			return nil, err
		}
	}
	return s.header, nil
}

func (s *serverStream) Trailer() metadata.MD {
	s.trailerMu.RLock()
	defer s.trailerMu.RUnlock()
	return s.trailer
}

func (s *serverStream) Context() context.Context {
	return s.ctx
}

func (s *serverStream) RecvMsg(m any) error {
	if s.closed.Load() {
		return io.EOF
	}
	if s.dec == nil {
		return errors.New("grpcweb: Send must be called before RecvMsg")
	}

	frame, err := s.dec.Next()
	if errors.Is(err, io.EOF) {
		s.finish()
		code, details, statusMD := effectiveStatus(s.header, s.Trailer())
		if code != codes.OK {
			return newRpcErrorFromMetadata(code, details, statusMD)
		}
		return io.EOF
	}
	if err != nil {
		s.finish()
		return err
	}

	if frame.Trailer {
		s.trailerMu.Lock()
		s.trailer = toMetadataFromTrailer(frame.Payload)
		s.trailerMu.Unlock()
		s.finish()

		code, details, statusMD := effectiveStatus(s.header, s.Trailer())
		if code != codes.OK {
			return newRpcErrorFromMetadata(code, details, statusMD)
		}
		return io.EOF
	}

	codec := s.callOptions.codec
	payload := frame.Payload
	if err := codec.Unmarshal([]mem.Buffer{mem.NewBuffer(&payload, nil)}, m); err != nil {
		return errors.Wrap(err, "failed to unmarshal response body")
	}
	return nil
}

func (s *serverStream) finish() {
	if s.closed.CompareAndSwap(false, true) {
		s.body.Close()
	}
}
