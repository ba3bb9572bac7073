// Package grpcweb implements the client half of gRPC-Web: a ClientConn
// that POSTs a single request frame per call and decodes the response as a
// sequence of message frames terminated by a trailer frame. Grounded on
// the teacher's own grpcweb package and on sonora/client.py's WebChannel.
package grpcweb

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/mem"
	"google.golang.org/grpc/metadata"

	"github.com/grpcwebgo/grpcweb/grpcweb/transport"
	"github.com/grpcwebgo/grpcweb/protocol"
)

// ErrUnimplementedStreamKind's message is the details string of the
// Unimplemented *RpcError that NewStream returns when the stream descriptor
// requires client-streaming or bidirectional streaming:
// spec.md §1 and §4.8 make both a Non-goal over this transport.
var ErrUnimplementedStreamKind = errors.New("grpcweb: client-streaming and bidirectional RPCs are unimplemented over gRPC-Web")

// ClientConn is a gRPC-Web channel: it owns no long-lived connection of
// its own, only host/dial configuration, and builds one HTTP transport per
// call the way the teacher's ClientConn does.
type ClientConn struct {
	host        string
	dialOptions *dialOptions
}

// NewClient is the insecure_web_channel / WebChannel factory from
// spec.md §4.8: it constructs a ClientConn bound to base URL host.
func NewClient(host string, opts ...DialOption) (*ClientConn, error) {
	opt := defaultDialOptions
	for _, o := range opts {
		o(&opt)
	}

	return &ClientConn{host: host, dialOptions: &opt}, nil
}

// Invoke performs a single unary_unary RPC: it marshals args with the
// selected codec, wraps it in a request frame, and decodes the response
// into reply. It implements the spec's "Client success iff status 0"
// property: reply is populated only when the effective grpc-status is OK.
func (c *ClientConn) Invoke(ctx context.Context, method string, args, reply any, opts ...CallOption) error {
	callOptions := c.applyCallOptions(opts)
	codec := callOptions.codec

	if callOptions.timeout != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(*callOptions.timeout*float64(time.Second)))
		defer cancel()
	}

	tr, err := transport.NewUnary(c.host, c.connectOptions()...)
	if err != nil {
		return errors.Wrap(err, "failed to create a new unary transport")
	}
	defer tr.Close()

	body, err := encodeRequestFrame(codec, args)
	if err != nil {
		return errors.Wrap(err, "failed to build the request body")
	}

	c.applyRequestHeaders(ctx, tr.Header(), callOptions)

	contentType := "application/grpc-web+" + codec.Name()
	header, rawBody, err := tr.Send(ctx, method, contentType, body)
	if err != nil {
		if rerr := classifyTransportError(err); rerr != nil {
			return rerr
		}
		return errors.Wrap(err, "failed to send the request")
	}
	defer rawBody.Close()

	headerMD := toMetadata(header)

	if callOptions.header != nil {
		*callOptions.header = headerMD
	}

	msg, trailerMD, rerr := decodeUnaryBody(rawBody)
	if callOptions.trailer != nil && trailerMD != nil {
		*callOptions.trailer = trailerMD
	}
	if rerr != nil {
		return errors.Wrap(rerr, "failed to decode the response body")
	}

	code, details, statusMD := effectiveStatus(headerMD, trailerMD)
	if code != codes.OK {
		if len(statusMD.Get("grpc-status-details-bin")) == 0 {
			statusMD = trailerMD
		}
		return newRpcErrorFromMetadata(code, details, statusMD)
	}

	if msg == nil {
		return NewRpcError(codes.Unknown, "server returned no message on an OK unary response")
	}

	if err := codec.Unmarshal([]mem.Buffer{mem.NewBuffer(&msg, nil)}, reply); err != nil {
		return errors.Wrapf(err, "failed to unmarshal response body by codec %s", codec.Name())
	}

	return nil
}

// decodeUnaryBody reads a unary response body: zero-or-one message frame
// optionally followed by one trailer frame, per spec.md §4.6's "Open
// question: unary trailers" — a unary response may carry a trailer frame
// in addition to, or in place of, a message frame.
func decodeUnaryBody(rawBody io.Reader) ([]byte, metadata.MD, error) {
	dec := protocol.NewStreamDecoder(rawBody)

	var msg []byte
	haveMsg := false

	for {
		frame, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return msgIfAny(haveMsg, msg), nil, nil
		}
		if err != nil {
			return nil, nil, err
		}

		if frame.Trailer {
			return msgIfAny(haveMsg, msg), toMetadataFromTrailer(frame.Payload), nil
		}

		if haveMsg {
			return nil, nil, errors.New("unexpected second message frame in unary response")
		}
		msg = frame.Payload
		haveMsg = true
	}
}

func msgIfAny(have bool, msg []byte) []byte {
	if !have {
		return nil
	}
	return msg
}

func toMetadataFromTrailer(payload []byte) metadata.MD {
	md := metadata.New(nil)
	for _, p := range protocol.UnpackTrailers(payload) {
		v := p.Value
		if protocol.IsBinKey(p.Key) {
			if raw, err := protocol.DecodeBinValue(v); err == nil {
				v = string(raw)
			}
		}
		md.Append(p.Key, v)
	}
	return md
}

// effectiveStatus prefers grpc-status carried in the HTTP response
// headers; when absent, it falls back to the trailer frame, per
// spec.md §4.8. It also returns whichever metadata the status was read
// from, so callers can recover a richer google.rpc.Status from
// grpc-status-details-bin when the server sent one.
func effectiveStatus(header, trailer metadata.MD) (codes.Code, string, metadata.MD) {
	if len(header.Get("grpc-status")) > 0 {
		code, details := parseStatus(header)
		return code, details, header
	}
	code, details := parseStatus(trailer)
	return code, details, trailer
}

func parseStatus(md metadata.MD) (codes.Code, string) {
	if md == nil {
		return codes.Unknown, "incomplete stream"
	}

	gs := md.Get("grpc-status")
	if len(gs) == 0 {
		return codes.Unknown, "incomplete stream"
	}

	n, err := strconv.ParseUint(gs[0], 10, 32)
	if err != nil {
		return codes.Unknown, "unknown status code " + gs[0]
	}

	details := ""
	if gm := md.Get("grpc-message"); len(gm) > 0 {
		details = protocol.DecodeGRPCMessage(gm[0])
	}

	return codes.Code(n), details
}

// classifyTransportError maps a transport-level failure to an *RpcError
// per spec.md §4.8/§4.9: a client deadline firing on the underlying HTTP
// request surfaces as DeadlineExceeded; an HTTP-layer rejection before any
// gRPC-Web framing could be produced surfaces as Unavailable. It returns
// nil when err is not one of these recognized transport failures, leaving
// the caller to wrap it generically.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewRpcError(codes.DeadlineExceeded, "request timed out at the client")
	}
	if errors.Is(err, transport.ErrInvalidResponseCode) {
		return NewRpcError(codes.Unavailable, err.Error())
	}
	return nil
}

func (c *ClientConn) applyCallOptions(opts []CallOption) *callOptions {
	callOpts := append(append([]CallOption{}, c.dialOptions.defaultCallOptions...), opts...)
	callOptions := defaultCallOptions
	for _, o := range callOpts {
		o(&callOptions)
	}
	return &callOptions
}

func (c *ClientConn) connectOptions() []transport.ConnectOption {
	connOpts := make([]transport.ConnectOption, 0, 3)
	if c.dialOptions.insecure {
		connOpts = append(connOpts, transport.WithInsecure())
	}
	if c.dialOptions.tlsConf != nil {
		connOpts = append(connOpts, transport.WithTLSConfig(c.dialOptions.tlsConf))
	}
	if c.dialOptions.httpClient != nil {
		connOpts = append(connOpts, transport.WithHTTPClient(c.dialOptions.httpClient))
	}
	return connOpts
}

func (c *ClientConn) applyRequestHeaders(ctx context.Context, h http.Header, opts *callOptions) {
	h.Set("x-user-agent", c.dialOptions.userAgent)

	if opts.timeout != nil {
		h.Set("grpc-timeout", protocol.EncodeTimeout(*opts.timeout))
	}

	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		return
	}
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

func encodeRequestFrame(codec encoding.CodecV2, in any) (io.Reader, error) {
	body, err := codec.Marshal(in)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal the request body")
	}
	defer body.Free()

	payload, err := io.ReadAll(body.Reader())
	if err != nil {
		return nil, errors.Wrap(err, "failed to read marshaled request body")
	}

	framed, err := protocol.Wrap(false, false, payload)
	if err != nil {
		return nil, err
	}

	return bytes.NewReader(framed), nil
}

func toMetadata(h http.Header) metadata.MD {
	if len(h) == 0 {
		return nil
	}
	md := metadata.New(nil)
	for k, vs := range h {
		for _, v := range vs {
			if protocol.IsBinKey(k) {
				if raw, err := protocol.DecodeBinValue(v); err == nil {
					md.Append(k, string(raw))
					continue
				}
			}
			md.Append(k, v)
		}
	}
	return md
}
