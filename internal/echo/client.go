package echo

import (
	"context"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/mem"

	"github.com/grpcwebgo/grpcweb/grpcweb"
)

// ClientCodec is the client-side counterpart of Codec: it implements
// encoding.CodecV2, the interface grpcweb.ClientConn's call options select
// a codec through (see grpcweb/option.go's CallContentSubtype). The
// server's Codec and the client's ClientCodec serialize the same way; they
// are two types only because grpcwebserver.Codec and encoding.CodecV2 have
// incompatible Marshal/Unmarshal signatures.
type ClientCodec struct{}

func init() {
	encoding.RegisterCodecV2(ClientCodec{})
}

// Name implements encoding.CodecV2.
func (ClientCodec) Name() string { return "echo" }

// Marshal implements encoding.CodecV2.
func (ClientCodec) Marshal(v any) (mem.BufferSlice, error) {
	var raw []byte
	switch m := v.(type) {
	case *HelloRequest:
		raw = []byte(m.Name)
	case *HelloReply:
		raw = []byte(m.Message)
	default:
		return nil, fmt.Errorf("echo: unsupported message type %T", v)
	}
	return mem.BufferSlice{mem.NewBuffer(&raw, nil)}, nil
}

// Unmarshal implements encoding.CodecV2.
func (ClientCodec) Unmarshal(data mem.BufferSlice, v any) error {
	raw, err := io.ReadAll(data.Reader())
	if err != nil {
		return err
	}
	switch m := v.(type) {
	case *HelloRequest:
		m.Name = string(raw)
		return nil
	case *HelloReply:
		m.Message = string(raw)
		return nil
	default:
		return fmt.Errorf("echo: unsupported message type %T", v)
	}
}

// Client is a hand-written stand-in for a generated gRPC-Web client stub,
// following the shape grpcweb.ClientConn.Invoke/NewStream expect: one
// method per RPC, built on the channel's Multicallable-shaped API.
type Client struct {
	cc *grpcweb.ClientConn
}

// NewClient wraps cc.
func NewClient(cc *grpcweb.ClientConn) *Client {
	return &Client{cc: cc}
}

func withEchoCodec(opts []grpcweb.CallOption) []grpcweb.CallOption {
	return append([]grpcweb.CallOption{grpcweb.CallContentSubtype("echo")}, opts...)
}

// SayHello performs the unary_unary SayHello call.
func (c *Client) SayHello(ctx context.Context, req *HelloRequest, opts ...grpcweb.CallOption) (*HelloReply, error) {
	reply := &HelloReply{}
	if err := c.cc.Invoke(ctx, sayHelloPath, req, reply, withEchoCodec(opts)...); err != nil {
		return nil, err
	}
	return reply, nil
}

var sayHelloSlowlyDesc = &grpc.StreamDesc{
	StreamName:    "SayHelloSlowly",
	ServerStreams: true,
}

// SayHelloSlowly opens the unary_stream SayHelloSlowly call and sends its
// single request frame, returning a stream the caller then drains with
// RecvMsg until io.EOF.
func (c *Client) SayHelloSlowly(ctx context.Context, req *HelloRequest, opts ...grpcweb.CallOption) (grpcweb.ServerStream, error) {
	stream, err := c.cc.NewStream(ctx, sayHelloSlowlyDesc, sayHelloSlowlyPath, withEchoCodec(opts)...)
	if err != nil {
		return nil, err
	}
	if err := stream.Send(req); err != nil {
		return nil, err
	}
	return stream, nil
}
