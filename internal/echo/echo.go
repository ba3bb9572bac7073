// Package echo is the seed-scenario fixture from spec.md §8: a SayHello
// unary method and a SayHelloSlowly server-streaming method, replacing
// the teacher's ktr0731/grpc-test fixture (see DESIGN.md for why that
// dependency was dropped). Message types carry a single string field, so
// the wire codec below is a direct stand-in for the protobuf codec the
// core treats as an opaque collaborator.
package echo

import (
	"fmt"
	"strings"
	"time"

	"github.com/grpcwebgo/grpcweb/grpcwebserver"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
)

// HelloRequest is the SayHello/SayHelloSlowly request message.
type HelloRequest struct {
	Name string
}

// HelloReply is the SayHello/SayHelloSlowly response message.
type HelloReply struct {
	Message string
}

// Codec implements grpcwebserver.Codec for HelloRequest/HelloReply: the
// wire representation is just the string field's raw UTF-8 bytes, with no
// framing of its own beyond the gRPC-Web message frame that already
// carries a length.
type Codec struct{}

// Name reports the content-subtype this codec serializes, used to build
// the response Content-Type header.
func (Codec) Name() string { return "echo" }

// Marshal implements grpcwebserver.Codec.
func (Codec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case *HelloRequest:
		return []byte(m.Name), nil
	case *HelloReply:
		return []byte(m.Message), nil
	default:
		return nil, fmt.Errorf("echo: unsupported message type %T", v)
	}
}

// Unmarshal implements grpcwebserver.Codec.
func (Codec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case *HelloRequest:
		m.Name = string(data)
		return nil
	case *HelloReply:
		m.Message = string(data)
		return nil
	default:
		return fmt.Errorf("echo: unsupported message type %T", v)
	}
}

const (
	sayHelloPath       = "/grpcweb.test.Greeter/SayHello"
	sayHelloSlowlyPath = "/grpcweb.test.Greeter/SayHelloSlowly"
)

// NewService builds the echo ServiceDesc with SayHello and SayHelloSlowly.
// A request named "__abort__" triggers ctx.Abort on either method, which
// serves the explicit-abort seed scenario, so a single fixture exercises
// scenarios 1, 2, 3, and 6 from spec.md §8.
func NewService() *grpcwebserver.ServiceDesc {
	svc := grpcwebserver.NewServiceDesc()

	svc.RegisterMethod(&grpcwebserver.MethodDesc{
		Path:  sayHelloPath,
		Codec: Codec{},
		NewRequest: func() any {
			return &HelloRequest{}
		},
		Unary: sayHello,
	})

	svc.RegisterMethod(&grpcwebserver.MethodDesc{
		Path:              sayHelloSlowlyPath,
		ResponseStreaming: true,
		Codec:             Codec{},
		NewRequest: func() any {
			return &HelloRequest{}
		},
		Stream: sayHelloSlowly,
	})

	return svc
}

func echoRequestedMetadata(ctx *grpcwebserver.ServerContext) {
	md := ctx.InvocationMetadata()
	if vs := md.Get("x-grpc-test-echo-initial"); len(vs) > 0 {
		_ = ctx.SendInitialMetadata(metadata.Pairs("x-grpc-test-echo-initial", vs[0]))
	}
	if vs := md.Get("x-grpc-test-echo-trailing-bin"); len(vs) > 0 {
		ctx.SetTrailingMetadata(metadata.Pairs("x-grpc-test-echo-trailing-bin", vs[0]))
	}
}

func sayHello(ctx *grpcwebserver.ServerContext, req any) (any, error) {
	r := req.(*HelloRequest)
	if r.Name == "__abort__" {
		ctx.Abort(codes.Aborted, "test aborting")
	}
	echoRequestedMetadata(ctx)
	return &HelloReply{Message: "Hello, " + r.Name + "!"}, nil
}

// slowPrefix, stripped from the request name before building the reply,
// makes each per-character message wait a second before being sent — used
// by the server-deadline-on-streaming seed scenario (spec.md §8 item 5).
const slowPrefix = "__slow__"

func sayHelloSlowly(ctx *grpcwebserver.ServerContext, req any, send func(any) error) error {
	r := req.(*HelloRequest)
	if r.Name == "__abort__" {
		ctx.Abort(codes.Aborted, "test aborting")
	}
	echoRequestedMetadata(ctx)

	name := r.Name
	perMessageDelay := time.Duration(0)
	if strings.HasPrefix(name, slowPrefix) {
		name = strings.TrimPrefix(name, slowPrefix)
		perMessageDelay = time.Second
	}

	msg := "Hello, " + name + "!"
	for _, ch := range msg {
		select {
		case <-ctx.Context().Done():
			return ctx.Context().Err()
		case <-time.After(perMessageDelay):
		}
		if err := send(&HelloReply{Message: string(ch)}); err != nil {
			return err
		}
	}
	return nil
}
