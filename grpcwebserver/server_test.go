package grpcwebserver_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/grpcwebgo/grpcweb/grpcweb"
	"github.com/grpcwebgo/grpcweb/grpcwebserver"
	"github.com/grpcwebgo/grpcweb/internal/echo"
)

func newTestServer(t *testing.T) (*echo.Client, func()) {
	t.Helper()

	srv := grpcwebserver.NewServer(zap.NewNop())
	srv.RegisterService(echo.NewService())

	ts := httptest.NewServer(srv)

	u, err := url.Parse(ts.URL)
	require.NoError(t, err)

	cc, err := grpcweb.NewClient(u.Host, grpcweb.WithInsecure())
	require.NoError(t, err)

	return echo.NewClient(cc), ts.Close
}

func TestEchoUnary(t *testing.T) {
	client, closeFn := newTestServer(t)
	defer closeFn()

	reply, err := client.SayHello(context.Background(), &echo.HelloRequest{Name: "world"})
	require.NoError(t, err)
	assert.Equal(t, "Hello, world!", reply.Message)
}

func TestEchoServerStreamingPerCharacter(t *testing.T) {
	client, closeFn := newTestServer(t)
	defer closeFn()

	stream, err := client.SayHelloSlowly(context.Background(), &echo.HelloRequest{Name: "world"})
	require.NoError(t, err)

	var sb strings.Builder
	for {
		reply := &echo.HelloReply{}
		err := stream.RecvMsg(reply)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		sb.WriteString(reply.Message)
	}

	assert.Equal(t, "Hello, world!", sb.String())
}

func TestEchoExplicitAbort(t *testing.T) {
	client, closeFn := newTestServer(t)
	defer closeFn()

	_, err := client.SayHello(context.Background(), &echo.HelloRequest{Name: "__abort__"})
	require.Error(t, err)

	rpcErr, ok := grpcweb.IsRpcError(err)
	require.True(t, ok)
	assert.Equal(t, codes.Aborted, rpcErr.Code())
	assert.Equal(t, "test aborting", rpcErr.Details())
}

func TestClientDeadlineOnUnary(t *testing.T) {
	client, closeFn := newTestServer(t)
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()

	_, err := client.SayHello(ctx, &echo.HelloRequest{Name: "world"})
	require.Error(t, err)

	rpcErr, ok := grpcweb.IsRpcError(err)
	require.True(t, ok)
	assert.Equal(t, codes.DeadlineExceeded, rpcErr.Code())
}

func TestServerDeadlineOnStreaming(t *testing.T) {
	client, closeFn := newTestServer(t)
	defer closeFn()

	stream, err := client.SayHelloSlowly(context.Background(), &echo.HelloRequest{Name: "__slow__world"}, grpcweb.Timeout(0.1))
	require.NoError(t, err)

	var lastErr error
	for {
		reply := &echo.HelloReply{}
		lastErr = stream.RecvMsg(reply)
		if lastErr != nil {
			break
		}
	}

	require.Error(t, lastErr)
	rpcErr, ok := grpcweb.IsRpcError(lastErr)
	require.True(t, ok)
	assert.Equal(t, codes.DeadlineExceeded, rpcErr.Code())
}

func TestMetadataEcho(t *testing.T) {
	client, closeFn := newTestServer(t)
	defer closeFn()

	ctx := metadata.AppendToOutgoingContext(context.Background(),
		"x-grpc-test-echo-initial", "honk",
		"x-grpc-test-echo-trailing-bin", string([]byte{0x00, 0x01, 0x02, 0x03}),
	)

	var header, trailer metadata.MD
	reply, err := client.SayHello(ctx, &echo.HelloRequest{Name: "world"}, grpcweb.Header(&header), grpcweb.Trailer(&trailer))
	require.NoError(t, err)
	assert.Equal(t, "Hello, world!", reply.Message)

	assert.Equal(t, []string{"honk"}, header.Get("x-grpc-test-echo-initial"))
	assert.Equal(t, []byte{0x00, 0x01, 0x02, 0x03}, []byte(trailer.Get("x-grpc-test-echo-trailing-bin")[0]))
}

func TestRegistrationIsIdempotent(t *testing.T) {
	svc := grpcwebserver.NewServiceDesc()

	called := 0
	svc.RegisterMethod(&grpcwebserver.MethodDesc{
		Path:  "/test/Method",
		Codec: echo.Codec{},
		NewRequest: func() any {
			return &echo.HelloRequest{}
		},
		Unary: func(ctx *grpcwebserver.ServerContext, req any) (any, error) {
			called = 1
			return &echo.HelloReply{}, nil
		},
	})
	svc.RegisterMethod(&grpcwebserver.MethodDesc{
		Path:  "/test/Method",
		Codec: echo.Codec{},
		NewRequest: func() any {
			return &echo.HelloRequest{}
		},
		Unary: func(ctx *grpcwebserver.ServerContext, req any) (any, error) {
			called = 2
			return &echo.HelloReply{}, nil
		},
	})

	desc, ok := svc.Service("/test/Method")
	require.True(t, ok)
	_, _ = desc.Unary(nil, &echo.HelloRequest{})
	assert.Equal(t, 1, called)
}

func TestServerFallback(t *testing.T) {
	srv := grpcwebserver.NewServer(zap.NewNop())
	srv.RegisterService(echo.NewService())
	srv.Fallback = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	ts := httptest.NewServer(srv)
	defer ts.Close()

	res, err := http.Get(ts.URL + "/no/such/method")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusTeapot, res.StatusCode)
}

func TestAbortWithStatusCarriesStructuredDetails(t *testing.T) {
	svc := grpcwebserver.NewServiceDesc()
	svc.RegisterMethod(&grpcwebserver.MethodDesc{
		Path:  "/test/AbortWithStatus",
		Codec: grpcwebserver.ProtoCodec{},
		NewRequest: func() any {
			return &wrapperspb.StringValue{}
		},
		Unary: func(ctx *grpcwebserver.ServerContext, req any) (any, error) {
			st, err := status.New(codes.InvalidArgument, "bad field").
				WithDetails(&errdetails.BadRequest{
					FieldViolations: []*errdetails.BadRequest_FieldViolation{
						{Field: "name", Description: "must not be empty"},
					},
				})
			require.NoError(t, err)
			ctx.AbortWithStatus(st)
			return nil, nil
		},
	})

	srv := grpcwebserver.NewServer(zap.NewNop())
	srv.RegisterService(svc)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	cc, err := grpcweb.NewClient(u.Host, grpcweb.WithInsecure())
	require.NoError(t, err)

	var reply wrapperspb.StringValue
	err = cc.Invoke(context.Background(), "/test/AbortWithStatus", &wrapperspb.StringValue{Value: "x"}, &reply, grpcweb.CallContentSubtype("proto"))
	require.Error(t, err)

	rpcErr, ok := grpcweb.IsRpcError(err)
	require.True(t, ok)
	assert.Equal(t, codes.InvalidArgument, rpcErr.Code())

	sp := rpcErr.StatusProto()
	require.NotNil(t, sp)
	require.Len(t, sp.GetDetails(), 1)

	var br errdetails.BadRequest
	require.NoError(t, sp.GetDetails()[0].UnmarshalTo(&br))
	require.Len(t, br.GetFieldViolations(), 1)
	assert.Equal(t, "name", br.GetFieldViolations()[0].GetField())
}

func TestUnimplementedStreamKind(t *testing.T) {
	client, closeFn := newTestServer(t)
	defer closeFn()
	_ = client

	cc, err := grpcweb.NewClient("example.invalid", grpcweb.WithInsecure())
	require.NoError(t, err)

	_, err = cc.NewStream(context.Background(), &grpc.StreamDesc{ClientStreams: true}, "/test/ClientStream")
	require.Error(t, err)

	rpcErr, ok := grpcweb.IsRpcError(err)
	require.True(t, ok)
	assert.Equal(t, codes.Unimplemented, rpcErr.Code())
}
