package protocol_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"

	"github.com/grpcwebgo/grpcweb/protocol"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[codes.Code]int{
		codes.OK:                http.StatusOK,
		codes.InvalidArgument:   http.StatusBadRequest,
		codes.PermissionDenied:  http.StatusForbidden,
		codes.Unimplemented:     http.StatusNotFound,
		codes.Unavailable:       http.StatusServiceUnavailable,
		codes.Unknown:           http.StatusInternalServerError,
		codes.Internal:          http.StatusInternalServerError,
		codes.DeadlineExceeded:  http.StatusInternalServerError,
	}

	for code, want := range cases {
		assert.Equal(t, want, protocol.HTTPStatus(code), "code %s", code)
	}
}

func TestEncodeDecodeGRPCMessageRoundTrip(t *testing.T) {
	cases := []string{
		"plain ascii",
		"has a % percent",
		"unicode: héllo wörld 日本語",
		"",
	}

	for _, msg := range cases {
		encoded := protocol.EncodeGRPCMessage(msg)
		decoded := protocol.DecodeGRPCMessage(encoded)
		assert.Equal(t, msg, decoded, "message %q", msg)
	}
}

func TestEncodeGRPCMessageLeavesPrintableASCIIUnescaped(t *testing.T) {
	msg := "test aborting"
	assert.Equal(t, msg, protocol.EncodeGRPCMessage(msg))
}
