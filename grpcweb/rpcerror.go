package grpcweb

import (
	"fmt"

	spbstatus "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/proto"
)

// RpcError is the single error kind client calls raise: a status code plus
// an optional human-readable details string, constructed from the
// grpc-status/grpc-message pair carried in response headers or the
// trailer frame. Grounded on sonora's WebRpcError(grpc.RpcError).
type RpcError struct {
	code    codes.Code
	details string
	status  *spbstatus.Status
}

// NewRpcError builds an RpcError from a status code and details string.
func NewRpcError(code codes.Code, details string) *RpcError {
	return &RpcError{code: code, details: details}
}

// newRpcErrorFromMetadata builds an RpcError the way NewRpcError does, and
// additionally decodes a google.rpc.Status from grpc-status-details-bin in
// md, if the server sent one, so callers can recover structured error
// details (e.g. google.rpc.BadRequest) beyond the plain details string.
func newRpcErrorFromMetadata(code codes.Code, details string, md metadata.MD) *RpcError {
	e := NewRpcError(code, details)
	vals := md.Get("grpc-status-details-bin")
	if len(vals) == 0 {
		return e
	}
	var st spbstatus.Status
	if err := proto.Unmarshal([]byte(vals[0]), &st); err == nil {
		e.status = &st
	}
	return e
}

// Code returns the gRPC status code the call failed with.
func (e *RpcError) Code() codes.Code {
	if e == nil {
		return codes.OK
	}
	return e.code
}

// Details returns the human-readable details string, if any.
func (e *RpcError) Details() string {
	if e == nil {
		return ""
	}
	return e.details
}

// StatusProto returns the decoded google.rpc.Status carried in the
// server's grpc-status-details-bin trailer, or nil when the server sent
// none. Its Details field holds the structured error details (e.g.
// google.rpc.BadRequest, google.rpc.RetryInfo) the plain details string
// can't express.
func (e *RpcError) StatusProto() *spbstatus.Status {
	if e == nil {
		return nil
	}
	return e.status
}

func (e *RpcError) Error() string {
	return fmt.Sprintf("grpcweb: rpc error: code = %s desc = %s", e.code, e.details)
}

// IsRpcError reports whether err is an *RpcError and returns it.
func IsRpcError(err error) (*RpcError, bool) {
	re, ok := err.(*RpcError)
	return re, ok
}
