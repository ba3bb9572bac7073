package grpcweb

import (
	"crypto/tls"
	"net/http"

	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/encoding/proto"
	"google.golang.org/grpc/metadata"
)

const defaultUserAgent = "grpc-web-go/1.0"

var (
	defaultDialOptions = dialOptions{userAgent: defaultUserAgent}
	defaultCallOptions = callOptions{
		codec: encoding.GetCodecV2(proto.Name),
	}
)

type dialOptions struct {
	defaultCallOptions []CallOption
	insecure           bool
	tlsConf            *tls.Config
	httpClient         *http.Client
	userAgent          string
}

// DialOption configures a ClientConn at construction time.
type DialOption func(*dialOptions)

// WithDefaultCallOptions sets CallOptions applied to every call made
// through the channel, before any per-call options.
func WithDefaultCallOptions(opts ...CallOption) DialOption {
	return func(opt *dialOptions) {
		opt.defaultCallOptions = opts
	}
}

// WithInsecure dials over plain HTTP instead of HTTPS.
func WithInsecure() DialOption {
	return func(opt *dialOptions) {
		opt.insecure = true
	}
}

// WithTLSConfig supplies a TLS configuration for HTTPS dials.
func WithTLSConfig(conf *tls.Config) DialOption {
	return func(opt *dialOptions) {
		opt.tlsConf = conf
	}
}

// WithHTTPClient overrides the *http.Client backing every call made
// through the channel.
func WithHTTPClient(client *http.Client) DialOption {
	return func(opt *dialOptions) {
		opt.httpClient = client
	}
}

// WithUserAgent sets the x-user-agent header value sent with every call.
// Defaults to "grpc-web-go/1.0".
func WithUserAgent(userAgent string) DialOption {
	return func(opt *dialOptions) {
		opt.userAgent = userAgent
	}
}

type callOptions struct {
	codec           encoding.CodecV2
	header, trailer *metadata.MD
	timeout         *float64
}

// CallOption configures a single RPC invocation.
type CallOption func(*callOptions)

// CallContentSubtype selects the message codec by its registered
// subtype name (the core treats the codec as an opaque bytes<->value
// transformer, per spec.md §1).
func CallContentSubtype(contentSubtype string) CallOption {
	return func(opt *callOptions) {
		opt.codec = encoding.GetCodecV2(contentSubtype)
	}
}

// Header arranges for the response header metadata to be written into h
// once the call returns.
func Header(h *metadata.MD) CallOption {
	return func(opt *callOptions) {
		*h = metadata.New(nil)
		opt.header = h
	}
}

// Trailer arranges for the response trailer metadata to be written into t
// once the call returns.
func Trailer(t *metadata.MD) CallOption {
	return func(opt *callOptions) {
		*t = metadata.New(nil)
		opt.trailer = t
	}
}

// Timeout sets the deadline, in seconds, encoded as this call's
// grpc-timeout header. Without it, the call has no deadline.
func Timeout(seconds float64) CallOption {
	return func(opt *callOptions) {
		opt.timeout = &seconds
	}
}
