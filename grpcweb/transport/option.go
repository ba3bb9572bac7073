package transport

import (
	"crypto/tls"
	"net/http"
)

type connectOptions struct {
	insecure   bool
	tlsConf    *tls.Config
	httpClient *http.Client
}

// ConnectOption configures how NewUnary dials the gRPC-Web server.
type ConnectOption func(*connectOptions)

// WithInsecure selects plain HTTP instead of HTTPS.
func WithInsecure() ConnectOption {
	return func(opt *connectOptions) {
		opt.insecure = true
	}
}

// WithTLSConfig supplies a custom TLS configuration for HTTPS dials.
func WithTLSConfig(conf *tls.Config) ConnectOption {
	return func(opt *connectOptions) {
		opt.tlsConf = conf
	}
}

// WithHTTPClient overrides the *http.Client used for the connection,
// letting callers share a connection pool across channels or inject a
// client instrumented for tracing/metrics.
func WithHTTPClient(client *http.Client) ConnectOption {
	return func(opt *connectOptions) {
		opt.httpClient = client
	}
}
