// Package transport provides the HTTP connection used by the gRPC-Web
// client channel. It is deliberately a thin wrapper over net/http: the
// core treats the HTTP server and client as external collaborators (see
// spec.md §1) and only needs POST-with-streamed-response semantics from
// them.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/net/http/httpguts"
)

// ErrInvalidResponseCode is returned when the HTTP layer answers a
// gRPC-Web POST with a 5xx status and no grpc-status header. grpc-status in the response
// is authoritative when present; this error only fires when the HTTP
// layer itself refuses the request (e.g. a proxy 5xx) before any
// gRPC-Web framing could be produced.
var ErrInvalidResponseCode = errors.New("received invalid response code")

// ErrInvalidHeaderValue is returned when a caller-supplied metadata value
// is not a valid HTTP header field value, e.g. it contains a bare CR or LF.
var ErrInvalidHeaderValue = errors.New("invalid header value")

// UnaryTransport sends one gRPC-Web POST and exposes the streamed response
// body for frame decoding. A single transport is used for exactly one
// call; both unary and server-streaming Multicallables use it.
type UnaryTransport interface {
	Header() http.Header
	Send(ctx context.Context, endpoint, contentType string, body io.Reader) (http.Header, io.ReadCloser, error)
	Close() error
}

type httpTransport struct {
	url    *url.URL
	client *http.Client

	header http.Header

	sent bool
}

func (t *httpTransport) Header() http.Header {
	return t.header
}

func (t *httpTransport) Send(
	ctx context.Context,
	endpoint, contentType string,
	body io.Reader,
) (http.Header, io.ReadCloser, error) {
	if t.sent {
		return nil, nil, errors.New("Send must be called only one time per one Request")
	}
	defer func() {
		t.sent = true
	}()

	u := *t.url
	u.Path += endpoint

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), body)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to build the API request")
	}

	req.Header = t.Header()
	req.Header.Set("content-type", contentType)
	req.Header.Set("x-grpc-web", "1")

	for k, vs := range req.Header {
		for _, v := range vs {
			if !httpguts.ValidHeaderFieldValue(v) {
				return nil, nil, errors.Wrapf(ErrInvalidHeaderValue, "header %q", k)
			}
		}
	}

	res, err := t.client.Do(req)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to send the API request")
	}

	if res.StatusCode >= 500 && res.Header.Get("grpc-status") == "" {
		res.Body.Close()
		return nil, nil, fmt.Errorf("%w: %d", ErrInvalidResponseCode, res.StatusCode)
	}

	return res.Header, res.Body, nil
}

func (t *httpTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

// NewUnary builds an HTTP/1.1-backed UnaryTransport against host, which
// must not include a scheme. It is a var, not a func, so tests can swap it
// the way the teacher's transport package does.
var NewUnary = func(host string, opts ...ConnectOption) (UnaryTransport, error) {
	o := new(connectOptions)
	for _, f := range opts {
		f(o)
	}

	if strings.Contains(host, "://") {
		return nil, errors.Errorf("host %q must not include a scheme", host)
	}

	scheme := "https"
	if o.insecure {
		scheme = "http"
	}

	u, err := url.Parse(fmt.Sprintf("%s://%s", scheme, host))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse host into url")
	}

	client := o.httpClient
	if client == nil {
		client = http.DefaultClient
	}
	if o.tlsConf != nil {
		if defTransport, ok := http.DefaultTransport.(*http.Transport); ok {
			clone := defTransport.Clone()
			clone.TLSClientConfig = o.tlsConf
			c := *client
			c.Transport = clone
			client = &c
		}
	}

	return &httpTransport{
		url:    u,
		client: client,
		header: make(http.Header),
	}, nil
}
