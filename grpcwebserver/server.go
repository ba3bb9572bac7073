// Package grpcwebserver implements the server half of gRPC-Web: an
// http.Handler that dispatches POSTs against a ServiceRegistry, builds a
// ServerContext from the request's headers, invokes the matched handler,
// and streams the response back as message frames terminated by a trailer
// frame. Grounded on sonora's wsgi.py/asgi.py hosts, reworked around
// goroutines and channels per spec.md §5/§9.
package grpcwebserver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"

	"github.com/grpcwebgo/grpcweb/protocol"
)

// Server is an http.Handler implementing the gRPC-Web protocol engine
// against the methods in Registry. Fallback, when set, receives requests
// whose path matches no registered method, the way sonora's hosts
// delegate to a wrapped WSGI/ASGI application.
type Server struct {
	Registry *ServiceRegistry
	Fallback http.Handler
	Logger   *zap.Logger
}

// NewServer returns a Server with an empty registry. A nil logger is
// replaced with zap.NewNop().
func NewServer(logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{Registry: NewServiceRegistry(), Logger: logger}
}

// RegisterService adds h to the server's registry.
func (s *Server) RegisterService(h GenericHandler) {
	s.Registry.Register(h)
}

// ServeHTTP implements spec.md §4.6.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writePreflight(w)
		return
	}

	desc, ok := s.Registry.Lookup(r.URL.Path)
	if !ok {
		if s.Fallback != nil {
			s.Fallback.ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "grpc-web methods require POST", http.StatusBadRequest)
		return
	}

	if desc.RequestStreaming {
		s.writeError(w, desc, codes.Unimplemented, "client-streaming is unimplemented over gRPC-Web")
		return
	}

	deadline, hasDeadline, err := parseDeadline(r.Header)
	if err != nil {
		s.writeError(w, desc, codes.InvalidArgument, err.Error())
		return
	}

	invocationMD := buildInvocationMetadata(r.Header)
	ctx := newServerContext(r.Context(), deadline, hasDeadline, invocationMD)
	defer ctx.release()

	req := desc.NewRequest()
	if err := decodeUnaryRequest(r.Body, desc.Codec, req); err != nil {
		if errors.Is(err, protocol.ErrCompressedFrame) {
			s.writeError(w, desc, codes.Unimplemented, err.Error())
			return
		}
		s.writeError(w, desc, codes.InvalidArgument, err.Error())
		return
	}

	start := time.Now()
	if desc.ResponseStreaming {
		s.serveStream(w, r, desc, ctx, req)
	} else {
		s.serveUnary(w, desc, ctx, req)
	}
	s.Logger.Info("grpcweb call completed",
		zap.String("method", desc.Path),
		zap.String("code", ctx.Code().String()),
		zap.Duration("duration", time.Since(start)),
	)
}

func parseDeadline(h http.Header) (time.Time, bool, error) {
	v := h.Get("grpc-timeout")
	if v == "" {
		return time.Time{}, false, nil
	}
	seconds, err := protocol.ParseTimeout(v)
	if err != nil {
		return time.Time{}, false, err
	}
	return time.Now().Add(time.Duration(seconds * float64(time.Second))), true, nil
}

func buildInvocationMetadata(h http.Header) metadata.MD {
	md := metadata.New(nil)
	for k, vs := range h {
		lk := strings.ToLower(k)
		if lk == "grpc-timeout" {
			continue
		}
		for _, v := range vs {
			if protocol.IsBinKey(lk) {
				if raw, err := protocol.DecodeBinValue(v); err == nil {
					md.Append(lk, string(raw))
					continue
				}
			}
			md.Append(lk, v)
		}
	}
	return md
}

func decodeUnaryRequest(body io.Reader, codec Codec, req any) error {
	dec := protocol.NewStreamDecoder(body)

	frame, err := dec.Next()
	if err == io.EOF {
		return errNoMessageFrame
	}
	if err == protocol.ErrCompressedFrame {
		return err
	}
	if err != nil {
		return err
	}
	if frame.Trailer {
		return errNoMessageFrame
	}

	if _, err := dec.Next(); err != io.EOF {
		if err == nil {
			return errUnaryExtraFrame
		}
		return err
	}

	return codec.Unmarshal(frame.Payload, req)
}

func writeMetadataHeaders(h http.Header, md metadata.MD) {
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

func buildTrailerPairs(code codes.Code, details string, trailing metadata.MD) []protocol.Pair {
	pairs := []protocol.Pair{{Key: "grpc-status", Value: strconv.Itoa(int(code))}}
	if details != "" {
		pairs = append(pairs, protocol.Pair{Key: "grpc-message", Value: protocol.EncodeGRPCMessage(details)})
	}
	for k, vs := range trailing {
		for _, v := range vs {
			if protocol.IsBinKey(k) {
				v = protocol.EncodeBinValue([]byte(v))
			}
			pairs = append(pairs, protocol.Pair{Key: k, Value: v})
		}
	}
	return pairs
}

// writeError answers a call that never reached handler invocation: it
// emits a trailer-only response whose HTTP status mirrors code per
// spec.md §4.4.
func (s *Server) writeError(w http.ResponseWriter, desc *MethodDesc, code codes.Code, details string) {
	h := w.Header()
	contentType := "application/grpc-web"
	if desc != nil {
		contentType = "application/grpc-web+" + desc.Codec.Name()
	}
	h.Set("Content-Type", contentType)
	applyCORSHeaders(h)
	h.Set("grpc-status", strconv.Itoa(int(code)))
	h.Set("grpc-message", protocol.EncodeGRPCMessage(details))
	w.WriteHeader(protocol.HTTPStatus(code))

	trailer, _ := protocol.PackTrailers(buildTrailerPairs(code, details, nil))
	frame, _ := protocol.Wrap(true, false, trailer)
	w.Write(frame)

	s.Logger.Warn("grpcweb call rejected", zap.String("code", code.String()), zap.String("details", details))
}

type handlerOutcome struct {
	reply any
	err   error
	panic any
}

func (s *Server) serveUnary(w http.ResponseWriter, desc *MethodDesc, ctx *ServerContext, req any) {
	resultCh := make(chan handlerOutcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- handlerOutcome{panic: r}
			}
		}()
		reply, err := desc.Unary(ctx, req)
		resultCh <- handlerOutcome{reply: reply, err: err}
	}()

	var reply any
	select {
	case out := <-resultCh:
		reply = resolveOutcome(ctx, out)
	case <-ctx.Context().Done():
		if ctx.Code() == codes.OK {
			ctx.SetCode(codes.DeadlineExceeded)
			ctx.SetDetails("request timed out at the server")
		}
	}

	code := ctx.Code()
	details := ctx.Details()

	h := w.Header()
	h.Set("Content-Type", "application/grpc-web+"+desc.Codec.Name())
	applyCORSHeaders(h)
	h.Set("grpc-status", strconv.Itoa(int(code)))
	if details != "" {
		h.Set("grpc-message", protocol.EncodeGRPCMessage(details))
	}
	writeMetadataHeaders(h, ctx.initialMetadata())
	ctx.markHeaderSent()
	w.WriteHeader(protocol.HTTPStatus(code))

	if code == codes.OK && reply != nil {
		if payload, err := desc.Codec.Marshal(reply); err == nil {
			if frame, err := protocol.Wrap(false, false, payload); err == nil {
				w.Write(frame)
			}
		} else {
			s.Logger.Error("grpcweb failed to marshal reply", zap.Error(err))
		}
	}

	trailer, _ := protocol.PackTrailers(buildTrailerPairs(code, details, ctx.trailingMetadata()))
	frame, _ := protocol.Wrap(true, false, trailer)
	w.Write(frame)
	flush(w)
}

// resolveOutcome folds a handler's return into ctx's terminal code/details
// and reports the reply value, if any, for a successful unary call.
func resolveOutcome(ctx *ServerContext, out handlerOutcome) any {
	if out.panic != nil {
		if _, ok := out.panic.(abortSignal); ok {
			return nil // ctx already carries the abort's code/details
		}
		ctx.SetCode(codes.Unknown)
		ctx.SetDetails(fmt.Sprint(out.panic))
		return nil
	}
	if out.err != nil {
		ctx.SetCode(codes.Unknown)
		ctx.SetDetails(out.err.Error())
		return nil
	}
	return out.reply
}

func (s *Server) serveStream(w http.ResponseWriter, r *http.Request, desc *MethodDesc, ctx *ServerContext, req any) {
	h := w.Header()
	h.Set("Content-Type", "application/grpc-web+"+desc.Codec.Name())
	applyCORSHeaders(h)
	headerWritten := false
	writeHeader := func() {
		if !headerWritten {
			headerWritten = true
			ctx.markHeaderSent()
			writeMetadataHeaders(h, ctx.initialMetadata())
			w.WriteHeader(http.StatusOK)
		}
	}

	msgCh := make(chan []byte)
	resultCh := make(chan handlerOutcome, 1)

	send := func(m any) error {
		payload, err := desc.Codec.Marshal(m)
		if err != nil {
			return err
		}
		frame, err := protocol.Wrap(false, false, payload)
		if err != nil {
			return err
		}
		select {
		case msgCh <- frame:
			return nil
		case <-ctx.Context().Done():
			return ctx.Context().Err()
		}
	}

	go func() {
		defer close(msgCh)
		defer func() {
			if r := recover(); r != nil {
				resultCh <- handlerOutcome{panic: r}
			}
		}()
		err := desc.Stream(ctx, req, send)
		resultCh <- handlerOutcome{err: err}
	}()

loop:
	for {
		select {
		case frame, ok := <-msgCh:
			if !ok {
				break loop
			}
			writeHeader()
			w.Write(frame)
			flush(w)
		case <-r.Context().Done():
			ctx.release()
			return
		}
	}

	out := <-resultCh
	if ctx.Context().Err() == context.DeadlineExceeded {
		// The handler's err, if any, is just its send/ctx-aware loop
		// observing cancellation; the deadline is the real terminal cause.
		ctx.SetCode(codes.DeadlineExceeded)
		ctx.SetDetails("request timed out at the server")
	} else {
		resolveOutcome(ctx, out)
	}

	trailer, _ := protocol.PackTrailers(buildTrailerPairs(ctx.Code(), ctx.Details(), ctx.trailingMetadata()))
	frame, _ := protocol.Wrap(true, false, trailer)
	writeHeader()
	w.Write(frame)
	flush(w)
}

func flush(w http.ResponseWriter) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
