package protocol

import (
	"bytes"
	"fmt"
	"net/http"
	"unicode/utf8"

	"google.golang.org/grpc/codes"
)

// HTTPStatus maps a gRPC status code to the advisory HTTP response status
// per the fixed table in spec.md §4.4. grpc-status in the trailer frame
// remains authoritative; this mapping never changes that.
func HTTPStatus(code codes.Code) int {
	switch code {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.Unimplemented:
		return http.StatusNotFound
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// spaceByte/tildeByte/percentByte bound the set of bytes that pass through
// grpc-message percent-encoding unescaped, matching grpc-go's own
// encodeGrpcMessage (internal/transport/http_util.go).
const (
	spaceByte   = ' '
	tildeByte   = '~'
	percentByte = '%'
)

// EncodeGRPCMessage percent-encodes details for transit in a grpc-message
// header or trailer value, escaping anything outside printable ASCII and
// the '%' character itself.
func EncodeGRPCMessage(msg string) string {
	if msg == "" {
		return ""
	}

	for i := 0; i < len(msg); i++ {
		c := msg[i]
		if !(c >= spaceByte && c <= tildeByte && c != percentByte) {
			return encodeGRPCMessageUnchecked(msg)
		}
	}

	return msg
}

func encodeGRPCMessageUnchecked(msg string) string {
	var buf bytes.Buffer
	for len(msg) > 0 {
		r, size := utf8.DecodeRuneInString(msg)
		for _, b := range []byte(string(r)) {
			if size > 1 || !(b >= spaceByte && b <= tildeByte && b != percentByte) {
				fmt.Fprintf(&buf, "%%%02X", b)
			} else {
				buf.WriteByte(b)
			}
		}
		msg = msg[size:]
	}
	return buf.String()
}

// DecodeGRPCMessage reverses EncodeGRPCMessage.
func DecodeGRPCMessage(msg string) string {
	if msg == "" {
		return ""
	}

	var buf bytes.Buffer
	for i := 0; i < len(msg); i++ {
		c := msg[i]
		if c == percentByte && i+2 < len(msg) {
			if b, ok := decodeHexByte(msg[i+1], msg[i+2]); ok {
				buf.WriteByte(b)
				i += 2
				continue
			}
		}
		buf.WriteByte(c)
	}
	return buf.String()
}

func decodeHexByte(hi, lo byte) (byte, bool) {
	h, ok1 := hexVal(hi)
	l, ok2 := hexVal(lo)
	if !ok1 || !ok2 {
		return 0, false
	}
	return h<<4 | l, true
}

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}
