// Package protocol implements the gRPC-Web wire format: length-prefixed
// frames, the trailer-in-body header block, the grpc-timeout deadline
// encoding, and the gRPC status to HTTP status mapping. It has no opinion
// about the message codec or the transport that carries it.
package protocol

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// HeaderLen is the size, in bytes, of a frame header: one flags byte
// followed by a four-byte big-endian length.
const HeaderLen = 5

const (
	flagTrailer    byte = 1 << 7
	flagCompressed byte = 1 << 0
)

var (
	// ErrMalformedFrame is returned when a buffer does not contain a
	// complete frame.
	ErrMalformedFrame = errors.New("grpcweb: malformed frame")
	// ErrIncompleteStream is signaled by the stream decoder when the
	// underlying source reaches EOF in the middle of a frame.
	ErrIncompleteStream = errors.New("grpcweb: incomplete stream")
	// ErrCompressedFrame is returned when a frame's compressed bit is set.
	// The core encodes the bit faithfully but never applies compression.
	ErrCompressedFrame = errors.New("grpcweb: compressed frames are unimplemented")
)

// Wrap encodes payload as a single frame: a 5-byte header followed by the
// payload itself. It fails only if payload overflows the 32-bit length
// field.
func Wrap(trailer, compressed bool, payload []byte) ([]byte, error) {
	if uint64(len(payload)) > uint64(^uint32(0)) {
		return nil, errors.Errorf("grpcweb: payload of %d bytes overflows frame length", len(payload))
	}

	buf := make([]byte, HeaderLen+len(payload))
	buf[0] = packFlags(trailer, compressed)
	binary.BigEndian.PutUint32(buf[1:HeaderLen], uint32(len(payload)))
	copy(buf[HeaderLen:], payload)

	return buf, nil
}

// Unwrap parses exactly one frame from the head of buf.
func Unwrap(buf []byte) (trailer, compressed bool, payload []byte, err error) {
	if len(buf) < HeaderLen {
		return false, false, nil, ErrMalformedFrame
	}

	length := binary.BigEndian.Uint32(buf[1:HeaderLen])
	if uint64(len(buf)) < uint64(HeaderLen)+uint64(length) {
		return false, false, nil, ErrMalformedFrame
	}

	trailer, compressed = unpackFlags(buf[0])
	payload = buf[HeaderLen : HeaderLen+length]

	return trailer, compressed, payload, nil
}

func packFlags(trailer, compressed bool) byte {
	var f byte
	if trailer {
		f |= flagTrailer
	}
	if compressed {
		f |= flagCompressed
	}
	return f
}

func unpackFlags(flags byte) (trailer, compressed bool) {
	return flags&flagTrailer != 0, flags&flagCompressed != 0
}

// Frame is one decoded wire unit, yielded by a StreamDecoder.
type Frame struct {
	Trailer    bool
	Compressed bool
	Payload    []byte
}

// StreamDecoder is a restartable-once decoder over a chunked byte source: it
// buffers partial input across reads and emits one Frame per call to Next
// once enough bytes have accumulated. It never decodes past the first
// trailer frame.
type StreamDecoder struct {
	r    *bufio.Reader
	done bool
}

// NewStreamDecoder wraps r for frame-at-a-time decoding.
func NewStreamDecoder(r io.Reader) *StreamDecoder {
	return &StreamDecoder{r: bufio.NewReader(r)}
}

// Next reads and returns the next frame. It returns io.EOF once a trailer
// frame has been emitted or the source is exhausted cleanly between frames.
// An EOF encountered mid-frame is reported as ErrIncompleteStream.
func (d *StreamDecoder) Next() (Frame, error) {
	if d.done {
		return Frame{}, io.EOF
	}

	header := make([]byte, HeaderLen)
	if _, err := io.ReadFull(d.r, header); err != nil {
		if errors.Is(err, io.EOF) {
			return Frame{}, io.EOF
		}
		return Frame{}, ErrIncompleteStream
	}

	length := binary.BigEndian.Uint32(header[1:HeaderLen])
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(d.r, payload); err != nil {
			return Frame{}, ErrIncompleteStream
		}
	}

	trailer, compressed := unpackFlags(header[0])
	if trailer {
		d.done = true
	}

	if compressed {
		return Frame{}, ErrCompressedFrame
	}

	return Frame{Trailer: trailer, Compressed: compressed, Payload: payload}, nil
}
