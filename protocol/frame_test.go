package protocol_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grpcwebgo/grpcweb/protocol"
)

func TestWrapUnwrapRoundTrip(t *testing.T) {
	cases := []struct {
		name       string
		trailer    bool
		compressed bool
		payload    []byte
	}{
		{"empty message", false, false, nil},
		{"small message", false, false, []byte("hello")},
		{"trailer", true, false, []byte("grpc-status: 0\r\n")},
		{"compressed flag set", false, true, []byte("x")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf, err := protocol.Wrap(tc.trailer, tc.compressed, tc.payload)
			require.NoError(t, err)

			trailer, compressed, payload, err := protocol.Unwrap(buf)
			require.NoError(t, err)
			assert.Equal(t, tc.trailer, trailer)
			assert.Equal(t, tc.compressed, compressed)
			if tc.payload == nil {
				assert.Empty(t, payload)
			} else if diff := cmp.Diff(tc.payload, payload); diff != "" {
				t.Errorf("payload mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUnwrapMalformedFrame(t *testing.T) {
	_, _, _, err := protocol.Unwrap([]byte{0x00, 0x00})
	assert.ErrorIs(t, err, protocol.ErrMalformedFrame)

	// Header claims more payload than is present.
	buf, err := protocol.Wrap(false, false, []byte("abc"))
	require.NoError(t, err)
	_, _, _, err = protocol.Unwrap(buf[:len(buf)-1])
	assert.ErrorIs(t, err, protocol.ErrMalformedFrame)
}

func TestStreamDecoderRoundTrip(t *testing.T) {
	msgs := [][]byte{[]byte("one"), []byte("two"), []byte("three")}

	var buf bytes.Buffer
	for _, m := range msgs {
		frame, err := protocol.Wrap(false, false, m)
		require.NoError(t, err)
		buf.Write(frame)
	}
	trailerBlock, err := protocol.PackTrailers([]protocol.Pair{{Key: "grpc-status", Value: "0"}})
	require.NoError(t, err)
	trailerFrame, err := protocol.Wrap(true, false, trailerBlock)
	require.NoError(t, err)
	buf.Write(trailerFrame)

	dec := protocol.NewStreamDecoder(&buf)

	var got [][]byte
	for {
		f, err := dec.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if f.Trailer {
			pairs := protocol.UnpackTrailers(f.Payload)
			require.Len(t, pairs, 1)
			assert.Equal(t, "grpc-status", pairs[0].Key)
			assert.Equal(t, "0", pairs[0].Value)
			continue
		}
		got = append(got, f.Payload)
	}

	require.Len(t, got, len(msgs))
	for i, m := range msgs {
		assert.Equal(t, m, got[i])
	}
}

func TestStreamDecoderIncompleteStream(t *testing.T) {
	buf, err := protocol.Wrap(false, false, []byte("hello"))
	require.NoError(t, err)

	dec := protocol.NewStreamDecoder(bytes.NewReader(buf[:len(buf)-2]))
	_, err = dec.Next()
	assert.ErrorIs(t, err, protocol.ErrIncompleteStream)
}

func TestStreamDecoderStopsAfterTrailer(t *testing.T) {
	trailerBlock, err := protocol.PackTrailers([]protocol.Pair{{Key: "grpc-status", Value: "0"}})
	require.NoError(t, err)
	trailerFrame, err := protocol.Wrap(true, false, trailerBlock)
	require.NoError(t, err)

	msgFrame, err := protocol.Wrap(false, false, []byte("late"))
	require.NoError(t, err)

	dec := protocol.NewStreamDecoder(bytes.NewReader(append(trailerFrame, msgFrame...)))

	f, err := dec.Next()
	require.NoError(t, err)
	assert.True(t, f.Trailer)

	_, err = dec.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestUnwrapCompressedFrameRejected(t *testing.T) {
	buf, err := protocol.Wrap(false, true, []byte("x"))
	require.NoError(t, err)

	dec := protocol.NewStreamDecoder(bytes.NewReader(buf))
	_, err = dec.Next()
	assert.ErrorIs(t, err, protocol.ErrCompressedFrame)
}
