package grpcwebserver_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/grpcwebgo/grpcweb/grpcwebserver"
)

func TestProtoCodecRoundTrip(t *testing.T) {
	codec := grpcwebserver.ProtoCodec{}
	assert.Equal(t, "proto", codec.Name())

	raw, err := codec.Marshal(&wrapperspb.StringValue{Value: "hello"})
	require.NoError(t, err)

	var out wrapperspb.StringValue
	require.NoError(t, codec.Unmarshal(raw, &out))
	assert.Equal(t, "hello", out.GetValue())
}

func TestProtoCodecRejectsNonProtoMessage(t *testing.T) {
	codec := grpcwebserver.ProtoCodec{}

	_, err := codec.Marshal("not a proto message")
	assert.Error(t, err)

	var dst string
	err = codec.Unmarshal([]byte("x"), &dst)
	assert.Error(t, err)
}
