package grpcwebserver

import (
	"fmt"

	"google.golang.org/protobuf/proto"
)

// Codec is the opaque bytes<->value transformer the engine treats as an
// external collaborator, mirroring spec.md §1's "deserialize_request /
// serialize_response" pair from the method descriptor in §3. The engine
// never inspects message contents; it only calls Marshal/Unmarshal.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// ProtoCodec is the default Codec for services whose request/response
// types are generated protobuf messages. Services with a non-protobuf
// wire format (internal/echo's plain strings) supply their own Codec
// instead; ProtoCodec only needs v to implement proto.Message.
type ProtoCodec struct{}

// Name reports the content-subtype used in the gRPC-Web Content-Type
// header: "application/grpc-web+proto".
func (ProtoCodec) Name() string { return "proto" }

func (ProtoCodec) Marshal(v any) ([]byte, error) {
	m, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("grpcwebserver: %T does not implement proto.Message", v)
	}
	return proto.Marshal(m)
}

func (ProtoCodec) Unmarshal(data []byte, v any) error {
	m, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("grpcwebserver: %T does not implement proto.Message", v)
	}
	return proto.Unmarshal(data, m)
}
