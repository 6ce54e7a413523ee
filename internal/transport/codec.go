package transport

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype both sides of the wire use.
const CodecName = "json"

// jsonCodec is the wire encoding for all otter-raft RPCs: JSON with
// struct fields in declaration order (map keys sorted), so equal
// messages encode to equal bytes. The
// message schemas are plain Go structs; there is no generated code.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
