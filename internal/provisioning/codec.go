package provisioning

import (
	"encoding/json"

	"connectrpc.com/connect"
)

var _ connect.Codec = jsonCodec{}

// jsonCodec marshals plain Go structs, which the protobuf based default
// codecs reject. It registers under the "json" name so requests carry
// application/json.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func (jsonCodec) Unmarshal(data []byte, msg any) error {
	return json.Unmarshal(data, msg)
}
