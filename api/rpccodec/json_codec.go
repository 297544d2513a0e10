// Package rpccodec registers a JSON wire codec under grpc's default
// "proto" content-subtype name. There is no protoc step in this build,
// so api/pb's messages are plain structs rather than proto.Message
// implementations; registering under "proto" (rather than a custom
// subtype a client would have to opt into) means grpc-go's normal
// negotiation picks this codec without any client-side changes.
package rpccodec

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

const Name = "proto"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpccodec: marshal %T: %w", v, err)
	}
	return data, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rpccodec: unmarshal %T: %w", v, err)
	}
	return nil
}

func (jsonCodec) Name() string { return Name }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
