// Package rpcwire provides a JSON wire codec for google.golang.org/grpc,
// used in place of protoc-generated protobuf messages. grpc's encoding
// package is an explicit extension point for exactly this: register a
// Codec under a name and select it per-call with grpc.CallContentSubtype.
package rpcwire

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// #region codec-name

// Name is the content-subtype under which the JSON codec is registered.
// Calls made with grpc.CallContentSubtype(Name) (and servers that accept
// the resulting "application/grpc+json" content-type) use it.
const Name = "json"

// #endregion codec-name

// #region codec

// jsonCodec implements google.golang.org/grpc/encoding.Codec using
// encoding/json instead of protobuf wire format.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpcwire marshal: %w", err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rpcwire unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string {
	return Name
}

// #endregion codec

// #region registration

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// #endregion registration
