package proto

import "github.com/bytedance/sonic"

// codec is shared by every marshal site in the framework so hub and plugins
// agree on one serialization behavior. ConfigStd matches encoding/json
// semantics, which the wire contract is written against.
var codec = sonic.ConfigStd

// Marshal serializes v with the framework codec.
func Marshal(v any) ([]byte, error) {
	return codec.Marshal(v)
}

// Unmarshal parses data into v with the framework codec.
func Unmarshal(data []byte, v any) error {
	return codec.Unmarshal(data, v)
}
