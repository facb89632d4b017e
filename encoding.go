package cfgtree

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// Marshaler specifies encoding of a generic document to a byte array and back. Store.Dump/Read
// use it to support both snapshot formats named in §6 External Interfaces.
type Marshaler interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type jsonMarshaler struct{}

// NewJSONMarshaler returns the JSON snapshot format Marshaler.
func NewJSONMarshaler() Marshaler { return jsonMarshaler{} }

func (jsonMarshaler) Marshal(v any) ([]byte, error)          { return json.MarshalIndent(v, "", "  ") }
func (jsonMarshaler) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type yamlMarshaler struct{}

// NewYAMLMarshaler returns the YAML snapshot format Marshaler, the default per §6.
func NewYAMLMarshaler() Marshaler { return yamlMarshaler{} }

func (yamlMarshaler) Marshal(v any) ([]byte, error)          { return yaml.Marshal(v) }
func (yamlMarshaler) Unmarshal(data []byte, v any) error { return yaml.Unmarshal(data, v) }
