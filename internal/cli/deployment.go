package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"azflow/internal/apperrors"
)

// File is a deployment file: one connector type with its configuration.
type File struct {
	Type   string         `yaml:"type"`
	Name   string         `yaml:"name"`
	Config map[string]any `yaml:"config"`
}

// LoadFile reads and decodes a YAML deployment file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read deployment file: %w", err)
	}
	return ParseFile(data)
}

// ParseFile decodes a YAML deployment document. Unknown top-level keys are
// rejected.
func ParseFile(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, apperrors.Validation("file", fmt.Sprintf("invalid deployment file: %v", err))
	}
	if f.Type == "" {
		return nil, apperrors.Validation("type", "deployment file must name a connector type")
	}
	return &f, nil
}

// RawConfig re-encodes the config section as JSON for the connector factory.
func (f *File) RawConfig() (json.RawMessage, error) {
	if f.Config == nil {
		return nil, nil
	}
	raw, err := json.Marshal(f.Config)
	if err != nil {
		return nil, apperrors.Validation("config", fmt.Sprintf("config is not representable as JSON: %v", err))
	}
	return raw, nil
}
