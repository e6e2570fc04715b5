package persist

import (
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Record formats.
const (
	FormatTOML = "toml"
	FormatYAML = "yaml"
)

// Codec encodes one addon record.
type Codec interface {
	// Ext is the file extension including the dot.
	Ext() string
	Marshal(record map[string]any) ([]byte, error)
	Unmarshal(data []byte) (map[string]any, error)
}

// CodecFor returns the codec for a format name. Empty means TOML.
func CodecFor(format string) (Codec, error) {
	switch strings.ToLower(format) {
	case "", FormatTOML:
		return tomlCodec{}, nil
	case FormatYAML, "yml":
		return yamlCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

type tomlCodec struct{}

func (tomlCodec) Ext() string { return ".toml" }

func (tomlCodec) Marshal(record map[string]any) ([]byte, error) {
	return toml.Marshal(record)
}

func (tomlCodec) Unmarshal(data []byte) (map[string]any, error) {
	record := make(map[string]any)
	if err := toml.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return record, nil
}

type yamlCodec struct{}

func (yamlCodec) Ext() string { return ".yaml" }

func (yamlCodec) Marshal(record map[string]any) ([]byte, error) {
	return yaml.Marshal(record)
}

func (yamlCodec) Unmarshal(data []byte) (map[string]any, error) {
	record := make(map[string]any)
	if err := yaml.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return normalizeYAML(record).(map[string]any), nil
}

// normalizeYAML turns the map[any]any nodes yaml produces for non-string
// keys into string-keyed maps.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeYAML(e)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = normalizeYAML(e)
		}
		return out
	case []any:
		for i, e := range t {
			t[i] = normalizeYAML(e)
		}
		return t
	default:
		return v
	}
}
