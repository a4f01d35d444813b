package jsonapiupdate

import (
	"bytes"
	"fmt"
	"io"

	gojson "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// DecodeJSON decodes a JSON attributes payload into a tree suitable for
// Sanitize. Numbers decode as json.Number so identifiers coerce back to
// their source text exactly, without float rounding.
func DecodeJSON(data []byte) (map[string]any, error) {
	return DecodeJSONReader(bytes.NewReader(data))
}

// DecodeJSONReader decodes a JSON attributes payload from r.
func DecodeJSONReader(r io.Reader) (map[string]any, error) {
	dec := gojson.NewDecoder(r)
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("jsonapiupdate: decode json: %w", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotMapping
	}
	return m, nil
}

// DecodeYAML decodes a YAML attributes payload, normalizing mapping keys to
// strings recursively so numeric-keyed association hashes ("0":, "1":) keep
// the shape Sanitize expects.
func DecodeYAML(data []byte) (map[string]any, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("jsonapiupdate: decode yaml: %w", err)
	}
	m, ok := normalizeYAML(v).(map[string]any)
	if !ok {
		return nil, ErrNotMapping
	}
	return m, nil
}

// normalizeYAML rewrites yaml.v3's decoded trees into the map[string]any /
// []any shape the sanitizer walks. yaml.v3 only produces map[string]any when
// every key is a string; mixed or numeric keys come back as map[any]any.
func normalizeYAML(v any) any {
	switch node := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(node))
		for k, val := range node {
			out[k] = normalizeYAML(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(node))
		for k, val := range node {
			out[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return out
	case []any:
		out := make([]any, len(node))
		for i, el := range node {
			out[i] = normalizeYAML(el)
		}
		return out
	default:
		return v
	}
}
