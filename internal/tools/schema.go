package tools

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

func jsonUnmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// SchemaFor reflects a JSON Schema from a parameter struct. The result is
// inlined (no $ref) and already scrubbed for provider export.
func SchemaFor(v any) json.RawMessage {
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(v)
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return ScrubSchema(payload)
}

// scrubKeys are JSON Schema metadata keys that some providers reject in
// strict function-calling mode.
var scrubKeys = map[string]bool{
	"title":                true,
	"$schema":              true,
	"$defs":                true,
	"definitions":          true,
	"additionalProperties": true,
}

// ScrubSchema removes metadata keys from a schema document, recursively.
// Invalid input is returned unchanged.
func ScrubSchema(raw json.RawMessage) json.RawMessage {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return raw
	}
	doc = scrubValue(doc)
	payload, err := json.Marshal(doc)
	if err != nil {
		return raw
	}
	return payload
}

func scrubValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		for key := range scrubKeys {
			delete(typed, key)
		}
		for key, value := range typed {
			typed[key] = scrubValue(value)
		}
		return typed
	case []any:
		for i, value := range typed {
			typed[i] = scrubValue(value)
		}
		return typed
	default:
		return v
	}
}
