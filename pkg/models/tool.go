package models

import "encoding/json"

// ToolDefinition is the vendor-neutral description of a tool handed to
// provider adapters. Parameters holds a JSON Schema object already scrubbed
// of metadata keys that upset strict providers.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}
