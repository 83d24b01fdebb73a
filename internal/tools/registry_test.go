package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

// staticTool is a minimal tool for registry tests.
type staticTool struct {
	name   string
	schema string
}

func (t staticTool) Name() string        { return t.name }
func (t staticTool) Description() string { return "static test tool" }

func (t staticTool) Schema() json.RawMessage {
	if t.schema == "" {
		return json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}}}`)
	}
	return json.RawMessage(t.schema)
}

func (t staticTool) Execute(context.Context, json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`"ok"`), nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(staticTool{name: "alpha"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if _, ok := reg.Get("alpha"); !ok {
		t.Error("Get(alpha) = not found")
	}
	if _, ok := reg.Get("missing"); ok {
		t.Error("Get(missing) = found")
	}

	if err := reg.Register(staticTool{name: "alpha"}); err == nil {
		t.Error("Register() duplicate succeeded, want error")
	}
	if err := reg.Register(staticTool{name: ""}); err == nil {
		t.Error("Register() empty name succeeded, want error")
	}
	if err := reg.Register(nil); err == nil {
		t.Error("Register(nil) succeeded, want error")
	}

	reg.Unregister("alpha")
	if _, ok := reg.Get("alpha"); ok {
		t.Error("Get after Unregister = found")
	}
	// Replacement after Unregister is allowed.
	if err := reg.Register(staticTool{name: "alpha"}); err != nil {
		t.Errorf("Register() after Unregister error = %v", err)
	}
}

func TestRegistry_NamesSorted(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := reg.Register(staticTool{name: name}); err != nil {
			t.Fatal(err)
		}
	}
	names := reg.Names()
	want := []string{"alpha", "mid", "zeta"}
	for i, name := range want {
		if names[i] != name {
			t.Fatalf("Names() = %v, want %v", names, want)
		}
	}
	if reg.Len() != 3 {
		t.Errorf("Len() = %d, want 3", reg.Len())
	}
}

func TestRegistry_ExportScrubsSchemas(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(staticTool{
		name:   "scrubbed",
		schema: `{"type":"object","title":"Args","$schema":"http://json-schema.org/draft-07/schema#","additionalProperties":false,"properties":{"x":{"type":"string","title":"X"}}}`,
	})
	if err != nil {
		t.Fatal(err)
	}

	defs := reg.Export()
	if len(defs) != 1 {
		t.Fatalf("Export() = %d defs, want 1", len(defs))
	}
	payload := string(defs[0].Parameters)
	for _, banned := range []string{"title", "$schema", "additionalProperties"} {
		if strings.Contains(payload, banned) {
			t.Errorf("Export() schema still contains %q: %s", banned, payload)
		}
	}
	if !strings.Contains(payload, `"x"`) {
		t.Errorf("Export() schema lost properties: %s", payload)
	}
}

func TestRegistry_ValidateArgs(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(staticTool{
		name:   "strict",
		schema: `{"type":"object","properties":{"count":{"type":"integer"}},"required":["count"]}`,
	})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		tool    string
		args    string
		wantErr bool
	}{
		{"valid", "strict", `{"count": 3}`, false},
		{"missing required", "strict", `{}`, true},
		{"wrong type", "strict", `{"count": "three"}`, true},
		{"not json", "strict", `{broken`, true},
		{"unknown tool", "ghost", `{}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.ValidateArgs(tt.tool, []byte(tt.args))
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateArgs(%s, %s) error = %v, wantErr %v", tt.tool, tt.args, err, tt.wantErr)
			}
		})
	}
}

func TestScrubSchema(t *testing.T) {
	raw := json.RawMessage(`{
		"type": "object",
		"title": "Top",
		"$defs": {"Inner": {"type": "string"}},
		"properties": {
			"nested": {"type": "object", "additionalProperties": false, "title": "Nested"}
		},
		"items": [{"title": "ItemTitle", "type": "string"}]
	}`)

	scrubbed := string(ScrubSchema(raw))
	for _, banned := range []string{"title", "$defs", "additionalProperties"} {
		if strings.Contains(scrubbed, banned) {
			t.Errorf("ScrubSchema() kept %q: %s", banned, scrubbed)
		}
	}
	if !strings.Contains(scrubbed, `"nested"`) {
		t.Errorf("ScrubSchema() dropped real keys: %s", scrubbed)
	}

	// Invalid input passes through untouched.
	broken := json.RawMessage(`{oops`)
	if got := string(ScrubSchema(broken)); got != `{oops` {
		t.Errorf("ScrubSchema(invalid) = %q, want passthrough", got)
	}
}

func TestSchemaFor(t *testing.T) {
	type params struct {
		Query string `json:"query" jsonschema:"description=Search query"`
		Limit int    `json:"limit,omitempty"`
	}
	schema := string(SchemaFor(params{}))
	if !strings.Contains(schema, `"query"`) || !strings.Contains(schema, `"limit"`) {
		t.Errorf("SchemaFor() missing fields: %s", schema)
	}
	if strings.Contains(schema, "$ref") || strings.Contains(schema, "$defs") {
		t.Errorf("SchemaFor() not inlined: %s", schema)
	}
}
