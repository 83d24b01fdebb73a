package tools

import (
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/AtharvJoshigit/valuablehelper/pkg/models"
)

// Registry maps tool names to tools with thread-safe registration, lookup,
// and vendor-neutral export.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	compiled map[string]*jsonschema.Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:    make(map[string]Tool),
		compiled: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool. Registering a name twice is an error; use
// Unregister first to replace a tool.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("cannot register nil tool")
	}
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("cannot register tool with empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = tool
	delete(r.compiled, name)
	return nil
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.compiled, name)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Export produces the vendor-neutral tool list handed to provider adapters,
// sorted by name. Schemas are scrubbed of metadata keys (title, $schema,
// $defs, definitions, additionalProperties) that strict providers reject.
func (r *Registry) Export() []models.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]models.ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, models.ToolDefinition{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  ScrubSchema(tool.Schema()),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// ValidateArgs checks args against the named tool's schema. Compiled schemas
// are cached per tool. An unknown tool is an error.
func (r *Registry) ValidateArgs(name string, args []byte) error {
	r.mu.RLock()
	tool, ok := r.tools[name]
	schema := r.compiled[name]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("unknown tool: %s", name)
	}

	if schema == nil {
		var err error
		schema, err = jsonschema.CompileString(name+".json", string(tool.Schema()))
		if err != nil {
			return fmt.Errorf("tool %q has invalid schema: %w", name, err)
		}
		r.mu.Lock()
		r.compiled[name] = schema
		r.mu.Unlock()
	}

	var payload any
	if len(args) == 0 {
		payload = map[string]any{}
	} else if err := jsonUnmarshal(args, &payload); err != nil {
		return fmt.Errorf("tool %q arguments are not valid JSON: %w", name, err)
	}
	if err := schema.Validate(payload); err != nil {
		return fmt.Errorf("tool %q arguments rejected: %w", name, err)
	}
	return nil
}
