package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// BuiltinConfig controls the filesystem built-ins.
type BuiltinConfig struct {
	// Workspace confines list_directory and read_file. Empty means the
	// current directory.
	Workspace string

	// MaxReadBytes caps read_file output.
	MaxReadBytes int
}

// RegisterBuiltins adds the standard tool set to the registry.
func RegisterBuiltins(reg *Registry, cfg BuiltinConfig) error {
	builtins := []Tool{
		&CurrentTimeTool{},
		NewListDirectoryTool(cfg),
		NewReadFileTool(cfg),
	}
	for _, tool := range builtins {
		if err := reg.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// pathResolver resolves and validates workspace-relative paths.
type pathResolver struct {
	root string
}

// resolve returns an absolute, cleaned path confined to the workspace root.
func (r pathResolver) resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", fmt.Errorf("path is required")
	}
	root := strings.TrimSpace(r.root)
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(rootAbs, clean)
	}
	rel, err := filepath.Rel(rootAbs, target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes workspace")
	}
	return target, nil
}

// CurrentTimeTool reports the current time, optionally in a named zone.
type CurrentTimeTool struct{}

func (t *CurrentTimeTool) Name() string { return "current_time" }

func (t *CurrentTimeTool) Description() string {
	return "Get the current date and time, optionally in a specific IANA timezone."
}

func (t *CurrentTimeTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"timezone": {
				"type": "string",
				"description": "IANA timezone name such as America/New_York (default: UTC)."
			}
		}
	}`)
}

func (t *CurrentTimeTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var input struct {
		Timezone string `json:"timezone"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &input); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
	}

	loc := time.UTC
	if input.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(input.Timezone)
		if err != nil {
			return nil, fmt.Errorf("unknown timezone %q", input.Timezone)
		}
	}

	now := time.Now().In(loc)
	return json.Marshal(map[string]string{
		"time":     now.Format(time.RFC3339),
		"weekday":  now.Weekday().String(),
		"timezone": loc.String(),
	})
}

// ListDirectoryTool lists one directory inside the workspace.
type ListDirectoryTool struct {
	resolver pathResolver
}

// NewListDirectoryTool creates the tool scoped to the workspace.
func NewListDirectoryTool(cfg BuiltinConfig) *ListDirectoryTool {
	return &ListDirectoryTool{resolver: pathResolver{root: cfg.Workspace}}
}

func (t *ListDirectoryTool) Name() string { return "list_directory" }

func (t *ListDirectoryTool) Description() string {
	return "List the entries of a directory in the workspace."
}

func (t *ListDirectoryTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {
				"type": "string",
				"description": "Directory path relative to the workspace (default: workspace root)."
			}
		}
	}`)
}

type dirEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size,omitempty"`
}

func (t *ListDirectoryTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var input struct {
		Path string `json:"path"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &input); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
	}
	if input.Path == "" {
		input.Path = "."
	}

	target, err := t.resolver.resolve(input.Path)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(target)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", input.Path, err)
	}

	out := make([]dirEntry, 0, len(entries))
	for _, entry := range entries {
		item := dirEntry{Name: entry.Name(), IsDir: entry.IsDir()}
		if info, err := entry.Info(); err == nil && !entry.IsDir() {
			item.Size = info.Size()
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return json.Marshal(out)
}

// ReadFileTool reads one file inside the workspace, bounded in size.
type ReadFileTool struct {
	resolver pathResolver
	maxBytes int
}

// NewReadFileTool creates the tool scoped to the workspace.
func NewReadFileTool(cfg BuiltinConfig) *ReadFileTool {
	limit := cfg.MaxReadBytes
	if limit <= 0 {
		limit = 200000
	}
	return &ReadFileTool{
		resolver: pathResolver{root: cfg.Workspace},
		maxBytes: limit,
	}
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read a text file from the workspace, truncated at the size limit."
}

func (t *ReadFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {
				"type": "string",
				"description": "File path relative to the workspace."
			},
			"max_bytes": {
				"type": "integer",
				"description": "Maximum bytes to read (capped by the tool default).",
				"minimum": 0
			}
		},
		"required": ["path"]
	}`)
}

func (t *ReadFileTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var input struct {
		Path     string `json:"path"`
		MaxBytes int    `json:"max_bytes"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	target, err := t.resolver.resolve(input.Path)
	if err != nil {
		return nil, err
	}

	limit := t.maxBytes
	if input.MaxBytes > 0 && input.MaxBytes < limit {
		limit = input.MaxBytes
	}

	data, err := os.ReadFile(target)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", input.Path, err)
	}

	truncated := false
	if len(data) > limit {
		data = data[:limit]
		truncated = true
	}

	return json.Marshal(map[string]any{
		"path":      input.Path,
		"content":   string(data),
		"truncated": truncated,
	})
}
