package models

// AgentConfig holds the tunables for one agent instance. Zero values fall
// back to runtime defaults when the instance is created.
type AgentConfig struct {
	// Model is the provider-specific model identifier.
	Model string `json:"model" yaml:"model"`

	// Provider names the backing LLM adapter (anthropic, openai, bedrock).
	Provider string `json:"provider" yaml:"provider"`

	// SystemPrompt seeds memory as the first system message.
	SystemPrompt string `json:"system_prompt,omitempty" yaml:"system_prompt"`

	// MaxSteps bounds reasoning iterations per run. <=0 means the
	// runtime default.
	MaxSteps int `json:"max_steps,omitempty" yaml:"max_steps"`

	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature"`
	TopP        *float64 `json:"top_p,omitempty" yaml:"top_p"`
	TopK        *int     `json:"top_k,omitempty" yaml:"top_k"`
	MaxTokens   int      `json:"max_tokens,omitempty" yaml:"max_tokens"`

	// SensitiveToolNames lists tools that require explicit user approval
	// before execution.
	SensitiveToolNames []string `json:"sensitive_tool_names,omitempty" yaml:"sensitive_tool_names"`

	// Extras carries adapter-specific settings that do not warrant
	// first-class fields.
	Extras map[string]any `json:"extras,omitempty" yaml:"extras"`
}

// IsSensitive reports whether the named tool needs approval before running.
func (c AgentConfig) IsSensitive(toolName string) bool {
	for _, name := range c.SensitiveToolNames {
		if name == toolName {
			return true
		}
	}
	return false
}

// Clone returns a copy safe to mutate independently of the original.
func (c AgentConfig) Clone() AgentConfig {
	out := c
	if c.Temperature != nil {
		v := *c.Temperature
		out.Temperature = &v
	}
	if c.TopP != nil {
		v := *c.TopP
		out.TopP = &v
	}
	if c.TopK != nil {
		v := *c.TopK
		out.TopK = &v
	}
	if c.SensitiveToolNames != nil {
		out.SensitiveToolNames = append([]string(nil), c.SensitiveToolNames...)
	}
	if c.Extras != nil {
		out.Extras = make(map[string]any, len(c.Extras))
		for k, v := range c.Extras {
			out.Extras[k] = v
		}
	}
	return out
}
