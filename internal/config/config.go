// Package config loads and validates the runtime configuration from YAML
// (or JSON5) files, with $include composition and environment expansion.
package config

import (
	"fmt"
	"time"
)

// Config is the top-level configuration for the runtime.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
	LLM      LLMConfig      `yaml:"llm"`
	Agent    AgentConfig    `yaml:"agent"`
	Executor ExecutorConfig `yaml:"executor"`
	Director DirectorConfig `yaml:"director"`
	Tasks    TasksConfig    `yaml:"tasks"`
	Cron     CronConfig     `yaml:"cron"`
	Gateways GatewaysConfig `yaml:"gateways"`
}

// ServerConfig covers the HTTP surface: health, metrics, and the websocket
// gateway share one listener.
type ServerConfig struct {
	Host     string `yaml:"host"`
	HTTPPort int    `yaml:"http_port"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.HTTPPort)
}

type LoggingConfig struct {
	Level          string   `yaml:"level"`
	Format         string   `yaml:"format"`
	AddSource      bool     `yaml:"add_source"`
	RedactPatterns []string `yaml:"redact_patterns"`
}

type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Environment  string  `yaml:"environment"`
	Insecure     bool    `yaml:"insecure"`
}

type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
}

type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`

	// Region applies to bedrock only.
	Region string `yaml:"region"`
}

// AgentConfig holds defaults for new agent instances and their memory.
type AgentConfig struct {
	Model          string   `yaml:"model"`
	Provider       string   `yaml:"provider"`
	SystemPrompt   string   `yaml:"system_prompt"`
	MaxSteps       int      `yaml:"max_steps"`
	MaxTokens      int      `yaml:"max_tokens"`
	SensitiveTools []string `yaml:"sensitive_tools"`

	// MaxMessages caps memory length; 0 disables trimming.
	MaxMessages int `yaml:"max_messages"`

	// CompactTail is the number of trailing messages kept verbatim when
	// memory is compacted into a checkpoint.
	CompactTail int `yaml:"compact_tail"`
}

type ExecutorConfig struct {
	// Timeout bounds each tool call.
	Timeout time.Duration `yaml:"timeout"`

	// MaxConcurrency caps tool calls running at once per batch.
	MaxConcurrency int `yaml:"max_concurrency"`

	// AllowedTools, when non-empty, is an allow-list of executable tools.
	AllowedTools []string `yaml:"allowed_tools"`

	// MaxResultLength truncates tool results beyond this many runes.
	// 0 disables truncation.
	MaxResultLength int `yaml:"max_result_length"`
}

type DirectorConfig struct {
	// MaxConcurrentTasks is how many tasks run at once.
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks"`

	// WatchdogInterval is how often tracked runs are checked for staleness.
	WatchdogInterval time.Duration `yaml:"watchdog_interval"`

	// InactivityTimeout blocks a run with no stream activity this long.
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`

	// MaxTaskDuration blocks a run exceeding this wall-clock budget.
	MaxTaskDuration time.Duration `yaml:"max_task_duration"`

	// MaxToolCalls blocks a run after this many tool invocations.
	MaxToolCalls int `yaml:"max_tool_calls"`
}

type TasksConfig struct {
	// File is the JSON task store path.
	File string `yaml:"file"`

	// Watch enables the fsnotify watcher that republishes external edits.
	Watch bool `yaml:"watch"`
}

type CronConfig struct {
	Jobs []CronJobConfig `yaml:"jobs"`
}

// CronJobConfig describes one scheduled prompt injection.
type CronJobConfig struct {
	Name     string `yaml:"name"`
	Schedule string `yaml:"schedule"`
	Prompt   string `yaml:"prompt"`
	ChatID   string `yaml:"chat_id"`
}

type GatewaysConfig struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`

	// AllowedChatIDs restricts who may talk to the bot; empty allows all.
	AllowedChatIDs []int64 `yaml:"allowed_chat_ids"`
}

type WebSocketConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads, merges, and validates the configuration file at path.
// Environment variables are expanded, $include directives are resolved
// relative to the including file, and unknown keys are rejected.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Validate rejects configurations the runtime cannot start with.
func (c *Config) Validate() error {
	if c.Server.HTTPPort < 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d out of range", c.Server.HTTPPort)
	}
	if c.Director.MaxConcurrentTasks < 1 {
		return fmt.Errorf("director.max_concurrent_tasks must be at least 1")
	}
	if c.Executor.MaxConcurrency < 1 {
		return fmt.Errorf("executor.max_concurrency must be at least 1")
	}
	for i, job := range c.Cron.Jobs {
		if job.Name == "" {
			return fmt.Errorf("cron.jobs[%d]: name is required", i)
		}
		if job.Schedule == "" {
			return fmt.Errorf("cron job %q: schedule is required", job.Name)
		}
	}
	if c.Gateways.Telegram.Enabled && c.Gateways.Telegram.BotToken == "" {
		return fmt.Errorf("gateways.telegram.bot_token is required when telegram is enabled")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "anthropic"
	}
	if cfg.Agent.Provider == "" {
		cfg.Agent.Provider = cfg.LLM.DefaultProvider
	}
	if cfg.Agent.MaxSteps == 0 {
		cfg.Agent.MaxSteps = 25
	}
	if cfg.Agent.CompactTail == 0 {
		cfg.Agent.CompactTail = 10
	}
	if cfg.Executor.Timeout == 0 {
		cfg.Executor.Timeout = 300 * time.Second
	}
	if cfg.Executor.MaxConcurrency == 0 {
		cfg.Executor.MaxConcurrency = 8
	}
	if cfg.Executor.MaxResultLength == 0 {
		cfg.Executor.MaxResultLength = 8000
	}
	if cfg.Director.MaxConcurrentTasks == 0 {
		cfg.Director.MaxConcurrentTasks = 1
	}
	if cfg.Director.WatchdogInterval == 0 {
		cfg.Director.WatchdogInterval = 45 * time.Second
	}
	if cfg.Director.InactivityTimeout == 0 {
		cfg.Director.InactivityTimeout = 240 * time.Second
	}
	if cfg.Director.MaxTaskDuration == 0 {
		cfg.Director.MaxTaskDuration = 900 * time.Second
	}
	if cfg.Director.MaxToolCalls == 0 {
		cfg.Director.MaxToolCalls = 100
	}
	if cfg.Tasks.File == "" {
		cfg.Tasks.File = "tasks.json"
	}
	if cfg.Gateways.WebSocket.Path == "" {
		cfg.Gateways.WebSocket.Path = "/ws"
	}
}
