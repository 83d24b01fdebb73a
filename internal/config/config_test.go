package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
llm:
  default_provider: anthropic
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("http_port = %d, want 8080", cfg.Server.HTTPPort)
	}
	if cfg.Executor.Timeout != 300*time.Second {
		t.Errorf("executor.timeout = %v, want 300s", cfg.Executor.Timeout)
	}
	if cfg.Executor.MaxConcurrency != 8 {
		t.Errorf("executor.max_concurrency = %d, want 8", cfg.Executor.MaxConcurrency)
	}
	if cfg.Director.MaxConcurrentTasks != 1 {
		t.Errorf("director.max_concurrent_tasks = %d, want 1", cfg.Director.MaxConcurrentTasks)
	}
	if cfg.Director.WatchdogInterval != 45*time.Second {
		t.Errorf("director.watchdog_interval = %v, want 45s", cfg.Director.WatchdogInterval)
	}
	if cfg.Director.InactivityTimeout != 240*time.Second {
		t.Errorf("director.inactivity_timeout = %v, want 240s", cfg.Director.InactivityTimeout)
	}
	if cfg.Director.MaxTaskDuration != 900*time.Second {
		t.Errorf("director.max_task_duration = %v, want 900s", cfg.Director.MaxTaskDuration)
	}
	if cfg.Director.MaxToolCalls != 100 {
		t.Errorf("director.max_tool_calls = %d, want 100", cfg.Director.MaxToolCalls)
	}
	if cfg.Agent.CompactTail != 10 {
		t.Errorf("agent.compact_tail = %d, want 10", cfg.Agent.CompactTail)
	}
	if cfg.Agent.Provider != "anthropic" {
		t.Errorf("agent.provider = %q, want anthropic", cfg.Agent.Provider)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_BOT_TOKEN", "tok-123")

	path := writeConfig(t, "config.yaml", `
gateways:
  telegram:
    enabled: true
    bot_token: ${TEST_BOT_TOKEN}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Gateways.Telegram.BotToken != "tok-123" {
		t.Errorf("bot_token = %q, want tok-123", cfg.Gateways.Telegram.BotToken)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  host: 0.0.0.0
  turbo: true
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()

	base := filepath.Join(dir, "base.yaml")
	if err := os.WriteFile(base, []byte(strings.TrimSpace(`
logging:
  level: debug
  format: text
executor:
  max_concurrency: 4
`)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	main := filepath.Join(dir, "main.yaml")
	if err := os.WriteFile(main, []byte(strings.TrimSpace(`
$include: base.yaml
executor:
  max_concurrency: 2
`)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(main)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Included values survive; the including file wins on conflict.
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging.level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Executor.MaxConcurrency != 2 {
		t.Errorf("executor.max_concurrency = %d, want 2", cfg.Executor.MaxConcurrency)
	}
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()

	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	if err := os.WriteFile(a, []byte("$include: b.yaml"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.WriteFile(b, []byte("$include: a.yaml"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	_, err := Load(a)
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if !strings.Contains(err.Error(), "cycle") {
		t.Errorf("error = %v, want include cycle", err)
	}
}

func TestLoadAcceptsJSON5(t *testing.T) {
	path := writeConfig(t, "config.json5", `
{
  // comments are allowed here
  logging: { level: "warn" },
  tasks: { file: "graph.json", watch: true },
}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("logging.level = %q, want warn", cfg.Logging.Level)
	}
	if cfg.Tasks.File != "graph.json" || !cfg.Tasks.Watch {
		t.Errorf("tasks = %+v", cfg.Tasks)
	}
}

func TestValidateRejectsBadCronJob(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
cron:
  jobs:
    - name: morning-brief
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "schedule") {
		t.Errorf("error = %v, want schedule requirement", err)
	}
}

func TestValidateRequiresTelegramToken(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
gateways:
  telegram:
    enabled: true
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "bot_token") {
		t.Errorf("error = %v, want bot_token requirement", err)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default() config fails validation: %v", err)
	}
	if cfg.Tasks.File != "tasks.json" {
		t.Errorf("tasks.file = %q, want tasks.json", cfg.Tasks.File)
	}
}
