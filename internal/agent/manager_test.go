package agent

import (
	"testing"

	"github.com/AtharvJoshigit/valuablehelper/internal/tools"
	"github.com/AtharvJoshigit/valuablehelper/pkg/models"
)

func newTestFactory() Factory {
	return func(id string, cfg models.AgentConfig, registry *tools.Registry, memory *Memory) (*Instance, error) {
		if registry == nil {
			registry = tools.NewRegistry()
		}
		p := &scriptedProvider{}
		exec := newTestExecutor(registry, nil, ExecutorConfig{})
		return NewInstance(id, cfg, p, registry, exec, InstanceOptions{Memory: memory})
	}
}

func TestManager_CreateAndRegister(t *testing.T) {
	m := NewManager(newTestFactory())

	first, err := m.CreateAndRegister("main", models.AgentConfig{Model: "m1"}, nil, nil)
	if err != nil {
		t.Fatalf("CreateAndRegister() error = %v", err)
	}
	if got := m.CurrentID(); got != "main" {
		t.Errorf("CurrentID() = %q, want %q (first registration becomes current)", got, "main")
	}

	if _, err := m.CreateAndRegister("main", models.AgentConfig{}, nil, nil); err == nil {
		t.Error("duplicate CreateAndRegister() did not fail")
	}

	if _, err := m.CreateAndRegister("helper", models.AgentConfig{}, nil, nil); err != nil {
		t.Fatalf("CreateAndRegister(helper) error = %v", err)
	}
	if got := m.CurrentID(); got != "main" {
		t.Errorf("CurrentID() = %q after second registration, want %q", got, "main")
	}

	got, err := m.Get("")
	if err != nil {
		t.Fatalf("Get(\"\") error = %v", err)
	}
	if got != first {
		t.Error("Get(\"\") did not resolve to the current agent")
	}
}

func TestManager_SetCurrentAndList(t *testing.T) {
	m := NewManager(newTestFactory())
	for _, id := range []string{"b", "a", "c"} {
		if _, err := m.CreateAndRegister(id, models.AgentConfig{}, nil, nil); err != nil {
			t.Fatalf("CreateAndRegister(%s) error = %v", id, err)
		}
	}

	ids := m.List()
	want := []string{"a", "b", "c"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("List() = %v, want %v", ids, want)
		}
	}

	if err := m.SetCurrent("c"); err != nil {
		t.Fatalf("SetCurrent(c) error = %v", err)
	}
	if got := m.CurrentID(); got != "c" {
		t.Errorf("CurrentID() = %q, want %q", got, "c")
	}
	if err := m.SetCurrent("zzz"); err == nil {
		t.Error("SetCurrent(zzz) did not fail for unknown agent")
	}
}

func TestManager_Remove(t *testing.T) {
	m := NewManager(newTestFactory())
	m.CreateAndRegister("main", models.AgentConfig{}, nil, nil)

	if err := m.Remove("main"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if got := m.CurrentID(); got != "" {
		t.Errorf("CurrentID() = %q after removing current, want empty", got)
	}
	if _, err := m.Get("main"); err == nil {
		t.Error("Get() found a removed agent")
	}
	if err := m.Remove("main"); err == nil {
		t.Error("Remove() of unknown agent did not fail")
	}
}

func TestManager_GetOrCreate(t *testing.T) {
	m := NewManager(newTestFactory())

	a, err := m.GetOrCreate("chat-42", models.AgentConfig{Model: "seed"}, nil)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	b, err := m.GetOrCreate("chat-42", models.AgentConfig{Model: "other"}, nil)
	if err != nil {
		t.Fatalf("GetOrCreate() second call error = %v", err)
	}
	if a != b {
		t.Error("GetOrCreate() created a second instance for the same id")
	}
	if b.Config.Model != "seed" {
		t.Errorf("existing agent config model = %q, want seed config untouched", b.Config.Model)
	}
}

func TestManager_UpdatePreservesState(t *testing.T) {
	m := NewManager(newTestFactory())
	old, err := m.CreateAndRegister("main", models.AgentConfig{Model: "m1"}, newTestRegistry(echoTool{}), nil)
	if err != nil {
		t.Fatalf("CreateAndRegister() error = %v", err)
	}
	old.Memory().Add(models.UserMessage("remember me"))

	updated, err := m.Update("main", models.AgentConfig{Model: "m2"}, true, true)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated == old {
		t.Fatal("Update() returned the old instance")
	}
	if updated.Config.Model != "m2" {
		t.Errorf("updated model = %q, want m2", updated.Config.Model)
	}
	if updated.Memory() != old.Memory() {
		t.Error("memory not preserved across Update()")
	}
	if updated.Registry != old.Registry {
		t.Error("registry not preserved across Update()")
	}
	prev, ok := updated.Metadata()["previous_config"]
	if !ok {
		t.Fatal("previous_config metadata not recorded")
	}
	if cfg, ok := prev.(models.AgentConfig); !ok || cfg.Model != "m1" {
		t.Errorf("previous_config = %+v, want prior config with model m1", prev)
	}

	resolved, err := m.Get("main")
	if err != nil || resolved != updated {
		t.Error("manager still resolves the old instance after Update()")
	}
}

func TestManager_UpdateDropsMemoryWhenNotPreserved(t *testing.T) {
	m := NewManager(newTestFactory())
	old, _ := m.CreateAndRegister("main", models.AgentConfig{Model: "m1"}, nil, nil)
	old.Memory().Add(models.UserMessage("ephemeral"))

	updated, err := m.Update("main", models.AgentConfig{Model: "m2"}, false, false)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Memory() == old.Memory() {
		t.Error("memory carried over despite preserveMemory=false")
	}
}

func TestManager_TransferMemory(t *testing.T) {
	m := NewManager(newTestFactory())
	m.CreateAndRegister("src", models.AgentConfig{}, nil, nil)
	m.CreateAndRegister("dst", models.AgentConfig{}, nil, nil)

	src, _ := m.Get("src")
	dst, _ := m.Get("dst")
	src.Memory().Add(models.UserMessage("shared context"))

	if err := m.TransferMemory("src", "dst"); err != nil {
		t.Fatalf("TransferMemory() error = %v", err)
	}
	if dst.Memory() != src.Memory() {
		t.Fatal("destination does not share the source memory")
	}

	// Shared log: a message added through either agent shows in both.
	dst.Memory().Add(models.UserMessage("from dst"))
	if got := len(src.Memory().All()); got != len(dst.Memory().All()) {
		t.Error("memories diverged after transfer")
	}

	if err := m.TransferMemory("src", "missing"); err == nil {
		t.Error("TransferMemory() to unknown agent did not fail")
	}
}
