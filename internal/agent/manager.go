package agent

import (
	"fmt"
	"sort"
	"sync"

	"github.com/AtharvJoshigit/valuablehelper/internal/tools"
	"github.com/AtharvJoshigit/valuablehelper/pkg/models"
)

// Factory builds agent instances for the manager. The runtime wires one
// that resolves the provider, executor, logger, and metrics; tests supply
// fakes. A nil memory means "create your own".
type Factory func(id string, cfg models.AgentConfig, registry *tools.Registry, memory *Memory) (*Instance, error)

// Manager is the process-wide registry of named agent instances. Exactly
// one agent is "current" and serves callers that omit an id. All mutations
// are serialized; reads are concurrent.
type Manager struct {
	mu      sync.RWMutex
	agents  map[string]*Instance
	current string
	factory Factory
}

// NewManager creates a manager around the instance factory.
func NewManager(factory Factory) *Manager {
	return &Manager{
		agents:  make(map[string]*Instance),
		factory: factory,
	}
}

// CreateAndRegister constructs an agent via the factory and registers it.
// The first registered agent becomes current. memory may be nil.
func (m *Manager) CreateAndRegister(id string, cfg models.AgentConfig, registry *tools.Registry, memory *Memory) (*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.agents[id]; exists {
		return nil, fmt.Errorf("agent %q already registered", id)
	}
	inst, err := m.factory(id, cfg, registry, memory)
	if err != nil {
		return nil, err
	}
	m.agents[id] = inst
	if m.current == "" {
		m.current = id
	}
	return inst, nil
}

// GetOrCreate returns the named agent, constructing it from the seed config
// when absent. Used for per-chat agents keyed by chat id.
func (m *Manager) GetOrCreate(id string, seed models.AgentConfig, registry *tools.Registry) (*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if inst, ok := m.agents[id]; ok {
		return inst, nil
	}
	inst, err := m.factory(id, seed, registry, nil)
	if err != nil {
		return nil, err
	}
	m.agents[id] = inst
	if m.current == "" {
		m.current = id
	}
	return inst, nil
}

// Get returns the named agent; an empty id resolves to the current one.
func (m *Manager) Get(id string) (*Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if id == "" {
		id = m.current
	}
	inst, ok := m.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %q not found", id)
	}
	return inst, nil
}

// Current returns the current agent.
func (m *Manager) Current() (*Instance, error) {
	return m.Get("")
}

// CurrentID returns the current agent id, or empty when none registered.
func (m *Manager) CurrentID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// SetCurrent switches the current agent.
func (m *Manager) SetCurrent(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.agents[id]; !ok {
		return fmt.Errorf("agent %q not found", id)
	}
	m.current = id
	return nil
}

// List returns the registered agent ids, sorted.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.agents))
	for id := range m.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Remove drops an agent. Removing the current agent leaves no current
// until SetCurrent or the next registration.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.agents[id]; !ok {
		return fmt.Errorf("agent %q not found", id)
	}
	delete(m.agents, id)
	if m.current == id {
		m.current = ""
	}
	return nil
}

// Update atomically replaces an instance with one built from the new
// config. The old memory and registry are re-attached unless explicitly
// dropped; the prior config is recorded in the new instance's metadata for
// audit. This is how model switching preserves conversation state.
func (m *Manager) Update(id string, cfg models.AgentConfig, preserveMemory, preserveRegistry bool) (*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %q not found", id)
	}

	var registry *tools.Registry
	if preserveRegistry {
		registry = old.Registry
	}
	var memory *Memory
	if preserveMemory {
		memory = old.Memory()
	}

	inst, err := m.factory(id, cfg, registry, memory)
	if err != nil {
		return nil, err
	}
	inst.SetMetadata("previous_config", old.Config.Clone())

	m.agents[id] = inst
	return inst, nil
}

// TransferMemory rebinds dst's memory to src's log. Both agents then share
// the same conversation; the rebinding is atomic under the manager lock.
func (m *Manager) TransferMemory(srcID, dstID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, ok := m.agents[srcID]
	if !ok {
		return fmt.Errorf("agent %q not found", srcID)
	}
	dst, ok := m.agents[dstID]
	if !ok {
		return fmt.Errorf("agent %q not found", dstID)
	}
	dst.SetMemory(src.Memory())
	return nil
}
