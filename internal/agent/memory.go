package agent

import (
	"fmt"
	"sync"

	"github.com/AtharvJoshigit/valuablehelper/pkg/models"
)

// Memory is the ordered message log backing one agent instance. A single
// caller streams against an instance at a time, but the manager may
// transfer the log between instances concurrently, so access is guarded.
type Memory struct {
	mu          sync.Mutex
	messages    []models.Message
	maxMessages int
	compactTail int
}

// NewMemory creates a memory log. maxMessages <= 0 disables retention
// trimming.
func NewMemory(maxMessages int) *Memory {
	return &Memory{maxMessages: maxMessages}
}

// SetCompactTail enables checkpoint compaction during retention: when the
// log exceeds its limit, the overflow is folded into a checkpoint message
// keeping the last keepTail messages verbatim, before any hard trim.
// keepTail <= 0 disables compaction.
func (m *Memory) SetCompactTail(keepTail int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compactTail = keepTail
}

// Add appends a message and applies the retention rule: when the log
// exceeds the limit, all system messages survive plus the most recent
// non-system messages that fit, in original order.
func (m *Memory) Add(msg models.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	m.trimLocked()
}

func (m *Memory) trimLocked() {
	if m.maxMessages <= 0 || len(m.messages) <= m.maxMessages {
		return
	}
	if m.compactTail > 0 {
		m.compactLocked(m.compactTail)
		if len(m.messages) <= m.maxMessages {
			return
		}
	}

	systemCount := 0
	for _, msg := range m.messages {
		if msg.Role == models.RoleSystem {
			systemCount++
		}
	}
	keep := m.maxMessages - systemCount
	if keep < 0 {
		keep = 0
	}

	// Count how many trailing non-system messages fit, then rebuild
	// preserving original order.
	nonSystem := len(m.messages) - systemCount
	drop := nonSystem - keep
	if drop <= 0 {
		return
	}

	trimmed := make([]models.Message, 0, m.maxMessages)
	for _, msg := range m.messages {
		if msg.Role != models.RoleSystem && drop > 0 {
			drop--
			continue
		}
		trimmed = append(trimmed, msg)
	}
	m.messages = trimmed
}

// All returns a snapshot copy of the log.
func (m *Memory) All() []models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// Len returns the number of messages.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// Clear empties the log. With keepSystem set, the leading system messages
// survive so the agent keeps its seeded prompt.
func (m *Memory) Clear(keepSystem bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !keepSystem {
		m.messages = nil
		return
	}
	var kept []models.Message
	for _, msg := range m.messages {
		if msg.Role == models.RoleSystem {
			kept = append(kept, msg)
		}
	}
	m.messages = kept
}

// Compact replaces the leading window of non-system messages with one
// synthetic system checkpoint, keeping the last keepTail messages verbatim.
// System messages always survive in place.
func (m *Memory) Compact(keepTail int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compactLocked(keepTail)
}

func (m *Memory) compactLocked(keepTail int) {
	if keepTail <= 0 {
		keepTail = 10
	}

	// Everything before the tail that is not a system message is the
	// compaction window.
	tailStart := len(m.messages) - keepTail
	if tailStart <= 0 {
		return
	}

	var head []models.Message
	dropped := 0
	for _, msg := range m.messages[:tailStart] {
		if msg.Role == models.RoleSystem {
			head = append(head, msg)
		} else {
			dropped++
		}
	}
	if dropped == 0 {
		return
	}

	checkpoint := models.SystemMessage(fmt.Sprintf(
		"[conversation checkpoint: %d earlier messages compacted]", dropped))
	compacted := make([]models.Message, 0, len(head)+1+keepTail)
	compacted = append(compacted, head...)
	compacted = append(compacted, checkpoint)
	compacted = append(compacted, m.messages[tailStart:]...)
	m.messages = compacted
}
