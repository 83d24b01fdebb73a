// Package provider defines the unified LLM streaming contract and the
// concrete adapters (Anthropic, OpenAI, Bedrock) that normalize each
// vendor's wire format into StreamChunk sequences.
package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/AtharvJoshigit/valuablehelper/pkg/models"
)

// Request carries one LLM turn: the full unified history plus the exported
// tool definitions. The unified history is the source of truth; adapters
// translate it to provider shape on every call.
type Request struct {
	Model        string
	SystemPrompt string
	History      []models.Message
	Tools        []models.ToolDefinition

	Temperature *float64
	TopP        *float64
	TopK        *int
	MaxTokens   int
}

// Response is the non-streaming result of one turn.
type Response struct {
	Content   string
	ToolCalls []models.ToolCall
	Usage     *models.UsageMetadata
}

// Provider is the contract every LLM adapter implements.
//
// Stream returns a finite, non-restartable chunk sequence closed by the
// producing goroutine when the provider signals end-of-turn. Within a turn,
// content chunks arrive in textual order, tool_call chunks may interleave
// with content, and all tool_call chunks arrive before the stream ends.
// Stream errors are delivered as a final chunk with FinishReason "error"
// wrapping a *ProviderError in the Content marker; callers that need the
// typed error use Generate or inspect the terminator.
type Provider interface {
	Name() string

	// Generate runs one non-streaming turn.
	Generate(ctx context.Context, req *Request) (*Response, error)

	// Stream runs one streaming turn.
	Stream(ctx context.Context, req *Request) (<-chan *models.StreamChunk, error)
}

// EnsureToolCallIDs fills in synthesized IDs for calls whose provider
// omitted one, in place. The synthesized id is stable for the rest of the
// conversation: the same value appears in the tool message answering the
// call.
func EnsureToolCallIDs(calls []models.ToolCall) {
	for i := range calls {
		if calls[i].ID == "" {
			calls[i].ID = models.NewToolCallID()
		}
	}
}

// sendChunk delivers one chunk unless the request context ends first, and
// reports whether the consumer is still listening. Producer goroutines use
// it for every send so a cancelled run never strands them mid-stream.
func sendChunk(ctx context.Context, out chan<- *models.StreamChunk, chunk *models.StreamChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// Collect drains a chunk stream into a Response. Adapters without a native
// non-streaming endpoint implement Generate with it.
func Collect(ctx context.Context, chunks <-chan *models.StreamChunk) (*Response, error) {
	resp := &Response{}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				EnsureToolCallIDs(resp.ToolCalls)
				return resp, nil
			}
			if chunk.Content != "" {
				resp.Content += chunk.Content
			}
			if chunk.ToolCall != nil {
				resp.ToolCalls = append(resp.ToolCalls, *chunk.ToolCall)
			}
			if chunk.Usage != nil {
				resp.Usage = chunk.Usage
			}
		}
	}
}

// Registry maps provider names to constructed adapters. A provider whose
// API key is missing is simply absent; looking it up is a configuration
// error at the call site, not a process failure.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds or replaces a provider under its own name.
func (r *Registry) Register(p Provider) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the named provider.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (available: %v)", name, r.namesLocked())
	}
	return p, nil
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
