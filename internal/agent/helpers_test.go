package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AtharvJoshigit/valuablehelper/internal/provider"
	"github.com/AtharvJoshigit/valuablehelper/internal/tools"
	"github.com/AtharvJoshigit/valuablehelper/pkg/models"
)

// scriptedProvider replays canned chunk sequences, one per Stream call.
type scriptedProvider struct {
	mu    sync.Mutex
	turns [][]*models.StreamChunk
	calls int

	// requests records the history each turn saw, for pairing assertions.
	requests []*provider.Request
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Generate(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	chunks, err := p.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return provider.Collect(ctx, chunks)
}

func (p *scriptedProvider) Stream(ctx context.Context, req *provider.Request) (<-chan *models.StreamChunk, error) {
	p.mu.Lock()
	if p.calls >= len(p.turns) {
		p.mu.Unlock()
		return nil, errors.New("scripted: no more turns")
	}
	turn := p.turns[p.calls]
	p.calls++
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	out := make(chan *models.StreamChunk)
	go func() {
		defer close(out)
		for _, chunk := range turn {
			select {
			case <-ctx.Done():
				return
			case out <- chunk:
			}
		}
	}()
	return out, nil
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// turnOf builds one provider turn ending with a stop terminator.
func turnOf(chunks ...*models.StreamChunk) []*models.StreamChunk {
	return append(chunks, models.DoneChunk("stop"))
}

// echoTool returns its arguments back as the result.
type echoTool struct{ name string }

func (t echoTool) Name() string {
	if t.name == "" {
		return "echo"
	}
	return t.name
}

func (t echoTool) Description() string { return "Echoes its arguments." }

func (t echoTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}}}`)
}

func (t echoTool) Execute(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
	if len(args) == 0 {
		return json.RawMessage(`{}`), nil
	}
	return args, nil
}

// slowTool blocks until its context is cancelled or the delay elapses.
type slowTool struct{ delay time.Duration }

func (t slowTool) Name() string        { return "slow" }
func (t slowTool) Description() string { return "Sleeps." }
func (t slowTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}

func (t slowTool) Execute(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
	select {
	case <-time.After(t.delay):
		return json.RawMessage(`"done"`), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// panicTool panics on execution.
type panicTool struct{}

func (panicTool) Name() string        { return "panic" }
func (panicTool) Description() string { return "Panics." }
func (panicTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}

func (panicTool) Execute(context.Context, json.RawMessage) (json.RawMessage, error) {
	panic("deliberate test panic")
}

// failTool returns an error.
type failTool struct{}

func (failTool) Name() string        { return "fail" }
func (failTool) Description() string { return "Fails." }
func (failTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}

func (failTool) Execute(context.Context, json.RawMessage) (json.RawMessage, error) {
	return nil, errors.New("tool exploded")
}

// recordingBus captures published events.
type recordingBus struct {
	mu     sync.Mutex
	events []*models.Event
}

func (b *recordingBus) Publish(_ context.Context, ev *models.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func (b *recordingBus) byType(t models.EventType) []*models.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*models.Event
	for _, ev := range b.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func newTestRegistry(ts ...tools.Tool) *tools.Registry {
	reg := tools.NewRegistry()
	for _, t := range ts {
		if err := reg.Register(t); err != nil {
			panic(fmt.Sprintf("register %s: %v", t.Name(), err))
		}
	}
	return reg
}

func newTestExecutor(reg *tools.Registry, bus Publisher, cfg ExecutorConfig) *Executor {
	return NewExecutor(reg, bus, nil, nil, cfg)
}

// newTestInstance builds an agent over a scripted provider and the given
// tools, with a short default step budget.
func newTestInstance(p provider.Provider, cfg models.AgentConfig, ts ...tools.Tool) *Instance {
	reg := newTestRegistry(ts...)
	exec := newTestExecutor(reg, nil, ExecutorConfig{Timeout: 2 * time.Second})
	if cfg.MaxSteps == 0 {
		cfg.MaxSteps = 5
	}
	inst, err := NewInstance("test-agent", cfg, p, reg, exec, InstanceOptions{})
	if err != nil {
		panic(err)
	}
	return inst
}

// drain collects every chunk from a run.
func drain(t interface{ Fatalf(string, ...any) }, chunks <-chan *models.StreamChunk) []*models.StreamChunk {
	var out []*models.StreamChunk
	timeout := time.After(5 * time.Second)
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return out
			}
			out = append(out, chunk)
		case <-timeout:
			t.Fatalf("stream did not close within 5s (got %d chunks)", len(out))
			return out
		}
	}
}
