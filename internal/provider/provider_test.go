package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AtharvJoshigit/valuablehelper/pkg/models"
)

// scripted replays canned chunk sequences, one per Stream call.
type scripted struct {
	name  string
	turns [][]*models.StreamChunk
	calls int
}

func (s *scripted) Name() string {
	if s.name == "" {
		return "scripted"
	}
	return s.name
}

func (s *scripted) Generate(ctx context.Context, req *Request) (*Response, error) {
	chunks, err := s.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return Collect(ctx, chunks)
}

func (s *scripted) Stream(ctx context.Context, req *Request) (<-chan *models.StreamChunk, error) {
	if s.calls >= len(s.turns) {
		return nil, errors.New("scripted: no more turns")
	}
	turn := s.turns[s.calls]
	s.calls++

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

func TestEnsureToolCallIDs(t *testing.T) {
	calls := []models.ToolCall{
		{ID: "call_keep", Name: "a"},
		{Name: "b"},
		{Name: "c"},
	}

	EnsureToolCallIDs(calls)

	if calls[0].ID != "call_keep" {
		t.Errorf("existing id overwritten: %q", calls[0].ID)
	}
	for i := 1; i < len(calls); i++ {
		if calls[i].ID == "" {
			t.Errorf("calls[%d].ID not synthesized", i)
		}
		if !strings.HasPrefix(calls[i].ID, "call_") {
			t.Errorf("calls[%d].ID = %q, want call_ prefix", i, calls[i].ID)
		}
	}
	if calls[1].ID == calls[2].ID {
		t.Error("synthesized ids collide")
	}
}

func TestCollect(t *testing.T) {
	p := &scripted{turns: [][]*models.StreamChunk{{
		models.ContentChunk("Hello, "),
		models.ContentChunk("world"),
		models.ToolCallChunk(models.ToolCall{Name: "lookup", Arguments: json.RawMessage(`{"q":"x"}`)}),
		func() *models.StreamChunk {
			done := models.DoneChunk("stop")
			done.Usage = &models.UsageMetadata{InputTokens: 12, OutputTokens: 7}
			return done
		}(),
	}}}

	resp, err := p.Generate(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Content != "Hello, world" {
		t.Errorf("Content = %q, want %q", resp.Content, "Hello, world")
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("ToolCalls = %d, want 1", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].ID == "" {
		t.Error("Collect did not synthesize the missing tool call id")
	}
	if resp.Usage == nil || resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 7 {
		t.Errorf("Usage = %+v, want {12 7}", resp.Usage)
	}
}

func TestCollect_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	blocked := make(chan *models.StreamChunk)
	defer close(blocked)

	if _, err := Collect(ctx, blocked); !errors.Is(err, context.Canceled) {
		t.Errorf("Collect() error = %v, want context.Canceled", err)
	}
}

func TestSendChunk(t *testing.T) {
	out := make(chan *models.StreamChunk, 1)
	if !sendChunk(context.Background(), out, models.ContentChunk("x")) {
		t.Error("sendChunk() with room in the channel = false, want true")
	}
	if got := <-out; got.Content != "x" {
		t.Errorf("delivered chunk = %+v", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	full := make(chan *models.StreamChunk)
	if sendChunk(ctx, full, models.ContentChunk("y")) {
		t.Error("sendChunk() with no reader and cancelled context = true, want false")
	}
}

func TestOpenAIStream_CancelReleasesProducer(t *testing.T) {
	firstDelta := `{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"hel"}}]}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Error("expected http.Flusher")
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", firstDelta)
		flusher.Flush()
		// Hold the stream open until the client hangs up.
		<-r.Context().Done()
	}))
	defer server.Close()

	p, err := NewOpenAI(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL + "/v1"})
	if err != nil {
		t.Fatalf("NewOpenAI() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	chunks, err := p.Stream(ctx, &Request{Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	first := <-chunks
	if first == nil || first.Content != "hel" {
		t.Fatalf("first chunk = %+v, want content %q", first, "hel")
	}

	// Cancel with nobody reading; the producer must exit and close the
	// channel rather than block on a send.
	cancel()
	time.Sleep(100 * time.Millisecond)
	select {
	case chunk, ok := <-chunks:
		if ok {
			t.Fatalf("chunk after cancellation = %+v, want closed channel", chunk)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed after cancellation")
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&scripted{name: "anthropic"})
	reg.Register(&scripted{name: "openai"})

	if _, err := reg.Get("anthropic"); err != nil {
		t.Errorf("Get(anthropic) error = %v", err)
	}
	if _, err := reg.Get("missing"); err == nil {
		t.Error("Get(missing) expected error")
	}

	names := reg.Names()
	if len(names) != 2 || names[0] != "anthropic" || names[1] != "openai" {
		t.Errorf("Names() = %v, want [anthropic openai]", names)
	}
}

func TestNewAnthropic_RequiresAPIKey(t *testing.T) {
	if _, err := NewAnthropic(AnthropicConfig{}); err == nil {
		t.Error("NewAnthropic() without key expected error")
	}
}

func TestNewOpenAI_RequiresAPIKey(t *testing.T) {
	if _, err := NewOpenAI(OpenAIConfig{}); err == nil {
		t.Error("NewOpenAI() without key expected error")
	}
}

func TestNormalizeToolInput(t *testing.T) {
	if got := string(normalizeToolInput("")); got != "{}" {
		t.Errorf("normalizeToolInput(\"\") = %q, want {}", got)
	}
	if got := string(normalizeToolInput(`  {"a":1} `)); got != `{"a":1}` {
		t.Errorf("normalizeToolInput = %q", got)
	}
}

func TestToolResultText(t *testing.T) {
	tests := []struct {
		name string
		tr   models.ToolResult
		want string
	}{
		{"error wins", models.ToolResult{Error: "boom", Result: json.RawMessage(`"ok"`)}, "boom"},
		{"bare string unquoted", models.ToolResult{Result: json.RawMessage(`"plain"`)}, "plain"},
		{"object passthrough", models.ToolResult{Result: json.RawMessage(`{"k":1}`)}, `{"k":1}`},
		{"empty", models.ToolResult{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := toolResultText(tt.tr); got != tt.want {
				t.Errorf("toolResultText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOpenAIMessages_ToolResultsBecomeToolMessages(t *testing.T) {
	history := []models.Message{
		models.UserMessage("hi"),
		models.AssistantMessage("", []models.ToolCall{{ID: "call_1", Name: "lookup", Arguments: json.RawMessage(`{}`)}}),
		models.ToolMessage([]models.ToolResult{{ToolCallID: "call_1", Name: "lookup", Result: json.RawMessage(`"found"`)}}),
	}

	msgs := openaiMessages(history, "be brief")

	if len(msgs) != 4 {
		t.Fatalf("len(msgs) = %d, want 4 (system + user + assistant + tool)", len(msgs))
	}
	if msgs[0].Role != "system" || msgs[0].Content != "be brief" {
		t.Errorf("msgs[0] = %+v, want leading system prompt", msgs[0])
	}
	if len(msgs[2].ToolCalls) != 1 || msgs[2].ToolCalls[0].ID != "call_1" {
		t.Errorf("assistant tool calls not converted: %+v", msgs[2].ToolCalls)
	}
	if msgs[3].Role != "tool" || msgs[3].ToolCallID != "call_1" || msgs[3].Content != "found" {
		t.Errorf("tool message = %+v", msgs[3])
	}
}

func TestAnthropicMessages_SkipsSystem(t *testing.T) {
	history := []models.Message{
		models.SystemMessage("seed"),
		models.UserMessage("hi"),
	}
	msgs, err := anthropicMessages(history)
	if err != nil {
		t.Fatalf("anthropicMessages() error = %v", err)
	}
	if len(msgs) != 1 {
		t.Errorf("len(msgs) = %d, want 1 (system filtered)", len(msgs))
	}
}
