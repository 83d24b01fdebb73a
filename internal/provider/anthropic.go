package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/AtharvJoshigit/valuablehelper/pkg/models"
)

const anthropicDefaultMaxTokens = 4096

// AnthropicConfig configures the Anthropic adapter.
type AnthropicConfig struct {
	// APIKey is required; construction fails without it.
	APIKey string

	// BaseURL overrides the default API endpoint.
	BaseURL string

	// DefaultModel is used when the request does not name one.
	DefaultModel string

	MaxRetries int
	RetryDelay time.Duration
}

// AnthropicProvider streams Claude responses over the Messages SSE API.
// Safe for concurrent use; each Stream call owns an independent SSE stream
// and goroutine.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	retry        retrySettings
}

// NewAnthropic creates the Anthropic adapter. A missing API key is a
// configuration error for this provider only, never the process.
func NewAnthropic(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}

	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(options...),
		defaultModel: cfg.DefaultModel,
		retry:        retrySettings{cfg.MaxRetries, cfg.RetryDelay}.normalized(),
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// Generate drains Stream into a single response.
func (p *AnthropicProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	chunks, err := p.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return Collect(ctx, chunks)
}

// Stream opens the SSE stream, retrying transient failures, and converts
// events to unified chunks on a dedicated goroutine.
func (p *AnthropicProvider) Stream(ctx context.Context, req *Request) (<-chan *models.StreamChunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	params, err := p.buildParams(req, model)
	if err != nil {
		return nil, err
	}

	var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
	err = p.retry.retry(ctx, func() error {
		stream = p.client.Messages.NewStreaming(ctx, *params)
		if streamErr := stream.Err(); streamErr != nil {
			return NewProviderError("anthropic", model, streamErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	chunks := make(chan *models.StreamChunk)
	go p.processStream(ctx, stream, chunks)
	return chunks, nil
}

func (p *AnthropicProvider) buildParams(req *Request, model string) (*anthropic.MessageNewParams, error) {
	messages, err := anthropicMessages(req.History)
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to convert history: %w", err)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	params := &anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}

	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Type: "text", Text: req.SystemPrompt},
		}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = anthropic.Float(*req.TopP)
	}
	if req.TopK != nil {
		params.TopK = anthropic.Int(int64(*req.TopK))
	}

	if len(req.Tools) > 0 {
		tools, err := anthropicTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
	}
	return params, nil
}

// processStream walks the SSE event loop: text deltas stream through
// immediately, tool-use input JSON accumulates until its content block
// closes, and usage arrives split between message_start and message_delta.
func (p *AnthropicProvider) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *models.StreamChunk) {
	defer close(chunks)
	defer stream.Close()

	var currentToolCall *models.ToolCall
	var toolInput strings.Builder
	var inputTokens, outputTokens int

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			messageStart := event.AsMessageStart()
			if messageStart.Message.Usage.InputTokens > 0 {
				inputTokens = int(messageStart.Message.Usage.InputTokens)
			}

		case "content_block_start":
			contentBlock := event.AsContentBlockStart().ContentBlock
			if contentBlock.Type == "tool_use" {
				toolUse := contentBlock.AsToolUse()
				currentToolCall = &models.ToolCall{
					ID:   toolUse.ID,
					Name: toolUse.Name,
				}
				toolInput.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					if !sendChunk(ctx, chunks, models.ContentChunk(delta.Text)) {
						return
					}
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					toolInput.WriteString(delta.PartialJSON)
				}
			}

		case "content_block_stop":
			if currentToolCall != nil {
				currentToolCall.Arguments = normalizeToolInput(toolInput.String())
				if !sendChunk(ctx, chunks, models.ToolCallChunk(*currentToolCall)) {
					return
				}
				currentToolCall = nil
				toolInput.Reset()
			}

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if messageDelta.Usage.OutputTokens > 0 {
				outputTokens = int(messageDelta.Usage.OutputTokens)
			}

		case "message_stop":
			done := models.DoneChunk("end_turn")
			done.Usage = &models.UsageMetadata{
				InputTokens:  inputTokens,
				OutputTokens: outputTokens,
			}
			sendChunk(ctx, chunks, done)
			return
		}
	}

	if err := stream.Err(); err != nil {
		sendChunk(ctx, chunks, errorChunk(NewProviderError("anthropic", "", err)))
	}
}

// anthropicMessages converts the unified history into Anthropic content
// blocks. System messages are filtered (they travel in params.System); tool
// messages fold into user messages carrying tool_result blocks, which is
// how the Messages API expects them.
func anthropicMessages(history []models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, msg := range history {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(
				tr.ToolCallID,
				toolResultText(tr),
				tr.IsError(),
			))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal(normalizeToolInput(string(tc.Arguments)), &input); err != nil {
				return nil, fmt.Errorf("invalid tool call arguments for %s: %w", tc.Name, err)
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func anthropicTools(defs []models.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, def := range defs {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(def.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("anthropic: invalid tool schema for %s: %w", def.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("anthropic: invalid tool schema for %s", def.Name)
		}
		toolParam.OfTool.Description = anthropic.String(def.Description)
		result = append(result, toolParam)
	}
	return result, nil
}
