package provider

import (
	"context"
	"errors"
	"io"
	"sort"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/AtharvJoshigit/valuablehelper/pkg/models"
)

// OpenAIConfig configures the OpenAI adapter.
type OpenAIConfig struct {
	// APIKey is required; construction fails without it.
	APIKey string

	// BaseURL points the adapter at an OpenAI-compatible endpoint.
	BaseURL string

	// DefaultModel is used when the request does not name one.
	DefaultModel string

	MaxRetries int
	RetryDelay time.Duration
}

// OpenAIProvider streams chat completions, assembling tool-call arguments
// from the incremental deltas the API splits them into.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
	retry        retrySettings
}

// NewOpenAI creates the OpenAI adapter.
func NewOpenAI(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientConfig),
		defaultModel: cfg.DefaultModel,
		retry:        retrySettings{cfg.MaxRetries, cfg.RetryDelay}.normalized(),
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Generate drains Stream into a single response.
func (p *OpenAIProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	chunks, err := p.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return Collect(ctx, chunks)
}

// Stream opens a chat-completion stream, retrying transient failures.
func (p *OpenAIProvider) Stream(ctx context.Context, req *Request) (<-chan *models.StreamChunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: openaiMessages(req.History, req.SystemPrompt),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}
	if req.TopP != nil {
		chatReq.TopP = float32(*req.TopP)
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = openaiTools(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	err := p.retry.retry(ctx, func() error {
		var streamErr error
		stream, streamErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		if streamErr != nil {
			return NewProviderError("openai", model, streamErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	chunks := make(chan *models.StreamChunk)
	go p.processStream(ctx, stream, chunks, model)
	return chunks, nil
}

// processStream forwards text deltas immediately and accumulates tool
// calls keyed by index until their arguments are complete. OpenAI marks
// tool-call completion with finish_reason "tool_calls"; a clean EOF also
// flushes whatever assembled.
func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *models.StreamChunk, model string) {
	defer close(chunks)
	defer stream.Close()

	toolCalls := make(map[int]*models.ToolCall)
	var usage *models.UsageMetadata

	flushToolCalls := func() bool {
		indexes := make([]int, 0, len(toolCalls))
		for i := range toolCalls {
			indexes = append(indexes, i)
		}
		sort.Ints(indexes)
		for _, i := range indexes {
			tc := toolCalls[i]
			if tc.Name != "" {
				tc.Arguments = normalizeToolInput(string(tc.Arguments))
				if !sendChunk(ctx, chunks, models.ToolCallChunk(*tc)) {
					return false
				}
			}
		}
		toolCalls = make(map[int]*models.ToolCall)
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if !flushToolCalls() {
					return
				}
				done := models.DoneChunk("stop")
				done.Usage = usage
				sendChunk(ctx, chunks, done)
				return
			}
			sendChunk(ctx, chunks, errorChunk(NewProviderError("openai", model, err)))
			return
		}

		if response.Usage != nil {
			usage = &models.UsageMetadata{
				InputTokens:  response.Usage.PromptTokens,
				OutputTokens: response.Usage.CompletionTokens,
			}
		}
		if len(response.Choices) == 0 {
			continue
		}
		delta := response.Choices[0].Delta

		if delta.Content != "" {
			if !sendChunk(ctx, chunks, models.ContentChunk(delta.Content)) {
				return
			}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if toolCalls[index] == nil {
				toolCalls[index] = &models.ToolCall{}
			}
			if tc.ID != "" {
				toolCalls[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[index].Arguments = append(toolCalls[index].Arguments, tc.Function.Arguments...)
			}
		}

		if response.Choices[0].FinishReason == openai.FinishReasonToolCalls {
			if !flushToolCalls() {
				return
			}
		}
	}
}

// openaiMessages converts the unified history. The system prompt leads the
// array; each tool result becomes its own tool-role message, which is the
// shape the chat API requires.
func openaiMessages(history []models.Message, systemPrompt string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if systemPrompt != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}

	for _, msg := range history {
		switch msg.Role {
		case models.RoleSystem:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: msg.Content,
			})

		case models.RoleTool:
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    toolResultText(tr),
					ToolCallID: tr.ToolCallID,
				})
			}

		case models.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(normalizeToolInput(string(tc.Arguments))),
					},
				})
			}
			result = append(result, oaiMsg)

		default:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		}
	}
	return result
}

func openaiTools(defs []models.ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, len(defs))
	for i, def := range defs {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		}
	}
	return result
}
