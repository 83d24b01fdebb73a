package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/AtharvJoshigit/valuablehelper/pkg/models"
)

// BedrockConfig configures the AWS Bedrock adapter. Leaving the explicit
// credentials empty uses the default AWS credential chain (environment,
// shared config, IAM role).
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	DefaultModel    string

	MaxRetries int
	RetryDelay time.Duration
}

// BedrockProvider streams Claude-on-Bedrock responses via the Converse
// streaming API.
type BedrockProvider struct {
	client       *bedrockruntime.Client
	defaultModel string
	region       string
	retry        retrySettings
}

// NewBedrock creates the Bedrock adapter. Failure to resolve AWS
// configuration fails this provider only.
func NewBedrock(cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				cfg.SessionToken,
			)),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(cfg.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to load AWS config: %w", err)
	}

	return &BedrockProvider{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: cfg.DefaultModel,
		region:       cfg.Region,
		retry:        retrySettings{cfg.MaxRetries, cfg.RetryDelay}.normalized(),
	}, nil
}

func (p *BedrockProvider) Name() string { return "bedrock" }

// Generate drains Stream into a single response.
func (p *BedrockProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	chunks, err := p.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return Collect(ctx, chunks)
}

// Stream opens a ConverseStream, retrying transient failures.
func (p *BedrockProvider) Stream(ctx context.Context, req *Request) (<-chan *models.StreamChunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages, err := bedrockMessages(req.History)
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to convert history: %w", err)
	}

	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(model),
		Messages: messages,
	}
	if req.SystemPrompt != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.SystemPrompt},
		}
	}

	inference := &types.InferenceConfiguration{}
	configured := false
	if req.MaxTokens > 0 {
		maxTokens := req.MaxTokens
		if maxTokens > math.MaxInt32 {
			maxTokens = math.MaxInt32
		}
		inference.MaxTokens = aws.Int32(int32(maxTokens))
		configured = true
	}
	if req.Temperature != nil {
		inference.Temperature = aws.Float32(float32(*req.Temperature))
		configured = true
	}
	if req.TopP != nil {
		inference.TopP = aws.Float32(float32(*req.TopP))
		configured = true
	}
	if configured {
		input.InferenceConfig = inference
	}

	if len(req.Tools) > 0 {
		input.ToolConfig = bedrockTools(req.Tools)
	}

	var stream *bedrockruntime.ConverseStreamOutput
	err = p.retry.retry(ctx, func() error {
		var callErr error
		stream, callErr = p.client.ConverseStream(ctx, input)
		if callErr != nil {
			return NewProviderError("bedrock", model, callErr)
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

func (p *BedrockProvider) processStream(ctx context.Context, stream *bedrockruntime.ConverseStreamOutput, chunks chan<- *models.StreamChunk, model string) {
	defer close(chunks)

	eventStream := stream.GetStream()
	defer eventStream.Close()

	var currentToolCall *models.ToolCall
	var toolInput strings.Builder
	var usage *models.UsageMetadata

	events := eventStream.Events()
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-events:
			if !ok {
				if err := eventStream.Err(); err != nil {
					sendChunk(ctx, chunks, errorChunk(NewProviderError("bedrock", model, err)))
					return
				}
				done := models.DoneChunk("stop")
				done.Usage = usage
				sendChunk(ctx, chunks, done)
				return
			}

			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					currentToolCall = &models.ToolCall{
						ID:   aws.ToString(toolUse.Value.ToolUseId),
						Name: aws.ToString(toolUse.Value.Name),
					}
					toolInput.Reset()
				}

			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if delta.Value != "" {
						if !sendChunk(ctx, chunks, models.ContentChunk(delta.Value)) {
							return
						}
					}
				case *types.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil {
						toolInput.WriteString(*delta.Value.Input)
					}
				}

			case *types.ConverseStreamOutputMemberContentBlockStop:
				if currentToolCall != nil {
					currentToolCall.Arguments = normalizeToolInput(toolInput.String())
					if !sendChunk(ctx, chunks, models.ToolCallChunk(*currentToolCall)) {
						return
					}
					currentToolCall = nil
					toolInput.Reset()
				}

			case *types.ConverseStreamOutputMemberMetadata:
				if ev.Value.Usage != nil {
					usage = &models.UsageMetadata{
						InputTokens:  int(aws.ToInt32(ev.Value.Usage.InputTokens)),
						OutputTokens: int(aws.ToInt32(ev.Value.Usage.OutputTokens)),
					}
				}

			case *types.ConverseStreamOutputMemberMessageStop:
				done := models.DoneChunk("stop")
				done.Usage = usage
				sendChunk(ctx, chunks, done)
				return
			}
		}
	}
}

// bedrockMessages converts the unified history into Converse messages.
// System messages travel separately; tool messages fold into user messages
// carrying tool_result blocks.
func bedrockMessages(history []models.Message) ([]types.Message, error) {
	result := make([]types.Message, 0, len(history))

	for _, msg := range history {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []types.ContentBlock
		if msg.Content != "" {
			content = append(content, &types.ContentBlockMemberText{Value: msg.Content})
		}
		for _, tr := range msg.ToolResults {
			content = append(content, &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(tr.ToolCallID),
					Content: []types.ToolResultContentBlock{
						&types.ToolResultContentBlockMemberText{Value: toolResultText(tr)},
					},
				},
			})
		}
		for _, tc := range msg.ToolCalls {
			var inputDoc any
			if err := json.Unmarshal(normalizeToolInput(string(tc.Arguments)), &inputDoc); err != nil {
				inputDoc = map[string]any{}
			}
			content = append(content, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.Name),
					Input:     document.NewLazyDocument(inputDoc),
				},
			})
		}
		if len(content) == 0 {
			continue
		}

		role := types.ConversationRoleUser
		if msg.Role == models.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		result = append(result, types.Message{Role: role, Content: content})
	}
	return result, nil
}

func bedrockTools(defs []models.ToolDefinition) *types.ToolConfiguration {
	bedrockTools := make([]types.Tool, len(defs))
	for i, def := range defs {
		var schema any
		if err := json.Unmarshal(def.Parameters, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		bedrockTools[i] = &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(def.Name),
				Description: aws.String(def.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			},
		}
	}
	return &types.ToolConfiguration{Tools: bedrockTools}
}
