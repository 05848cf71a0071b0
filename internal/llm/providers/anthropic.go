package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/relaybot/relay/internal/llm"
	"github.com/relaybot/relay/pkg/models"
)

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
}

// AnthropicProvider talks to the Anthropic messages API.
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates the provider.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}
	return &AnthropicProvider{client: anthropic.NewClient(options...)}, nil
}

func (p *AnthropicProvider) Name() string        { return "anthropic" }
func (p *AnthropicProvider) SupportsMedia() bool { return true }

// Complete runs one messages call.
func (p *AnthropicProvider) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	messages, err := p.convertTurns(req.Turns)
	if err != nil {
		return nil, llm.NewProviderError(p.Name(), req.Model, err).WithClass(llm.ClassFatal)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}
	for _, tool := range req.Tools {
		param, err := anthropicTool(tool)
		if err != nil {
			return nil, llm.NewProviderError(p.Name(), req.Model, err).WithClass(llm.ClassFatal)
		}
		params.Tools = append(params.Tools, param)
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, p.wrapError(err, req.Model)
	}

	out := &llm.Response{
		Usage: llm.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += b.Text
		case anthropic.ToolUseBlock:
			var args map[string]any
			if len(b.Input) > 0 {
				if err := json.Unmarshal(b.Input, &args); err != nil {
					args = map[string]any{"_raw": string(b.Input)}
				}
			}
			out.ToolCalls = append(out.ToolCalls, models.FunctionCall{
				ID:   b.ID,
				Name: b.Name,
				Args: args,
			})
		}
	}
	return out, nil
}

// convertTurns maps normalized turns onto the messages schema. Tool
// calls ride in assistant messages as tool_use blocks; tool responses
// ride in user messages as tool_result blocks, which is the pairing
// the API requires.
func (p *AnthropicProvider) convertTurns(turns []llm.Turn) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, turn := range turns {
		if len(turn.Parts) == 0 {
			continue
		}
		switch turn.Role {
		case models.RoleUser:
			blocks, err := anthropicBlocks(turn.Parts)
			if err != nil {
				return nil, err
			}
			result = append(result, anthropic.NewUserMessage(blocks...))

		case models.RoleAssistant:
			blocks, err := anthropicBlocks(turn.Parts)
			if err != nil {
				return nil, err
			}
			result = append(result, anthropic.NewAssistantMessage(blocks...))

		case models.RoleToolCall:
			call, ok := turn.Parts[0].(models.FunctionCall)
			if !ok {
				return nil, fmt.Errorf("tool-call turn holds %q", turn.Parts[0].Kind())
			}
			result = append(result, anthropic.NewAssistantMessage(
				anthropic.NewToolUseBlock(callID(call), call.Args, call.Name)))

		case models.RoleToolResponse:
			resp, ok := turn.Parts[0].(models.FunctionResponse)
			if !ok {
				return nil, fmt.Errorf("tool-response turn holds %q", turn.Parts[0].Kind())
			}
			payload, err := json.Marshal(resp.Result)
			if err != nil {
				return nil, fmt.Errorf("marshal result for %q: %w", resp.Name, err)
			}
			result = append(result, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(responseCallID(resp), string(payload), false)))

		default:
			return nil, fmt.Errorf("unhandled turn role %q", turn.Role)
		}
	}
	return result, nil
}

func anthropicBlocks(parts []models.Content) ([]anthropic.ContentBlockParamUnion, error) {
	var blocks []anthropic.ContentBlockParamUnion
	for _, part := range parts {
		switch content := part.(type) {
		case models.Text:
			blocks = append(blocks, anthropic.NewTextBlock(content.Text))
		case models.ImageRef:
			blocks = append(blocks, anthropic.NewImageBlock(anthropic.URLImageSourceParam{
				URL: content.URL,
			}))
		case models.ImageBytes:
			mimeType := content.MimeType
			if mimeType == "" {
				mimeType = "image/png"
			}
			blocks = append(blocks, anthropic.NewImageBlockBase64(
				mimeType, base64.StdEncoding.EncodeToString(content.Data)))
		case models.FileRef:
			// No generic file block; name the attachment in text.
			blocks = append(blocks, anthropic.NewTextBlock(
				fmt.Sprintf("[attached file: %s]", fileLabel(content))))
		default:
			return nil, fmt.Errorf("message turn holds %q", part.Kind())
		}
	}
	return blocks, nil
}

func anthropicTool(tool llm.ToolSchema) (anthropic.ToolUnionParam, error) {
	var schema anthropic.ToolInputSchemaParam
	if len(tool.Parameters) > 0 {
		var raw struct {
			Properties any      `json:"properties"`
			Required   []string `json:"required"`
		}
		if err := json.Unmarshal(tool.Parameters, &raw); err != nil {
			return anthropic.ToolUnionParam{}, fmt.Errorf("tool %q schema: %w", tool.Name, err)
		}
		schema.Properties = raw.Properties
		schema.Required = raw.Required
	}
	param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
	if tool.Description != "" {
		param.OfTool.Description = anthropic.String(tool.Description)
	}
	return param, nil
}

func (p *AnthropicProvider) wrapError(err error, model string) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return llm.NewProviderError(p.Name(), model, err).WithStatus(apiErr.StatusCode)
	}
	return llm.NewProviderError(p.Name(), model, err)
}
