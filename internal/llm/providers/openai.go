package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/relaybot/relay/internal/llm"
	"github.com/relaybot/relay/pkg/models"
)

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string

	// Name overrides the provider name. Set for OpenAI-compatible
	// endpoints registered under their own names.
	Name string
}

// OpenAIProvider talks to the OpenAI chat completions API, or to any
// endpoint speaking the same protocol.
type OpenAIProvider struct {
	client *openai.Client
	name   string
}

// NewOpenAIProvider creates the provider.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	name := config.Name
	if name == "" {
		name = "openai"
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(clientConfig), name: name}, nil
}

func (p *OpenAIProvider) Name() string        { return p.name }
func (p *OpenAIProvider) SupportsMedia() bool { return true }

// Complete runs one chat completion.
func (p *OpenAIProvider) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	messages, err := p.convertTurns(req)
	if err != nil {
		return nil, llm.NewProviderError(p.Name(), req.Model, err).WithClass(llm.ClassFatal)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxCompletionTokens = req.MaxTokens
	}
	for _, tool := range req.Tools {
		var params map[string]any
		if len(tool.Parameters) > 0 {
			if err := json.Unmarshal(tool.Parameters, &params); err != nil {
				return nil, llm.NewProviderError(p.Name(), req.Model,
					fmt.Errorf("tool %q schema: %w", tool.Name, err)).WithClass(llm.ClassFatal)
			}
		}
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, p.wrapError(err, req.Model)
	}
	if len(resp.Choices) == 0 {
		return nil, llm.NewProviderError(p.Name(), req.Model,
			errors.New("empty choices in response")).WithClass(llm.ClassServer)
	}

	choice := resp.Choices[0].Message
	out := &llm.Response{
		Text: choice.Content,
		Usage: llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, call := range choice.ToolCalls {
		var args map[string]any
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				args = map[string]any{"_raw": call.Function.Arguments}
			}
		}
		out.ToolCalls = append(out.ToolCalls, models.FunctionCall{
			ID:   call.ID,
			Name: call.Function.Name,
			Args: args,
		})
	}
	return out, nil
}

// convertTurns maps normalized turns onto the chat message schema.
// Function calls become assistant tool_calls entries; function
// responses become tool-role messages keyed by call id.
func (p *OpenAIProvider) convertTurns(req *llm.Request) ([]openai.ChatCompletionMessage, error) {
	var result []openai.ChatCompletionMessage

	if req.System != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}

	for _, turn := range req.Turns {
		if len(turn.Parts) == 0 {
			continue
		}
		switch turn.Role {
		case models.RoleUser, models.RoleAssistant:
			msg, err := p.chatMessage(turn)
			if err != nil {
				return nil, err
			}
			result = append(result, msg)

		case models.RoleToolCall:
			call, ok := turn.Parts[0].(models.FunctionCall)
			if !ok {
				return nil, fmt.Errorf("tool-call turn holds %q", turn.Parts[0].Kind())
			}
			args, err := json.Marshal(call.Args)
			if err != nil {
				return nil, fmt.Errorf("marshal args for %q: %w", call.Name, err)
			}
			result = append(result, openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ToolCall{{
					ID:       callID(call),
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: call.Name, Arguments: string(args)},
				}},
			})

		case models.RoleToolResponse:
			resp, ok := turn.Parts[0].(models.FunctionResponse)
			if !ok {
				return nil, fmt.Errorf("tool-response turn holds %q", turn.Parts[0].Kind())
			}
			payload, err := json.Marshal(resp.Result)
			if err != nil {
				return nil, fmt.Errorf("marshal result for %q: %w", resp.Name, err)
			}
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: responseCallID(resp),
				Content:    string(payload),
			})

		default:
			return nil, fmt.Errorf("unhandled turn role %q", turn.Role)
		}
	}
	return result, nil
}

func (p *OpenAIProvider) chatMessage(turn llm.Turn) (openai.ChatCompletionMessage, error) {
	role := openai.ChatMessageRoleUser
	if turn.Role == models.RoleAssistant {
		role = openai.ChatMessageRoleAssistant
	}

	// Single text part keeps the plain string form.
	if len(turn.Parts) == 1 {
		if text, ok := turn.Parts[0].(models.Text); ok {
			return openai.ChatCompletionMessage{Role: role, Content: text.Text}, nil
		}
	}

	var parts []openai.ChatMessagePart
	for _, part := range turn.Parts {
		switch content := part.(type) {
		case models.Text:
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: content.Text,
			})
		case models.ImageRef:
			parts = append(parts, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: content.URL},
			})
		case models.ImageBytes:
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL: dataURL(content.MimeType, content.Data),
				},
			})
		case models.FileRef:
			// The chat API has no file part; describe the file.
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: fmt.Sprintf("[attached file: %s]", fileLabel(content)),
			})
		default:
			return openai.ChatCompletionMessage{}, fmt.Errorf("chat turn holds %q", part.Kind())
		}
	}
	return openai.ChatCompletionMessage{Role: role, MultiContent: parts}, nil
}

func (p *OpenAIProvider) wrapError(err error, model string) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return llm.NewProviderError(p.Name(), model, err).WithStatus(apiErr.HTTPStatusCode)
	}
	return llm.NewProviderError(p.Name(), model, err)
}

func dataURL(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func fileLabel(f models.FileRef) string {
	switch {
	case f.Name != "":
		return f.Name
	case f.Path != "":
		return f.Path
	default:
		return f.URL
	}
}

// callID gives a stable tool_call id even when the upstream provider
// did not assign one.
func callID(call models.FunctionCall) string {
	if call.ID != "" {
		return call.ID
	}
	return "call_" + call.Name
}

func responseCallID(resp models.FunctionResponse) string {
	if resp.ID != "" {
		return resp.ID
	}
	return "call_" + resp.Name
}
