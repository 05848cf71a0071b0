package providers

import (
	"context"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"

	"github.com/relaybot/relay/internal/llm"
	"github.com/relaybot/relay/pkg/models"
)

func TestOpenAIConvertTurns(t *testing.T) {
	p := &OpenAIProvider{}
	req := &llm.Request{
		System: "be brief",
		Turns: []llm.Turn{
			{Role: models.RoleUser, Parts: []models.Content{models.Text{Text: "hello"}}},
			{Role: models.RoleToolCall, Parts: []models.Content{
				models.FunctionCall{ID: "call_1", Name: "lookup", Args: map[string]any{"q": "go"}},
			}},
			{Role: models.RoleToolResponse, Parts: []models.Content{
				models.FunctionResponse{ID: "call_1", Name: "lookup", Result: map[string]any{"hits": float64(3)}},
			}},
			{Role: models.RoleAssistant, Parts: []models.Content{models.Text{Text: "found 3"}}},
		},
	}

	messages, err := p.convertTurns(req)
	if err != nil {
		t.Fatalf("convertTurns() error = %v", err)
	}
	if len(messages) != 5 {
		t.Fatalf("got %d messages, want 5", len(messages))
	}
	if messages[0].Role != openai.ChatMessageRoleSystem {
		t.Errorf("messages[0].Role = %q, want system", messages[0].Role)
	}
	if messages[1].Content != "hello" {
		t.Errorf("messages[1].Content = %q", messages[1].Content)
	}
	if len(messages[2].ToolCalls) != 1 || messages[2].ToolCalls[0].ID != "call_1" {
		t.Errorf("messages[2].ToolCalls = %+v", messages[2].ToolCalls)
	}
	if messages[3].Role != openai.ChatMessageRoleTool || messages[3].ToolCallID != "call_1" {
		t.Errorf("messages[3] = %+v", messages[3])
	}
}

func TestOpenAIConvertTurnsMixedMedia(t *testing.T) {
	p := &OpenAIProvider{}
	req := &llm.Request{
		Turns: []llm.Turn{
			{Role: models.RoleUser, Parts: []models.Content{
				models.ImageRef{URL: "https://example.com/cat.png"},
				models.Text{Text: "what is this"},
			}},
		},
	}

	messages, err := p.convertTurns(req)
	if err != nil {
		t.Fatalf("convertTurns() error = %v", err)
	}
	parts := messages[0].MultiContent
	if len(parts) != 2 {
		t.Fatalf("got %d parts, want 2", len(parts))
	}
	if parts[0].Type != openai.ChatMessagePartTypeImageURL {
		t.Errorf("parts[0].Type = %q", parts[0].Type)
	}
	if parts[1].Text != "what is this" {
		t.Errorf("parts[1].Text = %q", parts[1].Text)
	}
}

func TestOpenAIProviderName(t *testing.T) {
	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "k"})
	if err != nil {
		t.Fatalf("NewOpenAIProvider() error = %v", err)
	}
	if p.Name() != "openai" {
		t.Errorf("Name() = %q, want openai", p.Name())
	}

	// Compatible endpoints register under their configured names.
	p, err = NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: "https://ark.example.com/v1", Name: "ark"})
	if err != nil {
		t.Fatalf("NewOpenAIProvider() error = %v", err)
	}
	if p.Name() != "ark" {
		t.Errorf("Name() = %q, want ark", p.Name())
	}
}

func TestDataURL(t *testing.T) {
	got := dataURL("image/png", []byte{1, 2, 3})
	if !strings.HasPrefix(got, "data:image/png;base64,") {
		t.Errorf("dataURL() = %q", got)
	}
	if got := dataURL("", nil); !strings.HasPrefix(got, "data:application/octet-stream") {
		t.Errorf("dataURL() with empty mime = %q", got)
	}
}

func TestCallIDFallback(t *testing.T) {
	if got := callID(models.FunctionCall{ID: "abc", Name: "x"}); got != "abc" {
		t.Errorf("callID() = %q, want abc", got)
	}
	if got := callID(models.FunctionCall{Name: "lookup"}); got != "call_lookup" {
		t.Errorf("callID() = %q, want call_lookup", got)
	}
	if got := responseCallID(models.FunctionResponse{Name: "lookup"}); got != "call_lookup" {
		t.Errorf("responseCallID() = %q, want call_lookup", got)
	}
}

func TestAnthropicConvertTurns(t *testing.T) {
	p := &AnthropicProvider{}
	turns := []llm.Turn{
		{Role: models.RoleUser, Parts: []models.Content{models.Text{Text: "hi"}}},
		{Role: models.RoleToolCall, Parts: []models.Content{
			models.FunctionCall{ID: "toolu_1", Name: "lookup", Args: map[string]any{"q": "go"}},
		}},
		{Role: models.RoleToolResponse, Parts: []models.Content{
			models.FunctionResponse{ID: "toolu_1", Name: "lookup", Result: map[string]any{"ok": true}},
		}},
	}

	messages, err := p.convertTurns(turns)
	if err != nil {
		t.Fatalf("convertTurns() error = %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(messages))
	}
	// Tool calls must land on the assistant side and results on the
	// user side for the API to accept the pairing.
	if messages[1].Role != "assistant" {
		t.Errorf("messages[1].Role = %q, want assistant", messages[1].Role)
	}
	if messages[2].Role != "user" {
		t.Errorf("messages[2].Role = %q, want user", messages[2].Role)
	}
}

func TestGoogleConvertTurns(t *testing.T) {
	p := &GoogleProvider{}
	turns := []llm.Turn{
		{Role: models.RoleUser, Parts: []models.Content{
			models.Text{Text: "describe"},
			models.ImageBytes{Data: []byte{0xff}, MimeType: "image/jpeg"},
		}},
		{Role: models.RoleAssistant, Parts: []models.Content{models.Text{Text: "a photo"}}},
		{Role: models.RoleToolCall, Parts: []models.Content{
			models.FunctionCall{Name: "lookup", Args: map[string]any{"q": "go"}},
		}},
		{Role: models.RoleToolResponse, Parts: []models.Content{
			models.FunctionResponse{Name: "lookup", Result: map[string]any{"ok": true}},
		}},
	}

	contents, err := p.convertTurns(context.Background(), turns)
	if err != nil {
		t.Fatalf("convertTurns() error = %v", err)
	}
	if len(contents) != 4 {
		t.Fatalf("got %d contents, want 4", len(contents))
	}
	if contents[0].Role != genai.RoleUser || len(contents[0].Parts) != 2 {
		t.Errorf("contents[0] = role %q with %d parts", contents[0].Role, len(contents[0].Parts))
	}
	if contents[0].Parts[1].InlineData == nil {
		t.Error("contents[0].Parts[1].InlineData = nil, want blob")
	}
	if contents[1].Role != genai.RoleModel {
		t.Errorf("contents[1].Role = %q, want model", contents[1].Role)
	}
	if contents[2].Parts[0].FunctionCall == nil {
		t.Error("contents[2] missing function call part")
	}
	if contents[3].Parts[0].FunctionResponse == nil {
		t.Error("contents[3] missing function response part")
	}
}

func TestGeminiSchema(t *testing.T) {
	schema := geminiSchema(map[string]any{
		"type":        "object",
		"description": "query input",
		"properties": map[string]any{
			"q": map[string]any{
				"type": "string",
				"enum": []any{"a", "b"},
			},
			"tags": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
		"required": []any{"q"},
	})

	if schema.Type != genai.TypeObject {
		t.Errorf("Type = %q, want OBJECT", schema.Type)
	}
	if schema.Description != "query input" {
		t.Errorf("Description = %q", schema.Description)
	}
	q, ok := schema.Properties["q"]
	if !ok {
		t.Fatal("missing property q")
	}
	if q.Type != genai.TypeString || len(q.Enum) != 2 {
		t.Errorf("q = %+v", q)
	}
	tags := schema.Properties["tags"]
	if tags == nil || tags.Items == nil || tags.Items.Type != genai.TypeString {
		t.Errorf("tags = %+v", tags)
	}
	if len(schema.Required) != 1 || schema.Required[0] != "q" {
		t.Errorf("Required = %v", schema.Required)
	}
}

func TestGoogleBuildConfigSearchWinsOverTools(t *testing.T) {
	p := &GoogleProvider{}
	config, err := p.buildConfig(&llm.Request{
		System:       "be brief",
		MaxTokens:    1024,
		EnableSearch: true,
		Tools: []llm.ToolSchema{
			{Name: "lookup"},
		},
	})
	if err != nil {
		t.Fatalf("buildConfig() error = %v", err)
	}
	if len(config.Tools) != 1 || config.Tools[0].GoogleSearch == nil {
		t.Fatalf("Tools = %+v, want single google search tool", config.Tools)
	}
	if len(config.Tools[0].FunctionDeclarations) != 0 {
		t.Error("function declarations present alongside search grounding")
	}
	if config.MaxOutputTokens != 1024 {
		t.Errorf("MaxOutputTokens = %d, want 1024", config.MaxOutputTokens)
	}
}
