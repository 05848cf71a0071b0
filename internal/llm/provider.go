package llm

import (
	"context"
	"encoding/json"

	"github.com/relaybot/relay/pkg/models"
)

// ToolSchema declares a callable function to the model.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Request is one normalized completion call.
type Request struct {
	Model       string
	System      string
	Turns       []Turn
	Tools       []ToolSchema
	MaxTokens   int
	Temperature float32

	// EnableSearch asks the provider to ground answers with its
	// native web-search tool, where one exists. Providers without
	// one ignore it.
	EnableSearch bool
}

// Usage reports token consumption for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the provider's answer: either plain text or one or more
// pending tool invocations. Both may be present when the model mixes
// commentary with calls.
type Response struct {
	Text      string
	ToolCalls []models.FunctionCall
	Usage     Usage
}

// HasToolCalls reports whether the response carries pending calls.
func (r *Response) HasToolCalls() bool { return len(r.ToolCalls) > 0 }

// Provider is a completion backend. Complete blocks until the
// provider answers or ctx is done; failures should be returned as
// *ProviderError so the retry controller can classify them.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *Request) (*Response, error)

	// SupportsMedia reports whether image and file parts may appear
	// in requests. The normalizer refuses to send media to a
	// text-only provider.
	SupportsMedia() bool
}
