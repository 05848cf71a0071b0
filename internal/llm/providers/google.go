package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/relaybot/relay/internal/attachments"
	"github.com/relaybot/relay/internal/cache"
	"github.com/relaybot/relay/internal/llm"
	"github.com/relaybot/relay/pkg/models"
)

// uploadTTL bounds how long an uploaded file URI is reused before the
// file is pushed again. Well under the Files API's own retention.
const uploadTTL = time.Hour

// GoogleConfig configures the Gemini provider.
type GoogleConfig struct {
	APIKey string
}

// GoogleProvider talks to the Gemini API. It is the only provider
// here with native web-search grounding, so search mode routes to it.
type GoogleProvider struct {
	client  *genai.Client
	files   fileService
	uploads *cache.Expiring[string]
	poll    attachments.PollConfig
}

// fileService is the slice of the Files API the provider uses.
type fileService interface {
	upload(ctx context.Context, path, mimeType string) (*genai.File, error)
	get(ctx context.Context, name string) (*genai.File, error)
}

type genaiFiles struct {
	client *genai.Client
}

func (g genaiFiles) upload(ctx context.Context, path, mimeType string) (*genai.File, error) {
	return g.client.Files.UploadFromPath(ctx, path, &genai.UploadFileConfig{MIMEType: mimeType})
}

func (g genaiFiles) get(ctx context.Context, name string) (*genai.File, error) {
	return g.client.Files.Get(ctx, name, nil)
}

// NewGoogleProvider creates the provider.
func NewGoogleProvider(ctx context.Context, config GoogleConfig) (*GoogleProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("google: api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: create client: %w", err)
	}
	return &GoogleProvider{
		client:  client,
		files:   genaiFiles{client: client},
		uploads: cache.NewExpiring[string](),
	}, nil
}

func (p *GoogleProvider) Name() string        { return "google" }
func (p *GoogleProvider) SupportsMedia() bool { return true }

// Complete runs one generateContent call.
func (p *GoogleProvider) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	contents, err := p.convertTurns(ctx, req.Turns)
	if err != nil {
		return nil, llm.NewProviderError(p.Name(), req.Model, err).WithClass(llm.ClassFatal)
	}

	config, err := p.buildConfig(req)
	if err != nil {
		return nil, llm.NewProviderError(p.Name(), req.Model, err).WithClass(llm.ClassFatal)
	}

	resp, err := p.client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return nil, p.wrapError(err, req.Model)
	}

	out := &llm.Response{}
	if resp.UsageMetadata != nil {
		out.Usage = llm.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			switch {
			case part.Text != "":
				out.Text += part.Text
			case part.FunctionCall != nil:
				out.ToolCalls = append(out.ToolCalls, models.FunctionCall{
					ID:   part.FunctionCall.ID,
					Name: part.FunctionCall.Name,
					Args: part.FunctionCall.Args,
				})
			}
		}
		break
	}
	return out, nil
}

// convertTurns maps normalized turns onto genai contents. Tool calls
// become model-role function call parts and tool responses user-role
// function response parts, preserving their adjacency.
func (p *GoogleProvider) convertTurns(ctx context.Context, turns []llm.Turn) ([]*genai.Content, error) {
	var result []*genai.Content

	for _, turn := range turns {
		if len(turn.Parts) == 0 {
			continue
		}
		switch turn.Role {
		case models.RoleUser, models.RoleAssistant:
			role := genai.RoleUser
			if turn.Role == models.RoleAssistant {
				role = genai.RoleModel
			}
			parts, err := p.geminiParts(ctx, turn.Parts)
			if err != nil {
				return nil, err
			}
			result = append(result, &genai.Content{Role: role, Parts: parts})

		case models.RoleToolCall:
			call, ok := turn.Parts[0].(models.FunctionCall)
			if !ok {
				return nil, fmt.Errorf("tool-call turn holds %q", turn.Parts[0].Kind())
			}
			result = append(result, &genai.Content{
				Role: genai.RoleModel,
				Parts: []*genai.Part{{
					FunctionCall: &genai.FunctionCall{
						ID:   call.ID,
						Name: call.Name,
						Args: call.Args,
					},
				}},
			})

		case models.RoleToolResponse:
			resp, ok := turn.Parts[0].(models.FunctionResponse)
			if !ok {
				return nil, fmt.Errorf("tool-response turn holds %q", turn.Parts[0].Kind())
			}
			result = append(result, &genai.Content{
				Role: genai.RoleUser,
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						ID:       resp.ID,
						Name:     resp.Name,
						Response: resp.Result,
					},
				}},
			})

		default:
			return nil, fmt.Errorf("unhandled turn role %q", turn.Role)
		}
	}
	return result, nil
}

func (p *GoogleProvider) geminiParts(ctx context.Context, parts []models.Content) ([]*genai.Part, error) {
	var result []*genai.Part
	for _, part := range parts {
		switch content := part.(type) {
		case models.Text:
			result = append(result, &genai.Part{Text: content.Text})
		case models.ImageRef:
			result = append(result, &genai.Part{
				FileData: &genai.FileData{
					FileURI:  content.URL,
					MIMEType: content.MimeType,
				},
			})
		case models.ImageBytes:
			mimeType := content.MimeType
			if mimeType == "" {
				mimeType = "image/png"
			}
			result = append(result, &genai.Part{
				InlineData: &genai.Blob{Data: content.Data, MIMEType: mimeType},
			})
		case models.FileRef:
			// The Files API only accepts its own URIs, so a file
			// without a prepared local copy degrades to a label.
			if content.Path == "" {
				result = append(result, &genai.Part{
					Text: fmt.Sprintf("[attached file: %s]", fileLabel(content)),
				})
				continue
			}
			data, err := p.uploadFile(ctx, content)
			if err != nil {
				return nil, err
			}
			result = append(result, &genai.Part{FileData: data})
		default:
			return nil, fmt.Errorf("message turn holds %q", part.Kind())
		}
	}
	return result, nil
}

// uploadFile pushes a local attachment through the Files API. Uploads
// start in PROCESSING and cannot be referenced in a generation call
// until ACTIVE, so the call polls before returning. URIs are cached
// per path so later turns of the conversation reuse the upload.
func (p *GoogleProvider) uploadFile(ctx context.Context, ref models.FileRef) (*genai.FileData, error) {
	if uri, ok := p.uploads.Get(ref.Path); ok {
		return &genai.FileData{FileURI: uri, MIMEType: ref.MimeType}, nil
	}

	file, err := p.files.upload(ctx, ref.Path, ref.MimeType)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", fileLabel(ref), err)
	}

	if file.State != genai.FileStateActive {
		err := attachments.WaitReady(ctx, p.poll, func(ctx context.Context) (bool, error) {
			current, err := p.files.get(ctx, file.Name)
			if err != nil {
				return false, err
			}
			if current.State == genai.FileStateFailed {
				return false, fmt.Errorf("processing failed for %s", fileLabel(ref))
			}
			return current.State == genai.FileStateActive, nil
		})
		if err != nil {
			return nil, fmt.Errorf("activate %s: %w", fileLabel(ref), err)
		}
	}

	p.uploads.Set(ref.Path, file.URI, uploadTTL)
	return &genai.FileData{FileURI: file.URI, MIMEType: ref.MimeType}, nil
}

func (p *GoogleProvider) buildConfig(req *llm.Request) (*genai.GenerateContentConfig, error) {
	config := &genai.GenerateContentConfig{}

	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.MaxTokens > 0 {
		maxTokens := min(req.MaxTokens, math.MaxInt32)
		// #nosec G115 -- bounded by min above
		config.MaxOutputTokens = int32(maxTokens)
	}
	if req.Temperature > 0 {
		config.Temperature = genai.Ptr(req.Temperature)
	}

	if req.EnableSearch {
		// Search grounding and function declarations are mutually
		// exclusive on this API, so search wins when both are asked.
		config.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
		return config, nil
	}

	if len(req.Tools) > 0 {
		tool := &genai.Tool{}
		for _, schema := range req.Tools {
			decl, err := geminiFunction(schema)
			if err != nil {
				return nil, err
			}
			tool.FunctionDeclarations = append(tool.FunctionDeclarations, decl)
		}
		config.Tools = []*genai.Tool{tool}
	}
	return config, nil
}

func geminiFunction(schema llm.ToolSchema) (*genai.FunctionDeclaration, error) {
	decl := &genai.FunctionDeclaration{
		Name:        schema.Name,
		Description: schema.Description,
	}
	if len(schema.Parameters) > 0 {
		var raw map[string]any
		if err := json.Unmarshal(schema.Parameters, &raw); err != nil {
			return nil, fmt.Errorf("tool %q schema: %w", schema.Name, err)
		}
		decl.Parameters = geminiSchema(raw)
	}
	return decl, nil
}

// geminiSchema converts a JSON Schema fragment into the typed schema
// the API wants. Unknown keywords are dropped rather than rejected.
func geminiSchema(raw map[string]any) *genai.Schema {
	schema := &genai.Schema{}

	if t, ok := raw["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := raw["description"].(string); ok {
		schema.Description = desc
	}
	if props, ok := raw["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, value := range props {
			if sub, ok := value.(map[string]any); ok {
				schema.Properties[name] = geminiSchema(sub)
			}
		}
	}
	if items, ok := raw["items"].(map[string]any); ok {
		schema.Items = geminiSchema(items)
	}
	if required, ok := raw["required"].([]any); ok {
		for _, value := range required {
			if name, ok := value.(string); ok {
				schema.Required = append(schema.Required, name)
			}
		}
	}
	if enum, ok := raw["enum"].([]any); ok {
		for _, value := range enum {
			if option, ok := value.(string); ok {
				schema.Enum = append(schema.Enum, option)
			}
		}
	}
	return schema
}

// wrapError attaches provider context and, where the error text names
// an HTTP status, the status itself. The API surfaces status codes in
// message text rather than a stable typed error.
func (p *GoogleProvider) wrapError(err error, model string) error {
	providerErr := llm.NewProviderError(p.Name(), model, err)

	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "429"), strings.Contains(errMsg, "resource exhausted"):
		providerErr = providerErr.WithStatus(http.StatusTooManyRequests)
	case strings.Contains(errMsg, "500"):
		providerErr = providerErr.WithStatus(http.StatusInternalServerError)
	case strings.Contains(errMsg, "503"):
		providerErr = providerErr.WithStatus(http.StatusServiceUnavailable)
	case strings.Contains(errMsg, "504"):
		providerErr = providerErr.WithStatus(http.StatusGatewayTimeout)
	}
	return providerErr
}
