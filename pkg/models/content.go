package models

// ContentKind identifies the variant held by a Content value.
type ContentKind string

const (
	KindText             ContentKind = "text"
	KindImageRef         ContentKind = "image_ref"
	KindImageBytes       ContentKind = "image_bytes"
	KindFileRef          ContentKind = "file_ref"
	KindFunctionCall     ContentKind = "function_call"
	KindFunctionResponse ContentKind = "function_response"
)

// Content is the closed set of payloads a Message can carry. Each
// variant is a concrete struct; callers branch with a type switch.
type Content interface {
	Kind() ContentKind
}

// Text is a plain text payload.
type Text struct {
	Text string `json:"text"`
}

func (Text) Kind() ContentKind { return KindText }

// ImageRef points at a remote image by URL.
type ImageRef struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type,omitempty"`
}

func (ImageRef) Kind() ContentKind { return KindImageRef }

// ImageBytes holds a decoded image inline.
type ImageBytes struct {
	Data     []byte `json:"data"`
	MimeType string `json:"mime_type"`
}

func (ImageBytes) Kind() ContentKind { return KindImageBytes }

// FileRef points at a file on local disk or by remote URL.
type FileRef struct {
	Path     string `json:"path,omitempty"`
	URL      string `json:"url,omitempty"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

func (FileRef) Kind() ContentKind { return KindFileRef }

// FunctionCall is a model-issued request to run a named local function.
type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

func (FunctionCall) Kind() ContentKind { return KindFunctionCall }

// FunctionResponse answers a FunctionCall with the same name.
type FunctionResponse struct {
	ID     string         `json:"id,omitempty"`
	Name   string         `json:"name"`
	Result map[string]any `json:"result,omitempty"`
}

func (FunctionResponse) Kind() ContentKind { return KindFunctionResponse }
