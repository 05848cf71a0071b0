package models

// ReplyKind is the closed set of outcomes the engine hands back to a
// channel adapter. Every pipeline branch resolves to exactly one kind.
type ReplyKind string

const (
	ReplyText  ReplyKind = "text"
	ReplyImage ReplyKind = "image"
	ReplyFile  ReplyKind = "file"
	ReplyVideo ReplyKind = "video"
	ReplyError ReplyKind = "error"
)

// Reply is the engine's final answer for one incoming message.
// Exactly one of the payload fields matching Kind is set; Caption may
// accompany image, file, and video replies.
type Reply struct {
	Kind     ReplyKind `json:"kind"`
	Text     string    `json:"text,omitempty"`
	URL      string    `json:"url,omitempty"`
	Data     []byte    `json:"data,omitempty"`
	MimeType string    `json:"mime_type,omitempty"`
	Path     string    `json:"path,omitempty"`
	Caption  string    `json:"caption,omitempty"`
}

// TextReply wraps plain text.
func TextReply(text string) Reply { return Reply{Kind: ReplyText, Text: text} }

// ErrorReply wraps a human-readable failure message.
func ErrorReply(msg string) Reply { return Reply{Kind: ReplyError, Text: msg} }
