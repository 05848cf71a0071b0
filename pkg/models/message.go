package models

import (
	"time"

	"github.com/google/uuid"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser         Role = "user"
	RoleAssistant    Role = "assistant"
	RoleToolCall     Role = "tool-call"
	RoleToolResponse Role = "tool-response"
)

// Message is one turn in a session's ordered history.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   Content   `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage builds a message with a fresh ID and current timestamp.
func NewMessage(sessionID string, role Role, content Content) Message {
	return Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// UserText is shorthand for a plain text user turn.
func UserText(sessionID, text string) Message {
	return NewMessage(sessionID, RoleUser, Text{Text: text})
}

// AssistantText is shorthand for a plain text assistant turn.
func AssistantText(sessionID, text string) Message {
	return NewMessage(sessionID, RoleAssistant, Text{Text: text})
}
