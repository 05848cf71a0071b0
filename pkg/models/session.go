package models

import "time"

// Binding names the provider and model a session talks to.
type Binding struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Session is the ordered conversation history for one user/channel
// pairing, plus its model binding and running token usage.
type Session struct {
	ID         string    `json:"id"`
	Binding    Binding   `json:"binding"`
	Messages   []Message `json:"messages"`
	TokenUsage int       `json:"token_usage"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// LastRole returns the role of the most recent message, or "" for an
// empty session.
func (s *Session) LastRole() Role {
	if len(s.Messages) == 0 {
		return ""
	}
	return s.Messages[len(s.Messages)-1].Role
}
