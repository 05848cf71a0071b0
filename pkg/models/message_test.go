package models

import "testing"

func TestNewMessage(t *testing.T) {
	msg := NewMessage("s1", RoleUser, Text{Text: "hello"})
	if msg.ID == "" {
		t.Fatal("NewMessage() returned empty ID")
	}
	if msg.SessionID != "s1" {
		t.Errorf("SessionID = %q, want %q", msg.SessionID, "s1")
	}
	if msg.Role != RoleUser {
		t.Errorf("Role = %q, want %q", msg.Role, RoleUser)
	}
	if msg.CreatedAt.IsZero() {
		t.Error("CreatedAt is zero")
	}
}

func TestContentKinds(t *testing.T) {
	tests := []struct {
		content Content
		want    ContentKind
	}{
		{Text{Text: "hi"}, KindText},
		{ImageRef{URL: "https://example.com/a.png"}, KindImageRef},
		{ImageBytes{Data: []byte{1}, MimeType: "image/png"}, KindImageBytes},
		{FileRef{Path: "/tmp/a.pdf"}, KindFileRef},
		{FunctionCall{Name: "search"}, KindFunctionCall},
		{FunctionResponse{Name: "search"}, KindFunctionResponse},
	}
	for _, tt := range tests {
		if got := tt.content.Kind(); got != tt.want {
			t.Errorf("Kind() = %q, want %q", got, tt.want)
		}
	}
}

func TestSessionLastRole(t *testing.T) {
	s := &Session{ID: "s1"}
	if got := s.LastRole(); got != "" {
		t.Errorf("LastRole() on empty session = %q, want empty", got)
	}
	s.Messages = append(s.Messages, UserText("s1", "hi"), AssistantText("s1", "hello"))
	if got := s.LastRole(); got != RoleAssistant {
		t.Errorf("LastRole() = %q, want %q", got, RoleAssistant)
	}
}
