package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/relaybot/relay/pkg/models"
)

// ErrNotFound is returned when a session id has no live entry.
var ErrNotFound = errors.New("session not found")

// Store holds per-session conversation state. Implementations must be
// safe for concurrent use; operations on different session ids must
// not block each other.
type Store interface {
	// Get returns a copy of the session, or ErrNotFound.
	Get(ctx context.Context, sessionID string) (*models.Session, error)

	// AppendUserTurn appends a user message, creating the session
	// with the default binding if absent. Returns the updated session.
	AppendUserTurn(ctx context.Context, sessionID string, content models.Content) (*models.Session, error)

	// AppendAssistantTurn appends an assistant message and adds tokens
	// to the running usage. A missing session is logged, not an error:
	// assistant turns always follow a user turn in the same request.
	AppendAssistantTurn(ctx context.Context, sessionID string, content models.Content, tokens int)

	// AppendToolTurn appends a tool-call or tool-response message.
	AppendToolTurn(ctx context.Context, sessionID string, role models.Role, content models.Content) error

	// Clear resets the session's history, preserving its binding.
	Clear(ctx context.Context, sessionID string)

	// ClearAll resets every session.
	ClearAll(ctx context.Context)
}

// Config controls store behavior.
type Config struct {
	// DefaultBinding is assigned to sessions created by AppendUserTurn.
	DefaultBinding models.Binding

	// TTL is the idle lifetime of a session. Each append refreshes it.
	TTL time.Duration

	// MaxMessages caps history length; oldest messages are trimmed.
	MaxMessages int
}

// Validate applies defaults for zero-valued fields.
func (c *Config) Validate() {
	if c.TTL <= 0 {
		c.TTL = time.Hour
	}
	if c.MaxMessages <= 0 {
		c.MaxMessages = 1000
	}
}
