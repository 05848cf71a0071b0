package llm

import (
	"errors"
	"fmt"

	"github.com/relaybot/relay/pkg/models"
)

// ErrModalityMismatch signals that a session holds media content but
// the bound provider only accepts text. The caller should reset the
// session rather than silently drop the media.
var ErrModalityMismatch = errors.New("session content requires a multi-modal provider")

// Turn is one provider-level conversation entry: a role plus the
// parts delivered together. Media parts that precede a text part of
// the same role are grouped into the text's turn.
type Turn struct {
	Role  models.Role
	Parts []models.Content
}

// ToTurns converts a session's message history into provider turns.
// Pure function: the input is not mutated.
//
// Consecutive non-text parts for one role accumulate into a pending
// media group; a text part of the same role joins the group and
// flushes it as a single turn. Any role change flushes first, so a
// media group never leaks into another turn. Function calls and
// responses always get their own turn.
func ToTurns(messages []models.Message, supportsMedia bool) ([]Turn, error) {
	var (
		turns   []Turn
		pending *Turn
	)

	flush := func() {
		if pending != nil {
			turns = append(turns, *pending)
			pending = nil
		}
	}

	for _, msg := range messages {
		switch content := msg.Content.(type) {
		case models.Text:
			if pending != nil && pending.Role == msg.Role {
				pending.Parts = append(pending.Parts, content)
				flush()
				continue
			}
			flush()
			turns = append(turns, Turn{Role: msg.Role, Parts: []models.Content{content}})

		case models.ImageRef, models.ImageBytes, models.FileRef:
			if !supportsMedia {
				return nil, ErrModalityMismatch
			}
			if pending != nil && pending.Role != msg.Role {
				flush()
			}
			if pending == nil {
				pending = &Turn{Role: msg.Role}
			}
			pending.Parts = append(pending.Parts, content)

		case models.FunctionCall, models.FunctionResponse:
			flush()
			turns = append(turns, Turn{Role: msg.Role, Parts: []models.Content{content}})

		default:
			return nil, fmt.Errorf("unhandled content kind %q", msg.Content.Kind())
		}
	}
	flush()

	return turns, nil
}

// FromTurns expands provider turns back into canonical messages.
// Provider-assigned IDs are not recoverable; role order and content
// kinds are.
func FromTurns(turns []Turn, sessionID string) []models.Message {
	var messages []models.Message
	for _, turn := range turns {
		for _, part := range turn.Parts {
			messages = append(messages, models.NewMessage(sessionID, turn.Role, part))
		}
	}
	return messages
}
