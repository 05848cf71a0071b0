package sessions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/relaybot/relay/internal/cache"
	"github.com/relaybot/relay/pkg/models"
)

// MemoryStore is the in-memory Store. Sessions live in an expiring
// cache keyed by session id, so an idle session vanishes after its
// TTL without any explicit cleanup path. State is not durable by
// design; a restart clears everything.
type MemoryStore struct {
	config  Config
	logger  *slog.Logger
	cache   *cache.Expiring[*models.Session]
	locks   *KeyedLocker
	nowFunc func() time.Time
}

// NewMemoryStore creates a store with the given config.
func NewMemoryStore(config Config, logger *slog.Logger) *MemoryStore {
	config.Validate()
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{
		config:  config,
		logger:  logger.With("component", "sessions"),
		cache:   cache.NewExpiring[*models.Session](),
		locks:   NewKeyedLocker(),
		nowFunc: time.Now,
	}
}

// Get returns a copy of the session, or ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	release := s.locks.Lock(sessionID)
	defer release()

	sess, ok := s.cache.GetAt(sessionID, s.nowFunc())
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(sess), nil
}

// AppendUserTurn appends a user message, creating the session with the
// default binding if absent.
func (s *MemoryStore) AppendUserTurn(ctx context.Context, sessionID string, content models.Content) (*models.Session, error) {
	release := s.locks.Lock(sessionID)
	defer release()

	now := s.nowFunc()
	sess, ok := s.cache.GetAt(sessionID, now)
	if !ok {
		sess = &models.Session{
			ID:        sessionID,
			Binding:   s.config.DefaultBinding,
			CreatedAt: now,
		}
		s.logger.Debug("session created",
			"session_id", sessionID,
			"provider", sess.Binding.Provider,
			"model", sess.Binding.Model)
	}
	s.appendLocked(sess, models.RoleUser, content, now)
	s.cache.SetAt(sessionID, sess, s.config.TTL, now)
	return cloneSession(sess), nil
}

// AppendAssistantTurn appends an assistant message and accumulates
// token usage. A missing session is logged and dropped.
func (s *MemoryStore) AppendAssistantTurn(ctx context.Context, sessionID string, content models.Content, tokens int) {
	release := s.locks.Lock(sessionID)
	defer release()

	now := s.nowFunc()
	sess, ok := s.cache.GetAt(sessionID, now)
	if !ok {
		s.logger.Warn("assistant turn for missing session dropped", "session_id", sessionID)
		return
	}
	s.appendLocked(sess, models.RoleAssistant, content, now)
	sess.TokenUsage += tokens
	s.cache.SetAt(sessionID, sess, s.config.TTL, now)
}

// AppendToolTurn appends a tool-call or tool-response message.
func (s *MemoryStore) AppendToolTurn(ctx context.Context, sessionID string, role models.Role, content models.Content) error {
	if role != models.RoleToolCall && role != models.RoleToolResponse {
		return fmt.Errorf("invalid tool turn role %q", role)
	}

	release := s.locks.Lock(sessionID)
	defer release()

	now := s.nowFunc()
	sess, ok := s.cache.GetAt(sessionID, now)
	if !ok {
		return ErrNotFound
	}
	s.appendLocked(sess, role, content, now)
	s.cache.SetAt(sessionID, sess, s.config.TTL, now)
	return nil
}

// Clear resets the session's history and usage, preserving its binding.
func (s *MemoryStore) Clear(ctx context.Context, sessionID string) {
	release := s.locks.Lock(sessionID)
	defer release()

	now := s.nowFunc()
	sess, ok := s.cache.GetAt(sessionID, now)
	if !ok {
		return
	}
	sess.Messages = nil
	sess.TokenUsage = 0
	sess.UpdatedAt = now
	s.cache.SetAt(sessionID, sess, s.config.TTL, now)
	s.logger.Info("session cleared", "session_id", sessionID)
}

// ClearAll drops every session.
func (s *MemoryStore) ClearAll(ctx context.Context) {
	s.cache.Clear()
	s.logger.Info("all sessions cleared")
}

// Sweep evicts expired sessions. Intended for a periodic scheduler.
func (s *MemoryStore) Sweep() int {
	return s.cache.Sweep(s.nowFunc())
}

func (s *MemoryStore) appendLocked(sess *models.Session, role models.Role, content models.Content, now time.Time) {
	sess.Messages = append(sess.Messages, models.Message{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		Role:      role,
		Content:   content,
		CreatedAt: now,
	})
	if len(sess.Messages) > s.config.MaxMessages {
		sess.Messages = sess.Messages[len(sess.Messages)-s.config.MaxMessages:]
	}
	sess.UpdatedAt = now
}

func cloneSession(sess *models.Session) *models.Session {
	c := *sess
	c.Messages = make([]models.Message, len(sess.Messages))
	copy(c.Messages, sess.Messages)
	return &c
}
