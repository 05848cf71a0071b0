// Package engine is the conversation orchestrator: it owns the turn
// pipeline from an incoming channel message to a resolved Reply, with
// the function-call resolution loop and degraded-failure handling in
// between.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/relaybot/relay/internal/llm"
	"github.com/relaybot/relay/internal/observability"
	"github.com/relaybot/relay/internal/retry"
	"github.com/relaybot/relay/internal/sessions"
	"github.com/relaybot/relay/internal/toolmode"
	"github.com/relaybot/relay/internal/tools"
	"github.com/relaybot/relay/pkg/models"
)

// Config controls the engine.
type Config struct {
	// MaxToolIterations caps provider calls per incoming message,
	// independent of model behavior.
	MaxToolIterations int

	// RequestTimeout bounds each individual provider call. Distinct
	// from the retry controller's backoff sleeps.
	RequestTimeout time.Duration

	// SystemPrompt is prepended to every completion.
	SystemPrompt string

	MaxTokens   int
	Temperature float32
}

// Validate applies defaults.
func (c *Config) Validate() {
	if c.MaxToolIterations <= 0 {
		c.MaxToolIterations = 8
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 2 * time.Minute
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
}

// Options bundles the engine's collaborators.
type Options struct {
	Config    Config
	Logger    *slog.Logger
	Store     sessions.Store
	Modes     *toolmode.State
	Registry  *tools.Registry
	Retrier   *retry.Controller
	Providers *llm.Registry
	Metrics   *observability.Metrics
}

// Engine processes incoming messages. One session's turn runs
// sequentially end to end; turns for different sessions proceed in
// parallel.
type Engine struct {
	config    Config
	logger    *slog.Logger
	store     sessions.Store
	modes     *toolmode.State
	registry  *tools.Registry
	retrier   *retry.Controller
	providers *llm.Registry
	metrics   *observability.Metrics
	locks     *sessions.KeyedLocker
}

// New creates an engine.
func New(opts Options) *Engine {
	opts.Config.Validate()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		config:    opts.Config,
		logger:    logger.With("component", "engine"),
		store:     opts.Store,
		modes:     opts.Modes,
		registry:  opts.Registry,
		retrier:   opts.Retrier,
		providers: opts.Providers,
		metrics:   opts.Metrics,
		locks:     sessions.NewKeyedLocker(),
	}
}

// HandleIncoming runs one full turn for the session and always
// returns a Reply; no error ever escapes to the channel layer. A
// message that arrives as several parts (a photo with its caption)
// passes them all; each becomes its own history entry and the turn
// normalizer regroups them for the provider.
func (e *Engine) HandleIncoming(ctx context.Context, sessionID string, contents ...models.Content) models.Reply {
	if len(contents) == 0 {
		return e.record(models.ErrorReply("I didn't receive any content to respond to."))
	}

	release := e.locks.Lock(sessionID)
	defer release()

	var sess *models.Session
	for _, content := range contents {
		var err error
		sess, err = e.store.AppendUserTurn(ctx, sessionID, content)
		if err != nil {
			e.logger.Error("append user turn failed", "session_id", sessionID, "error", err)
			return e.record(models.ErrorReply("I couldn't record your message. Please try again."))
		}
	}

	provider, ok := e.providers.Get(sess.Binding.Provider)
	if !ok {
		e.logger.Error("session bound to unknown provider",
			"session_id", sessionID, "provider", sess.Binding.Provider)
		e.store.Clear(ctx, sessionID)
		return e.record(models.ErrorReply("My model backend is misconfigured. Please try again later."))
	}

	resp, errReply := e.converse(ctx, sess, provider)
	if errReply != nil {
		return e.record(*errReply)
	}

	e.store.AppendAssistantTurn(ctx, sessionID, models.Text{Text: resp.Text}, resp.Usage.TotalTokens)

	final, err := e.store.Get(ctx, sessionID)
	if err != nil {
		final = sess
	}
	return e.record(ResolveReply(final.Messages, resp.Text))
}

// ToggleMode flips a tool-mode flag for the session and returns the
// new value.
func (e *Engine) ToggleMode(sessionID string, flag toolmode.Flag) (bool, error) {
	return e.modes.Toggle(sessionID, flag)
}

// ClearSession resets the session's history and modes.
func (e *Engine) ClearSession(ctx context.Context, sessionID string) {
	release := e.locks.Lock(sessionID)
	defer release()
	e.store.Clear(ctx, sessionID)
	e.modes.Reset(sessionID)
}

// ClearAll resets every session.
func (e *Engine) ClearAll(ctx context.Context) {
	e.store.ClearAll(ctx)
}

func (e *Engine) record(reply models.Reply) models.Reply {
	e.metrics.RecordReply(string(reply.Kind))
	return reply
}
