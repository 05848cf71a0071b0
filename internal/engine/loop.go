package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relaybot/relay/internal/llm"
	"github.com/relaybot/relay/internal/toolmode"
	"github.com/relaybot/relay/pkg/models"
)

// converse drives the function-call resolution loop: call the
// provider, execute any pending calls, append call and response to
// the session, and resubmit until the model stops issuing calls or
// the iteration cap is hit. Returns either the final response or the
// Reply to surface instead.
func (e *Engine) converse(ctx context.Context, sess *models.Session, provider llm.Provider) (*llm.Response, *models.Reply) {
	sessionID := sess.ID
	mode := e.modes.Active(sessionID)

	for iteration := 0; iteration < e.config.MaxToolIterations; iteration++ {
		turns, err := llm.ToTurns(sess.Messages, provider.SupportsMedia())
		if err != nil {
			if errors.Is(err, llm.ErrModalityMismatch) {
				e.logger.Warn("session holds media a text-only provider cannot take; resetting",
					"session_id", sessionID, "provider", provider.Name())
				e.store.Clear(ctx, sessionID)
				reply := models.ErrorReply("That content needs a multi-modal model, so I've reset our conversation. Please resend it.")
				return nil, &reply
			}
			e.logger.Error("normalize failed", "session_id", sessionID, "error", err)
			e.store.Clear(ctx, sessionID)
			reply := models.ErrorReply("Something went wrong preparing your conversation. I've reset it; please try again.")
			return nil, &reply
		}

		req := &llm.Request{
			Model:        sess.Binding.Model,
			System:       e.systemPrompt(mode),
			Turns:        turns,
			Tools:        e.registry.Schemas(),
			MaxTokens:    e.config.MaxTokens,
			Temperature:  e.config.Temperature,
			EnableSearch: mode == toolmode.FlagSearch,
		}

		start := time.Now()
		outcome := e.retrier.Do(ctx, sessionID, func(ctx context.Context) (*llm.Response, error) {
			callCtx, cancel := context.WithTimeout(ctx, e.config.RequestTimeout)
			defer cancel()
			return provider.Complete(callCtx, req)
		})
		if outcome.Degraded {
			// A corrupt or oversized context must not poison the
			// next turn.
			e.store.Clear(ctx, sessionID)
			e.metrics.RecordDegraded(string(outcome.Class))
			e.metrics.RecordProviderRequest(provider.Name(), req.Model, "error",
				time.Since(start).Seconds(), 0, 0)
			reply := models.ErrorReply(outcome.Apology)
			return nil, &reply
		}

		resp := outcome.Response
		e.metrics.RecordProviderRequest(provider.Name(), req.Model, "success",
			time.Since(start).Seconds(), resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

		if !resp.HasToolCalls() {
			return resp, nil
		}

		if reply := e.executeCalls(ctx, sessionID, resp.ToolCalls); reply != nil {
			return nil, reply
		}

		updated, err := e.store.Get(ctx, sessionID)
		if err != nil {
			e.logger.Error("session vanished mid-loop", "session_id", sessionID, "error", err)
			reply := models.ErrorReply("Our conversation expired mid-request. Please try again.")
			return nil, &reply
		}
		sess = updated
	}

	e.logger.Error("function-call loop exceeded iteration cap",
		"session_id", sessionID, "cap", e.config.MaxToolIterations)
	e.store.Clear(ctx, sessionID)
	reply := models.ErrorReply("That request needed too many function calls, so I stopped. Please try a simpler request.")
	return nil, &reply
}

// executeCalls resolves and runs each pending call, appending the
// call and its response to the session. An unregistered name aborts
// the turn without appending a synthetic response.
func (e *Engine) executeCalls(ctx context.Context, sessionID string, calls []models.FunctionCall) *models.Reply {
	for _, call := range calls {
		if _, ok := e.registry.Resolve(call.Name); !ok {
			e.logger.Error("model invoked unregistered function",
				"session_id", sessionID, "function", call.Name)
			e.metrics.RecordToolExecution(call.Name, "error", 0)
			reply := models.ErrorReply(fmt.Sprintf("I tried to use a function (%s) that isn't available.", call.Name))
			return &reply
		}

		if err := e.store.AppendToolTurn(ctx, sessionID, models.RoleToolCall, call); err != nil {
			e.logger.Error("append tool call failed", "session_id", sessionID, "error", err)
			reply := models.ErrorReply("Our conversation expired mid-request. Please try again.")
			return &reply
		}

		start := time.Now()
		result, err := e.registry.Execute(ctx, call.Name, call.Args, sessionID)
		if err != nil {
			// Execution failures still answer the call, so the
			// call/response pairing stays intact and the model can
			// recover.
			e.logger.Warn("tool execution failed",
				"session_id", sessionID, "function", call.Name, "error", err)
			e.metrics.RecordToolExecution(call.Name, "error", time.Since(start).Seconds())
			result = map[string]any{"error": err.Error()}
		} else {
			e.metrics.RecordToolExecution(call.Name, "success", time.Since(start).Seconds())
		}

		response := models.FunctionResponse{ID: call.ID, Name: call.Name, Result: result}
		if err := e.store.AppendToolTurn(ctx, sessionID, models.RoleToolResponse, response); err != nil {
			e.logger.Error("append tool response failed", "session_id", sessionID, "error", err)
			reply := models.ErrorReply("Our conversation expired mid-request. Please try again.")
			return &reply
		}
	}
	return nil
}

func (e *Engine) systemPrompt(mode toolmode.Flag) string {
	base := e.config.SystemPrompt
	extra := modePrompts[mode]
	switch {
	case base == "":
		return extra
	case extra == "":
		return base
	default:
		return base + "\n\n" + extra
	}
}

var modePrompts = map[toolmode.Flag]string{
	toolmode.FlagSearch:    "Ground your answer in current web results when the question needs fresh information.",
	toolmode.FlagImageEdit: "The user wants the referenced image edited. Describe the edit you would produce and any image you generate.",
	toolmode.FlagVideoEdit: "The user wants the referenced video edited. Work from the attached clips.",
	toolmode.FlagPrint:     "Produce a clean, print-ready document from the conversation so far.",
	toolmode.FlagBreakdown: "Use the scene_breakdown function to split the screenplay, then summarize props, cast, and locations per scene.",
}
