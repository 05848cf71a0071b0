package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/relaybot/relay/internal/llm"
	"github.com/relaybot/relay/internal/retry"
	"github.com/relaybot/relay/internal/sessions"
	"github.com/relaybot/relay/internal/toolmode"
	"github.com/relaybot/relay/internal/tools"
	"github.com/relaybot/relay/pkg/models"
)

// stubProvider returns scripted responses or errors in order,
// repeating the last script entry once exhausted.
type stubProvider struct {
	name    string
	media   bool
	script  []stubResult
	calls   int
	lastReq *llm.Request
}

type stubResult struct {
	resp *llm.Response
	err  error
}

func (p *stubProvider) Name() string        { return p.name }
func (p *stubProvider) SupportsMedia() bool { return p.media }

func (p *stubProvider) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	p.lastReq = req
	i := p.calls
	if i >= len(p.script) {
		i = len(p.script) - 1
	}
	p.calls++
	r := p.script[i]
	return r.resp, r.err
}

func newTestEngine(t *testing.T, provider *stubProvider, extraTools ...*tools.Tool) (*Engine, sessions.Store) {
	t.Helper()

	store := sessions.NewMemoryStore(sessions.Config{
		DefaultBinding: models.Binding{Provider: provider.name, Model: "test-model"},
	}, nil)

	registry := tools.NewRegistry(nil)
	for _, tool := range extraTools {
		if err := registry.Register(tool); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}

	providers := llm.NewRegistry()
	providers.Register(provider)

	// Zero delays keep transient-retry tests fast.
	retrier := retry.NewController(retry.Config{
		MaxAttempts: 2,
		Delays:      map[llm.ErrorClass]time.Duration{},
	}, nil)

	eng := New(Options{
		Store:     store,
		Modes:     toolmode.NewState(),
		Registry:  registry,
		Retrier:   retrier,
		Providers: providers,
	})
	return eng, store
}

func TestHandleIncomingPlainText(t *testing.T) {
	provider := &stubProvider{
		name:   "stub",
		script: []stubResult{{resp: &llm.Response{Text: "hi", Usage: llm.Usage{TotalTokens: 3}}}},
	}
	eng, store := newTestEngine(t, provider)

	reply := eng.HandleIncoming(context.Background(), "s1", models.Text{Text: "hello"})

	if reply.Kind != models.ReplyText {
		t.Fatalf("Kind = %q, want text (%q)", reply.Kind, reply.Text)
	}
	if reply.Text != "hi" {
		t.Errorf("Text = %q, want %q", reply.Text, "hi")
	}

	sess, err := store.Get(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(sess.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(sess.Messages))
	}
	if sess.TokenUsage != 3 {
		t.Errorf("TokenUsage = %d, want 3", sess.TokenUsage)
	}
}

func TestHandleIncomingToolLoop(t *testing.T) {
	provider := &stubProvider{
		name: "stub",
		script: []stubResult{
			{resp: &llm.Response{ToolCalls: []models.FunctionCall{{
				ID: "c1", Name: "lookup", Args: map[string]any{"q": "cats"},
			}}}},
			{resp: &llm.Response{Text: "done", Usage: llm.Usage{TotalTokens: 5}}},
		},
	}
	lookup := &tools.Tool{
		Name: "lookup",
		Handler: func(ctx context.Context, args map[string]any, sessionID string) (map[string]any, error) {
			return map[string]any{"answer": 42}, nil
		},
	}
	eng, store := newTestEngine(t, provider, lookup)

	reply := eng.HandleIncoming(context.Background(), "s1", models.Text{Text: "look up cats"})

	if reply.Kind != models.ReplyText || reply.Text != "done" {
		t.Fatalf("reply = %+v, want text %q", reply, "done")
	}
	if provider.calls != 2 {
		t.Errorf("provider calls = %d, want 2", provider.calls)
	}

	sess, err := store.Get(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	// user, tool-call, tool-response, assistant
	roles := make([]models.Role, 0, len(sess.Messages))
	for _, m := range sess.Messages {
		roles = append(roles, m.Role)
	}
	want := []models.Role{models.RoleUser, models.RoleToolCall, models.RoleToolResponse, models.RoleAssistant}
	if len(roles) != len(want) {
		t.Fatalf("roles = %v, want %v", roles, want)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Errorf("roles[%d] = %q, want %q", i, roles[i], want[i])
		}
	}
}

func TestHandleIncomingUnregisteredFunction(t *testing.T) {
	provider := &stubProvider{
		name: "stub",
		script: []stubResult{
			{resp: &llm.Response{ToolCalls: []models.FunctionCall{{Name: "ghost"}}}},
		},
	}
	eng, store := newTestEngine(t, provider)

	reply := eng.HandleIncoming(context.Background(), "s1", models.Text{Text: "go"})

	if reply.Kind != models.ReplyError {
		t.Fatalf("Kind = %q, want error", reply.Kind)
	}
	if !strings.Contains(reply.Text, "ghost") {
		t.Errorf("Text = %q, want mention of ghost", reply.Text)
	}

	sess, err := store.Get(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	for _, m := range sess.Messages {
		if m.Role == models.RoleToolResponse {
			t.Error("synthetic tool-response appended for unregistered function")
		}
	}
	if provider.calls != 1 {
		t.Errorf("provider calls = %d, want 1", provider.calls)
	}
}

func TestHandleIncomingIterationCap(t *testing.T) {
	provider := &stubProvider{
		name: "stub",
		script: []stubResult{
			{resp: &llm.Response{ToolCalls: []models.FunctionCall{{Name: "loop"}}}},
		},
	}
	loopTool := &tools.Tool{
		Name: "loop",
		Handler: func(ctx context.Context, args map[string]any, sessionID string) (map[string]any, error) {
			return map[string]any{}, nil
		},
	}
	eng, _ := newTestEngine(t, provider, loopTool)

	reply := eng.HandleIncoming(context.Background(), "s1", models.Text{Text: "go"})

	if reply.Kind != models.ReplyError {
		t.Fatalf("Kind = %q, want error", reply.Kind)
	}
	if provider.calls != 8 {
		t.Errorf("provider calls = %d, want the cap of 8", provider.calls)
	}
}

func TestHandleIncomingDegradedClearsSession(t *testing.T) {
	provider := &stubProvider{
		name:   "stub",
		script: []stubResult{{err: errors.New("429 too many requests")}},
	}
	eng, store := newTestEngine(t, provider)

	reply := eng.HandleIncoming(context.Background(), "s1", models.Text{Text: "hello"})

	if reply.Kind != models.ReplyError {
		t.Fatalf("Kind = %q, want error", reply.Kind)
	}
	if reply.Text == "" {
		t.Error("degraded reply has empty apology")
	}
	// MaxAttempts 2: first try plus one retry, then give up.
	if provider.calls != 2 {
		t.Errorf("provider calls = %d, want 2", provider.calls)
	}

	sess, err := store.Get(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(sess.Messages) != 0 {
		t.Errorf("len(Messages) = %d after degraded turn, want 0", len(sess.Messages))
	}
}

func TestHandleIncomingModalityMismatch(t *testing.T) {
	provider := &stubProvider{
		name:   "stub",
		media:  false,
		script: []stubResult{{resp: &llm.Response{Text: "unused"}}},
	}
	eng, store := newTestEngine(t, provider)

	reply := eng.HandleIncoming(context.Background(), "s1",
		models.ImageRef{URL: "https://x/a.png", MimeType: "image/png"})

	if reply.Kind != models.ReplyError {
		t.Fatalf("Kind = %q, want error", reply.Kind)
	}
	if provider.calls != 0 {
		t.Errorf("provider calls = %d, want 0", provider.calls)
	}
	sess, err := store.Get(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(sess.Messages) != 0 {
		t.Errorf("len(Messages) = %d, want 0 after reset", len(sess.Messages))
	}
}

func TestSearchModeSetsEnableSearch(t *testing.T) {
	provider := &stubProvider{
		name:   "stub",
		script: []stubResult{{resp: &llm.Response{Text: "grounded"}}},
	}
	eng, _ := newTestEngine(t, provider)

	if _, err := eng.ToggleMode("s1", toolmode.FlagSearch); err != nil {
		t.Fatalf("ToggleMode() error = %v", err)
	}
	eng.HandleIncoming(context.Background(), "s1", models.Text{Text: "news?"})

	if provider.lastReq == nil || !provider.lastReq.EnableSearch {
		t.Error("EnableSearch not set in search mode")
	}
}

func TestClearSessionResetsModes(t *testing.T) {
	provider := &stubProvider{
		name:   "stub",
		script: []stubResult{{resp: &llm.Response{Text: "ok"}}},
	}
	eng, store := newTestEngine(t, provider)

	eng.HandleIncoming(context.Background(), "s1", models.Text{Text: "hi"})
	if _, err := eng.ToggleMode("s1", toolmode.FlagBreakdown); err != nil {
		t.Fatalf("ToggleMode() error = %v", err)
	}

	eng.ClearSession(context.Background(), "s1")

	sess, err := store.Get(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(sess.Messages) != 0 {
		t.Errorf("len(Messages) = %d, want 0", len(sess.Messages))
	}
	if eng.modes.Active("s1") != "" {
		t.Errorf("Active() = %q, want empty after clear", eng.modes.Active("s1"))
	}
}
