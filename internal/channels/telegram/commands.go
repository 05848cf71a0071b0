package telegram

import (
	"context"
	"fmt"
	"strings"

	tgmodels "github.com/go-telegram/bot/models"

	"github.com/relaybot/relay/internal/toolmode"
)

// slashModes maps slash commands onto tool-mode flags.
var slashModes = map[string]toolmode.Flag{
	"/search":    toolmode.FlagSearch,
	"/image":     toolmode.FlagImageEdit,
	"/video":     toolmode.FlagVideoEdit,
	"/print":     toolmode.FlagPrint,
	"/breakdown": toolmode.FlagBreakdown,
}

// modeLabels are the user-facing names for toggle confirmations.
var modeLabels = map[toolmode.Flag]string{
	toolmode.FlagSearch:    "Search",
	toolmode.FlagImageEdit: "Image editing",
	toolmode.FlagVideoEdit: "Video editing",
	toolmode.FlagPrint:     "Print",
	toolmode.FlagBreakdown: "Scene breakdown",
}

const helpText = `I'm a conversational assistant. Send me text, photos or documents.

Mode toggles (send again to switch off):
/search - ground answers in web search
/image - image editing mode
/video - video editing mode
/print - print layout mode
/breakdown - scene breakdown mode

Admin:
#clear - forget this conversation
#clearall - forget all conversations
#reload - reload configuration`

// handleCommand intercepts slash and hash commands. It reports whether
// the message was consumed.
func (a *Adapter) handleCommand(ctx context.Context, chatID int64, sessionID string, msg *tgmodels.Message) bool {
	command, ok := parseCommand(msg.Text)
	if !ok {
		return false
	}

	switch command {
	case "/start", "/help":
		a.sendText(ctx, chatID, helpText)
		return true

	case "#clear":
		a.engine.ClearSession(ctx, sessionID)
		a.sendText(ctx, chatID, "Conversation cleared.")
		return true

	case "#clearall":
		if !a.fromAdmin(msg) {
			a.sendText(ctx, chatID, "Only admins can clear all conversations.")
			return true
		}
		a.engine.ClearAll(ctx)
		a.sendText(ctx, chatID, "All conversations cleared.")
		return true

	case "#reload":
		if !a.fromAdmin(msg) {
			a.sendText(ctx, chatID, "Only admins can reload configuration.")
			return true
		}
		if a.reloader == nil {
			a.sendText(ctx, chatID, "Configuration reloading isn't available.")
			return true
		}
		if err := a.reloader.Reload(); err != nil {
			a.logger.Error("config reload failed", "error", err)
			a.sendText(ctx, chatID, fmt.Sprintf("Reload failed: %v", err))
			return true
		}
		a.sendText(ctx, chatID, "Configuration reloaded.")
		return true
	}

	if flag, ok := slashModes[command]; ok {
		enabled, err := a.engine.ToggleMode(sessionID, flag)
		if err != nil {
			a.logger.Error("mode toggle failed", "flag", flag, "error", err)
			a.sendText(ctx, chatID, "I couldn't switch that mode.")
			return true
		}
		state := "off"
		if enabled {
			state = "on"
		}
		a.sendText(ctx, chatID, fmt.Sprintf("%s mode %s.", modeLabels[flag], state))
		return true
	}

	// Unknown slash commands are consumed rather than forwarded to
	// the model; hash words that aren't commands stay conversational.
	if strings.HasPrefix(command, "/") {
		a.sendText(ctx, chatID, "I don't know that command. Try /help.")
		return true
	}
	return false
}

// parseCommand extracts a leading slash or hash command from text,
// stripping any @botname suffix. Only the first word counts.
func parseCommand(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	if text[0] != '/' && text[0] != '#' {
		return "", false
	}

	word := text
	if idx := strings.IndexAny(word, " \t\n"); idx != -1 {
		word = word[:idx]
	}
	if at := strings.Index(word, "@"); at != -1 {
		word = word[:at]
	}
	if len(word) < 2 {
		return "", false
	}
	return strings.ToLower(word), true
}

func (a *Adapter) fromAdmin(msg *tgmodels.Message) bool {
	return msg.From != nil && a.isAdmin(msg.From.ID)
}
