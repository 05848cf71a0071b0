package engine

import (
	"net/url"
	"path"
	"strings"

	"github.com/relaybot/relay/pkg/models"
)

var (
	imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true}
	videoExts = map[string]bool{".mp4": true, ".mov": true, ".webm": true, ".mkv": true}
)

// ResolveReply maps the final provider response onto exactly one
// reply kind. Media produced by a function during this turn wins over
// the text; the text then rides along as the caption. A bare media
// URL in the text is surfaced as that media kind. Everything else is
// plain text, and an empty response is an error.
func ResolveReply(messages []models.Message, text string) models.Reply {
	if reply, ok := mediaFromFunctions(messages, text); ok {
		return reply
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return models.ErrorReply("I have no answer for that. Please try again.")
	}

	if u, ok := soleURL(trimmed); ok {
		ext := strings.ToLower(path.Ext(u.Path))
		switch {
		case imageExts[ext]:
			return models.Reply{Kind: models.ReplyImage, URL: trimmed}
		case videoExts[ext]:
			return models.Reply{Kind: models.ReplyVideo, URL: trimmed}
		}
	}

	return models.TextReply(trimmed)
}

// mediaFromFunctions scans function responses appended after the last
// user turn for media the tools produced.
func mediaFromFunctions(messages []models.Message, caption string) (models.Reply, bool) {
	start := 0
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			start = i + 1
			break
		}
	}

	for i := len(messages) - 1; i >= start; i-- {
		resp, ok := messages[i].Content.(models.FunctionResponse)
		if !ok {
			continue
		}
		if v, ok := resp.Result["image_url"].(string); ok && v != "" {
			return models.Reply{Kind: models.ReplyImage, URL: v, Caption: caption}, true
		}
		if v, ok := resp.Result["video_url"].(string); ok && v != "" {
			return models.Reply{Kind: models.ReplyVideo, URL: v, Caption: caption}, true
		}
		if v, ok := resp.Result["file_path"].(string); ok && v != "" {
			return models.Reply{Kind: models.ReplyFile, Path: v, Caption: caption}, true
		}
	}
	return models.Reply{}, false
}

// soleURL reports whether s is exactly one absolute URL.
func soleURL(s string) (*url.URL, bool) {
	if strings.ContainsAny(s, " \t\n") {
		return nil, false
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, false
	}
	return u, true
}
