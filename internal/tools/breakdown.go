package tools

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/invopop/jsonschema"
)

// sceneHeading matches the line styles screenwriters use to open a
// scene: numbered headings, INT/EXT sluglines, and the Chinese
// 第N场 / 场景 forms.
var sceneHeading = regexp.MustCompile(`^(第.+场.*|场景.*|\d+\..*|(INT|EXT)[.\s].*)$`)

type breakdownArgs struct {
	Script string `json:"script" jsonschema:"required,description=Screenplay text to split into scenes"`
}

type scene struct {
	Heading string `json:"heading"`
	Lines   int    `json:"lines"`
	Chars   int    `json:"chars"`
}

// NewSceneBreakdown builds the screenplay scene-breakdown tool. It
// splits the script on scene headings and reports per-scene length,
// which the model folds into its asset-breakdown answer.
func NewSceneBreakdown() *Tool {
	return &Tool{
		Name:        "scene_breakdown",
		Description: "Split a screenplay into scenes and report the heading and length of each.",
		Schema:      reflectSchema(&breakdownArgs{}),
		Handler:     runSceneBreakdown,
	}
}

func runSceneBreakdown(ctx context.Context, args map[string]any, sessionID string) (map[string]any, error) {
	script, _ := args["script"].(string)

	var (
		scenes  []scene
		current *scene
	)
	flush := func() {
		if current != nil {
			scenes = append(scenes, *current)
			current = nil
		}
	}

	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if sceneHeading.MatchString(trimmed) {
			flush()
			current = &scene{Heading: trimmed}
			continue
		}
		if current == nil {
			// Text before the first heading counts as a preamble scene.
			current = &scene{Heading: "(preamble)"}
		}
		current.Lines++
		current.Chars += utf8.RuneCountInString(trimmed)
	}
	flush()

	out := make([]any, 0, len(scenes))
	for _, s := range scenes {
		out = append(out, map[string]any{
			"heading": s.Heading,
			"lines":   s.Lines,
			"chars":   s.Chars,
		})
	}
	return map[string]any{
		"scene_count": len(scenes),
		"scenes":      out,
	}, nil
}

// reflectSchema derives a JSON schema from a Go args struct.
func reflectSchema(v any) json.RawMessage {
	reflector := jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
	}
	schema := reflector.Reflect(v)
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	return raw
}
