// Package prompts carries the per-stage system instructions, embedded so
// the binary is self-contained.
package prompts

import (
	"embed"
	"fmt"

	"labgenie/internal/config"
)

//go:embed templates/*.md
var templates embed.FS

var stageFiles = map[string]string{
	config.StageWriteupMarkdown: "templates/writeup_markdown.md",
	config.StageWriteupParser:   "templates/writeup_parser.md",
	config.StageLabPlanner:      "templates/lab_planner.md",
	config.StageLabBuilder:      "templates/lab_builder.md",
}

// Load returns the system instruction for a stage. Unknown stages are a
// configuration error, surfaced before any model call.
func Load(stage string) (string, error) {
	path, ok := stageFiles[stage]
	if !ok {
		return "", fmt.Errorf("no prompt template for stage %q", stage)
	}
	data, err := templates.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt template for %s: %w", stage, err)
	}
	return string(data), nil
}
