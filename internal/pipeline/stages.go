package pipeline

import (
	"encoding/json"
	"fmt"

	"labgenie/internal/backend"
	"labgenie/internal/config"
	"labgenie/internal/stage"
)

// contentWindow bounds how much fetched markdown goes into a prompt.
const contentWindow = 8000

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// stageSpecs declares the four pipeline stages in execution order. The
// converter runs hot enough to clean prose; the extractor runs cold for
// factual pulls; the planner and builder sit in between.
func stageSpecs() []stage.Spec {
	return []stage.Spec{
		{
			Name:     config.StageWriteupMarkdown,
			Required: []string{"status"},
			Params:   backend.Params{Temperature: 0.4, TopP: 0.9, TopK: 40, MaxOutputTokens: 15000},
			BuildPrompt: func(input map[string]any) (string, error) {
				url, _ := input["url"].(string)
				md, _ := input["markdown"].(string)
				if md == "" {
					return "", fmt.Errorf("no fetched content for %s", url)
				}
				return fmt.Sprintf("Source URL: %s\n\nFetched page content:\n\n%s",
					url, truncate(md, contentWindow)), nil
			},
			// Downstream stages need the full fetched markdown and the
			// source metadata, which the model response does not carry.
			Finalize: func(input, payload map[string]any) {
				payload["markdown"] = input["markdown"]
				payload["input"] = map[string]any{
					"url":        input["url"],
					"fetch_time": input["fetch_time"],
				}
			},
		},
		{
			Name:     config.StageWriteupParser,
			Required: []string{"vulnerability_type", "root_cause", "reproduction_steps"},
			Params:   backend.Params{Temperature: 0.2, TopP: 0.9, TopK: 20, MaxOutputTokens: 8192},
			BuildPrompt: func(input map[string]any) (string, error) {
				md, _ := input["markdown"].(string)
				if md == "" {
					return "", fmt.Errorf("predecessor payload carries no markdown")
				}
				return "Write-up to analyze:\n\n" + truncate(md, contentWindow), nil
			},
			Finalize: func(input, payload map[string]any) {
				if src, ok := input["input"]; ok {
					payload["source"] = src
				}
			},
		},
		{
			Name:        config.StageLabPlanner,
			Required:    []string{"plan_metadata", "components"},
			Params:      backend.Params{Temperature: 0.5, TopP: 0.92, TopK: 40, MaxOutputTokens: 16384},
			BuildPrompt: jsonPrompt("Vulnerability record:"),
		},
		{
			Name:        config.StageLabBuilder,
			Required:    []string{"files"},
			Params:      backend.Params{Temperature: 0.3, TopP: 0.9, TopK: 30, MaxOutputTokens: 65536},
			BuildPrompt: jsonPrompt("Lab plan:"),
		},
	}
}

// jsonPrompt renders the whole predecessor payload as indented JSON under
// a heading.
func jsonPrompt(heading string) func(map[string]any) (string, error) {
	return func(input map[string]any) (string, error) {
		data, err := json.MarshalIndent(input, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to encode stage input: %w", err)
		}
		return heading + "\n\n" + string(data), nil
	}
}
