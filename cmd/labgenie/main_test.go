package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"labgenie/internal/pipeline"
	"labgenie/internal/stage"
)

func TestReadURLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.txt")
	content := `# queue for tonight
https://example.com/writeup-1

https://example.com/writeup-2
  # indented comment
https://example.com/writeup-3
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	urls, err := readURLFile(path)
	if err != nil {
		t.Fatalf("readURLFile: %v", err)
	}
	if len(urls) != 3 {
		t.Fatalf("expected 3 urls, got %d: %v", len(urls), urls)
	}
	if urls[2] != "https://example.com/writeup-3" {
		t.Errorf("unexpected last url %q", urls[2])
	}
}

func TestReadURLFile_Missing(t *testing.T) {
	if _, err := readURLFile(filepath.Join(t.TempDir(), "absent.txt")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "flag", "config"); got != "flag" {
		t.Errorf("firstNonEmpty=%q, want flag", got)
	}
	if got := firstNonEmpty("", ""); got != "" {
		t.Errorf("firstNonEmpty=%q, want empty", got)
	}
}

func TestRenderSummary_Failure(t *testing.T) {
	start := time.Now()
	run := &pipeline.Run{
		ID:     "20250314_092653_abcd1234",
		Status: pipeline.StatusFailed,
		Results: []stage.Result{
			{Stage: "writeup_markdown", Status: stage.StatusOK, Attempts: []stage.Attempt{{Index: 1}}},
			{
				Stage:  "writeup_parser",
				Status: stage.StatusError,
				Attempts: []stage.Attempt{
					{Index: 1, Raw: "not json at all", Err: "could not repair"},
				},
				Err: errors.New("exhausted 3 attempts"),
			},
		},
		FailedStage: "writeup_parser",
		Err:         errors.New("exhausted 3 attempts"),
		Start:       start,
		End:         start.Add(2 * time.Second),
	}

	out := renderSummary(run, false)
	if !strings.Contains(out, "failed at writeup_parser") {
		t.Errorf("summary missing failure line: %s", out)
	}
	if strings.Contains(out, "not json at all") {
		t.Error("raw excerpt must only appear in debug mode")
	}

	withDebug := renderSummary(run, true)
	if !strings.Contains(withDebug, "not json at all") {
		t.Error("debug summary should include the raw excerpt")
	}
}

func TestRenderSummary_Completed(t *testing.T) {
	run := &pipeline.Run{
		ID:         "20250314_092653_abcd1234",
		Status:     pipeline.StatusCompleted,
		BundlePath: "/labs/sqli_lab",
		Results: []stage.Result{
			{Stage: "writeup_markdown", Status: stage.StatusOK, Attempts: []stage.Attempt{{Index: 1}}},
		},
	}
	out := renderSummary(run, false)
	if !strings.Contains(out, "/labs/sqli_lab") {
		t.Errorf("summary missing bundle path: %s", out)
	}
}
