// Package artifact persists run logs and the generated lab bundle.
//
// Layout: logs/<run_id>/run_info.json plus one JSONL log per stage, and
// generated_labs/<lab_name>/ with the generated files, Dockerfile,
// docker-compose.yml and a lab_manifest.json capturing the full builder
// payload.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"labgenie/internal/config"
	"labgenie/internal/stage"
)

// Store writes run logs under LogDir and bundles under OutputDir.
type Store struct {
	OutputDir string
	LogDir    string
	Log       *zap.Logger

	mu sync.Mutex // guards run_info.json read-modify-write
}

// NewStore builds a Store rooted at the given directories.
func NewStore(outputDir, logDir string, log *zap.Logger) *Store {
	return &Store{OutputDir: outputDir, LogDir: logDir, Log: log}
}

type runInfo struct {
	RunID     string `json:"run_id"`
	URL       string `json:"url"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time,omitempty"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

func (s *Store) runDir(runID string) string { return filepath.Join(s.LogDir, runID) }

// InitRun creates the run log directory and an initial run_info.json.
func (s *Store) InitRun(runID, url string) error {
	dir := s.runDir(runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create run log directory: %w", err)
	}
	info := runInfo{
		RunID:     runID,
		URL:       url,
		StartTime: time.Now().UTC().Format(time.RFC3339),
		Status:    "running",
	}
	return s.writeRunInfo(runID, info)
}

// PersistStage appends one JSON line to the stage's log file. The full
// payload is not logged, only its shape; raw payloads live in the error
// log when they fail.
func (s *Store) PersistStage(runID string, index int, res stage.Result) error {
	entry := map[string]any{
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"stage":       res.Stage,
		"index":       index,
		"status":      string(res.Status),
		"attempts":    len(res.Attempts),
		"duration_ms": res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		entry["error"] = res.Err.Error()
	}
	if res.Payload != nil {
		entry["response_keys"] = sortedKeys(res.Payload)
	}
	if len(res.Missing) > 0 {
		entry["missing_fields"] = res.Missing
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	path := filepath.Join(s.runDir(runID), res.Stage+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open stage log: %w", err)
	}
	defer f.Close()
	_, err = f.Write(append(data, '\n'))
	return err
}

// FinalizeRun stamps the end time and final status into run_info.json.
func (s *Store) FinalizeRun(runID, status string, runErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.runDir(runID), "run_info.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read run info: %w", err)
	}
	var info runInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return fmt.Errorf("failed to parse run info: %w", err)
	}
	info.EndTime = time.Now().UTC().Format(time.RFC3339)
	info.Status = status
	if runErr != nil {
		info.Error = runErr.Error()
	}
	return s.writeRunInfoLocked(runID, info)
}

func (s *Store) writeRunInfo(runID string, info runInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeRunInfoLocked(runID, info)
}

func (s *Store) writeRunInfoLocked(runID string, info runInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.runDir(runID), "run_info.json"), data, 0644)
}

// PersistBundle writes the generated lab to OutputDir/<lab_name>/ and
// returns the bundle path. A builder payload with no files still produces
// a directory holding a debug dump, so the run leaves something to
// inspect.
func (s *Store) PersistBundle(runID string, results []stage.Result) (string, error) {
	labData := payloadFor(results, config.StageLabBuilder)
	if labData == nil {
		return "", fmt.Errorf("no builder payload to persist")
	}
	planData := payloadFor(results, config.StageLabPlanner)

	name := labName(planData, labData)
	dir := filepath.Join(s.OutputDir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create bundle directory: %w", err)
	}

	files, _ := labData["files"].([]any)
	if len(files) == 0 {
		s.Log.Warn("builder returned no files, writing debug dump",
			zap.String("run_id", runID), zap.String("bundle", dir))
		if err := writeJSON(filepath.Join(dir, "debug_lab_data.json"), labData); err != nil {
			return "", err
		}
		return dir, nil
	}

	written := 0
	for _, f := range files {
		entry, ok := f.(map[string]any)
		if !ok {
			continue
		}
		path, _ := entry["path"].(string)
		content, _ := entry["content"].(string)
		if path == "" {
			continue
		}
		if err := writeLabFile(dir, path, content); err != nil {
			return "", err
		}
		written++
	}

	if err := s.writeDockerConfig(dir, labData); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(dir, "lab_manifest.json"), labData); err != nil {
		return "", err
	}

	s.Log.Info("bundle written",
		zap.String("run_id", runID),
		zap.String("bundle", dir),
		zap.Int("files", written))
	return dir, nil
}

func (s *Store) writeDockerConfig(dir string, labData map[string]any) error {
	dc, ok := labData["docker_config"].(map[string]any)
	if !ok {
		return nil
	}
	if content := nestedContent(dc, "dockerfile"); content != "" {
		if err := writeLabFile(dir, "Dockerfile", content); err != nil {
			return err
		}
	}
	if content := nestedContent(dc, "docker_compose"); content != "" && content != "null" {
		if err := writeLabFile(dir, "docker-compose.yml", content); err != nil {
			return err
		}
	}
	return nil
}

// nestedContent pulls key.content from a builder payload, accepting both
// the object form {"content": ...} and a bare string.
func nestedContent(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case map[string]any:
		c, _ := v["content"].(string)
		return c
	case string:
		return v
	}
	return ""
}

// writeLabFile writes one generated file under root, rejecting paths that
// escape the bundle directory.
func writeLabFile(root, rel, content string) error {
	rel = filepath.Clean(rel)
	if filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("refusing to write outside the bundle: %s", rel)
	}
	full := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", rel, err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", rel, err)
	}
	return nil
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_\-]`)

// labName picks the bundle directory name: the builder's own name, then
// the planner metadata, then a timestamped default. Sanitized for the
// filesystem and length-bounded.
func labName(planData, labData map[string]any) string {
	candidates := []any{
		labData["lab_name"],
		labData["name"],
	}
	if meta, ok := planData["plan_metadata"].(map[string]any); ok {
		candidates = append(candidates, meta["lab_name"], meta["name"])
	}
	name := ""
	for _, c := range candidates {
		if s, ok := c.(string); ok && strings.TrimSpace(s) != "" {
			name = strings.TrimSpace(s)
			break
		}
	}
	if name == "" {
		name = "lab_" + time.Now().Format("20060102_150405")
	}
	name = unsafeNameChars.ReplaceAllString(name, "_")
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}

func payloadFor(results []stage.Result, stageName string) map[string]any {
	for i := len(results) - 1; i >= 0; i-- {
		if results[i].Stage == stageName && results[i].Payload != nil {
			return results[i].Payload
		}
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
