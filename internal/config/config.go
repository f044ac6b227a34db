// Package config holds the on-disk configuration and provider detection.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Default model identifiers. The first stage runs on flash: it is a cheap
// conversion step. The reasoning-heavy stages run on pro.
const (
	DefaultFlashModel = "gemini-2.5-flash"
	DefaultProModel   = "models/gemini-2.5-pro"
)

// Stage names, used as model-map keys and log file names.
const (
	StageWriteupMarkdown = "writeup_markdown"
	StageWriteupParser   = "writeup_parser"
	StageLabPlanner      = "lab_planner"
	StageLabBuilder      = "lab_builder"
)

// Stages lists the pipeline stages in execution order.
var Stages = []string{
	StageWriteupMarkdown,
	StageWriteupParser,
	StageLabPlanner,
	StageLabBuilder,
}

// Config is the labgenie.yaml file.
type Config struct {
	// Provider forces "gemini" or "vertex"; empty means auto-detect.
	Provider string `yaml:"provider,omitempty"`
	// Location is the Vertex AI region.
	Location  string            `yaml:"location,omitempty"`
	OutputDir string            `yaml:"output_dir"`
	LogDir    string            `yaml:"log_dir"`
	Models    map[string]string `yaml:"models"`
	// Strict halts the pipeline when a stage returns a partial payload.
	Strict bool `yaml:"strict,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		OutputDir: "generated_labs",
		LogDir:    "logs",
		Models: map[string]string{
			StageWriteupMarkdown: DefaultFlashModel,
			StageWriteupParser:   DefaultProModel,
			StageLabPlanner:      DefaultProModel,
			StageLabBuilder:      DefaultProModel,
		},
	}
}

// Load reads the config at path over the defaults, so absent keys keep
// their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault returns Load(path) when the file exists, the defaults
// otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// Save writes the config as YAML, creating parent directories as needed.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ModelFor returns the model configured for a stage, falling back to the
// pro model for unknown stages.
func (c *Config) ModelFor(stage string) string {
	if m, ok := c.Models[stage]; ok && m != "" {
		return m
	}
	return DefaultProModel
}
