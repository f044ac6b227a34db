package config

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.OutputDir != "generated_labs" {
		t.Errorf("expected OutputDir=generated_labs, got %s", cfg.OutputDir)
	}
	if cfg.LogDir != "logs" {
		t.Errorf("expected LogDir=logs, got %s", cfg.LogDir)
	}
	if got := cfg.ModelFor(StageWriteupMarkdown); got != DefaultFlashModel {
		t.Errorf("expected flash for %s, got %s", StageWriteupMarkdown, got)
	}
	for _, stage := range Stages[1:] {
		if got := cfg.ModelFor(stage); got != DefaultProModel {
			t.Errorf("expected pro for %s, got %s", stage, got)
		}
	}
}

func TestModelFor_UnknownStageFallsBack(t *testing.T) {
	cfg := Default()
	if got := cfg.ModelFor("no_such_stage"); got != DefaultProModel {
		t.Errorf("expected fallback to pro, got %s", got)
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labgenie.yaml")

	cfg := Default()
	cfg.Provider = "vertex"
	cfg.OutputDir = "out"
	cfg.Models[StageLabBuilder] = "gemini-exp"

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Provider != "vertex" {
		t.Errorf("expected Provider=vertex, got %s", loaded.Provider)
	}
	if loaded.OutputDir != "out" {
		t.Errorf("expected OutputDir=out, got %s", loaded.OutputDir)
	}
	if got := loaded.ModelFor(StageLabBuilder); got != "gemini-exp" {
		t.Errorf("expected builder model override, got %s", got)
	}
	// Keys absent from the file keep their defaults.
	if got := loaded.ModelFor(StageWriteupMarkdown); got != DefaultFlashModel {
		t.Errorf("expected default flash model, got %s", got)
	}
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault failed: %v", err)
	}
	if cfg.OutputDir != "generated_labs" {
		t.Errorf("expected defaults, got OutputDir=%s", cfg.OutputDir)
	}
}

func clearProviderEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LABGENIE_PROVIDER", "")
	t.Setenv("GOOGLE_CLOUD_PROJECT", "")
	t.Setenv("GCP_PROJECT", "")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("GOOGLE_CLOUD_LOCATION", "")
}

func TestResolveProvider_Explicit(t *testing.T) {
	clearProviderEnv(t)
	// Explicit choice wins even when the environment says otherwise.
	t.Setenv("GOOGLE_CLOUD_PROJECT", "proj")

	p, err := ResolveProvider("gemini")
	if err != nil {
		t.Fatalf("ResolveProvider: %v", err)
	}
	if p != ProviderGemini {
		t.Errorf("expected gemini, got %s", p)
	}
}

func TestResolveProvider_EnvVariable(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("LABGENIE_PROVIDER", "vertex")
	t.Setenv("GOOGLE_API_KEY", "key")

	p, err := ResolveProvider("")
	if err != nil {
		t.Fatalf("ResolveProvider: %v", err)
	}
	if p != ProviderVertex {
		t.Errorf("expected vertex, got %s", p)
	}
}

func TestResolveProvider_AutoDetect(t *testing.T) {
	t.Run("project means vertex", func(t *testing.T) {
		clearProviderEnv(t)
		t.Setenv("GOOGLE_CLOUD_PROJECT", "proj")
		t.Setenv("GOOGLE_API_KEY", "key") // project takes priority

		p, err := ResolveProvider("")
		if err != nil {
			t.Fatalf("ResolveProvider: %v", err)
		}
		if p != ProviderVertex {
			t.Errorf("expected vertex, got %s", p)
		}
	})

	t.Run("api key means gemini", func(t *testing.T) {
		clearProviderEnv(t)
		t.Setenv("GOOGLE_API_KEY", "key")

		p, err := ResolveProvider("")
		if err != nil {
			t.Fatalf("ResolveProvider: %v", err)
		}
		if p != ProviderGemini {
			t.Errorf("expected gemini, got %s", p)
		}
	})

	t.Run("nothing means startup error", func(t *testing.T) {
		clearProviderEnv(t)
		_, err := ResolveProvider("")
		if !errors.Is(err, ErrNoProvider) {
			t.Errorf("expected ErrNoProvider, got %v", err)
		}
	})
}

func TestResolveProvider_Invalid(t *testing.T) {
	clearProviderEnv(t)
	if _, err := ResolveProvider("openai"); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestLoadCredentials_Gemini(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("GOOGLE_API_KEY", "env-key")

	creds, err := LoadCredentials(ProviderGemini, "", "")
	if err != nil {
		t.Fatalf("LoadCredentials: %v", err)
	}
	if creds.APIKey != "env-key" {
		t.Errorf("expected env-key, got %s", creds.APIKey)
	}

	// Flag overrides env.
	creds, err = LoadCredentials(ProviderGemini, "flag-key", "")
	if err != nil {
		t.Fatalf("LoadCredentials: %v", err)
	}
	if creds.APIKey != "flag-key" {
		t.Errorf("expected flag-key, got %s", creds.APIKey)
	}
}

func TestLoadCredentials_GeminiMissingKey(t *testing.T) {
	clearProviderEnv(t)
	if _, err := LoadCredentials(ProviderGemini, "", ""); err == nil {
		t.Error("expected error when no API key is available")
	}
}

func TestLoadCredentials_Vertex(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("GOOGLE_CLOUD_PROJECT", "proj")

	creds, err := LoadCredentials(ProviderVertex, "", "")
	if err != nil {
		t.Fatalf("LoadCredentials: %v", err)
	}
	if creds.Project != "proj" {
		t.Errorf("expected project=proj, got %s", creds.Project)
	}
	if creds.Location != "us-central1" {
		t.Errorf("expected default location, got %s", creds.Location)
	}

	t.Setenv("GOOGLE_CLOUD_LOCATION", "europe-west4")
	creds, err = LoadCredentials(ProviderVertex, "", "")
	if err != nil {
		t.Fatalf("LoadCredentials: %v", err)
	}
	if creds.Location != "europe-west4" {
		t.Errorf("expected europe-west4, got %s", creds.Location)
	}
}

func TestLoadCredentials_VertexMissingProject(t *testing.T) {
	clearProviderEnv(t)
	if _, err := LoadCredentials(ProviderVertex, "", ""); err == nil {
		t.Error("expected error when no project is configured")
	}
}
