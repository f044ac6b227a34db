package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Provider identifies the generation backend variant.
type Provider string

const (
	ProviderGemini Provider = "gemini"
	ProviderVertex Provider = "vertex"
)

const defaultVertexLocation = "us-central1"

// ErrNoProvider is returned at startup when no provider can be detected.
var ErrNoProvider = errors.New(
	"no generation provider configured: set GOOGLE_API_KEY for the Gemini API, " +
		"or GOOGLE_CLOUD_PROJECT for Vertex AI, or pass --provider")

// ResolveProvider picks the provider variant. Priority: the explicit value
// (flag or config file), then LABGENIE_PROVIDER, then environment
// detection: a project env var selects vertex, an API key selects gemini.
func ResolveProvider(explicit string) (Provider, error) {
	for _, candidate := range []string{explicit, os.Getenv("LABGENIE_PROVIDER")} {
		switch strings.ToLower(strings.TrimSpace(candidate)) {
		case "":
			continue
		case "gemini":
			return ProviderGemini, nil
		case "vertex", "vertexai", "vertex-ai":
			return ProviderVertex, nil
		default:
			return "", fmt.Errorf("unknown provider %q (want gemini or vertex)", candidate)
		}
	}
	if os.Getenv("GOOGLE_CLOUD_PROJECT") != "" || os.Getenv("GCP_PROJECT") != "" {
		return ProviderVertex, nil
	}
	if os.Getenv("GOOGLE_API_KEY") != "" {
		return ProviderGemini, nil
	}
	return "", ErrNoProvider
}

// Credentials is everything a backend client needs, validated up front so
// missing credentials fail at startup instead of on the first model call.
type Credentials struct {
	Provider Provider
	APIKey   string
	Project  string
	Location string
}

// LoadCredentials validates the environment for the resolved provider.
// apiKey and location, when non-empty, override the environment.
func LoadCredentials(p Provider, apiKey, location string) (Credentials, error) {
	switch p {
	case ProviderGemini:
		if apiKey == "" {
			apiKey = os.Getenv("GOOGLE_API_KEY")
		}
		if apiKey == "" {
			return Credentials{}, errors.New("gemini provider selected but no API key found: set GOOGLE_API_KEY or pass --api-key")
		}
		return Credentials{Provider: p, APIKey: apiKey}, nil

	case ProviderVertex:
		project := os.Getenv("GOOGLE_CLOUD_PROJECT")
		if project == "" {
			project = os.Getenv("GCP_PROJECT")
		}
		if project == "" {
			return Credentials{}, errors.New("vertex provider selected but GOOGLE_CLOUD_PROJECT is not set")
		}
		if location == "" {
			location = os.Getenv("GOOGLE_CLOUD_LOCATION")
		}
		if location == "" {
			location = defaultVertexLocation
		}
		return Credentials{Provider: p, Project: project, Location: location}, nil
	}
	return Credentials{}, fmt.Errorf("unknown provider %q", p)
}
