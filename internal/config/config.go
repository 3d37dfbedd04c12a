// Package config loads engine configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Backend selects which model-serving client implementation to use.
type Backend string

const (
	BackendOpenAI Backend = "openai"
	BackendGemini Backend = "gemini"
)

const (
	DefaultBaseURL           = "http://localhost:8080/v1"
	DefaultMaxIterations     = 20
	DefaultMaxOutputChars    = 500_000
	DefaultMaxRecursiveCalls = 64
	DefaultTemperature       = 0.7
)

// Config holds every tunable of the engine and the server.
type Config struct {
	BaseURL           string
	APIKey            string
	Backend           Backend
	Model             string
	RecursiveModel    string
	MaxIterations     int
	MaxOutputChars    int
	MaxRecursiveCalls int
	Temperature       float64
	MaxTokens         int64
	Port              string
}

// Load reads configuration from the environment, applying defaults.
// Malformed values are configuration errors and are not silently
// ignored.
func Load() (Config, error) {
	cfg := Config{
		BaseURL:           envOr("RLM_API_URL", DefaultBaseURL),
		APIKey:            os.Getenv("RLM_API_KEY"),
		Backend:           Backend(envOr("RLM_BACKEND", string(BackendOpenAI))),
		Model:             os.Getenv("RLM_MODEL"),
		RecursiveModel:    os.Getenv("RLM_RECURSIVE_MODEL"),
		MaxIterations:     DefaultMaxIterations,
		MaxOutputChars:    DefaultMaxOutputChars,
		MaxRecursiveCalls: DefaultMaxRecursiveCalls,
		Temperature:       DefaultTemperature,
		Port:              envOr("PORT", "8081"),
	}

	switch cfg.Backend {
	case BackendOpenAI, BackendGemini:
	default:
		return Config{}, fmt.Errorf("unknown RLM_BACKEND %q", cfg.Backend)
	}

	// "auto" resolves against an OpenAI-style model listing, which the
	// gemini backend does not have; its client picks its own default for
	// an empty model.
	if cfg.Backend == BackendGemini {
		if cfg.Model == "auto" || cfg.RecursiveModel == "auto" {
			return Config{}, fmt.Errorf(`model "auto" requires an OpenAI-compatible endpoint, not RLM_BACKEND=gemini`)
		}
	} else {
		if cfg.Model == "" {
			cfg.Model = "auto"
		}
		if cfg.RecursiveModel == "" {
			cfg.RecursiveModel = "auto"
		}
	}

	var err error
	if cfg.MaxIterations, err = envInt("RLM_MAX_ITERATIONS", cfg.MaxIterations); err != nil {
		return Config{}, err
	}
	if cfg.MaxOutputChars, err = envInt("RLM_MAX_OUTPUT_CHARS", cfg.MaxOutputChars); err != nil {
		return Config{}, err
	}
	if cfg.MaxRecursiveCalls, err = envInt("RLM_MAX_RECURSIVE_CALLS", cfg.MaxRecursiveCalls); err != nil {
		return Config{}, err
	}
	maxTokens, err := envInt("RLM_MAX_TOKENS", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxTokens = int64(maxTokens)

	if v := os.Getenv("RLM_TEMPERATURE"); v != "" {
		cfg.Temperature, err = strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("RLM_TEMPERATURE: %w", err)
		}
	}

	if cfg.MaxIterations <= 0 {
		return Config{}, fmt.Errorf("RLM_MAX_ITERATIONS must be positive, got %d", cfg.MaxIterations)
	}
	if cfg.MaxOutputChars <= 0 {
		return Config{}, fmt.Errorf("RLM_MAX_OUTPUT_CHARS must be positive, got %d", cfg.MaxOutputChars)
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
