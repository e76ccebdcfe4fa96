package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Environment variables that override the file
const (
	EnvLLMAPIKey  = "EZVOICE_LLM_API_KEY"
	EnvLLMBaseURL = "EZVOICE_LLM_BASE_URL"
	EnvLLMModel   = "EZVOICE_LLM_MODEL"
	EnvASRAPIKey  = "EZVOICE_ASR_API_KEY"
	EnvASRBaseURL = "EZVOICE_ASR_BASE_URL"
	EnvTTSAPIKey  = "EZVOICE_TTS_API_KEY"
	EnvLogLevel   = "EZVOICE_LOG_LEVEL"

	// Fallbacks shared with other OpenAI-compatible tools
	EnvOpenAIAPIKey  = "OPENAI_API_KEY"
	EnvOpenAIBaseURL = "OPENAI_BASE_URL"
)

// LoadDotEnv loads variables from the given .env files into the process
// environment. Variables that are already set are not overridden and missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// DotEnvPaths returns the .env locations checked at startup
func DotEnvPaths() []string {
	return []string{".env", filepath.Join(GetConfigDir(), ".env")}
}

// ApplyEnv overrides endpoints and credentials from the environment
func (c *Config) ApplyEnv() {
	c.ApplyEnvFrom(os.Getenv)
}

// ApplyEnvFrom is ApplyEnv with an injectable lookup
func (c *Config) ApplyEnvFrom(getenv func(string) string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	set := func(dst *string, keys ...string) {
		for _, key := range keys {
			if v := getenv(key); v != "" {
				*dst = v
				return
			}
		}
	}

	set(&c.LLM.APIKey, EnvLLMAPIKey)
	set(&c.LLM.BaseURL, EnvLLMBaseURL)
	set(&c.LLM.Model, EnvLLMModel)
	set(&c.ASR.APIKey, EnvASRAPIKey)
	set(&c.ASR.BaseURL, EnvASRBaseURL)
	set(&c.TTS.APIKey, EnvTTSAPIKey)
	set(&c.LogLevel, EnvLogLevel)

	// OPENAI_* only fill what is still empty
	fallback := func(dst *string, key string) {
		if *dst == "" {
			*dst = getenv(key)
		}
	}
	fallback(&c.LLM.APIKey, EnvOpenAIAPIKey)
	fallback(&c.ASR.APIKey, EnvOpenAIAPIKey)
	fallback(&c.TTS.APIKey, EnvOpenAIAPIKey)
	fallback(&c.LLM.BaseURL, EnvOpenAIBaseURL)
	fallback(&c.ASR.BaseURL, EnvOpenAIBaseURL)
	fallback(&c.TTS.BaseURL, EnvOpenAIBaseURL)
}

// HasLLMCredentials reports whether an LLM API key is configured
func (c *Config) HasLLMCredentials() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.LLM.APIKey != ""
}
