// Package config loads the settings surface from environment
// variables with workshop-friendly defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	ProviderOllama = "ollama"
	ProviderAzure  = "azure"
)

// DefaultSystemPrompt is used when no prompt file is configured or the
// configured file cannot be read.
const DefaultSystemPrompt = "You are a helpful AI assistant. Provide clear and accurate responses."

// Config holds application configuration
type Config struct {
	Provider string

	// Ollama
	OllamaModel   string
	OllamaBaseURL string

	// Azure OpenAI
	AzureModel      string
	AzureEndpoint   string
	AzureAPIKey     string
	AzureAPIVersion string

	SystemPromptFile string
	SessionCapacity  int
	DispatchTimeout  time.Duration

	RedactionEnabled   bool
	RedactionThreshold float64
	RedactionLanguage  string
	PolicyFile         string
	AuditDBPath        string

	ListenAddr string
	Debug      bool
}

// Load reads every setting from the environment, applying defaults.
func Load() Config {
	return Config{
		Provider: getEnv("SAFECHAT_PROVIDER", ProviderOllama),

		OllamaModel:   getEnv("OLLAMA_MODEL", "phi3"),
		OllamaBaseURL: getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),

		AzureModel:      getEnv("AZURE_OPENAI_MODEL", "gpt-4o-mini"),
		AzureEndpoint:   getEnv("AZURE_OPENAI_ENDPOINT", ""),
		AzureAPIKey:     getEnv("AZURE_OPENAI_API_KEY", ""),
		AzureAPIVersion: getEnv("AZURE_OPENAI_API_VERSION", "2024-02-15-preview"),

		SystemPromptFile: getEnv("SYSTEM_PROMPT_FILE", ""),
		SessionCapacity:  getEnvInt("SESSION_CAPACITY", 20),
		DispatchTimeout:  getEnvDuration("DISPATCH_TIMEOUT", 60*time.Second),

		RedactionEnabled:   getEnvBool("REDACTION_ENABLED", true),
		RedactionThreshold: getEnvFloat("REDACTION_THRESHOLD", 0.5),
		RedactionLanguage:  getEnv("REDACTION_LANGUAGE", "en"),
		PolicyFile:         getEnv("REDACTION_POLICY_FILE", ""),
		AuditDBPath:        getEnv("AUDIT_DB_PATH", "safechat_audit.db"),

		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),
		Debug:      getEnvBool("DEBUG", false),
	}
}

// Validate checks that the selected provider has every parameter it
// needs before anything is dialed.
func (c Config) Validate() error {
	switch c.Provider {
	case ProviderOllama:
		if c.OllamaBaseURL == "" {
			return fmt.Errorf("OLLAMA_BASE_URL is required when using the ollama provider")
		}
		if c.OllamaModel == "" {
			return fmt.Errorf("OLLAMA_MODEL is required when using the ollama provider")
		}
	case ProviderAzure:
		if c.AzureEndpoint == "" {
			return fmt.Errorf("AZURE_OPENAI_ENDPOINT is required when using the azure provider")
		}
		if c.AzureAPIKey == "" {
			return fmt.Errorf("AZURE_OPENAI_API_KEY is required when using the azure provider")
		}
	default:
		return fmt.Errorf("unsupported provider: %q", c.Provider)
	}
	return nil
}

// SystemPrompt reads the configured prompt file, falling back to the
// default prompt when unset or unreadable.
func (c Config) SystemPrompt() string {
	if c.SystemPromptFile == "" {
		return DefaultSystemPrompt
	}
	data, err := os.ReadFile(c.SystemPromptFile)
	if err != nil {
		return DefaultSystemPrompt
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return DefaultSystemPrompt
	}
	return prompt
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
