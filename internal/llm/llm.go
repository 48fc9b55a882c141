// Package llm resolves a logical provider name into a text model backed by
// one of the supported vendor SDKs.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Provider is the closed set of model backends.
type Provider int

const (
	ProviderUnknown Provider = iota
	ProviderOpenAI
	ProviderGemini
)

// FallbackProvider serves requests naming a provider outside the enum.
const FallbackProvider = ProviderOpenAI

func (p Provider) String() string {
	switch p {
	case ProviderOpenAI:
		return "openai"
	case ProviderGemini:
		return "gemini"
	default:
		return "unknown"
	}
}

// ParseProvider matches name case-insensitively. Unrecognized names return
// ProviderUnknown and false.
func ParseProvider(name string) (Provider, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "openai":
		return ProviderOpenAI, true
	case "gemini":
		return ProviderGemini, true
	default:
		return ProviderUnknown, false
	}
}

// TextModel is a resolved backend bound to one model id.
type TextModel interface {
	Provider() Provider
	Model() string
	Complete(ctx context.Context, prompt string) (string, error)
	// CompleteStructured asks for JSON matching schema and decodes it into out.
	CompleteStructured(ctx context.Context, prompt string, schema *Schema, out any) error
}

type Config struct {
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	GoogleAPIKey  string
	GeminiBaseURL string
	GeminiModel   string
	Temperature   float64
	Timeout       time.Duration
	CacheTTL      time.Duration
	// CacheCapacity bounds the resolved models kept; model names come from
	// callers. Zero means defaultCacheCapacity.
	CacheCapacity uint64
}

// ConfigError reports a credential missing for the selected provider.
type ConfigError struct {
	Provider Provider
	Key      string
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "configuration error"
	}
	return fmt.Sprintf("%s is not set in configuration.", e.Key)
}
