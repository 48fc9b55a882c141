package llm

import (
	"context"
	"log/slog"
	"strings"

	"github.com/jellydator/ttlcache/v3"
	"github.com/salesqa/salesqa/internal/observability"
)

// Factory builds a backend for one provider and model id.
type Factory func(ctx context.Context, cfg Config, model string) (TextModel, error)

type Option func(*Gateway)

// WithFactory replaces the backend constructor for a provider.
func WithFactory(provider Provider, factory Factory) Option {
	return func(g *Gateway) {
		g.factories[provider] = factory
	}
}

// Gateway resolves provider names into text models. Resolved models are
// cached per (provider, model) when a cache TTL is configured.
type Gateway struct {
	cfg       Config
	logger    *slog.Logger
	factories map[Provider]Factory
	cache     *ttlcache.Cache[string, TextModel]
}

const defaultCacheCapacity = 64

func NewGateway(cfg Config, logger *slog.Logger, opts ...Option) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.OpenAIModel) == "" {
		cfg.OpenAIModel = "gpt-3.5-turbo"
	}
	if strings.TrimSpace(cfg.GeminiModel) == "" {
		cfg.GeminiModel = "gemini-2.0-flash"
	}
	g := &Gateway{
		cfg:    cfg,
		logger: logger,
		factories: map[Provider]Factory{
			ProviderOpenAI: func(_ context.Context, cfg Config, model string) (TextModel, error) {
				return newOpenAIModel(cfg, model)
			},
			ProviderGemini: newGeminiModel,
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	if cfg.CacheTTL > 0 {
		capacity := cfg.CacheCapacity
		if capacity == 0 {
			capacity = defaultCacheCapacity
		}
		g.cache = ttlcache.New(
			ttlcache.WithTTL[string, TextModel](cfg.CacheTTL),
			ttlcache.WithCapacity[string, TextModel](capacity),
		)
	}
	return g
}

// Resolve maps a provider name and optional model override to a text model.
// Unknown names fall back to FallbackProvider with a warning. A missing
// credential is returned as *ConfigError.
func (g *Gateway) Resolve(ctx context.Context, name, model string) (TextModel, error) {
	var provider Provider
	switch parsed, _ := ParseProvider(name); parsed {
	case ProviderOpenAI, ProviderGemini:
		provider = parsed
	default:
		g.logger.WarnContext(ctx, "unknown model provider, falling back",
			slog.String("requested", name),
			slog.String("provider", FallbackProvider.String()),
		)
		observability.IncrementProviderFallback()
		provider = FallbackProvider
	}

	model = strings.TrimSpace(model)
	if model == "" {
		model = g.DefaultModel(provider)
	}
	if err := g.checkCredential(provider); err != nil {
		return nil, err
	}

	key := provider.String() + "/" + model
	if g.cache != nil {
		if item := g.cache.Get(key); item != nil {
			return item.Value(), nil
		}
	}

	resolved, err := g.factories[provider](ctx, g.cfg, model)
	if err != nil {
		return nil, err
	}
	resolved = &instrumentedModel{TextModel: resolved}
	if g.cache != nil {
		g.cache.Set(key, resolved, ttlcache.DefaultTTL)
	}
	g.logger.DebugContext(ctx, "model resolved",
		slog.String("provider", provider.String()),
		slog.String("model", model),
	)
	return resolved, nil
}

// DefaultModel is the model id used when a request names none.
func (g *Gateway) DefaultModel(provider Provider) string {
	switch provider {
	case ProviderGemini:
		return g.cfg.GeminiModel
	case ProviderOpenAI:
		return g.cfg.OpenAIModel
	default:
		return g.DefaultModel(FallbackProvider)
	}
}

func (g *Gateway) checkCredential(provider Provider) error {
	switch provider {
	case ProviderGemini:
		if strings.TrimSpace(g.cfg.GoogleAPIKey) == "" {
			return &ConfigError{Provider: provider, Key: "GOOGLE_API_KEY"}
		}
	case ProviderOpenAI:
		if strings.TrimSpace(g.cfg.OpenAIAPIKey) == "" {
			return &ConfigError{Provider: provider, Key: "OPENAI_API_KEY"}
		}
	}
	return nil
}

type instrumentedModel struct {
	TextModel
}

func (m *instrumentedModel) Complete(ctx context.Context, prompt string) (string, error) {
	out, err := m.TextModel.Complete(ctx, prompt)
	observability.ObserveLLMCall(m.Provider().String(), "complete", err != nil)
	return out, err
}

func (m *instrumentedModel) CompleteStructured(ctx context.Context, prompt string, schema *Schema, out any) error {
	err := m.TextModel.CompleteStructured(ctx, prompt, schema, out)
	observability.ObserveLLMCall(m.Provider().String(), "complete_structured", err != nil)
	return err
}
