package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type geminiModel struct {
	client      *genai.Client
	model       string
	temperature float32
}

func newGeminiModel(ctx context.Context, cfg Config, model string) (TextModel, error) {
	if strings.TrimSpace(cfg.GoogleAPIKey) == "" {
		return nil, &ConfigError{Provider: ProviderGemini, Key: "GOOGLE_API_KEY"}
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.GoogleAPIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL := strings.TrimSpace(cfg.GeminiBaseURL); baseURL != "" {
		clientCfg.HTTPOptions.BaseURL = baseURL
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPOptions.Timeout = genai.Ptr(cfg.Timeout)
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &geminiModel{
		client:      client,
		model:       model,
		temperature: float32(cfg.Temperature),
	}, nil
}

func (m *geminiModel) Provider() Provider { return ProviderGemini }

func (m *geminiModel) Model() string { return m.model }

func (m *geminiModel) Complete(ctx context.Context, prompt string) (string, error) {
	return m.generate(ctx, prompt, &genai.GenerateContentConfig{
		Temperature: genai.Ptr(m.temperature),
	})
}

func (m *geminiModel) CompleteStructured(ctx context.Context, prompt string, schema *Schema, out any) error {
	content, err := m.generate(ctx, prompt, &genai.GenerateContentConfig{
		Temperature:        genai.Ptr(m.temperature),
		ResponseMIMEType:   "application/json",
		ResponseJsonSchema: schema.Definition(),
	})
	if err != nil {
		return err
	}
	return schema.Decode(content, out)
}

func (m *geminiModel) generate(ctx context.Context, prompt string, cfg *genai.GenerateContentConfig) (string, error) {
	resp, err := m.client.Models.GenerateContent(ctx, m.model, genai.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}
	return resp.Text(), nil
}
