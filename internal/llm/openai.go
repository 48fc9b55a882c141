package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type openAIModel struct {
	client      openai.Client
	model       string
	temperature float64
}

func newOpenAIModel(cfg Config, model string) (TextModel, error) {
	if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
		return nil, &ConfigError{Provider: ProviderOpenAI, Key: "OPENAI_API_KEY"}
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.OpenAIAPIKey)),
		option.WithMaxRetries(0),
	}
	if baseURL := strings.TrimSpace(cfg.OpenAIBaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	return &openAIModel{
		client:      openai.NewClient(opts...),
		model:       model,
		temperature: cfg.Temperature,
	}, nil
}

func (m *openAIModel) Provider() Provider { return ProviderOpenAI }

func (m *openAIModel) Model() string { return m.model }

func (m *openAIModel) Complete(ctx context.Context, prompt string) (string, error) {
	return m.chat(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(m.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(m.temperature),
	})
}

// CompleteStructured uses JSON mode rather than strict json_schema so older
// chat models such as gpt-3.5-turbo are still served. The schema travels in
// the prompt and the reply is validated locally.
func (m *openAIModel) CompleteStructured(ctx context.Context, prompt string, schema *Schema, out any) error {
	content, err := m.chat(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(m.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(schema.Instructions()),
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(m.temperature),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return err
	}
	return schema.Decode(content, out)
}

func (m *openAIModel) chat(ctx context.Context, params openai.ChatCompletionNewParams) (string, error) {
	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
