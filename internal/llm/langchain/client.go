package langchain

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"techdoc-backend/internal/llm"
	"techdoc-backend/internal/shared/util"
)

const defaultModel = "gpt-4o-mini"

// Client implements llm.Client on top of langchaingo's OpenAI binding. A
// base URL points it at any OpenAI-compatible gateway.
type Client struct {
	model     *openai.LLM
	modelName string
}

// NewClient constructs a langchaingo-backed client.
func NewClient(apiKey, model, baseURL string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if strings.TrimSpace(model) == "" {
		model = defaultModel
	}

	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithModel(model),
	}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}

	m, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("langchain openai init: %w", err)
	}
	return &Client{model: m, modelName: model}, nil
}

// Complete sends one system+user prompt pair and returns the text of the
// first choice.
func (c *Client) Complete(ctx context.Context, input llm.CompletionInput) (string, error) {
	if sink, ok := llm.PromptHashSinkFromContext(ctx); ok && sink != nil {
		*sink = util.HashText("system: " + input.System + "\n\nuser: " + input.Prompt)
	}

	messages := []llms.MessageContent{
		{Role: llms.ChatMessageTypeSystem, Parts: []llms.ContentPart{llms.TextPart(input.System)}},
		{Role: llms.ChatMessageTypeHuman, Parts: []llms.ContentPart{llms.TextPart(input.Prompt)}},
	}

	resp, err := c.model.GenerateContent(ctx, messages, llms.WithTemperature(float64(input.Temperature)))
	if err != nil {
		return "", fmt.Errorf("langchain generate: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("langchain response missing choices")
	}

	content := strings.TrimSpace(resp.Choices[0].Content)
	if content == "" {
		return "", fmt.Errorf("langchain response empty content")
	}
	return content, nil
}

var _ llm.Client = (*Client)(nil)
