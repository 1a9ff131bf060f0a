package generator

import (
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIGenerator calls a chat-completions backend through the OpenAI SDK.
// With a custom base URL it also serves OpenAI-compatible local model
// servers (vLLM and friends); the provider name distinguishes the two.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
	name   string
}

// NewOpenAIGenerator creates a generator against the OpenAI API or any
// compatible endpoint reachable at baseURL.
func NewOpenAIGenerator(apiKey, baseURL, model string) *OpenAIGenerator {
	return newOpenAIGenerator(apiKey, baseURL, model, "openai", "gpt-4o")
}

// NewLocalGenerator creates a generator for an OpenAI-compatible local
// model server. The API key is optional for most local servers.
func NewLocalGenerator(apiKey, baseURL, model string) *OpenAIGenerator {
	return newOpenAIGenerator(apiKey, baseURL, model, "local", "")
}

func newOpenAIGenerator(apiKey, baseURL, model, name, defaultModel string) *OpenAIGenerator {
	cfg := openai.DefaultConfig(strings.TrimSpace(apiKey))
	if v := strings.TrimSpace(baseURL); v != "" {
		cfg.BaseURL = strings.TrimRight(v, "/")
	}

	m := strings.TrimSpace(model)
	if m == "" {
		m = defaultModel
	}

	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(cfg),
		model:  m,
		name:   name,
	}
}

func (g *OpenAIGenerator) Name() string {
	if g == nil || g.name == "" {
		return "openai"
	}
	return g.name
}

// Generate sends one chat completion and returns the first choice's text.
// SDK errors are normalized to *APIError so the caller can classify them.
func (g *OpenAIGenerator) Generate(ctx context.Context, req Request, params Params) (string, error) {
	if g == nil || g.client == nil {
		return "", errors.New("generator: openai: nil client")
	}
	if ctx == nil {
		return "", errors.New("generator: openai: nil context")
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    normalizeRole(m.Role),
			Content: m.Content,
		})
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    msgs,
		Temperature: float32(params.Temperature),
		TopP:        float32(params.TopP),
		MaxTokens:   params.MaxTokens,
		Stream:      false,
	})
	if err != nil {
		return "", normalizeOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", &MalformedError{Reason: "empty choices"}
	}
	return resp.Choices[0].Message.Content, nil
}

func normalizeRole(role string) string {
	role = strings.ToLower(strings.TrimSpace(role))
	switch role {
	case openai.ChatMessageRoleSystem,
		openai.ChatMessageRoleUser,
		openai.ChatMessageRoleAssistant,
		openai.ChatMessageRoleTool,
		openai.ChatMessageRoleDeveloper:
		return role
	default:
		return openai.ChatMessageRoleUser
	}
}

func normalizeOpenAIError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return newAPIError(apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return newAPIError(reqErr.HTTPStatusCode, reqErr.Error())
	}
	return err
}
