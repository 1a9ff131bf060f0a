package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultRemoteTimeout = 120 * time.Second

// RemoteGenerator calls an OpenAI-compatible chat-completions endpoint over
// plain HTTP. It is the backend for gateways that speak the wire format but
// are not served by a vendor SDK.
type RemoteGenerator struct {
	url        string
	apiKey     string
	model      string
	httpClient *http.Client
}

// RemoteOption configures a RemoteGenerator.
type RemoteOption func(*RemoteGenerator)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(client *http.Client) RemoteOption {
	return func(g *RemoteGenerator) {
		if g == nil || client == nil {
			return
		}
		g.httpClient = client
	}
}

// WithRemoteTimeout sets the per-request HTTP timeout.
func WithRemoteTimeout(timeout time.Duration) RemoteOption {
	return func(g *RemoteGenerator) {
		if g == nil || timeout <= 0 {
			return
		}
		if g.httpClient == nil {
			g.httpClient = &http.Client{}
		}
		g.httpClient.Timeout = timeout
	}
}

// NewRemoteGenerator creates a generator for the given chat-completions URL.
func NewRemoteGenerator(url, apiKey, model string, opts ...RemoteOption) *RemoteGenerator {
	g := &RemoteGenerator{
		url:        strings.TrimSpace(url),
		apiKey:     strings.TrimSpace(apiKey),
		model:      strings.TrimSpace(model),
		httpClient: &http.Client{Timeout: defaultRemoteTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

func (g *RemoteGenerator) Name() string {
	return "remote"
}

type chatCompletionRequest struct {
	Model       string    `json:"model"`
	Temperature float64   `json:"temperature"`
	TopP        float64   `json:"top_p,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate posts the transcript and returns the first choice's content.
func (g *RemoteGenerator) Generate(ctx context.Context, req Request, params Params) (string, error) {
	if g == nil || g.httpClient == nil {
		return "", errors.New("generator: remote: nil client")
	}
	if ctx == nil {
		return "", errors.New("generator: remote: nil context")
	}
	if g.url == "" {
		return "", errors.New("generator: remote: empty url")
	}

	body, err := json.Marshal(chatCompletionRequest{
		Model:       g.model,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		MaxTokens:   params.MaxTokens,
		Messages:    req.Messages,
		Stream:      false,
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", &APIError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(raw)),
		}
	}

	var out chatCompletionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", &MalformedError{Reason: "invalid json body"}
	}
	if len(out.Choices) == 0 {
		return "", &MalformedError{Reason: "'choices' not found"}
	}
	return out.Choices[0].Message.Content, nil
}
