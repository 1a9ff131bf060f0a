package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
)

const (
	defaultClaudeModel     = "claude-sonnet-4-5-20250929"
	defaultClaudeMaxTokens = 1024
	apiVersionHeader       = "2023-06-01"
)

// ClaudeGenerator calls the Anthropic messages API. SDK-level retries are
// disabled; the dispatcher owns all retry decisions.
type ClaudeGenerator struct {
	client *anthropic.Client
	model  string
}

// NewClaudeGenerator creates a generator for the Anthropic API. An empty
// apiKey falls back to ANTHROPIC_API_KEY or ANTHROPIC_AUTH_TOKEN.
func NewClaudeGenerator(apiKey, baseURL, model string) *ClaudeGenerator {
	apiKey = strings.TrimSpace(apiKey)
	authToken := ""
	if apiKey == "" {
		if v := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); v != "" {
			apiKey = v
		} else if v := strings.TrimSpace(os.Getenv("ANTHROPIC_AUTH_TOKEN")); v != "" {
			authToken = v
		}
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = strings.TrimSpace(os.Getenv("ANTHROPIC_BASE_URL"))
	}

	opts := make([]option.RequestOption, 0, 4)
	if base := sdkBaseURL(baseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	} else if authToken != "" {
		opts = append(opts, option.WithAuthToken(authToken))
	}
	opts = append(opts, option.WithMaxRetries(0))
	opts = append(opts, option.WithHeader("anthropic-version", apiVersionHeader))

	m := strings.TrimSpace(model)
	if m == "" {
		m = defaultClaudeModel
	}

	client := anthropic.NewClient(opts...)
	return &ClaudeGenerator{client: &client, model: m}
}

func (g *ClaudeGenerator) Name() string {
	return "claude"
}

// Generate sends one messages request. Leading system-role turns become the
// system prompt; the rest map to user/assistant messages.
func (g *ClaudeGenerator) Generate(ctx context.Context, req Request, params Params) (string, error) {
	if g == nil || g.client == nil {
		return "", errors.New("generator: claude: nil client")
	}
	if ctx == nil {
		return "", errors.New("generator: claude: nil context")
	}

	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultClaudeMaxTokens
	}

	var system []anthropic.TextBlockParam
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		if strings.EqualFold(strings.TrimSpace(m.Role), "system") {
			system = append(system, anthropic.TextBlockParam{Text: m.Content, Type: "text"})
			continue
		}
		messages = append(messages, anthropic.MessageParam{
			Role:    toClaudeRole(m.Role),
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Content)},
		})
	}

	p := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
		System:    system,
	}
	if params.Temperature != 0 {
		p.Temperature = param.NewOpt(params.Temperature)
	}
	if params.TopP != 0 {
		p.TopP = param.NewOpt(params.TopP)
	}

	msg, err := g.client.Messages.New(ctx, p)
	if err != nil {
		return "", normalizeClaudeError(err)
	}
	if msg == nil || len(msg.Content) == 0 {
		return "", &MalformedError{Reason: "empty content"}
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type != "text" {
			continue
		}
		sb.WriteString(block.AsText().Text)
	}
	return sb.String(), nil
}

func toClaudeRole(role string) anthropic.MessageParamRole {
	if strings.EqualFold(strings.TrimSpace(role), "assistant") {
		return anthropic.MessageParamRoleAssistant
	}
	return anthropic.MessageParamRoleUser
}

func sdkBaseURL(base string) string {
	base = strings.TrimSpace(strings.TrimRight(base, "/"))
	if strings.HasSuffix(base, "/v1") {
		base = strings.TrimSuffix(base, "/v1")
	}
	return base
}

type claudeErrorEnvelope struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func normalizeClaudeError(err error) error {
	if err == nil {
		return nil
	}

	var sdkErr *anthropic.Error
	if !errors.As(err, &sdkErr) {
		return err
	}

	apiErr := &APIError{StatusCode: sdkErr.StatusCode}
	if sdkErr.Response != nil {
		apiErr.Status = sdkErr.Response.Status
	} else if sdkErr.StatusCode != 0 {
		apiErr.Status = fmt.Sprintf("%d %s", sdkErr.StatusCode, http.StatusText(sdkErr.StatusCode))
	}

	raw := strings.TrimSpace(sdkErr.RawJSON())
	if raw != "" {
		apiErr.Body = raw
		var env claudeErrorEnvelope
		if json.Unmarshal([]byte(raw), &env) == nil && env.Error.Message != "" {
			apiErr.Body = env.Error.Message
		}
	}
	return apiErr
}
