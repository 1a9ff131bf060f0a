// Package generator defines the pluggable text-generation capability the
// dispatcher is polymorphic over, and its concrete backends: a raw
// OpenAI-compatible HTTP endpoint, the OpenAI SDK, the Anthropic SDK, and
// an OpenAI-compatible local model server.
package generator

import "context"

// Message is one turn of a chat transcript.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one unit of generation work: an ordered transcript ending with
// the turn to answer. The dispatcher treats it as opaque.
type Request struct {
	Messages []Message `json:"messages"`
}

// Params are sampling parameters applied to every request of a batch.
type Params struct {
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// Generator performs one request -> response call. Implementations must
// report failures through the typed errors of this package (or ordinary
// transport errors) so the dispatcher can classify them; they must not
// retry internally.
type Generator interface {
	Name() string
	Generate(ctx context.Context, req Request, params Params) (string, error)
}

// UserRequest builds a single-turn request from a bare user prompt.
func UserRequest(content string) Request {
	return Request{Messages: []Message{{Role: "user", Content: content}}}
}
