package ai

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options tune a single completion. Zero values mean provider defaults.
type Options struct {
	Temperature float64
	MaxTokens   int64
	// JSON asks the provider for a JSON object response.
	JSON bool
}

type Completion struct {
	Content     string
	Model       string
	TotalTokens int
}

type Provider interface {
	Chat(ctx context.Context, messages []Message, opts Options) (Completion, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Model() string
}
