// Package llm provides the model clients behind the AI-Assist approach.
package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const envProvider = "LLM_PROVIDER" // "anthropic" or "openai"

// Client generates a completion for a prompt. Implementations handle their
// own transport-level retries.
type Client interface {
	Generate(ctx context.Context, req Request) (Response, error)
	Name() string
}

type Request struct {
	System      string
	Messages    []Message
	Temperature float32
	MaxTokens   int
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Response struct {
	Text string
}

// NewClientFromEnv selects a provider via LLM_PROVIDER, defaulting to
// Anthropic.
func NewClientFromEnv(logger zerolog.Logger) (Client, error) {
	provider := strings.ToLower(strings.TrimSpace(os.Getenv(envProvider)))
	if provider == "" {
		provider = "anthropic"
	}

	switch provider {
	case "openai":
		return NewOpenAI(logger)
	case "anthropic":
		return NewAnthropic(logger)
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (use 'anthropic' or 'openai')", provider)
	}
}

// Configured reports whether the selected provider has an API key present,
// without constructing a client.
func Configured() bool {
	provider := strings.ToLower(strings.TrimSpace(os.Getenv(envProvider)))
	switch provider {
	case "openai":
		return strings.TrimSpace(os.Getenv(envOpenAIAPIKey)) != ""
	default:
		return strings.TrimSpace(os.Getenv(envAPIKey)) != ""
	}
}
