// Package ai holds the model provider abstraction and its HTTP clients.
// The orchestrator only sees Provider; which client backs it is decided
// once at process start from configuration.
package ai

import (
	"context"
	"fmt"
	"strings"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// Options carries provider-specific settings; only the fields for the
// selected provider are read.
type Options struct {
	GroqBaseURL   string
	GroqAPIKey    string
	GroqModel     string
	OllamaBaseURL string
	OllamaModel   string
}

// New builds the single configured provider. One provider per process;
// swapping means restarting with different configuration.
func New(name string, opts Options) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "groq":
		return NewGroqProvider(opts.GroqBaseURL, opts.GroqAPIKey, opts.GroqModel), nil
	case "ollama":
		return NewOllamaProvider(opts.OllamaBaseURL, opts.OllamaModel), nil
	default:
		return nil, fmt.Errorf("unknown ai provider: %s", name)
	}
}
