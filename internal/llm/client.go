// Package llm provides text and vision completion clients for the
// categorization, summarization, and perspective steps. Two backends are
// supported: Gemini over raw HTTP and OpenAI via the official SDK.
package llm

import (
	"context"
	"fmt"

	"personalens/internal/config"
)

// Client is the completion interface used across the pipeline.
type Client interface {
	// Complete sends a prompt with no system message.
	Complete(ctx context.Context, prompt string) (string, error)

	// CompleteWithSystem sends a prompt with a system message.
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// CompleteJSON requests a JSON response. Backends that support
	// structured output enforce it; others rely on the prompt.
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// DescribeImages sends a prompt plus inline images and returns the
	// model's text response.
	DescribeImages(ctx context.Context, prompt string, images []ImageData) (string, error)

	// Model returns the configured model name.
	Model() string
}

// ImageData is an inline image attachment.
type ImageData struct {
	MIMEType string
	Data     []byte
}

// NewClient creates a completion client from configuration.
func NewClient(cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "gemini":
		return NewGeminiClient(cfg), nil
	case "openai":
		return NewOpenAIClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s (use 'gemini' or 'openai')", cfg.Provider)
	}
}
