package ai

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when a provider answers without content.
var ErrEmptyResponse = errors.New("empty response from provider")

// TextGenerator generates text from a system prompt and user prompt.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ImageGenerator renders a single image for a prompt and returns its URL.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// TextOptions tunes chat completion requests.
type TextOptions struct {
	MaxTokens   int
	Temperature float64
}

// DefaultTextOptions mirror the limits the form result view is designed for.
var DefaultTextOptions = TextOptions{MaxTokens: 1500, Temperature: 0.7}
