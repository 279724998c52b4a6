package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultTextModel     = "gpt-4o"
	defaultImageModel    = "dall-e-3"
	defaultImageSize     = "1024x1024"
)

// OpenAIConfig configures OpenAIClient. Empty fields fall back to the public
// OpenAI endpoint and models.
type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	TextModel  string
	ImageModel string
	ImageSize  string
	Text       TextOptions
	Timeout    time.Duration
}

// OpenAIClient calls an OpenAI-compatible API for both chat completions and
// image generation. BaseURL must include the /v1 prefix.
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	textModel  string
	imageModel string
	imageSize  string
	text       TextOptions
	httpClient *http.Client
}

func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	c := &OpenAIClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		textModel:  strings.TrimSpace(cfg.TextModel),
		imageModel: strings.TrimSpace(cfg.ImageModel),
		imageSize:  strings.TrimSpace(cfg.ImageSize),
		text:       cfg.Text,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	if c.baseURL == "" {
		c.baseURL = defaultOpenAIBaseURL
	}
	if c.textModel == "" {
		c.textModel = defaultTextModel
	}
	if c.imageModel == "" {
		c.imageModel = defaultImageModel
	}
	if c.imageSize == "" {
		c.imageSize = defaultImageSize
	}
	if c.text.MaxTokens <= 0 {
		c.text.MaxTokens = DefaultTextOptions.MaxTokens
	}
	if c.text.Temperature <= 0 {
		c.text.Temperature = DefaultTextOptions.Temperature
	}
	if c.httpClient.Timeout <= 0 {
		c.httpClient.Timeout = 120 * time.Second
	}
	return c
}

// GenerateText implements TextGenerator using /chat/completions.
func (c *OpenAIClient) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := make([]oaiMessage, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, oaiMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, oaiMessage{Role: "user", Content: userPrompt})

	var resp oaiChatResponse
	err := c.post(ctx, "/chat/completions", oaiChatRequest{
		Model:       c.textModel,
		Messages:    messages,
		MaxTokens:   c.text.MaxTokens,
		Temperature: c.text.Temperature,
	}, &resp)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// GenerateImage implements ImageGenerator using /images/generations.
func (c *OpenAIClient) GenerateImage(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("image prompt required")
	}
	var resp oaiImageResponse
	err := c.post(ctx, "/images/generations", oaiImageRequest{
		Model:   c.imageModel,
		Prompt:  prompt,
		N:       1,
		Size:    c.imageSize,
		Quality: "standard",
	}, &resp)
	if err != nil {
		return "", err
	}
	if len(resp.Data) == 0 || strings.TrimSpace(resp.Data[0].URL) == "" {
		return "", ErrEmptyResponse
	}
	return resp.Data[0].URL, nil
}

func (c *OpenAIClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("openai request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp oaiErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error.Message != "" {
			return fmt.Errorf("openai api error: %s", errResp.Error.Message)
		}
		return fmt.Errorf("openai api error: %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("openai decode: %w", err)
	}
	return nil
}

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiChatRequest struct {
	Model       string       `json:"model"`
	Messages    []oaiMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature float64      `json:"temperature,omitempty"`
}

type oaiChatResponse struct {
	Choices []struct {
		Message oaiMessage `json:"message"`
	} `json:"choices"`
}

type oaiImageRequest struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	N       int    `json:"n"`
	Size    string `json:"size"`
	Quality string `json:"quality,omitempty"`
}

type oaiImageResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

type oaiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
