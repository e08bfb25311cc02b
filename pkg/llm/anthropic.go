package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"
)

// AnthropicClient is a Completer backed by the Anthropic Messages API. It can
// serve the advanced tier in place of an OpenAI reasoning model.
type AnthropicClient struct {
	client      *anthropic.Client
	model       string
	maxTokens   int
	temperature float32
	logger      *zap.Logger
}

// NewAnthropicClient creates a Messages API completer.
func NewAnthropicClient(apiKey, model string, maxTokens int, temperature float32, logger *zap.Logger) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if maxTokens <= 0 {
		maxTokens = 2000
	}

	return &AnthropicClient{
		client:      anthropic.NewClient(apiKey),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		logger:      logger.Named("llm-anthropic").With(zap.String("model", model)),
	}, nil
}

// Complete sends one user message with the system prompt and returns the first
// text block of the reply.
func (c *AnthropicClient) Complete(ctx context.Context, systemMessage, prompt string) (string, error) {
	temperature := c.temperature
	logger := loggerFor(ctx, c.logger)
	start := time.Now()

	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       anthropic.Model(c.model),
		MaxTokens:   c.maxTokens,
		System:      systemMessage,
		Temperature: &temperature,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: []anthropic.MessageContent{
				{Type: "text", Text: &prompt},
			}},
		},
	})
	if err != nil {
		logger.Error("Anthropic request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		classified := ClassifyError(err)
		if classified.Model == "" {
			classified.Model = c.model
		}
		return "", classified
	}

	text := extractAnthropicText(resp)
	if strings.TrimSpace(text) == "" {
		return "", &Error{Type: ErrorTypeEmpty, Message: "no text block in response", Retryable: true, Model: c.model}
	}

	logger.Info("Anthropic request completed",
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
		zap.Duration("elapsed", time.Since(start)))

	return text, nil
}

// Model returns the configured model name.
func (c *AnthropicClient) Model() string {
	return c.model
}

func extractAnthropicText(resp anthropic.MessagesResponse) string {
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil {
			return *block.Text
		}
	}
	return ""
}
