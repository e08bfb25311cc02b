package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Client provides access to OpenAI-compatible chat and embedding endpoints.
type Client struct {
	client         *openai.Client
	endpoint       string
	model          string
	embeddingModel string
	dimensions     int
	temperature    float32
	maxTokens      int
	logger         *zap.Logger
}

// Config holds configuration for creating a Client.
type Config struct {
	Endpoint       string // Base URL, e.g., "https://api.openai.com/v1"
	Model          string // Chat model, e.g., "gpt-4o"
	APIKey         string
	EmbeddingModel string // e.g., "text-embedding-3-small"; empty disables embeddings
	Dimensions     int    // 0 = model default
	Temperature    float32
	MaxTokens      int
	RequestTimeout time.Duration // 0 = no client-side timeout
}

// NewClient creates a new OpenAI-compatible client.
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if cfg.Model == "" && cfg.EmbeddingModel == "" {
		return nil, fmt.Errorf("model or embedding model is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(cfg.Endpoint, "/")
	if cfg.RequestTimeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: cfg.RequestTimeout}
	}

	return &Client{
		client:         openai.NewClientWithConfig(clientConfig),
		endpoint:       cfg.Endpoint,
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		dimensions:     cfg.Dimensions,
		temperature:    cfg.Temperature,
		maxTokens:      cfg.MaxTokens,
		logger:         logger.Named("llm").With(zap.String("model", cfg.Model)),
	}, nil
}

// IsReasoningModel reports whether the model belongs to a family that rejects
// a custom temperature and takes max_completion_tokens instead of max_tokens.
func IsReasoningModel(model string) bool {
	m := strings.ToLower(model)
	for _, prefix := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return false
}

// buildChatRequest applies the model-family specific parameters.
func (c *Client) buildChatRequest(systemMessage, prompt string) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemMessage},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if IsReasoningModel(c.model) {
		req.MaxCompletionTokens = c.maxTokens
	} else {
		req.Temperature = c.temperature
		req.MaxTokens = c.maxTokens
	}
	return req
}

// Complete generates a chat completion.
func (c *Client) Complete(ctx context.Context, systemMessage, prompt string) (string, error) {
	if c.model == "" {
		return "", NewError(ErrorTypeModel, "no chat model configured", false, nil)
	}

	logger := loggerFor(ctx, c.logger)
	logger.Debug("LLM request",
		zap.Int("prompt_len", len(prompt)),
		zap.Bool("reasoning", IsReasoningModel(c.model)))

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, c.buildChatRequest(systemMessage, prompt))
	if err != nil {
		logger.Error("LLM request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return "", c.parseError(err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", &Error{Type: ErrorTypeEmpty, Message: "no content in response", Retryable: true, Model: c.model}
	}

	logger.Info("LLM request completed",
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("elapsed", time.Since(start)))

	return resp.Choices[0].Message.Content, nil
}

// Embed generates an embedding vector for the input text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple inputs. The response is
// reordered by index so the result lines up with texts.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if c.embeddingModel == "" {
		return nil, NewError(ErrorTypeModel, "no embedding model configured", false, nil)
	}
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model:      openai.EmbeddingModel(c.embeddingModel),
		Input:      texts,
		Dimensions: c.dimensions,
	})
	if err != nil {
		return nil, c.parseError(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, &Error{
			Type:      ErrorTypeEmpty,
			Message:   fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(resp.Data)),
			Retryable: true,
			Model:     c.embeddingModel,
		}
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// Model returns the configured chat model name.
func (c *Client) Model() string {
	return c.model
}

// Endpoint returns the configured endpoint.
func (c *Client) Endpoint() string {
	return c.endpoint
}

func (c *Client) parseError(err error) error {
	classified := ClassifyError(err)
	if classified.Model == "" {
		classified.Model = c.model
	}
	return classified
}
