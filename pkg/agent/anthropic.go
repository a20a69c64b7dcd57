package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	DefaultModel       = anthropic.ModelClaudeHaiku4_5_20251001
	DefaultMaxTokens   = 2048
	defaultTemperature = 0.1
)

// AnthropicClient implements LLMClient using the Anthropic API.
type AnthropicClient struct {
	log       *slog.Logger
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicClient creates a client. An empty apiKey falls back to the
// ANTHROPIC_API_KEY environment variable read by the SDK; an empty model
// selects DefaultModel.
func NewAnthropicClient(log *slog.Logger, apiKey string, model anthropic.Model, maxTokens int64) *AnthropicClient {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if model == "" {
		model = DefaultModel
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &AnthropicClient{
		log:       log,
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}
}

// Complete sends a prompt to Claude and returns the response text.
func (c *AnthropicClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	start := time.Now()
	c.log.Debug("anthropic: call starting", "model", c.model, "max_tokens", c.maxTokens, "user_prompt_len", len(userPrompt))

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(defaultTemperature),
		System: []anthropic.TextBlockParam{
			{Type: "text", Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})

	duration := time.Since(start)
	if err != nil {
		c.log.Error("anthropic: call failed", "duration", duration, "error", err)
		return "", fmt.Errorf("anthropic API error: %w", err)
	}
	c.log.Debug("anthropic: call completed", "duration", duration, "stop_reason", msg.StopReason)

	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("no text content in response")
}
