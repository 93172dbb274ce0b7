// Package openai implements the LLM provider ports over the OpenAI chat
// API. Pointing base_url at a local OpenAI-compatible runtime (Ollama,
// llama.cpp server) gives the on-device deployment the engine prefers.
package openai

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/mikey/sender-trust/internal/core"
)

// Provider implements core.LLMProvider.
type Provider struct {
	client      *openai.Client
	modelName   string
	maxTokens   int
	temperature float32
	topP        float32
	logger      *zap.Logger
}

// NewProvider creates a Provider. baseURL may be empty for the hosted API.
func NewProvider(apiKey, baseURL, modelName string, maxTokens int, temperature, topP float32, logger *zap.Logger) *Provider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Provider{
		client:      openai.NewClientWithConfig(cfg),
		modelName:   modelName,
		maxTokens:   maxTokens,
		temperature: temperature,
		topP:        topP,
		logger:      logger,
	}
}

// ModelName identifies the configured model.
func (p *Provider) ModelName() string {
	return p.modelName
}

// CheckAvailability probes the endpoint with a model listing. Failures are
// reported as status, never as an error.
func (p *Provider) CheckAvailability(ctx context.Context) core.Availability {
	if _, err := p.client.ListModels(ctx); err != nil {
		p.logger.Debug("Model endpoint unavailable", zap.Error(err))
		return core.Availability{Available: false, HasAPI: true, Status: "unreachable"}
	}
	return core.Availability{Available: true, HasAPI: true, Status: "readily"}
}

// NewSession creates a session primed with the system instruction. The chat
// API is stateless, so the session is the instruction plus accumulated
// context, and clones copy that slice for isolation.
func (p *Provider) NewSession(ctx context.Context, systemInstruction string) (core.LLMSession, error) {
	return &session{
		provider: p,
		base: []openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemInstruction,
		}},
	}, nil
}

type session struct {
	provider *Provider
	base     []openai.ChatCompletionMessage
	closed   bool
}

func (s *session) Clone(ctx context.Context) (core.LLMClone, error) {
	if s.closed {
		return nil, fmt.Errorf("session closed")
	}
	messages := make([]openai.ChatCompletionMessage, len(s.base))
	copy(messages, s.base)
	return &clone{provider: s.provider, messages: messages}, nil
}

func (s *session) Close() error {
	s.closed = true
	return nil
}

type clone struct {
	provider  *Provider
	messages  []openai.ChatCompletionMessage
	destroyed bool
}

func (c *clone) Prompt(ctx context.Context, text string) (string, error) {
	if c.destroyed {
		return "", fmt.Errorf("clone already destroyed")
	}

	req := openai.ChatCompletionRequest{
		Model: c.provider.modelName,
		Messages: append(c.messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: text,
		}),
		MaxTokens:   c.provider.maxTokens,
		Temperature: c.provider.temperature,
		TopP:        c.provider.topP,
	}

	resp, err := c.provider.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from model")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *clone) Destroy() {
	c.destroyed = true
	c.messages = nil
}
