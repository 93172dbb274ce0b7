// Package bedrock implements the LLM provider ports over Amazon Bedrock.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"go.uber.org/zap"

	"github.com/mikey/sender-trust/internal/core"
)

// Provider implements core.LLMProvider using the anthropic messages payload
// shape, which all Claude models on Bedrock accept.
type Provider struct {
	client      *bedrockruntime.Client
	modelID     string
	maxTokens   int
	temperature float32
	topP        float32
	logger      *zap.Logger
}

// NewProvider creates a Provider around an existing Bedrock runtime client.
func NewProvider(client *bedrockruntime.Client, modelID string, maxTokens int, temperature, topP float32, logger *zap.Logger) *Provider {
	return &Provider{
		client:      client,
		modelID:     modelID,
		maxTokens:   maxTokens,
		temperature: temperature,
		topP:        topP,
		logger:      logger,
	}
}

// ModelName identifies the configured model.
func (p *Provider) ModelName() string {
	return p.modelID
}

// CheckAvailability reports whether a runtime client and model are
// configured. Bedrock has no cheap liveness probe short of an invocation,
// so configuration presence stands in for one.
func (p *Provider) CheckAvailability(ctx context.Context) core.Availability {
	if p.client == nil || p.modelID == "" {
		return core.Availability{Available: false, HasAPI: false, Status: "not-configured"}
	}
	return core.Availability{Available: true, HasAPI: true, Status: "configured"}
}

// NewSession captures the system instruction; clones carry it per request.
func (p *Provider) NewSession(ctx context.Context, systemInstruction string) (core.LLMSession, error) {
	return &session{provider: p, system: systemInstruction}, nil
}

type session struct {
	provider *Provider
	system   string
	closed   bool
}

func (s *session) Clone(ctx context.Context) (core.LLMClone, error) {
	if s.closed {
		return nil, fmt.Errorf("session closed")
	}
	return &clone{provider: s.provider, system: s.system}, nil
}

func (s *session) Close() error {
	s.closed = true
	return nil
}

type clone struct {
	provider  *Provider
	system    string
	destroyed bool
}

type messagesRequest struct {
	AnthropicVersion string    `json:"anthropic_version"`
	System           string    `json:"system,omitempty"`
	MaxTokens        int       `json:"max_tokens"`
	Temperature      float32   `json:"temperature"`
	TopP             float32   `json:"top_p"`
	Messages         []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (c *clone) Prompt(ctx context.Context, text string) (string, error) {
	if c.destroyed {
		return "", fmt.Errorf("clone already destroyed")
	}

	payload, err := json.Marshal(messagesRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		System:           c.system,
		MaxTokens:        c.provider.maxTokens,
		Temperature:      c.provider.temperature,
		TopP:             c.provider.topP,
		Messages:         []message{{Role: "user", Content: text}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request payload: %w", err)
	}

	resp, err := c.provider.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     &c.provider.modelID,
		Body:        payload,
		Accept:      aws.String("application/json"),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to invoke Bedrock model: %w", err)
	}

	var decoded messagesResponse
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return "", fmt.Errorf("failed to unmarshal Bedrock response: %w", err)
	}
	for _, part := range decoded.Content {
		if part.Type == "text" {
			return part.Text, nil
		}
	}
	return "", fmt.Errorf("empty response from Bedrock model")
}

func (c *clone) Destroy() {
	c.destroyed = true
}
