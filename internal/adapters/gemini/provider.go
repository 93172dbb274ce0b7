// Package gemini implements the LLM provider ports over Google Gemini.
package gemini

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/mikey/sender-trust/internal/core"
)

// Provider implements core.LLMProvider.
type Provider struct {
	client      *genai.Client
	modelName   string
	maxTokens   int
	temperature float32
	topP        float32
	logger      *zap.Logger
}

// NewProvider creates a Provider.
func NewProvider(ctx context.Context, apiKey, modelName string, maxTokens int, temperature, topP float32, logger *zap.Logger) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key not configured")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &Provider{
		client:      client,
		modelName:   modelName,
		maxTokens:   maxTokens,
		temperature: temperature,
		topP:        topP,
		logger:      logger,
	}, nil
}

// ModelName identifies the configured model.
func (p *Provider) ModelName() string {
	return p.modelName
}

// CheckAvailability reports whether the client is usable.
func (p *Provider) CheckAvailability(ctx context.Context) core.Availability {
	if p.client == nil {
		return core.Availability{Available: false, HasAPI: false, Status: "no-client"}
	}
	return core.Availability{Available: true, HasAPI: true, Status: "readily"}
}

// NewSession creates a session whose model carries the system instruction.
func (p *Provider) NewSession(ctx context.Context, systemInstruction string) (core.LLMSession, error) {
	model := p.client.GenerativeModel(p.modelName)
	model.SetMaxOutputTokens(int32(p.maxTokens))
	model.SetTemperature(p.temperature)
	model.SetTopP(p.topP)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemInstruction)},
	}
	return &session{model: model}, nil
}

type session struct {
	model  *genai.GenerativeModel
	closed bool
}

// Clone starts a fresh chat on the session's model. Chats carry per-request
// history, so each clone is isolated from every other.
func (s *session) Clone(ctx context.Context) (core.LLMClone, error) {
	if s.closed {
		return nil, fmt.Errorf("session closed")
	}
	return &clone{chat: s.model.StartChat()}, nil
}

func (s *session) Close() error {
	s.closed = true
	return nil
}

type clone struct {
	chat      *genai.ChatSession
	destroyed bool
}

func (c *clone) Prompt(ctx context.Context, text string) (string, error) {
	if c.destroyed {
		return "", fmt.Errorf("clone already destroyed")
	}

	resp, err := c.chat.SendMessage(ctx, genai.Text(text))
	if err != nil {
		return "", fmt.Errorf("failed to send message to Gemini: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty response from Gemini")
	}
	return fmt.Sprintf("%v", resp.Candidates[0].Content.Parts[0]), nil
}

func (c *clone) Destroy() {
	c.destroyed = true
	c.chat = nil
}
