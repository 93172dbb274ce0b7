package factory

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"go.uber.org/zap"

	"github.com/mikey/sender-trust/internal/adapters/bedrock"
	"github.com/mikey/sender-trust/internal/adapters/gemini"
	"github.com/mikey/sender-trust/internal/adapters/openai"
	"github.com/mikey/sender-trust/internal/config"
	"github.com/mikey/sender-trust/internal/core"
)

// LLMFactory creates LLM providers
type LLMFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewLLMFactory creates a new LLM factory
func NewLLMFactory(cfg *config.Config, logger *zap.Logger) *LLMFactory {
	return &LLMFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateProvider creates a new LLM provider based on the configuration
func (f *LLMFactory) CreateProvider(ctx context.Context) (core.LLMProvider, error) {
	aiConfig := f.cfg.GetAI()

	switch aiConfig.Provider {
	case "bedrock":
		brCfg := f.cfg.GetBedrock()
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(brCfg.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
		}
		client := bedrockruntime.NewFromConfig(awsCfg)
		return bedrock.NewProvider(client, brCfg.ModelID, brCfg.MaxTokens, brCfg.Temperature, brCfg.TopP, f.logger), nil
	case "gemini":
		gmCfg := f.cfg.GetGemini()
		return gemini.NewProvider(ctx, gmCfg.APIKey, gmCfg.ModelName, gmCfg.MaxTokens, gmCfg.Temperature, gmCfg.TopP, f.logger)
	case "openai":
		oaCfg := f.cfg.GetOpenAI()
		return openai.NewProvider(oaCfg.APIKey, oaCfg.BaseURL, oaCfg.ModelName, oaCfg.MaxTokens, oaCfg.Temperature, oaCfg.TopP, f.logger), nil
	default:
		return nil, fmt.Errorf("unsupported AI provider: %s", aiConfig.Provider)
	}
}
