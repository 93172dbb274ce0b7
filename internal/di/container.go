package di

import (
	"context"
	"fmt"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/sender-trust/internal/adapters/brand"
	"github.com/mikey/sender-trust/internal/adapters/doh"
	"github.com/mikey/sender-trust/internal/adapters/favicon"
	"github.com/mikey/sender-trust/internal/adapters/headers"
	"github.com/mikey/sender-trust/internal/adapters/httpapi"
	"github.com/mikey/sender-trust/internal/config"
	"github.com/mikey/sender-trust/internal/core"
	"github.com/mikey/sender-trust/internal/factory"
	"github.com/mikey/sender-trust/internal/locator"
	"github.com/mikey/sender-trust/internal/logging"
	"github.com/mikey/sender-trust/internal/ports"
	"github.com/mikey/sender-trust/internal/sanitize"
)

// BuildContainer creates and configures a dependency injection container
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(config.New); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	// Register factories
	if err := container.Provide(factory.NewLLMFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewCacheFactory); err != nil {
		return nil, err
	}

	// Register LLM provider
	if err := container.Provide(func(f *factory.LLMFactory) (core.LLMProvider, error) {
		return f.CreateProvider(context.Background())
	}); err != nil {
		return nil, err
	}

	// Register sender cache repository
	if err := container.Provide(func(f *factory.CacheFactory) (core.SenderCacheRepository, error) {
		return f.CreateCacheRepository()
	}); err != nil {
		return nil, err
	}

	// Register DoH client
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) (*doh.Client, error) {
		timeout, err := cfg.GetDuration("bimi.timeout")
		if err != nil {
			return nil, fmt.Errorf("invalid BIMI timeout: %w", err)
		}
		return doh.NewClient(
			cfg.GetString("bimi.doh_endpoint"),
			timeout,
			cfg.GetFloat64("bimi.queries_per_second"),
			logger,
		), nil
	}); err != nil {
		return nil, err
	}

	// Register favicon prober
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) (*favicon.Prober, error) {
		timeout, err := cfg.GetDuration("favicon.timeout")
		if err != nil {
			return nil, fmt.Errorf("invalid favicon timeout: %w", err)
		}
		return favicon.NewProber(
			cfg.GetString("favicon.service_url"),
			cfg.GetString("favicon.reference_domain"),
			timeout,
			logger,
		), nil
	}); err != nil {
		return nil, err
	}

	// Register brand resolver
	if err := container.Provide(func(d *doh.Client, p *favicon.Prober, logger *zap.Logger) core.BrandResolver {
		return brand.NewResolver(d, p, logger)
	}); err != nil {
		return nil, err
	}

	// Register header verifier
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) (core.HeaderVerifier, error) {
		timeout, err := cfg.GetDuration("headers.timeout")
		if err != nil {
			return nil, fmt.Errorf("invalid header fetch timeout: %w", err)
		}
		source := headers.NewHTTPSource(
			cfg.GetString("headers.url_template"),
			cfg.GetString("headers.session_cookie"),
			timeout,
			logger,
		)
		return headers.NewVerifier(source, logger), nil
	}); err != nil {
		return nil, err
	}

	// Register prompt sanitizer
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) *sanitize.Sanitizer {
		return sanitize.New(logger, cfg.GetInt("ai.max_field_size"))
	}); err != nil {
		return nil, err
	}

	// Register trust service
	if err := container.Provide(func(
		resolver core.BrandResolver,
		verifier core.HeaderVerifier,
		cacheRepo core.SenderCacheRepository,
		f *factory.CacheFactory,
		logger *zap.Logger,
	) (*core.TrustService, error) {
		ttl, err := f.GetCacheTTL()
		if err != nil {
			return nil, fmt.Errorf("invalid cache TTL: %w", err)
		}
		return core.NewTrustService(resolver, verifier, cacheRepo, logger, ttl), nil
	}); err != nil {
		return nil, err
	}

	// Register AI service
	if err := container.Provide(func(
		provider core.LLMProvider,
		sanitizer *sanitize.Sanitizer,
		cfg *config.Config,
		logger *zap.Logger,
	) (*core.AiService, error) {
		timeout, err := cfg.GetDuration("ai.timeout")
		if err != nil {
			return nil, fmt.Errorf("invalid AI timeout: %w", err)
		}
		return core.NewAiService(provider, sanitizer, logger, timeout), nil
	}); err != nil {
		return nil, err
	}

	// Register message locator
	if err := container.Provide(locator.New); err != nil {
		return nil, err
	}

	// Register HTTP frontend
	if err := container.Provide(func(
		trust *core.TrustService,
		ai *core.AiService,
		loc *locator.Locator,
		cfg *config.Config,
		logger *zap.Logger,
	) ports.Frontend {
		return httpapi.NewServer(trust, ai, loc, cfg.GetString("server.listen_address"), logger)
	}); err != nil {
		return nil, err
	}

	return container, nil
}
