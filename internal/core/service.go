package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/mikey/sender-trust/internal/domainutil"
)

// TrustService resolves sender identities through the cache and combines
// them with header verification into tiered verdicts.
type TrustService struct {
	resolver BrandResolver
	verifier HeaderVerifier
	cache    SenderCacheRepository
	logger   *zap.Logger
	ttl      time.Duration

	// group guarantees at most one in-flight resolve per address; callers
	// arriving while one is in flight share its eventual result.
	group singleflight.Group

	now func() time.Time
}

// NewTrustService creates a TrustService.
func NewTrustService(
	resolver BrandResolver,
	verifier HeaderVerifier,
	cache SenderCacheRepository,
	logger *zap.Logger,
	ttl time.Duration,
) *TrustService {
	return &TrustService{
		resolver: resolver,
		verifier: verifier,
		cache:    cache,
		logger:   logger,
		ttl:      ttl,
		now:      time.Now,
	}
}

// InitCache performs the install/update reset: when the stored version
// differs from the running one, the persistent cache is fully cleared.
func (s *TrustService) InitCache(ctx context.Context, version string) error {
	stored, err := s.cache.Version(ctx)
	if err != nil {
		return err
	}
	if stored == version {
		return nil
	}

	s.logger.Info("Cache version changed, clearing sender cache",
		zap.String("stored", stored),
		zap.String("running", version))
	if err := s.cache.Clear(ctx); err != nil {
		return err
	}
	return s.cache.SetVersion(ctx, version)
}

// SenderInfo returns the brand identity for a sender address, from cache
// when fresh, resolving and caching on miss. Entries past the TTL are
// evicted lazily here, on read.
func (s *TrustService) SenderInfo(ctx context.Context, email string) (*SenderInfo, error) {
	domain := domainutil.FromAddress(email)
	if domain == "" {
		return nil, fmt.Errorf("invalid sender address %q", email)
	}
	key := strings.ToLower(strings.TrimSpace(email))

	if entry, ok := s.cache.Get(ctx, key); ok {
		if s.now().Sub(entry.Timestamp) <= s.ttl {
			s.logger.Debug("Sender cache hit", zap.String("address", key))
			return entry.Data, nil
		}
		if err := s.cache.Delete(ctx, key); err != nil {
			s.logger.Warn("Failed to evict expired cache entry", zap.Error(err))
		}
	}

	v, err, shared := s.group.Do(key, func() (interface{}, error) {
		info, err := s.resolver.Resolve(ctx, domain)
		if err != nil {
			return nil, err
		}
		entry := &CacheEntry{Data: info, Timestamp: s.now()}
		if err := s.cache.Set(ctx, key, entry); err != nil {
			s.logger.Error("Failed to cache sender info", zap.Error(err))
		}
		return info, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Debug("Joined in-flight sender lookup", zap.String("address", key))
	}
	return v.(*SenderInfo), nil
}

// VerifySender evaluates the two independent signals concurrently, then
// computes the verdict from both results in one synchronous step, so the
// cross-signal override cannot depend on completion order. messageID may be
// empty, meaning the message could not be located and auth is unverifiable.
func (s *TrustService) VerifySender(ctx context.Context, email, messageID string) (*VerificationResult, error) {
	var (
		info    *SenderInfo
		auth    *AuthResult
		authErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		i, err := s.SenderInfo(gctx, email)
		if err != nil {
			// Brand resolution failing must not sink the auth signal.
			s.logger.Debug("Brand resolution failed during verification", zap.Error(err))
			return nil
		}
		info = i
		return nil
	})
	g.Go(func() error {
		if messageID == "" {
			return nil
		}
		a, err := s.verifier.Verify(gctx, messageID)
		if err != nil {
			s.logger.Debug("Header verification failed", zap.Error(err))
			authErr = err
			return nil
		}
		auth = a
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	logo := LogoSourceUnknown
	if info != nil {
		logo = info.LogoSource
	}

	res := &VerificationResult{
		Verdict: Classify(auth, logo),
		Auth:    auth,
		Sender:  info,
	}
	if authErr != nil {
		res.AuthErr = authErr.Error()
	}
	return res, nil
}
