// Package brand resolves a sender domain to its visual identity through a
// fallback chain: BIMI on the full domain, BIMI on the root domain, then
// the favicon service with generic-placeholder detection.
package brand

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mikey/sender-trust/internal/adapters/doh"
	"github.com/mikey/sender-trust/internal/adapters/favicon"
	"github.com/mikey/sender-trust/internal/core"
	"github.com/mikey/sender-trust/internal/domainutil"
)

// Resolver implements core.BrandResolver.
type Resolver struct {
	doh    *doh.Client
	probe  *favicon.Prober
	logger *zap.Logger
}

// NewResolver creates a Resolver.
func NewResolver(dohClient *doh.Client, probe *favicon.Prober, logger *zap.Logger) *Resolver {
	return &Resolver{doh: dohClient, probe: probe, logger: logger}
}

// Resolve walks the fallback chain and always produces a SenderInfo with
// all three favicon candidate slots populated. Network failures at any step
// mean "no result, continue"; the only error is unusable input.
func (r *Resolver) Resolve(ctx context.Context, fullDomain string) (*core.SenderInfo, error) {
	full := domainutil.Clean(fullDomain)
	if full == "" {
		return nil, fmt.Errorf("empty domain")
	}
	root := domainutil.RootDomain(full)

	info := &core.SenderInfo{
		FullDomain: full,
		RootDomain: root,
		LogoSource: core.LogoSourceUnknown,
		Favicons:   r.candidates(full, root),
	}

	if logo, _ := r.doh.LookupBIMILogo(ctx, full); logo != "" {
		info.LogoURL = logo
		info.LogoSource = core.LogoSourceBIMI
		return info, nil
	}
	if root != full {
		if logo, _ := r.doh.LookupBIMILogo(ctx, root); logo != "" {
			info.LogoURL = logo
			info.LogoSource = core.LogoSourceBIMI
			return info, nil
		}
	}

	if r.probe.IsGeneric(ctx, root) {
		// The service only has its placeholder: no real favicon exists and
		// the sender has no recognizable brand identity.
		r.logger.Debug("Generic placeholder favicon", zap.String("domain", root))
		return info, nil
	}

	info.LogoURL = r.probe.ServiceURL(root)
	info.LogoSource = core.LogoSourceFavicon
	return info, nil
}

func (r *Resolver) candidates(full, root string) core.FaviconSet {
	mk := func(host string) core.FaviconCandidate {
		return core.FaviconCandidate{
			Host:       host,
			ServiceURL: r.probe.ServiceURL(host),
			DirectURL:  r.probe.DirectURL(host),
		}
	}
	return core.FaviconSet{
		Sub:  mk(full),
		Root: mk(root),
		WWW:  mk("www." + root),
	}
}
