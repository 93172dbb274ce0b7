// Package favicon probes a third-party favicon service and detects its
// generic placeholder image.
package favicon

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// maxIconBytes bounds how much of an icon response is read.
const maxIconBytes = 1 << 20

// Prober fetches favicon-service responses and compares them against the
// service's placeholder. The placeholder reference is fetched using a domain
// known not to exist and memoized on success only; a transient failure at
// first use must not disable placeholder detection for the whole process.
type Prober struct {
	serviceURL string // printf template with one %s for the domain
	refDomain  string
	http       *http.Client
	logger     *zap.Logger

	refMu    sync.Mutex
	refBytes []byte
}

// NewProber creates a Prober. serviceURL must contain a single %s
// placeholder for the domain; refDomain is the known-nonexistent domain used
// to obtain the placeholder reference bytes.
func NewProber(serviceURL, refDomain string, timeout time.Duration, logger *zap.Logger) *Prober {
	return &Prober{
		serviceURL: serviceURL,
		refDomain:  refDomain,
		http:       &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// ServiceURL returns the favicon-service URL for a domain.
func (p *Prober) ServiceURL(domain string) string {
	return fmt.Sprintf(p.serviceURL, domain)
}

// DirectURL returns the direct /favicon.ico URL for a domain.
func (p *Prober) DirectURL(domain string) string {
	return "https://" + strings.TrimSuffix(domain, "/") + "/favicon.ico"
}

// IsGeneric reports whether the favicon service returns its generic
// placeholder for the domain, meaning no real favicon exists. Any fetch
// failure reports false: the chain must keep going, and a transient error
// must not brand a domain as placeholder-only.
func (p *Prober) IsGeneric(ctx context.Context, domain string) bool {
	ref, err := p.reference(ctx)
	if err != nil {
		p.logger.Debug("Placeholder reference unavailable", zap.Error(err))
		return false
	}

	candidate, err := p.fetch(ctx, p.ServiceURL(domain))
	if err != nil {
		p.logger.Debug("Favicon probe failed", zap.String("domain", domain), zap.Error(err))
		return false
	}

	return len(candidate) == len(ref) && bytes.Equal(candidate, ref)
}

// reference fetches the placeholder bytes, memoizing only a successful
// fetch. Failures return an error and leave the next call to try again.
func (p *Prober) reference(ctx context.Context) ([]byte, error) {
	p.refMu.Lock()
	defer p.refMu.Unlock()

	if p.refBytes != nil {
		return p.refBytes, nil
	}

	ref, err := p.fetch(ctx, p.ServiceURL(p.refDomain))
	if err != nil {
		return nil, err
	}
	p.refBytes = ref
	p.logger.Debug("Memoized placeholder reference",
		zap.String("domain", p.refDomain),
		zap.Int("bytes", len(ref)))
	return ref, nil
}

func (p *Prober) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("favicon service returned %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxIconBytes))
}
