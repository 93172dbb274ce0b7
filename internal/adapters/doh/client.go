// Package doh queries BIMI TXT records through a DNS-over-HTTPS resolver.
package doh

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const txtRecordType = 16

// bimiSelector is the default BIMI selector prefix.
const bimiSelector = "default._bimi."

var logoFieldRe = regexp.MustCompile(`(?i)\bl=([^;]+)`)

// Client performs JSON DoH lookups. Lookups are rate limited so a burst of
// sender lookups cannot hammer the resolver.
type Client struct {
	endpoint string
	http     *http.Client
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// dohAnswer is the subset of the JSON DoH response we read.
type dohAnswer struct {
	Answer []struct {
		Type int    `json:"type"`
		Data string `json:"data"`
	} `json:"Answer"`
}

// NewClient creates a DoH client against the given JSON endpoint
// (e.g. https://dns.google/resolve).
func NewClient(endpoint string, timeout time.Duration, qps float64, logger *zap.Logger) *Client {
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(rate.Limit(qps), int(qps)+1),
		logger:   logger,
	}
}

// LookupBIMILogo queries default._bimi.<domain> for a v=BIMI1 TXT record and
// returns the l= logo URL. Only SVG logos are accepted. A missing record,
// lookup failure, or non-SVG logo all return ("", nil): the caller's
// fallback chain continues, nothing is surfaced as an error.
func (c *Client) LookupBIMILogo(ctx context.Context, domain string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", nil
	}

	q := url.Values{}
	q.Set("name", bimiSelector+domain)
	q.Set("type", "TXT")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build DoH request: %w", err)
	}
	req.Header.Set("Accept", "application/dns-json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("BIMI lookup failed", zap.String("domain", domain), zap.Error(err))
		return "", nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("BIMI lookup non-200", zap.String("domain", domain), zap.Int("status", resp.StatusCode))
		return "", nil
	}

	var answer dohAnswer
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		c.logger.Debug("BIMI response decode failed", zap.String("domain", domain), zap.Error(err))
		return "", nil
	}

	for _, a := range answer.Answer {
		if a.Type != txtRecordType {
			continue
		}
		if logo := ParseBIMIRecord(a.Data); logo != "" {
			return logo, nil
		}
	}
	return "", nil
}

// ParseBIMIRecord extracts the logo URL from a v=BIMI1 TXT record. Returns
// "" unless the record is a BIMI assertion carrying an https .svg logo.
func ParseBIMIRecord(record string) string {
	record = strings.Trim(record, `"`)
	if !strings.Contains(strings.ToLower(record), "v=bimi1") {
		return ""
	}
	m := logoFieldRe.FindStringSubmatch(record)
	if m == nil {
		return ""
	}
	logo := strings.TrimSpace(m[1])
	if !strings.HasPrefix(strings.ToLower(logo), "https://") {
		return ""
	}
	if !strings.HasSuffix(strings.ToLower(logo), ".svg") {
		return ""
	}
	return logo
}
