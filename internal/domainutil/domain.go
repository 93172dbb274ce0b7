// Package domainutil computes registrable (root) domains for sender
// addresses, accounting for multi-label public suffixes like co.uk.
package domainutil

import (
	"strings"

	"golang.org/x/net/publicsuffix"
)

// RootDomain reduces a full domain to its registrable domain using the
// public suffix list, so mail.example.co.uk becomes example.co.uk while
// newsletter.stripe.com becomes stripe.com. Inputs that are already at or
// below the registrable level (including bare suffixes and single labels)
// are returned as-is. Pure and total: never fails.
func RootDomain(fullDomain string) string {
	d := Clean(fullDomain)
	if d == "" {
		return d
	}

	root, err := publicsuffix.EffectiveTLDPlusOne(d)
	if err != nil {
		// The input is itself a public suffix, a single label, or otherwise
		// not reducible. Treat it as its own root.
		return d
	}
	return root
}

// Clean lowercases a domain and strips any leading @ or local part left
// over from an email address.
func Clean(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	if i := strings.LastIndex(d, "@"); i >= 0 {
		d = d[i+1:]
	}
	return strings.Trim(d, ".")
}

// FromAddress extracts the domain portion of an email address, cleaned and
// lowercased. Returns "" when the address has no domain.
func FromAddress(address string) string {
	at := strings.LastIndex(address, "@")
	if at < 0 || at == len(address)-1 {
		return ""
	}
	return Clean(address[at+1:])
}
