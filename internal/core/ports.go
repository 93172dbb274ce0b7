package core

import (
	"context"
	"time"
)

// BrandResolver resolves a visual identity for a sender domain. Network
// failures degrade through the resolver's fallback chain; an error is only
// returned for unusable input.
type BrandResolver interface {
	Resolve(ctx context.Context, fullDomain string) (*SenderInfo, error)
}

// HeaderVerifier fetches and parses delivery-authentication headers for a
// message identifier. A (nil, nil) return means the message had no
// Authentication-Results line, which is distinct from a fetch error.
type HeaderVerifier interface {
	Verify(ctx context.Context, messageID string) (*AuthResult, error)
}

// SenderCacheRepository is the persistent, TTL-bounded SenderInfo store.
type SenderCacheRepository interface {
	// Get retrieves the entry for an address, or (nil, false).
	Get(ctx context.Context, address string) (*CacheEntry, bool)

	// Set stores an entry for an address.
	Set(ctx context.Context, address string, entry *CacheEntry) error

	// Delete removes a single entry.
	Delete(ctx context.Context, address string) error

	// Clear removes every entry. Used for the install/update reset.
	Clear(ctx context.Context) error

	// Cleanup removes entries older than maxAge.
	Cleanup(ctx context.Context, maxAge time.Duration) error

	// Version returns the stored schema/app version, empty if unset.
	Version(ctx context.Context) (string, error)

	// SetVersion records the running version.
	SetVersion(ctx context.Context, version string) error
}

// LLMProvider exposes a local or remote language model capability.
type LLMProvider interface {
	// CheckAvailability probes the capability. It reports status rather than
	// failing: a missing model is (Available=false), not an error.
	CheckAvailability(ctx context.Context) Availability

	// NewSession creates a long-lived session primed with a system
	// instruction. The caller owns the session lifecycle.
	NewSession(ctx context.Context, systemInstruction string) (LLMSession, error)

	// ModelName identifies the configured model for diagnostics.
	ModelName() string
}

// LLMSession is a long-lived model handle. All prompting happens on clones
// so concurrent analyses never share mutable model state.
type LLMSession interface {
	// Clone derives an isolated handle for exactly one prompt-response cycle.
	Clone(ctx context.Context) (LLMClone, error)

	// Close releases the session.
	Close() error
}

// LLMClone is a single-use prompt handle. Destroy must be called once the
// prompt settles, success or not.
type LLMClone interface {
	Prompt(ctx context.Context, text string) (string, error)
	Destroy()
}
