package core

import (
	"time"

	"github.com/mikey/sender-trust/internal/llmparse"
)

// LogoSource identifies where a sender's visual identity came from.
type LogoSource string

const (
	LogoSourceBIMI    LogoSource = "bimi"
	LogoSourceFavicon LogoSource = "favicon"
	LogoSourceUnknown LogoSource = "unknown"
)

// FaviconCandidate pairs a favicon-service URL with a direct /favicon.ico
// fallback for the same host, so the UI can walk an exhaustive image chain.
type FaviconCandidate struct {
	Host       string `json:"host"`
	ServiceURL string `json:"serviceUrl"`
	DirectURL  string `json:"directUrl"`
}

// FaviconSet holds the three candidate slots emitted for every lookup.
type FaviconSet struct {
	Sub  FaviconCandidate `json:"sub"`
	Root FaviconCandidate `json:"root"`
	WWW  FaviconCandidate `json:"www"`
}

// SenderInfo is the resolved brand identity for a sender domain. It is
// immutable once produced; the cache layer owns the entry wrapping it.
type SenderInfo struct {
	FullDomain string     `json:"fullDomain"`
	RootDomain string     `json:"rootDomain"`
	LogoURL    string     `json:"logoUrl,omitempty"`
	LogoSource LogoSource `json:"logoSource"`
	Favicons   FaviconSet `json:"favicons"`
}

// CacheEntry wraps a SenderInfo with its write time for TTL checks.
type CacheEntry struct {
	Data      *SenderInfo
	Timestamp time.Time
}

// AuthOutcome is the closed set of delivery-authentication outcome tokens.
type AuthOutcome string

const (
	AuthPass          AuthOutcome = "pass"
	AuthFail          AuthOutcome = "fail"
	AuthSoftfail      AuthOutcome = "softfail"
	AuthNeutral       AuthOutcome = "neutral"
	AuthNone          AuthOutcome = "none"
	AuthTempError     AuthOutcome = "temperror"
	AuthPermError     AuthOutcome = "permerror"
	AuthBestGuessPass AuthOutcome = "bestguesspass" // DMARC only
)

// AuthResult holds the parsed Authentication-Results outcomes for a message.
// Empty fields mean the mechanism was absent from the header.
type AuthResult struct {
	SPF            AuthOutcome `json:"spf,omitempty"`
	DKIM           AuthOutcome `json:"dkim,omitempty"`
	DMARC          AuthOutcome `json:"dmarc,omitempty"`
	OriginalSender string      `json:"originalSender,omitempty"`
}

// MessageLocatorResult carries the located message identifier and which
// strategy produced it. Diagnostic only, never persisted.
type MessageLocatorResult struct {
	ID     string `json:"id"`
	Source string `json:"source"`
}

// Verdict is the tiered trust classification for a message.
type Verdict string

const (
	VerdictTrusted   Verdict = "trusted"
	VerdictCaution   Verdict = "caution"
	VerdictDangerous Verdict = "dangerous"
)

// EmailLink is one hyperlink extracted from a message body.
type EmailLink struct {
	Text string `json:"text"`
	Href string `json:"href"`
}

// EmailAnalysisRequest carries the message fields submitted for AI scoring.
// Every string in here is untrusted email content.
type EmailAnalysisRequest struct {
	DisplayName string      `json:"displayName"`
	SenderEmail string      `json:"senderEmail"`
	Subject     string      `json:"subject"`
	BodyText    string      `json:"bodyText"`
	Links       []EmailLink `json:"links,omitempty"`
	MessageID   string      `json:"messageId,omitempty"`
	Auth        *AuthResult `json:"auth,omitempty"`
}

// AiVerdict is the model's advisory classification. Defined in llmparse so
// the parser does not import core; aliased here for the rest of the domain.
type AiVerdict = llmparse.AiVerdict

const (
	AiVerdictOk      = llmparse.AiVerdictOk
	AiVerdictCaution = llmparse.AiVerdictCaution
	AiVerdictReject  = llmparse.AiVerdictReject
)

// AiResult is the outcome of one AI analysis. An empty Verdict with a
// non-empty ParseError means the model replied but no verdict could be
// recovered; callers treat that as inconclusive, not as an error.
type AiResult = llmparse.AiResult

// Availability reports the memoized local-model capability status.
type Availability struct {
	Available bool   `json:"available"`
	HasAPI    bool   `json:"hasApi"`
	Status    string `json:"status"`
}

// VerificationResult is the joined output of brand resolution and header
// verification for a single message.
type VerificationResult struct {
	Verdict Verdict               `json:"verdict"`
	Auth    *AuthResult           `json:"auth,omitempty"`
	Sender  *SenderInfo           `json:"sender,omitempty"`
	Locator *MessageLocatorResult `json:"locator,omitempty"`
	// AuthErr distinguishes "fetch failed" from "no auth header present".
	AuthErr string `json:"authError,omitempty"`
}
