// Package locator derives an opaque message identifier from a rendered
// page snapshot supplied by the UI collaborator. The webmail DOM exposes
// the identifier inconsistently, so a prioritized strategy list is walked
// and the first hit wins.
package locator

import (
	"fmt"
	"math/big"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/mikey/sender-trust/internal/core"
)

// PageSnapshot is the raw page state the collaborator captured: the rendered
// message view's HTML and the page URL.
type PageSnapshot struct {
	HTML string `json:"html"`
	URL  string `json:"url,omitempty"`
}

const (
	legacyIDAttr  = "data-legacy-message-id"
	messageIDAttr = "data-message-id"
	senderMarker  = "span[email]"
)

var (
	hexIDRe     = regexp.MustCompile(`^[0-9a-f]{8,}$`)
	decimalIDRe = regexp.MustCompile(`^[0-9]{8,}$`)
	msgTokenRe  = regexp.MustCompile(`msg-[af]:(\d{8,})`)
	// Thread tokens in the URL fragment embed the hex message id as their
	// trailing 16 characters.
	fragHexRe = regexp.MustCompile(`([0-9a-f]{16})$`)
)

// Locator finds message identifiers in page snapshots.
type Locator struct {
	logger *zap.Logger
}

// New creates a Locator.
func New(logger *zap.Logger) *Locator {
	return &Locator{logger: logger}
}

// Locate runs the strategies in priority order. It returns nil when every
// strategy fails; callers must treat that as "cannot verify", not an error.
func (l *Locator) Locate(snap PageSnapshot) *core.MessageLocatorResult {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(snap.HTML))
	if err != nil {
		l.logger.Debug("Failed to parse page snapshot", zap.Error(err))
		doc = nil
	}

	if doc != nil {
		if res := l.fromLegacyAttribute(doc); res != nil {
			return res
		}
		if res := l.fromSenderAncestors(doc); res != nil {
			return res
		}
		if res := l.fromDocumentScan(doc); res != nil {
			return res
		}
	}
	return l.fromURLFragment(snap.URL)
}

// fromLegacyAttribute looks for the hex-formatted legacy identifier anywhere
// in the view.
func (l *Locator) fromLegacyAttribute(doc *goquery.Document) *core.MessageLocatorResult {
	var found *core.MessageLocatorResult
	doc.Find("[" + legacyIDAttr + "]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		v, _ := sel.Attr(legacyIDAttr)
		if id, ok := normalizeID(v); ok {
			found = &core.MessageLocatorResult{ID: id, Source: "legacy-attribute"}
			return false
		}
		return true
	})
	return found
}

// fromSenderAncestors walks ancestor elements upward from the sender marker
// looking for a decimal-or-hex identifier attribute.
func (l *Locator) fromSenderAncestors(doc *goquery.Document) *core.MessageLocatorResult {
	var found *core.MessageLocatorResult
	doc.Find(senderMarker).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		for node := sel; node.Length() > 0; node = node.Parent() {
			for _, attr := range []string{messageIDAttr, legacyIDAttr} {
				if v, ok := node.Attr(attr); ok {
					if id, ok := normalizeID(v); ok {
						found = &core.MessageLocatorResult{ID: id, Source: "sender-ancestor"}
						return false
					}
				}
			}
		}
		return true
	})
	return found
}

// fromDocumentScan is the broad fallback over the whole document.
func (l *Locator) fromDocumentScan(doc *goquery.Document) *core.MessageLocatorResult {
	var found *core.MessageLocatorResult
	doc.Find("[" + messageIDAttr + "]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		v, _ := sel.Attr(messageIDAttr)
		if id, ok := normalizeID(v); ok {
			found = &core.MessageLocatorResult{ID: id, Source: "document-scan"}
			return false
		}
		return true
	})
	return found
}

// fromURLFragment is the last resort: a hex token at the tail of the URL
// fragment.
func (l *Locator) fromURLFragment(raw string) *core.MessageLocatorResult {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Fragment == "" {
		return nil
	}
	if m := fragHexRe.FindStringSubmatch(u.Fragment); m != nil {
		return &core.MessageLocatorResult{ID: m[1], Source: "url-fragment"}
	}
	return nil
}

// normalizeID accepts hex, decimal, and msg-token identifier forms and
// returns the canonical hex form. Decimal identifiers exceed int64 range,
// so conversion goes through math/big.
func normalizeID(v string) (string, bool) {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return "", false
	}
	if m := msgTokenRe.FindStringSubmatch(v); m != nil {
		v = m[1]
	} else {
		v = strings.TrimPrefix(v, "#")
	}

	if decimalIDRe.MatchString(v) {
		n, ok := new(big.Int).SetString(v, 10)
		if !ok {
			return "", false
		}
		return fmt.Sprintf("%x", n), true
	}
	if hexIDRe.MatchString(v) {
		return v, true
	}
	return "", false
}
