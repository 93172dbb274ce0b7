// Package headers fetches and parses delivery-authentication headers for a
// message. The mail provider's raw-message view inconsistently returns
// either plain header text or an HTML-wrapped page; the parser handles both.
package headers

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/mikey/sender-trust/internal/core"
)

var (
	authResultsRe    = regexp.MustCompile(`(?im)^authentication-results:\s*(.+)$`)
	originalSenderRe = regexp.MustCompile(`(?im)^x-original-sender:\s*(.+)$`)

	// Outcome tokens are a closed set; anything else is ignored rather than
	// guessed at.
	spfTokenRe   = regexp.MustCompile(`(?i)\bspf=(pass|fail|softfail|neutral|none|temperror|permerror)\b`)
	dkimTokenRe  = regexp.MustCompile(`(?i)\bdkim=(pass|fail|softfail|neutral|none|temperror|permerror)\b`)
	dmarcTokenRe = regexp.MustCompile(`(?i)\bdmarc=(pass|fail|softfail|neutral|none|temperror|permerror|bestguesspass)\b`)

	// Label forms survive HTML flattening where the structured header does
	// not. The outcome is sometimes quoted in the provider's details view.
	spfLabelRe   = regexp.MustCompile(`(?i)\bspf\s*:\s*['"]?(pass|fail|softfail|neutral|none|temperror|permerror)\b`)
	dkimLabelRe  = regexp.MustCompile(`(?i)\bdkim\s*:\s*['"]?(pass|fail|softfail|neutral|none|temperror|permerror)\b`)
	dmarcLabelRe = regexp.MustCompile(`(?i)\bdmarc\s*:\s*['"]?(pass|fail|softfail|neutral|none|temperror|permerror|bestguesspass)\b`)

	addrRe = regexp.MustCompile(`[^\s<>"',;]+@[^\s<>"',;]+`)
)

// Parse extracts authentication results from a raw-message response body.
// envelopeSender is used to decide whether X-Original-Sender signals a
// mailing-list relay. A nil result with no error means the message carried
// no authentication information at all.
func Parse(body, envelopeSender string) *core.AuthResult {
	if strings.TrimSpace(body) == "" {
		return nil
	}

	if looksLikeHTML(body) {
		return parseFlattened(stripHTML(body), envelopeSender)
	}
	return parseRaw(body, envelopeSender)
}

// parseRaw handles plain RFC 5322 header text.
func parseRaw(raw, envelopeSender string) *core.AuthResult {
	unfolded := Unfold(raw)

	res := &core.AuthResult{}
	found := false

	if m := authResultsRe.FindStringSubmatch(unfolded); m != nil {
		line := m[1]
		if s := spfTokenRe.FindStringSubmatch(line); s != nil {
			res.SPF = core.AuthOutcome(strings.ToLower(s[1]))
			found = true
		}
		if d := dkimTokenRe.FindStringSubmatch(line); d != nil {
			res.DKIM = core.AuthOutcome(strings.ToLower(d[1]))
			found = true
		}
		if d := dmarcTokenRe.FindStringSubmatch(line); d != nil {
			res.DMARC = core.AuthOutcome(strings.ToLower(d[1]))
			found = true
		}
	}

	if m := originalSenderRe.FindStringSubmatch(unfolded); m != nil {
		if orig := extractAddress(m[1]); orig != "" && !strings.EqualFold(orig, envelopeSender) {
			res.OriginalSender = orig
			found = true
		}
	}

	if !found {
		return nil
	}
	return res
}

// parseFlattened handles text recovered from an HTML-wrapped response,
// where the structured header is not recoverable verbatim and only
// label-style markers remain.
func parseFlattened(text, envelopeSender string) *core.AuthResult {
	res := &core.AuthResult{}
	found := false

	if s := spfLabelRe.FindStringSubmatch(text); s != nil {
		res.SPF = core.AuthOutcome(strings.ToLower(s[1]))
		found = true
	}
	if d := dkimLabelRe.FindStringSubmatch(text); d != nil {
		res.DKIM = core.AuthOutcome(strings.ToLower(d[1]))
		found = true
	}
	if d := dmarcLabelRe.FindStringSubmatch(text); d != nil {
		res.DMARC = core.AuthOutcome(strings.ToLower(d[1]))
		found = true
	}
	if m := originalSenderRe.FindStringSubmatch(text); m != nil {
		if orig := extractAddress(m[1]); orig != "" && !strings.EqualFold(orig, envelopeSender) {
			res.OriginalSender = orig
			found = true
		}
	}

	if !found {
		return nil
	}
	return res
}

// Unfold joins RFC 5322 continuation lines (lines beginning with whitespace)
// to the previous line before scanning.
func Unfold(raw string) string {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	var out []string
	for _, line := range lines {
		if len(out) > 0 && len(line) > 0 && (line[0] == ' ' || line[0] == '\t') {
			out[len(out)-1] += " " + strings.TrimLeft(line, " \t")
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// looksLikeHTML detects the provider's HTML-wrapped response shape.
func looksLikeHTML(body string) bool {
	head := strings.ToLower(strings.TrimSpace(body))
	if len(head) > 512 {
		head = head[:512]
	}
	return strings.HasPrefix(head, "<!doctype") || strings.HasPrefix(head, "<html") ||
		strings.Contains(head, "<body")
}

// stripHTML removes tags and decodes entities, keeping text content with
// line breaks at block boundaries.
func stripHTML(body string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(body))
	var b strings.Builder
	skipDepth := 0
	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return b.String()
		case html.StartTagToken, html.EndTagToken:
			name, _ := tokenizer.TagName()
			switch string(name) {
			case "script", "style":
				if tt == html.StartTagToken {
					skipDepth++
				} else if skipDepth > 0 {
					skipDepth--
				}
			case "br", "p", "div", "tr", "li":
				b.WriteByte('\n')
			}
		case html.TextToken:
			if skipDepth == 0 {
				// The tokenizer decodes standard entities in text nodes.
				b.Write(tokenizer.Text())
				b.WriteByte(' ')
			}
		}
	}
}

func extractAddress(s string) string {
	if m := addrRe.FindString(s); m != "" {
		return strings.ToLower(m)
	}
	return ""
}
