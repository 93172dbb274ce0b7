// Package sanitize prepares untrusted email content for inclusion in a
// model prompt. It is the engine's only defense against adversarial email
// text steering the model, so every untrusted field passes through here
// before being concatenated into a prompt.
package sanitize

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
)

const neutralized = "[filtered]"

var (
	// Role-impersonation tokens at a line or clause boundary.
	roleTokenRe = regexp.MustCompile(`(?i)(^|\n|\s)(system|assistant|user)\s*:`)

	// Known injection phrasings. Matched after whitespace collapsing so
	// padding tricks do not split the phrase.
	injectionRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions|prompts|messages|directions)`),
		regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|above|earlier)\s+\w+`),
		regexp.MustCompile(`(?i)you\s+are\s+now\b`),
		regexp.MustCompile(`(?i)forget\s+(everything|all)\s+(you|above|before)`),
		regexp.MustCompile(`(?i)new\s+instructions\s*:`),
		regexp.MustCompile(`(?i)act\s+as\s+(if\s+you\s+are\s+)?(a\s+)?(different|new)\s+(ai|assistant|model)`),
	}

	// Structured-prompt delimiters: code fences, template braces, tag-ish
	// angle-bracket runs.
	fenceRe     = regexp.MustCompile("`{3,}")
	tagRe       = regexp.MustCompile(`</?[a-zA-Z][^>\n]{0,40}>`)
	braceRe     = regexp.MustCompile(`\{\{|\}\}`)
	blankRunRe  = regexp.MustCompile(`\n{3,}`)
	spaceRunRe  = regexp.MustCompile(`[ \t]{3,}`)
	controlRe   = regexp.MustCompile("[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]")
	zeroWidthRe = regexp.MustCompile("[​‌‍⁠\uFEFF]")
)

// Sanitizer rewrites untrusted text so it cannot forge prompt structure.
type Sanitizer struct {
	logger *zap.Logger
	maxLen int
}

// New creates a Sanitizer bounding output to maxLen bytes (0 means no bound).
func New(logger *zap.Logger, maxLen int) *Sanitizer {
	return &Sanitizer{logger: logger, maxLen: maxLen}
}

// ForPrompt sanitizes one untrusted field. The operation is idempotent:
// running it over already-sanitized output changes nothing, and ordinary
// benign text round-trips unchanged.
func (s *Sanitizer) ForPrompt(text string) string {
	if text == "" {
		return ""
	}

	// NFKC folds fullwidth and compatibility forms so delimiter and role
	// token matching cannot be dodged with lookalike code points.
	out := norm.NFKC.String(text)

	out = controlRe.ReplaceAllString(out, "")
	out = zeroWidthRe.ReplaceAllString(out, "")
	out = fenceRe.ReplaceAllString(out, "")
	out = tagRe.ReplaceAllString(out, "")
	out = braceRe.ReplaceAllString(out, "")

	// Collapse whitespace padding before phrase matching.
	out = spaceRunRe.ReplaceAllString(out, " ")
	out = blankRunRe.ReplaceAllString(out, "\n\n")

	out = roleTokenRe.ReplaceAllString(out, "$1"+neutralized)
	for _, re := range injectionRes {
		out = re.ReplaceAllString(out, neutralized)
	}

	if s.maxLen > 0 && len(out) > s.maxLen {
		orig := len(out)
		out = Truncate(out, s.maxLen)
		if s.logger != nil {
			s.logger.Debug("Sanitized text truncated",
				zap.Int("original_size", orig),
				zap.Int("truncated_size", len(out)))
		}
	}

	return out
}

// Truncate cuts text to at most maxLen bytes, backing up so the result
// remains valid UTF-8.
func Truncate(text string, maxLen int) string {
	if maxLen <= 0 || len(text) <= maxLen {
		return text
	}
	truncated := text[:maxLen]
	for !utf8.ValidString(truncated) && len(truncated) > 0 {
		truncated = truncated[:len(truncated)-1]
	}
	return truncated
}

// TruncateRunes cuts text to at most maxRunes characters.
func TruncateRunes(text string, maxRunes int) string {
	if maxRunes <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return string(runes[:maxRunes])
}

// Flatten removes line breaks from a short field like a subject or display
// name so it occupies exactly one prompt line.
func Flatten(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
