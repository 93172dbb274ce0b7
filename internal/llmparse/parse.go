// Package llmparse decodes model replies into verdicts. The primary path is
// strict JSON; a regex recovery stage handles truncated or otherwise
// malformed output so a chatty or cut-off model still yields a verdict when
// one is recoverable.
package llmparse

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

// AiVerdict is the model's advisory classification.
type AiVerdict string

const (
	AiVerdictOk      AiVerdict = "ok"
	AiVerdictCaution AiVerdict = "caution"
	AiVerdictReject  AiVerdict = "reject"
)

// AiResult is the outcome of one AI analysis. An empty Verdict with a
// non-empty ParseError means the model replied but no verdict could be
// recovered; callers treat that as inconclusive, not as an error.
type AiResult struct {
	Verdict    AiVerdict `json:"verdict,omitempty"`
	Summary    string    `json:"summary,omitempty"`
	Reasons    []string  `json:"reasons,omitempty"`
	ParseError string    `json:"parseError,omitempty"`
	Debug      string    `json:"debug,omitempty"`
	AnalyzedAt time.Time `json:"analyzedAt"`
	ModelUsed  string    `json:"modelUsed,omitempty"`
}

type rawResponse struct {
	Verdict string   `json:"verdict"`
	Summary string   `json:"summary"`
	Reasons []string `json:"reasons"`
}

var (
	fenceRe = regexp.MustCompile("(?s)^\\s*```[a-zA-Z]*\\s*(.*?)\\s*(```\\s*)?$")

	verdictFieldRe = regexp.MustCompile(`(?i)"verdict"\s*:\s*"([a-zA-Z]+)`)
	summaryFieldRe = regexp.MustCompile(`(?i)"summary"\s*:\s*"((?:[^"\\]|\\.)*)`)
	reasonsFieldRe = regexp.MustCompile(`(?i)"reasons"\s*:\s*\[([^\]]*)`)
	reasonItemRe   = regexp.MustCompile(`"((?:[^"\\]|\\.)*)"`)
)

// NormalizeVerdict maps a free-form verdict string onto the closed verdict
// set, case-insensitively and across known synonyms. The second return is
// false when the string is unrecognized.
func NormalizeVerdict(s string) (AiVerdict, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ok", "safe":
		return AiVerdictOk, true
	case "caution", "warning", "suspicious":
		return AiVerdictCaution, true
	case "reject", "danger", "dangerous", "phishing":
		return AiVerdictReject, true
	default:
		return "", false
	}
}

// Parse decodes a model reply. It strips markdown fences, tries strict JSON,
// then falls back to field-level regex recovery. When neither path yields a
// recognizable verdict the result carries ParseError and no verdict, which
// callers treat as inconclusive.
func Parse(raw string) AiResult {
	text := stripFences(raw)

	var decoded rawResponse
	if err := json.Unmarshal([]byte(extractObject(text)), &decoded); err == nil {
		if v, ok := NormalizeVerdict(decoded.Verdict); ok {
			return AiResult{
				Verdict: v,
				Summary: decoded.Summary,
				Reasons: decoded.Reasons,
			}
		}
	}

	return recoverFields(text)
}

// recoverFields is the fallback decoder for truncated or non-JSON replies.
func recoverFields(text string) AiResult {
	res := AiResult{}

	if m := verdictFieldRe.FindStringSubmatch(text); m != nil {
		if v, ok := NormalizeVerdict(m[1]); ok {
			res.Verdict = v
		}
	}
	if res.Verdict == "" {
		// Last resort: a bare verdict word on its own.
		if v, ok := NormalizeVerdict(strings.TrimSpace(text)); ok {
			res.Verdict = v
		}
	}

	if m := summaryFieldRe.FindStringSubmatch(text); m != nil {
		res.Summary = unescape(strings.TrimSuffix(m[1], `"`))
	}
	if m := reasonsFieldRe.FindStringSubmatch(text); m != nil {
		for _, item := range reasonItemRe.FindAllStringSubmatch(m[1], -1) {
			if r := unescape(item[1]); r != "" {
				res.Reasons = append(res.Reasons, r)
			}
		}
	}

	if res.Verdict == "" {
		res.Summary = ""
		res.Reasons = nil
		res.ParseError = "no verdict recoverable from model output"
	}
	return res
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

// extractObject narrows to the outermost braces so prose around the JSON
// object does not break decoding.
func extractObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

func unescape(s string) string {
	var out string
	if err := json.Unmarshal([]byte(`"`+s+`"`), &out); err != nil {
		return s
	}
	return out
}
