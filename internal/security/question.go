package security

import (
	"fmt"
	"strings"
	"unicode"
)

// QuestionResult contains the outcome of question validation.
type QuestionResult struct {
	Valid  bool   // True if the question is accepted
	Reason string // Human-readable rejection reason (empty if valid)
}

// QuestionValidator rejects empty, oversized, and suspicious questions before
// they reach retrieval or generation. This provides a first line of defense
// against script injection through the question field.
//
// Note: No filter is perfect. The denylist catches common markup injection
// patterns but sophisticated attacks may bypass detection. Defense in depth
// (output encoding at render time, prompt hardening) is recommended.
//
// Known limitation: Homoglyph attacks are NOT detected. Attackers can use
// visually similar Unicode characters (e.g., Cyrillic 'а' U+0430 for Latin
// 'a') to bypass substring matching. Full homoglyph normalization requires
// Unicode confusables mapping which adds complexity.
// See: https://unicode.org/reports/tr39/#Confusable_Detection
type QuestionValidator struct {
	maxLen   int
	denylist []string
}

// DefaultMaxQuestionLength bounds question size when no limit is configured.
const DefaultMaxQuestionLength = 2000

// denylist holds lowercase substrings that reject a question outright.
// Matching is case-insensitive on the normalized input.
var defaultDenylist = []string{
	"<script",
	"</script",
	"<iframe",
	"<object",
	"<embed",
	"javascript:",
	"vbscript:",
	"data:text/html",
	"onerror=",
	"onload=",
	"onclick=",
	"onmouseover=",
}

// NewQuestionValidator creates a QuestionValidator with the default denylist.
// maxLen bounds the accepted question length in runes; values below 1 fall
// back to DefaultMaxQuestionLength.
func NewQuestionValidator(maxLen int) *QuestionValidator {
	if maxLen < 1 {
		maxLen = DefaultMaxQuestionLength
	}
	return &QuestionValidator{
		maxLen:   maxLen,
		denylist: defaultDenylist,
	}
}

// Validate checks a question and returns whether it is accepted.
// The checks run in order: emptiness, length, denylist scan.
func (v *QuestionValidator) Validate(question string) QuestionResult {
	if strings.TrimSpace(question) == "" {
		return QuestionResult{Reason: "question cannot be empty"}
	}

	if len([]rune(question)) > v.maxLen {
		return QuestionResult{
			Reason: fmt.Sprintf("question exceeds the maximum length of %d characters", v.maxLen),
		}
	}

	normalized := normalizeQuestion(question)
	for _, pattern := range v.denylist {
		if strings.Contains(normalized, pattern) {
			return QuestionResult{Reason: "question contains disallowed content"}
		}
	}

	return QuestionResult{Valid: true}
}

// IsSafe is a convenience method that returns true if the question is accepted.
func (v *QuestionValidator) IsSafe(question string) bool {
	return v.Validate(question).Valid
}

// normalizeQuestion prepares input for denylist matching.
//   - Lowercases for case-insensitive matching
//   - Removes zero-width and format characters that could evade detection
//   - Collapses whitespace runs to single spaces
func normalizeQuestion(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.Is(unicode.Cf, r) || unicode.Is(unicode.Mn, r) {
			continue
		}
		if unicode.IsSpace(r) {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}

	return strings.Join(strings.Fields(b.String()), " ")
}
