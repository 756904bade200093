package text

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Punctuation normalized before synthesis. Smart punctuation confuses some
// synthesis backends.
const (
	emDash       = "—"
	enDash       = "–"
	figureDash   = "‒"
	ellipsis     = "..."
	ellipsisChar = "…"
)

var (
	whitespacePattern = regexp.MustCompile(`\s+`)

	punctuationReplacer = strings.NewReplacer(
		emDash, " - ",
		enDash, "-",
		figureDash, "-",
		ellipsisChar, ellipsis,
		"“", `"`, "”", `"`,
		"‘", "'", "’", "'",
	)
)

// NormalizeForSynthesis prepares one chunk of text for the synthesis engine:
// smart punctuation is replaced with ASCII equivalents, whitespace collapses
// to single spaces, and a terminal period is appended when the chunk ends
// without sentence punctuation.
func NormalizeForSynthesis(text string) string {
	normalized := punctuationReplacer.Replace(text)
	normalized = whitespacePattern.ReplaceAllString(normalized, " ")
	normalized = strings.TrimSpace(normalized)

	if normalized == "" {
		return ""
	}

	last, _ := utf8.DecodeLastRuneInString(normalized)
	if unicode.IsPunct(last) {
		return normalized
	}

	return normalized + "."
}
