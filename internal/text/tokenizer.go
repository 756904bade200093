package text

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// WordTokenizer approximates a synthesis tokenizer by counting whitespace
// separated words, with trailing punctuation counted as its own token. The
// same tokenizer backs both cost estimation and chunking so the two agree.
type WordTokenizer struct{}

// NewWordTokenizer creates the default tokenizer.
func NewWordTokenizer() *WordTokenizer {
	return &WordTokenizer{}
}

// CountTokens returns the approximate token count of text.
func (t *WordTokenizer) CountTokens(text string) int {
	count := 0

	for _, field := range strings.Fields(text) {
		count++

		last, size := utf8.DecodeLastRuneInString(field)
		if size < len(field) && unicode.IsPunct(last) {
			count++
		}
	}

	return count
}
