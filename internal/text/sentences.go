package text

import (
	"regexp"
	"strings"
)

// Sentence boundaries: terminal punctuation, optionally followed by a closing
// quote or bracket, followed by whitespace. Abbreviations are handled by the
// normalizer upstream; over-splitting is tolerated by the chunker.
var sentenceBoundaryPattern = regexp.MustCompile(`[.!?…]+["”'’)\]]*\s+`)

// Paragraphs are separated by blank lines.
var paragraphBreakPattern = regexp.MustCompile(`\n\s*\n`)

// SplitParagraphs splits text on blank-line boundaries, dropping empty
// paragraphs.
func SplitParagraphs(text string) []string {
	parts := paragraphBreakPattern.Split(strings.TrimSpace(text), -1)

	paragraphs := make([]string, 0, len(parts))

	for _, part := range parts {
		if strings.TrimSpace(part) != "" {
			paragraphs = append(paragraphs, part)
		}
	}

	return paragraphs
}

// SplitSentences splits one paragraph into sentences. The final fragment is
// returned even without terminal punctuation.
func SplitSentences(paragraph string) []string {
	trimmed := strings.TrimSpace(paragraph)
	if trimmed == "" {
		return nil
	}

	var sentences []string

	start := 0

	for _, loc := range sentenceBoundaryPattern.FindAllStringIndex(trimmed, -1) {
		sentence := strings.TrimSpace(trimmed[start:loc[1]])
		if sentence != "" {
			sentences = append(sentences, sentence)
		}

		start = loc[1]
	}

	if rest := strings.TrimSpace(trimmed[start:]); rest != "" {
		sentences = append(sentences, rest)
	}

	return sentences
}
