package text

import (
	"strings"

	"github.com/book-expert/audiobook-service/internal/core"
)

// DefaultMaxChunkTokens is the token budget applied when none is configured.
// Synthesis quality degrades on long inputs, so the budget is deliberately
// small.
const DefaultMaxChunkTokens = 30

// Quotation marks tracked by the quote-balance gate.
const quotationMarks = `"“”`

// Chunker splits segment text into synthesis-bounded chunks. A chunk is only
// flushed on a quote-balanced boundary, so no chunk opens a quotation it does
// not close, even when that means exceeding the token budget.
type Chunker struct {
	tokenizer core.Tokenizer
	maxTokens int
}

// NewChunker creates a chunker with the given token budget per chunk. A
// non-positive budget falls back to DefaultMaxChunkTokens.
func NewChunker(tokenizer core.Tokenizer, maxTokens int) *Chunker {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxChunkTokens
	}

	return &Chunker{
		tokenizer: tokenizer,
		maxTokens: maxTokens,
	}
}

// Chunk splits text into ordered chunks. Paragraph boundaries always flush
// the buffer with EndsParagraph set; within a paragraph the buffer flushes
// once the token budget is reached and the quote balance is even.
func (c *Chunker) Chunk(text string) []core.Chunk {
	var chunks []core.Chunk

	var buffer []string

	tokenCount := 0
	quoteBalance := 0

	flush := func(endsParagraph bool) {
		if len(buffer) == 0 {
			return
		}

		chunks = append(chunks, core.Chunk{
			Text:          strings.Join(buffer, " "),
			EndsParagraph: endsParagraph,
		})

		buffer = buffer[:0]
		tokenCount = 0
		quoteBalance = 0
	}

	for _, paragraph := range SplitParagraphs(text) {
		sentences := SplitSentences(paragraph)

		for i, sentence := range sentences {
			quoteBalance = (quoteBalance + countQuotationMarks(sentence)) % 2

			buffer = append(buffer, sentence)
			tokenCount += c.tokenizer.CountTokens(sentence)

			if tokenCount >= c.maxTokens && quoteBalance == 0 {
				flush(i == len(sentences)-1)
			}
		}

		flush(true)
	}

	flush(true)

	return chunks
}

func countQuotationMarks(s string) int {
	count := 0

	for _, r := range s {
		if strings.ContainsRune(quotationMarks, r) {
			count++
		}
	}

	return count
}
