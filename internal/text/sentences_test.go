package text_test

import (
	"testing"

	"github.com/book-expert/audiobook-service/internal/text"
	"github.com/stretchr/testify/assert"
)

func TestSplitParagraphs(t *testing.T) {
	t.Parallel()

	paragraphs := text.SplitParagraphs("First one.\n\nSecond one.\n\n   \n\nThird one.")

	assert.Equal(t, []string{"First one.", "Second one.", "Third one."}, paragraphs)
}

func TestSplitParagraphs_SingleNewlineIsNotABreak(t *testing.T) {
	t.Parallel()

	paragraphs := text.SplitParagraphs("First line.\nSecond line.")

	assert.Equal(t, []string{"First line.\nSecond line."}, paragraphs)
}

func TestSplitParagraphs_Empty(t *testing.T) {
	t.Parallel()

	assert.Empty(t, text.SplitParagraphs(""))
	assert.Empty(t, text.SplitParagraphs("  \n\n \n "))
}

func TestSplitSentences(t *testing.T) {
	t.Parallel()

	sentences := text.SplitSentences("First here. Second there! Third where?")

	assert.Equal(t, []string{"First here.", "Second there!", "Third where?"}, sentences)
}

func TestSplitSentences_TrailingFragmentKept(t *testing.T) {
	t.Parallel()

	sentences := text.SplitSentences("Complete sentence. and a dangling tail")

	assert.Equal(t, []string{"Complete sentence.", "and a dangling tail"}, sentences)
}

func TestSplitSentences_ClosingQuoteStaysWithSentence(t *testing.T) {
	t.Parallel()

	sentences := text.SplitSentences(`He said "stop." She ran.`)

	assert.Equal(t, []string{`He said "stop."`, "She ran."}, sentences)
}

func TestSplitSentences_Empty(t *testing.T) {
	t.Parallel()

	assert.Empty(t, text.SplitSentences("   "))
}
