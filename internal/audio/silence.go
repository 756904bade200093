// Package audio implements the audio side of the pipeline: silence insertion
// strategies, WAV encode/decode, PCM stitching and the chapter assembler.
package audio

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/book-expert/audiobook-service/internal/core"
)

// Silence strategy names accepted in per-account configuration. The set is
// closed; unknown names are rejected when the strategy is built, not when it
// is used.
const (
	StrategyFixed    = "fixed_silencing"
	StrategyAdaptive = "adaptive_silencing"
)

// Adaptive pause defaults in milliseconds.
const (
	defaultParagraphPauseMS = 1200
	defaultSentencePauseMS  = 700
	defaultCommaPauseMS     = 250
	defaultMinimalPauseMS   = 150
	defaultFixedPauseMS     = 200
)

// Keys recognized in the per-account silence detail map.
const (
	detailKeyParagraph = "paragraph"
	detailKeyPeriod    = "period"
	detailKeyComma     = "comma"
	detailKeyDefault   = "default"
	detailKeyValue     = "value"
)

// ErrUnknownSilenceStrategy indicates a strategy name outside the closed set.
var ErrUnknownSilenceStrategy = errors.New("unknown silence strategy")

// SilenceStrategy decides how much silence to insert after a chunk.
type SilenceStrategy interface {
	Duration(chunkText string, endsParagraph bool) time.Duration
}

// FixedSilence inserts one configured duration regardless of content.
type FixedSilence struct {
	pause time.Duration
}

// NewFixedSilence creates a fixed strategy.
func NewFixedSilence(pause time.Duration) *FixedSilence {
	return &FixedSilence{pause: pause}
}

// Duration returns the fixed pause.
func (s *FixedSilence) Duration(_ string, _ bool) time.Duration {
	return s.pause
}

// AdaptiveSilence picks a pause from the chunk's trailing context: paragraph
// ends pause longest, then sentence-ending punctuation, then trailing commas,
// then a minimal pause.
type AdaptiveSilence struct {
	paragraph time.Duration
	sentence  time.Duration
	comma     time.Duration
	minimal   time.Duration
}

// NewAdaptiveSilence creates an adaptive strategy with the default pauses.
func NewAdaptiveSilence() *AdaptiveSilence {
	return &AdaptiveSilence{
		paragraph: defaultParagraphPauseMS * time.Millisecond,
		sentence:  defaultSentencePauseMS * time.Millisecond,
		comma:     defaultCommaPauseMS * time.Millisecond,
		minimal:   defaultMinimalPauseMS * time.Millisecond,
	}
}

// Duration returns the context-aware pause for the chunk.
func (s *AdaptiveSilence) Duration(chunkText string, endsParagraph bool) time.Duration {
	if endsParagraph {
		return s.paragraph
	}

	trimmed := strings.TrimSpace(chunkText)
	if trimmed == "" {
		return s.minimal
	}

	last, _ := utf8.DecodeLastRuneInString(trimmed)
	switch last {
	case '.', '!', '?':
		return s.sentence
	case ',':
		return s.comma
	default:
		return s.minimal
	}
}

// NewSilenceStrategy builds the strategy selected by the account's audio
// settings. A nil settings record selects the adaptive defaults. Unknown
// strategy names fail with ErrUnknownSilenceStrategy.
func NewSilenceStrategy(settings *core.AudioSettings) (SilenceStrategy, error) {
	if settings == nil {
		return NewAdaptiveSilence(), nil
	}

	switch settings.SilenceStrategy {
	case "", StrategyAdaptive:
		return adaptiveFromDetail(settings.SilenceDetail), nil
	case StrategyFixed:
		pause := detailMS(settings.SilenceDetail, detailKeyValue, defaultFixedPauseMS)

		return NewFixedSilence(pause), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSilenceStrategy, settings.SilenceStrategy)
	}
}

func adaptiveFromDetail(detail map[string]int) *AdaptiveSilence {
	return &AdaptiveSilence{
		paragraph: detailMS(detail, detailKeyParagraph, defaultParagraphPauseMS),
		sentence:  detailMS(detail, detailKeyPeriod, defaultSentencePauseMS),
		comma:     detailMS(detail, detailKeyComma, defaultCommaPauseMS),
		minimal:   detailMS(detail, detailKeyDefault, defaultMinimalPauseMS),
	}
}

func detailMS(detail map[string]int, key string, fallbackMS int) time.Duration {
	if ms, ok := detail[key]; ok && ms >= 0 {
		return time.Duration(ms) * time.Millisecond
	}

	return time.Duration(fallbackMS) * time.Millisecond
}
