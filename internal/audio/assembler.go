package audio

import (
	"context"
	"errors"
	"fmt"

	"github.com/book-expert/audiobook-service/internal/core"
	"github.com/book-expert/audiobook-service/internal/text"
	"github.com/book-expert/logger"
)

// ErrNoChapterAudio indicates that no chunk of a chapter produced usable
// audio, which fails synthesis for that chapter only.
var ErrNoChapterAudio = errors.New("no usable audio generated for chapter")

// VoicedChunk pairs a chunk with its fully resolved synthesis parameters.
type VoicedChunk struct {
	Chunk  core.Chunk
	Params core.VoiceParams
}

// ChapterAssembler drives synthesis, silence insertion and concatenation for
// one chapter, producing a single continuous WAV artifact.
type ChapterAssembler struct {
	engine     core.SynthesisEngine
	silence    SilenceStrategy
	sampleRate int
	log        *logger.Logger
}

// NewChapterAssembler creates an assembler writing output at sampleRate.
func NewChapterAssembler(
	engine core.SynthesisEngine,
	silence SilenceStrategy,
	sampleRate int,
	log *logger.Logger,
) *ChapterAssembler {
	return &ChapterAssembler{
		engine:     engine,
		silence:    silence,
		sampleRate: sampleRate,
		log:        log,
	}
}

// Assemble synthesizes every chunk in order and stitches the results into
// one WAV buffer, returning the buffer and its duration in seconds.
//
// A chunk whose synthesis fails or returns empty audio is skipped and logged;
// the chapter proceeds with the remaining chunks. Silence is appended after
// every chunk except the chapter's last. When no chunk yields audio the
// chapter fails with ErrNoChapterAudio.
func (a *ChapterAssembler) Assemble(ctx context.Context, chunks []VoicedChunk) ([]byte, float64, error) {
	if len(chunks) == 0 {
		return nil, 0, ErrNoChapterAudio
	}

	var samples []int

	usable := 0

	for i, voiced := range chunks {
		pcm, ok := a.synthesizeChunk(ctx, i, len(chunks), voiced)
		if !ok {
			continue
		}

		samples = append(samples, pcm...)
		usable++

		if i < len(chunks)-1 {
			pause := a.silence.Duration(voiced.Chunk.Text, voiced.Chunk.EndsParagraph)
			samples = append(samples, make([]int, silenceFrames(pause, a.sampleRate))...)
		}
	}

	if usable == 0 {
		return nil, 0, ErrNoChapterAudio
	}

	duration := float64(len(samples)) / float64(a.sampleRate)
	if duration <= 0 {
		return nil, 0, ErrNoChapterAudio
	}

	data, err := EncodeWAV(samples, a.sampleRate)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to encode chapter audio: %w", err)
	}

	return data, duration, nil
}

// synthesizeChunk runs one chunk through the engine and decodes the result
// to PCM at the output rate. Failures are degraded to a skip, not an error.
func (a *ChapterAssembler) synthesizeChunk(
	ctx context.Context,
	index, total int,
	voiced VoicedChunk,
) ([]int, bool) {
	normalized := text.NormalizeForSynthesis(voiced.Chunk.Text)
	if normalized == "" {
		return nil, false
	}

	raw, err := a.engine.Synthesize(ctx, normalized, voiced.Params)
	if err != nil {
		a.log.Warn("Skipping chunk %d/%d: synthesis failed: %v", index+1, total, err)

		return nil, false
	}

	pcm, rate, err := DecodeWAV(raw)
	if err != nil {
		a.log.Warn("Skipping chunk %d/%d: invalid audio: %v", index+1, total, err)

		return nil, false
	}

	if rate != a.sampleRate {
		pcm = Resample(pcm, rate, a.sampleRate)
	}

	return pcm, true
}
