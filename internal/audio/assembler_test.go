package audio_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/book-expert/audiobook-service/internal/audio"
	"github.com/book-expert/audiobook-service/internal/core"
	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSampleRate = 24000

var errMockSynthesis = errors.New("mock synthesis error")

// mockEngine returns a fixed WAV payload, failing for chunks whose text
// contains the word "fail".
type mockEngine struct {
	sampleRate int
	samples    []int
	calls      []string
}

func (m *mockEngine) Synthesize(_ context.Context, text string, _ core.VoiceParams) ([]byte, error) {
	m.calls = append(m.calls, text)

	if strings.Contains(text, "fail") {
		return nil, errMockSynthesis
	}

	return audio.EncodeWAV(m.samples, m.sampleRate)
}

func createTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	return log
}

func voicedChunk(text string, endsParagraph bool) audio.VoicedChunk {
	return audio.VoicedChunk{
		Chunk: core.Chunk{
			Text:          text,
			EndsParagraph: endsParagraph,
		},
		Params: core.VoiceParams{
			VoiceID:      "v1",
			SampleKey:    "voices/v1.wav",
			Emotion:      core.EmotionNeutral,
			Temperature:  0,
			Exaggeration: 0,
			CFG:          0,
			Seed:         0,
		},
	}
}

func TestAssemble_StitchesChunksWithSilence(t *testing.T) {
	t.Parallel()

	engine := &mockEngine{sampleRate: testSampleRate, samples: make([]int, testSampleRate), calls: nil}
	assembler := audio.NewChapterAssembler(
		engine,
		audio.NewFixedSilence(500*time.Millisecond),
		testSampleRate,
		createTestLogger(t),
	)

	data, duration, err := assembler.Assemble(context.Background(), []audio.VoicedChunk{
		voicedChunk("First chunk.", false),
		voicedChunk("Second chunk.", true),
	})

	require.NoError(t, err)
	require.NotEmpty(t, data)

	// Two one-second chunks plus half a second of silence between them.
	assert.InEpsilon(t, 2.5, duration, 0.01)
	assert.Len(t, engine.calls, 2)

	samples, rate, err := audio.DecodeWAV(data)
	require.NoError(t, err)
	assert.Equal(t, testSampleRate, rate)
	assert.Len(t, samples, testSampleRate*2+testSampleRate/2)
}

func TestAssemble_NoSilenceAfterFinalChunk(t *testing.T) {
	t.Parallel()

	engine := &mockEngine{sampleRate: testSampleRate, samples: make([]int, testSampleRate), calls: nil}
	assembler := audio.NewChapterAssembler(
		engine,
		audio.NewFixedSilence(time.Second),
		testSampleRate,
		createTestLogger(t),
	)

	_, duration, err := assembler.Assemble(context.Background(), []audio.VoicedChunk{
		voicedChunk("Only chunk.", true),
	})

	require.NoError(t, err)
	assert.InEpsilon(t, 1.0, duration, 0.01)
}

func TestAssemble_SkipsFailedChunks(t *testing.T) {
	t.Parallel()

	engine := &mockEngine{sampleRate: testSampleRate, samples: make([]int, testSampleRate), calls: nil}
	assembler := audio.NewChapterAssembler(
		engine,
		audio.NewAdaptiveSilence(),
		testSampleRate,
		createTestLogger(t),
	)

	data, duration, err := assembler.Assemble(context.Background(), []audio.VoicedChunk{
		voicedChunk("Good start.", false),
		voicedChunk("This one will fail.", false),
		voicedChunk("Good finish.", true),
	})

	require.NoError(t, err)
	require.NotEmpty(t, data)
	assert.Positive(t, duration)
	assert.Len(t, engine.calls, 3)
}

func TestAssemble_AllChunksFail(t *testing.T) {
	t.Parallel()

	engine := &mockEngine{sampleRate: testSampleRate, samples: make([]int, testSampleRate), calls: nil}
	assembler := audio.NewChapterAssembler(
		engine,
		audio.NewAdaptiveSilence(),
		testSampleRate,
		createTestLogger(t),
	)

	data, duration, err := assembler.Assemble(context.Background(), []audio.VoicedChunk{
		voicedChunk("fail one", false),
		voicedChunk("fail two", true),
	})

	require.ErrorIs(t, err, audio.ErrNoChapterAudio)
	assert.Nil(t, data)
	assert.Zero(t, duration)
}

func TestAssemble_NoChunks(t *testing.T) {
	t.Parallel()

	engine := &mockEngine{sampleRate: testSampleRate, samples: nil, calls: nil}
	assembler := audio.NewChapterAssembler(
		engine,
		audio.NewAdaptiveSilence(),
		testSampleRate,
		createTestLogger(t),
	)

	_, _, err := assembler.Assemble(context.Background(), nil)

	require.ErrorIs(t, err, audio.ErrNoChapterAudio)
}

func TestAssemble_ResamplesEngineOutput(t *testing.T) {
	t.Parallel()

	// Engine speaks at 48k; the assembler output is fixed at 24k.
	engine := &mockEngine{sampleRate: 48000, samples: make([]int, 48000), calls: nil}
	assembler := audio.NewChapterAssembler(
		engine,
		audio.NewAdaptiveSilence(),
		testSampleRate,
		createTestLogger(t),
	)

	data, duration, err := assembler.Assemble(context.Background(), []audio.VoicedChunk{
		voicedChunk("One second of speech.", true),
	})

	require.NoError(t, err)
	require.NotEmpty(t, data)
	assert.InEpsilon(t, 1.0, duration, 0.01)

	_, rate, err := audio.DecodeWAV(data)
	require.NoError(t, err)
	assert.Equal(t, testSampleRate, rate)
}
