// Package synthesis_test tests the HTTP adapter to the voice synthesis
// service.
package synthesis_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/book-expert/audiobook-service/internal/core"
	"github.com/book-expert/audiobook-service/internal/synthesis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Text           string  `json:"text"`
	SpeakerRefPath string  `json:"speaker_ref_path"`
	Emotion        string  `json:"emotion"`
	Language       string  `json:"language"`
	Temperature    float64 `json:"temperature"`
	Exaggeration   float64 `json:"exaggeration"`
	CFG            float64 `json:"cfg"`
	Seed           int     `json:"seed"`
}

func newSpeechServer(t *testing.T, capture *recordedRequest) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/generate/speech", r.URL.Path)

		err := json.NewDecoder(r.Body).Decode(capture)
		require.NoError(t, err)

		w.Header().Set("Content-Type", "audio/wav")
		w.WriteHeader(http.StatusOK)

		_, err = w.Write([]byte("RIFF-audio-bytes"))
		require.NoError(t, err)
	}))
	t.Cleanup(server.Close)

	return server
}

func TestSynthesize_Success(t *testing.T) {
	t.Parallel()

	var captured recordedRequest

	server := newSpeechServer(t, &captured)
	engine := synthesis.NewHTTPEngine(server.URL, 5*time.Second)

	data, err := engine.Synthesize(context.Background(), "Hello there.", core.VoiceParams{
		VoiceID:      "v1",
		SampleKey:    "voices/v1.wav",
		Emotion:      core.EmotionHappy,
		Temperature:  0.9,
		Exaggeration: 0.5,
		CFG:          0.2,
		Seed:         7,
	})
	require.NoError(t, err)

	assert.Equal(t, []byte("RIFF-audio-bytes"), data)
	assert.Equal(t, "Hello there.", captured.Text)
	assert.Equal(t, "voices/v1.wav", captured.SpeakerRefPath)
	assert.Equal(t, "happy", captured.Emotion)
	assert.Equal(t, "en", captured.Language)
	assert.InEpsilon(t, 0.9, captured.Temperature, 0.0001)
	assert.InEpsilon(t, 0.5, captured.Exaggeration, 0.0001)
	assert.InEpsilon(t, 0.2, captured.CFG, 0.0001)
	assert.Equal(t, 7, captured.Seed)
}

func TestSynthesize_ZeroParamsGetDefaults(t *testing.T) {
	t.Parallel()

	var captured recordedRequest

	server := newSpeechServer(t, &captured)
	engine := synthesis.NewHTTPEngine(server.URL, 5*time.Second)

	_, err := engine.Synthesize(context.Background(), "Hello there.", core.VoiceParams{
		VoiceID:      "",
		SampleKey:    "",
		Emotion:      "",
		Temperature:  0,
		Exaggeration: 0,
		CFG:          0,
		Seed:         0,
	})
	require.NoError(t, err)

	assert.InEpsilon(t, 0.7, captured.Temperature, 0.0001)
	assert.InEpsilon(t, 0.65, captured.Exaggeration, 0.0001)
	assert.InEpsilon(t, 0.1, captured.CFG, 0.0001)
	assert.Equal(t, 989443, captured.Seed)
}

func TestSynthesize_EmptyText(t *testing.T) {
	t.Parallel()

	engine := synthesis.NewHTTPEngine("http://127.0.0.1:1", time.Second)

	_, err := engine.Synthesize(context.Background(), "", core.VoiceParams{
		VoiceID:      "",
		SampleKey:    "",
		Emotion:      "",
		Temperature:  0,
		Exaggeration: 0,
		CFG:          0,
		Seed:         0,
	})

	require.ErrorIs(t, err, synthesis.ErrTextEmpty)
}

func TestSynthesize_ServiceError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)

		_, _ = w.Write([]byte(`{"detail": "model is loading", "error_code": "MODEL_LOADING"}`))
	}))
	t.Cleanup(server.Close)

	engine := synthesis.NewHTTPEngine(server.URL, 5*time.Second)

	_, err := engine.Synthesize(context.Background(), "Hello.", core.VoiceParams{
		VoiceID:      "",
		SampleKey:    "",
		Emotion:      "",
		Temperature:  0,
		Exaggeration: 0,
		CFG:          0,
		Seed:         0,
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "model is loading")
	assert.Contains(t, err.Error(), "MODEL_LOADING")
}

func TestSynthesize_WrongContentType(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)

		_, _ = w.Write([]byte("not audio"))
	}))
	t.Cleanup(server.Close)

	engine := synthesis.NewHTTPEngine(server.URL, 5*time.Second)

	_, err := engine.Synthesize(context.Background(), "Hello.", core.VoiceParams{
		VoiceID:      "",
		SampleKey:    "",
		Emotion:      "",
		Temperature:  0,
		Exaggeration: 0,
		CFG:          0,
		Seed:         0,
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected content type")
}

func TestSynthesize_EmptyAudioBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	engine := synthesis.NewHTTPEngine(server.URL, 5*time.Second)

	_, err := engine.Synthesize(context.Background(), "Hello.", core.VoiceParams{
		VoiceID:      "",
		SampleKey:    "",
		Emotion:      "",
		Temperature:  0,
		Exaggeration: 0,
		CFG:          0,
		Seed:         0,
	})

	require.ErrorIs(t, err, synthesis.ErrEmptyAudioBody)
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	engine := synthesis.NewHTTPEngine(server.URL, 5*time.Second)

	require.NoError(t, engine.HealthCheck(context.Background()))
}

func TestHealthCheck_ServiceDown(t *testing.T) {
	t.Parallel()

	engine := synthesis.NewHTTPEngine("http://127.0.0.1:1", time.Second)

	require.Error(t, engine.HealthCheck(context.Background()))
}
