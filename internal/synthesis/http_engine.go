// Package synthesis provides the HTTP adapter to the standalone neural
// voice-synthesis service, implementing core.SynthesisEngine.
package synthesis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/book-expert/audiobook-service/internal/core"
)

// API endpoints.
const (
	apiGenerateSpeech = "/v1/generate/speech"
	apiHealth         = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
)

// Engine parameter defaults, applied when the job supplies zero values.
const (
	defaultTemperature  = 0.7
	defaultExaggeration = 0.65
	defaultCFG          = 0.1
	defaultSeed         = 989443
	defaultLanguage     = "en"
)

// Static errors.
var (
	ErrTextEmpty      = errors.New("text cannot be empty")
	ErrEmptyAudioBody = errors.New("received empty audio data")
)

// HTTPEngine is a client for the synthesis HTTP service. The service may be
// remote and high-latency; every request carries the configured timeout.
type HTTPEngine struct {
	httpClient *http.Client
	baseURL    string
}

// NewHTTPEngine creates an engine for the service at baseURL.
func NewHTTPEngine(baseURL string, timeout time.Duration) *HTTPEngine {
	return &HTTPEngine{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// request is the JSON payload of a speech generation call.
type request struct {
	Text           string  `json:"text"`
	SpeakerRefPath string  `json:"speaker_ref_path,omitempty"`
	Emotion        string  `json:"emotion,omitempty"`
	Language       string  `json:"language"`
	Temperature    float64 `json:"temperature"`
	Exaggeration   float64 `json:"exaggeration"`
	CFG            float64 `json:"cfg"`
	Seed           int     `json:"seed"`
}

// errorResponse is the structured error body the service returns on failure.
type errorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// Synthesize sends one chunk to the service and returns the WAV payload.
// Non-OK statuses, wrong content types and empty bodies all surface as
// errors so the assembler can degrade the chunk instead of crashing.
func (e *HTTPEngine) Synthesize(ctx context.Context, text string, params core.VoiceParams) ([]byte, error) {
	if text == "" {
		return nil, ErrTextEmpty
	}

	body, err := json.Marshal(buildRequest(text, params))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal synthesis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		e.baseURL+apiGenerateSpeech,
		bytes.NewBuffer(body),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesis request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeWAV)

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to reach synthesis service at %s: %w", e.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, e.parseErrorResponse(resp)
	}

	if contentType := resp.Header.Get(headerContentType); contentType != contentTypeWAV {
		return nil, fmt.Errorf("unexpected content type: expected %s, got %s", contentTypeWAV, contentType)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyAudioBody
	}

	return audioData, nil
}

// HealthCheck verifies the service is reachable before processing a job, so
// an unavailable backend fails fast instead of burning the chapter loop.
func (e *HTTPEngine) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", e.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

func buildRequest(text string, params core.VoiceParams) request {
	req := request{
		Text:           text,
		SpeakerRefPath: params.SampleKey,
		Emotion:        string(params.Emotion),
		Language:       defaultLanguage,
		Temperature:    params.Temperature,
		Exaggeration:   params.Exaggeration,
		CFG:            params.CFG,
		Seed:           params.Seed,
	}

	if req.Temperature == 0 {
		req.Temperature = defaultTemperature
	}

	if req.Exaggeration == 0 {
		req.Exaggeration = defaultExaggeration
	}

	if req.CFG == 0 {
		req.CFG = defaultCFG
	}

	if req.Seed == 0 {
		req.Seed = defaultSeed
	}

	return req
}

// parseErrorResponse decodes a structured error body, falling back to the
// raw body so diagnostics are never lost.
func (e *HTTPEngine) parseErrorResponse(resp *http.Response) error {
	var errorResp errorResponse

	err := json.NewDecoder(resp.Body).Decode(&errorResp)
	if err == nil {
		return fmt.Errorf("synthesis service error (%s): %s (code: %s)",
			resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	body, _ := io.ReadAll(resp.Body)

	return fmt.Errorf("synthesis service returned non-OK status: %s, body: %s", resp.Status, string(body))
}
