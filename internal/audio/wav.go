package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	outputBitDepth = 16
	outputChannels = 1
	pcmAudioFormat = 1
)

// ErrEmptyAudio indicates a WAV payload with no usable PCM data.
var ErrEmptyAudio = errors.New("audio data is empty")

// DecodeWAV extracts the PCM samples and sample rate from a WAV payload.
// Multi-channel input is mixed down to mono by averaging.
func DecodeWAV(data []byte) ([]int, int, error) {
	if len(data) == 0 {
		return nil, 0, ErrEmptyAudio
	}

	decoder := wav.NewDecoder(bytes.NewReader(data))

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode wav data: %w", err)
	}

	if buf == nil || len(buf.Data) == 0 || buf.Format == nil {
		return nil, 0, ErrEmptyAudio
	}

	samples := buf.Data
	if buf.Format.NumChannels > 1 {
		samples = mixDown(samples, buf.Format.NumChannels)
	}

	return samples, buf.Format.SampleRate, nil
}

// EncodeWAV encodes mono 16-bit PCM samples into a WAV payload.
func EncodeWAV(samples []int, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyAudio
	}

	var buffer seekableBuffer

	encoder := wav.NewEncoder(&buffer, sampleRate, outputBitDepth, outputChannels, pcmAudioFormat)

	pcm := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: outputChannels,
			SampleRate:  sampleRate,
		},
		Data:           samples,
		SourceBitDepth: outputBitDepth,
	}

	err := encoder.Write(pcm)
	if err != nil {
		return nil, fmt.Errorf("failed to write wav data: %w", err)
	}

	err = encoder.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to finalize wav data: %w", err)
	}

	return buffer.data, nil
}

func mixDown(samples []int, channels int) []int {
	frames := len(samples) / channels
	mono := make([]int, frames)

	for i := 0; i < frames; i++ {
		sum := 0
		for ch := 0; ch < channels; ch++ {
			sum += samples[i*channels+ch]
		}

		mono[i] = sum / channels
	}

	return mono
}

// seekableBuffer is an in-memory io.WriteSeeker; the wav encoder seeks back
// to patch the RIFF header sizes on Close.
type seekableBuffer struct {
	data []byte
	pos  int
}

func (b *seekableBuffer) Write(p []byte) (int, error) {
	if need := b.pos + len(p); need > len(b.data) {
		grown := make([]byte, need)
		copy(grown, b.data)
		b.data = grown
	}

	copy(b.data[b.pos:], p)
	b.pos += len(p)

	return len(p), nil
}

func (b *seekableBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int64

	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(b.pos) + offset
	case io.SeekEnd:
		next = int64(len(b.data)) + offset
	default:
		return 0, fmt.Errorf("invalid seek whence: %d", whence)
	}

	if next < 0 {
		return 0, errors.New("negative seek position")
	}

	b.pos = int(next)

	return next, nil
}
