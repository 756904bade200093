// Package config provides the configuration structure for the
// audiobook-service.
package config

import (
	"errors"
	"fmt"

	"github.com/book-expert/audiobook-service/internal/audio"
	"github.com/book-expert/audiobook-service/internal/core"
	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// Static errors.
var (
	// ErrMissingValue indicates a required configuration key was left empty.
	ErrMissingValue = errors.New("required configuration value is missing")
	// ErrJobTimeoutTooShort indicates a job budget smaller than a single
	// synthesis call, which no job could ever finish inside.
	ErrJobTimeoutTooShort = errors.New("job timeout is shorter than the synthesis call timeout")
)

// Defaults applied when the corresponding key is absent from the TOML file.
const (
	defaultSampleRate        = 24000
	defaultMaxChunkTokens    = 30
	defaultMaxRetries        = 2
	defaultWorkers           = 1
	defaultTimeoutSeconds    = 300
	defaultJobTimeoutSeconds = 3600
	defaultTokenRate         = 0.0001
	defaultSilenceStrategy   = audio.StrategyAdaptive
	defaultJobQueuedSubject  = "audiobook.jobs.queued"
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                    string `toml:"url"`
	JobStreamName          string `toml:"job_stream_name"`
	JobConsumerName        string `toml:"job_consumer_name"`
	JobQueuedSubject       string `toml:"job_queued_subject"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
}

// StorageConfig holds the configuration for the relational store.
type StorageConfig struct {
	DatabasePath     string  `toml:"database_path"`
	DefaultTokenRate float64 `toml:"default_token_rate"`
}

// GenerationConfig holds the configuration for audiobook generation.
// TimeoutSeconds bounds one synthesis HTTP call; JobTimeoutSeconds bounds a
// whole job and must be sized to real book lengths, since a job makes one
// synthesis call per chunk.
type GenerationConfig struct {
	SynthesisServiceURL    string `toml:"synthesis_service_url"`
	SampleRate             int    `toml:"sample_rate"`
	MaxChunkTokens         int    `toml:"max_chunk_tokens"`
	MaxRetries             int    `toml:"max_retries"`
	Workers                int    `toml:"workers"`
	TimeoutSeconds         int    `toml:"timeout_seconds"`
	JobTimeoutSeconds      int    `toml:"job_timeout_seconds"`
	DefaultSilenceStrategy string `toml:"default_silence_strategy"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS       NATSConfig       `toml:"nats"`
	Storage    StorageConfig    `toml:"storage"`
	Generation GenerationConfig `toml:"generation"`
	Paths      PathsConfig      `toml:"paths"`
}

// Load loads and validates the configuration for the audiobook-service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.applyDefaults()

	err = cfg.validate()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.NATS.JobQueuedSubject == "" {
		c.NATS.JobQueuedSubject = defaultJobQueuedSubject
	}

	if c.Storage.DefaultTokenRate <= 0 {
		c.Storage.DefaultTokenRate = defaultTokenRate
	}

	if c.Generation.SampleRate <= 0 {
		c.Generation.SampleRate = defaultSampleRate
	}

	if c.Generation.MaxChunkTokens <= 0 {
		c.Generation.MaxChunkTokens = defaultMaxChunkTokens
	}

	if c.Generation.MaxRetries <= 0 {
		c.Generation.MaxRetries = defaultMaxRetries
	}

	if c.Generation.Workers <= 0 {
		c.Generation.Workers = defaultWorkers
	}

	if c.Generation.TimeoutSeconds <= 0 {
		c.Generation.TimeoutSeconds = defaultTimeoutSeconds
	}

	if c.Generation.JobTimeoutSeconds <= 0 {
		c.Generation.JobTimeoutSeconds = defaultJobTimeoutSeconds
	}

	if c.Generation.DefaultSilenceStrategy == "" {
		c.Generation.DefaultSilenceStrategy = defaultSilenceStrategy
	}
}

// validate rejects configurations that would only fail later at runtime.
func (c *Config) validate() error {
	if c.NATS.URL == "" {
		return fmt.Errorf("nats.url: %w", ErrMissingValue)
	}

	if c.NATS.JobStreamName == "" {
		return fmt.Errorf("nats.job_stream_name: %w", ErrMissingValue)
	}

	if c.NATS.JobConsumerName == "" {
		return fmt.Errorf("nats.job_consumer_name: %w", ErrMissingValue)
	}

	if c.NATS.AudioObjectStoreBucket == "" {
		return fmt.Errorf("nats.audio_object_store_bucket: %w", ErrMissingValue)
	}

	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("storage.database_path: %w", ErrMissingValue)
	}

	if c.Generation.SynthesisServiceURL == "" {
		return fmt.Errorf("generation.synthesis_service_url: %w", ErrMissingValue)
	}

	if c.Generation.JobTimeoutSeconds < c.Generation.TimeoutSeconds {
		return fmt.Errorf("generation.job_timeout_seconds: %w", ErrJobTimeoutTooShort)
	}

	// Fail at startup rather than degrading every job at runtime.
	_, err := audio.NewSilenceStrategy(&core.AudioSettings{
		SilenceStrategy: c.Generation.DefaultSilenceStrategy,
		SilenceDetail:   nil,
	})
	if err != nil {
		return fmt.Errorf("generation.default_silence_strategy: %w", err)
	}

	return nil
}
