package core

import (
	"context"
	"errors"
)

// Sentinel errors shared across store implementations.
var (
	// ErrJobNotFound indicates the referenced job does not exist.
	ErrJobNotFound = errors.New("job not found")
	// ErrVoiceNotFound indicates the referenced voice does not exist or is deleted.
	ErrVoiceNotFound = errors.New("voice not found")
)

// ObjectStore is the interface to a key-value blob store holding chapter
// audio artifacts.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// SynthesisEngine turns one text chunk plus voice parameters into encoded
// audio. Implementations may be remote and high-latency; they must surface
// empty or invalid results as errors rather than crashing the pipeline.
type SynthesisEngine interface {
	Synthesize(ctx context.Context, text string, params VoiceParams) ([]byte, error)
}

// Tokenizer counts synthesis tokens in text. Estimation and chunking share
// one tokenizer so the numbers reconcile.
type Tokenizer interface {
	CountTokens(text string) int
}

// JobStore is the persistence boundary for generation jobs and their
// artifact records.
type JobStore interface {
	// Job loads a job by id. Returns ErrJobNotFound when absent.
	Job(ctx context.Context, id string) (*GenerationJob, error)
	// ClaimJob atomically moves a job from Queued to Processing. It reports
	// false when the job was not in Queued, which callers treat as
	// "already claimed elsewhere".
	ClaimJob(ctx context.Context, id string) (bool, error)
	// FinishJob records the terminal status and result of a job.
	FinishJob(ctx context.Context, id string, status JobStatus, result JobResult) error
	// RecordChunk persists a processed chunk record exactly once per
	// (job, chapter, index).
	RecordChunk(ctx context.Context, chunk ProcessedChunk) error
	// ActiveCommitments sums the estimated credit cost of the account's
	// jobs currently Queued or Processing, excluding excludeJobID so a job
	// does not count its own reservation against itself.
	ActiveCommitments(ctx context.Context, accountID, excludeJobID string) (float64, error)
}

// CreditLedger is the account balance boundary.
type CreditLedger interface {
	Balance(ctx context.Context, accountID string) (float64, error)
	Deduct(ctx context.Context, accountID string, amount float64, reason string) error
}

// VoiceDirectory resolves voices referenced by jobs and commands.
type VoiceDirectory interface {
	Voice(ctx context.Context, id string) (*Voice, error)
}

// RateProvider resolves the per-token credit rate for an account.
type RateProvider interface {
	PerTokenRate(ctx context.Context, accountID string) (float64, error)
}

// AudioSettingsProvider resolves per-account audio configuration. A nil
// result with nil error means the account has no stored settings.
type AudioSettingsProvider interface {
	AudioSettings(ctx context.Context, accountID string) (*AudioSettings, error)
}
