package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/book-expert/audiobook-service/internal/audio"
	"github.com/book-expert/audiobook-service/internal/core"
	"github.com/book-expert/audiobook-service/internal/credits"
	"github.com/book-expert/audiobook-service/internal/objectstore"
	"github.com/book-expert/audiobook-service/internal/text"
	"github.com/book-expert/logger"
)

// Format recorded on processed chunk artifacts.
const artifactFormat = "audio/wav"

// Static errors.
var (
	// ErrBadMessage marks payloads that can never be processed; the
	// consumer dead-letters them without consuming retries.
	ErrBadMessage = errors.New("malformed job message")
	// ErrChapterIncomplete indicates a chapter with no id or content.
	ErrChapterIncomplete = errors.New("chapter missing id or content")
)

// Dependencies wires the collaborators a processor needs. A pool worker owns
// its own Processor, and through it its own synthesis engine instance.
type Dependencies struct {
	Jobs       core.JobStore
	Ledger     core.CreditLedger
	Voices     core.VoiceDirectory
	Settings   core.AudioSettingsProvider
	Objects    core.ObjectStore
	Engine     core.SynthesisEngine
	Estimator  *credits.Estimator
	Gate       *credits.Gate
	Chunker    *text.Chunker
	SampleRate int
	Log        *logger.Logger
}

// Processor drives one generation job end to end.
type Processor struct {
	deps Dependencies
}

// New creates a job processor.
func New(deps Dependencies) *Processor {
	return &Processor{deps: deps}
}

// Process handles one queue delivery.
//
// Validation precedes all expensive work. A payload missing required fields
// fails with ErrBadMessage. A job that does not exist, or is not in Queued,
// is a no-op rather than an error so redelivery cannot reprocess a claimed
// job. Errors returned from here are retryable infrastructure failures;
// everything else is absorbed into the job's persisted result.
func (p *Processor) Process(ctx context.Context, payload []byte) error {
	msg, err := parseMessage(payload)
	if err != nil {
		return err
	}

	job, err := p.deps.Jobs.Job(ctx, msg.JobID)
	if errors.Is(err, core.ErrJobNotFound) {
		p.deps.Log.Warn("Job '%s' not found, dropping delivery", msg.JobID)

		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to load job '%s': %w", msg.JobID, err)
	}

	if job.Status != core.StatusQueued {
		p.deps.Log.Warn("Job '%s' is %s, not Queued; dropping delivery", job.ID, job.Status)

		return nil
	}

	claimed, err := p.deps.Jobs.ClaimJob(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("failed to claim job '%s': %w", job.ID, err)
	}

	if !claimed {
		p.deps.Log.Warn("Job '%s' was claimed by another consumer, dropping delivery", job.ID)

		return nil
	}

	return p.runClaimedJob(ctx, msg, job)
}

// runClaimedJob performs the work after the Queued->Processing transition is
// persisted. Input and affordability failures finish the job as Failed and
// consume no retry.
func (p *Processor) runClaimedJob(ctx context.Context, msg *JobQueuedMessage, job *core.GenerationJob) error {
	if len(job.Chapters) == 0 {
		return p.finish(ctx, job.ID, core.StatusFailed, core.JobResult{
			Error:         "job has no chapters",
			TotalChapters: 0,
		})
	}

	estimate, err := p.resolveEstimate(ctx, job)
	if err != nil {
		return err
	}

	decision, err := p.deps.Gate.Check(ctx, job.AccountID, job.ID, estimate)
	if err != nil {
		return fmt.Errorf("affordability check failed for job '%s': %w", job.ID, err)
	}

	if !decision.Affordable {
		p.deps.Log.Warn("Job '%s' unaffordable: required %.4f, available %.4f",
			job.ID, decision.Required, decision.Available)

		return p.finish(ctx, job.ID, core.StatusFailed, core.JobResult{
			Error:            "insufficient credits to start audiobook generation",
			RequiredCredits:  decision.Required,
			AvailableCredits: decision.Available,
			TotalChapters:    len(job.Chapters),
		})
	}

	assembler := audio.NewChapterAssembler(
		p.deps.Engine,
		p.silenceStrategy(ctx, job.AccountID),
		p.deps.SampleRate,
		p.deps.Log,
	)

	defaults := p.defaultVoiceParams(ctx, msg)

	processed, failed := 0, 0

	for index, chapter := range job.Chapters {
		chapterErr := p.processChapter(ctx, job, chapter, index, assembler, defaults)
		if chapterErr != nil {
			failed++

			p.deps.Log.Error("Failed to process chapter '%s' of job '%s': %v",
				chapter.ID, job.ID, chapterErr)

			continue
		}

		processed++
	}

	result := core.JobResult{
		Message:           fmt.Sprintf("audiobook generation completed with %d failed chapters", failed),
		ProcessedChapters: processed,
		FailedChapters:    failed,
		TotalChapters:     len(job.Chapters),
	}
	if failed == 0 {
		result.Message = "audiobook generation completed successfully"
	}

	err = p.finish(ctx, job.ID, core.StatusCompleted, result)
	if err != nil {
		return err
	}

	p.deductCredits(ctx, job, estimate, processed)

	return nil
}

// resolveEstimate prefers the estimate computed at job creation and falls
// back to recomputing it for jobs enqueued without one.
func (p *Processor) resolveEstimate(ctx context.Context, job *core.GenerationJob) (core.Estimate, error) {
	if job.EstimatedCost > 0 || job.EstimatedTokens > 0 {
		return core.Estimate{
			TotalTokens: job.EstimatedTokens,
			TotalCost:   job.EstimatedCost,
		}, nil
	}

	estimate, err := p.deps.Estimator.Estimate(ctx, job.AccountID, job.Chapters)
	if err != nil {
		return core.Estimate{}, fmt.Errorf("failed to estimate job '%s': %w", job.ID, err)
	}

	return estimate, nil
}

// silenceStrategy resolves the account's configured strategy, degrading to
// the adaptive defaults when settings are unreadable or name an unknown
// strategy.
func (p *Processor) silenceStrategy(ctx context.Context, accountID string) audio.SilenceStrategy {
	settings, err := p.deps.Settings.AudioSettings(ctx, accountID)
	if err != nil {
		p.deps.Log.Warn("Failed to load audio settings for account '%s', using defaults: %v", accountID, err)

		return audio.NewAdaptiveSilence()
	}

	strategy, err := audio.NewSilenceStrategy(settings)
	if err != nil {
		p.deps.Log.Warn("Invalid audio settings for account '%s', using defaults: %v", accountID, err)

		return audio.NewAdaptiveSilence()
	}

	return strategy
}

// defaultVoiceParams builds the job-level parameters every chunk starts
// from; segment commands override voice and emotion per chunk.
func (p *Processor) defaultVoiceParams(ctx context.Context, msg *JobQueuedMessage) core.VoiceParams {
	params := core.VoiceParams{
		VoiceID:      "",
		SampleKey:    "",
		Emotion:      "",
		Temperature:  0,
		Exaggeration: 0,
		CFG:          0,
		Seed:         0,
	}

	if msg.Synthesis != nil {
		params.Temperature = msg.Synthesis.Temperature
		params.Exaggeration = msg.Synthesis.Exaggeration
		params.CFG = msg.Synthesis.CFG
		params.Seed = msg.Synthesis.Seed
	}

	if msg.VoiceID != "" {
		voice, err := p.deps.Voices.Voice(ctx, msg.VoiceID)
		if err != nil {
			p.deps.Log.Warn("Failed to resolve default voice '%s': %v", msg.VoiceID, err)
		} else {
			params.VoiceID = voice.ID
			params.SampleKey = voice.SampleKey
		}
	}

	return params
}

// processChapter synthesizes one chapter, uploads the artifact and records
// the processed chunk. Chapter failures stay inside the chapter.
func (p *Processor) processChapter(
	ctx context.Context,
	job *core.GenerationJob,
	chapter core.Chapter,
	index int,
	assembler *audio.ChapterAssembler,
	defaults core.VoiceParams,
) error {
	if chapter.ID == "" || chapter.Content == "" {
		return fmt.Errorf("%w: index %d", ErrChapterIncomplete, index)
	}

	segments := text.SegmentChapter(chapter.Content, job.Commands[chapter.ID])
	voiced := p.voiceChunks(ctx, segments, defaults)

	audioData, duration, err := assembler.Assemble(ctx, voiced)
	if err != nil {
		return fmt.Errorf("failed to assemble chapter '%s': %w", chapter.ID, err)
	}

	key := objectstore.ChapterKey(job.AccountID, job.BookID, chapter.ID, job.ID)

	err = p.deps.Objects.Upload(ctx, key, audioData)
	if err != nil {
		return fmt.Errorf("failed to upload chapter '%s' artifact: %w", chapter.ID, err)
	}

	err = p.deps.Jobs.RecordChunk(ctx, core.ProcessedChunk{
		JobID:           job.ID,
		ChapterID:       chapter.ID,
		Index:           index,
		StorageKey:      key,
		DurationSeconds: duration,
		Format:          artifactFormat,
		Metadata: map[string]any{
			"chapter_title": chapter.Title,
			"meta_data":     chapter.Metadata,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to record chunk for chapter '%s': %w", chapter.ID, err)
	}

	p.deps.Log.Info("Processed chapter '%s' of job '%s': %.2fs of audio at %s",
		chapter.ID, job.ID, duration, key)

	return nil
}

// voiceChunks flattens segments into chunks carrying their resolved voice
// parameters, so silence context spans segment boundaries within a chapter.
func (p *Processor) voiceChunks(
	ctx context.Context,
	segments []core.Segment,
	defaults core.VoiceParams,
) []audio.VoicedChunk {
	var voiced []audio.VoicedChunk

	for _, segment := range segments {
		params := defaults

		if segment.VoiceID != "" {
			voice, err := p.deps.Voices.Voice(ctx, segment.VoiceID)
			if err != nil {
				p.deps.Log.Warn("Failed to resolve voice '%s', keeping default: %v", segment.VoiceID, err)
			} else {
				params.VoiceID = voice.ID
				params.SampleKey = voice.SampleKey
			}
		}

		if segment.Emotion != "" && core.ValidEmotion(segment.Emotion) {
			params.Emotion = segment.Emotion
		}

		for _, chunk := range p.deps.Chunker.Chunk(segment.Content) {
			voiced = append(voiced, audio.VoicedChunk{Chunk: chunk, Params: params})
		}
	}

	return voiced
}

// finish persists a terminal state; failure to persist is an infrastructure
// error subject to the retry policy.
func (p *Processor) finish(ctx context.Context, jobID string, status core.JobStatus, result core.JobResult) error {
	err := p.deps.Jobs.FinishJob(ctx, jobID, status, result)
	if err != nil {
		return fmt.Errorf("failed to record %s state for job '%s': %w", status, jobID, err)
	}

	return nil
}

// deductCredits charges the account after completion. Nothing is charged
// when no chapter produced audio, and a deduction failure is logged rather
// than failing the already-completed job.
func (p *Processor) deductCredits(ctx context.Context, job *core.GenerationJob, estimate core.Estimate, processed int) {
	if processed == 0 || estimate.TotalCost <= 0 {
		return
	}

	reason := fmt.Sprintf("audiobook generation job %s completed", job.ID)

	err := p.deps.Ledger.Deduct(ctx, job.AccountID, estimate.TotalCost, reason)
	if err != nil {
		p.deps.Log.Error("Failed to deduct %.4f credits from account '%s' for job '%s': %v",
			estimate.TotalCost, job.AccountID, job.ID, err)
	}
}

func parseMessage(payload []byte) (*JobQueuedMessage, error) {
	var msg JobQueuedMessage

	err := json.Unmarshal(payload, &msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadMessage, err)
	}

	if msg.JobID == "" || msg.AccountID == "" || msg.BookID == "" {
		return nil, fmt.Errorf("%w: job_id, account_id and book_id are required", ErrBadMessage)
	}

	return &msg, nil
}
