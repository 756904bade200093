// Package store_test tests the SQLite persistence layer.
package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/book-expert/audiobook-service/internal/core"
	"github.com/book-expert/audiobook-service/internal/store"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	s, err := store.Open(context.Background(), store.Config{
		Path:             filepath.Join(t.TempDir(), "test.db"),
		DefaultTokenRate: 0.001,
	}, log)
	require.NoError(t, err)

	t.Cleanup(func() {
		closeErr := s.Close()
		if closeErr != nil {
			t.Errorf("failed to close store: %v", closeErr)
		}
	})

	return s
}

func newTestJob(accountID string, cost float64) *core.GenerationJob {
	return &core.GenerationJob{
		ID:        uuid.NewString(),
		AccountID: accountID,
		BookID:    uuid.NewString(),
		Status:    core.StatusQueued,
		Chapters: []core.Chapter{
			{ID: "ch-1", Title: "Chapter One", Content: "Some chapter text.", Metadata: nil},
		},
		Commands: map[string][]core.ChapterCommand{
			"ch-1": {
				{
					ID:   "cmd-1",
					Type: core.CommandSpeakerChange,
					Position: core.ContentPosition{
						Start: 0,
						End:   4,
					},
					VoiceID: "v1",
					Emotion: "",
				},
			},
		},
		EstimatedTokens: 100,
		EstimatedCost:   cost,
		Result:          nil,
	}
}

func TestStore_CreateAndLoadJob(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	job := newTestJob("acct-1", 1.5)
	require.NoError(t, s.CreateJob(ctx, job))

	loaded, err := s.Job(ctx, job.ID)
	require.NoError(t, err)

	assert.Equal(t, job.ID, loaded.ID)
	assert.Equal(t, "acct-1", loaded.AccountID)
	assert.Equal(t, core.StatusQueued, loaded.Status)
	require.Len(t, loaded.Chapters, 1)
	assert.Equal(t, "Some chapter text.", loaded.Chapters[0].Content)
	require.Len(t, loaded.Commands["ch-1"], 1)
	assert.Equal(t, "v1", loaded.Commands["ch-1"][0].VoiceID)
	assert.Equal(t, 100, loaded.EstimatedTokens)
	assert.InEpsilon(t, 1.5, loaded.EstimatedCost, 0.0001)
	assert.Nil(t, loaded.Result)
}

func TestStore_JobNotFound(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)

	_, err := s.Job(context.Background(), "missing")

	require.ErrorIs(t, err, core.ErrJobNotFound)
}

func TestStore_ClaimJobOnlyOnce(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	job := newTestJob("acct-1", 1)
	require.NoError(t, s.CreateJob(ctx, job))

	claimed, err := s.ClaimJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, claimed)

	loaded, err := s.Job(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusProcessing, loaded.Status)

	// A redelivered job is already Processing and must not be claimed again.
	claimed, err = s.ClaimJob(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestStore_ClaimMissingJob(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)

	claimed, err := s.ClaimJob(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestStore_FinishJob(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	job := newTestJob("acct-1", 1)
	require.NoError(t, s.CreateJob(ctx, job))

	result := core.JobResult{
		Message:           "audiobook generation completed successfully",
		ProcessedChapters: 1,
		FailedChapters:    0,
		TotalChapters:     1,
		Error:             "",
		RequiredCredits:   0,
		AvailableCredits:  0,
	}
	require.NoError(t, s.FinishJob(ctx, job.ID, core.StatusCompleted, result))

	loaded, err := s.Job(ctx, job.ID)
	require.NoError(t, err)

	assert.Equal(t, core.StatusCompleted, loaded.Status)
	require.NotNil(t, loaded.Result)
	assert.Equal(t, 1, loaded.Result.ProcessedChapters)
}

func TestStore_RecordChunkIdempotent(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	chunk := core.ProcessedChunk{
		JobID:           "job-1",
		ChapterID:       "ch-1",
		Index:           0,
		StorageKey:      "accounts/a/books/b/chapters/ch-1/job-1.wav",
		DurationSeconds: 12.5,
		Format:          "audio/wav",
		Metadata:        map[string]any{"chapter_title": "One"},
	}

	require.NoError(t, s.RecordChunk(ctx, chunk))
	require.NoError(t, s.RecordChunk(ctx, chunk))

	chunks, err := s.Chunks(ctx, "job-1")
	require.NoError(t, err)

	require.Len(t, chunks, 1)
	assert.Equal(t, chunk.StorageKey, chunks[0].StorageKey)
	assert.InEpsilon(t, 12.5, chunks[0].DurationSeconds, 0.0001)
	assert.Equal(t, "One", chunks[0].Metadata["chapter_title"])
}

func TestStore_ChunksOrderedByIndex(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	for _, idx := range []int{2, 0, 1} {
		require.NoError(t, s.RecordChunk(ctx, core.ProcessedChunk{
			JobID:           "job-1",
			ChapterID:       "ch-1",
			Index:           idx,
			StorageKey:      "key",
			DurationSeconds: 1,
			Format:          "audio/wav",
			Metadata:        nil,
		}))
	}

	chunks, err := s.Chunks(ctx, "job-1")
	require.NoError(t, err)

	require.Len(t, chunks, 3)
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index)
	}
}

func TestStore_ActiveCommitments(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	queued := newTestJob("acct-1", 2)
	require.NoError(t, s.CreateJob(ctx, queued))

	processing := newTestJob("acct-1", 3)
	require.NoError(t, s.CreateJob(ctx, processing))

	claimed, err := s.ClaimJob(ctx, processing.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	finished := newTestJob("acct-1", 7)
	require.NoError(t, s.CreateJob(ctx, finished))
	require.NoError(t, s.FinishJob(ctx, finished.ID, core.StatusCompleted, core.JobResult{
		Message:           "",
		ProcessedChapters: 1,
		FailedChapters:    0,
		TotalChapters:     1,
		Error:             "",
		RequiredCredits:   0,
		AvailableCredits:  0,
	}))

	otherAccount := newTestJob("acct-2", 11)
	require.NoError(t, s.CreateJob(ctx, otherAccount))

	// Excluding the processing job leaves only the queued one.
	total, err := s.ActiveCommitments(ctx, "acct-1", processing.ID)
	require.NoError(t, err)
	assert.InEpsilon(t, 2.0, total, 0.0001)

	// Excluding nothing relevant counts both active jobs.
	total, err = s.ActiveCommitments(ctx, "acct-1", "unrelated")
	require.NoError(t, err)
	assert.InEpsilon(t, 5.0, total, 0.0001)
}

func TestStore_BalanceAndDeduct(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	balance, err := s.Balance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Zero(t, balance)

	require.NoError(t, s.AddCredit(ctx, "acct-1", 10, "top up"))

	balance, err = s.Balance(ctx, "acct-1")
	require.NoError(t, err)
	assert.InEpsilon(t, 10.0, balance, 0.0001)

	require.NoError(t, s.Deduct(ctx, "acct-1", 4, "job completed"))

	balance, err = s.Balance(ctx, "acct-1")
	require.NoError(t, err)
	assert.InEpsilon(t, 6.0, balance, 0.0001)
}

func TestStore_DeductInsufficient(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddCredit(ctx, "acct-1", 3, "top up"))

	err := s.Deduct(ctx, "acct-1", 5, "too much")
	require.ErrorIs(t, err, store.ErrInsufficientCredits)

	balance, err := s.Balance(ctx, "acct-1")
	require.NoError(t, err)
	assert.InEpsilon(t, 3.0, balance, 0.0001)
}

func TestStore_VoiceLookup(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateVoice(ctx, core.Voice{
		ID:        "v1",
		AccountID: "acct-1",
		Name:      "Narrator",
		SampleKey: "voices/v1.wav",
		Deleted:   false,
	}))
	require.NoError(t, s.CreateVoice(ctx, core.Voice{
		ID:        "v2",
		AccountID: "acct-1",
		Name:      "Removed",
		SampleKey: "voices/v2.wav",
		Deleted:   true,
	}))

	voice, err := s.Voice(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "Narrator", voice.Name)
	assert.Equal(t, "voices/v1.wav", voice.SampleKey)

	_, err = s.Voice(ctx, "v2")
	require.ErrorIs(t, err, core.ErrVoiceNotFound)

	_, err = s.Voice(ctx, "missing")
	require.ErrorIs(t, err, core.ErrVoiceNotFound)
}

func TestStore_PerTokenRate(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	rate, err := s.PerTokenRate(ctx, "acct-1")
	require.NoError(t, err)
	assert.InEpsilon(t, 0.001, rate, 0.0001)

	require.NoError(t, s.SetRate(ctx, "acct-1", 0.05))

	rate, err = s.PerTokenRate(ctx, "acct-1")
	require.NoError(t, err)
	assert.InEpsilon(t, 0.05, rate, 0.0001)
}

func TestStore_AudioSettings(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	settings, err := s.AudioSettings(ctx, "acct-1")
	require.NoError(t, err)
	assert.Nil(t, settings)

	require.NoError(t, s.SetAudioSettings(ctx, "acct-1", core.AudioSettings{
		SilenceStrategy: "fixed_silencing",
		SilenceDetail:   map[string]int{"value": 400},
	}))

	settings, err = s.AudioSettings(ctx, "acct-1")
	require.NoError(t, err)

	require.NotNil(t, settings)
	assert.Equal(t, "fixed_silencing", settings.SilenceStrategy)
	assert.Equal(t, 400, settings.SilenceDetail["value"])
}
