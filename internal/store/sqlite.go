// Package store provides SQLite-backed persistence for generation jobs,
// processed chunk records, voices, credits, rates and account audio
// settings.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/audiobook-service/internal/core"
	"github.com/book-expert/logger"
	_ "modernc.org/sqlite"
)

const dirPermissions = 0o750

// Transaction kinds recorded in the credit ledger.
const (
	transactionAdd    = "add"
	transactionDeduct = "deduct"
)

// ErrInsufficientCredits indicates a deduction larger than the balance.
var ErrInsufficientCredits = errors.New("insufficient credits")

// Config holds store settings.
type Config struct {
	// Path is the SQLite database file location.
	Path string
	// DefaultTokenRate prices a token for accounts without a stored rate.
	DefaultTokenRate float64
}

// Store is the SQLite persistence layer. It implements core.JobStore,
// core.CreditLedger, core.VoiceDirectory, core.RateProvider and
// core.AudioSettingsProvider.
type Store struct {
	db    *sql.DB
	cfg   Config
	log   *logger.Logger
	clock func() time.Time
}

// Open initializes the store, creating the database file and schema as
// needed.
func Open(ctx context.Context, cfg Config, log *logger.Logger) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		err := os.MkdirAll(dir, dirPermissions)
		if err != nil {
			return nil, fmt.Errorf("failed to create data directory '%s': %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database '%s': %w", cfg.Path, err)
	}

	err = db.PingContext(ctx)
	if err != nil {
		closeErr := db.Close()
		if closeErr != nil {
			log.Warn("Failed to close database after ping failure: %v", closeErr)
		}

		return nil, fmt.Errorf("failed to ping sqlite database '%s': %w", cfg.Path, err)
	}

	s := &Store{
		db:    db,
		cfg:   cfg,
		log:   log,
		clock: time.Now,
	}

	err = s.initSchema(ctx)
	if err != nil {
		closeErr := db.Close()
		if closeErr != nil {
			log.Warn("Failed to close database after schema failure: %v", closeErr)
		}

		return nil, err
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    book_id TEXT NOT NULL,
    status TEXT NOT NULL,
    chapters TEXT NOT NULL,
    commands TEXT,
    estimated_tokens INTEGER NOT NULL DEFAULT 0,
    estimated_cost REAL NOT NULL DEFAULT 0,
    result TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_account_status ON jobs(account_id, status);
CREATE TABLE IF NOT EXISTS processed_chunks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id TEXT NOT NULL,
    chapter_id TEXT NOT NULL,
    idx INTEGER NOT NULL,
    storage_key TEXT NOT NULL,
    duration_seconds REAL NOT NULL,
    format TEXT NOT NULL,
    metadata TEXT,
    created_at TIMESTAMP NOT NULL,
    UNIQUE(job_id, chapter_id, idx)
);
CREATE TABLE IF NOT EXISTS voices (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    name TEXT NOT NULL,
    sample_key TEXT,
    deleted INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS credits (
    account_id TEXT PRIMARY KEY,
    balance REAL NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS credit_transactions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    amount REAL NOT NULL,
    description TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS rates (
    account_id TEXT PRIMARY KEY,
    per_token_rate REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS account_audio_settings (
    account_id TEXT PRIMARY KEY,
    silence_strategy TEXT NOT NULL,
    silence_detail TEXT
);
`

	_, err := s.db.ExecContext(ctx, ddl)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("failed to close sqlite database: %w", err)
	}

	return nil
}

// CreateJob persists a new job. Jobs arrive from the enqueuing collaborator
// already estimated and in StatusQueued.
func (s *Store) CreateJob(ctx context.Context, job *core.GenerationJob) error {
	chapters, err := json.Marshal(job.Chapters)
	if err != nil {
		return fmt.Errorf("failed to marshal chapters for job '%s': %w", job.ID, err)
	}

	commands, err := json.Marshal(job.Commands)
	if err != nil {
		return fmt.Errorf("failed to marshal commands for job '%s': %w", job.ID, err)
	}

	status := job.Status
	if status == "" {
		status = core.StatusQueued
	}

	now := s.clock().UTC()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs(id, account_id, book_id, status, chapters, commands,
		                  estimated_tokens, estimated_cost, created_at, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.AccountID, job.BookID, string(status), string(chapters), string(commands),
		job.EstimatedTokens, job.EstimatedCost, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert job '%s': %w", job.ID, err)
	}

	return nil
}

// Job loads one job by id.
func (s *Store) Job(ctx context.Context, id string) (*core.GenerationJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, account_id, book_id, status, chapters, commands,
		        estimated_tokens, estimated_cost, result
		 FROM jobs WHERE id = ?`, id)

	var (
		job                core.GenerationJob
		status             string
		chapters, commands string
		result             sql.NullString
	)

	err := row.Scan(&job.ID, &job.AccountID, &job.BookID, &status, &chapters, &commands,
		&job.EstimatedTokens, &job.EstimatedCost, &result)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: '%s'", core.ErrJobNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load job '%s': %w", id, err)
	}

	job.Status = core.JobStatus(status)

	err = json.Unmarshal([]byte(chapters), &job.Chapters)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal chapters for job '%s': %w", id, err)
	}

	if commands != "" && commands != "null" {
		err = json.Unmarshal([]byte(commands), &job.Commands)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal commands for job '%s': %w", id, err)
		}
	}

	if result.Valid && result.String != "" {
		job.Result = &core.JobResult{}

		err = json.Unmarshal([]byte(result.String), job.Result)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal result for job '%s': %w", id, err)
		}
	}

	return &job, nil
}

// ClaimJob moves a job from Queued to Processing. The WHERE clause is the
// idempotency guard: redelivered jobs already claimed return false.
func (s *Store) ClaimJob(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(core.StatusProcessing), s.clock().UTC(), id, string(core.StatusQueued))
	if err != nil {
		return false, fmt.Errorf("failed to claim job '%s': %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result for job '%s': %w", id, err)
	}

	return affected > 0, nil
}

// FinishJob records a terminal status and result.
func (s *Store) FinishJob(ctx context.Context, id string, status core.JobStatus, result core.JobResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result for job '%s': %w", id, err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, result = ?, updated_at = ? WHERE id = ?`,
		string(status), string(data), s.clock().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to finish job '%s': %w", id, err)
	}

	return nil
}

// RecordChunk inserts one processed chunk record. A conflicting
// (job, chapter, index) insert is ignored so redelivery cannot create
// duplicates.
func (s *Store) RecordChunk(ctx context.Context, chunk core.ProcessedChunk) error {
	metadata, err := json.Marshal(chunk.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal chunk metadata for job '%s': %w", chunk.JobID, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO processed_chunks(job_id, chapter_id, idx, storage_key,
		                              duration_seconds, format, metadata, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(job_id, chapter_id, idx) DO NOTHING`,
		chunk.JobID, chunk.ChapterID, chunk.Index, chunk.StorageKey,
		chunk.DurationSeconds, chunk.Format, string(metadata), s.clock().UTC())
	if err != nil {
		return fmt.Errorf("failed to record chunk for job '%s' chapter '%s': %w",
			chunk.JobID, chunk.ChapterID, err)
	}

	return nil
}

// Chunks returns the processed chunk records of a job in playback order.
func (s *Store) Chunks(ctx context.Context, jobID string) ([]core.ProcessedChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, chapter_id, idx, storage_key, duration_seconds, format, metadata
		 FROM processed_chunks WHERE job_id = ? ORDER BY idx`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks for job '%s': %w", jobID, err)
	}
	defer rows.Close()

	var chunks []core.ProcessedChunk

	for rows.Next() {
		var (
			chunk    core.ProcessedChunk
			metadata sql.NullString
		)

		err = rows.Scan(&chunk.JobID, &chunk.ChapterID, &chunk.Index, &chunk.StorageKey,
			&chunk.DurationSeconds, &chunk.Format, &metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk for job '%s': %w", jobID, err)
		}

		if metadata.Valid && metadata.String != "" && metadata.String != "null" {
			err = json.Unmarshal([]byte(metadata.String), &chunk.Metadata)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal chunk metadata for job '%s': %w", jobID, err)
			}
		}

		chunks = append(chunks, chunk)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate chunks for job '%s': %w", jobID, err)
	}

	return chunks, nil
}

// ActiveCommitments sums the estimated cost of the account's Queued and
// Processing jobs other than excludeJobID.
func (s *Store) ActiveCommitments(ctx context.Context, accountID, excludeJobID string) (float64, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(estimated_cost), 0) FROM jobs
		 WHERE account_id = ? AND id != ? AND status IN (?, ?)`,
		accountID, excludeJobID, string(core.StatusQueued), string(core.StatusProcessing))

	var total float64

	err := row.Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum commitments for account '%s': %w", accountID, err)
	}

	return total, nil
}

// Balance returns the account's credit balance; accounts without a ledger
// row have a zero balance.
func (s *Store) Balance(ctx context.Context, accountID string) (float64, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT balance FROM credits WHERE account_id = ?`, accountID)

	var balance float64

	err := row.Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("failed to read balance for account '%s': %w", accountID, err)
	}

	return balance, nil
}

// AddCredit increases an account balance and appends a ledger transaction.
func (s *Store) AddCredit(ctx context.Context, accountID string, amount float64, description string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credits(account_id, balance) VALUES(?, ?)
		 ON CONFLICT(account_id) DO UPDATE SET balance = balance + excluded.balance`,
		accountID, amount)
	if err != nil {
		return fmt.Errorf("failed to add credit for account '%s': %w", accountID, err)
	}

	return s.recordTransaction(ctx, accountID, transactionAdd, amount, description)
}

// Deduct decreases an account balance and appends a ledger transaction. The
// balance may not go negative.
func (s *Store) Deduct(ctx context.Context, accountID string, amount float64, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE credits SET balance = balance - ? WHERE account_id = ? AND balance >= ?`,
		amount, accountID, amount)
	if err != nil {
		return fmt.Errorf("failed to deduct credit for account '%s': %w", accountID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read deduction result for account '%s': %w", accountID, err)
	}

	if affected == 0 {
		return fmt.Errorf("%w: account '%s'", ErrInsufficientCredits, accountID)
	}

	return s.recordTransaction(ctx, accountID, transactionDeduct, amount, reason)
}

func (s *Store) recordTransaction(ctx context.Context, accountID, kind string, amount float64, description string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credit_transactions(account_id, kind, amount, description, created_at)
		 VALUES(?, ?, ?, ?, ?)`,
		accountID, kind, amount, description, s.clock().UTC())
	if err != nil {
		return fmt.Errorf("failed to record %s transaction for account '%s': %w", kind, accountID, err)
	}

	return nil
}

// CreateVoice persists a voice record.
func (s *Store) CreateVoice(ctx context.Context, voice core.Voice) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO voices(id, account_id, name, sample_key, deleted) VALUES(?, ?, ?, ?, ?)`,
		voice.ID, voice.AccountID, voice.Name, voice.SampleKey, boolToInt(voice.Deleted))
	if err != nil {
		return fmt.Errorf("failed to insert voice '%s': %w", voice.ID, err)
	}

	return nil
}

// Voice resolves a voice by id. Soft-deleted voices are not visible.
func (s *Store) Voice(ctx context.Context, id string) (*core.Voice, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, account_id, name, COALESCE(sample_key, '') FROM voices
		 WHERE id = ? AND deleted = 0`, id)

	var voice core.Voice

	err := row.Scan(&voice.ID, &voice.AccountID, &voice.Name, &voice.SampleKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: '%s'", core.ErrVoiceNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load voice '%s': %w", id, err)
	}

	return &voice, nil
}

// SetRate stores a per-account token rate.
func (s *Store) SetRate(ctx context.Context, accountID string, perTokenRate float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rates(account_id, per_token_rate) VALUES(?, ?)
		 ON CONFLICT(account_id) DO UPDATE SET per_token_rate = excluded.per_token_rate`,
		accountID, perTokenRate)
	if err != nil {
		return fmt.Errorf("failed to set rate for account '%s': %w", accountID, err)
	}

	return nil
}

// PerTokenRate returns the account's token rate, falling back to the
// configured default.
func (s *Store) PerTokenRate(ctx context.Context, accountID string) (float64, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT per_token_rate FROM rates WHERE account_id = ?`, accountID)

	var rate float64

	err := row.Scan(&rate)
	if errors.Is(err, sql.ErrNoRows) {
		return s.cfg.DefaultTokenRate, nil
	}

	if err != nil {
		return 0, fmt.Errorf("failed to read rate for account '%s': %w", accountID, err)
	}

	return rate, nil
}

// SetAudioSettings stores an account's silence configuration.
func (s *Store) SetAudioSettings(ctx context.Context, accountID string, settings core.AudioSettings) error {
	detail, err := json.Marshal(settings.SilenceDetail)
	if err != nil {
		return fmt.Errorf("failed to marshal audio settings for account '%s': %w", accountID, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO account_audio_settings(account_id, silence_strategy, silence_detail)
		 VALUES(?, ?, ?)
		 ON CONFLICT(account_id) DO UPDATE SET
		     silence_strategy = excluded.silence_strategy,
		     silence_detail = excluded.silence_detail`,
		accountID, settings.SilenceStrategy, string(detail))
	if err != nil {
		return fmt.Errorf("failed to set audio settings for account '%s': %w", accountID, err)
	}

	return nil
}

// AudioSettings returns the account's silence configuration, or nil when the
// account has none stored.
func (s *Store) AudioSettings(ctx context.Context, accountID string) (*core.AudioSettings, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT silence_strategy, COALESCE(silence_detail, '') FROM account_audio_settings
		 WHERE account_id = ?`, accountID)

	var (
		settings core.AudioSettings
		detail   string
	)

	err := row.Scan(&settings.SilenceStrategy, &detail)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load audio settings for account '%s': %w", accountID, err)
	}

	if detail != "" && detail != "null" {
		err = json.Unmarshal([]byte(detail), &settings.SilenceDetail)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal audio settings for account '%s': %w", accountID, err)
		}
	}

	return &settings, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
