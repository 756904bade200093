// Package pipeline orchestrates the processing of one queued generation
// job: validation, claiming, affordability, per-chapter synthesis and the
// terminal state transition.
package pipeline

import (
	"github.com/book-expert/audiobook-service/internal/core"
	"github.com/book-expert/events"
)

// JobQueuedMessage is the queue payload referencing a persisted job. Chapter
// and command data are resolved from the store by JobID rather than carried
// in the message, keeping messages small and immune to stale redelivery.
type JobQueuedMessage struct {
	Header    events.EventHeader    `json:"header"`
	JobID     string                `json:"job_id"`
	AccountID string                `json:"account_id"`
	BookID    string                `json:"book_id"`
	VoiceID   string                `json:"voice_id,omitempty"`
	Synthesis *core.SynthesisParams `json:"synthesis,omitempty"`
}
