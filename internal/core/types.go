// Package core defines the domain model and collaborator interfaces for the
// audiobook generation service.
package core

// JobStatus is the persisted lifecycle state of a generation job.
type JobStatus string

// Job lifecycle states. Transitions are Queued -> Processing -> Completed or
// Failed; a job observed in any state other than Queued is never reprocessed.
const (
	StatusQueued     JobStatus = "Queued"
	StatusProcessing JobStatus = "Processing"
	StatusCompleted  JobStatus = "Completed"
	StatusFailed     JobStatus = "Failed"
)

// CommandType distinguishes the kinds of inline chapter commands.
type CommandType string

const (
	// CommandSpeakerChange switches the narration voice over a character range.
	CommandSpeakerChange CommandType = "SpeakerChange"
	// CommandEmotionChange switches the speaking style over a character range.
	CommandEmotionChange CommandType = "EmotionChange"
)

// Emotion is the closed enumeration of speaking styles an EmotionChange
// command may select.
type Emotion string

const (
	EmotionNeutral Emotion = "neutral"
	EmotionHappy   Emotion = "happy"
	EmotionSad     Emotion = "sad"
	EmotionAngry   Emotion = "angry"
	EmotionFearful Emotion = "fearful"
	EmotionExcited Emotion = "excited"
)

// ValidEmotion reports whether e is a member of the closed emotion set.
func ValidEmotion(e Emotion) bool {
	switch e {
	case EmotionNeutral, EmotionHappy, EmotionSad, EmotionAngry,
		EmotionFearful, EmotionExcited:
		return true
	default:
		return false
	}
}

// ContentPosition is a half-open character range [Start, End) into a
// chapter's raw text. End >= Start always holds for validated input.
type ContentPosition struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// ChapterCommand is an immutable author-supplied inline command anchored to
// a character range of one chapter.
type ChapterCommand struct {
	ID       string          `json:"id"`
	Type     CommandType     `json:"type"`
	Position ContentPosition `json:"content_position"`
	VoiceID  string          `json:"voice_id,omitempty"`
	Emotion  Emotion         `json:"emotion,omitempty"`
}

// Chapter is one unit of text submitted for audiobook generation.
type Chapter struct {
	ID       string         `json:"chapter_id"`
	Title    string         `json:"chapter_title"`
	Content  string         `json:"chapter_content"`
	Metadata map[string]any `json:"meta_data,omitempty"`
}

// SynthesisParams are job-level engine parameters. Zero values are replaced
// with the service defaults before synthesis.
type SynthesisParams struct {
	Temperature  float64 `json:"temperature,omitempty"`
	Exaggeration float64 `json:"exaggeration,omitempty"`
	CFG          float64 `json:"cfg,omitempty"`
	Seed         int     `json:"seed,omitempty"`
}

// JobResult is the structured outcome recorded on a finished job.
type JobResult struct {
	Message           string  `json:"message,omitempty"`
	ProcessedChapters int     `json:"processed_chapters"`
	FailedChapters    int     `json:"failed_chapters"`
	TotalChapters     int     `json:"total_chapters"`
	Error             string  `json:"error,omitempty"`
	RequiredCredits   float64 `json:"required_credits,omitempty"`
	AvailableCredits  float64 `json:"available_credits,omitempty"`
}

// GenerationJob is the persisted audiobook generation job. It is created by
// the enqueuing collaborator with StatusQueued and mutated only by the job
// consumer.
type GenerationJob struct {
	ID              string                      `json:"id"`
	AccountID       string                      `json:"account_id"`
	BookID          string                      `json:"book_id"`
	Status          JobStatus                   `json:"status"`
	Chapters        []Chapter                   `json:"chapters"`
	Commands        map[string][]ChapterCommand `json:"commands,omitempty"`
	EstimatedTokens int                         `json:"estimated_tokens"`
	EstimatedCost   float64                     `json:"estimated_cost"`
	Result          *JobResult                  `json:"result,omitempty"`
}

// Segment is a contiguous slice of a chapter's text with a single resolved
// voice and emotion. Segments are derived, never persisted; concatenating
// them in order reproduces the chapter text exactly.
type Segment struct {
	Content string
	VoiceID string
	Emotion Emotion
}

// Chunk is a synthesis-sized slice of a segment's text.
type Chunk struct {
	Text          string
	EndsParagraph bool
}

// ProcessedChunk is the persisted artifact record for one synthesized
// chapter. Ordering by Index is the sole playback-order guarantee.
type ProcessedChunk struct {
	JobID           string
	ChapterID       string
	Index           int
	StorageKey      string
	DurationSeconds float64
	Format          string
	Metadata        map[string]any
}

// Voice is a narration voice an account may select through SpeakerChange
// commands or as the job default.
type Voice struct {
	ID        string
	AccountID string
	Name      string
	SampleKey string
	Deleted   bool
}

// VoiceParams carries the fully resolved per-chunk synthesis parameters.
type VoiceParams struct {
	VoiceID      string
	SampleKey    string
	Emotion      Emotion
	Temperature  float64
	Exaggeration float64
	CFG          float64
	Seed         int
}

// Estimate is the token and credit cost computed for a job before any
// synthesis work starts.
type Estimate struct {
	TotalTokens int
	TotalCost   float64
}

// AudioSettings is the per-account silence configuration. An absent record
// means the adaptive defaults.
type AudioSettings struct {
	SilenceStrategy string         `json:"silence_strategy"`
	SilenceDetail   map[string]int `json:"silence_data,omitempty"`
}
