package models

import (
	"time"

	"github.com/jackc/pgtype"
	"github.com/lib/pq"
)

// Transcript is one raw conversation record from the upstream platform. The
// full raw payload is retained so sessions and events can always be rebuilt
// from source.
type Transcript struct {
	Model

	// ExternalID is the platform's transcript id when it gave us one,
	// otherwise the session id. This is the upsert key.
	ExternalID string `json:"external_id" gorm:"uniqueIndex"`
	SessionID  string `json:"session_id" gorm:"index"`
	UserID     string `json:"user_id"`

	Browser string `json:"browser"`
	Device  string `json:"device"`
	OS      string `json:"os"`

	StartedAt *time.Time `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at"`

	RawPayload pgtype.JSONB `json:"raw_payload" gorm:"type:jsonb"`

	// ContentHash is a sha256 over the raw payload, stored to enable
	// skip-if-unchanged optimizations later. Writes currently always go
	// through so updated_at reflects the last sync pass that saw this
	// transcript.
	ContentHash string `json:"content_hash"`

	Turns []DialogueTurn `json:"-" gorm:"constraint:OnDelete:CASCADE;"`
}

// DialogueTurn is one user, assistant, or system utterance extracted from a
// transcript's log. turn_index values are dense and monotonic within a
// transcript; re-ingestion updates the turn at an index rather than
// duplicating it.
type DialogueTurn struct {
	Model

	TranscriptID uint   `json:"transcript_id" gorm:"index;index:idx_dialogue_turns_transcript_turn,unique"`
	TurnIndex    int    `json:"turn_index" gorm:"index:idx_dialogue_turns_transcript_turn,unique"`
	Role         string `json:"role"`
	Text         string `json:"text"`

	Timestamp *time.Time `json:"timestamp"`

	// RawEntry is the original log entry, kept for audit.
	RawEntry pgtype.JSONB `json:"raw_entry" gorm:"type:jsonb"`
}

// Session is the reconstructed, analytics-ready summary of one transcript.
// Fields merge additively across sync passes: a pass never overwrites a known
// value with an absent one.
type Session struct {
	Model

	SessionID    string `json:"session_id" gorm:"uniqueIndex"`
	UserID       string `json:"user_id"`
	TranscriptID uint   `json:"transcript_id" gorm:"index"`

	UserCategory  string `json:"user_category"`
	LocationType  string `json:"location_type"`
	LocationValue string `json:"location_value"`

	Rating   *int    `json:"rating"`
	Feedback *string `json:"feedback"`

	StartedAt *time.Time `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at"`

	// ValidationWarnings holds business-rule violations found during
	// reconstruction. Non-fatal; the row is stored regardless.
	ValidationWarnings pq.StringArray `json:"validation_warnings" gorm:"type:text[]"`
}

// SessionEvent is an inferred, timestamped, immutable fact about a session's
// progression. Append-only; DedupKey makes re-inserting the same fact across
// passes a no-op.
type SessionEvent struct {
	Model

	EventID   string `json:"event_id"`
	SessionID string `json:"session_id" gorm:"index"`
	UserID    string `json:"user_id"`

	EventType      string    `json:"event_type" gorm:"index"`
	EventTimestamp time.Time `json:"event_timestamp" gorm:"index"`

	// TimestampEstimated is true when no matching trace carried a time and
	// the wall clock was used instead.
	TimestampEstimated bool `json:"timestamp_estimated"`

	UserCategory  string `json:"user_category"`
	LocationType  string `json:"location_type"`
	LocationValue string `json:"location_value"`
	Rating        *int   `json:"rating"`
	Feedback      string `json:"feedback"`

	Metadata pgtype.JSONB `json:"metadata" gorm:"type:jsonb"`

	// DedupKey is a sha256 over (session id, event type, timestamp, value).
	DedupKey string `json:"-" gorm:"uniqueIndex"`
}
