// Package voiceflow contains the document shapes returned by the transcript
// API. Fields are optional upstream, so most of these are omitempty and the
// pipeline treats absence as "unknown" rather than an error.
package voiceflow

import (
	"encoding/json"
	"time"
)

// TranscriptSummary is one row from the transcript listing endpoint. The
// summary is the source of truth for declared properties; the full body
// (the raw log) has to be fetched separately per id.
type TranscriptSummary struct {
	ID         string                 `json:"_id,omitempty"`
	SessionID  string                 `json:"sessionID"`
	UserID     string                 `json:"userID,omitempty"`
	ProjectID  string                 `json:"projectID,omitempty"`
	Browser    string                 `json:"browser,omitempty"`
	Device     string                 `json:"device,omitempty"`
	OS         string                 `json:"os,omitempty"`
	CreatedAt  string                 `json:"createdAt,omitempty"`
	EndedAt    string                 `json:"endedAt,omitempty"`
	UpdatedAt  string                 `json:"updatedAt,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	ReportTags []string               `json:"reportTags,omitempty"`
}

// ExternalID is the stable identity for a transcript: the platform's
// transcript id when present, otherwise the session id.
func (s TranscriptSummary) ExternalID() string {
	if s.ID != "" {
		return s.ID
	}
	return s.SessionID
}

// LogEntry is one raw interaction-log entry from a transcript body. Payload
// shapes vary wildly by entry type, so the payload is kept raw and probed
// leniently where needed.
type LogEntry struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	StartTime string          `json:"startTime,omitempty"`
}

// Time parses the entry timestamp, trying the formats the platform has been
// observed to emit. Returns the zero time when absent or unparseable.
func (e LogEntry) Time() time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000Z0700"} {
		if t, err := time.Parse(layout, e.StartTime); err == nil {
			return t
		}
	}
	return time.Time{}
}
