package transcriptloader

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgtype"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	apitypes "github.com/propwise/chatsync/pkg/apis/voiceflow"
	"github.com/propwise/chatsync/pkg/db/models"
	"github.com/propwise/chatsync/pkg/sessionstate"
)

// IngestionResult reports what one transcript's ingestion wrote.
type IngestionResult struct {
	Turns  int
	Events int
	// Warnings are business-rule violations found by the validator. The
	// rows were stored regardless.
	Warnings []string
}

// rawTranscript is the payload shape persisted on the transcript row: the
// summary is the source of truth for declared properties, the body for the
// raw log.
type rawTranscript struct {
	Summary apitypes.TranscriptSummary `json:"summary"`
	Logs    []apitypes.LogEntry        `json:"logs"`
}

// ingestTranscript runs the full write sequence for one transcript inside a
// single transaction: transcript row, dialogue turns, session row, events.
// Any error rolls the whole transcript back; the batch continues.
func (l *TranscriptLoader) ingestTranscript(item fetchedTranscript) (IngestionResult, error) {
	result := IngestionResult{}

	raw, err := json.Marshal(rawTranscript{Summary: item.summary, Logs: item.logs})
	if err != nil {
		return result, errors.Wrap(err, "error encoding raw transcript payload")
	}
	hash := sha256.Sum256(raw)

	sessionID := item.summary.SessionID
	if sessionID == "" {
		sessionID = item.summary.ID
	}

	state := l.reconstructor.Reconstruct(sessionstate.Input{
		Properties: item.summary.Properties,
		Logs:       item.logs,
		CreatedAt:  item.summary.CreatedAt,
		EndedAt:    item.summary.EndedAt,
		UpdatedAt:  item.summary.UpdatedAt,
	})
	for _, violation := range sessionstate.Validate(state) {
		result.Warnings = append(result.Warnings, fmt.Sprintf("session %s: %s", sessionID, violation))
	}

	err = l.dbc.DB.Transaction(func(tx *gorm.DB) error {
		transcript, err := l.upsertTranscript(tx, item, state, raw, hex.EncodeToString(hash[:]))
		if err != nil {
			return err
		}

		turns, err := l.upsertTurns(tx, transcript.ID, item.logs)
		if err != nil {
			return err
		}
		result.Turns = turns

		if err := l.upsertSession(tx, sessionID, item.summary.UserID, transcript.ID, state, result.Warnings); err != nil {
			return err
		}

		events, err := l.insertEvents(tx, sessionID, item.summary.UserID, state, item.logs)
		if err != nil {
			return err
		}
		result.Events = events

		return nil
	})
	if err != nil {
		return IngestionResult{}, err
	}

	return result, nil
}

// upsertTranscript writes the transcript row keyed by external id. The raw
// payload, hash, and updated_at are overwritten unconditionally even when
// content is identical; the stored hash enables a skip-if-unchanged
// optimization later without changing updated_at semantics now.
func (l *TranscriptLoader) upsertTranscript(tx *gorm.DB, item fetchedTranscript, state sessionstate.ReconstructedState, raw []byte, hash string) (*models.Transcript, error) {
	payload := pgtype.JSONB{}
	if err := payload.Set(raw); err != nil {
		return nil, errors.Wrap(err, "error setting raw payload jsonb")
	}

	transcript := &models.Transcript{
		ExternalID:  item.summary.ExternalID(),
		SessionID:   item.summary.SessionID,
		UserID:      item.summary.UserID,
		Browser:     item.summary.Browser,
		Device:      item.summary.Device,
		OS:          item.summary.OS,
		StartedAt:   state.StartedAt,
		EndedAt:     state.EndedAt,
		RawPayload:  payload,
		ContentHash: hash,
	}

	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		UpdateAll: true,
	}).Create(transcript).Error; err != nil {
		return nil, errors.Wrap(err, "error upserting transcript")
	}

	// On conflict-update gorm doesn't populate the primary key; fetch it
	// for the turn and session FKs.
	if transcript.ID == 0 {
		if err := tx.Where("external_id = ?", transcript.ExternalID).First(transcript).Error; err != nil {
			return nil, errors.Wrap(err, "error reloading upserted transcript")
		}
	}

	return transcript, nil
}

// upsertTurns extracts dialogue turns from the raw log and upserts each at
// its index. Indexes are dense: entries that don't resolve to user or
// assistant text don't consume one.
func (l *TranscriptLoader) upsertTurns(tx *gorm.DB, transcriptID uint, logs []apitypes.LogEntry) (int, error) {
	index := 0
	for _, entry := range logs {
		turn, ok := sessionstate.TurnFromLogEntry(index, entry)
		if !ok {
			continue
		}

		rawEntry, err := json.Marshal(entry)
		if err != nil {
			return index, errors.Wrapf(err, "error encoding log entry at turn %d", index)
		}
		entryPayload := pgtype.JSONB{}
		if err := entryPayload.Set(rawEntry); err != nil {
			return index, errors.Wrapf(err, "error setting raw entry jsonb at turn %d", index)
		}

		row := models.DialogueTurn{
			TranscriptID: transcriptID,
			TurnIndex:    turn.Index,
			Role:         turn.Role,
			Text:         turn.Text,
			RawEntry:     entryPayload,
		}
		if !turn.Timestamp.IsZero() {
			ts := turn.Timestamp
			row.Timestamp = &ts
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "transcript_id"}, {Name: "turn_index"}},
			UpdateAll: true,
		}).Create(&row).Error; err != nil {
			return index, errors.Wrapf(err, "error upserting turn %d", index)
		}

		index++
	}

	return index, nil
}

// upsertSession writes the session row with coalesce-on-conflict semantics:
// a pass only fills gaps or replaces with newer non-null data, never
// overwrites a known value with an absent one.
func (l *TranscriptLoader) upsertSession(tx *gorm.DB, sessionID, userID string, transcriptID uint, state sessionstate.ReconstructedState, warnings []string) error {
	session := models.Session{
		SessionID:          sessionID,
		UserID:             userID,
		TranscriptID:       transcriptID,
		UserCategory:       state.UserCategory,
		LocationType:       state.LocationType,
		LocationValue:      state.LocationValue,
		Rating:             state.Rating,
		StartedAt:          state.StartedAt,
		EndedAt:            state.EndedAt,
		ValidationWarnings: pq.StringArray(warnings),
	}
	if state.Feedback != "" {
		feedback := state.Feedback
		session.Feedback = &feedback
	}

	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"user_id":             gorm.Expr("COALESCE(NULLIF(EXCLUDED.user_id, ''), sessions.user_id)"),
			"transcript_id":       gorm.Expr("EXCLUDED.transcript_id"),
			"user_category":       gorm.Expr("COALESCE(NULLIF(EXCLUDED.user_category, ''), sessions.user_category)"),
			"location_type":       gorm.Expr("COALESCE(NULLIF(EXCLUDED.location_type, ''), sessions.location_type)"),
			"location_value":      gorm.Expr("COALESCE(NULLIF(EXCLUDED.location_value, ''), sessions.location_value)"),
			"rating":              gorm.Expr("COALESCE(EXCLUDED.rating, sessions.rating)"),
			"feedback":            gorm.Expr("COALESCE(EXCLUDED.feedback, sessions.feedback)"),
			"started_at":          gorm.Expr("COALESCE(EXCLUDED.started_at, sessions.started_at)"),
			"ended_at":            gorm.Expr("COALESCE(EXCLUDED.ended_at, sessions.ended_at)"),
			"validation_warnings": gorm.Expr("EXCLUDED.validation_warnings"),
			"updated_at":          gorm.Expr("EXCLUDED.updated_at"),
		}),
	}).Create(&session).Error
	if err != nil {
		return errors.Wrap(err, "error upserting session")
	}

	return nil
}

// insertEvents derives and appends the session's events, returning how many
// rows were actually inserted. The dedup key makes re-inserting an identical
// event across passes a no-op, so repeated passes over an unchanged
// transcript don't inflate event counts.
func (l *TranscriptLoader) insertEvents(tx *gorm.DB, sessionID, userID string, state sessionstate.ReconstructedState, logs []apitypes.LogEntry) (int, error) {
	events := sessionstate.InferEvents(sessionID, userID, state, logs, l.now)
	if len(events) == 0 {
		return 0, nil
	}

	rows := make([]models.SessionEvent, 0, len(events))
	estimatedSeen := map[string]int{}
	for _, ev := range events {
		metadata := pgtype.JSONB{}
		if ev.Metadata != nil {
			rawMetadata, err := json.Marshal(ev.Metadata)
			if err != nil {
				return 0, errors.Wrapf(err, "error encoding metadata for %s event", ev.Type)
			}
			if err := metadata.Set(rawMetadata); err != nil {
				return 0, errors.Wrapf(err, "error setting metadata jsonb for %s event", ev.Type)
			}
		} else {
			_ = metadata.Set(nil)
		}

		ordinal := 0
		if ev.Estimated {
			key := ev.Type + "|" + eventValue(ev)
			ordinal = estimatedSeen[key]
			estimatedSeen[key]++
		}

		rows = append(rows, models.SessionEvent{
			EventID:            ev.ID,
			SessionID:          ev.SessionID,
			UserID:             ev.UserID,
			EventType:          ev.Type,
			EventTimestamp:     ev.Timestamp,
			TimestampEstimated: ev.Estimated,
			UserCategory:       ev.UserCategory,
			LocationType:       ev.LocationType,
			LocationValue:      ev.LocationValue,
			Rating:             ev.Rating,
			Feedback:           ev.Feedback,
			Metadata:           metadata,
			DedupKey:           eventDedupKey(ev, ordinal),
		})
	}

	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "dedup_key"}},
		DoNothing: true,
	}).CreateInBatches(rows, l.dbc.BatchSize)
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "error inserting session events")
	}

	// Rows the dedup key already covered don't count.
	return int(res.RowsAffected), nil
}

// eventDedupKey hashes the identity of an event: session, type, timestamp,
// and the type-specific value. Estimated timestamps are wall-clock fallbacks
// that differ between passes, so they are replaced by the event's ordinal
// among same-typed same-valued estimated events in its transcript; two
// passes over an unchanged transcript derive identical keys either way, and
// repeated same-value events within one pass stay distinct.
func eventDedupKey(ev sessionstate.InferredEvent, ordinal int) string {
	timestamp := "~" + strconv.Itoa(ordinal)
	if !ev.Estimated {
		timestamp = ev.Timestamp.UTC().Format(time.RFC3339Nano)
	}

	hash := sha256.Sum256([]byte(ev.SessionID + "|" + ev.Type + "|" + timestamp + "|" + eventValue(ev)))
	return hex.EncodeToString(hash[:])
}

// eventValue is the type-specific payload that identifies an event beyond
// its timestamp.
func eventValue(ev sessionstate.InferredEvent) string {
	switch ev.Type {
	case sessionstate.EventCategorySelected:
		return ev.UserCategory
	case sessionstate.EventLocationSelected:
		return ev.LocationType + "/" + ev.LocationValue
	case sessionstate.EventRatingSubmitted:
		if ev.Rating != nil {
			return strconv.Itoa(*ev.Rating)
		}
	case sessionstate.EventFeedbackSubmitted:
		return ev.Feedback
	case sessionstate.EventCTAClicked:
		if label, ok := ev.Metadata["label"].(string); ok {
			return label
		}
	}
	return ""
}
