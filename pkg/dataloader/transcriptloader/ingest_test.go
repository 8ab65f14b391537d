package transcriptloader

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	apitypes "github.com/propwise/chatsync/pkg/apis/voiceflow"
	"github.com/propwise/chatsync/pkg/db"
	"github.com/propwise/chatsync/pkg/sessionstate"
)

func TestEventDedupKey(t *testing.T) {
	two := 2
	three := 3
	ts := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)

	base := sessionstate.InferredEvent{
		SessionID: "sess-1",
		Type:      sessionstate.EventRatingSubmitted,
		Timestamp: ts,
		Rating:    &two,
	}

	t.Run("identical events across passes derive identical keys", func(t *testing.T) {
		other := base
		other.ID = "different-uuid"
		assert.Equal(t, eventDedupKey(base, 0), eventDedupKey(other, 0))
	})

	t.Run("value changes the key", func(t *testing.T) {
		other := base
		other.Rating = &three
		assert.NotEqual(t, eventDedupKey(base, 0), eventDedupKey(other, 0))
	})

	t.Run("timestamp changes the key", func(t *testing.T) {
		other := base
		other.Timestamp = ts.Add(time.Minute)
		assert.NotEqual(t, eventDedupKey(base, 0), eventDedupKey(other, 0))
	})

	t.Run("estimated timestamps are excluded from the key", func(t *testing.T) {
		first := base
		first.Estimated = true
		second := base
		second.Estimated = true
		second.Timestamp = ts.Add(time.Hour) // a later pass's wall clock
		assert.Equal(t, eventDedupKey(first, 0), eventDedupKey(second, 0))
	})

	t.Run("ordinal keeps repeated estimated events distinct", func(t *testing.T) {
		click := sessionstate.InferredEvent{
			SessionID: "sess-1",
			Type:      sessionstate.EventCTAClicked,
			Timestamp: ts,
			Estimated: true,
			Metadata:  map[string]interface{}{"label": "Book an appraisal"},
		}
		assert.NotEqual(t, eventDedupKey(click, 0), eventDedupKey(click, 1))
	})

	t.Run("ordinal is ignored when the timestamp is real", func(t *testing.T) {
		assert.Equal(t, eventDedupKey(base, 0), eventDedupKey(base, 1))
	})

	t.Run("session scopes the key", func(t *testing.T) {
		other := base
		other.SessionID = "sess-2"
		assert.NotEqual(t, eventDedupKey(base, 0), eventDedupKey(other, 0))
	})

	t.Run("cta label is part of the key", func(t *testing.T) {
		first := sessionstate.InferredEvent{
			SessionID: "sess-1",
			Type:      sessionstate.EventCTAClicked,
			Timestamp: ts,
			Metadata:  map[string]interface{}{"label": "Book an appraisal"},
		}
		second := first
		second.Metadata = map[string]interface{}{"label": "Talk to an agent"}
		assert.NotEqual(t, eventDedupKey(first, 0), eventDedupKey(second, 0))
	})
}

// sqlRecorder captures every statement a dry-run gorm session generates so
// the hand-written upsert SQL can be asserted on without a live database.
type sqlRecorder struct {
	statements []string
}

func (r *sqlRecorder) LogMode(gormlogger.LogLevel) gormlogger.Interface { return r }
func (r *sqlRecorder) Info(context.Context, string, ...interface{})    {}
func (r *sqlRecorder) Warn(context.Context, string, ...interface{})    {}
func (r *sqlRecorder) Error(context.Context, string, ...interface{})   {}

func (r *sqlRecorder) Trace(_ context.Context, _ time.Time, fc func() (string, int64), _ error) {
	sql, _ := fc()
	r.statements = append(r.statements, sql)
}

func newDryRunLoader(t *testing.T) (*TranscriptLoader, *sqlRecorder) {
	recorder := &sqlRecorder{}
	gormDB, err := gorm.Open(postgres.Open(""), &gorm.Config{
		DryRun:                 true,
		SkipDefaultTransaction: true,
		DisableAutomaticPing:   true,
		Logger:                 recorder,
	})
	require.NoError(t, err)

	return &TranscriptLoader{
		dbc:           &db.DB{DB: gormDB, BatchSize: 1024},
		reconstructor: sessionstate.NewReconstructor(nil),
		now:           time.Now,
	}, recorder
}

func TestUpsertSessionSQL(t *testing.T) {
	l, recorder := newDryRunLoader(t)

	state := sessionstate.ReconstructedState{
		UserCategory:  sessionstate.CategoryTenant,
		LocationType:  sessionstate.LocationTypeRental,
		LocationValue: "wollongong",
	}
	err := l.upsertSession(l.dbc.DB, "sess-1", "user-1", 7, state, []string{"a warning"})
	require.NoError(t, err)

	require.Len(t, recorder.statements, 1)
	sql := recorder.statements[0]

	assert.Contains(t, sql, `INSERT INTO "sessions"`)
	assert.Contains(t, sql, `ON CONFLICT ("session_id") DO UPDATE SET`)

	// Known values are never overwritten by an absent one: every merged
	// column falls back to the stored row.
	assert.Contains(t, sql, `"user_id"=COALESCE(NULLIF(EXCLUDED.user_id, ''), sessions.user_id)`)
	assert.Contains(t, sql, `"user_category"=COALESCE(NULLIF(EXCLUDED.user_category, ''), sessions.user_category)`)
	assert.Contains(t, sql, `"location_type"=COALESCE(NULLIF(EXCLUDED.location_type, ''), sessions.location_type)`)
	assert.Contains(t, sql, `"location_value"=COALESCE(NULLIF(EXCLUDED.location_value, ''), sessions.location_value)`)
	assert.Contains(t, sql, `"rating"=COALESCE(EXCLUDED.rating, sessions.rating)`)
	assert.Contains(t, sql, `"feedback"=COALESCE(EXCLUDED.feedback, sessions.feedback)`)
	assert.Contains(t, sql, `"started_at"=COALESCE(EXCLUDED.started_at, sessions.started_at)`)
	assert.Contains(t, sql, `"ended_at"=COALESCE(EXCLUDED.ended_at, sessions.ended_at)`)

	// These always track the latest pass.
	assert.Contains(t, sql, `"transcript_id"=EXCLUDED.transcript_id`)
	assert.Contains(t, sql, `"validation_warnings"=EXCLUDED.validation_warnings`)
	assert.Contains(t, sql, `"updated_at"=EXCLUDED.updated_at`)
}

func TestUpsertTurnsSQL(t *testing.T) {
	l, recorder := newDryRunLoader(t)

	logs := []apitypes.LogEntry{
		{Type: "request", Payload: json.RawMessage(`{"query":"what's my rent?"}`), StartTime: "2024-03-01T10:00:00Z"},
		{Type: "set", Payload: json.RawMessage(`{"variable":"typeuser","value":"tenant"}`)},
		{Type: "text", Payload: json.RawMessage(`{"message":"Rent is due monthly."}`)},
	}

	count, err := l.upsertTurns(l.dbc.DB, 7, logs)
	require.NoError(t, err)
	// The variable set doesn't consume an index.
	assert.Equal(t, 2, count)

	require.Len(t, recorder.statements, 2)
	for _, sql := range recorder.statements {
		assert.Contains(t, sql, `INSERT INTO "dialogue_turns"`)
		// Re-ingestion replaces the turn at an index instead of
		// duplicating it.
		assert.Contains(t, sql, `ON CONFLICT ("transcript_id","turn_index") DO UPDATE SET`)
		assert.Contains(t, sql, `"role"="excluded"."role"`)
		assert.Contains(t, sql, `"text"="excluded"."text"`)
	}
}

func TestUpsertTranscriptSQL(t *testing.T) {
	l, recorder := newDryRunLoader(t)

	item := fetchedTranscript{summary: apitypes.TranscriptSummary{ID: "t1", SessionID: "s1", UserID: "u1"}}
	_, err := l.upsertTranscript(l.dbc.DB, item, sessionstate.ReconstructedState{}, []byte(`{"summary":{}}`), "abc123")
	require.NoError(t, err)

	require.NotEmpty(t, recorder.statements)
	sql := recorder.statements[0]

	assert.Contains(t, sql, `INSERT INTO "transcripts"`)
	assert.Contains(t, sql, `ON CONFLICT ("external_id") DO UPDATE SET`)
	assert.Contains(t, sql, `"raw_payload"="excluded"."raw_payload"`)
	assert.Contains(t, sql, `"content_hash"="excluded"."content_hash"`)
}

func TestInsertEventsSQL(t *testing.T) {
	l, recorder := newDryRunLoader(t)

	state := sessionstate.ReconstructedState{UserCategory: sessionstate.CategoryTenant}
	_, err := l.insertEvents(l.dbc.DB, "sess-1", "user-1", state, nil)
	require.NoError(t, err)

	require.Len(t, recorder.statements, 1)
	sql := recorder.statements[0]

	assert.Contains(t, sql, `INSERT INTO "session_events"`)
	// Events are append-only; a duplicate insert is a no-op.
	assert.Contains(t, sql, `ON CONFLICT ("dedup_key") DO NOTHING`)
}
