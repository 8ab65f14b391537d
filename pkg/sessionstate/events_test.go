package sessionstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propwise/chatsync/pkg/apis/voiceflow"
)

func frozenClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func eventsByType(events []InferredEvent) map[string]InferredEvent {
	byType := map[string]InferredEvent{}
	for _, ev := range events {
		byType[ev.Type] = ev
	}
	return byType
}

func TestInferEventsRatingAndFeedback(t *testing.T) {
	two := 2
	now := time.Date(2024, time.March, 2, 12, 0, 0, 0, time.UTC)

	state := ReconstructedState{
		UserCategory: CategoryInvestor,
		Rating:       &two,
		Feedback:     "too slow",
	}

	events := InferEvents("sess-1", "user-1", state, nil, frozenClock(now))
	require.Len(t, events, 3)

	byType := eventsByType(events)
	require.Contains(t, byType, EventCategorySelected)
	require.Contains(t, byType, EventRatingSubmitted)
	require.Contains(t, byType, EventFeedbackSubmitted)

	rating := byType[EventRatingSubmitted]
	require.NotNil(t, rating.Rating)
	assert.Equal(t, 2, *rating.Rating)
	// No trace carried a timestamp, so the wall clock was used and flagged.
	assert.Equal(t, now, rating.Timestamp)
	assert.True(t, rating.Estimated)

	feedback := byType[EventFeedbackSubmitted]
	assert.Equal(t, "too slow", feedback.Feedback)
	assert.Equal(t, "sess-1", feedback.SessionID)
	assert.Equal(t, "user-1", feedback.UserID)
	assert.NotEmpty(t, feedback.ID)
}

func TestInferEventsTraceTimestamps(t *testing.T) {
	t1 := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, time.March, 1, 10, 2, 0, 0, time.UTC)
	now := time.Date(2024, time.March, 2, 12, 0, 0, 0, time.UTC)

	logs := []voiceflow.LogEntry{
		setEntry("typeuser", "owneroccupier", t1.Format(time.RFC3339)),
		setEntry("owneroccupierlocation", "Nowra", t2.Format(time.RFC3339)),
	}
	state := ReconstructedState{
		UserCategory:  CategoryOwnerOccupier,
		LocationType:  LocationTypeOwnerOccupier,
		LocationValue: "nowra",
	}

	events := InferEvents("sess-2", "", state, logs, frozenClock(now))
	require.Len(t, events, 2)

	// Sorted ascending by timestamp: category at T1, location at T2.
	assert.Equal(t, EventCategorySelected, events[0].Type)
	assert.Equal(t, t1, events[0].Timestamp)
	assert.False(t, events[0].Estimated)

	assert.Equal(t, EventLocationSelected, events[1].Type)
	assert.Equal(t, t2, events[1].Timestamp)
	assert.False(t, events[1].Estimated)
	assert.Equal(t, "nowra", events[1].LocationValue)
}

func TestInferEventsHighRatingEmitsNoFeedback(t *testing.T) {
	four := 4
	state := ReconstructedState{
		UserCategory: CategoryTenant,
		Rating:       &four,
		Feedback:     "", // reconstruction already dropped it
	}

	events := InferEvents("sess-3", "", state, nil, frozenClock(time.Now()))

	byType := eventsByType(events)
	assert.Contains(t, byType, EventRatingSubmitted)
	assert.NotContains(t, byType, EventFeedbackSubmitted)
}

func TestInferEventsEmptyState(t *testing.T) {
	events := InferEvents("sess-4", "", ReconstructedState{}, nil, frozenClock(time.Now()))
	assert.Empty(t, events)
}

func TestInferEventsCTAClicks(t *testing.T) {
	clickTime := time.Date(2024, time.March, 1, 10, 1, 0, 0, time.UTC)
	logs := []voiceflow.LogEntry{
		{Type: "button", Payload: []byte(`{"label":"Book an appraisal"}`), StartTime: clickTime.Format(time.RFC3339)},
		{Type: "button", Payload: []byte(`{"label":"Talk to an agent"}`)},
	}

	now := time.Date(2024, time.March, 2, 12, 0, 0, 0, time.UTC)
	events := InferEvents("sess-5", "", ReconstructedState{}, logs, frozenClock(now))
	require.Len(t, events, 2)

	assert.Equal(t, EventCTAClicked, events[0].Type)
	assert.Equal(t, clickTime, events[0].Timestamp)
	assert.False(t, events[0].Estimated)
	assert.Equal(t, "Book an appraisal", events[0].Metadata["label"])

	// The unlabeled-timestamp click falls back to the wall clock.
	assert.Equal(t, now, events[1].Timestamp)
	assert.True(t, events[1].Estimated)
}
