package sessionstate

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/propwise/chatsync/pkg/apis/voiceflow"
)

// Event types derived from a reconstructed session.
const (
	EventCategorySelected  = "category_selected"
	EventLocationSelected  = "location_selected"
	EventRatingSubmitted   = "rating_submitted"
	EventFeedbackSubmitted = "feedback_submitted"
	EventCTAClicked        = "cta_clicked"
)

// InferredEvent is one discrete business fact derived from a session's state
// and log timeline.
type InferredEvent struct {
	ID        string
	SessionID string
	UserID    string
	Type      string

	Timestamp time.Time
	// Estimated is true when no matching trace carried a timestamp and the
	// wall clock was used instead.
	Estimated bool

	UserCategory  string
	LocationType  string
	LocationValue string
	Rating        *int
	Feedback      string
	Metadata      map[string]interface{}
}

// InferEvents derives the ordered event sequence for one session. Each
// event's timestamp comes from the first trace that set the relevant
// variable; when no trace matches, now() is used and the event is flagged
// estimated. Deterministic given identical inputs and a fixed now.
func InferEvents(sessionID, userID string, state ReconstructedState, logs []voiceflow.LogEntry, now func() time.Time) []InferredEvent {
	var events []InferredEvent

	newEvent := func(eventType, variable string) InferredEvent {
		ts, estimated := variableTimestamp(logs, variable, now)
		return InferredEvent{
			ID:        uuid.New().String(),
			SessionID: sessionID,
			UserID:    userID,
			Type:      eventType,
			Timestamp: ts,
			Estimated: estimated,
		}
	}

	if state.UserCategory != "" {
		ev := newEvent(EventCategorySelected, VarUserCategory)
		ev.UserCategory = state.UserCategory
		events = append(events, ev)

		if state.LocationValue != "" {
			ev := newEvent(EventLocationSelected, LocationVarForCategory(state.UserCategory))
			ev.UserCategory = state.UserCategory
			ev.LocationType = state.LocationType
			ev.LocationValue = state.LocationValue
			events = append(events, ev)
		}
	}

	if state.Rating != nil {
		ev := newEvent(EventRatingSubmitted, VarRating)
		ev.Rating = state.Rating
		events = append(events, ev)

		// Feedback only ever rides under a qualifying rating.
		if *state.Rating <= 3 && state.Feedback != "" {
			ev := newEvent(EventFeedbackSubmitted, VarFeedback)
			ev.Rating = state.Rating
			ev.Feedback = state.Feedback
			events = append(events, ev)
		}
	}

	for _, click := range CallToActionClicks(logs) {
		ev := InferredEvent{
			ID:        uuid.New().String(),
			SessionID: sessionID,
			UserID:    userID,
			Type:      EventCTAClicked,
			Timestamp: click.Timestamp,
			Metadata:  map[string]interface{}{"label": click.Label},
		}
		if ev.Timestamp.IsZero() {
			ev.Timestamp = now()
			ev.Estimated = true
		}
		events = append(events, ev)
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	return events
}

func variableTimestamp(logs []voiceflow.LogEntry, name string, now func() time.Time) (time.Time, bool) {
	if _, ts, ok := FirstVariableAssignment(logs, name); ok && !ts.IsZero() {
		return ts, false
	}
	return now(), true
}
