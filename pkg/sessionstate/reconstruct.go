package sessionstate

import (
	"fmt"
	"time"

	"github.com/propwise/chatsync/pkg/apis/voiceflow"
)

// ReconstructedState is the authoritative per-session state composed from a
// transcript's declared properties and its raw log.
type ReconstructedState struct {
	UserCategory  string
	LocationType  string
	LocationValue string
	Rating        *int
	Feedback      string
	StartedAt     *time.Time
	EndedAt       *time.Time
}

// Input carries everything reconstruction needs from one transcript. The
// timestamp candidates are the raw strings from the summary; parsing is
// tolerant and absent values simply stay nil in the result.
type Input struct {
	Properties map[string]interface{}
	Logs       []voiceflow.LogEntry
	CreatedAt  string
	EndedAt    string
	UpdatedAt  string
}

// Reconstructor composes the property parser and the trace scanner. The
// alias table is the only configuration it carries.
type Reconstructor struct {
	Aliases map[string]string
}

func NewReconstructor(aliases map[string]string) *Reconstructor {
	if aliases == nil {
		aliases = DefaultLocationAliases
	}
	return &Reconstructor{Aliases: aliases}
}

// Reconstruct builds one session state, properties-first with trace-scan
// fallback for the category and its scoped location.
func (r *Reconstructor) Reconstruct(in Input) ReconstructedState {
	partial := ParseProperties(in.Properties, r.Aliases)
	state := ReconstructedState{}

	state.UserCategory = partial.Category
	if state.UserCategory == "" {
		if value, _, ok := FirstVariableAssignment(in.Logs, VarUserCategory); ok {
			if canonical, valid := CanonicalCategory(value); valid {
				state.UserCategory = canonical
			}
		}
	}

	if state.UserCategory != "" {
		location := partial.LocationFor(state.UserCategory)
		if location == "" {
			if value, _, ok := FirstVariableAssignment(in.Logs, LocationVarForCategory(state.UserCategory)); ok {
				location = NormalizeLocation(value, r.Aliases)
			}
		}
		if location != "" {
			state.LocationType = LocationTypeForCategory(state.UserCategory)
			state.LocationValue = location
		}
	}

	if rating, ok := ExtractRating(partial.RatingRaw); ok {
		state.Rating = &rating
	}

	// Feedback is only kept under a low rating. Dropping it here is a
	// data-quality guard, not data loss: the raw transcript is stored
	// intact alongside.
	if state.Rating != nil && *state.Rating <= 3 {
		state.Feedback = partial.Feedback
	}

	state.StartedAt = parseSummaryTime(in.CreatedAt)
	state.EndedAt = endedAt(in)

	return state
}

// endedAt falls back through the candidate fields in order: the summary's
// ended-at, its updated-at, then the last log entry's timestamp.
func endedAt(in Input) *time.Time {
	if t := parseSummaryTime(in.EndedAt); t != nil {
		return t
	}
	if t := parseSummaryTime(in.UpdatedAt); t != nil {
		return t
	}
	for i := len(in.Logs) - 1; i >= 0; i-- {
		if t := in.Logs[i].Time(); !t.IsZero() {
			return &t
		}
	}
	return nil
}

func parseSummaryTime(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}

// Validate checks the composed state for cross-field business-rule
// violations. Violations are reported, not fatal: the loader persists the
// state regardless and attaches the messages to the session row.
func Validate(state ReconstructedState) []string {
	var violations []string

	if state.Feedback != "" {
		if state.Rating == nil {
			violations = append(violations, "feedback present without a rating")
		} else if *state.Rating > 3 {
			violations = append(violations, fmt.Sprintf("feedback present with rating %d; expected rating <= 3", *state.Rating))
		}
	}

	if state.LocationType != "" {
		if state.UserCategory == "" {
			violations = append(violations, fmt.Sprintf("location_type %q set without a user category", state.LocationType))
		} else if expected := LocationTypeForCategory(state.UserCategory); state.LocationType != expected {
			violations = append(violations, fmt.Sprintf("location_type %q does not match user category %q (expected %q)",
				state.LocationType, state.UserCategory, expected))
		}
	}

	return violations
}
