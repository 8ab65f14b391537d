package sessionstate

import (
	"strings"
	"time"

	"github.com/propwise/chatsync/pkg/apis/voiceflow"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Turn is one extracted utterance from a transcript's log.
type Turn struct {
	Index     int
	Role      string
	Text      string
	Timestamp time.Time
}

// TurnFromLogEntry resolves one raw log entry into a dialogue turn. System
// entries (session handoffs, platform announcements) keep their own role so
// they read in order alongside the conversation. Entries that don't carry
// non-empty text (debug traces, variable sets, card renders) are dropped.
func TurnFromLogEntry(index int, entry voiceflow.LogEntry) (Turn, bool) {
	var role string
	switch entry.Type {
	case "request":
		role = RoleUser
	case "response", "text", "speak":
		role = RoleAssistant
	case "system":
		role = RoleSystem
	default:
		return Turn{}, false
	}

	text := strings.TrimSpace(firstString(entry.Payload,
		"payload.message", "message",
		"payload.query", "query",
		"payload.text", "text",
	))
	if text == "" {
		return Turn{}, false
	}

	return Turn{
		Index:     index,
		Role:      role,
		Text:      text,
		Timestamp: entry.Time(),
	}, true
}
