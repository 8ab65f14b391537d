package sessionstate

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/propwise/chatsync/pkg/apis/voiceflow"
)

// FirstVariableAssignment scans the raw log for the first "variable set"
// trace whose key matches name, returning its value and the trace timestamp.
// First write wins: later assignments to the same variable within one
// transcript are ignored, on the theory that the first value is the one the
// user intended before moving on.
func FirstVariableAssignment(logs []voiceflow.LogEntry, name string) (string, time.Time, bool) {
	for _, entry := range logs {
		if !isVariableSet(entry) {
			continue
		}

		variable := firstString(entry.Payload, "payload.variable", "variable", "payload.name", "name")
		if !strings.EqualFold(strings.TrimSpace(variable), name) {
			continue
		}

		value := firstString(entry.Payload, "payload.value", "value")
		return value, entry.Time(), true
	}

	return "", time.Time{}, false
}

func isVariableSet(entry voiceflow.LogEntry) bool {
	switch entry.Type {
	case "set", "setV2":
		return true
	}
	switch gjson.GetBytes(entry.Payload, "type").String() {
	case "set", "setV2":
		return true
	}
	return false
}

// CTAClick is one call-to-action interaction recovered from the log.
type CTAClick struct {
	Label     string
	Timestamp time.Time
}

// CallToActionClicks returns every click/button-type trace carrying a
// human-readable label, in log order. Entries without a label are skipped.
func CallToActionClicks(logs []voiceflow.LogEntry) []CTAClick {
	var clicks []CTAClick
	for _, entry := range logs {
		if !isClick(entry) {
			continue
		}

		label := strings.TrimSpace(firstString(entry.Payload, "payload.label", "label", "payload.name"))
		if label == "" {
			continue
		}

		clicks = append(clicks, CTAClick{Label: label, Timestamp: entry.Time()})
	}
	return clicks
}

func isClick(entry voiceflow.LogEntry) bool {
	switch entry.Type {
	case "button", "choice", "path":
		return true
	}
	switch gjson.GetBytes(entry.Payload, "type").String() {
	case "button", "choice", "path":
		return true
	}
	return false
}

// firstString probes the raw payload at each path in turn and returns the
// first non-empty value. Payload shapes vary by platform version, so callers
// pass the fallback chain they have observed.
func firstString(payload []byte, paths ...string) string {
	for _, path := range paths {
		if result := gjson.GetBytes(payload, path); result.Exists() {
			if s := result.String(); s != "" {
				return s
			}
		}
	}
	return ""
}
