// Package sessionstate reconstructs a normalized session state from the two
// data sources a transcript carries: the declared property bag and the raw
// interaction log. Everything in this package is pure; storage concerns live
// in the transcript loader.
package sessionstate

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// The three user categories the chatbot lets a visitor self-classify as.
// Anything else in the typeuser property is ignored.
const (
	CategoryTenant        = "tenant"
	CategoryInvestor      = "investor"
	CategoryOwnerOccupier = "owneroccupier"
)

// Location types scoped to each category.
const (
	LocationTypeRental        = "rental"
	LocationTypeInvestor      = "investor"
	LocationTypeOwnerOccupier = "owneroccupier"
)

// Variable names as declared by the conversation designer, shared by the
// property bag and the interaction-log traces.
const (
	VarUserCategory          = "typeuser"
	VarRentalLocation        = "rentallocation"
	VarInvestorLocation      = "investorlocation"
	VarOwnerOccupierLocation = "owneroccupierlocation"
	VarRating                = "rating"
	VarFeedback              = "feedback"
)

// DefaultLocationAliases maps common misspellings to canonical suburb names.
// Extendable via the config file.
var DefaultLocationAliases = map[string]string{
	"woollongong":   "wollongong",
	"woolongong":    "wollongong",
	"shell harbour": "shellharbour",
}

// PartialState is what the declared property bag alone tells us about a
// session. Absent or unrecognized fields stay zero.
type PartialState struct {
	Category  string
	RatingRaw string
	Feedback  string

	RentalLocation        string
	InvestorLocation      string
	OwnerOccupierLocation string
}

// LocationFor returns the location value scoped to the given category.
func (p PartialState) LocationFor(category string) string {
	switch category {
	case CategoryTenant:
		return p.RentalLocation
	case CategoryInvestor:
		return p.InvestorLocation
	case CategoryOwnerOccupier:
		return p.OwnerOccupierLocation
	}
	return ""
}

// ParseProperties extracts the recognized variables from a transcript's
// declared property bag. Keys are matched case-insensitively and values are
// trimmed. Unrecognized or malformed entries are skipped, never an error.
func ParseProperties(props map[string]interface{}, aliases map[string]string) PartialState {
	state := PartialState{}
	if len(props) == 0 {
		return state
	}

	for key, raw := range props {
		value := strings.TrimSpace(stringifyProperty(raw))
		if value == "" {
			continue
		}

		switch strings.ToLower(strings.TrimSpace(key)) {
		case VarUserCategory:
			if canonical, ok := CanonicalCategory(value); ok {
				state.Category = canonical
			}
		case VarRating:
			// Kept raw; numeric extraction is deferred to ExtractRating.
			state.RatingRaw = value
		case VarFeedback:
			state.Feedback = value
		case VarRentalLocation:
			state.RentalLocation = NormalizeLocation(value, aliases)
		case VarInvestorLocation:
			state.InvestorLocation = NormalizeLocation(value, aliases)
		case VarOwnerOccupierLocation:
			state.OwnerOccupierLocation = NormalizeLocation(value, aliases)
		}
	}

	return state
}

// CanonicalCategory matches one of the three category spellings,
// case-insensitively. Anything else is rejected.
func CanonicalCategory(value string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case CategoryTenant:
		return CategoryTenant, true
	case CategoryInvestor:
		return CategoryInvestor, true
	case CategoryOwnerOccupier:
		return CategoryOwnerOccupier, true
	}
	return "", false
}

// NormalizeLocation lowercases, trims, and resolves the value through the
// alias table.
func NormalizeLocation(value string, aliases map[string]string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if aliases == nil {
		aliases = DefaultLocationAliases
	}
	if canonical, ok := aliases[normalized]; ok {
		return canonical
	}
	return normalized
}

// LocationTypeForCategory maps a user category to the location type scoped
// to it.
func LocationTypeForCategory(category string) string {
	switch category {
	case CategoryTenant:
		return LocationTypeRental
	case CategoryInvestor:
		return LocationTypeInvestor
	case CategoryOwnerOccupier:
		return LocationTypeOwnerOccupier
	}
	return ""
}

// LocationVarForCategory maps a user category to the trace variable holding
// its location.
func LocationVarForCategory(category string) string {
	switch category {
	case CategoryTenant:
		return VarRentalLocation
	case CategoryInvestor:
		return VarInvestorLocation
	case CategoryOwnerOccupier:
		return VarOwnerOccupierLocation
	}
	return ""
}

var firstIntegerRegex = regexp.MustCompile(`\d+`)

// ExtractRating pulls the first embedded integer out of a raw rating
// representation ("4", "4/5", "80%"). Values in [1,5] are accepted as-is;
// values in (5,100] are treated as a percentage and rescaled to [1,5].
// This is a best-effort heuristic, not a guaranteed-correct parse.
func ExtractRating(raw string) (int, bool) {
	match := firstIntegerRegex.FindString(raw)
	if match == "" {
		return 0, false
	}

	n, err := strconv.Atoi(match)
	if err != nil {
		return 0, false
	}

	if n >= 1 && n <= 5 {
		return n, true
	}

	if n >= 1 && n <= 100 {
		scaled := int(math.Round(float64(n) * 5 / 100))
		if scaled >= 1 && scaled <= 5 {
			return scaled, true
		}
	}

	return 0, false
}

func stringifyProperty(raw interface{}) string {
	switch v := raw.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		// JSON numbers decode as float64; render integers without a
		// trailing ".0" so rating extraction sees "4" not "4.0".
		if v == math.Trunc(v) && math.Abs(v) < 1e15 {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
