package sessionstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractRating(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected int
		ok       bool
	}{
		{
			name:     "plain integer",
			raw:      "2",
			expected: 2,
			ok:       true,
		},
		{
			name:     "fraction keeps numerator",
			raw:      "4/5",
			expected: 4,
			ok:       true,
		},
		{
			name:     "embedded in text",
			raw:      "rated 3 stars",
			expected: 3,
			ok:       true,
		},
		{
			name:     "percentage rescales",
			raw:      "80%",
			expected: 4,
			ok:       true,
		},
		{
			name:     "full percentage",
			raw:      "100",
			expected: 5,
			ok:       true,
		},
		{
			name:     "low percentage rounds up to one",
			raw:      "10",
			expected: 1,
			ok:       true,
		},
		{
			name: "percentage rescaling below one fails",
			raw:  "6",
			ok:   false,
		},
		{
			name: "zero fails",
			raw:  "0",
			ok:   false,
		},
		{
			name: "above one hundred fails",
			raw:  "150",
			ok:   false,
		},
		{
			name: "no digits",
			raw:  "N/A",
			ok:   false,
		},
		{
			name: "empty",
			raw:  "",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rating, ok := ExtractRating(tt.raw)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.expected, rating)
			}
		})
	}
}

func TestParseProperties(t *testing.T) {
	tests := []struct {
		name     string
		props    map[string]interface{}
		expected PartialState
	}{
		{
			name: "tenant with aliased location and fraction rating",
			props: map[string]interface{}{
				"typeuser":       "tenant",
				"rentallocation": "Woollongong",
				"rating":         "4/5",
			},
			expected: PartialState{
				Category:       CategoryTenant,
				RentalLocation: "wollongong",
				RatingRaw:      "4/5",
			},
		},
		{
			name: "keys match case-insensitively and values are trimmed",
			props: map[string]interface{}{
				"TypeUser": "  Investor ",
				"Rating":   " 2 ",
				"FEEDBACK": " too slow ",
			},
			expected: PartialState{
				Category:  CategoryInvestor,
				RatingRaw: "2",
				Feedback:  "too slow",
			},
		},
		{
			name: "unrecognized category is ignored, not erred",
			props: map[string]interface{}{
				"typeuser": "landlord",
			},
			expected: PartialState{},
		},
		{
			name: "numeric and boolean values stringify",
			props: map[string]interface{}{
				"rating":                float64(4),
				"owneroccupierlocation": "Nowra",
				"somebool":              true,
			},
			expected: PartialState{
				RatingRaw:             "4",
				OwnerOccupierLocation: "nowra",
			},
		},
		{
			name:     "nil bag",
			props:    nil,
			expected: PartialState{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseProperties(tt.props, nil))
		})
	}
}

func TestNormalizeLocation(t *testing.T) {
	assert.Equal(t, "wollongong", NormalizeLocation("Woollongong", nil))
	assert.Equal(t, "nowra", NormalizeLocation("  Nowra ", nil))
	assert.Equal(t, "kiama", NormalizeLocation("KIAMA", map[string]string{"keeyama": "kiama"}))
	assert.Equal(t, "kiama", NormalizeLocation("Keeyama", map[string]string{"keeyama": "kiama"}))
}

func TestLocationTypeForCategory(t *testing.T) {
	assert.Equal(t, LocationTypeRental, LocationTypeForCategory(CategoryTenant))
	assert.Equal(t, LocationTypeInvestor, LocationTypeForCategory(CategoryInvestor))
	assert.Equal(t, LocationTypeOwnerOccupier, LocationTypeForCategory(CategoryOwnerOccupier))
	assert.Equal(t, "", LocationTypeForCategory("unknown"))
}
