package cleanse

import (
	"math"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.English)

// normalizeString trims surrounding whitespace; blank or whitespace-only
// values collapse to the empty string (stored as null).
func normalizeString(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}

// normalizeEmail lower-cases and trims the address.
func normalizeEmail(value *string) string {
	return strings.ToLower(normalizeString(value))
}

// normalizePhone reduces a phone number to its canonical form: digits only,
// keeping a single leading plus when present.
func normalizePhone(value *string) string {
	raw := normalizeString(value)
	if raw == "" {
		return ""
	}
	var b strings.Builder
	for idx, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && idx == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// normalizePlace title-cases city/state/country values so "austin" and
// "AUSTIN" compare equal in dimension tracking.
func normalizePlace(value *string) string {
	raw := normalizeString(value)
	if raw == "" {
		return ""
	}
	return titleCaser.String(strings.ToLower(raw))
}

// parseDate accepts the date formats seen in raw drops.
func parseDate(value *string) (time.Time, bool) {
	raw := normalizeString(value)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{"2006-01-02", "2006-01-02 15:04:05", time.RFC3339, "02/01/2006"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// recomputeLineTotal applies the business rule
// line_total = unit_price * quantity * (1 - discount/100), rounded to cents.
func recomputeLineTotal(unitPrice float64, quantity int, discountPct float64) float64 {
	return round2(unitPrice * float64(quantity) * (1 - discountPct/100))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
