package cleanse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func strp(s string) *string { return &s }

func TestNormalizeEmail(t *testing.T) {
	require.Equal(t, "jane.doe@example.com", normalizeEmail(strp("  Jane.Doe@Example.COM ")))
	require.Equal(t, "", normalizeEmail(nil))
	require.Equal(t, "", normalizeEmail(strp("   ")))
}

func TestNormalizePhone(t *testing.T) {
	require.Equal(t, "+14155552671", normalizePhone(strp("+1 (415) 555-2671")))
	require.Equal(t, "4155552671", normalizePhone(strp("415.555.2671")))
	require.Equal(t, "", normalizePhone(strp("")))
}

func TestNormalizePlace(t *testing.T) {
	require.Equal(t, "Austin", normalizePlace(strp("austin")))
	require.Equal(t, "Austin", normalizePlace(strp("AUSTIN")))
	require.Equal(t, "New York", normalizePlace(strp("  new YORK ")))
	require.Equal(t, "", normalizePlace(nil))
}

func TestParseDate(t *testing.T) {
	want := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)

	for _, raw := range []string{"2025-03-14", "2025-03-14 09:30:00", "2025-03-14T09:30:00Z", "14/03/2025"} {
		got, ok := parseDate(strp(raw))
		require.True(t, ok, raw)
		require.Equal(t, want, got, raw)
	}

	_, ok := parseDate(strp("not a date"))
	require.False(t, ok)
	_, ok = parseDate(nil)
	require.False(t, ok)
}

func TestRecomputeLineTotal(t *testing.T) {
	// 3 * 19.99 * (1 - 10/100) = 53.973 -> 53.97
	require.Equal(t, 53.97, recomputeLineTotal(19.99, 3, 10))
	require.Equal(t, 39.98, recomputeLineTotal(19.99, 2, 0))
	require.Equal(t, 0.0, recomputeLineTotal(19.99, 2, 100))
}
