package warehouse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDateKey(t *testing.T) {
	require.Equal(t, 20250607, dateKey(time.Date(2025, 6, 7, 0, 0, 0, 0, time.UTC)))
	require.Equal(t, 20240101, dateKey(time.Date(2024, 1, 1, 15, 4, 5, 0, time.UTC)))
}

func TestNewDimDate(t *testing.T) {
	// 2025-06-07 is a Saturday in Q2.
	d := newDimDate(time.Date(2025, 6, 7, 13, 45, 0, 0, time.UTC))
	require.Equal(t, 20250607, d.Key)
	require.Equal(t, 2025, d.Year)
	require.Equal(t, 2, d.Quarter)
	require.Equal(t, "June", d.MonthName)
	require.Equal(t, "Saturday", d.DayName)
	require.True(t, d.IsWeekend)

	d = newDimDate(time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC))
	require.Equal(t, 4, d.Quarter)
	require.False(t, d.IsWeekend)
}

func TestCalendarInclusiveRange(t *testing.T) {
	days := calendar(
		time.Date(2024, 2, 27, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	require.Len(t, days, 4) // leap year: Feb 27, 28, 29, Mar 1
	require.Equal(t, 20240229, days[2].Key)
}

func TestVersionAsOf(t *testing.T) {
	end := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	versions := []DimCustomer{
		{Key: 1, EffectiveDate: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), EndDate: &end},
		{Key: 2, EffectiveDate: time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC), IsCurrent: true},
	}

	v, ok := versionAsOf(versions, time.Date(2025, 6, 5, 0, 0, 0, 0, time.UTC), customerBounds)
	require.True(t, ok)
	require.Equal(t, int64(1), v.Key)

	// boundary day: end_date is inclusive
	v, ok = versionAsOf(versions, end, customerBounds)
	require.True(t, ok)
	require.Equal(t, int64(1), v.Key)

	v, ok = versionAsOf(versions, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), customerBounds)
	require.True(t, ok)
	require.Equal(t, int64(2), v.Key)

	_, ok = versionAsOf(versions, time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC), customerBounds)
	require.False(t, ok)
}
