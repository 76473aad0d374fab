package warehouse

import "time"

// dateKey derives the deterministic YYYYMMDD surrogate key for a day.
func dateKey(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

func newDimDate(t time.Time) DimDate {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	_, week := day.ISOWeek()
	wd := day.Weekday()
	return DimDate{
		Key:        dateKey(day),
		Date:       day,
		Year:       day.Year(),
		Quarter:    (int(day.Month())-1)/3 + 1,
		Month:      int(day.Month()),
		Day:        day.Day(),
		MonthName:  day.Month().String(),
		DayName:    wd.String(),
		WeekOfYear: week,
		IsWeekend:  wd == time.Saturday || wd == time.Sunday,
	}
}

// calendar yields one DimDate per day of [start, end], inclusive.
func calendar(start, end time.Time) []DimDate {
	start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	end = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	var days []DimDate
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, newDimDate(d))
	}
	return days
}
