// Package calendartest builds small trading calendars for tests.
package calendartest

import (
	"testing"
	"time"

	"github.com/jing2uo/datascan/calendar"
)

func Date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Weekdays lists Monday to Friday in [from, to] minus holidays.
func Weekdays(from, to time.Time, holidays ...time.Time) calendar.Static {
	skip := make(map[time.Time]bool, len(holidays))
	for _, h := range holidays {
		skip[h] = true
	}
	var days calendar.Static
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday || skip[d] {
			continue
		}
		days = append(days, d)
	}
	return days
}

// SpringFestival2023 spans 2022-12-01..2023-03-31 with the 2023 New Year
// and Spring Festival closures.
func SpringFestival2023(t testing.TB) *calendar.Calendar {
	t.Helper()
	holidays := []time.Time{Date(2023, 1, 2)}
	for d := 23; d <= 27; d++ {
		holidays = append(holidays, Date(2023, 1, d))
	}
	cal, err := calendar.New(Weekdays(Date(2022, 12, 1), Date(2023, 3, 31), holidays...))
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	return cal
}
