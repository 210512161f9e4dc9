// Package analytics orchestrates the report requests: period
// resolution, CRM fetches and assembly of the response payloads.
package analytics

import (
	"strings"
	"time"
)

// Period is the named reporting window a caller may request.
type Period string

const (
	PeriodToday     Period = "today"
	PeriodYesterday Period = "yesterday"
	PeriodWeek      Period = "week"
	PeriodMonth     Period = "month"
	PeriodQuarter   Period = "quarter"
	PeriodCustom    Period = "custom"
)

const dateLayout = "2006-01-02"

// DateRange is a resolved inclusive reporting window. Start sits at
// midnight, End at 23:59:59 of its day.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
}

// ResolvePeriod turns the query parameters into a concrete window.
// Unknown period names and custom requests missing either date fall
// back to the trailing seven days, never an error.
func ResolvePeriod(period Period, startDate, endDate string, now time.Time) DateRange {
	if period == PeriodCustom {
		start, startErr := time.ParseInLocation(dateLayout, strings.TrimSpace(startDate), now.Location())
		end, endErr := time.ParseInLocation(dateLayout, strings.TrimSpace(endDate), now.Location())
		if startErr == nil && endErr == nil {
			return DateRange{Start: startOfDay(start), End: endOfDay(end)}
		}
		return trailingDays(now, 7)
	}

	switch period {
	case PeriodToday:
		return DateRange{Start: startOfDay(now), End: endOfDay(now)}
	case PeriodYesterday:
		y := now.AddDate(0, 0, -1)
		return DateRange{Start: startOfDay(y), End: endOfDay(y)}
	case PeriodWeek:
		// Monday opens the reporting week.
		offset := (int(now.Weekday()) + 6) % 7
		monday := now.AddDate(0, 0, -offset)
		return DateRange{Start: startOfDay(monday), End: endOfDay(now)}
	case PeriodMonth:
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return DateRange{Start: first, End: endOfDay(now)}
	case PeriodQuarter:
		quarterMonth := time.Month((int(now.Month())-1)/3*3 + 1)
		first := time.Date(now.Year(), quarterMonth, 1, 0, 0, 0, 0, now.Location())
		return DateRange{Start: first, End: endOfDay(now)}
	default:
		return trailingDays(now, 7)
	}
}

func trailingDays(now time.Time, days int) DateRange {
	return DateRange{
		Start: startOfDay(now.AddDate(0, 0, -days)),
		End:   endOfDay(now),
	}
}
