package ranker

import (
	"errors"
	"fmt"
	"time"
)

// PeriodType names the granularity of one leaderboard window.
type PeriodType string

const (
	Daily   PeriodType = "daily"
	Monthly PeriodType = "monthly"
	Yearly  PeriodType = "yearly"
)

// Period identifies one concrete window, e.g. {monthly, "2024-02"}.
// Key formats: daily YYYY-MM-DD, monthly YYYY-MM, yearly YYYY.
type Period struct {
	Type PeriodType
	Key  string
}

func (p Period) String() string {
	return string(p.Type) + "/" + p.Key
}

var ErrUnknownPeriodType = errors.New("unknown period type")

const (
	dayLayout   = "2006-01-02"
	monthLayout = "2006-01"
	yearLayout  = "2006"
)

// Resolve maps a period to its inclusive [start, end] date range. Pure; the
// returned times are midnight UTC markers for calendar dates, not instants.
func Resolve(periodType PeriodType, periodKey string) (start, end time.Time, err error) {
	switch periodType {
	case Daily:
		start, err = time.Parse(dayLayout, periodKey)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid daily key %q: %w", periodKey, err)
		}
		return start, start, nil
	case Monthly:
		start, err = time.Parse(monthLayout, periodKey)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid monthly key %q: %w", periodKey, err)
		}
		// Day zero of the next month is the last day of this one, leap
		// years included.
		end = time.Date(start.Year(), start.Month()+1, 0, 0, 0, 0, 0, time.UTC)
		return start, end, nil
	case Yearly:
		start, err = time.Parse(yearLayout, periodKey)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid yearly key %q: %w", periodKey, err)
		}
		end = time.Date(start.Year(), time.December, 31, 0, 0, 0, 0, time.UTC)
		return start, end, nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %q", ErrUnknownPeriodType, periodType)
	}
}

// KST returns the fixed reference zone used to derive default periods.
func KST() *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
}

// DefaultPeriods derives the standard run set from the given local time:
// yesterday's and today's daily windows, the current month and the current
// year. Yesterday is included so the first run after midnight finalizes it.
func DefaultPeriods(now time.Time) []Period {
	yesterday := now.AddDate(0, 0, -1)
	return []Period{
		{Type: Daily, Key: yesterday.Format(dayLayout)},
		{Type: Daily, Key: now.Format(dayLayout)},
		{Type: Monthly, Key: now.Format(monthLayout)},
		{Type: Yearly, Key: now.Format(yearLayout)},
	}
}
