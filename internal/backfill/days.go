// Package backfill walks a token's lifetime day by day and resolves a
// price for every local-midnight boundary since contract creation.
package backfill

import (
	"time"
)

// secondsPerDay is the fixed step between generated timestamps. Days
// are stepped by exactly 86400 seconds from the first midnight rather
// than re-deriving each civil midnight; the default timezone has no
// DST so the two never diverge there.
const secondsPerDay = 86400

// DefaultTimezone anchors the daily boundaries.
const DefaultTimezone = "Asia/Kolkata"

// DailyTimestamps returns one unix timestamp per day boundary in loc,
// from the first midnight at or after creation through today's
// midnight inclusive. The sequence is finite, ordered, and
// deterministic given now.
func DailyTimestamps(creation int64, loc *time.Location, now time.Time) []int64 {
	created := time.Unix(creation, 0).In(loc)
	first := time.Date(created.Year(), created.Month(), created.Day(), 0, 0, 0, 0, loc).Unix()
	if first < creation {
		first += secondsPerDay
	}

	local := now.In(loc)
	last := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).Unix()

	if first > last {
		return nil
	}

	days := make([]int64, 0, (last-first)/secondsPerDay+1)
	for ts := first; ts <= last; ts += secondsPerDay {
		days = append(days, ts)
	}
	return days
}
