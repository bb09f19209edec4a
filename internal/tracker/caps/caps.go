// Package caps computes daily study allowances. All functions are pure;
// callers supply the current instant and the member's studied-today total.
package caps

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Location resolves a member's stored timezone name, falling back to UTC for
// unknown names rather than failing the session.
func Location(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Warn().Str("timezone", name).Msg("unknown timezone, using UTC")
		return time.UTC
	}
	return loc
}

// DayStart returns midnight of the current day in the member's timezone.
func DayStart(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	year, month, day := local.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, loc)
}

// RemainingInDay returns the seconds left until the member's next midnight.
func RemainingInDay(now time.Time, loc *time.Location) int64 {
	next := DayStart(now, loc).AddDate(0, 0, 1)
	return int64(next.Sub(now).Seconds())
}

// RemainingToday returns how many more seconds the member may study right
// now under the daily cap. When the cap headroom fits inside the current day
// the headroom is the answer; otherwise the session may run across midnight
// and continue into the next day's fresh cap.
func RemainingToday(now time.Time, loc *time.Location, capSeconds, studiedToday int64) int64 {
	if capSeconds <= 0 {
		return 0
	}
	headroom := capSeconds - studiedToday
	if headroom < 0 {
		headroom = 0
	}
	remaining := RemainingInDay(now, loc)
	if remaining >= headroom {
		return headroom
	}
	return remaining + capSeconds
}
