package booking

import (
	"context"
	"time"

	"github.com/focusguild/focusguild/internal/common/apperrors"
	"github.com/focusguild/focusguild/internal/tracker/caps"
)

// Stats summarizes a member's slot attendance.
type Stats struct {
	Total         int
	Attended      int
	TotalDuration time.Duration
	CurrentStreak int
	LongestStreak int
}

// Stats computes the member's attendance record across their reservation
// history in the guild. Streaks count consecutive days with at least one
// attended slot; the current streak tolerates today having no attendance
// yet (it is not over until a full day passes without one).
func (e *Engine) Stats(ctx context.Context, guildID, memberID int64) (*Stats, apperrors.Error) {
	now := e.now()
	history, err := e.store.ReservationHistory(ctx, memberID, now)
	if err != nil {
		return nil, ErrBooking.Msg("failed to load reservation history").Err(err)
	}

	member, err := e.store.GetMember(ctx, guildID, memberID)
	if err != nil {
		return nil, ErrBooking.Msg("failed to load member").Err(err)
	}
	loc := caps.Location(member.Timezone)

	stats := &Stats{}
	attendedDays := make(map[time.Time]bool)
	for _, r := range history {
		if r.GuildID != guildID {
			continue
		}
		stats.Total++
		if !r.Attended() {
			continue
		}
		stats.Attended++
		stats.TotalDuration += time.Duration(r.DurationSeconds) * time.Second
		attendedDays[caps.DayStart(r.StartAt, loc)] = true
	}

	stats.CurrentStreak, stats.LongestStreak = streaks(attendedDays, caps.DayStart(now, loc))
	return stats, nil
}

// streaks walks the day buckets backwards from today. The current streak
// starts at today if attended, otherwise at yesterday; any older gap ends
// a run.
func streaks(attendedDays map[time.Time]bool, today time.Time) (current, longest int) {
	if len(attendedDays) == 0 {
		return 0, 0
	}

	day := today
	if !attendedDays[day] {
		day = day.AddDate(0, 0, -1)
	}
	for attendedDays[day] {
		current++
		day = day.AddDate(0, 0, -1)
	}

	// Longest run anywhere in history.
	for d := range attendedDays {
		if attendedDays[d.AddDate(0, 0, -1)] {
			continue // not the start of a run
		}
		run := 0
		for day := d; attendedDays[day]; day = day.AddDate(0, 0, 1) {
			run++
		}
		if run > longest {
			longest = run
		}
	}
	return current, longest
}
