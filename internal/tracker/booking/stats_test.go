package booking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/focusguild/focusguild/internal/common/uuid"
	"github.com/focusguild/focusguild/internal/tracker/db/models"
)

// seedSlot creates a past slot with the member booked and, if attended, a
// recorded join.
func seedSlot(t *testing.T, f *fixture, startAt time.Time, attended bool) {
	t.Helper()
	ctx := context.Background()
	slot := &models.Slot{SlotID: uuid.New(), GuildID: guild, StartAt: startAt}
	require.NoError(t, f.store.InsertSlots(ctx, []*models.Slot{slot}))
	require.NoError(t, f.store.InsertReservations(ctx, []*models.Reservation{
		{SlotID: slot.SlotID, MemberID: member, Paid: 10},
	}))
	if attended {
		require.NoError(t, f.store.RecordAttendance(ctx, slot.SlotID, member, startAt))
	}
}

func TestStatsEmpty(t *testing.T) {
	f := newFixture(t, 11*time.Minute)
	stats, err := f.engine.Stats(context.Background(), guild, member)
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
	assert.Zero(t, stats.CurrentStreak)
	assert.Zero(t, stats.LongestStreak)
}

func TestStatsStreaks(t *testing.T) {
	f := newFixture(t, 11*time.Minute)
	day := func(n int, hour int) time.Time {
		return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC).
			AddDate(0, 0, n).Add(time.Duration(hour) * time.Hour)
	}
	// now is 2024-05-01 09:00 UTC. Attended yesterday and the day
	// before; missed one slot three days ago; an older three-day run
	// from -9 to -7.
	seedSlot(t, f, day(-1, 8), true)
	seedSlot(t, f, day(-2, 8), true)
	seedSlot(t, f, day(-3, 8), false)
	seedSlot(t, f, day(-7, 8), true)
	seedSlot(t, f, day(-8, 8), true)
	seedSlot(t, f, day(-9, 8), true)

	stats, err := f.engine.Stats(context.Background(), guild, member)
	require.NoError(t, err)
	assert.Equal(t, 6, stats.Total)
	assert.Equal(t, 5, stats.Attended)

	// No attendance yet today: the run ending yesterday still counts as
	// the current streak.
	assert.Equal(t, 2, stats.CurrentStreak)
	assert.Equal(t, 3, stats.LongestStreak)
}

func TestStatsAttendanceToday(t *testing.T) {
	f := newFixture(t, 11*time.Minute)
	today := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	seedSlot(t, f, today, true)
	seedSlot(t, f, today.AddDate(0, 0, -1), true)

	stats, err := f.engine.Stats(context.Background(), guild, member)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.CurrentStreak)
	assert.Equal(t, 2, stats.LongestStreak)
}
