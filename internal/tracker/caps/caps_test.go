package caps

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLocation(t *testing.T) {
	assert.Equal(t, time.UTC, Location(""))
	assert.Equal(t, time.UTC, Location("Not/AZone"))
	loc := Location("Asia/Tokyo")
	assert.Equal(t, "Asia/Tokyo", loc.String())
}

func TestDayStart(t *testing.T) {
	now := time.Date(2024, 3, 10, 15, 30, 0, 0, time.UTC)
	start := DayStart(now, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), start)

	// 15:30 UTC is already the next day in Tokyo (UTC+9).
	tokyo := Location("Asia/Tokyo")
	start = DayStart(now, tokyo)
	assert.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, tokyo), start)
}

func TestRemainingInDay(t *testing.T) {
	now := time.Date(2024, 3, 10, 22, 0, 0, 0, time.UTC)
	assert.EqualValues(t, 2*3600, RemainingInDay(now, time.UTC))
}

func TestRemainingToday(t *testing.T) {
	const capSeconds = 16 * 3600

	// Plenty of day left: allowance is the cap headroom.
	now := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	assert.EqualValues(t, capSeconds-3600,
		RemainingToday(now, time.UTC, capSeconds, 3600))

	// Cap already reached.
	assert.EqualValues(t, 0,
		RemainingToday(now, time.UTC, capSeconds, capSeconds))
	assert.EqualValues(t, 0,
		RemainingToday(now, time.UTC, capSeconds, capSeconds+100))

	// Near midnight with untouched cap: the session may run through
	// midnight and borrow the whole next day's cap.
	late := time.Date(2024, 3, 10, 23, 0, 0, 0, time.UTC)
	assert.EqualValues(t, 3600+capSeconds,
		RemainingToday(late, time.UTC, capSeconds, 0))
}

func TestRemainingTodayZeroCap(t *testing.T) {
	now := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	assert.EqualValues(t, 0, RemainingToday(now, time.UTC, 0, 0))
}
