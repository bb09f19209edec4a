package accrual

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/focusguild/focusguild/internal/common/apperrors"
	"github.com/focusguild/focusguild/internal/tracker/db/dbtest"
	"github.com/focusguild/focusguild/internal/tracker/db/models"
	"github.com/focusguild/focusguild/internal/tracker/economy"
	"github.com/focusguild/focusguild/internal/tracker/presence"
)

const (
	guild  int64 = 1
	member int64 = 2
	room   int64 = 3
)

type fixture struct {
	scanner *Scanner
	store   *dbtest.Fake
	ledger  *economy.Ledger
	roster  *presence.MemoryRoster
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  dbtest.NewFake(),
		roster: presence.NewMemoryRoster(),
		now:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.ledger = economy.New(f.store)
	f.scanner = New(f.store, f.ledger, f.roster, presence.NewOracle(f.store, nil), 20*time.Minute)
	f.scanner.SetClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) flushed(t *testing.T) (int64, int64) {
	t.Helper()
	require.NoError(t, f.ledger.Flush(context.Background()))
	return f.store.Coins(guild, member), f.store.TrackedSeconds(guild, member)
}

func TestFirstTickOnlyRecords(t *testing.T) {
	f := newFixture(t)
	f.roster.Apply(&presence.Update{GuildID: guild, MemberID: member, Cur: presence.State{RoomID: room}})

	f.scanner.Tick(context.Background())
	coins, seconds := f.flushed(t)
	assert.EqualValues(t, 0, coins)
	assert.EqualValues(t, 0, seconds)

	_, seen := f.scanner.LastScan(guild)
	assert.True(t, seen)
}

func TestScanCreditsTimeAndCoins(t *testing.T) {
	f := newFixture(t)
	// Hourly rate 6, no live bonus: a 1800s interval yields 3 coins.
	f.store.SetSettings(&models.GuildSettings{
		GuildID:         guild,
		HourlyReward:    6,
		DailyCapSeconds: models.DefaultDailyCapSeconds,
	})
	f.roster.Apply(&presence.Update{GuildID: guild, MemberID: member, Cur: presence.State{RoomID: room}})

	f.scanner.Tick(context.Background())
	f.now = f.now.Add(1800 * time.Second)
	f.scanner.Tick(context.Background())

	coins, seconds := f.flushed(t)
	assert.EqualValues(t, 3, coins)
	assert.EqualValues(t, 1800, seconds)
}

func TestScanLiveBonus(t *testing.T) {
	f := newFixture(t)
	f.store.SetSettings(&models.GuildSettings{
		GuildID:         guild,
		HourlyReward:    50,
		HourlyLiveBonus: 150,
		DailyCapSeconds: models.DefaultDailyCapSeconds,
	})
	f.roster.Apply(&presence.Update{
		GuildID:  guild,
		MemberID: member,
		Cur:      presence.State{RoomID: room, Flags: presence.Flags{Stream: true}},
	})

	f.scanner.Tick(context.Background())
	f.now = f.now.Add(18 * time.Minute)
	f.scanner.Tick(context.Background())

	coins, _ := f.flushed(t)
	// (50 + 150) * 1080 / 3600
	assert.EqualValues(t, 60, coins)
}

func TestScanOverCeilingDiscards(t *testing.T) {
	f := newFixture(t)
	f.roster.Apply(&presence.Update{GuildID: guild, MemberID: member, Cur: presence.State{RoomID: room}})

	f.scanner.Tick(context.Background())
	f.now = f.now.Add(45 * time.Minute)
	f.scanner.Tick(context.Background())

	coins, seconds := f.flushed(t)
	assert.EqualValues(t, 0, coins)
	assert.EqualValues(t, 0, seconds)

	// The discarded tick still advanced the mark, so the next interval is
	// measured from it.
	f.now = f.now.Add(10 * time.Minute)
	f.scanner.Tick(context.Background())
	_, seconds = f.flushed(t)
	assert.EqualValues(t, 600, seconds)
}

func TestScanSkipsIneligible(t *testing.T) {
	f := newFixture(t)
	f.store.SetSettings(&models.GuildSettings{
		GuildID:         guild,
		HourlyReward:    6,
		DailyCapSeconds: models.DefaultDailyCapSeconds,
		IgnoredMembers:  []int64{member},
	})
	f.roster.Apply(&presence.Update{GuildID: guild, MemberID: member, Cur: presence.State{RoomID: room}})

	f.scanner.Tick(context.Background())
	f.now = f.now.Add(10 * time.Minute)
	f.scanner.Tick(context.Background())

	coins, seconds := f.flushed(t)
	assert.EqualValues(t, 0, coins)
	assert.EqualValues(t, 0, seconds)
}

// failingOracle errors for one guild and allows everyone else.
type failingOracle struct {
	fail int64
}

func (o failingOracle) Eligible(ctx context.Context, guildID, memberID, roomID int64) (bool, apperrors.Error) {
	if guildID == o.fail {
		return false, presence.ErrPresence.Msg("induced failure")
	}
	return true, nil
}

func TestScanGuildIsolation(t *testing.T) {
	f := newFixture(t)
	other := guild + 1
	f.scanner = New(f.store, f.ledger, f.roster, failingOracle{fail: guild}, 20*time.Minute)
	f.scanner.SetClock(func() time.Time { return f.now })

	f.roster.Apply(&presence.Update{GuildID: guild, MemberID: member, Cur: presence.State{RoomID: room}})
	f.roster.Apply(&presence.Update{GuildID: other, MemberID: member, Cur: presence.State{RoomID: room}})

	f.scanner.Tick(context.Background())
	f.now = f.now.Add(10 * time.Minute)
	f.scanner.Tick(context.Background())

	// The failing guild's scan is logged and dropped; the other guild is
	// still credited.
	require.NoError(t, f.ledger.Flush(context.Background()))
	assert.EqualValues(t, 0, f.store.TrackedSeconds(guild, member))
	assert.EqualValues(t, 600, f.store.TrackedSeconds(other, member))
}
