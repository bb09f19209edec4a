package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/focusguild/focusguild/internal/common/apperrors"
	"github.com/focusguild/focusguild/internal/tracker/db/dbtest"
	"github.com/focusguild/focusguild/internal/tracker/db/models"
	"github.com/focusguild/focusguild/internal/tracker/presence"
)

const (
	guild  int64 = 11
	member int64 = 22
	room   int64 = 33
)

// testClock is a settable clock shared between tracker and fake store.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type allowAll struct{}

func (allowAll) Eligible(ctx context.Context, guildID, memberID, roomID int64) (bool, apperrors.Error) {
	return true, nil
}

func newTestTracker(t *testing.T) (*Tracker, *dbtest.Fake, *testClock) {
	t.Helper()
	clock := newTestClock()
	store := dbtest.NewFake()
	store.Now = clock.Now
	tracker := New(store, allowAll{})
	tracker.SetClock(clock.Now)
	return tracker, store, clock
}

func TestStartCreatesSession(t *testing.T) {
	ctx := context.Background()
	tracker, store, _ := newTestTracker(t)

	require.NoError(t, tracker.Start(ctx, guild, member, room, presence.Flags{}))
	assert.True(t, tracker.IsActive(guild, member))
	assert.Equal(t, 1, tracker.ActiveCount(guild))

	sess, err := store.GetSession(ctx, guild, member)
	require.NoError(t, err)
	assert.EqualValues(t, room, sess.RoomID)
	assert.Equal(t, models.RoomStandard, sess.Category)
	assert.EqualValues(t, models.DefaultHourlyReward, sess.HourlyCoins)
	assert.EqualValues(t, models.DefaultHourlyLiveBonus, sess.HourlyLiveCoins)
	assert.False(t, sess.LiveStart.Valid)
}

func TestStartAlreadyActive(t *testing.T) {
	ctx := context.Background()
	tracker, _, _ := newTestTracker(t)

	require.NoError(t, tracker.Start(ctx, guild, member, room, presence.Flags{}))
	err := tracker.Start(ctx, guild, member, room, presence.Flags{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyActive)
	assert.Equal(t, 1, tracker.ActiveCount(0))
}

func TestStartSnapshotsLiveFlags(t *testing.T) {
	ctx := context.Background()
	tracker, store, clock := newTestTracker(t)

	require.NoError(t, tracker.Start(ctx, guild, member, room, presence.Flags{Video: true}))
	sess, err := store.GetSession(ctx, guild, member)
	require.NoError(t, err)
	assert.True(t, sess.LiveStart.Valid)
	assert.True(t, sess.VideoStart.Valid)
	assert.False(t, sess.StreamStart.Valid)
	assert.Equal(t, clock.Now(), sess.VideoStart.Time)
}

func TestStartCappedDefersToPending(t *testing.T) {
	ctx := context.Background()
	tracker, store, clock := newTestTracker(t)

	// One hour cap, already studied a full hour today.
	store.SetSettings(&models.GuildSettings{
		GuildID:         guild,
		HourlyReward:    models.DefaultHourlyReward,
		DailyCapSeconds: 3600,
	})
	store.AddHistory(guild, member, clock.Now().Add(-2*time.Hour), clock.Now().Add(-time.Hour))

	require.NoError(t, tracker.Start(ctx, guild, member, room, presence.Flags{}))
	assert.False(t, tracker.IsActive(guild, member))
	_, err := store.GetSession(ctx, guild, member)
	require.Error(t, err)

	// Cancelling the deferred start twice is a no-op the second time.
	tracker.CancelPending(guild, member)
	tracker.CancelPending(guild, member)
}

func TestSubTimerFold(t *testing.T) {
	ctx := context.Background()
	tracker, store, clock := newTestTracker(t)

	require.NoError(t, tracker.Start(ctx, guild, member, room, presence.Flags{Video: true}))
	clock.Advance(90 * time.Second)
	require.NoError(t, tracker.UpdateLiveStatus(ctx, guild, member, presence.Flags{}))

	sess, err := store.GetSession(ctx, guild, member)
	require.NoError(t, err)
	assert.EqualValues(t, 90, sess.VideoDuration)
	assert.EqualValues(t, 90, sess.LiveDuration)
	assert.False(t, sess.VideoStart.Valid)
	assert.False(t, sess.LiveStart.Valid)
	assert.EqualValues(t, 0, sess.StreamDuration)
}

func TestSubTimerSwitchKeepsCombinedRunning(t *testing.T) {
	ctx := context.Background()
	tracker, store, clock := newTestTracker(t)

	require.NoError(t, tracker.Start(ctx, guild, member, room, presence.Flags{Video: true}))
	clock.Advance(60 * time.Second)

	// Video off, stream on in the same update: the combined timer keeps
	// running while video folds and stream starts at the pivot.
	require.NoError(t, tracker.UpdateLiveStatus(ctx, guild, member, presence.Flags{Stream: true}))

	sess, err := store.GetSession(ctx, guild, member)
	require.NoError(t, err)
	assert.EqualValues(t, 60, sess.VideoDuration)
	assert.True(t, sess.LiveStart.Valid)
	assert.EqualValues(t, 0, sess.LiveDuration)
	assert.True(t, sess.StreamStart.Valid)
	assert.Equal(t, clock.Now(), sess.StreamStart.Time)
}

func TestFinishIdempotent(t *testing.T) {
	ctx := context.Background()
	tracker, store, clock := newTestTracker(t)

	require.NoError(t, tracker.Start(ctx, guild, member, room, presence.Flags{}))
	clock.Advance(30 * time.Minute)
	require.NoError(t, tracker.Finish(ctx, guild, member))
	assert.False(t, tracker.IsActive(guild, member))
	assert.Equal(t, 1, store.HistoryCount(guild, member))

	// Finishing again is a no-op.
	require.NoError(t, tracker.Finish(ctx, guild, member))
	assert.Equal(t, 1, store.HistoryCount(guild, member))
}

func TestHandleUpdateExit(t *testing.T) {
	ctx := context.Background()
	tracker, store, _ := newTestTracker(t)

	require.NoError(t, tracker.Start(ctx, guild, member, room, presence.Flags{}))
	tracker.HandleUpdate(ctx, &presence.Update{
		GuildID:  guild,
		MemberID: member,
		Prev:     presence.State{RoomID: room},
	})
	assert.False(t, tracker.IsActive(guild, member))
	assert.Equal(t, 1, store.HistoryCount(guild, member))
}

func TestHandleUpdateRoomMismatchStillFinishes(t *testing.T) {
	ctx := context.Background()
	tracker, store, _ := newTestTracker(t)

	require.NoError(t, tracker.Start(ctx, guild, member, room, presence.Flags{}))
	// Event claims the member left a different room than recorded; the
	// inconsistency is logged but the finish proceeds.
	tracker.HandleUpdate(ctx, &presence.Update{
		GuildID:  guild,
		MemberID: member,
		Prev:     presence.State{RoomID: room + 1},
	})
	assert.False(t, tracker.IsActive(guild, member))
	assert.Equal(t, 1, store.HistoryCount(guild, member))
}

func TestHandleUpdateEntry(t *testing.T) {
	ctx := context.Background()
	tracker, _, _ := newTestTracker(t)

	tracker.HandleUpdate(ctx, &presence.Update{
		GuildID:  guild,
		MemberID: member,
		Cur:      presence.State{RoomID: room},
	})
	assert.True(t, tracker.IsActive(guild, member))
}

func TestHandleUpdateMove(t *testing.T) {
	ctx := context.Background()
	tracker, store, clock := newTestTracker(t)

	require.NoError(t, tracker.Start(ctx, guild, member, room, presence.Flags{}))
	clock.Advance(time.Minute)
	tracker.HandleUpdate(ctx, &presence.Update{
		GuildID:  guild,
		MemberID: member,
		Prev:     presence.State{RoomID: room},
		Cur:      presence.State{RoomID: room + 1},
	})
	assert.True(t, tracker.IsActive(guild, member))
	assert.Equal(t, 1, store.HistoryCount(guild, member))

	sess, err := store.GetSession(context.Background(), guild, member)
	require.NoError(t, err)
	assert.EqualValues(t, room+1, sess.RoomID)
}

func TestHandleUpdateFlagsOnly(t *testing.T) {
	ctx := context.Background()
	tracker, store, clock := newTestTracker(t)

	require.NoError(t, tracker.Start(ctx, guild, member, room, presence.Flags{}))
	clock.Advance(10 * time.Second)
	tracker.HandleUpdate(ctx, &presence.Update{
		GuildID:  guild,
		MemberID: member,
		Prev:     presence.State{RoomID: room},
		Cur:      presence.State{RoomID: room, Flags: presence.Flags{Stream: true}},
	})

	sess, err := store.GetSession(ctx, guild, member)
	require.NoError(t, err)
	assert.True(t, sess.StreamStart.Valid)
	assert.True(t, sess.LiveStart.Valid)
}

func TestHandleUpdateIneligibleEntry(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	store := dbtest.NewFake()
	store.Now = clock.Now
	store.SetSettings(&models.GuildSettings{
		GuildID:         guild,
		DailyCapSeconds: models.DefaultDailyCapSeconds,
		UntrackedRooms:  []int64{room},
	})
	tracker := New(store, presence.NewOracle(store, nil))
	tracker.SetClock(clock.Now)

	tracker.HandleUpdate(ctx, &presence.Update{
		GuildID:  guild,
		MemberID: member,
		Cur:      presence.State{RoomID: room},
	})
	assert.False(t, tracker.IsActive(guild, member))
}

func TestExpireReschedulesThenFinishes(t *testing.T) {
	ctx := context.Background()
	tracker, store, clock := newTestTracker(t)
	store.SetSettings(&models.GuildSettings{GuildID: guild, DailyCapSeconds: 3600})

	require.NoError(t, tracker.Start(ctx, guild, member, room, presence.Flags{}))

	key := memberKey{guild, member}
	tracker.mu.Lock()
	entry := tracker.active[key]
	gen := entry.gen
	entry.expiry.Stop()
	tracker.mu.Unlock()

	// Budget still positive when the timer fires: the expiry reschedules
	// instead of finishing.
	tracker.expire(key, gen)
	assert.True(t, tracker.IsActive(guild, member))

	// A stale generation is ignored.
	tracker.expire(key, gen+1)
	assert.True(t, tracker.IsActive(guild, member))

	// Cap now exhausted: the expiry finishes the session.
	clock.Advance(2 * time.Hour)
	tracker.expire(key, gen)
	assert.False(t, tracker.IsActive(guild, member))
	assert.Equal(t, 1, store.HistoryCount(guild, member))
}

func TestResume(t *testing.T) {
	ctx := context.Background()
	tracker, store, clock := newTestTracker(t)

	// Two persisted open rows: one member still present in the recorded
	// room, one gone.
	started := clock.Now().Add(-30 * time.Minute)
	require.NoError(t, store.CreateSession(ctx, &models.Session{
		GuildID: guild, MemberID: member, RoomID: room, StartedAt: started,
	}))
	require.NoError(t, store.CreateSession(ctx, &models.Session{
		GuildID: guild, MemberID: member + 1, RoomID: room, StartedAt: started,
	}))

	roster := presence.NewMemoryRoster()
	roster.Seed([]presence.Member{
		{GuildID: guild, MemberID: member, RoomID: room, Flags: presence.Flags{Video: true}},
		{GuildID: guild, MemberID: member + 2, RoomID: room},
	})

	require.NoError(t, tracker.Resume(ctx, roster))

	// Still-present member resumed, with sub-timers re-derived from
	// current flags.
	assert.True(t, tracker.IsActive(guild, member))
	sess, err := store.GetSession(ctx, guild, member)
	require.NoError(t, err)
	assert.True(t, sess.VideoStart.Valid)

	// Absent member's row was closed, not resumed.
	assert.False(t, tracker.IsActive(guild, member+1))
	assert.Equal(t, 1, store.HistoryCount(guild, member+1))

	// Present member with no row got a fresh session.
	assert.True(t, tracker.IsActive(guild, member+2))
}
