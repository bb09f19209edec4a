package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/focusguild/focusguild/internal/tracker/db/dbtest"
	"github.com/focusguild/focusguild/internal/tracker/db/models"
)

func TestDecode(t *testing.T) {
	raw := map[string]any{
		"guild_id":  "123456789012345678",
		"member_id": "876543210987654321",
		"prev": map[string]any{
			"room_id": "0",
		},
		"cur": map[string]any{
			"room_id": "555",
			"video":   true,
		},
	}
	u, err := Decode(raw)
	require.NoError(t, err)
	assert.EqualValues(t, 123456789012345678, u.GuildID)
	assert.EqualValues(t, 876543210987654321, u.MemberID)
	assert.EqualValues(t, 0, u.Prev.RoomID)
	assert.EqualValues(t, 555, u.Cur.RoomID)
	assert.True(t, u.Cur.Flags.Video)
	assert.False(t, u.Cur.Flags.Stream)
	assert.True(t, u.Joined())
	assert.False(t, u.Left())
}

func TestDecodeMissingIDs(t *testing.T) {
	_, err := Decode(map[string]any{"member_id": 5})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadPayload)
}

func TestFlagsLive(t *testing.T) {
	assert.False(t, Flags{}.Live())
	assert.True(t, Flags{Video: true}.Live())
	assert.True(t, Flags{Stream: true}.Live())
}

func TestUpdateTransitions(t *testing.T) {
	move := &Update{Prev: State{RoomID: 1}, Cur: State{RoomID: 2}}
	assert.True(t, move.Joined())
	assert.True(t, move.Left())

	flagsOnly := &Update{Prev: State{RoomID: 1}, Cur: State{RoomID: 1, Flags: Flags{Video: true}}}
	assert.False(t, flagsOnly.Joined())
	assert.False(t, flagsOnly.Left())
}

func TestRosterApply(t *testing.T) {
	r := NewMemoryRoster()
	r.Apply(&Update{GuildID: 1, MemberID: 10, Cur: State{RoomID: 100}})
	r.Apply(&Update{GuildID: 1, MemberID: 11, Cur: State{RoomID: 100, Flags: Flags{Stream: true}}})

	assert.ElementsMatch(t, []int64{1}, r.Guilds())
	assert.Len(t, r.Members(1), 2)

	m, ok := r.Lookup(1, 11)
	require.True(t, ok)
	assert.True(t, m.Flags.Stream)

	// Leaving removes the member; an empty guild disappears.
	r.Apply(&Update{GuildID: 1, MemberID: 10, Prev: State{RoomID: 100}})
	r.Apply(&Update{GuildID: 1, MemberID: 11, Prev: State{RoomID: 100}})
	assert.Empty(t, r.Guilds())
	_, ok = r.Lookup(1, 10)
	assert.False(t, ok)
}

func TestRosterSeed(t *testing.T) {
	r := NewMemoryRoster()
	r.Seed([]Member{
		{GuildID: 1, MemberID: 10, RoomID: 100},
		{GuildID: 2, MemberID: 20, RoomID: 200, Flags: Flags{Video: true}},
		{GuildID: 2, MemberID: 21}, // not in a room, skipped
	})
	assert.Len(t, r.Members(1), 1)
	assert.Len(t, r.Members(2), 1)
}

func TestBusRouting(t *testing.T) {
	bus := NewBus()
	defer bus.Shutdown()

	guildCh, unsubGuild := bus.Subscribe(Topic(1), 4)
	defer unsubGuild()
	allCh, unsubAll := bus.Subscribe(Topic(0), 4)
	defer unsubAll()

	bus.Publish(&Update{GuildID: 1, MemberID: 10}, time.Second)
	bus.Publish(&Update{GuildID: 2, MemberID: 20}, time.Second)

	u := <-guildCh
	assert.EqualValues(t, 1, u.GuildID)
	select {
	case extra := <-guildCh:
		t.Fatalf("unexpected delivery for guild %d", extra.GuildID)
	default:
	}

	assert.EqualValues(t, 1, (<-allCh).GuildID)
	assert.EqualValues(t, 2, (<-allCh).GuildID)
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(Topic(1), 1)
	unsub()
	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe must not panic.
	bus.Publish(&Update{GuildID: 1, MemberID: 10}, time.Second)
}

func TestOracle(t *testing.T) {
	ctx := context.Background()
	store := dbtest.NewFake()
	store.SetSettings(&models.GuildSettings{
		GuildID:        1,
		UntrackedRooms: []int64{666},
		IgnoredMembers: []int64{13},
	})
	oracle := NewOracle(store, []int64{999})

	ok, err := oracle.Eligible(ctx, 1, 10, 100)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = oracle.Eligible(ctx, 1, 13, 100)
	assert.False(t, ok)

	ok, _ = oracle.Eligible(ctx, 1, 10, 666)
	assert.False(t, ok)

	ok, _ = oracle.Eligible(ctx, 1, 999, 100)
	assert.False(t, ok)

	// Guild without a settings row falls back to defaults: everything
	// tracked.
	ok, _ = oracle.Eligible(ctx, 2, 10, 100)
	assert.True(t, ok)
}
