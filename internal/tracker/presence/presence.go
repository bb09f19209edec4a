// Package presence carries voice-room presence through the daemon: typed
// update events, a pub/sub bus for delivering them, an in-memory roster of
// who is where, and the eligibility oracle that decides whether a member in
// a room is tracked at all.
package presence

import (
	"github.com/mitchellh/mapstructure"

	"github.com/focusguild/focusguild/internal/common/apperrors"
)

// Flags are a member's activity flags inside a room.
type Flags struct {
	Video  bool `mapstructure:"video"`
	Stream bool `mapstructure:"stream"`
}

// Live reports whether any live activity flag is set.
func (f Flags) Live() bool {
	return f.Video || f.Stream
}

// State is a member's room and flags at one instant. A zero RoomID means the
// member is in no monitored room.
type State struct {
	RoomID int64 `mapstructure:"room_id"`
	Flags  Flags `mapstructure:",squash"`
}

// Update is one presence transition for a member.
type Update struct {
	GuildID  int64 `mapstructure:"guild_id"`
	MemberID int64 `mapstructure:"member_id"`
	Prev     State `mapstructure:"prev"`
	Cur      State `mapstructure:"cur"`
}

// Joined reports whether the update puts the member into a room they were
// not in before.
func (u *Update) Joined() bool {
	return u.Cur.RoomID != 0 && u.Cur.RoomID != u.Prev.RoomID
}

// Left reports whether the update removes the member from a room.
func (u *Update) Left() bool {
	return u.Prev.RoomID != 0 && u.Cur.RoomID != u.Prev.RoomID
}

// Decode converts a raw feed payload into a typed Update. Identifiers may
// arrive as strings (feeds serialize 64-bit ids that way) and are coerced.
func Decode(raw map[string]any) (*Update, apperrors.Error) {
	var u Update
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &u,
		WeaklyTypedInput: true,
		ErrorUnused:      false,
	})
	if err != nil {
		return nil, ErrBadPayload.Err(err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, ErrBadPayload.Err(err)
	}
	if u.GuildID == 0 || u.MemberID == 0 {
		return nil, ErrBadPayload.Msg("missing guild or member id")
	}
	return &u, nil
}
