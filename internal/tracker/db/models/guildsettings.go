package models

// GuildSettings holds the per-guild tracking configuration. Defaults match
// a fresh guild row; amounts are coins, the cap is seconds.
type GuildSettings struct {
	GuildID         int64   `db:"guildid"`
	HourlyReward    int64   `db:"hourly_reward"`
	HourlyLiveBonus int64   `db:"hourly_live_bonus"`
	DailyCapSeconds int64   `db:"daily_cap_seconds"`
	SlotPrice       int64   `db:"slot_price"`
	SlotBonus       int64   `db:"slot_bonus"`
	UntrackedRooms  []int64 `db:"untracked_rooms"`
	IgnoredMembers  []int64 `db:"ignored_members"`
	RentedRooms     []int64 `db:"rented_rooms"`
}

// Default guild settings, applied when no row exists.
const (
	DefaultHourlyReward    = 50
	DefaultHourlyLiveBonus = 150
	DefaultDailyCapSeconds = 16 * 60 * 60
	DefaultSlotPrice       = 10
	DefaultSlotBonus       = 50
)

// DefaultGuildSettings returns the settings used for a guild without a row.
func DefaultGuildSettings(guildID int64) *GuildSettings {
	return &GuildSettings{
		GuildID:         guildID,
		HourlyReward:    DefaultHourlyReward,
		HourlyLiveBonus: DefaultHourlyLiveBonus,
		DailyCapSeconds: DefaultDailyCapSeconds,
		SlotPrice:       DefaultSlotPrice,
		SlotBonus:       DefaultSlotBonus,
	}
}

// Untracked reports whether the room is excluded from presence tracking.
func (g *GuildSettings) Untracked(roomID int64) bool {
	for _, id := range g.UntrackedRooms {
		if id == roomID {
			return true
		}
	}
	return false
}

// Ignored reports whether the member is exempt from tracking in this guild.
func (g *GuildSettings) Ignored(memberID int64) bool {
	for _, id := range g.IgnoredMembers {
		if id == memberID {
			return true
		}
	}
	return false
}

// Rented reports whether the room is a rented private room.
func (g *GuildSettings) Rented(roomID int64) bool {
	for _, id := range g.RentedRooms {
		if id == roomID {
			return true
		}
	}
	return false
}
