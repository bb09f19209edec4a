package models

import (
	"database/sql"
	"time"
)

// RoomCategory classifies the monitored room a session runs in.
type RoomCategory string

const (
	RoomStandard  RoomCategory = "STANDARD"
	RoomRented    RoomCategory = "RENTED"
	RoomScheduled RoomCategory = "SCHEDULED"
)

// Session is one member's open presence session row. The reward rates are
// snapshotted at session start and immutable for the session's lifetime.
// The three live sub-timers (video, stream, combined) each carry a running
// start instant plus the accumulated duration of previous live periods.
type Session struct {
	GuildID  int64        `db:"guildid"`
	MemberID int64        `db:"memberid"`
	RoomID   int64        `db:"roomid"`
	Category RoomCategory `db:"category"`

	StartedAt time.Time `db:"started_at"`

	LiveStart      sql.NullTime `db:"live_start"`
	LiveDuration   int64        `db:"live_duration"`
	StreamStart    sql.NullTime `db:"stream_start"`
	StreamDuration int64        `db:"stream_duration"`
	VideoStart     sql.NullTime `db:"video_start"`
	VideoDuration  int64        `db:"video_duration"`

	HourlyCoins     int64 `db:"hourly_coins"`
	HourlyLiveCoins int64 `db:"hourly_live_coins"`
}

// LiveStatus is the sub-timer state written on an activity-flag change.
// All fields are computed against a single pivot instant.
type LiveStatus struct {
	LiveStart      sql.NullTime
	LiveDuration   int64
	StreamStart    sql.NullTime
	StreamDuration int64
	VideoStart     sql.NullTime
	VideoDuration  int64
}
