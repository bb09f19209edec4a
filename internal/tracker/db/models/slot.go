package models

import (
	"database/sql"
	"time"

	"github.com/jackc/pgtype"

	"github.com/focusguild/focusguild/internal/common/uuid"
)

// Slot is a reservable future timed room for a guild, keyed by
// (guild, start_at) with start_at rounded to the hour. Room and message
// identities are null until the slot opens; opening happens exactly once.
// Slots are never deleted by the tracker (retained for attendance history).
type Slot struct {
	SlotID    uuid.UUID     `db:"slotid"`
	GuildID   int64         `db:"guildid"`
	StartAt   time.Time     `db:"start_at"`
	RoomID    sql.NullInt64 `db:"roomid"`
	MessageID sql.NullInt64 `db:"messageid"`
	Status    pgtype.JSONB  `db:"status"`
	CreatedAt time.Time     `db:"created_at"`
}

// Open reports whether the slot has been promoted to a live room.
func (s *Slot) Open() bool {
	return s.RoomID.Valid
}

// Reservation is one member's booking against a slot, with the price paid at
// booking time. JoinedAt and DurationSeconds record attendance once the slot
// has run.
type Reservation struct {
	SlotID          uuid.UUID    `db:"slotid"`
	MemberID        int64        `db:"memberid"`
	Paid            int64        `db:"paid"`
	JoinedAt        sql.NullTime `db:"joined_at"`
	DurationSeconds int64        `db:"duration"`
}

// ReservationInfo is a reservation joined with its slot, as used by booking
// validation and attendance reporting.
type ReservationInfo struct {
	SlotID          uuid.UUID
	GuildID         int64
	MemberID        int64
	Paid            int64
	StartAt         time.Time
	RoomID          sql.NullInt64
	JoinedAt        sql.NullTime
	DurationSeconds int64
}

// Attended reports whether the member showed up for the slot.
func (r *ReservationInfo) Attended() bool {
	return r.DurationSeconds > 0 || r.JoinedAt.Valid
}

// AttendeeCount is the number of confirmed reservations for one upcoming slot.
type AttendeeCount struct {
	SlotID  uuid.UUID
	StartAt time.Time
	Count   int
}
