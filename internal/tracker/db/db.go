// Package db provides the storage interfaces and PostgreSQL implementation
// for the tracker. The interfaces are split per concern so engines depend
// only on the stores they use, and tests can substitute in-memory fakes.
package db

import (
	"context"
	"time"

	"github.com/focusguild/focusguild/internal/common/apperrors"
	"github.com/focusguild/focusguild/internal/common/uuid"
	"github.com/focusguild/focusguild/internal/tracker/db/dbmanager"
	"github.com/focusguild/focusguild/internal/tracker/db/models"
	"github.com/focusguild/focusguild/internal/tracker/db/postgres"
)

// MemberStore manages member economy rows.
type MemberStore interface {
	// GetMember fetches a member row, creating it with defaults if absent.
	GetMember(ctx context.Context, guildID, memberID int64) (*models.Member, apperrors.Error)
	// ApplyCredits applies a batch of pending coin/time credits.
	ApplyCredits(ctx context.Context, credits []models.PendingCredit) apperrors.Error
	// DebitMember atomically subtracts amount from the member's coins.
	// Returns dberror.ErrInvalidInput if the balance would go negative.
	DebitMember(ctx context.Context, guildID, memberID, amount int64) apperrors.Error
}

// SessionStore manages open session rows and the session history.
type SessionStore interface {
	CreateSession(ctx context.Context, session *models.Session) apperrors.Error
	GetSession(ctx context.Context, guildID, memberID int64) (*models.Session, apperrors.Error)
	ListOpenSessions(ctx context.Context) ([]*models.Session, apperrors.Error)
	// UpdateLiveStatus writes the sub-timer state for an open session.
	UpdateLiveStatus(ctx context.Context, guildID, memberID int64, status models.LiveStatus) apperrors.Error
	// CloseSession folds the open session into history and member totals,
	// then deletes the open row. Closing an absent session is a no-op.
	CloseSession(ctx context.Context, guildID, memberID int64, endedAt time.Time) apperrors.Error
	// StudyTimeSince returns the member's tracked seconds since the given
	// instant, including the open session if one exists.
	StudyTimeSince(ctx context.Context, guildID, memberID int64, since time.Time) (int64, apperrors.Error)
}

// SlotStore manages slot and reservation rows.
type SlotStore interface {
	SlotsAt(ctx context.Context, guildID int64, times []time.Time) ([]*models.Slot, apperrors.Error)
	InsertSlots(ctx context.Context, slots []*models.Slot) apperrors.Error
	GetSlot(ctx context.Context, slotID uuid.UUID) (*models.Slot, apperrors.Error)
	// DueSlots returns slots whose start time has arrived but which have no
	// live room yet.
	DueSlots(ctx context.Context, now time.Time) ([]*models.Slot, apperrors.Error)
	// MarkSlotOpen records the live room identities for a slot. Returns
	// false if the slot was already open (the update is guarded on the room
	// id being null, so opening happens exactly once).
	MarkSlotOpen(ctx context.Context, slotID uuid.UUID, roomID, messageID int64) (bool, apperrors.Error)
	UpdateSlotStatus(ctx context.Context, slotID uuid.UUID, status []byte) apperrors.Error

	InsertReservations(ctx context.Context, reservations []*models.Reservation) apperrors.Error
	// RecordAttendance stamps the member's join instant on a reservation,
	// first join wins.
	RecordAttendance(ctx context.Context, slotID uuid.UUID, memberID int64, joinedAt time.Time) apperrors.Error
	// DeleteReservations removes the member's reservations on the given
	// slots and returns the deleted rows (the refund is computed from them).
	DeleteReservations(ctx context.Context, memberID int64, slotIDs []uuid.UUID) ([]*models.Reservation, apperrors.Error)
	ReservationsForSlot(ctx context.Context, slotID uuid.UUID) ([]*models.Reservation, apperrors.Error)
	UpcomingReservations(ctx context.Context, memberID int64, now time.Time) ([]*models.ReservationInfo, apperrors.Error)
	// ReservationHistory returns the member's past reservations, newest
	// first, for attendance reporting.
	ReservationHistory(ctx context.Context, memberID int64, until time.Time) ([]*models.ReservationInfo, apperrors.Error)
	AttendeeCounts(ctx context.Context, guildID int64, from time.Time) ([]*models.AttendeeCount, apperrors.Error)
}

// SettingsStore provides per-guild tracking configuration.
type SettingsStore interface {
	// GuildSettings returns the guild's settings, or defaults if no row
	// exists.
	GuildSettings(ctx context.Context, guildID int64) (*models.GuildSettings, apperrors.Error)
	// RoomCategory classifies a room as standard, rented, or scheduled.
	RoomCategory(ctx context.Context, guildID, roomID int64) (models.RoomCategory, apperrors.Error)
}

// Store is the full storage surface used by the daemon.
type Store interface {
	MemberStore
	SessionStore
	SlotStore
	SettingsStore
	Close()
}

// New opens a PostgreSQL-backed store with the given DSN.
func New(dsn string) (Store, error) {
	pool, err := dbmanager.NewPostgresPool(dsn)
	if err != nil {
		return nil, err
	}
	return postgres.NewStore(pool), nil
}
