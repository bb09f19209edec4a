package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/focusguild/focusguild/internal/common/apperrors"
	"github.com/focusguild/focusguild/internal/common/uuid"
	"github.com/focusguild/focusguild/internal/tracker/db/dberror"
	"github.com/focusguild/focusguild/internal/tracker/db/models"
)

const slotColumns = `slotid, guildid, start_at, roomid, messageid, status, created_at`

func scanSlot(row interface{ Scan(...any) error }) (*models.Slot, error) {
	var slot models.Slot
	err := row.Scan(
		&slot.SlotID,
		&slot.GuildID,
		&slot.StartAt,
		&slot.RoomID,
		&slot.MessageID,
		&slot.Status,
		&slot.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &slot, nil
}

// SlotsAt returns the guild's slots at the given start times.
func (s *Store) SlotsAt(ctx context.Context, guildID int64, times []time.Time) ([]*models.Slot, apperrors.Error) {
	if len(times) == 0 {
		return nil, nil
	}

	query := `
		SELECT ` + slotColumns + `
		FROM slots
		WHERE guildid = $1 AND start_at = ANY($2)
		ORDER BY start_at ASC
	`

	rows, err := s.conn().QueryContext(ctx, query, guildID, pq.Array(times))
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	return collectSlots(ctx, rows)
}

// InsertSlots batch-inserts new slot rows.
func (s *Store) InsertSlots(ctx context.Context, slots []*models.Slot) (err apperrors.Error) {
	if len(slots) == 0 {
		return nil
	}

	tx, errStd := s.conn().BeginTx(ctx, nil)
	if errStd != nil {
		log.Ctx(ctx).Error().Err(errStd).Msg("failed to begin transaction")
		return dberror.ErrDatabase.Err(errStd)
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && rollbackErr != sql.ErrTxDone {
				log.Ctx(ctx).Error().Err(rollbackErr).Msg("failed to rollback transaction")
			}
		}
	}()

	query := `
		INSERT INTO slots (slotid, guildid, start_at)
		VALUES ($1, $2, $3)
	`
	for _, slot := range slots {
		if _, errStd := tx.ExecContext(ctx, query, slot.SlotID, slot.GuildID, slot.StartAt); errStd != nil {
			log.Ctx(ctx).Error().Err(errStd).
				Int64("guildid", slot.GuildID).
				Time("start_at", slot.StartAt).
				Msg("failed to insert slot")
			return mapError(errStd)
		}
	}

	if errStd := tx.Commit(); errStd != nil {
		log.Ctx(ctx).Error().Err(errStd).Msg("failed to commit transaction")
		return dberror.ErrDatabase.Err(errStd)
	}
	return nil
}

// GetSlot retrieves a slot by id.
func (s *Store) GetSlot(ctx context.Context, slotID uuid.UUID) (*models.Slot, apperrors.Error) {
	query := `SELECT ` + slotColumns + ` FROM slots WHERE slotid = $1`

	slot, err := scanSlot(s.conn().QueryRowContext(ctx, query, slotID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, dberror.ErrNotFound.Msg("slot not found")
		}
		return nil, mapError(err)
	}
	return slot, nil
}

// DueSlots returns slots whose start time has arrived but which have no live
// room yet.
func (s *Store) DueSlots(ctx context.Context, now time.Time) ([]*models.Slot, apperrors.Error) {
	query := `
		SELECT ` + slotColumns + `
		FROM slots
		WHERE start_at <= $1 AND roomid IS NULL
		ORDER BY start_at ASC
	`

	rows, err := s.conn().QueryContext(ctx, query, now)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	return collectSlots(ctx, rows)
}

// MarkSlotOpen records the live room identities for a slot. The update is
// guarded on roomid being null so the transition happens exactly once; a
// false return means another path already opened the slot.
func (s *Store) MarkSlotOpen(ctx context.Context, slotID uuid.UUID, roomID, messageID int64) (bool, apperrors.Error) {
	query := `
		UPDATE slots
		SET roomid = $2, messageid = $3
		WHERE slotid = $1 AND roomid IS NULL
	`

	result, err := s.conn().ExecContext(ctx, query, slotID, roomID, messageID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to mark slot open")
		return false, mapError(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, dberror.ErrDatabase.Err(err)
	}
	return rows > 0, nil
}

// UpdateSlotStatus writes the rendered room status snapshot.
func (s *Store) UpdateSlotStatus(ctx context.Context, slotID uuid.UUID, status []byte) apperrors.Error {
	query := `UPDATE slots SET status = $2 WHERE slotid = $1`

	result, err := s.conn().ExecContext(ctx, query, slotID, status)
	if err != nil {
		return mapError(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	if rows == 0 {
		return dberror.ErrNotFound.Msg("slot not found")
	}
	return nil
}

// InsertReservations batch-inserts reservation rows.
func (s *Store) InsertReservations(ctx context.Context, reservations []*models.Reservation) (err apperrors.Error) {
	if len(reservations) == 0 {
		return nil
	}

	tx, errStd := s.conn().BeginTx(ctx, nil)
	if errStd != nil {
		log.Ctx(ctx).Error().Err(errStd).Msg("failed to begin transaction")
		return dberror.ErrDatabase.Err(errStd)
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && rollbackErr != sql.ErrTxDone {
				log.Ctx(ctx).Error().Err(rollbackErr).Msg("failed to rollback transaction")
			}
		}
	}()

	query := `
		INSERT INTO slot_members (slotid, memberid, paid)
		VALUES ($1, $2, $3)
	`
	for _, r := range reservations {
		if _, errStd := tx.ExecContext(ctx, query, r.SlotID, r.MemberID, r.Paid); errStd != nil {
			log.Ctx(ctx).Error().Err(errStd).
				Int64("memberid", r.MemberID).
				Msg("failed to insert reservation")
			return mapError(errStd)
		}
	}

	if errStd := tx.Commit(); errStd != nil {
		log.Ctx(ctx).Error().Err(errStd).Msg("failed to commit transaction")
		return dberror.ErrDatabase.Err(errStd)
	}
	return nil
}

// RecordAttendance stamps the member's join instant on a reservation. Only
// the first join is recorded.
func (s *Store) RecordAttendance(ctx context.Context, slotID uuid.UUID, memberID int64, joinedAt time.Time) apperrors.Error {
	query := `
		UPDATE slot_members
		SET joined_at = $3
		WHERE slotid = $1 AND memberid = $2 AND joined_at IS NULL
	`

	if _, err := s.conn().ExecContext(ctx, query, slotID, memberID, joinedAt); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to record attendance")
		return mapError(err)
	}
	return nil
}

// DeleteReservations removes the member's reservations on the given slots and
// returns the deleted rows so refunds can be computed from what was actually
// paid.
func (s *Store) DeleteReservations(ctx context.Context, memberID int64, slotIDs []uuid.UUID) ([]*models.Reservation, apperrors.Error) {
	if len(slotIDs) == 0 {
		return nil, nil
	}

	ids := make([]string, len(slotIDs))
	for i, id := range slotIDs {
		ids[i] = id.String()
	}

	query := `
		DELETE FROM slot_members
		WHERE memberid = $1 AND slotid = ANY($2::uuid[])
		RETURNING slotid, memberid, paid, joined_at, duration
	`

	rows, err := s.conn().QueryContext(ctx, query, memberID, pq.Array(ids))
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to delete reservations")
		return nil, mapError(err)
	}
	defer rows.Close()

	var result []*models.Reservation
	for rows.Next() {
		var r models.Reservation
		if err := rows.Scan(&r.SlotID, &r.MemberID, &r.Paid, &r.JoinedAt, &r.DurationSeconds); err != nil {
			return nil, mapError(err)
		}
		result = append(result, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return result, nil
}

// ReservationsForSlot returns all reservations on a slot.
func (s *Store) ReservationsForSlot(ctx context.Context, slotID uuid.UUID) ([]*models.Reservation, apperrors.Error) {
	query := `
		SELECT slotid, memberid, paid, joined_at, duration
		FROM slot_members
		WHERE slotid = $1
		ORDER BY memberid ASC
	`

	rows, err := s.conn().QueryContext(ctx, query, slotID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var result []*models.Reservation
	for rows.Next() {
		var r models.Reservation
		if err := rows.Scan(&r.SlotID, &r.MemberID, &r.Paid, &r.JoinedAt, &r.DurationSeconds); err != nil {
			return nil, mapError(err)
		}
		result = append(result, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return result, nil
}

const reservationInfoQuery = `
	SELECT m.slotid, s.guildid, m.memberid, m.paid, s.start_at, s.roomid, m.joined_at, m.duration
	FROM slot_members m
	JOIN slots s ON s.slotid = m.slotid
`

// UpcomingReservations returns the member's reservations on slots that have
// not yet started, soonest first.
func (s *Store) UpcomingReservations(ctx context.Context, memberID int64, now time.Time) ([]*models.ReservationInfo, apperrors.Error) {
	query := reservationInfoQuery + `
		WHERE m.memberid = $1 AND s.start_at >= $2
		ORDER BY s.start_at ASC
	`
	return s.queryReservationInfo(ctx, query, memberID, now)
}

// ReservationHistory returns the member's past reservations, newest first.
func (s *Store) ReservationHistory(ctx context.Context, memberID int64, until time.Time) ([]*models.ReservationInfo, apperrors.Error) {
	query := reservationInfoQuery + `
		WHERE m.memberid = $1 AND s.start_at <= $2
		ORDER BY s.start_at DESC
	`
	return s.queryReservationInfo(ctx, query, memberID, until)
}

func (s *Store) queryReservationInfo(ctx context.Context, query string, args ...any) ([]*models.ReservationInfo, apperrors.Error) {
	rows, err := s.conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var result []*models.ReservationInfo
	for rows.Next() {
		var info models.ReservationInfo
		if err := rows.Scan(
			&info.SlotID, &info.GuildID, &info.MemberID, &info.Paid,
			&info.StartAt, &info.RoomID, &info.JoinedAt, &info.DurationSeconds,
		); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to scan reservation row")
			return nil, mapError(err)
		}
		result = append(result, &info)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return result, nil
}

// AttendeeCounts returns reservation counts per upcoming slot for a guild.
func (s *Store) AttendeeCounts(ctx context.Context, guildID int64, from time.Time) ([]*models.AttendeeCount, apperrors.Error) {
	query := `
		SELECT s.slotid, s.start_at, COUNT(*)
		FROM slot_members m
		JOIN slots s ON s.slotid = m.slotid
		WHERE s.guildid = $1 AND s.start_at >= $2
		GROUP BY s.slotid, s.start_at
		ORDER BY s.start_at ASC
	`

	rows, err := s.conn().QueryContext(ctx, query, guildID, from)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var result []*models.AttendeeCount
	for rows.Next() {
		var c models.AttendeeCount
		if err := rows.Scan(&c.SlotID, &c.StartAt, &c.Count); err != nil {
			return nil, mapError(err)
		}
		result = append(result, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return result, nil
}

func collectSlots(ctx context.Context, rows *sql.Rows) ([]*models.Slot, apperrors.Error) {
	var result []*models.Slot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to scan slot row")
			return nil, mapError(err)
		}
		result = append(result, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return result, nil
}
