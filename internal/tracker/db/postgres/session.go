package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/focusguild/focusguild/internal/common/apperrors"
	"github.com/focusguild/focusguild/internal/tracker/db/dberror"
	"github.com/focusguild/focusguild/internal/tracker/db/models"
)

const sessionColumns = `
	guildid, memberid, roomid, category, started_at,
	live_start, live_duration, stream_start, stream_duration,
	video_start, video_duration, hourly_coins, hourly_live_coins
`

func scanSession(row interface{ Scan(...any) error }) (*models.Session, error) {
	var sess models.Session
	err := row.Scan(
		&sess.GuildID,
		&sess.MemberID,
		&sess.RoomID,
		&sess.Category,
		&sess.StartedAt,
		&sess.LiveStart,
		&sess.LiveDuration,
		&sess.StreamStart,
		&sess.StreamDuration,
		&sess.VideoStart,
		&sess.VideoDuration,
		&sess.HourlyCoins,
		&sess.HourlyLiveCoins,
	)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// CreateSession inserts a new open session row. Fails with ErrAlreadyExists
// if the member already has an open session.
func (s *Store) CreateSession(ctx context.Context, session *models.Session) apperrors.Error {
	query := `
		INSERT INTO current_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := s.conn().ExecContext(ctx, query,
		session.GuildID,
		session.MemberID,
		session.RoomID,
		session.Category,
		session.StartedAt,
		session.LiveStart,
		session.LiveDuration,
		session.StreamStart,
		session.StreamDuration,
		session.VideoStart,
		session.VideoDuration,
		session.HourlyCoins,
		session.HourlyLiveCoins,
	)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).
			Int64("guildid", session.GuildID).
			Int64("memberid", session.MemberID).
			Msg("failed to create session")
		return mapError(err)
	}
	return nil
}

// GetSession retrieves a member's open session.
func (s *Store) GetSession(ctx context.Context, guildID, memberID int64) (*models.Session, apperrors.Error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM current_sessions
		WHERE guildid = $1 AND memberid = $2
	`

	sess, err := scanSession(s.conn().QueryRowContext(ctx, query, guildID, memberID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, dberror.ErrNotFound.Msg("session not found")
		}
		return nil, mapError(err)
	}
	return sess, nil
}

// ListOpenSessions returns all open session rows, used by the startup
// reconciliation pass.
func (s *Store) ListOpenSessions(ctx context.Context) ([]*models.Session, apperrors.Error) {
	query := `SELECT ` + sessionColumns + ` FROM current_sessions ORDER BY started_at ASC`

	rows, err := s.conn().QueryContext(ctx, query)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var result []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to scan session row")
			return nil, mapError(err)
		}
		result = append(result, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return result, nil
}

// UpdateLiveStatus writes the sub-timer state of an open session.
func (s *Store) UpdateLiveStatus(ctx context.Context, guildID, memberID int64, status models.LiveStatus) apperrors.Error {
	query := `
		UPDATE current_sessions
		SET
			live_start = $3, live_duration = $4,
			stream_start = $5, stream_duration = $6,
			video_start = $7, video_duration = $8
		WHERE guildid = $1 AND memberid = $2
	`

	result, err := s.conn().ExecContext(ctx, query,
		guildID, memberID,
		status.LiveStart, status.LiveDuration,
		status.StreamStart, status.StreamDuration,
		status.VideoStart, status.VideoDuration,
	)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to update live status")
		return mapError(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	if rows == 0 {
		return dberror.ErrNotFound.Msg("session not found")
	}
	return nil
}

// CloseSession folds the open session into the history table and member
// totals, then deletes the open row. Sub-timers still running at close time
// are folded up to endedAt. Closing an absent session is a no-op.
func (s *Store) CloseSession(ctx context.Context, guildID, memberID int64, endedAt time.Time) (err apperrors.Error) {
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

	sess, scanErr := scanSession(tx.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM current_sessions
		WHERE guildid = $1 AND memberid = $2
		FOR UPDATE
	`, guildID, memberID))
	if scanErr != nil {
		if scanErr == sql.ErrNoRows {
			// Already closed.
			tx.Rollback()
			return nil
		}
		return mapError(scanErr)
	}

	duration := int64(endedAt.Sub(sess.StartedAt).Seconds())
	if duration < 0 {
		duration = 0
	}
	liveDuration := foldDuration(sess.LiveDuration, sess.LiveStart, endedAt)
	streamDuration := foldDuration(sess.StreamDuration, sess.StreamStart, endedAt)
	videoDuration := foldDuration(sess.VideoDuration, sess.VideoStart, endedAt)

	if _, errStd := tx.ExecContext(ctx, `
		INSERT INTO session_history (
			guildid, memberid, roomid, category, started_at, ended_at, duration,
			live_duration, stream_duration, video_duration, hourly_coins, hourly_live_coins
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		sess.GuildID, sess.MemberID, sess.RoomID, sess.Category,
		sess.StartedAt, endedAt, duration,
		liveDuration, streamDuration, videoDuration,
		sess.HourlyCoins, sess.HourlyLiveCoins,
	); errStd != nil {
		log.Ctx(ctx).Error().Err(errStd).Msg("failed to insert session history")
		return mapError(errStd)
	}

	if _, errStd := tx.ExecContext(ctx, `
		DELETE FROM current_sessions WHERE guildid = $1 AND memberid = $2
	`, guildID, memberID); errStd != nil {
		return mapError(errStd)
	}

	if errStd := tx.Commit(); errStd != nil {
		log.Ctx(ctx).Error().Err(errStd).Msg("failed to commit transaction")
		return dberror.ErrDatabase.Err(errStd)
	}
	return nil
}

// StudyTimeSince returns the member's tracked seconds since the given
// instant, including the open session if one exists. Sessions straddling the
// boundary only count the portion after it.
func (s *Store) StudyTimeSince(ctx context.Context, guildID, memberID int64, since time.Time) (int64, apperrors.Error) {
	query := `
		SELECT
			COALESCE((
				SELECT SUM(EXTRACT(EPOCH FROM (ended_at - GREATEST(started_at, $3))))
				FROM session_history
				WHERE guildid = $1 AND memberid = $2 AND ended_at > $3
			), 0)
			+
			COALESCE((
				SELECT EXTRACT(EPOCH FROM (NOW() - GREATEST(started_at, $3)))
				FROM current_sessions
				WHERE guildid = $1 AND memberid = $2
			), 0)
	`

	var seconds float64
	if err := s.conn().QueryRowContext(ctx, query, guildID, memberID, since).Scan(&seconds); err != nil {
		return 0, mapError(err)
	}
	if seconds < 0 {
		seconds = 0
	}
	return int64(seconds), nil
}

func foldDuration(accumulated int64, start sql.NullTime, pivot time.Time) int64 {
	if !start.Valid {
		return accumulated
	}
	elapsed := int64(pivot.Sub(start.Time).Seconds())
	if elapsed > 0 {
		accumulated += elapsed
	}
	return accumulated
}
