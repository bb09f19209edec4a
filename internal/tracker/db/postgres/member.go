package postgres

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog/log"

	"github.com/focusguild/focusguild/internal/common/apperrors"
	"github.com/focusguild/focusguild/internal/tracker/db/dberror"
	"github.com/focusguild/focusguild/internal/tracker/db/models"
)

// GetMember fetches a member row, creating it with defaults if absent.
func (s *Store) GetMember(ctx context.Context, guildID, memberID int64) (*models.Member, apperrors.Error) {
	query := `
		INSERT INTO members (guildid, memberid)
		VALUES ($1, $2)
		ON CONFLICT (guildid, memberid) DO UPDATE SET guildid = EXCLUDED.guildid
		RETURNING guildid, memberid, coins, tracked_seconds, display_name, timezone, created_at, updated_at
	`

	var m models.Member
	err := s.conn().QueryRowContext(ctx, query, guildID, memberID).Scan(
		&m.GuildID,
		&m.MemberID,
		&m.Coins,
		&m.TrackedSeconds,
		&m.DisplayName,
		&m.Timezone,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to fetch member")
		return nil, mapError(err)
	}
	return &m, nil
}

// ApplyCredits applies a batch of pending coin/time credits in one
// transaction.
func (s *Store) ApplyCredits(ctx context.Context, credits []models.PendingCredit) (err apperrors.Error) {
	if len(credits) == 0 {
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
		INSERT INTO members (guildid, memberid, coins, tracked_seconds)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (guildid, memberid) DO UPDATE SET
			coins = members.coins + EXCLUDED.coins,
			tracked_seconds = members.tracked_seconds + EXCLUDED.tracked_seconds,
			updated_at = NOW()
	`
	for _, credit := range credits {
		if _, errStd := tx.ExecContext(ctx, query,
			credit.GuildID, credit.MemberID, credit.Coins, credit.Seconds,
		); errStd != nil {
			log.Ctx(ctx).Error().Err(errStd).
				Int64("guildid", credit.GuildID).
				Int64("memberid", credit.MemberID).
				Msg("failed to apply credit")
			return mapError(errStd)
		}
	}

	if errStd := tx.Commit(); errStd != nil {
		log.Ctx(ctx).Error().Err(errStd).Msg("failed to commit transaction")
		return dberror.ErrDatabase.Err(errStd)
	}
	return nil
}

// DebitMember atomically subtracts amount from the member's balance. The
// update is conditional on sufficient funds so a debit is never partially
// applied.
func (s *Store) DebitMember(ctx context.Context, guildID, memberID, amount int64) apperrors.Error {
	query := `
		UPDATE members
		SET coins = coins - $3, updated_at = NOW()
		WHERE guildid = $1 AND memberid = $2 AND coins >= $3
	`

	result, err := s.conn().ExecContext(ctx, query, guildID, memberID, amount)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to debit member")
		return mapError(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	if rows == 0 {
		return dberror.ErrInvalidInput.Msg("insufficient balance")
	}
	return nil
}
