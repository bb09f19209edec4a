package postgres

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/focusguild/focusguild/internal/common/apperrors"
	"github.com/focusguild/focusguild/internal/tracker/db/models"
)

// GuildSettings returns the guild's settings row, or defaults if none exists.
func (s *Store) GuildSettings(ctx context.Context, guildID int64) (*models.GuildSettings, apperrors.Error) {
	query := `
		SELECT guildid, hourly_reward, hourly_live_bonus, daily_cap_seconds,
			slot_price, slot_bonus, untracked_rooms, ignored_members, rented_rooms
		FROM guild_settings
		WHERE guildid = $1
	`

	var gs models.GuildSettings
	err := s.conn().QueryRowContext(ctx, query, guildID).Scan(
		&gs.GuildID,
		&gs.HourlyReward,
		&gs.HourlyLiveBonus,
		&gs.DailyCapSeconds,
		&gs.SlotPrice,
		&gs.SlotBonus,
		pq.Array(&gs.UntrackedRooms),
		pq.Array(&gs.IgnoredMembers),
		pq.Array(&gs.RentedRooms),
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.DefaultGuildSettings(guildID), nil
		}
		log.Ctx(ctx).Error().Err(err).Int64("guildid", guildID).Msg("failed to fetch guild settings")
		return nil, mapError(err)
	}
	return &gs, nil
}

// RoomCategory classifies a room: rented rooms come from the guild settings,
// scheduled rooms are slots whose live room matches, everything else is
// standard.
func (s *Store) RoomCategory(ctx context.Context, guildID, roomID int64) (models.RoomCategory, apperrors.Error) {
	gs, appErr := s.GuildSettings(ctx, guildID)
	if appErr != nil {
		return models.RoomStandard, appErr
	}
	if gs.Rented(roomID) {
		return models.RoomRented, nil
	}

	var exists bool
	err := s.conn().QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM slots WHERE guildid = $1 AND roomid = $2)
	`, guildID, roomID).Scan(&exists)
	if err != nil {
		return models.RoomStandard, mapError(err)
	}
	if exists {
		return models.RoomScheduled, nil
	}
	return models.RoomStandard, nil
}
