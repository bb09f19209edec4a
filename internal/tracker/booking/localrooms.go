package booking

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// localRooms is a development gateway that mints room identities locally and
// logs every call instead of talking to a chat platform. Used when no
// platform connector is configured.
type localRooms struct {
	next atomic.Int64
}

// NewLocalRooms returns a gateway for development and standalone runs.
func NewLocalRooms() Rooms {
	r := &localRooms{}
	r.next.Store(time.Now().UnixMilli() << 8)
	return r
}

func (r *localRooms) CreateRoom(ctx context.Context, guildID int64, startAt time.Time) (int64, int64, error) {
	roomID := r.next.Add(1)
	messageID := r.next.Add(1)
	log.Ctx(ctx).Info().
		Int64("guild", guildID).
		Int64("room", roomID).
		Time("start_at", startAt).
		Msg("local room created")
	return roomID, messageID, nil
}

func (r *localRooms) SetAccess(ctx context.Context, guildID, roomID, memberID int64) error {
	log.Ctx(ctx).Debug().Int64("room", roomID).Int64("member", memberID).Msg("local room access granted")
	return nil
}

func (r *localRooms) RevokeAccess(ctx context.Context, guildID, roomID, memberID int64) error {
	log.Ctx(ctx).Debug().Int64("room", roomID).Int64("member", memberID).Msg("local room access revoked")
	return nil
}

func (r *localRooms) UpdateStatus(ctx context.Context, guildID, roomID, messageID int64, status []byte) error {
	log.Ctx(ctx).Debug().Int64("room", roomID).RawJSON("status", status).Msg("local room status updated")
	return nil
}
