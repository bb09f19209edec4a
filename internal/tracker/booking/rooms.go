package booking

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
)

// Rooms is the gateway to live timed rooms: creation, member access, and the
// displayed status message. Implementations talk to the chat platform; tests
// substitute fakes.
type Rooms interface {
	// CreateRoom provisions a room and its status message for a slot.
	CreateRoom(ctx context.Context, guildID int64, startAt time.Time) (roomID, messageID int64, err error)
	SetAccess(ctx context.Context, guildID, roomID, memberID int64) error
	RevokeAccess(ctx context.Context, guildID, roomID, memberID int64) error
	UpdateStatus(ctx context.Context, guildID, roomID, messageID int64, status []byte) error
}

// retryRooms wraps a gateway with bounded retries. Platform calls are
// idempotent at this surface, so a retried duplicate is harmless.
type retryRooms struct {
	inner    Rooms
	attempts uint
}

// NewRetryRooms returns a Rooms gateway that retries each call up to
// attempts times with backoff.
func NewRetryRooms(inner Rooms, attempts uint) Rooms {
	return &retryRooms{inner: inner, attempts: attempts}
}

func (r *retryRooms) do(ctx context.Context, op func() error) error {
	return retry.Do(op,
		retry.Context(ctx),
		retry.Attempts(r.attempts),
		retry.Delay(200*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}

func (r *retryRooms) CreateRoom(ctx context.Context, guildID int64, startAt time.Time) (int64, int64, error) {
	var roomID, messageID int64
	err := r.do(ctx, func() error {
		var err error
		roomID, messageID, err = r.inner.CreateRoom(ctx, guildID, startAt)
		return err
	})
	return roomID, messageID, err
}

func (r *retryRooms) SetAccess(ctx context.Context, guildID, roomID, memberID int64) error {
	return r.do(ctx, func() error {
		return r.inner.SetAccess(ctx, guildID, roomID, memberID)
	})
}

func (r *retryRooms) RevokeAccess(ctx context.Context, guildID, roomID, memberID int64) error {
	return r.do(ctx, func() error {
		return r.inner.RevokeAccess(ctx, guildID, roomID, memberID)
	})
}

func (r *retryRooms) UpdateStatus(ctx context.Context, guildID, roomID, messageID int64, status []byte) error {
	return r.do(ctx, func() error {
		return r.inner.UpdateStatus(ctx, guildID, roomID, messageID, status)
	})
}
