// Package booking implements slot reservation and activation. Members book
// future hour-aligned slots against their wallet; a sweep promotes due slots
// into live rooms exactly once and starts sessions for the reserved members.
// The exclusive interaction guard serializes each member's selection flows.
package booking

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/focusguild/focusguild/internal/common/apperrors"
	"github.com/focusguild/focusguild/internal/common/uuid"
	"github.com/focusguild/focusguild/internal/tracker/db"
	"github.com/focusguild/focusguild/internal/tracker/db/dberror"
	"github.com/focusguild/focusguild/internal/tracker/db/models"
	"github.com/focusguild/focusguild/internal/tracker/economy"
	"github.com/focusguild/focusguild/internal/tracker/presence"
	"github.com/focusguild/focusguild/internal/tracker/session"
)

// openAhead is how long before its start time a slot's room is provisioned.
// The booking minimum lead must exceed it so a new booking never lands
// between room creation and slot start without being seen.
const openAhead = 10 * time.Minute

// Engine books, cancels, and activates slots.
type Engine struct {
	store    db.Store
	ledger   *economy.Ledger
	sessions *session.Tracker
	rooms    Rooms
	now      func() time.Time
	minLead  time.Duration

	// roomMu is the activation critical section: slot open, live-room
	// membership changes, and status refresh all run under it so
	// concurrent booking, cancellation, and sweep cannot double-activate
	// a slot or corrupt its member set.
	roomMu sync.Mutex
}

// New returns a booking engine. minLead is the minimum distance from now a
// bookable slot must have.
func New(store db.Store, ledger *economy.Ledger, sessions *session.Tracker, rooms Rooms, minLead time.Duration) *Engine {
	return &Engine{
		store:    store,
		ledger:   ledger,
		sessions: sessions,
		rooms:    rooms,
		now:      time.Now,
		minLead:  minLead,
	}
}

// SetClock overrides the engine's clock, for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Book reserves the given future hour-aligned start times for the member.
// The debit happens only after every row is durably created, so an earlier
// failure leaves no partial charge. Returns ErrInvalidSelection for empty,
// misaligned, stale, or already-booked selections and
// economy.ErrInsufficientFunds when the wallet cannot cover the price.
func (e *Engine) Book(ctx context.Context, guildID, memberID int64, times []time.Time) apperrors.Error {
	now := e.now()
	if len(times) == 0 {
		return ErrInvalidSelection.Msg("no slots selected")
	}

	requested := make(map[time.Time]bool, len(times))
	for _, at := range times {
		at = at.UTC()
		if !at.Truncate(time.Hour).Equal(at) {
			return ErrInvalidSelection.Msg("slot times must be hour aligned")
		}
		if at.Sub(now) < e.minLead {
			return ErrInvalidSelection.Msg("slot starts too soon")
		}
		if requested[at] {
			return ErrInvalidSelection.Msg("duplicate slot time")
		}
		requested[at] = true
	}

	upcoming, err := e.store.UpcomingReservations(ctx, memberID, now)
	if err != nil {
		return ErrBooking.Msg("failed to check existing bookings").Err(err)
	}
	for _, r := range upcoming {
		if r.GuildID == guildID && requested[r.StartAt.UTC()] {
			return ErrInvalidSelection.Msg("slot already booked")
		}
	}

	settings, err := e.store.GuildSettings(ctx, guildID)
	if err != nil {
		return ErrBooking.Msg("failed to load guild settings").Err(err)
	}
	total := settings.SlotPrice * int64(len(times))

	balance, err := e.ledger.Balance(ctx, guildID, memberID)
	if err != nil {
		return ErrBooking.Msg("failed to read balance").Err(err)
	}
	if balance < total {
		return economy.ErrInsufficientFunds
	}

	slots, err := e.findOrCreateSlots(ctx, guildID, times)
	if err != nil {
		return err
	}

	reservations := make([]*models.Reservation, 0, len(slots))
	slotIDs := make([]uuid.UUID, 0, len(slots))
	for _, slot := range slots {
		reservations = append(reservations, &models.Reservation{
			SlotID:   slot.SlotID,
			MemberID: memberID,
			Paid:     settings.SlotPrice,
		})
		slotIDs = append(slotIDs, slot.SlotID)
	}
	if err := e.store.InsertReservations(ctx, reservations); err != nil {
		if errors.Is(err, dberror.ErrAlreadyExists) {
			return ErrInvalidSelection.Msg("slot already booked")
		}
		return ErrBooking.Msg("failed to insert reservations").Err(err)
	}

	// Debit last. If it fails the reservations are rolled back so the
	// member is neither charged nor booked.
	if err := e.ledger.Debit(ctx, guildID, memberID, total); err != nil {
		if _, derr := e.store.DeleteReservations(ctx, memberID, slotIDs); derr != nil {
			log.Ctx(ctx).Error().Err(derr).Msg("failed to roll back reservations after debit failure")
		}
		return err
	}

	log.Ctx(ctx).Info().
		Int64("guild", guildID).
		Int64("member", memberID).
		Int("slots", len(slots)).
		Int64("paid", total).
		Msg("slots booked")

	// An imminent slot is activated immediately instead of waiting for
	// the sweep.
	e.roomMu.Lock()
	defer e.roomMu.Unlock()
	for _, slot := range slots {
		if slot.StartAt.Sub(now) > openAhead {
			continue
		}
		roomID, _, aerr := e.openSlotLocked(ctx, slot)
		if aerr != nil {
			log.Ctx(ctx).Error().Err(aerr).Msg("immediate slot activation failed")
			continue
		}
		if gerr := e.rooms.SetAccess(ctx, guildID, roomID, memberID); gerr != nil {
			log.Ctx(ctx).Error().Err(gerr).Msg("failed to grant room access")
		}
		e.refreshStatusLocked(ctx, slot)
	}
	return nil
}

// findOrCreateSlots resolves the backing slot rows for the start times,
// batch-inserting any that do not exist yet.
func (e *Engine) findOrCreateSlots(ctx context.Context, guildID int64, times []time.Time) ([]*models.Slot, apperrors.Error) {
	existing, err := e.store.SlotsAt(ctx, guildID, times)
	if err != nil {
		return nil, ErrBooking.Msg("failed to look up slots").Err(err)
	}
	byStart := make(map[time.Time]*models.Slot, len(existing))
	for _, slot := range existing {
		byStart[slot.StartAt.UTC()] = slot
	}

	var missing []*models.Slot
	for _, at := range times {
		at = at.UTC()
		if _, ok := byStart[at]; ok {
			continue
		}
		slot := &models.Slot{SlotID: uuid.New(), GuildID: guildID, StartAt: at}
		byStart[at] = slot
		missing = append(missing, slot)
	}
	if len(missing) > 0 {
		if err := e.store.InsertSlots(ctx, missing); err != nil {
			return nil, ErrBooking.Msg("failed to create slots").Err(err)
		}
	}

	slots := make([]*models.Slot, 0, len(times))
	for _, at := range times {
		slots = append(slots, byStart[at.UTC()])
	}
	return slots, nil
}

// Cancel removes the member's reservations on the given slots and refunds
// exactly what was paid for them, read back from the deleted rows. Slots
// whose start time has passed return ErrSlotRunning.
func (e *Engine) Cancel(ctx context.Context, guildID, memberID int64, slotIDs []uuid.UUID) apperrors.Error {
	if len(slotIDs) == 0 {
		return ErrInvalidSelection.Msg("no slots selected")
	}
	now := e.now()

	slots := make([]*models.Slot, 0, len(slotIDs))
	for _, id := range slotIDs {
		slot, err := e.store.GetSlot(ctx, id)
		if err != nil {
			if errors.Is(err, dberror.ErrNotFound) {
				return ErrInvalidSelection.Msg("unknown slot")
			}
			return ErrBooking.Msg("failed to look up slot").Err(err)
		}
		if slot.GuildID != guildID {
			return ErrInvalidSelection.Msg("slot belongs to another guild")
		}
		if !slot.StartAt.After(now) {
			return ErrSlotRunning
		}
		slots = append(slots, slot)
	}

	deleted, err := e.store.DeleteReservations(ctx, memberID, slotIDs)
	if err != nil {
		return ErrBooking.Msg("failed to delete reservations").Err(err)
	}
	if len(deleted) == 0 {
		return ErrInvalidSelection.Msg("nothing to cancel")
	}

	var refund int64
	for _, r := range deleted {
		refund += r.Paid
	}
	if err := e.ledger.Credit(ctx, guildID, memberID, refund, true); err != nil {
		return ErrBooking.Msg("failed to refund").Err(err)
	}

	log.Ctx(ctx).Info().
		Int64("guild", guildID).
		Int64("member", memberID).
		Int("slots", len(deleted)).
		Int64("refund", refund).
		Msg("reservations cancelled")

	e.roomMu.Lock()
	defer e.roomMu.Unlock()
	for _, slot := range slots {
		if !slot.Open() {
			continue
		}
		if rerr := e.rooms.RevokeAccess(ctx, guildID, slot.RoomID.Int64, memberID); rerr != nil {
			log.Ctx(ctx).Error().Err(rerr).Msg("failed to revoke room access")
		}
		e.refreshStatusLocked(ctx, slot)
	}
	return nil
}

// RunSweep promotes due slots on the given interval until ctx is canceled.
func (e *Engine) RunSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Sweep(ctx)
		}
	}
}

// Sweep activates every slot whose start time has arrived. One slot's
// failure does not block the others.
func (e *Engine) Sweep(ctx context.Context) {
	due, err := e.store.DueSlots(ctx, e.now())
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list due slots")
		return
	}
	for _, slot := range due {
		if err := e.activate(ctx, slot); err != nil {
			log.Ctx(ctx).Error().Err(err).
				Int64("guild", slot.GuildID).
				Time("start_at", slot.StartAt).
				Msg("slot activation failed")
		}
	}
}

// activate opens a due slot's live room and starts sessions for its
// reserved members.
func (e *Engine) activate(ctx context.Context, slot *models.Slot) apperrors.Error {
	e.roomMu.Lock()
	roomID, _, err := e.openSlotLocked(ctx, slot)
	if err != nil {
		e.roomMu.Unlock()
		return err
	}
	e.refreshStatusLocked(ctx, slot)
	e.roomMu.Unlock()

	reservations, err := e.store.ReservationsForSlot(ctx, slot.SlotID)
	if err != nil {
		return ErrBooking.Msg("failed to list reservations").Err(err)
	}
	now := e.now()
	for _, r := range reservations {
		serr := e.sessions.Start(ctx, slot.GuildID, r.MemberID, roomID, presence.Flags{})
		if serr != nil && !errors.Is(serr, session.ErrAlreadyActive) {
			log.Ctx(ctx).Error().Err(serr).
				Int64("member", r.MemberID).
				Msg("failed to start session for reserved member")
			continue
		}
		if aerr := e.store.RecordAttendance(ctx, slot.SlotID, r.MemberID, now); aerr != nil {
			log.Ctx(ctx).Error().Err(aerr).
				Int64("member", r.MemberID).
				Msg("failed to record attendance")
		}
	}
	return nil
}

// openSlotLocked transitions a slot to open, creating the live room and its
// status message. If another path already opened the slot the persisted
// identities are used instead; the slot-open update is guarded in storage so
// the transition is exactly-once. Caller holds roomMu.
func (e *Engine) openSlotLocked(ctx context.Context, slot *models.Slot) (int64, int64, apperrors.Error) {
	if slot.Open() {
		return slot.RoomID.Int64, slot.MessageID.Int64, nil
	}

	// The caller's copy may predate another activation that won the lock
	// first; re-read before provisioning anything.
	fresh, gerr := e.store.GetSlot(ctx, slot.SlotID)
	if gerr != nil {
		return 0, 0, ErrBooking.Msg("failed to reload slot").Err(gerr)
	}
	*slot = *fresh
	if slot.Open() {
		return slot.RoomID.Int64, slot.MessageID.Int64, nil
	}

	roomID, messageID, rerr := e.rooms.CreateRoom(ctx, slot.GuildID, slot.StartAt)
	if rerr != nil {
		return 0, 0, ErrBooking.Msg("failed to create room").Err(rerr)
	}

	won, err := e.store.MarkSlotOpen(ctx, slot.SlotID, roomID, messageID)
	if err != nil {
		return 0, 0, ErrBooking.Msg("failed to mark slot open").Err(err)
	}
	if !won {
		log.Ctx(ctx).Warn().
			Int64("guild", slot.GuildID).
			Time("start_at", slot.StartAt).
			Msg("slot opened concurrently, discarding room")
		fresh, gerr := e.store.GetSlot(ctx, slot.SlotID)
		if gerr != nil {
			return 0, 0, ErrBooking.Msg("failed to reload slot").Err(gerr)
		}
		*slot = *fresh
		return slot.RoomID.Int64, slot.MessageID.Int64, nil
	}

	slot.RoomID.Int64, slot.RoomID.Valid = roomID, true
	slot.MessageID.Int64, slot.MessageID.Valid = messageID, true

	// Members booked before the room existed get access now.
	reservations, err := e.store.ReservationsForSlot(ctx, slot.SlotID)
	if err != nil {
		return roomID, messageID, ErrBooking.Msg("failed to list reservations").Err(err)
	}
	for _, r := range reservations {
		if gerr := e.rooms.SetAccess(ctx, slot.GuildID, roomID, r.MemberID); gerr != nil {
			log.Ctx(ctx).Error().Err(gerr).
				Int64("member", r.MemberID).
				Msg("failed to grant room access")
		}
	}

	log.Ctx(ctx).Info().
		Int64("guild", slot.GuildID).
		Int64("room", roomID).
		Time("start_at", slot.StartAt).
		Msg("slot opened")
	return roomID, messageID, nil
}

// refreshStatusLocked re-renders and persists the slot's status snapshot and
// pushes it to the live status message if one exists. Caller holds roomMu.
func (e *Engine) refreshStatusLocked(ctx context.Context, slot *models.Slot) {
	reservations, err := e.store.ReservationsForSlot(ctx, slot.SlotID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list reservations for status")
		return
	}
	snapshot := statusSnapshot(slot, reservations, e.now())
	if err := e.store.UpdateSlotStatus(ctx, slot.SlotID, snapshot); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to persist slot status")
	}
	if slot.Open() {
		if err := e.rooms.UpdateStatus(ctx, slot.GuildID, slot.RoomID.Int64, slot.MessageID.Int64, snapshot); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to push slot status")
		}
	}
}
