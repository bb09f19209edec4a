// Package dbtest provides an in-memory Store implementation for engine
// tests. Behavior mirrors the postgres implementation's contracts: keyed
// rows, conditional debit, exactly-once slot opening, and read-your-writes
// consistency.
package dbtest

import (
	"context"
	"sync"
	"time"

	"github.com/focusguild/focusguild/internal/common/apperrors"
	"github.com/focusguild/focusguild/internal/common/uuid"
	"github.com/focusguild/focusguild/internal/tracker/db/dberror"
	"github.com/focusguild/focusguild/internal/tracker/db/models"
)

type memberKey struct {
	guildID  int64
	memberID int64
}

type historyRow struct {
	models.Session
	EndedAt  time.Time
	Duration int64
}

// Fake is an in-memory Store.
type Fake struct {
	mu sync.Mutex

	// Now is the clock used where postgres would use NOW().
	Now func() time.Time

	Members  map[memberKey]*models.Member
	Sessions map[memberKey]*models.Session
	History  []historyRow
	Slots    map[uuid.UUID]*models.Slot
	Reserved map[uuid.UUID]map[int64]*models.Reservation
	Settings map[int64]*models.GuildSettings

	// FailCreateSession forces CreateSession to fail, for error-path tests.
	FailCreateSession bool
}

// NewFake returns an empty in-memory store.
func NewFake() *Fake {
	return &Fake{
		Now:      time.Now,
		Members:  make(map[memberKey]*models.Member),
		Sessions: make(map[memberKey]*models.Session),
		Slots:    make(map[uuid.UUID]*models.Slot),
		Reserved: make(map[uuid.UUID]map[int64]*models.Reservation),
		Settings: make(map[int64]*models.GuildSettings),
	}
}

// SetSettings installs a guild settings row.
func (f *Fake) SetSettings(gs *models.GuildSettings) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Settings[gs.GuildID] = gs
}

// AddHistory seeds a closed session row, for studied-time setups.
func (f *Fake) AddHistory(guildID, memberID int64, startedAt, endedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.History = append(f.History, historyRow{
		Session: models.Session{
			GuildID:   guildID,
			MemberID:  memberID,
			StartedAt: startedAt,
		},
		EndedAt:  endedAt,
		Duration: int64(endedAt.Sub(startedAt).Seconds()),
	})
}

// HistoryCount returns the number of closed session rows for the member.
func (f *Fake) HistoryCount(guildID, memberID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, row := range f.History {
		if row.GuildID == guildID && row.MemberID == memberID {
			n++
		}
	}
	return n
}

// SetCoins sets a member's balance directly.
func (f *Fake) SetCoins(guildID, memberID, coins int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.member(guildID, memberID).Coins = coins
}

// Coins returns a member's balance.
func (f *Fake) Coins(guildID, memberID int64) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.member(guildID, memberID).Coins
}

// TrackedSeconds returns a member's accumulated tracked time.
func (f *Fake) TrackedSeconds(guildID, memberID int64) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.member(guildID, memberID).TrackedSeconds
}

func (f *Fake) member(guildID, memberID int64) *models.Member {
	key := memberKey{guildID, memberID}
	m, ok := f.Members[key]
	if !ok {
		now := f.Now()
		m = &models.Member{
			GuildID:   guildID,
			MemberID:  memberID,
			Timezone:  "UTC",
			CreatedAt: now,
			UpdatedAt: now,
		}
		f.Members[key] = m
	}
	return m
}

// --- MemberStore ---

func (f *Fake) GetMember(ctx context.Context, guildID, memberID int64) (*models.Member, apperrors.Error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := *f.member(guildID, memberID)
	return &m, nil
}

func (f *Fake) ApplyCredits(ctx context.Context, credits []models.PendingCredit) apperrors.Error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range credits {
		m := f.member(c.GuildID, c.MemberID)
		m.Coins += c.Coins
		m.TrackedSeconds += c.Seconds
	}
	return nil
}

func (f *Fake) DebitMember(ctx context.Context, guildID, memberID, amount int64) apperrors.Error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.member(guildID, memberID)
	if m.Coins < amount {
		return dberror.ErrInvalidInput.Msg("insufficient balance")
	}
	m.Coins -= amount
	return nil
}

// --- SessionStore ---

func (f *Fake) CreateSession(ctx context.Context, session *models.Session) apperrors.Error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailCreateSession {
		return dberror.ErrDatabase.Msg("induced failure")
	}
	key := memberKey{session.GuildID, session.MemberID}
	if _, exists := f.Sessions[key]; exists {
		return dberror.ErrAlreadyExists
	}
	cp := *session
	f.Sessions[key] = &cp
	return nil
}

func (f *Fake) GetSession(ctx context.Context, guildID, memberID int64) (*models.Session, apperrors.Error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.Sessions[memberKey{guildID, memberID}]
	if !ok {
		return nil, dberror.ErrNotFound.Msg("session not found")
	}
	cp := *sess
	return &cp, nil
}

func (f *Fake) ListOpenSessions(ctx context.Context) ([]*models.Session, apperrors.Error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*models.Session
	for _, sess := range f.Sessions {
		cp := *sess
		result = append(result, &cp)
	}
	return result, nil
}

func (f *Fake) UpdateLiveStatus(ctx context.Context, guildID, memberID int64, status models.LiveStatus) apperrors.Error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.Sessions[memberKey{guildID, memberID}]
	if !ok {
		return dberror.ErrNotFound.Msg("session not found")
	}
	sess.LiveStart = status.LiveStart
	sess.LiveDuration = status.LiveDuration
	sess.StreamStart = status.StreamStart
	sess.StreamDuration = status.StreamDuration
	sess.VideoStart = status.VideoStart
	sess.VideoDuration = status.VideoDuration
	return nil
}

func (f *Fake) CloseSession(ctx context.Context, guildID, memberID int64, endedAt time.Time) apperrors.Error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := memberKey{guildID, memberID}
	sess, ok := f.Sessions[key]
	if !ok {
		return nil
	}
	duration := int64(endedAt.Sub(sess.StartedAt).Seconds())
	if duration < 0 {
		duration = 0
	}
	row := historyRow{Session: *sess, EndedAt: endedAt, Duration: duration}
	if sess.LiveStart.Valid {
		row.LiveDuration += int64(endedAt.Sub(sess.LiveStart.Time).Seconds())
	}
	if sess.StreamStart.Valid {
		row.StreamDuration += int64(endedAt.Sub(sess.StreamStart.Time).Seconds())
	}
	if sess.VideoStart.Valid {
		row.VideoDuration += int64(endedAt.Sub(sess.VideoStart.Time).Seconds())
	}
	f.History = append(f.History, row)
	delete(f.Sessions, key)
	return nil
}

func (f *Fake) StudyTimeSince(ctx context.Context, guildID, memberID int64, since time.Time) (int64, apperrors.Error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total float64
	for _, row := range f.History {
		if row.GuildID != guildID || row.MemberID != memberID {
			continue
		}
		if !row.EndedAt.After(since) {
			continue
		}
		start := row.StartedAt
		if start.Before(since) {
			start = since
		}
		total += row.EndedAt.Sub(start).Seconds()
	}
	if sess, ok := f.Sessions[memberKey{guildID, memberID}]; ok {
		start := sess.StartedAt
		if start.Before(since) {
			start = since
		}
		if elapsed := f.Now().Sub(start).Seconds(); elapsed > 0 {
			total += elapsed
		}
	}
	return int64(total), nil
}

// --- SlotStore ---

func (f *Fake) SlotsAt(ctx context.Context, guildID int64, times []time.Time) ([]*models.Slot, apperrors.Error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*models.Slot
	for _, slot := range f.Slots {
		if slot.GuildID != guildID {
			continue
		}
		for _, t := range times {
			if slot.StartAt.Equal(t) {
				cp := *slot
				result = append(result, &cp)
				break
			}
		}
	}
	return result, nil
}

func (f *Fake) InsertSlots(ctx context.Context, slots []*models.Slot) apperrors.Error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, slot := range slots {
		for _, existing := range f.Slots {
			if existing.GuildID == slot.GuildID && existing.StartAt.Equal(slot.StartAt) {
				return dberror.ErrAlreadyExists
			}
		}
		cp := *slot
		cp.CreatedAt = f.Now()
		f.Slots[slot.SlotID] = &cp
		f.Reserved[slot.SlotID] = make(map[int64]*models.Reservation)
	}
	return nil
}

func (f *Fake) GetSlot(ctx context.Context, slotID uuid.UUID) (*models.Slot, apperrors.Error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	slot, ok := f.Slots[slotID]
	if !ok {
		return nil, dberror.ErrNotFound.Msg("slot not found")
	}
	cp := *slot
	return &cp, nil
}

func (f *Fake) DueSlots(ctx context.Context, now time.Time) ([]*models.Slot, apperrors.Error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*models.Slot
	for _, slot := range f.Slots {
		if !slot.StartAt.After(now) && !slot.RoomID.Valid {
			cp := *slot
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (f *Fake) MarkSlotOpen(ctx context.Context, slotID uuid.UUID, roomID, messageID int64) (bool, apperrors.Error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	slot, ok := f.Slots[slotID]
	if !ok {
		return false, dberror.ErrNotFound.Msg("slot not found")
	}
	if slot.RoomID.Valid {
		return false, nil
	}
	slot.RoomID.Int64 = roomID
	slot.RoomID.Valid = true
	slot.MessageID.Int64 = messageID
	slot.MessageID.Valid = true
	return true, nil
}

func (f *Fake) UpdateSlotStatus(ctx context.Context, slotID uuid.UUID, status []byte) apperrors.Error {
	f.mu.Lock()
	defer f.mu.Unlock()
	slot, ok := f.Slots[slotID]
	if !ok {
		return dberror.ErrNotFound.Msg("slot not found")
	}
	if err := slot.Status.Set(status); err != nil {
		return dberror.ErrInvalidInput.Err(err)
	}
	return nil
}

func (f *Fake) InsertReservations(ctx context.Context, reservations []*models.Reservation) apperrors.Error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range reservations {
		members, ok := f.Reserved[r.SlotID]
		if !ok {
			return dberror.ErrNotFound.Msg("slot not found")
		}
		if _, exists := members[r.MemberID]; exists {
			return dberror.ErrAlreadyExists
		}
		cp := *r
		members[r.MemberID] = &cp
	}
	return nil
}

func (f *Fake) RecordAttendance(ctx context.Context, slotID uuid.UUID, memberID int64, joinedAt time.Time) apperrors.Error {
	f.mu.Lock()
	defer f.mu.Unlock()
	members, ok := f.Reserved[slotID]
	if !ok {
		return dberror.ErrNotFound.Msg("slot not found")
	}
	if r, exists := members[memberID]; exists && !r.JoinedAt.Valid {
		r.JoinedAt.Time = joinedAt
		r.JoinedAt.Valid = true
	}
	return nil
}

func (f *Fake) DeleteReservations(ctx context.Context, memberID int64, slotIDs []uuid.UUID) ([]*models.Reservation, apperrors.Error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var deleted []*models.Reservation
	for _, slotID := range slotIDs {
		members, ok := f.Reserved[slotID]
		if !ok {
			continue
		}
		if r, exists := members[memberID]; exists {
			cp := *r
			deleted = append(deleted, &cp)
			delete(members, memberID)
		}
	}
	return deleted, nil
}

func (f *Fake) ReservationsForSlot(ctx context.Context, slotID uuid.UUID) ([]*models.Reservation, apperrors.Error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*models.Reservation
	for _, r := range f.Reserved[slotID] {
		cp := *r
		result = append(result, &cp)
	}
	return result, nil
}

func (f *Fake) UpcomingReservations(ctx context.Context, memberID int64, now time.Time) ([]*models.ReservationInfo, apperrors.Error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*models.ReservationInfo
	for slotID, members := range f.Reserved {
		r, ok := members[memberID]
		if !ok {
			continue
		}
		slot := f.Slots[slotID]
		if slot.StartAt.Before(now) {
			continue
		}
		result = append(result, reservationInfo(slot, r))
	}
	return result, nil
}

func (f *Fake) ReservationHistory(ctx context.Context, memberID int64, until time.Time) ([]*models.ReservationInfo, apperrors.Error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*models.ReservationInfo
	for slotID, members := range f.Reserved {
		r, ok := members[memberID]
		if !ok {
			continue
		}
		slot := f.Slots[slotID]
		if slot.StartAt.After(until) {
			continue
		}
		result = append(result, reservationInfo(slot, r))
	}
	// Newest first, as the postgres store orders it.
	for i := 0; i < len(result); i++ {
		for j := i + 1; j < len(result); j++ {
			if result[j].StartAt.After(result[i].StartAt) {
				result[i], result[j] = result[j], result[i]
			}
		}
	}
	return result, nil
}

func (f *Fake) AttendeeCounts(ctx context.Context, guildID int64, from time.Time) ([]*models.AttendeeCount, apperrors.Error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*models.AttendeeCount
	for slotID, members := range f.Reserved {
		slot := f.Slots[slotID]
		if slot.GuildID != guildID || slot.StartAt.Before(from) || len(members) == 0 {
			continue
		}
		result = append(result, &models.AttendeeCount{
			SlotID:  slotID,
			StartAt: slot.StartAt,
			Count:   len(members),
		})
	}
	return result, nil
}

func reservationInfo(slot *models.Slot, r *models.Reservation) *models.ReservationInfo {
	return &models.ReservationInfo{
		SlotID:          slot.SlotID,
		GuildID:         slot.GuildID,
		MemberID:        r.MemberID,
		Paid:            r.Paid,
		StartAt:         slot.StartAt,
		RoomID:          slot.RoomID,
		JoinedAt:        r.JoinedAt,
		DurationSeconds: r.DurationSeconds,
	}
}

// --- SettingsStore ---

func (f *Fake) GuildSettings(ctx context.Context, guildID int64) (*models.GuildSettings, apperrors.Error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if gs, ok := f.Settings[guildID]; ok {
		cp := *gs
		return &cp, nil
	}
	return models.DefaultGuildSettings(guildID), nil
}

func (f *Fake) RoomCategory(ctx context.Context, guildID, roomID int64) (models.RoomCategory, apperrors.Error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if gs, ok := f.Settings[guildID]; ok && gs.Rented(roomID) {
		return models.RoomRented, nil
	}
	for _, slot := range f.Slots {
		if slot.GuildID == guildID && slot.RoomID.Valid && slot.RoomID.Int64 == roomID {
			return models.RoomScheduled, nil
		}
	}
	return models.RoomStandard, nil
}

// Close satisfies db.Store.
func (f *Fake) Close() {}
