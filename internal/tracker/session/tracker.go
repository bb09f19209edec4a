// Package session implements the presence-driven session lifecycle: pending,
// active, finished. The tracker owns the in-memory session registry plus the
// pending-start and expiry timers; rows are persisted through the session
// store so a restart can reconcile them against live presence.
package session

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/focusguild/focusguild/internal/common/apperrors"
	"github.com/focusguild/focusguild/internal/tracker/caps"
	"github.com/focusguild/focusguild/internal/tracker/db"
	"github.com/focusguild/focusguild/internal/tracker/db/models"
	"github.com/focusguild/focusguild/internal/tracker/presence"
)

type memberKey struct {
	guildID  int64
	memberID int64
}

// active is one tracked session plus its expiry timer. The generation count
// makes timer cancellation race-free: a fired timer acts only if the
// registry still holds the same generation.
type active struct {
	session models.Session
	expiry  *time.Timer
	gen     uint64
}

// pendingStart waits out a member's exhausted daily cap and re-attempts the
// start when the day window resets.
type pendingStart struct {
	timer  *time.Timer
	roomID int64
	flags  presence.Flags
}

// Tracker is the session lifecycle engine. Safe for concurrent use; the
// registry lock is never held across storage calls.
type Tracker struct {
	store       db.Store
	eligibility presence.Eligibility
	now         func() time.Time

	mu      sync.Mutex
	active  map[memberKey]*active
	pending map[memberKey]*pendingStart
	gen     uint64
}

// New returns a tracker over the given store and eligibility oracle.
func New(store db.Store, eligibility presence.Eligibility) *Tracker {
	return &Tracker{
		store:       store,
		eligibility: eligibility,
		now:         time.Now,
		active:      make(map[memberKey]*active),
		pending:     make(map[memberKey]*pendingStart),
	}
}

// SetClock overrides the tracker's clock, for tests.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// ActiveCount returns the number of active sessions, optionally per guild
// (guildID 0 counts all).
func (t *Tracker) ActiveCount(guildID int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if guildID == 0 {
		return len(t.active)
	}
	n := 0
	for key := range t.active {
		if key.guildID == guildID {
			n++
		}
	}
	return n
}

// IsActive reports whether the member has an active session.
func (t *Tracker) IsActive(guildID, memberID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[memberKey{guildID, memberID}]
	return ok
}

// budget returns the member's remaining daily study allowance in seconds,
// their timezone, and the guild settings the allowance was computed from.
func (t *Tracker) budget(ctx context.Context, guildID, memberID int64) (int64, *time.Location, *models.GuildSettings, apperrors.Error) {
	member, err := t.store.GetMember(ctx, guildID, memberID)
	if err != nil {
		return 0, nil, nil, ErrSession.Msg("failed to load member").Err(err)
	}
	settings, err := t.store.GuildSettings(ctx, guildID)
	if err != nil {
		return 0, nil, nil, ErrSession.Msg("failed to load guild settings").Err(err)
	}
	loc := caps.Location(member.Timezone)
	now := t.now()
	studied, err := t.store.StudyTimeSince(ctx, guildID, memberID, caps.DayStart(now, loc))
	if err != nil {
		return 0, nil, nil, ErrSession.Msg("failed to compute studied time").Err(err)
	}
	return caps.RemainingToday(now, loc, settings.DailyCapSeconds, studied), loc, settings, nil
}

// Start begins tracking the member in the given room. If the daily cap is
// exhausted the start is deferred until the member's day window resets.
// Returns ErrAlreadyActive if the member already has a session.
func (t *Tracker) Start(ctx context.Context, guildID, memberID, roomID int64, flags presence.Flags) apperrors.Error {
	key := memberKey{guildID, memberID}

	t.mu.Lock()
	if _, exists := t.active[key]; exists {
		t.mu.Unlock()
		return ErrAlreadyActive
	}
	t.mu.Unlock()

	remaining, loc, settings, err := t.budget(ctx, guildID, memberID)
	if err != nil {
		return err
	}
	if remaining <= 0 {
		t.schedulePending(guildID, memberID, roomID, flags, loc)
		return nil
	}

	category, err := t.store.RoomCategory(ctx, guildID, roomID)
	if err != nil {
		return ErrSession.Msg("failed to classify room").Err(err)
	}

	now := t.now()
	sess := models.Session{
		GuildID:         guildID,
		MemberID:        memberID,
		RoomID:          roomID,
		Category:        category,
		StartedAt:       now,
		HourlyCoins:     settings.HourlyReward,
		HourlyLiveCoins: settings.HourlyLiveBonus,
	}
	if flags.Live() {
		sess.LiveStart = sql.NullTime{Time: now, Valid: true}
	}
	if flags.Stream {
		sess.StreamStart = sql.NullTime{Time: now, Valid: true}
	}
	if flags.Video {
		sess.VideoStart = sql.NullTime{Time: now, Valid: true}
	}

	if err := t.store.CreateSession(ctx, &sess); err != nil {
		return ErrSession.Msg("failed to persist session").Err(err)
	}

	t.mu.Lock()
	if _, exists := t.active[key]; exists {
		t.mu.Unlock()
		// A concurrent start won the race after our persist; our row is
		// the duplicate, remove it.
		if derr := t.store.CloseSession(ctx, guildID, memberID, now); derr != nil {
			log.Ctx(ctx).Error().Err(derr).Msg("failed to undo duplicate session")
		}
		return ErrAlreadyActive
	}
	t.cancelPendingLocked(key)
	t.registerLocked(key, sess, remaining)
	t.mu.Unlock()

	log.Ctx(ctx).Info().
		Int64("guild", guildID).
		Int64("member", memberID).
		Int64("room", roomID).
		Str("category", string(category)).
		Msg("session started")
	return nil
}

// registerLocked inserts the session into the registry and schedules its cap
// expiry. Caller holds t.mu.
func (t *Tracker) registerLocked(key memberKey, sess models.Session, remaining int64) {
	t.gen++
	entry := &active{session: sess, gen: t.gen}
	gen := t.gen
	entry.expiry = time.AfterFunc(time.Duration(remaining)*time.Second, func() {
		t.expire(key, gen)
	})
	t.active[key] = entry
}

// schedulePending defers a session start until the member's next day window.
// A previous pending start for the member is cancelled, not overwritten.
func (t *Tracker) schedulePending(guildID, memberID, roomID int64, flags presence.Flags, loc *time.Location) {
	key := memberKey{guildID, memberID}
	wait := time.Duration(caps.RemainingInDay(t.now(), loc)) * time.Second

	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelPendingLocked(key)
	p := &pendingStart{roomID: roomID, flags: flags}
	p.timer = time.AfterFunc(wait, func() {
		t.firePending(key, p)
	})
	t.pending[key] = p

	log.Info().
		Int64("guild", guildID).
		Int64("member", memberID).
		Dur("wait", wait).
		Msg("daily cap reached, session start deferred")
}

// firePending re-attempts a deferred start. It acts only if the registry
// still holds the same pending entry, so a cancelled or superseded timer
// that fires anyway is a no-op.
func (t *Tracker) firePending(key memberKey, p *pendingStart) {
	t.mu.Lock()
	if t.pending[key] != p {
		t.mu.Unlock()
		return
	}
	delete(t.pending, key)
	t.mu.Unlock()

	ctx := log.With().
		Int64("guild", key.guildID).
		Int64("member", key.memberID).
		Logger().WithContext(context.Background())
	if err := t.Start(ctx, key.guildID, key.memberID, p.roomID, p.flags); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("deferred session start failed")
	}
}

// CancelPending drops any deferred start for the member. Idempotent.
func (t *Tracker) CancelPending(guildID, memberID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelPendingLocked(memberKey{guildID, memberID})
}

func (t *Tracker) cancelPendingLocked(key memberKey) {
	if p, ok := t.pending[key]; ok {
		p.timer.Stop()
		delete(t.pending, key)
	}
}

// expire fires when a session's scheduled cap expiry elapses. The budget is
// re-checked: interim accrual or external time grants may have extended it,
// in which case the expiry is rescheduled instead of finishing.
func (t *Tracker) expire(key memberKey, gen uint64) {
	t.mu.Lock()
	entry, ok := t.active[key]
	if !ok || entry.gen != gen {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	ctx := log.With().
		Int64("guild", key.guildID).
		Int64("member", key.memberID).
		Logger().WithContext(context.Background())

	remaining, _, _, err := t.budget(ctx, key.guildID, key.memberID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("expiry budget check failed")
		remaining = 0
	}

	if remaining > 0 {
		t.mu.Lock()
		if cur, ok := t.active[key]; ok && cur.gen == gen {
			cur.expiry = time.AfterFunc(time.Duration(remaining)*time.Second, func() {
				t.expire(key, gen)
			})
		}
		t.mu.Unlock()
		return
	}

	if err := t.Finish(ctx, key.guildID, key.memberID); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("cap expiry finish failed")
	} else {
		log.Ctx(ctx).Info().Msg("session finished on daily cap")
	}
}

// UpdateLiveStatus applies an activity-flag change to the session's three
// sub-timers. A single pivot instant both stops timers whose flag went off
// (folding elapsed time into the cumulative duration) and starts timers
// whose flag came on. No session is a no-op.
func (t *Tracker) UpdateLiveStatus(ctx context.Context, guildID, memberID int64, flags presence.Flags) apperrors.Error {
	key := memberKey{guildID, memberID}
	pivot := t.now()

	t.mu.Lock()
	entry, ok := t.active[key]
	if !ok {
		t.mu.Unlock()
		return nil
	}
	status := models.LiveStatus{
		LiveStart:      entry.session.LiveStart,
		LiveDuration:   entry.session.LiveDuration,
		StreamStart:    entry.session.StreamStart,
		StreamDuration: entry.session.StreamDuration,
		VideoStart:     entry.session.VideoStart,
		VideoDuration:  entry.session.VideoDuration,
	}
	applyTimer(&status.LiveStart, &status.LiveDuration, flags.Live(), pivot)
	applyTimer(&status.StreamStart, &status.StreamDuration, flags.Stream, pivot)
	applyTimer(&status.VideoStart, &status.VideoDuration, flags.Video, pivot)

	entry.session.LiveStart = status.LiveStart
	entry.session.LiveDuration = status.LiveDuration
	entry.session.StreamStart = status.StreamStart
	entry.session.StreamDuration = status.StreamDuration
	entry.session.VideoStart = status.VideoStart
	entry.session.VideoDuration = status.VideoDuration
	t.mu.Unlock()

	if err := t.store.UpdateLiveStatus(ctx, guildID, memberID, status); err != nil {
		return ErrSession.Msg("failed to persist live status").Err(err)
	}
	return nil
}

// applyTimer advances one sub-timer to the desired flag state at the pivot
// instant.
func applyTimer(start *sql.NullTime, duration *int64, on bool, pivot time.Time) {
	switch {
	case on && !start.Valid:
		*start = sql.NullTime{Time: pivot, Valid: true}
	case !on && start.Valid:
		if elapsed := int64(pivot.Sub(start.Time).Seconds()); elapsed > 0 {
			*duration += elapsed
		}
		*start = sql.NullTime{}
	}
}

// Finish closes the member's session: the row is folded into history, the
// registry entry removed, and the expiry timer cancelled. Finishing an
// absent session is a no-op.
func (t *Tracker) Finish(ctx context.Context, guildID, memberID int64) apperrors.Error {
	key := memberKey{guildID, memberID}

	t.mu.Lock()
	entry, ok := t.active[key]
	if ok {
		entry.expiry.Stop()
		delete(t.active, key)
	}
	t.mu.Unlock()
	if !ok {
		return nil
	}

	if err := t.store.CloseSession(ctx, guildID, memberID, t.now()); err != nil {
		return ErrSession.Msg("failed to close session").Err(err)
	}
	log.Ctx(ctx).Info().
		Int64("guild", guildID).
		Int64("member", memberID).
		Msg("session finished")
	return nil
}

// HandleUpdate dispatches one presence update: exits finish the session and
// cancel any deferred start, entries into tracked rooms start one, and
// flag-only changes update the sub-timers.
func (t *Tracker) HandleUpdate(ctx context.Context, u *presence.Update) {
	logger := log.Ctx(ctx).With().
		Int64("guild", u.GuildID).
		Int64("member", u.MemberID).
		Logger()
	ctx = logger.WithContext(ctx)

	if u.Left() {
		t.mu.Lock()
		if entry, ok := t.active[memberKey{u.GuildID, u.MemberID}]; ok && entry.session.RoomID != u.Prev.RoomID {
			logger.Warn().
				Int64("recorded_room", entry.session.RoomID).
				Int64("event_room", u.Prev.RoomID).
				Msg("session room does not match presence event")
		}
		t.mu.Unlock()
		if err := t.Finish(ctx, u.GuildID, u.MemberID); err != nil {
			logger.Error().Err(err).Msg("failed to finish session on exit")
		}
		t.CancelPending(u.GuildID, u.MemberID)
	}

	if u.Joined() {
		ok, err := t.eligibility.Eligible(ctx, u.GuildID, u.MemberID, u.Cur.RoomID)
		if err != nil {
			logger.Error().Err(err).Msg("eligibility check failed")
			return
		}
		if !ok {
			return
		}
		if err := t.Start(ctx, u.GuildID, u.MemberID, u.Cur.RoomID, u.Cur.Flags); err != nil {
			logger.Error().Err(err).Msg("failed to start session on entry")
		}
		return
	}

	if u.Cur.RoomID != 0 && u.Cur.RoomID == u.Prev.RoomID && u.Cur.Flags != u.Prev.Flags {
		if err := t.UpdateLiveStatus(ctx, u.GuildID, u.MemberID, u.Cur.Flags); err != nil {
			logger.Error().Err(err).Msg("failed to update live status")
		}
	}
}
