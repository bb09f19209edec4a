package session

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/focusguild/focusguild/internal/common/apperrors"
	"github.com/focusguild/focusguild/internal/tracker/presence"
)

// Resume reconciles persisted open sessions against current presence. Rows
// whose member is still in the recorded room are re-activated in memory with
// sub-timer state re-derived from current flags; all other rows are closed.
// Afterwards, sessions are started for present eligible members lacking one.
//
// Call before consuming live presence events; an error means state integrity
// cannot be guaranteed and the caller must abort startup.
func (t *Tracker) Resume(ctx context.Context, roster presence.Roster) apperrors.Error {
	open, err := t.store.ListOpenSessions(ctx)
	if err != nil {
		return ErrSession.Msg("failed to list open sessions").Err(err)
	}

	for _, sess := range open {
		member, present := roster.Lookup(sess.GuildID, sess.MemberID)
		if !present || member.RoomID != sess.RoomID {
			if cerr := t.store.CloseSession(ctx, sess.GuildID, sess.MemberID, t.now()); cerr != nil {
				return ErrSession.Msg("failed to close stale session").Err(cerr)
			}
			log.Ctx(ctx).Info().
				Int64("guild", sess.GuildID).
				Int64("member", sess.MemberID).
				Msg("closed stale session from previous run")
			continue
		}

		remaining, _, _, berr := t.budget(ctx, sess.GuildID, sess.MemberID)
		if berr != nil {
			return berr
		}
		if remaining <= 0 {
			if cerr := t.store.CloseSession(ctx, sess.GuildID, sess.MemberID, t.now()); cerr != nil {
				return ErrSession.Msg("failed to close capped session").Err(cerr)
			}
			continue
		}

		key := memberKey{sess.GuildID, sess.MemberID}
		t.mu.Lock()
		t.registerLocked(key, *sess, remaining)
		t.mu.Unlock()

		if uerr := t.UpdateLiveStatus(ctx, sess.GuildID, sess.MemberID, member.Flags); uerr != nil {
			return uerr
		}
		log.Ctx(ctx).Info().
			Int64("guild", sess.GuildID).
			Int64("member", sess.MemberID).
			Msg("resumed session from previous run")
	}

	for _, guildID := range roster.Guilds() {
		for _, member := range roster.Members(guildID) {
			if t.IsActive(guildID, member.MemberID) {
				continue
			}
			ok, eerr := t.eligibility.Eligible(ctx, guildID, member.MemberID, member.RoomID)
			if eerr != nil {
				return eerr
			}
			if !ok {
				continue
			}
			if serr := t.Start(ctx, guildID, member.MemberID, member.RoomID, member.Flags); serr != nil {
				return serr
			}
		}
	}
	return nil
}
