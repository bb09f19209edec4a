package presence

import (
	"context"
	"sync"

	"github.com/focusguild/focusguild/internal/common/apperrors"
	"github.com/focusguild/focusguild/internal/tracker/db"
)

// Member is one member's current presence as held by a roster.
type Member struct {
	GuildID  int64
	MemberID int64
	RoomID   int64
	Flags    Flags
}

// Roster exposes current presence, as consumed by the accrual scanner and
// startup reconciliation.
type Roster interface {
	// Guilds returns the guilds with at least one present member.
	Guilds() []int64
	// Members returns the members currently in a room of the guild.
	Members(guildID int64) []Member
	// Lookup returns a member's presence, if they are in a room.
	Lookup(guildID, memberID int64) (Member, bool)
}

// MemoryRoster tracks presence from the update stream. Seed it from a
// gateway snapshot before applying live updates.
type MemoryRoster struct {
	mu     sync.RWMutex
	guilds map[int64]map[int64]Member
}

// NewMemoryRoster returns an empty roster.
func NewMemoryRoster() *MemoryRoster {
	return &MemoryRoster{guilds: make(map[int64]map[int64]Member)}
}

// Seed installs a presence snapshot, replacing any prior state for the
// members' guilds.
func (r *MemoryRoster) Seed(members []Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range members {
		if m.RoomID == 0 {
			continue
		}
		g, ok := r.guilds[m.GuildID]
		if !ok {
			g = make(map[int64]Member)
			r.guilds[m.GuildID] = g
		}
		g[m.MemberID] = m
	}
}

// Apply folds one presence update into the roster.
func (r *MemoryRoster) Apply(u *Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.guilds[u.GuildID]
	if u.Cur.RoomID == 0 {
		if ok {
			delete(g, u.MemberID)
			if len(g) == 0 {
				delete(r.guilds, u.GuildID)
			}
		}
		return
	}
	if !ok {
		g = make(map[int64]Member)
		r.guilds[u.GuildID] = g
	}
	g[u.MemberID] = Member{
		GuildID:  u.GuildID,
		MemberID: u.MemberID,
		RoomID:   u.Cur.RoomID,
		Flags:    u.Cur.Flags,
	}
}

func (r *MemoryRoster) Guilds() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	guilds := make([]int64, 0, len(r.guilds))
	for id := range r.guilds {
		guilds = append(guilds, id)
	}
	return guilds
}

func (r *MemoryRoster) Members(guildID int64) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g := r.guilds[guildID]
	members := make([]Member, 0, len(g))
	for _, m := range g {
		members = append(members, m)
	}
	return members
}

func (r *MemoryRoster) Lookup(guildID, memberID int64) (Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.guilds[guildID][memberID]
	return m, ok
}

// Eligibility decides whether a member in a room is tracked.
type Eligibility interface {
	Eligible(ctx context.Context, guildID, memberID, roomID int64) (bool, apperrors.Error)
}

// Oracle answers eligibility from guild settings plus a global exclusion
// list of member ids.
type Oracle struct {
	settings db.SettingsStore
	excluded map[int64]struct{}
}

// NewOracle returns an eligibility oracle. globalExcluded members are never
// tracked in any guild.
func NewOracle(settings db.SettingsStore, globalExcluded []int64) *Oracle {
	excluded := make(map[int64]struct{}, len(globalExcluded))
	for _, id := range globalExcluded {
		excluded[id] = struct{}{}
	}
	return &Oracle{settings: settings, excluded: excluded}
}

// Eligible reports whether the member is tracked in the given room: not
// globally excluded, not on the guild's ignore list, and the room not on
// the guild's untracked list.
func (o *Oracle) Eligible(ctx context.Context, guildID, memberID, roomID int64) (bool, apperrors.Error) {
	if _, ok := o.excluded[memberID]; ok {
		return false, nil
	}
	gs, err := o.settings.GuildSettings(ctx, guildID)
	if err != nil {
		return false, ErrPresence.Msg("failed to load guild settings").Err(err)
	}
	if gs.Ignored(memberID) || gs.Untracked(roomID) {
		return false, nil
	}
	return true, nil
}
