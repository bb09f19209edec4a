// Package accrual credits presence time and coins on a fixed wall-clock
// interval. The session engine only captures durations at close time; the
// scanner is what makes reward visible while a session is still running,
// tracking elapsed time per guild rather than per member.
package accrual

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/focusguild/focusguild/internal/tracker/db"
	"github.com/focusguild/focusguild/internal/tracker/economy"
	"github.com/focusguild/focusguild/internal/tracker/presence"
)

// Scanner credits every present eligible member with the time elapsed since
// the guild's previous scan.
type Scanner struct {
	settings    db.SettingsStore
	ledger      *economy.Ledger
	roster      presence.Roster
	eligibility presence.Eligibility
	now         func() time.Time

	// ceiling discards implausibly long intervals after an outage rather
	// than crediting them.
	ceiling time.Duration

	mu       sync.Mutex
	lastScan map[int64]time.Time
}

// New returns a scanner. Intervals longer than ceiling are discarded as
// outage artifacts.
func New(settings db.SettingsStore, ledger *economy.Ledger, roster presence.Roster, eligibility presence.Eligibility, ceiling time.Duration) *Scanner {
	return &Scanner{
		settings:    settings,
		ledger:      ledger,
		roster:      roster,
		eligibility: eligibility,
		now:         time.Now,
		ceiling:     ceiling,
		lastScan:    make(map[int64]time.Time),
	}
}

// SetClock overrides the scanner's clock, for tests.
func (s *Scanner) SetClock(now func() time.Time) {
	s.now = now
}

// LastScan returns the guild's last scan instant, if any.
func (s *Scanner) LastScan(guildID int64) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.lastScan[guildID]
	return ts, ok
}

// Run ticks on the given interval until ctx is canceled. One guild's
// failure never aborts the others.
func (s *Scanner) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick scans every guild with present members.
func (s *Scanner) Tick(ctx context.Context) {
	for _, guildID := range s.roster.Guilds() {
		s.scanGuild(ctx, guildID)
	}
}

func (s *Scanner) scanGuild(ctx context.Context, guildID int64) {
	defer func() {
		if r := recover(); r != nil {
			log.Ctx(ctx).Error().Int64("guild", guildID).Interface("panic", r).Msg("scan panicked")
		}
	}()
	if err := s.ScanGuild(ctx, guildID); err != nil {
		log.Ctx(ctx).Error().Err(err).Int64("guild", guildID).Msg("scan failed")
	}
}

// ScanGuild credits the guild's present eligible members for the time since
// the guild's previous scan. The first scan of a guild only records the
// timestamp; an interval over the ceiling is discarded but still advances
// the last-scan mark.
func (s *Scanner) ScanGuild(ctx context.Context, guildID int64) error {
	now := s.now()

	s.mu.Lock()
	last, seen := s.lastScan[guildID]
	s.lastScan[guildID] = now
	s.mu.Unlock()

	if !seen {
		return nil
	}
	interval := now.Sub(last)
	if interval <= 0 {
		return nil
	}
	if interval > s.ceiling {
		log.Ctx(ctx).Warn().
			Int64("guild", guildID).
			Dur("interval", interval).
			Msg("scan interval over ceiling, discarding")
		return nil
	}

	settings, err := s.settings.GuildSettings(ctx, guildID)
	if err != nil {
		return err
	}
	seconds := int64(interval.Seconds())

	for _, m := range s.roster.Members(guildID) {
		ok, eerr := s.eligibility.Eligible(ctx, guildID, m.MemberID, m.RoomID)
		if eerr != nil {
			return eerr
		}
		if !ok {
			continue
		}
		rate := settings.HourlyReward
		if m.Flags.Live() {
			rate += settings.HourlyLiveBonus
		}
		coins := rate * seconds / 3600
		if cerr := s.ledger.AddTime(ctx, guildID, m.MemberID, seconds, false); cerr != nil {
			return cerr
		}
		if coins > 0 {
			if cerr := s.ledger.Credit(ctx, guildID, m.MemberID, coins, false); cerr != nil {
				return cerr
			}
		}
	}
	return nil
}
