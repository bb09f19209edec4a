// Package economy maintains member wallets. Reward credits from the session
// engine and the accrual scanner accumulate in memory and are written back in
// batches; debits always go straight to storage so a balance check and the
// subtraction are one atomic statement.
package economy

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/focusguild/focusguild/internal/common/apperrors"
	"github.com/focusguild/focusguild/internal/tracker/db"
	"github.com/focusguild/focusguild/internal/tracker/db/dberror"
	"github.com/focusguild/focusguild/internal/tracker/db/models"
)

type memberKey struct {
	guildID  int64
	memberID int64
}

// Ledger is the in-memory front for member wallets. Credits are commutative,
// so pending deltas from concurrent sources merge by addition.
type Ledger struct {
	store db.MemberStore

	mu      sync.Mutex
	pending map[memberKey]*models.PendingCredit
}

// New returns a ledger backed by the given member store.
func New(store db.MemberStore) *Ledger {
	return &Ledger{
		store:   store,
		pending: make(map[memberKey]*models.PendingCredit),
	}
}

func (l *Ledger) add(guildID, memberID, coins, seconds int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := memberKey{guildID, memberID}
	p, ok := l.pending[key]
	if !ok {
		p = &models.PendingCredit{GuildID: guildID, MemberID: memberID}
		l.pending[key] = p
	}
	p.Coins += coins
	p.Seconds += seconds
}

// Credit adds coins to a member's wallet. With flush set the member's pending
// delta is written back immediately; otherwise it waits for the next Flush.
func (l *Ledger) Credit(ctx context.Context, guildID, memberID, coins int64, flush bool) apperrors.Error {
	l.add(guildID, memberID, coins, 0)
	if flush {
		return l.flushMember(ctx, guildID, memberID)
	}
	return nil
}

// AddTime adds tracked seconds to a member's lifetime total.
func (l *Ledger) AddTime(ctx context.Context, guildID, memberID, seconds int64, flush bool) apperrors.Error {
	l.add(guildID, memberID, 0, seconds)
	if flush {
		return l.flushMember(ctx, guildID, memberID)
	}
	return nil
}

// Balance returns the member's coin balance including pending credits.
func (l *Ledger) Balance(ctx context.Context, guildID, memberID int64) (int64, apperrors.Error) {
	m, err := l.store.GetMember(ctx, guildID, memberID)
	if err != nil {
		return 0, ErrEconomy.Msg("failed to read balance").Err(err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.pending[memberKey{guildID, memberID}]; ok {
		return m.Coins + p.Coins, nil
	}
	return m.Coins, nil
}

// Debit subtracts amount from the member's wallet. The member's pending
// credits are flushed first so the stored balance is current, then the
// conditional subtraction runs in storage. A debit never partially applies;
// an uncovered amount returns ErrInsufficientFunds.
func (l *Ledger) Debit(ctx context.Context, guildID, memberID, amount int64) apperrors.Error {
	if amount < 0 {
		return ErrEconomy.Msg("negative debit amount")
	}
	if err := l.flushMember(ctx, guildID, memberID); err != nil {
		return err
	}
	if err := l.store.DebitMember(ctx, guildID, memberID, amount); err != nil {
		if errors.Is(err, dberror.ErrInvalidInput) {
			return ErrInsufficientFunds
		}
		return ErrEconomy.Msg("debit failed").Err(err)
	}
	return nil
}

// flushMember writes back a single member's pending delta. On failure the
// delta is merged back so it is retried on the next flush.
func (l *Ledger) flushMember(ctx context.Context, guildID, memberID int64) apperrors.Error {
	l.mu.Lock()
	key := memberKey{guildID, memberID}
	p, ok := l.pending[key]
	if ok {
		delete(l.pending, key)
	}
	l.mu.Unlock()
	if !ok {
		return nil
	}
	if err := l.store.ApplyCredits(ctx, []models.PendingCredit{*p}); err != nil {
		l.add(p.GuildID, p.MemberID, p.Coins, p.Seconds)
		return ErrEconomy.Msg("failed to flush credits").Err(err)
	}
	return nil
}

// Flush writes back all pending credits in one batch. Failed batches are
// merged back into the pending set.
func (l *Ledger) Flush(ctx context.Context) apperrors.Error {
	l.mu.Lock()
	if len(l.pending) == 0 {
		l.mu.Unlock()
		return nil
	}
	batch := make([]models.PendingCredit, 0, len(l.pending))
	for _, p := range l.pending {
		batch = append(batch, *p)
	}
	l.pending = make(map[memberKey]*models.PendingCredit)
	l.mu.Unlock()

	if err := l.store.ApplyCredits(ctx, batch); err != nil {
		for _, p := range batch {
			l.add(p.GuildID, p.MemberID, p.Coins, p.Seconds)
		}
		return ErrEconomy.Msg("failed to flush credits").Err(err)
	}
	log.Ctx(ctx).Debug().Int("members", len(batch)).Msg("flushed pending credits")
	return nil
}

// Run flushes pending credits on the given interval until ctx is canceled,
// with a final flush on the way out.
func (l *Ledger) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := l.Flush(context.WithoutCancel(ctx)); err != nil {
				log.Ctx(ctx).Error().Err(err).Msg("final credit flush failed")
			}
			return
		case <-ticker.C:
			if err := l.Flush(ctx); err != nil {
				log.Ctx(ctx).Error().Err(err).Msg("credit flush failed")
			}
		}
	}
}
