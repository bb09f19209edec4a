package economy

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/focusguild/focusguild/internal/tracker/db/dbtest"
)

const (
	testGuild  int64 = 100
	testMember int64 = 200
)

func TestCreditAndBalance(t *testing.T) {
	ctx := context.Background()
	store := dbtest.NewFake()
	ledger := New(store)

	require.NoError(t, ledger.Credit(ctx, testGuild, testMember, 30, false))
	require.NoError(t, ledger.Credit(ctx, testGuild, testMember, 20, false))

	// Pending credits count toward the balance before any flush.
	balance, err := ledger.Balance(ctx, testGuild, testMember)
	require.NoError(t, err)
	assert.EqualValues(t, 50, balance)
	assert.EqualValues(t, 0, store.Coins(testGuild, testMember))

	require.NoError(t, ledger.Flush(ctx))
	assert.EqualValues(t, 50, store.Coins(testGuild, testMember))

	balance, err = ledger.Balance(ctx, testGuild, testMember)
	require.NoError(t, err)
	assert.EqualValues(t, 50, balance)
}

func TestCreditImmediateFlush(t *testing.T) {
	ctx := context.Background()
	store := dbtest.NewFake()
	ledger := New(store)

	require.NoError(t, ledger.Credit(ctx, testGuild, testMember, 150, true))
	assert.EqualValues(t, 150, store.Coins(testGuild, testMember))
}

func TestAddTime(t *testing.T) {
	ctx := context.Background()
	store := dbtest.NewFake()
	ledger := New(store)

	require.NoError(t, ledger.AddTime(ctx, testGuild, testMember, 1800, false))
	require.NoError(t, ledger.AddTime(ctx, testGuild, testMember, 1800, false))
	require.NoError(t, ledger.Flush(ctx))
	assert.EqualValues(t, 3600, store.TrackedSeconds(testGuild, testMember))
}

func TestDebit(t *testing.T) {
	ctx := context.Background()
	store := dbtest.NewFake()
	ledger := New(store)
	store.SetCoins(testGuild, testMember, 100)

	require.NoError(t, ledger.Debit(ctx, testGuild, testMember, 60))
	assert.EqualValues(t, 40, store.Coins(testGuild, testMember))

	// An uncovered debit fails whole and leaves the balance untouched.
	err := ledger.Debit(ctx, testGuild, testMember, 60)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.EqualValues(t, 40, store.Coins(testGuild, testMember))
}

func TestDebitFlushesPendingFirst(t *testing.T) {
	ctx := context.Background()
	store := dbtest.NewFake()
	ledger := New(store)
	store.SetCoins(testGuild, testMember, 10)

	require.NoError(t, ledger.Credit(ctx, testGuild, testMember, 50, false))
	require.NoError(t, ledger.Debit(ctx, testGuild, testMember, 55))
	assert.EqualValues(t, 5, store.Coins(testGuild, testMember))
}

func TestConcurrentCredits(t *testing.T) {
	ctx := context.Background()
	store := dbtest.NewFake()
	ledger := New(store)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = ledger.Credit(ctx, testGuild, testMember, 5, false)
		}()
	}
	wg.Wait()

	require.NoError(t, ledger.Flush(ctx))
	assert.EqualValues(t, 100, store.Coins(testGuild, testMember))
}

func TestFlushEmptyIsNoop(t *testing.T) {
	ledger := New(dbtest.NewFake())
	require.NoError(t, ledger.Flush(context.Background()))
}
