package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/friendbet/internal/domain"
)

var wallet = domain.WalletAccount(common.HexToAddress("0x00000000000000000000000000000000000a11ce"))

func credit(t *testing.T, s *Store, acct domain.AccountID, amount uint64) {
	t.Helper()
	require.NoError(t, s.InTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		return tx.Ledger().Credit(ctx, acct, amount)
	}))
}

func TestTxRollbackDiscardsEverything(t *testing.T) {
	ctx := context.Background()
	s := New()
	credit(t, s, wallet, 100)

	feed := domain.FeedID{0xab}
	m := domain.NewMarket(common.Address{}, common.Address{}, "BTC", feed, time.Unix(0, 0))
	escrow := domain.EscrowAccount(domain.BetID{Market: m.ID, Seq: 1})

	boom := errors.New("boom")
	err := s.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		require.NoError(t, tx.Markets().Insert(ctx, m))
		require.NoError(t, tx.Ledger().OpenEscrow(ctx, escrow))
		require.NoError(t, tx.Ledger().Transfer(ctx, wallet, escrow, 60))
		require.NoError(t, tx.Bets().Insert(ctx, domain.Bet{ID: domain.BetID{Market: m.ID, Seq: 1}}))
		require.NoError(t, tx.Settlements().Append(ctx, domain.SettlementRecord{MarketID: m.ID}))

		// Writes are visible inside the transaction.
		bal, err := tx.Ledger().Balance(ctx, escrow)
		require.NoError(t, err)
		assert.Equal(t, uint64(60), bal)
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetMarket(ctx, m.ID)
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)
	_, err = s.GetBet(ctx, domain.BetID{Market: m.ID, Seq: 1})
	assert.ErrorIs(t, err, domain.ErrBetNotFound)
	_, err = s.Balance(ctx, escrow)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	bal, err := s.Balance(ctx, wallet)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), bal)
	recs, err := s.ListSettlements(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestLedgerRules(t *testing.T) {
	ctx := context.Background()
	s := New()
	credit(t, s, wallet, 10)
	escrow := domain.EscrowAccount(domain.BetID{Market: "m", Seq: 1})

	err := s.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Ledger().Transfer(ctx, wallet, escrow, 1)
	})
	assert.ErrorIs(t, err, domain.ErrAccountNotFound, "escrow must be opened first")

	err = s.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		l := tx.Ledger()
		require.NoError(t, l.OpenEscrow(ctx, escrow))
		assert.ErrorIs(t, l.OpenEscrow(ctx, escrow), domain.ErrEscrowExists)
		assert.ErrorIs(t, l.Transfer(ctx, wallet, escrow, 11), domain.ErrInsufficientFunds)
		require.NoError(t, l.Transfer(ctx, wallet, escrow, 10))
		assert.ErrorIs(t, l.CloseEscrow(ctx, escrow), domain.ErrEscrowNotEmpty)
		require.NoError(t, l.Transfer(ctx, escrow, wallet, 10))
		return l.CloseEscrow(ctx, escrow)
	})
	require.NoError(t, err)

	_, err = s.Balance(ctx, escrow)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	bal, err := s.Balance(ctx, wallet)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), bal)
}

func TestConcurrentDebitsCannotOverdraw(t *testing.T) {
	ctx := context.Background()
	s := New()
	credit(t, s, wallet, 100)
	sink := domain.WalletAccount(common.HexToAddress("0x0000000000000000000000000000000000000b0b"))

	// Both transactions see 100 before either commits.
	a, b := newTx(s), newTx(s)
	require.NoError(t, a.Ledger().Transfer(ctx, wallet, sink, 60))
	require.NoError(t, b.Ledger().Transfer(ctx, wallet, sink, 60))

	require.NoError(t, a.commit())
	assert.ErrorIs(t, b.commit(), domain.ErrInsufficientFunds)

	bal, err := s.Balance(ctx, wallet)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), bal)
	bal, err = s.Balance(ctx, sink)
	require.NoError(t, err)
	assert.Equal(t, uint64(60), bal)
}

func TestCommitRefusesStaleReads(t *testing.T) {
	ctx := context.Background()
	s := New()
	m := domain.NewMarket(common.Address{}, common.Address{}, "BTC", domain.FeedID{0xab}, time.Unix(0, 0))
	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Markets().Insert(ctx, m)
	}))

	bump := func(tx domain.Tx) {
		got, err := tx.Markets().Get(ctx, m.ID)
		require.NoError(t, err)
		_, err = got.RecordBet()
		require.NoError(t, err)
		require.NoError(t, tx.Markets().Update(ctx, got))
	}

	// Both read bet_count 0; the later commit would overwrite the first.
	a, b := newTx(s), newTx(s)
	bump(a)
	bump(b)
	require.NoError(t, a.commit())
	assert.ErrorIs(t, b.commit(), domain.ErrConflict)

	got, err := s.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.BetCount)

	// A bet created and removed by others still counts as a change.
	id := domain.BetID{Market: m.ID, Seq: 1}
	c := newTx(s)
	_, err = c.Bets().Get(ctx, id)
	require.ErrorIs(t, err, domain.ErrBetNotFound)
	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Bets().Insert(ctx, domain.Bet{ID: id})
	}))
	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Bets().Delete(ctx, id)
	}))
	require.NoError(t, c.Bets().Insert(ctx, domain.Bet{ID: id}))
	assert.ErrorIs(t, c.commit(), domain.ErrConflict)

	// Reading an escrow balance without changing it does not conflict.
	escrow := domain.EscrowAccount(id)
	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Ledger().OpenEscrow(ctx, escrow)
	}))
	r1, r2 := newTx(s), newTx(s)
	_, err = r1.Ledger().Balance(ctx, escrow)
	require.NoError(t, err)
	_, err = r2.Ledger().Balance(ctx, escrow)
	require.NoError(t, err)
	require.NoError(t, r1.commit())
	require.NoError(t, r2.commit())
}

func TestListSettlementsWindow(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Unix(1_700_000_000, 0)
	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		for i := 0; i < 5; i++ {
			rec := domain.SettlementRecord{
				BetID:     domain.BetID{Market: "m", Seq: uint64(i + 1)},
				SettledAt: base.Add(time.Duration(i) * time.Hour),
			}
			if err := tx.Settlements().Append(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	}))

	since, until := base.Add(time.Hour), base.Add(3*time.Hour)
	recs, err := s.ListSettlements(ctx, domain.ListOpts{Since: &since, Until: &until})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, uint64(2), recs[0].BetID.Seq)
	assert.Equal(t, uint64(3), recs[1].BetID.Seq)

	recs, err = s.ListSettlements(ctx, domain.ListOpts{Offset: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, uint64(2), recs[0].BetID.Seq)
}
