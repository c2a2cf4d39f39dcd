// Package memory implements the domain stores and ledger in process memory.
// Transactions buffer their writes and apply them atomically on commit.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/alanyoungcy/friendbet/internal/domain"
)

// Store holds committed state. Markets, bets and escrows carry a version
// that every commit touching them bumps; a transaction whose reads are no
// longer current fails with domain.ErrConflict.
type Store struct {
	mu          sync.RWMutex
	markets     map[domain.MarketID]domain.Market
	bets        map[domain.BetID]domain.Bet
	accounts    map[domain.AccountID]uint64
	settlements []domain.SettlementRecord

	marketVer map[domain.MarketID]uint64
	betVer    map[domain.BetID]uint64
	escrowVer map[domain.AccountID]uint64
}

var _ domain.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		markets:  make(map[domain.MarketID]domain.Market),
		bets:     make(map[domain.BetID]domain.Bet),
		accounts: make(map[domain.AccountID]uint64),

		marketVer: make(map[domain.MarketID]uint64),
		betVer:    make(map[domain.BetID]uint64),
		escrowVer: make(map[domain.AccountID]uint64),
	}
}

// InTx runs fn against a buffered view of the store. Writes become visible
// only if fn returns nil and the commit validates.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	t := newTx(s)
	if err := fn(ctx, t); err != nil {
		return err
	}
	return t.commit()
}

func (s *Store) GetMarket(_ context.Context, id domain.MarketID) (domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrMarketNotFound.WithDetail("%s", id)
	}
	return m, nil
}

func (s *Store) ListMarkets(_ context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	s.mu.RLock()
	out := make([]domain.Market, 0, len(s.markets))
	for _, m := range s.markets {
		out = append(out, m)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return page(out, opts), nil
}

func (s *Store) GetBet(_ context.Context, id domain.BetID) (domain.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bets[id]
	if !ok {
		return domain.Bet{}, domain.ErrBetNotFound.WithDetail("%s", id)
	}
	return b.Clone(), nil
}

func (s *Store) ListBets(_ context.Context, market domain.MarketID, opts domain.ListOpts) ([]domain.Bet, error) {
	s.mu.RLock()
	var out []domain.Bet
	for id, b := range s.bets {
		if id.Market == market {
			out = append(out, b.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID.Seq < out[j].ID.Seq })
	return page(out, opts), nil
}

// ListSettlements returns records in settlement order, filtered on SettledAt.
func (s *Store) ListSettlements(_ context.Context, opts domain.ListOpts) ([]domain.SettlementRecord, error) {
	s.mu.RLock()
	var out []domain.SettlementRecord
	for _, r := range s.settlements {
		if opts.Since != nil && r.SettledAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !r.SettledAt.Before(*opts.Until) {
			continue
		}
		out = append(out, r)
	}
	s.mu.RUnlock()
	return page(out, opts), nil
}

// Balance returns a committed balance. Unknown wallets hold zero.
func (s *Store) Balance(_ context.Context, acct domain.AccountID) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bal, ok := s.accounts[acct]
	if !ok && acct.IsEscrow() {
		return 0, domain.ErrAccountNotFound.WithDetail("%s", acct)
	}
	return bal, nil
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return []T{}
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	if items == nil {
		return []T{}
	}
	return items
}
