package memory

import (
	"context"

	"github.com/alanyoungcy/friendbet/internal/domain"
)

type betEntry struct {
	bet     domain.Bet
	deleted bool
}

type accountEntry struct {
	existed bool
	exists  bool
	base    uint64
	balance uint64
}

func (a *accountEntry) changed() bool {
	return a.exists != a.existed || a.balance != a.base
}

// tx buffers writes over the committed state. Reads fall through to the
// store for anything the transaction has not touched.
type tx struct {
	s           *Store
	markets     map[domain.MarketID]domain.Market
	newMarkets  map[domain.MarketID]bool
	bets        map[domain.BetID]*betEntry
	accounts    map[domain.AccountID]*accountEntry
	settlements []domain.SettlementRecord

	// versions observed on first read from the store
	readMarkets map[domain.MarketID]uint64
	readBets    map[domain.BetID]uint64
	readEscrows map[domain.AccountID]uint64
}

func newTx(s *Store) *tx {
	return &tx{
		s:          s,
		markets:    make(map[domain.MarketID]domain.Market),
		newMarkets: make(map[domain.MarketID]bool),
		bets:       make(map[domain.BetID]*betEntry),
		accounts:   make(map[domain.AccountID]*accountEntry),

		readMarkets: make(map[domain.MarketID]uint64),
		readBets:    make(map[domain.BetID]uint64),
		readEscrows: make(map[domain.AccountID]uint64),
	}
}

func (t *tx) Markets() domain.MarketRepo         { return marketRepo{t} }
func (t *tx) Bets() domain.BetRepo               { return betRepo{t} }
func (t *tx) Ledger() domain.Ledger              { return ledger{t} }
func (t *tx) Settlements() domain.SettlementRepo { return settlementRepo{t} }

// commit checks that everything the transaction read is still current,
// validates wallet balances against the latest committed state and applies
// every buffered write, or none.
func (t *tx) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := t.checkVersions(); err != nil {
		return err
	}
	for id := range t.newMarkets {
		if _, ok := s.markets[id]; ok {
			return domain.ErrMarketExists.WithDetail("%s", id)
		}
	}

	next := make(map[domain.AccountID]uint64, len(t.accounts))
	for id, a := range t.accounts {
		if id.IsEscrow() {
			continue
		}
		cur := s.accounts[id]
		if a.balance >= a.base {
			v, err := domain.CheckedAdd(cur, a.balance-a.base)
			if err != nil {
				return err
			}
			next[id] = v
			continue
		}
		debit := a.base - a.balance
		if cur < debit {
			return domain.ErrInsufficientFunds.WithDetail("%s: balance %d, debit %d", id, cur, debit)
		}
		next[id] = cur - debit
	}

	for id, m := range t.markets {
		s.markets[id] = m
		s.marketVer[id]++
	}
	for id, e := range t.bets {
		s.betVer[id]++
		if e.deleted {
			delete(s.bets, id)
			continue
		}
		s.bets[id] = e.bet
	}
	for id, a := range t.accounts {
		if !id.IsEscrow() || !a.changed() {
			continue
		}
		s.escrowVer[id]++
		if a.exists {
			s.accounts[id] = a.balance
		} else {
			delete(s.accounts, id)
		}
	}
	for id, v := range next {
		s.accounts[id] = v
	}
	s.settlements = append(s.settlements, t.settlements...)
	return nil
}

// checkVersions must be called with the store lock held.
func (t *tx) checkVersions() error {
	s := t.s
	for id, v := range t.readMarkets {
		if s.marketVer[id] != v {
			return domain.ErrConflict.WithDetail("market %s", id)
		}
	}
	for id, v := range t.readBets {
		if s.betVer[id] != v {
			return domain.ErrConflict.WithDetail("bet %s", id)
		}
	}
	for id, v := range t.readEscrows {
		if s.escrowVer[id] != v {
			return domain.ErrConflict.WithDetail("escrow %s", id)
		}
	}
	return nil
}

type marketRepo struct{ t *tx }

func (r marketRepo) Get(_ context.Context, id domain.MarketID) (domain.Market, error) {
	if m, ok := r.t.markets[id]; ok {
		return m, nil
	}
	r.t.s.mu.RLock()
	m, ok := r.t.s.markets[id]
	if _, seen := r.t.readMarkets[id]; !seen {
		r.t.readMarkets[id] = r.t.s.marketVer[id]
	}
	r.t.s.mu.RUnlock()
	if !ok {
		return domain.Market{}, domain.ErrMarketNotFound.WithDetail("%s", id)
	}
	return m, nil
}

func (r marketRepo) Insert(ctx context.Context, m domain.Market) error {
	if _, err := r.Get(ctx, m.ID); err == nil {
		return domain.ErrMarketExists.WithDetail("%s", m.ID)
	}
	r.t.markets[m.ID] = m
	r.t.newMarkets[m.ID] = true
	return nil
}

func (r marketRepo) Update(ctx context.Context, m domain.Market) error {
	if _, err := r.Get(ctx, m.ID); err != nil {
		return err
	}
	r.t.markets[m.ID] = m
	return nil
}

type betRepo struct{ t *tx }

func (r betRepo) lookup(id domain.BetID) (domain.Bet, bool) {
	if e, ok := r.t.bets[id]; ok {
		if e.deleted {
			return domain.Bet{}, false
		}
		return e.bet.Clone(), true
	}
	r.t.s.mu.RLock()
	b, ok := r.t.s.bets[id]
	if _, seen := r.t.readBets[id]; !seen {
		r.t.readBets[id] = r.t.s.betVer[id]
	}
	r.t.s.mu.RUnlock()
	return b.Clone(), ok
}

func (r betRepo) Get(_ context.Context, id domain.BetID) (domain.Bet, error) {
	b, ok := r.lookup(id)
	if !ok {
		return domain.Bet{}, domain.ErrBetNotFound.WithDetail("%s", id)
	}
	return b, nil
}

func (r betRepo) Insert(_ context.Context, b domain.Bet) error {
	if _, ok := r.lookup(b.ID); ok {
		return domain.ErrBetExists.WithDetail("%s", b.ID)
	}
	r.t.bets[b.ID] = &betEntry{bet: b.Clone()}
	return nil
}

func (r betRepo) Update(_ context.Context, b domain.Bet) error {
	if _, ok := r.lookup(b.ID); !ok {
		return domain.ErrBetNotFound.WithDetail("%s", b.ID)
	}
	r.t.bets[b.ID] = &betEntry{bet: b.Clone()}
	return nil
}

func (r betRepo) Delete(_ context.Context, id domain.BetID) error {
	if _, ok := r.lookup(id); !ok {
		return domain.ErrBetNotFound.WithDetail("%s", id)
	}
	r.t.bets[id] = &betEntry{deleted: true}
	return nil
}

type settlementRepo struct{ t *tx }

func (r settlementRepo) Append(_ context.Context, rec domain.SettlementRecord) error {
	r.t.settlements = append(r.t.settlements, rec)
	return nil
}

type ledger struct{ t *tx }

// account returns the buffered entry for id, loading it on first use.
func (l ledger) account(id domain.AccountID) *accountEntry {
	if a, ok := l.t.accounts[id]; ok {
		return a
	}
	l.t.s.mu.RLock()
	bal, ok := l.t.s.accounts[id]
	if id.IsEscrow() {
		l.t.readEscrows[id] = l.t.s.escrowVer[id]
	}
	l.t.s.mu.RUnlock()
	exists := ok || !id.IsEscrow()
	a := &accountEntry{existed: exists, exists: exists, base: bal, balance: bal}
	l.t.accounts[id] = a
	return a
}

func (l ledger) OpenEscrow(_ context.Context, id domain.AccountID) error {
	a := l.account(id)
	if a.exists {
		return domain.ErrEscrowExists.WithDetail("%s", id)
	}
	a.exists = true
	a.balance = 0
	return nil
}

func (l ledger) Transfer(_ context.Context, from, to domain.AccountID, amount uint64) error {
	src := l.account(from)
	if !src.exists {
		return domain.ErrAccountNotFound.WithDetail("%s", from)
	}
	dst := l.account(to)
	if !dst.exists {
		return domain.ErrAccountNotFound.WithDetail("%s", to)
	}
	if src.balance < amount {
		return domain.ErrInsufficientFunds.WithDetail("%s: balance %d, transfer %d", from, src.balance, amount)
	}
	if from == to {
		return nil
	}
	credited, err := domain.CheckedAdd(dst.balance, amount)
	if err != nil {
		return err
	}
	src.balance -= amount
	dst.balance = credited
	return nil
}

func (l ledger) Balance(_ context.Context, id domain.AccountID) (uint64, error) {
	a := l.account(id)
	if !a.exists {
		return 0, domain.ErrAccountNotFound.WithDetail("%s", id)
	}
	return a.balance, nil
}

func (l ledger) CloseEscrow(_ context.Context, id domain.AccountID) error {
	a := l.account(id)
	if !a.exists {
		return domain.ErrAccountNotFound.WithDetail("%s", id)
	}
	if a.balance != 0 {
		return domain.ErrEscrowNotEmpty.WithDetail("%s holds %d", id, a.balance)
	}
	a.exists = false
	return nil
}

func (l ledger) Credit(_ context.Context, id domain.AccountID, amount uint64) error {
	if id.IsEscrow() {
		return domain.ErrInvalidAddress.WithDetail("cannot credit escrow %s", id)
	}
	a := l.account(id)
	v, err := domain.CheckedAdd(a.balance, amount)
	if err != nil {
		return err
	}
	a.balance = v
	return nil
}
