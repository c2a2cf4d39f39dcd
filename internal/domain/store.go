package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries. Until is exclusive.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketRepo reads and writes markets inside a transaction.
type MarketRepo interface {
	// Get loads a market and holds it for update until the transaction ends.
	Get(ctx context.Context, id MarketID) (Market, error)
	Insert(ctx context.Context, m Market) error
	Update(ctx context.Context, m Market) error
}

// BetRepo reads and writes bets inside a transaction.
type BetRepo interface {
	Get(ctx context.Context, id BetID) (Bet, error)
	Insert(ctx context.Context, b Bet) error
	Update(ctx context.Context, b Bet) error
	Delete(ctx context.Context, id BetID) error
}

// SettlementRepo appends settlement records inside a transaction.
type SettlementRepo interface {
	Append(ctx context.Context, rec SettlementRecord) error
}

// Ledger moves value between holding accounts. Wallet accounts are created on
// first use; escrow accounts are opened and closed explicitly.
type Ledger interface {
	OpenEscrow(ctx context.Context, acct AccountID) error
	Transfer(ctx context.Context, from, to AccountID, amount uint64) error
	Balance(ctx context.Context, acct AccountID) (uint64, error)
	// CloseEscrow removes an empty escrow account.
	CloseEscrow(ctx context.Context, acct AccountID) error
	// Credit mints funds into a wallet account.
	Credit(ctx context.Context, acct AccountID, amount uint64) error
}

// Tx is the unit of work of a single lifecycle operation.
type Tx interface {
	Markets() MarketRepo
	Bets() BetRepo
	Ledger() Ledger
	Settlements() SettlementRepo
}

// TxRunner runs fn in a transaction, committing when fn returns nil and
// discarding every write otherwise.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Reader serves committed state outside of transactions.
type Reader interface {
	GetMarket(ctx context.Context, id MarketID) (Market, error)
	ListMarkets(ctx context.Context, opts ListOpts) ([]Market, error)
	GetBet(ctx context.Context, id BetID) (Bet, error)
	ListBets(ctx context.Context, market MarketID, opts ListOpts) ([]Bet, error)
	ListSettlements(ctx context.Context, opts ListOpts) ([]SettlementRecord, error)
	Balance(ctx context.Context, acct AccountID) (uint64, error)
}

// Store is a complete backing store.
type Store interface {
	TxRunner
	Reader
}

// AuditEntry is a single audit log row. Market and Bet are copied from the
// "market" and "bet" detail keys when present.
type AuditEntry struct {
	ID        int64
	Event     string
	Market    string
	Bet       string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
