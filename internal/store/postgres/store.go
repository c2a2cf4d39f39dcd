package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/friendbet/internal/domain"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements domain.Store on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ domain.Store = (*Store)(nil)

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// InTx runs fn in a read-committed transaction. Markets are locked with
// SELECT ... FOR UPDATE when read, so writers on one market serialize.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Markets() domain.MarketRepo         { return marketRepo{q: t.tx, forUpdate: true} }
func (t *pgTx) Bets() domain.BetRepo               { return betRepo{q: t.tx} }
func (t *pgTx) Ledger() domain.Ledger              { return ledgerRepo{q: t.tx} }
func (t *pgTx) Settlements() domain.SettlementRepo { return settlementRepo{q: t.tx} }

func (s *Store) GetMarket(ctx context.Context, id domain.MarketID) (domain.Market, error) {
	return marketRepo{q: s.pool}.Get(ctx, id)
}

func (s *Store) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	return listMarkets(ctx, s.pool, opts)
}

func (s *Store) GetBet(ctx context.Context, id domain.BetID) (domain.Bet, error) {
	return betRepo{q: s.pool}.Get(ctx, id)
}

func (s *Store) ListBets(ctx context.Context, market domain.MarketID, opts domain.ListOpts) ([]domain.Bet, error) {
	return listBets(ctx, s.pool, market, opts)
}

func (s *Store) ListSettlements(ctx context.Context, opts domain.ListOpts) ([]domain.SettlementRecord, error) {
	return listSettlements(ctx, s.pool, opts)
}

func (s *Store) Balance(ctx context.Context, acct domain.AccountID) (uint64, error) {
	return ledgerRepo{q: s.pool}.Balance(ctx, acct)
}

// Columns are BIGINT, so values above math.MaxInt64 are rejected.
func toDB(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, domain.ErrArithmeticOverflow.WithDetail("%d exceeds storage range", v)
	}
	return int64(v), nil
}

func fromDB(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// isOutOfRange reports a BIGINT overflow raised by the server.
func isOutOfRange(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22003"
}

func addrPtr(s *string) *common.Address {
	if s == nil {
		return nil
	}
	a := common.HexToAddress(*s)
	return &a
}

func addrText(a *common.Address) *string {
	if a == nil {
		return nil
	}
	s := a.Hex()
	return &s
}

// pageClause appends LIMIT/OFFSET placeholders numbered after args.
func pageClause(query string, args []any, opts domain.ListOpts) (string, []any) {
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}
