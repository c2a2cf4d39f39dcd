package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/friendbet/internal/domain"
)

// ledgerRepo keeps balances in ledger_accounts. Debits are conditional
// updates, so a balance can never go negative even across markets.
type ledgerRepo struct {
	q querier
}

func (l ledgerRepo) OpenEscrow(ctx context.Context, acct domain.AccountID) error {
	tag, err := l.q.Exec(ctx,
		`INSERT INTO ledger_accounts (id, balance) VALUES ($1, 0) ON CONFLICT (id) DO NOTHING`,
		string(acct))
	if err != nil {
		return fmt.Errorf("postgres: open escrow %s: %w", acct, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrEscrowExists.WithDetail("%s", acct)
	}
	return nil
}

func (l ledgerRepo) Transfer(ctx context.Context, from, to domain.AccountID, amount uint64) error {
	v, err := toDB(amount)
	if err != nil {
		return err
	}
	// Escrows must exist; wallets are created on demand.
	for _, acct := range []domain.AccountID{from, to} {
		if acct.IsEscrow() {
			if _, err := l.Balance(ctx, acct); err != nil {
				return err
			}
		}
	}
	if v == 0 || from == to {
		return nil
	}

	tag, err := l.q.Exec(ctx,
		`UPDATE ledger_accounts SET balance = balance - $2, updated_at = NOW()
		 WHERE id = $1 AND balance >= $2`,
		string(from), v)
	if err != nil {
		return fmt.Errorf("postgres: debit %s: %w", from, err)
	}
	if tag.RowsAffected() == 0 {
		bal, _ := l.Balance(ctx, from)
		return domain.ErrInsufficientFunds.WithDetail("%s: balance %d, transfer %d", from, bal, amount)
	}
	return l.credit(ctx, to, v)
}

func (l ledgerRepo) credit(ctx context.Context, acct domain.AccountID, v int64) error {
	var query string
	if acct.IsEscrow() {
		query = `UPDATE ledger_accounts SET balance = balance + $2, updated_at = NOW() WHERE id = $1`
	} else {
		query = `INSERT INTO ledger_accounts (id, balance) VALUES ($1, $2)
			ON CONFLICT (id) DO UPDATE SET balance = ledger_accounts.balance + EXCLUDED.balance, updated_at = NOW()`
	}
	tag, err := l.q.Exec(ctx, query, string(acct), v)
	if err != nil {
		if isOutOfRange(err) {
			return domain.ErrArithmeticOverflow.WithDetail("credit %s", acct)
		}
		return fmt.Errorf("postgres: credit %s: %w", acct, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound.WithDetail("%s", acct)
	}
	return nil
}

// Balance returns zero for wallets that were never credited.
func (l ledgerRepo) Balance(ctx context.Context, acct domain.AccountID) (uint64, error) {
	var bal int64
	err := l.q.QueryRow(ctx, `SELECT balance FROM ledger_accounts WHERE id = $1`, string(acct)).Scan(&bal)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if acct.IsEscrow() {
				return 0, domain.ErrAccountNotFound.WithDetail("%s", acct)
			}
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: balance %s: %w", acct, err)
	}
	return fromDB(bal), nil
}

func (l ledgerRepo) CloseEscrow(ctx context.Context, acct domain.AccountID) error {
	bal, err := l.Balance(ctx, acct)
	if err != nil {
		return err
	}
	if bal != 0 {
		return domain.ErrEscrowNotEmpty.WithDetail("%s holds %d", acct, bal)
	}
	if _, err := l.q.Exec(ctx, `DELETE FROM ledger_accounts WHERE id = $1 AND balance = 0`, string(acct)); err != nil {
		return fmt.Errorf("postgres: close escrow %s: %w", acct, err)
	}
	return nil
}

func (l ledgerRepo) Credit(ctx context.Context, acct domain.AccountID, amount uint64) error {
	if acct.IsEscrow() {
		return domain.ErrInvalidAddress.WithDetail("cannot credit escrow %s", acct)
	}
	v, err := toDB(amount)
	if err != nil {
		return err
	}
	return l.credit(ctx, acct, v)
}
