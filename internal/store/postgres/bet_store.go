package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/friendbet/internal/domain"
)

const betColumns = `market_id, seq, better, matcher, amount, price_threshold,
	direction, settlement_time, is_funded, is_matched, is_settled,
	created_by_admin, winner, escrow, created_at`

type betRepo struct {
	q querier
}

func scanBet(row pgx.Row) (domain.Bet, error) {
	var (
		b                  domain.Bet
		market, better     string
		escrow             string
		matcher, winner    *string
		seq, amount, thres int64
		dir                int16
	)
	if err := row.Scan(&market, &seq, &better, &matcher, &amount, &thres,
		&dir, &b.SettlementTime, &b.IsFunded, &b.IsMatched, &b.IsSettled,
		&b.CreatedByAdmin, &winner, &escrow, &b.CreatedAt); err != nil {
		return domain.Bet{}, err
	}
	b.ID = domain.BetID{Market: domain.MarketID(market), Seq: fromDB(seq)}
	b.Better = common.HexToAddress(better)
	b.Matcher = addrPtr(matcher)
	b.Winner = addrPtr(winner)
	b.Amount = fromDB(amount)
	b.PriceThreshold = fromDB(thres)
	b.Direction = domain.Direction(dir)
	b.Escrow = domain.AccountID(escrow)
	return b, nil
}

func (r betRepo) Get(ctx context.Context, id domain.BetID) (domain.Bet, error) {
	seq, err := toDB(id.Seq)
	if err != nil {
		return domain.Bet{}, err
	}
	query := `SELECT ` + betColumns + ` FROM bets WHERE market_id = $1 AND seq = $2`
	b, err := scanBet(r.q.QueryRow(ctx, query, string(id.Market), seq))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Bet{}, domain.ErrBetNotFound.WithDetail("%s", id)
		}
		return domain.Bet{}, fmt.Errorf("postgres: get bet %s: %w", id, err)
	}
	return b, nil
}

func betArgs(b domain.Bet) ([]any, error) {
	seq, err := toDB(b.ID.Seq)
	if err != nil {
		return nil, err
	}
	amount, err := toDB(b.Amount)
	if err != nil {
		return nil, err
	}
	thres, err := toDB(b.PriceThreshold)
	if err != nil {
		return nil, err
	}
	return []any{
		string(b.ID.Market), seq, b.Better.Hex(), addrText(b.Matcher), amount, thres,
		int16(b.Direction), b.SettlementTime, b.IsFunded, b.IsMatched, b.IsSettled,
		b.CreatedByAdmin, addrText(b.Winner), string(b.Escrow), b.CreatedAt,
	}, nil
}

func (r betRepo) Insert(ctx context.Context, b domain.Bet) error {
	args, err := betArgs(b)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO bets (` + betColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	if _, err := r.q.Exec(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrBetExists.WithDetail("%s", b.ID)
		}
		return fmt.Errorf("postgres: insert bet %s: %w", b.ID, err)
	}
	return nil
}

// Update writes the mutable lifecycle fields.
func (r betRepo) Update(ctx context.Context, b domain.Bet) error {
	seq, err := toDB(b.ID.Seq)
	if err != nil {
		return err
	}
	const query = `
		UPDATE bets SET
			matcher    = $3,
			is_funded  = $4,
			is_matched = $5,
			is_settled = $6,
			winner     = $7,
			updated_at = NOW()
		WHERE market_id = $1 AND seq = $2`

	tag, err := r.q.Exec(ctx, query, string(b.ID.Market), seq,
		addrText(b.Matcher), b.IsFunded, b.IsMatched, b.IsSettled, addrText(b.Winner))
	if err != nil {
		return fmt.Errorf("postgres: update bet %s: %w", b.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrBetNotFound.WithDetail("%s", b.ID)
	}
	return nil
}

func (r betRepo) Delete(ctx context.Context, id domain.BetID) error {
	seq, err := toDB(id.Seq)
	if err != nil {
		return err
	}
	tag, err := r.q.Exec(ctx, `DELETE FROM bets WHERE market_id = $1 AND seq = $2`, string(id.Market), seq)
	if err != nil {
		return fmt.Errorf("postgres: delete bet %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrBetNotFound.WithDetail("%s", id)
	}
	return nil
}

func listBets(ctx context.Context, q querier, market domain.MarketID, opts domain.ListOpts) ([]domain.Bet, error) {
	query, args := pageClause(
		`SELECT `+betColumns+` FROM bets WHERE market_id = $1 ORDER BY seq`,
		[]any{string(market)}, opts)

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets: %w", err)
	}
	defer rows.Close()

	bets := []domain.Bet{}
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		bets = append(bets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bets rows: %w", err)
	}
	return bets, nil
}
