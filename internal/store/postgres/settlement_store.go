package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/friendbet/internal/domain"
)

const settlementColumns = `market_id, seq, asset_name, feed_id, raw_price, exponent,
	publish_time, price, threshold, direction, better, matcher, winner, settled_at`

type settlementRepo struct {
	q querier
}

func (r settlementRepo) Append(ctx context.Context, rec domain.SettlementRecord) error {
	seq, err := toDB(rec.BetID.Seq)
	if err != nil {
		return err
	}
	price, err := toDB(rec.Price)
	if err != nil {
		return err
	}
	thres, err := toDB(rec.Threshold)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO settlement_records (` + settlementColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err = r.q.Exec(ctx, query,
		string(rec.MarketID), seq, rec.AssetName, rec.FeedID[:], rec.RawPrice, rec.Exponent,
		rec.PublishTime, price, thres, int16(rec.Direction),
		rec.Better.Hex(), rec.Matcher.Hex(), rec.Winner.Hex(), rec.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append settlement %s: %w", rec.BetID, err)
	}
	return nil
}

func listSettlements(ctx context.Context, q querier, opts domain.ListOpts) ([]domain.SettlementRecord, error) {
	query := `SELECT ` + settlementColumns + ` FROM settlement_records WHERE 1=1`
	var args []any
	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND settled_at >= $%d", len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND settled_at < $%d", len(args))
	}
	query, args = pageClause(query+" ORDER BY settled_at, market_id, seq", args, opts)

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settlements: %w", err)
	}
	defer rows.Close()

	recs := []domain.SettlementRecord{}
	for rows.Next() {
		var (
			rec                             domain.SettlementRecord
			market, better, matcher, winner string
			feed                            []byte
			seq, price, thres               int64
			dir                             int16
		)
		if err := rows.Scan(&market, &seq, &rec.AssetName, &feed, &rec.RawPrice, &rec.Exponent,
			&rec.PublishTime, &price, &thres, &dir, &better, &matcher, &winner, &rec.SettledAt); err != nil {
			return nil, fmt.Errorf("postgres: scan settlement: %w", err)
		}
		rec.MarketID = domain.MarketID(market)
		rec.BetID = domain.BetID{Market: rec.MarketID, Seq: fromDB(seq)}
		copy(rec.FeedID[:], feed)
		rec.Price = fromDB(price)
		rec.Threshold = fromDB(thres)
		rec.Direction = domain.Direction(dir)
		rec.Better = common.HexToAddress(better)
		rec.Matcher = common.HexToAddress(matcher)
		rec.Winner = common.HexToAddress(winner)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list settlements rows: %w", err)
	}
	return recs, nil
}
