package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/friendbet/internal/domain"
)

const marketColumns = `id, authority, fee_claimer, asset_name, feed_id,
	bet_count, total_volume, total_matched_count, total_settled_count,
	total_fees_collected, created_at`

type marketRepo struct {
	q         querier
	forUpdate bool
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m                                     domain.Market
		id, authority, feeClaimer, name       string
		feed                                  []byte
		count, volume, matched, settled, fees int64
	)
	if err := row.Scan(&id, &authority, &feeClaimer, &name, &feed,
		&count, &volume, &matched, &settled, &fees, &m.CreatedAt); err != nil {
		return domain.Market{}, err
	}
	m.ID = domain.MarketID(id)
	m.Authority = common.HexToAddress(authority)
	m.FeeClaimer = common.HexToAddress(feeClaimer)
	m.AssetName = domain.NewAssetName(name)
	copy(m.FeedID[:], feed)
	m.BetCount = fromDB(count)
	m.TotalVolume = fromDB(volume)
	m.TotalMatchedCount = fromDB(matched)
	m.TotalSettledCount = fromDB(settled)
	m.TotalFeesCollected = fromDB(fees)
	return m, nil
}

// Get loads a market. Inside a transaction the row stays locked until commit.
func (r marketRepo) Get(ctx context.Context, id domain.MarketID) (domain.Market, error) {
	query := `SELECT ` + marketColumns + ` FROM markets WHERE id = $1`
	if r.forUpdate {
		query += ` FOR UPDATE`
	}
	m, err := scanMarket(r.q.QueryRow(ctx, query, string(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrMarketNotFound.WithDetail("%s", id)
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

func (r marketRepo) Insert(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, authority, fee_claimer, asset_name, feed_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.q.Exec(ctx, query,
		string(m.ID), m.Authority.Hex(), m.FeeClaimer.Hex(),
		m.AssetName.String(), m.FeedID[:], m.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrMarketExists.WithDetail("%s", m.ID)
		}
		return fmt.Errorf("postgres: insert market %s: %w", m.ID, err)
	}
	return nil
}

// Update writes the market counters.
func (r marketRepo) Update(ctx context.Context, m domain.Market) error {
	vals := make([]int64, 0, 5)
	for _, v := range []uint64{m.BetCount, m.TotalVolume, m.TotalMatchedCount, m.TotalSettledCount, m.TotalFeesCollected} {
		dv, err := toDB(v)
		if err != nil {
			return err
		}
		vals = append(vals, dv)
	}

	const query = `
		UPDATE markets SET
			bet_count            = $2,
			total_volume         = $3,
			total_matched_count  = $4,
			total_settled_count  = $5,
			total_fees_collected = $6,
			updated_at           = NOW()
		WHERE id = $1`

	tag, err := r.q.Exec(ctx, query, string(m.ID), vals[0], vals[1], vals[2], vals[3], vals[4])
	if err != nil {
		return fmt.Errorf("postgres: update market %s: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMarketNotFound.WithDetail("%s", m.ID)
	}
	return nil
}

func listMarkets(ctx context.Context, q querier, opts domain.ListOpts) ([]domain.Market, error) {
	query, args := pageClause(`SELECT `+marketColumns+` FROM markets ORDER BY id`, nil, opts)

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	markets := []domain.Market{}
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}
