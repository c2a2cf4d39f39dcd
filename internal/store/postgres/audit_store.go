package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/friendbet/internal/domain"
)

// AuditStore keeps the append-only record of committed bet operations and
// archive runs. The market and bet a row concerns are promoted out of the
// JSONB detail into their own columns.
type AuditStore struct {
	pool *pgxpool.Pool
}

var _ domain.AuditStore = (*AuditStore)(nil)

func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	const q = `INSERT INTO audit_log (event, market_id, bet_id, detail) VALUES ($1, $2, $3, $4)`
	if _, err := s.pool.Exec(ctx, q, event, detailText(detail, "market"), detailText(detail, "bet"), detail); err != nil {
		return fmt.Errorf("postgres: audit %s: %w", event, err)
	}
	return nil
}

// List returns entries newest first, within [Since, Until).
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	q, args := auditListQuery(opts)
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	entries, err := pgx.CollectRows(rows, pgx.RowToStructByPos[domain.AuditEntry])
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	return entries, nil
}

func auditListQuery(opts domain.ListOpts) (string, []any) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if opts.Since != nil {
		where = append(where, "created_at >= "+arg(*opts.Since))
	}
	if opts.Until != nil {
		where = append(where, "created_at < "+arg(*opts.Until))
	}

	var b strings.Builder
	b.WriteString(`SELECT id, event, COALESCE(market_id, ''), COALESCE(bet_id, ''), detail, created_at FROM audit_log`)
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC, id DESC")
	return pageClause(b.String(), args, opts)
}

// detailText returns detail[key] when it is a non-empty string, else nil
// so the column stays NULL.
func detailText(detail map[string]any, key string) *string {
	if v, ok := detail[key].(string); ok && v != "" {
		return &v
	}
	return nil
}
