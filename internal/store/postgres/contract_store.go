package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fpidot/pm-aggregator/internal/domain"
)

const contractColumns = `market, external_id, title, current_price, category, last_updated,
	is_displayed, is_followed, last_alert_price, last_alert_time, created_at`

// ContractStore implements domain.ContractStore using PostgreSQL. Price
// history lives in its own table and is joined back on every read.
type ContractStore struct {
	pool *pgxpool.Pool
}

// NewContractStore creates a new ContractStore backed by the given pool.
func NewContractStore(pool *pgxpool.Pool) *ContractStore {
	return &ContractStore{pool: pool}
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanContract(row pgx.Row) (domain.Contract, error) {
	var (
		c      domain.Contract
		market string
	)
	err := row.Scan(
		&market, &c.ExternalID, &c.Title, &c.CurrentPrice, &c.Category, &c.LastUpdated,
		&c.IsDisplayed, &c.IsFollowed, &c.LastAlertPrice, &c.LastAlertTime, &c.CreatedAt,
	)
	c.Market = domain.Market(market)
	return c, err
}

// FindOne returns a single contract with its price history.
func (s *ContractStore) FindOne(ctx context.Context, key domain.ContractKey) (domain.Contract, error) {
	return findOne(ctx, s.pool, key)
}

func findOne(ctx context.Context, q querier, key domain.ContractKey) (domain.Contract, error) {
	row := q.QueryRow(ctx,
		`SELECT `+contractColumns+` FROM contracts WHERE market = $1 AND external_id = $2`,
		string(key.Market), key.ExternalID)
	c, err := scanContract(row)
	if err != nil {
		return domain.Contract{}, classify("find contract "+key.String(), err)
	}
	contracts := []domain.Contract{c}
	if err := attachHistory(ctx, q, contracts); err != nil {
		return domain.Contract{}, err
	}
	return contracts[0], nil
}

// Find returns contracts matching filter ordered by market then external id.
func (s *ContractStore) Find(ctx context.Context, filter domain.ContractFilter) ([]domain.Contract, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.Market != nil {
		add("market = $%d", string(*filter.Market))
	}
	if filter.Followed != nil {
		add("is_followed = $%d", *filter.Followed)
	}
	if filter.Displayed != nil {
		add("is_displayed = $%d", *filter.Displayed)
	}
	if filter.Category != nil {
		add("category = $%d", *filter.Category)
	}

	query := `SELECT ` + contractColumns + ` FROM contracts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY market, external_id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("find contracts", err)
	}
	defer rows.Close()

	var out []domain.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, classify("scan contract", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("find contracts rows", err)
	}
	if err := attachHistory(ctx, s.pool, out); err != nil {
		return nil, err
	}
	return out, nil
}

// attachHistory loads price history for every contract in one query.
func attachHistory(ctx context.Context, q querier, contracts []domain.Contract) error {
	if len(contracts) == 0 {
		return nil
	}
	markets := make([]string, len(contracts))
	ids := make([]string, len(contracts))
	index := make(map[domain.ContractKey]int, len(contracts))
	for i, c := range contracts {
		markets[i] = string(c.Market)
		ids[i] = c.ExternalID
		index[c.Key()] = i
	}

	rows, err := q.Query(ctx, `
		SELECT h.market, h.external_id, h.price, h.observed_at
		FROM price_history h
		JOIN unnest($1::text[], $2::text[]) AS k(market, external_id)
		  ON h.market = k.market AND h.external_id = k.external_id
		ORDER BY h.observed_at, h.id`, markets, ids)
	if err != nil {
		return classify("load history", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			market, id string
			p          domain.PricePoint
		)
		if err := rows.Scan(&market, &id, &p.Price, &p.Timestamp); err != nil {
			return classify("scan history", err)
		}
		i, ok := index[domain.ContractKey{ExternalID: id, Market: domain.Market(market)}]
		if !ok {
			continue
		}
		contracts[i].PriceHistory = append(contracts[i].PriceHistory, p)
	}
	return classify("load history rows", rows.Err())
}

// UpsertDiscovered inserts a new contract with both flags off, or refreshes
// the discovery-owned columns of an existing one. Operator flags and the
// alert baseline are never touched here.
func (s *ContractStore) UpsertDiscovered(ctx context.Context, g domain.GenericContract) (bool, error) {
	const query = `
		INSERT INTO contracts (market, external_id, title, current_price, category, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (market, external_id) DO UPDATE SET
			title         = EXCLUDED.title,
			current_price = EXCLUDED.current_price,
			category      = EXCLUDED.category,
			last_updated  = EXCLUDED.last_updated
		RETURNING (xmax = 0)`

	var created bool
	err := s.pool.QueryRow(ctx, query,
		string(g.Market), g.ExternalID, g.Title, g.CurrentPrice, g.Category, g.LastUpdated,
	).Scan(&created)
	if err != nil {
		return false, classify("upsert contract "+g.Key().String(), err)
	}
	return created, nil
}

// RecordPrice updates the current price, appends the history point and
// prunes old history in a single transaction.
func (s *ContractStore) RecordPrice(ctx context.Context, key domain.ContractKey, point domain.PricePoint, retainSince time.Time) (domain.Contract, error) {
	op := "record price " + key.String()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Contract{}, classify(op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE contracts SET current_price = $3, last_updated = $4 WHERE market = $1 AND external_id = $2`,
		string(key.Market), key.ExternalID, point.Price, point.Timestamp)
	if err != nil {
		return domain.Contract{}, classify(op, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Contract{}, fmt.Errorf("postgres: %s: %w", op, domain.ErrNotFound)
	}

	batch := &pgx.Batch{}
	batch.Queue(
		`INSERT INTO price_history (market, external_id, price, observed_at) VALUES ($1, $2, $3, $4)`,
		string(key.Market), key.ExternalID, point.Price, point.Timestamp)
	batch.Queue(
		`DELETE FROM price_history WHERE market = $1 AND external_id = $2 AND observed_at < $3`,
		string(key.Market), key.ExternalID, retainSince)
	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return domain.Contract{}, classify(op, err)
		}
	}
	if err := br.Close(); err != nil {
		return domain.Contract{}, classify(op, err)
	}

	c, err := findOne(ctx, tx, key)
	if err != nil {
		return domain.Contract{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Contract{}, classify(op, err)
	}
	return c, nil
}

// SetAlertBaseline stores the price and time of the last alert.
func (s *ContractStore) SetAlertBaseline(ctx context.Context, key domain.ContractKey, price float64, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE contracts SET last_alert_price = $3, last_alert_time = $4 WHERE market = $1 AND external_id = $2`,
		string(key.Market), key.ExternalID, price, at)
	if err != nil {
		return classify("set alert baseline "+key.String(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: set alert baseline %s: %w", key, domain.ErrNotFound)
	}
	return nil
}

// Patch applies operator changes. Nil fields keep their stored value.
func (s *ContractStore) Patch(ctx context.Context, key domain.ContractKey, patch domain.ContractPatch) (domain.Contract, error) {
	const query = `
		UPDATE contracts SET
			is_followed  = COALESCE($3, is_followed),
			is_displayed = COALESCE($4, is_displayed),
			category     = COALESCE($5, category)
		WHERE market = $1 AND external_id = $2`

	tag, err := s.pool.Exec(ctx, query,
		string(key.Market), key.ExternalID, patch.Followed, patch.Displayed, patch.Category)
	if err != nil {
		return domain.Contract{}, classify("patch contract "+key.String(), err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Contract{}, fmt.Errorf("postgres: patch contract %s: %w", key, domain.ErrNotFound)
	}
	return s.FindOne(ctx, key)
}

// HistorySince returns every history point observed at or after since,
// oldest first.
func (s *ContractStore) HistorySince(ctx context.Context, since time.Time) ([]domain.HistoryRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT market, external_id, price, observed_at
		FROM price_history
		WHERE observed_at >= $1
		ORDER BY observed_at, id`, since)
	if err != nil {
		return nil, classify("history since", err)
	}
	defer rows.Close()

	var out []domain.HistoryRecord
	for rows.Next() {
		var (
			r      domain.HistoryRecord
			market string
		)
		if err := rows.Scan(&market, &r.Key.ExternalID, &r.Price, &r.Timestamp); err != nil {
			return nil, classify("scan history", err)
		}
		r.Key.Market = domain.Market(market)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("history since rows", err)
	}
	return out, nil
}
