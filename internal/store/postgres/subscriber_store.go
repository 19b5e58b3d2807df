package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fpidot/pm-aggregator/internal/domain"
)

const subscriberColumns = `phone_number, categories, daily_updates, big_moves, muted_until, created_at`

// SubscriberStore implements domain.SubscriberStore using PostgreSQL.
type SubscriberStore struct {
	pool *pgxpool.Pool
}

func NewSubscriberStore(pool *pgxpool.Pool) *SubscriberStore {
	return &SubscriberStore{pool: pool}
}

func scanSubscriber(row pgx.Row) (domain.Subscriber, error) {
	var s domain.Subscriber
	err := row.Scan(&s.PhoneNumber, &s.Categories, &s.AlertPreferences.DailyUpdates,
		&s.AlertPreferences.BigMoves, &s.MutedUntil, &s.CreatedAt)
	return s, err
}

// Create inserts a subscriber; a duplicate phone yields domain.ErrAlreadyExists.
func (s *SubscriberStore) Create(ctx context.Context, sub domain.Subscriber) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO subscribers (`+subscriberColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		sub.PhoneNumber, categoriesOrEmpty(sub.Categories), sub.AlertPreferences.DailyUpdates,
		sub.AlertPreferences.BigMoves, sub.MutedUntil, sub.CreatedAt)
	return classify("create subscriber", err)
}

func (s *SubscriberStore) Get(ctx context.Context, phone string) (domain.Subscriber, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriberColumns+` FROM subscribers WHERE phone_number = $1`, phone)
	sub, err := scanSubscriber(row)
	if err != nil {
		return domain.Subscriber{}, classify("get subscriber", err)
	}
	return sub, nil
}

func (s *SubscriberStore) List(ctx context.Context, filter domain.SubscriberFilter) ([]domain.Subscriber, error) {
	var (
		where []string
		args  []any
	)
	if filter.DailyUpdates != nil {
		args = append(args, *filter.DailyUpdates)
		where = append(where, fmt.Sprintf("daily_updates = $%d", len(args)))
	}
	if filter.BigMoves != nil {
		args = append(args, *filter.BigMoves)
		where = append(where, fmt.Sprintf("big_moves = $%d", len(args)))
	}
	if filter.Category != nil {
		args = append(args, *filter.Category)
		where = append(where, fmt.Sprintf("$%d = ANY(categories)", len(args)))
	}

	query := `SELECT ` + subscriberColumns + ` FROM subscribers`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY phone_number"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("list subscribers", err)
	}
	defer rows.Close()

	var out []domain.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, classify("scan subscriber", err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list subscribers rows", err)
	}
	return out, nil
}

func (s *SubscriberStore) Update(ctx context.Context, sub domain.Subscriber) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscribers SET categories = $2, daily_updates = $3, big_moves = $4, muted_until = $5
		WHERE phone_number = $1`,
		sub.PhoneNumber, categoriesOrEmpty(sub.Categories), sub.AlertPreferences.DailyUpdates,
		sub.AlertPreferences.BigMoves, sub.MutedUntil)
	if err != nil {
		return classify("update subscriber", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update subscriber: %w", domain.ErrNotFound)
	}
	return nil
}

func (s *SubscriberStore) Delete(ctx context.Context, phone string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM subscribers WHERE phone_number = $1`, phone)
	if err != nil {
		return classify("delete subscriber", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: delete subscriber: %w", domain.ErrNotFound)
	}
	return nil
}

// categories is NOT NULL; a nil slice would encode as NULL.
func categoriesOrEmpty(c []string) []string {
	if c == nil {
		return []string{}
	}
	return c
}
