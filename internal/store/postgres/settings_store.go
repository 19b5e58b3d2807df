package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fpidot/pm-aggregator/internal/domain"
)

// SettingsStore keeps the admin settings singleton as a JSONB document in
// row id=1.
type SettingsStore struct {
	pool *pgxpool.Pool
}

func NewSettingsStore(pool *pgxpool.Pool) *SettingsStore {
	return &SettingsStore{pool: pool}
}

// Get returns domain.ErrNotFound until settings have been saved once.
func (s *SettingsStore) Get(ctx context.Context) (domain.AdminSettings, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM admin_settings WHERE id = 1`).Scan(&doc)
	if err != nil {
		return domain.AdminSettings{}, classify("get settings", err)
	}
	var out domain.AdminSettings
	if err := json.Unmarshal(doc, &out); err != nil {
		return domain.AdminSettings{}, fmt.Errorf("postgres: decode settings: %w: %w", domain.ErrPersistence, err)
	}
	return out, nil
}

func (s *SettingsStore) Save(ctx context.Context, settings domain.AdminSettings) error {
	doc, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("postgres: encode settings: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO admin_settings (id, doc, updated_at) VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at`,
		doc, settings.UpdatedAt)
	return classify("save settings", err)
}
