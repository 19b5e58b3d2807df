package postgres

import (
	"errors"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpidot/pm-aggregator/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/pmagg?sslmode=disable",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db", Database: "pmagg"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
	assert.Equal(t, "postgres://agg:p%40ss%2Fw@db:6432/pmagg?sslmode=require",
		DSN(ClientConfig{User: "agg", Password: "p@ss/w", Host: "db", Port: 6432, Database: "pmagg", SSLMode: "require"}))
}

func TestMigrationFilesOrdered(t *testing.T) {
	fsys := fstest.MapFS{
		"m/010_indexes.sql": {Data: []byte("--")},
		"m/002_audit.sql":   {Data: []byte("--")},
		"m/README.md":       {Data: []byte("notes")},
		"m/001_init.sql":    {Data: []byte("--")},
	}
	names, err := migrationFiles(fsys, "m")
	require.NoError(t, err)
	assert.Equal(t, []string{"001_init.sql", "002_audit.sql", "010_indexes.sql"}, names)

	names, err = migrationFiles(migrationsFS, "migrations")
	require.NoError(t, err)
	assert.Contains(t, names, "001_init.sql")
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify("op", nil))

	err := classify("find contract", pgx.ErrNoRows)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Contains(t, err.Error(), "postgres: find contract")

	err = classify("create subscriber", &pgconn.PgError{Code: "23505"})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	err = classify("insert history", &pgconn.PgError{Code: "23503"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	cause := errors.New("connection reset")
	err = classify("save settings", cause)
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.ErrorIs(t, err, cause)
}

func TestCategoriesOrEmpty(t *testing.T) {
	assert.NotNil(t, categoriesOrEmpty(nil))
	assert.Equal(t, []string{"Economy"}, categoriesOrEmpty([]string{"Economy"}))
}

func TestMigrationsEmbedded(t *testing.T) {
	data, err := migrationsFS.ReadFile("migrations/001_init.sql")
	require.NoError(t, err)
	for _, table := range []string{"contracts", "price_history", "admin_settings", "subscribers", "audit_log"} {
		assert.True(t, strings.Contains(string(data), "CREATE TABLE IF NOT EXISTS "+table),
			"missing table %s", table)
	}
}
