package sysconfiginfra

import (
	"context"

	"github.com/Abraxas-365/manifesto/pkg/errx"
	"github.com/Abraxas-365/manifesto/pkg/sysconfig"
	"github.com/jmoiron/sqlx"
)

// PostgresRepository is the Postgres-backed sysconfig.Repository.
type PostgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) sysconfig.Repository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) LoadAll(ctx context.Context) ([]sysconfig.ConfigEntry, error) {
	var entries []sysconfig.ConfigEntry
	err := r.db.SelectContext(ctx, &entries, `SELECT key, value FROM system_config`)
	if err != nil {
		return nil, errx.Wrap(err, "failed to load system_config", errx.TypeInternal)
	}
	return entries, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO system_config (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`
	_, err := r.db.ExecContext(ctx, query, key, value)
	if err != nil {
		return errx.Wrap(err, "failed to upsert system_config", errx.TypeInternal).WithDetail("key", key)
	}
	return nil
}
