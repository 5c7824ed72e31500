package apikeyinfra

import (
	"context"
	"database/sql"

	"github.com/Abraxas-365/manifesto/pkg/apikey"
	"github.com/Abraxas-365/manifesto/pkg/errx"
	"github.com/Abraxas-365/manifesto/pkg/kernel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PostgresRepository is the Postgres-backed apikey.Repository.
type PostgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) apikey.Repository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Save(ctx context.Context, key apikey.APIKey) error {
	exists, err := r.keyExists(ctx, key.ID)
	if err != nil {
		return errx.Wrap(err, "failed to check api key existence", errx.TypeInternal)
	}
	if exists {
		return r.update(ctx, key)
	}
	return r.create(ctx, key)
}

func (r *PostgresRepository) create(ctx context.Context, key apikey.APIKey) error {
	query := `
		INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, is_active, last_used_at, created_at)
		VALUES (:id, :user_id, :name, :key_hash, :key_prefix, :is_active, :last_used_at, :created_at)`

	_, err := r.db.NamedExecContext(ctx, query, key)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return apikey.ErrInvalid().WithDetail("reason", "key hash collision")
		}
		return errx.Wrap(err, "failed to create api key", errx.TypeInternal).WithDetail("key_id", key.ID.String())
	}
	return nil
}

func (r *PostgresRepository) update(ctx context.Context, key apikey.APIKey) error {
	query := `
		UPDATE api_keys SET
			name = :name,
			is_active = :is_active,
			last_used_at = :last_used_at
		WHERE id = :id`

	result, err := r.db.NamedExecContext(ctx, query, key)
	if err != nil {
		return errx.Wrap(err, "failed to update api key", errx.TypeInternal).WithDetail("key_id", key.ID.String())
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errx.Wrap(err, "failed to read rows affected", errx.TypeInternal)
	}
	if rows == 0 {
		return apikey.ErrNotFound()
	}
	return nil
}

func (r *PostgresRepository) FindByID(ctx context.Context, id kernel.APIKeyID) (*apikey.APIKey, error) {
	var key apikey.APIKey
	err := r.db.GetContext(ctx, &key, `SELECT * FROM api_keys WHERE id = $1`, id.String())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apikey.ErrNotFound()
		}
		return nil, errx.Wrap(err, "failed to find api key by id", errx.TypeInternal)
	}
	return &key, nil
}

func (r *PostgresRepository) FindByHash(ctx context.Context, keyHash string) (*apikey.APIKey, error) {
	var key apikey.APIKey
	err := r.db.GetContext(ctx, &key, `SELECT * FROM api_keys WHERE key_hash = $1`, keyHash)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apikey.ErrNotFound()
		}
		return nil, errx.Wrap(err, "failed to find api key by hash", errx.TypeInternal)
	}
	return &key, nil
}

func (r *PostgresRepository) FindByUser(ctx context.Context, userID kernel.UserID) ([]*apikey.APIKey, error) {
	var keys []*apikey.APIKey
	err := r.db.SelectContext(ctx, &keys, `SELECT * FROM api_keys WHERE user_id = $1 ORDER BY created_at DESC`, userID.String())
	if err != nil {
		return nil, errx.Wrap(err, "failed to find api keys by user", errx.TypeInternal)
	}
	return keys, nil
}

func (r *PostgresRepository) CountActiveByUser(ctx context.Context, userID kernel.UserID) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM api_keys WHERE user_id = $1 AND is_active = true`, userID.String())
	if err != nil {
		return 0, errx.Wrap(err, "failed to count active api keys", errx.TypeInternal)
	}
	return count, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id kernel.APIKeyID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, id.String())
	if err != nil {
		return errx.Wrap(err, "failed to delete api key", errx.TypeInternal)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errx.Wrap(err, "failed to read rows affected", errx.TypeInternal)
	}
	if rows == 0 {
		return apikey.ErrNotFound()
	}
	return nil
}

func (r *PostgresRepository) UpdateLastUsed(ctx context.Context, id kernel.APIKeyID) error {
	_, err := r.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, id.String())
	if err != nil {
		return errx.Wrap(err, "failed to update last used time for api key", errx.TypeInternal)
	}
	return nil
}

func (r *PostgresRepository) keyExists(ctx context.Context, id kernel.APIKeyID) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM api_keys WHERE id = $1)`, id.String())
	if err != nil {
		return false, err
	}
	return exists, nil
}
