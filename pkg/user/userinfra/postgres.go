package userinfra

import (
	"context"
	"database/sql"

	"github.com/Abraxas-365/manifesto/pkg/errx"
	"github.com/Abraxas-365/manifesto/pkg/kernel"
	"github.com/Abraxas-365/manifesto/pkg/user"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PostgresRepository is the Postgres-backed user.Repository.
type PostgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) user.Repository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, u user.User) error {
	query := `
		INSERT INTO users (id, username, password_hash, discord_id, is_active, is_admin, base_quota, bonus_quota, created_at)
		VALUES (:id, :username, :password_hash, :discord_id, :is_active, :is_admin, :base_quota, :bonus_quota, :created_at)`

	_, err := r.db.NamedExecContext(ctx, query, u)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			if pqErr.Constraint == "users_discord_id_key" {
				return user.ErrDiscordTaken()
			}
			return user.ErrUsernameTaken()
		}
		return errx.Wrap(err, "failed to create user", errx.TypeInternal)
	}
	return nil
}

func (r *PostgresRepository) FindByID(ctx context.Context, id kernel.UserID) (*user.User, error) {
	var u user.User
	err := r.db.GetContext(ctx, &u, `SELECT * FROM users WHERE id = $1`, id.String())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, user.ErrNotFound()
		}
		return nil, errx.Wrap(err, "failed to find user by id", errx.TypeInternal)
	}
	return &u, nil
}

func (r *PostgresRepository) FindByUsername(ctx context.Context, username string) (*user.User, error) {
	var u user.User
	err := r.db.GetContext(ctx, &u, `SELECT * FROM users WHERE username = $1`, username)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, user.ErrNotFound()
		}
		return nil, errx.Wrap(err, "failed to find user by username", errx.TypeInternal)
	}
	return &u, nil
}

func (r *PostgresRepository) FindByDiscordID(ctx context.Context, discordID string) (*user.User, error) {
	var u user.User
	err := r.db.GetContext(ctx, &u, `SELECT * FROM users WHERE discord_id = $1`, discordID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, user.ErrNotFound()
		}
		return nil, errx.Wrap(err, "failed to find user by discord id", errx.TypeInternal)
	}
	return &u, nil
}

func (r *PostgresRepository) Update(ctx context.Context, u user.User) error {
	query := `
		UPDATE users SET
			username = :username,
			password_hash = :password_hash,
			discord_id = :discord_id,
			is_active = :is_active,
			is_admin = :is_admin,
			base_quota = :base_quota,
			bonus_quota = :bonus_quota
		WHERE id = :id`

	result, err := r.db.NamedExecContext(ctx, query, u)
	if err != nil {
		return errx.Wrap(err, "failed to update user", errx.TypeInternal)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errx.Wrap(err, "failed to read rows affected", errx.TypeInternal)
	}
	if rows == 0 {
		return user.ErrNotFound()
	}
	return nil
}

// ApplyBonusDelta adjusts bonus_quota at the row level in one statement so
// concurrent donation reward/clawback transactions never race on a
// read-modify-write of an in-memory copy.
func (r *PostgresRepository) ApplyBonusDelta(ctx context.Context, id kernel.UserID, delta int) error {
	query := `UPDATE users SET bonus_quota = GREATEST(0, bonus_quota + $2) WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id.String(), delta)
	if err != nil {
		return errx.Wrap(err, "failed to apply bonus quota delta", errx.TypeInternal).WithDetail("user_id", id.String())
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id kernel.UserID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id.String())
	if err != nil {
		return errx.Wrap(err, "failed to delete user", errx.TypeInternal)
	}
	return nil
}
