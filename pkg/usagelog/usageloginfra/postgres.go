package usageloginfra

import (
	"context"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/credential"
	"github.com/Abraxas-365/manifesto/pkg/errx"
	"github.com/Abraxas-365/manifesto/pkg/kernel"
	"github.com/Abraxas-365/manifesto/pkg/usagelog"
	"github.com/jmoiron/sqlx"
)

// PostgresRepository is the Postgres-backed usagelog.Repository.
type PostgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) usagelog.Repository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Write(ctx context.Context, entry usagelog.UsageLog) error {
	query := `
		INSERT INTO usage_log (id, user_id, api_key_id, credential_id, model, endpoint, status_code, latency_ms, created_at)
		VALUES (:id, :user_id, :api_key_id, :credential_id, :model, :endpoint, :status_code, :latency_ms, :created_at)`

	_, err := r.db.NamedExecContext(ctx, query, entry)
	if err != nil {
		return errx.Wrap(err, "failed to write usage log", errx.TypeInternal).WithDetail("user_id", entry.UserID.String())
	}
	return nil
}

func (r *PostgresRepository) CountSince(ctx context.Context, userID kernel.UserID, since time.Time) (int, error) {
	var count int
	query := `
		SELECT COUNT(*) FROM usage_log
		WHERE user_id = $1 AND created_at >= $2 AND status_code >= 200 AND status_code < 300`
	err := r.db.GetContext(ctx, &count, query, userID.String(), since)
	if err != nil {
		return 0, errx.Wrap(err, "failed to count usage log entries", errx.TypeInternal)
	}
	return count, nil
}

func (r *PostgresRepository) CountSinceByGroup(ctx context.Context, userID kernel.UserID, since time.Time, group credential.ModelGroup) (int, error) {
	var count int
	query := `
		SELECT COUNT(*) FROM usage_log
		WHERE user_id = $1 AND created_at >= $2 AND status_code >= 200 AND status_code < 300
		AND ` + modelGroupPredicate(group)
	err := r.db.GetContext(ctx, &count, query, userID.String(), since)
	if err != nil {
		return 0, errx.Wrap(err, "failed to count usage log entries by model group", errx.TypeInternal)
	}
	return count, nil
}

// modelGroupPredicate mirrors credential.ModelGroupFor's classification as a
// SQL filter, matching the reference implementation's model-name LIKE
// matching (`model LIKE '%pro%'` / `NOTLIKE '%pro%'` / Gemini-3 tier match)
// one group at a time rather than a single shared total.
func modelGroupPredicate(group credential.ModelGroup) string {
	switch group {
	case credential.Group30:
		return "model LIKE '%gemini-3-%'"
	case credential.GroupPro:
		return "model LIKE '%pro%' AND model NOT LIKE '%gemini-3-%'"
	default:
		return "model NOT LIKE '%pro%' AND model NOT LIKE '%gemini-3-%'"
	}
}
