package credentialinfra

import (
	"context"
	"database/sql"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/credential"
	"github.com/Abraxas-365/manifesto/pkg/errx"
	"github.com/Abraxas-365/manifesto/pkg/kernel"
	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const credentialsTable = "credentials"

// PostgresRepository is the Postgres-backed credential.Repository. The
// selection query's predicate set genuinely varies per call (sharing
// mode, tier gate, excluded-id list), so it is built with goqu rather
// than hand-concatenated SQL; the locked selection + bookkeeping update
// runs inside one transaction per spec.md §5.
type PostgresRepository struct {
	db   *sqlx.DB
	goqu goqu.DialectWrapper
}

func NewPostgresRepository(db *sqlx.DB) credential.Repository {
	return &PostgresRepository{db: db, goqu: goqu.Dialect("postgres")}
}

func (r *PostgresRepository) Create(ctx context.Context, c credential.Credential) error {
	query := `
		INSERT INTO credentials (
			id, owner_user_id, display_name, access_token_ct, refresh_token_ct, refresh_token_hash,
			oauth_client_id_ct, oauth_client_secret_ct, project_id, credential_type, model_tier,
			account_type, email, is_public, is_active, total_requests, failed_requests, last_error,
			last_used_at, last_used_flash, last_used_pro, last_used_30, created_at
		) VALUES (
			:id, :owner_user_id, :display_name, :access_token_ct, :refresh_token_ct, :refresh_token_hash,
			:oauth_client_id_ct, :oauth_client_secret_ct, :project_id, :credential_type, :model_tier,
			:account_type, :email, :is_public, :is_active, :total_requests, :failed_requests, :last_error,
			:last_used_at, :last_used_flash, :last_used_pro, :last_used_30, :created_at
		)`

	_, err := r.db.NamedExecContext(ctx, query, c)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return credential.ErrDuplicate()
		}
		return errx.Wrap(err, "failed to create credential", errx.TypeInternal)
	}
	return nil
}

func (r *PostgresRepository) FindByID(ctx context.Context, id kernel.CredentialID) (*credential.Credential, error) {
	var c credential.Credential
	err := r.db.GetContext(ctx, &c, `SELECT * FROM credentials WHERE id = $1`, id.String())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, credential.ErrNotFound()
		}
		return nil, errx.Wrap(err, "failed to find credential by id", errx.TypeInternal)
	}
	return &c, nil
}

func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (*credential.Credential, error) {
	var c credential.Credential
	err := r.db.GetContext(ctx, &c, `SELECT * FROM credentials WHERE email = $1`, email)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, credential.ErrNotFound()
		}
		return nil, errx.Wrap(err, "failed to find credential by email", errx.TypeInternal)
	}
	return &c, nil
}

func (r *PostgresRepository) FindByRefreshTokenHash(ctx context.Context, hash string) (*credential.Credential, error) {
	var c credential.Credential
	err := r.db.GetContext(ctx, &c, `SELECT * FROM credentials WHERE refresh_token_hash = $1`, hash)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, credential.ErrNotFound()
		}
		return nil, errx.Wrap(err, "failed to find credential by refresh token hash", errx.TypeInternal)
	}
	return &c, nil
}

func (r *PostgresRepository) Update(ctx context.Context, c credential.Credential) error {
	query := `
		UPDATE credentials SET
			display_name = :display_name,
			access_token_ct = :access_token_ct,
			project_id = :project_id,
			model_tier = :model_tier,
			account_type = :account_type,
			is_public = :is_public,
			is_active = :is_active,
			total_requests = :total_requests,
			failed_requests = :failed_requests,
			last_error = :last_error,
			last_used_at = :last_used_at,
			last_used_flash = :last_used_flash,
			last_used_pro = :last_used_pro,
			last_used_30 = :last_used_30
		WHERE id = :id`

	result, err := r.db.NamedExecContext(ctx, query, c)
	if err != nil {
		return errx.Wrap(err, "failed to update credential", errx.TypeInternal)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errx.Wrap(err, "failed to read rows affected", errx.TypeInternal)
	}
	if rows == 0 {
		return credential.ErrNotFound()
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id kernel.CredentialID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = $1`, id.String())
	if err != nil {
		return errx.Wrap(err, "failed to delete credential", errx.TypeInternal)
	}
	return nil
}

func (r *PostgresRepository) DeleteBatch(ctx context.Context, ids []kernel.CredentialID) error {
	if len(ids) == 0 {
		return nil
	}
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = id.String()
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = ANY($1)`, pq.Array(strIDs))
	if err != nil {
		return errx.Wrap(err, "failed to batch delete credentials", errx.TypeInternal)
	}
	return nil
}

func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID kernel.UserID) ([]*credential.Credential, error) {
	var creds []*credential.Credential
	err := r.db.SelectContext(ctx, &creds, `SELECT * FROM credentials WHERE owner_user_id = $1 ORDER BY created_at DESC`, ownerID.String())
	if err != nil {
		return nil, errx.Wrap(err, "failed to list credentials by owner", errx.TypeInternal)
	}
	return creds, nil
}

func (r *PostgresRepository) List(ctx context.Context, offset, limit int) ([]*credential.Credential, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM credentials`); err != nil {
		return nil, 0, errx.Wrap(err, "failed to count credentials", errx.TypeInternal)
	}

	var creds []*credential.Credential
	err := r.db.SelectContext(ctx, &creds, `SELECT * FROM credentials ORDER BY created_at DESC OFFSET $1 LIMIT $2`, offset, limit)
	if err != nil {
		return nil, 0, errx.Wrap(err, "failed to list credentials", errx.TypeInternal)
	}
	return creds, total, nil
}

// Select runs the dynamic candidate query (validity + tier + sharing-mode
// filter) under SELECT ... FOR UPDATE SKIP LOCKED, then performs the
// last_used_*/total_requests bookkeeping UPDATE, all in one transaction
// (spec.md §5). If the cooldown-filtered set is empty it falls back to
// the least-recently-used candidate from the full (non-cooldown-filtered)
// set, per spec.md §4.4's graceful-degradation rule.
func (r *PostgresRepository) Select(ctx context.Context, params credential.SelectionParams) (*credential.Credential, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errx.Wrap(err, "failed to begin selection transaction", errx.TypeInternal)
	}
	defer tx.Rollback()

	cred, cooledDown, err := r.selectCandidate(ctx, tx, params, true)
	if err != nil {
		return nil, err
	}
	if cred == nil && cooledDown {
		cred, _, err = r.selectCandidate(ctx, tx, params, false)
		if err != nil {
			return nil, err
		}
	}
	if cred == nil {
		return nil, nil
	}

	now := time.Now().UTC()
	cred.MarkSelected(params.Group, now)

	updateQuery := `
		UPDATE credentials SET
			last_used_at = :last_used_at,
			last_used_flash = :last_used_flash,
			last_used_pro = :last_used_pro,
			last_used_30 = :last_used_30,
			total_requests = :total_requests
		WHERE id = :id`
	if _, err := tx.NamedExecContext(ctx, updateQuery, cred); err != nil {
		return nil, errx.Wrap(err, "failed to write selection bookkeeping", errx.TypeInternal)
	}

	if err := tx.Commit(); err != nil {
		return nil, errx.Wrap(err, "failed to commit selection transaction", errx.TypeInternal)
	}
	return cred, nil
}

// selectCandidate builds and runs the goqu selection query. When
// applyCooldown is true, the per-group cooldown filter is included and the
// second return value reports whether that filter is the reason a
// zero-row result should retry without it.
func (r *PostgresRepository) selectCandidate(ctx context.Context, tx *sqlx.Tx, params credential.SelectionParams, applyCooldown bool) (*credential.Credential, bool, error) {
	ds := r.goqu.From(credentialsTable).
		Select("*").
		Where(
			goqu.C("is_active").IsTrue(),
			goqu.C("project_id").Neq(""),
		)

	if params.RequiredTier == credential.Tier3 {
		ds = ds.Where(goqu.C("model_tier").Eq(string(credential.Tier3)))
	}

	ownClause := goqu.C("owner_user_id").Eq(params.RequestingUser.String())
	switch params.SharingMode {
	case credential.SharingPrivate:
		ds = ds.Where(ownClause)
	case credential.SharingTier3Shared:
		publicClause := goqu.C("is_public").IsTrue()
		if params.RequiredTier == credential.Tier3 {
			if !params.OwnsOwnActiveTier3 {
				ds = ds.Where(ownClause)
			} else {
				ds = ds.Where(goqu.Or(ownClause, publicClause))
			}
		} else {
			// tier-2.5 public credentials are always usable; tier-3
			// public credentials still require owning an active tier-3.
			tier25Public := goqu.And(publicClause, goqu.C("model_tier").Eq(string(credential.Tier25)))
			if params.OwnsOwnActiveTier3 {
				ds = ds.Where(goqu.Or(ownClause, publicClause))
			} else {
				ds = ds.Where(goqu.Or(ownClause, tier25Public))
			}
		}
	case credential.SharingFullShared:
		if params.OwnsAnyActivePublic {
			ds = ds.Where(goqu.Or(ownClause, goqu.C("is_public").IsTrue()))
		} else {
			ds = ds.Where(ownClause)
		}
	default:
		ds = ds.Where(ownClause)
	}

	if len(params.ExcludedIDs) > 0 {
		excluded := make([]string, len(params.ExcludedIDs))
		for i, id := range params.ExcludedIDs {
			excluded[i] = id.String()
		}
		ds = ds.Where(goqu.C("id").NotIn(excluded))
	}

	cooldownColumn := cooldownColumnFor(params.Group)
	if applyCooldown && params.Cooldown > 0 {
		cutoff := time.Now().UTC().Add(-params.Cooldown)
		ds = ds.Where(goqu.Or(
			goqu.C(cooldownColumn).IsNull(),
			goqu.C(cooldownColumn).Lt(cutoff),
		))
	}

	ds = ds.Order(goqu.C("last_used_at").Asc().NullsFirst(), goqu.C("id").Asc()).Limit(1)

	query, _, err := ds.ToSQL()
	if err != nil {
		return nil, false, errx.Wrap(err, "failed to build selection query", errx.TypeInternal)
	}
	query += " FOR UPDATE SKIP LOCKED"

	var cred credential.Credential
	err = tx.GetContext(ctx, &cred, query)
	if err == sql.ErrNoRows {
		return nil, applyCooldown, nil
	}
	if err != nil {
		return nil, false, errx.Wrap(err, "failed to run selection query", errx.TypeInternal)
	}
	return &cred, false, nil
}

func cooldownColumnFor(group credential.ModelGroup) string {
	switch group {
	case credential.GroupPro:
		return "last_used_pro"
	case credential.Group30:
		return "last_used_30"
	default:
		return "last_used_flash"
	}
}

// RecordFailure increments failed_requests/last_error and, on an auth
// failure, disables the credential and claws back the owner's
// bonus_quota by clawbackDelta, all in one transaction (spec.md §4.4).
func (r *PostgresRepository) RecordFailure(ctx context.Context, id kernel.CredentialID, errText string, clawbackDelta int) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errx.Wrap(err, "failed to begin failure transaction", errx.TypeInternal)
	}
	defer tx.Rollback()

	isAuthFailure := credential.IsAuthFailure(errText)

	updateQuery := `
		UPDATE credentials SET
			failed_requests = failed_requests + 1,
			last_error = $2,
			is_active = is_active AND NOT $3
		WHERE id = $1`
	if _, err := tx.ExecContext(ctx, updateQuery, id.String(), errText, isAuthFailure); err != nil {
		return errx.Wrap(err, "failed to record credential failure", errx.TypeInternal)
	}

	if isAuthFailure && clawbackDelta != 0 {
		var ownerID sql.NullString
		if err := tx.GetContext(ctx, &ownerID, `SELECT owner_user_id FROM credentials WHERE id = $1`, id.String()); err != nil {
			return errx.Wrap(err, "failed to read credential owner for clawback", errx.TypeInternal)
		}
		if ownerID.Valid {
			clawback := `UPDATE users SET bonus_quota = GREATEST(0, bonus_quota - $2) WHERE id = $1`
			if _, err := tx.ExecContext(ctx, clawback, ownerID.String, clawbackDelta); err != nil {
				return errx.Wrap(err, "failed to claw back donation bonus", errx.TypeInternal)
			}
		}
	}

	return tx.Commit()
}

func (r *PostgresRepository) CountActiveByOwner(ctx context.Context, ownerID kernel.UserID) (int, error) {
	return r.countByOwner(ctx, ownerID, `is_active = true`)
}

func (r *PostgresRepository) CountActiveTier3ByOwner(ctx context.Context, ownerID kernel.UserID) (int, error) {
	return r.countByOwner(ctx, ownerID, `is_active = true AND model_tier = '3'`)
}

func (r *PostgresRepository) CountActivePublicByOwner(ctx context.Context, ownerID kernel.UserID) (int, error) {
	return r.countByOwner(ctx, ownerID, `is_active = true AND is_public = true`)
}

func (r *PostgresRepository) countByOwner(ctx context.Context, ownerID kernel.UserID, predicate string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM credentials WHERE owner_user_id = $1 AND ` + predicate
	if err := r.db.GetContext(ctx, &count, query, ownerID.String()); err != nil {
		return 0, errx.Wrap(err, "failed to count credentials by owner", errx.TypeInternal)
	}
	return count, nil
}

func (r *PostgresRepository) Stats(ctx context.Context) (credential.Stats, error) {
	var stats credential.Stats
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE is_active) AS active,
			COUNT(*) FILTER (WHERE is_public) AS public,
			COUNT(*) FILTER (WHERE model_tier = '3') AS tier3,
			COALESCE(SUM(total_requests), 0) AS total_requests,
			COALESCE(SUM(failed_requests), 0) AS failed_requests
		FROM credentials`
	row := r.db.QueryRowxContext(ctx, query)
	if err := row.Scan(&stats.Total, &stats.Active, &stats.Public, &stats.Tier3, &stats.TotalRequests, &stats.FailedRequests); err != nil {
		return credential.Stats{}, errx.Wrap(err, "failed to compute credential stats", errx.TypeInternal)
	}
	return stats, nil
}
