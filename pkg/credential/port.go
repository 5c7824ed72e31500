package credential

import (
	"context"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/kernel"
)

// SelectionParams is the filter set a pool selection query must satisfy,
// per spec.md §4.4. Cooldown is the configured cooldown (cd_flash, cd_pro
// or cd_30) of the request's Group, so the repository can apply the
// cooldown filter in SQL rather than pulling every candidate into the process.
type SelectionParams struct {
	RequestingUser      kernel.UserID
	RequiredTier        Tier
	Group               ModelGroup
	Cooldown            time.Duration
	ExcludedIDs         []kernel.CredentialID
	SharingMode         SharingMode
	OwnsOwnActiveTier3  bool
	OwnsAnyActivePublic bool
}

// Repository persists Credential aggregates and implements the locked
// selection transaction described in spec.md §5.
type Repository interface {
	Create(ctx context.Context, c Credential) error
	FindByID(ctx context.Context, id kernel.CredentialID) (*Credential, error)
	FindByEmail(ctx context.Context, email string) (*Credential, error)
	FindByRefreshTokenHash(ctx context.Context, hash string) (*Credential, error)
	Update(ctx context.Context, c Credential) error
	Delete(ctx context.Context, id kernel.CredentialID) error
	DeleteBatch(ctx context.Context, ids []kernel.CredentialID) error
	ListByOwner(ctx context.Context, ownerID kernel.UserID) ([]*Credential, error)
	List(ctx context.Context, offset, limit int) ([]*Credential, int, error)

	// Select runs the candidate query plus SELECT ... FOR UPDATE SKIP
	// LOCKED lock and the last_used_*/total_requests bookkeeping UPDATE in
	// a single transaction, returning the credential chosen or nil if the
	// policy yields no candidate.
	Select(ctx context.Context, params SelectionParams) (*Credential, error)

	// RecordFailure increments failed_requests/last_error and, when
	// errText indicates an auth failure, disables the credential and
	// (transactionally) claws back the owner's donation bonus by delta.
	// delta is 0 when no clawback applies.
	RecordFailure(ctx context.Context, id kernel.CredentialID, errText string, clawbackDelta int) error

	CountActiveByOwner(ctx context.Context, ownerID kernel.UserID) (int, error)
	CountActiveTier3ByOwner(ctx context.Context, ownerID kernel.UserID) (int, error)
	CountActivePublicByOwner(ctx context.Context, ownerID kernel.UserID) (int, error)

	Stats(ctx context.Context) (Stats, error)
}

// Stats backs the C9 admin stats endpoint.
type Stats struct {
	Total          int `json:"total"`
	Active         int `json:"active"`
	Public         int `json:"public"`
	Tier3          int `json:"tier3"`
	TotalRequests  int64 `json:"total_requests"`
	FailedRequests int64 `json:"failed_requests"`
}
