// Package credential implements the Credential entity and its pure domain
// logic (spec.md §3, §4.4): tier matching, model-group cooldown, sharing
// mode eligibility, and failure/donation accounting. The pool selection
// query itself lives in credentialinfra; this package holds what can be
// tested without a database.
package credential

import (
	"net/http"
	"strings"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/errx"
	"github.com/Abraxas-365/manifesto/pkg/kernel"
)

// Tier is the Gemini capability tier a credential is authorized for.
type Tier string

const (
	Tier25 Tier = "2.5"
	Tier3  Tier = "3"
)

// AccountType is the Google account class detected at verification time.
type AccountType string

const (
	AccountPro     AccountType = "pro"
	AccountFree    AccountType = "free"
	AccountUnknown AccountType = "unknown"
)

// CredentialType distinguishes a raw API key credential from a pooled
// OAuth refresh-token credential.
type CredentialType string

const (
	TypeAPIKey CredentialType = "api_key"
	TypeOAuth  CredentialType = "oauth"
)

// ModelGroup scopes per-credential cooldown (spec.md §4.4).
type ModelGroup string

const (
	GroupFlash ModelGroup = "flash"
	GroupPro   ModelGroup = "pro"
	Group30    ModelGroup = "30"
)

// RequiredTier derives the tier a model id requires: gemini-3-* needs
// Tier3, everything else is satisfiable by a Tier25 (or better) credential.
func RequiredTier(model string) Tier {
	if strings.Contains(model, "gemini-3-") {
		return Tier3
	}
	return Tier25
}

// ModelGroupFor classifies a model id into its cooldown group.
func ModelGroupFor(model string) ModelGroup {
	if strings.Contains(model, "gemini-3-") {
		return Group30
	}
	if strings.Contains(model, "pro") {
		return GroupPro
	}
	return GroupFlash
}

// SharingMode controls which public credentials a user may draw from.
// Mirrors sysconfig.SharingMode; duplicated here so pkg/credential has no
// import-cycle dependency on pkg/sysconfig for its pure domain logic.
type SharingMode string

const (
	SharingPrivate     SharingMode = "private"
	SharingTier3Shared SharingMode = "tier3_shared"
	SharingFullShared  SharingMode = "full_shared"
)

// Credential mirrors spec.md §3's Credential entity. Token material is
// stored only as ciphertext; pkg/cryptox performs encrypt/decrypt at the
// infra boundary, never here.
type Credential struct {
	ID                  kernel.CredentialID `db:"id" json:"id"`
	OwnerUserID         *kernel.UserID      `db:"owner_user_id" json:"owner_user_id,omitempty"`
	DisplayName         string              `db:"display_name" json:"display_name"`
	AccessTokenCT       string              `db:"access_token_ct" json:"-"`
	RefreshTokenCT      string              `db:"refresh_token_ct" json:"-"`
	RefreshTokenHash    string              `db:"refresh_token_hash" json:"-"`
	OAuthClientIDCT     *string             `db:"oauth_client_id_ct" json:"-"`
	OAuthClientSecretCT *string             `db:"oauth_client_secret_ct" json:"-"`
	ProjectID           string              `db:"project_id" json:"project_id"`
	CredentialType      CredentialType      `db:"credential_type" json:"credential_type"`
	ModelTier           Tier                `db:"model_tier" json:"model_tier"`
	AccountType         AccountType         `db:"account_type" json:"account_type"`
	Email               string              `db:"email" json:"email"`
	IsPublic            bool                `db:"is_public" json:"is_public"`
	IsActive            bool                `db:"is_active" json:"is_active"`
	TotalRequests       int64               `db:"total_requests" json:"total_requests"`
	FailedRequests      int64               `db:"failed_requests" json:"failed_requests"`
	LastError           string              `db:"last_error" json:"last_error,omitempty"`
	LastUsedAt          *time.Time          `db:"last_used_at" json:"last_used_at,omitempty"`
	LastUsedFlash       *time.Time          `db:"last_used_flash" json:"last_used_flash,omitempty"`
	LastUsedPro         *time.Time          `db:"last_used_pro" json:"last_used_pro,omitempty"`
	LastUsed30          *time.Time          `db:"last_used_30" json:"last_used_30,omitempty"`
	CreatedAt           time.Time           `db:"created_at" json:"created_at"`
}

// IsSelectable reports the validity filter from spec.md §4.4, independent
// of tier/sharing/cooldown, which the pool query layers on top.
func (c *Credential) IsSelectable() bool {
	return c.IsActive && c.ProjectID != ""
}

// SatisfiesTier reports whether this credential can serve a request that
// requires the given tier (upward tier is permitted: a "3" credential
// serves a "2.5" request, never the reverse).
func (c *Credential) SatisfiesTier(required Tier) bool {
	if required == Tier25 {
		return true
	}
	return c.ModelTier == Tier3
}

// LastUsedFor returns the cooldown timestamp for a model group.
func (c *Credential) LastUsedFor(group ModelGroup) *time.Time {
	switch group {
	case GroupPro:
		return c.LastUsedPro
	case Group30:
		return c.LastUsed30
	default:
		return c.LastUsedFlash
	}
}

// InCooldown reports whether this credential is presently cooling down for
// the given model group, given the configured cooldown duration.
func (c *Credential) InCooldown(group ModelGroup, now time.Time, cooldown time.Duration) bool {
	last := c.LastUsedFor(group)
	if last == nil {
		return false
	}
	return now.Sub(*last) < cooldown
}

// MarkSelected records selection-time bookkeeping: the per-group cooldown
// timestamp is written on selection, not completion (spec.md §5), so
// in-flight requests count against the cooldown.
func (c *Credential) MarkSelected(group ModelGroup, now time.Time) {
	c.LastUsedAt = &now
	switch group {
	case GroupPro:
		c.LastUsedPro = &now
	case Group30:
		c.LastUsed30 = &now
	default:
		c.LastUsedFlash = &now
	}
	c.TotalRequests++
}

// authFailurePatterns are error substrings that mark a credential as
// permanently revoked rather than merely transiently failed.
var authFailurePatterns = []string{"401", "403", "PERMISSION_DENIED"}

// IsAuthFailure reports whether errText indicates a permanent auth
// revocation per spec.md §4.4's record_failure rule.
func IsAuthFailure(errText string) bool {
	for _, pattern := range authFailurePatterns {
		if strings.Contains(errText, pattern) {
			return true
		}
	}
	return false
}

// RecordFailure applies the always-on bookkeeping from spec.md §4.4 and
// disables the credential on an auth failure; the donation clawback is
// orchestrated one level up (credentialsrv.Pool), since it touches the
// owning User.
func (c *Credential) RecordFailure(errText string) {
	c.FailedRequests++
	c.LastError = errText
	if IsAuthFailure(errText) {
		c.IsActive = false
	}
}

// EligibleForSharing applies spec.md §4.4's sharing-mode table for a
// credential not owned by the requesting user. ownsOwnActiveTier3 and
// ownsAnyActivePublic are the user's own credential posture, evaluated by
// the caller against the full candidate set.
func (c *Credential) EligibleForSharing(mode SharingMode, required Tier, ownsOwnActiveTier3, ownsAnyActivePublic bool) bool {
	if !c.IsPublic {
		return false
	}
	switch mode {
	case SharingPrivate:
		return false
	case SharingTier3Shared:
		if required == Tier3 || c.ModelTier == Tier3 {
			return ownsOwnActiveTier3
		}
		return true
	case SharingFullShared:
		return ownsAnyActivePublic
	default:
		return false
	}
}

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("CREDENTIAL")

var (
	CodeNotFound        = ErrRegistry.Register("NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "credential not found")
	CodeDuplicate       = ErrRegistry.Register("DUPLICATE", errx.TypeConflict, http.StatusConflict, "a credential with this email or refresh token already exists")
	CodeNoneAvailable   = ErrRegistry.Register("NONE_AVAILABLE", errx.TypeBusiness, http.StatusServiceUnavailable, "no credential available for this request")
	CodeInvalidUpload   = ErrRegistry.Register("INVALID_UPLOAD", errx.TypeValidation, http.StatusBadRequest, "credential upload is missing required fields")
	CodeVerifyFailed    = ErrRegistry.Register("VERIFY_FAILED", errx.TypeBusiness, http.StatusBadGateway, "credential verification failed")
	CodeDonateLocked    = ErrRegistry.Register("DONATE_LOCKED", errx.TypeBusiness, http.StatusForbidden, "active public credentials cannot be un-donated while lock_donate is set")
)

func ErrNotFound() *errx.Error      { return ErrRegistry.New(CodeNotFound) }
func ErrDuplicate() *errx.Error     { return ErrRegistry.New(CodeDuplicate) }
func ErrNoneAvailable(reason string) *errx.Error {
	return ErrRegistry.New(CodeNoneAvailable).WithDetail("reason", reason)
}
func ErrInvalidUpload(reason string) *errx.Error {
	return ErrRegistry.New(CodeInvalidUpload).WithDetail("reason", reason)
}
func ErrVerifyFailed(reason string) *errx.Error {
	return ErrRegistry.New(CodeVerifyFailed).WithDetail("reason", reason)
}
func ErrDonateLocked() *errx.Error { return ErrRegistry.New(CodeDonateLocked) }
